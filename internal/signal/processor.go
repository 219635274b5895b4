package signal

import (
	"math"
	"sync"

	"github.com/tphakala/magtest/internal/model"
)

// FilterBufferSize is the moving-average window length
const FilterBufferSize = 10

// Processor applies gain then a moving-average filter to samples and
// recomputes phase. Gain and filter are re-armed together under one lock, so
// a concurrent ProcessSignal never sees a half applied configuration.
type Processor struct {
	mu         sync.Mutex
	gainDB     float64
	linearGain float64
	filter     model.FilterType
	ring       [FilterBufferSize]float64
	count      int // valid entries in ring
	next       int // next write index
}

// NewProcessor creates a processor at 0 dB with no filter
func NewProcessor() *Processor {
	return &Processor{linearGain: 1.0, filter: model.FilterNone}
}

// SetGain sets gain in dB
func (p *Processor) SetGain(db float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setGainLocked(db)
}

// SetFilter selects the filter and clears the filter buffer
func (p *Processor) SetFilter(f model.FilterType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFilterLocked(f)
}

// Configure re-arms gain and filter in a single step
func (p *Processor) Configure(gainDB float64, f model.FilterType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setGainLocked(gainDB)
	p.setFilterLocked(f)
}

func (p *Processor) setGainLocked(db float64) {
	p.gainDB = db
	p.linearGain = LinearGain(db)
}

func (p *Processor) setFilterLocked(f model.FilterType) {
	p.filter = f
	p.resetLocked()
}

// GainDB returns the configured gain in dB
func (p *Processor) GainDB() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gainDB
}

// Filter returns the configured filter
func (p *Processor) Filter() model.FilterType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// BufferLen returns the number of values held by the filter buffer
func (p *Processor) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Reset clears the filter buffer
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Processor) resetLocked() {
	p.count = 0
	p.next = 0
}

// ProcessSignal returns a new sample with gain, filter and phase applied
func (p *Processor) ProcessSignal(s model.SignalSample) model.SignalSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processLocked(s)
}

// ProcessBatch processes samples in order, carrying filter state across them
func (p *Processor) ProcessBatch(samples []model.SignalSample) []model.SignalSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SignalSample, len(samples))
	for i := range samples {
		out[i] = p.processLocked(samples[i])
	}
	return out
}

// CreatePipeline returns a batch function that re-arms the processor with
// gainDB and filter before each batch.
func (p *Processor) CreatePipeline(gainDB float64, f model.FilterType) func([]model.SignalSample) []model.SignalSample {
	return func(samples []model.SignalSample) []model.SignalSample {
		p.Configure(gainDB, f)
		return p.ProcessBatch(samples)
	}
}

func (p *Processor) processLocked(s model.SignalSample) model.SignalSample {
	v := p.applyFilterLocked(s.Amplitude * p.linearGain)
	s.Amplitude = v
	s.Phase = Phase(v)
	return s
}

func (p *Processor) applyFilterLocked(v float64) float64 {
	if p.filter == model.FilterNone || !p.filter.Valid() {
		return v
	}

	p.ring[p.next] = v
	p.next = (p.next + 1) % FilterBufferSize
	if p.count < FilterBufferSize {
		p.count++
	}

	switch p.filter {
	case model.FilterLowpass:
		return p.meanLocked()
	case model.FilterHighpass:
		return p.highpassLocked(v)
	case model.FilterBandpass:
		return (p.meanLocked() + p.highpassLocked(v)) / 2
	}
	return v
}

func (p *Processor) meanLocked() float64 {
	var sum float64
	for i := range p.count {
		sum += p.ring[i]
	}
	return sum / float64(p.count)
}

func (p *Processor) highpassLocked(v float64) float64 {
	if p.count < 2 {
		return v
	}
	return v - p.meanLocked()
}

// LinearGain converts dB to a linear multiplier
func LinearGain(db float64) float64 {
	return math.Pow(10, db/20)
}
