// Package signal generates synthetic magnetic-testing signals and implements
// the gain, filter and gate-based defect detection chain.
package signal

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/model"
)

const (
	DefaultFrequency  = 100.0
	DefaultAmplitude  = 1.0
	DefaultNoiseLevel = 0.1

	// defaultPulseWidth is used for defects configured with a non-positive width
	defaultPulseWidth = 0.01
)

// DefectConfig describes a Gaussian pulse injected into the synthetic signal
type DefectConfig struct {
	Position  float64 `json:"position"`
	Amplitude float64 `json:"amplitude"`
	Width     float64 `json:"width"` // sigma
}

// GeneratorUpdate changes generator parameters; nil fields are kept
type GeneratorUpdate struct {
	Frequency  *float64
	Amplitude  *float64
	NoiseLevel *float64
}

// Generator produces synthetic samples: a sine carrier, uniform noise and
// superimposed Gaussian defect pulses. It is safe for concurrent use.
type Generator struct {
	mu         sync.Mutex
	frequency  float64
	amplitude  float64
	noiseLevel float64
	defects    []DefectConfig
	rng        *rand.Rand
	now        func() time.Time
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithRand makes noise deterministic
func WithRand(src rand.Source) GeneratorOption {
	return func(g *Generator) {
		g.rng = rand.New(src)
	}
}

// WithNow sets the wall clock used for sample timestamps
func WithNow(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a generator
func NewGenerator(frequency, amplitude, noiseLevel float64, opts ...GeneratorOption) *Generator {
	g := &Generator{
		frequency:  frequency,
		amplitude:  amplitude,
		noiseLevel: noiseLevel,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetDefects replaces the injected defect pulses
func (g *Generator) SetDefects(defects []DefectConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defects = append([]DefectConfig(nil), defects...)
}

// UpdateParameters applies the non-nil fields of u
func (g *Generator) UpdateParameters(u GeneratorUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.Frequency != nil {
		g.frequency = *u.Frequency
	}
	if u.Amplitude != nil {
		g.amplitude = *u.Amplitude
	}
	if u.NoiseLevel != nil {
		g.noiseLevel = *u.NoiseLevel
	}
}

// GenerateSignal returns the sample at time position t
func (g *Generator) GenerateSignal(t float64) model.SignalSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	value := g.amplitude*math.Sin(2*math.Pi*g.frequency*t) + (g.random()-0.5)*g.noiseLevel
	for _, d := range g.defects {
		value += pulse(t, d)
	}

	return model.SignalSample{
		Timestamp: g.now().UnixMilli(),
		Amplitude: value,
		Phase:     Phase(value),
		Position:  t,
		Frequency: g.frequency,
	}
}

// GenerateBatch returns count samples starting at start, spaced by interval
func (g *Generator) GenerateBatch(start float64, count int, interval float64) []model.SignalSample {
	if count <= 0 {
		return nil
	}
	out := make([]model.SignalSample, count)
	for i := range count {
		out[i] = g.GenerateSignal(start + float64(i)*interval)
	}
	return out
}

// Next implements the acquisition source contract
func (g *Generator) Next(t float64) (model.SignalSample, error) {
	return g.GenerateSignal(t), nil
}

func (g *Generator) random() float64 {
	if g.noiseLevel == 0 {
		return 0.5
	}
	if g.rng != nil {
		return g.rng.Float64()
	}
	return rand.Float64() //nolint:gosec // simulation noise
}

func pulse(t float64, d DefectConfig) float64 {
	sigma := d.Width
	if sigma <= 0 {
		sigma = defaultPulseWidth
	}
	dist := t - d.Position
	return d.Amplitude * math.Exp(-(dist*dist)/(2*sigma*sigma))
}

// Phase is the simplified phase proxy atan2(amplitude, 1) in degrees. It is
// not a quadrature phase.
func Phase(amplitude float64) float64 {
	return math.Atan2(amplitude, 1.0) * 180 / math.Pi
}
