package signal

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/magtest/internal/model"
)

func sample(pos, amp float64) model.SignalSample {
	return model.SignalSample{Timestamp: 1_700_000_000_000, Amplitude: amp, Position: pos, Frequency: 100}
}

func TestGeneratorBasic(t *testing.T) {
	t.Parallel()

	g := NewGenerator(100, 1.0, 0)
	s := g.GenerateSignal(0)
	assert.InDelta(t, 0, s.Amplitude, 1e-9)
	assert.InDelta(t, 0, s.Phase, 1e-9)
	assert.InDelta(t, 100, s.Frequency, 0)
}

func TestGeneratorDefectInjection(t *testing.T) {
	t.Parallel()

	g := NewGenerator(100, 1.0, 0)
	base := g.GenerateSignal(0.5).Amplitude

	g.SetDefects([]DefectConfig{{Position: 0.5, Amplitude: 2.0, Width: 0.01}})
	got := g.GenerateSignal(0.5).Amplitude
	assert.GreaterOrEqual(t, got, base+1.9)
	assert.LessOrEqual(t, got, base+2.0+1e-9)
}

func TestGeneratorZeroWidthFallsBack(t *testing.T) {
	t.Parallel()

	g := NewGenerator(100, 0, 0)
	g.SetDefects([]DefectConfig{{Position: 1, Amplitude: 1, Width: 0}})
	// one sigma away from the peak with sigma = 0.01
	assert.InDelta(t, math.Exp(-0.5), g.GenerateSignal(1.01).Amplitude, 1e-9)
}

func TestGeneratorNoiseBounds(t *testing.T) {
	t.Parallel()

	g := NewGenerator(100, 0, 0.4, WithRand(rand.NewPCG(1, 2)))
	for _, s := range g.GenerateBatch(0, 500, 0.01) {
		assert.LessOrEqual(t, math.Abs(s.Amplitude), 0.2)
	}
}

func TestGeneratorBatchPositionsAndTimestamp(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_123)
	g := NewGenerator(100, 1, 0, WithNow(func() time.Time { return now }))
	batch := g.GenerateBatch(1.0, 3, 0.01)
	require.Len(t, batch, 3)
	assert.InDelta(t, 1.02, batch[2].Position, 1e-12)
	assert.Equal(t, now.UnixMilli(), batch[0].Timestamp)
	assert.Nil(t, g.GenerateBatch(0, 0, 0.01))
}

func TestGeneratorUpdateParameters(t *testing.T) {
	t.Parallel()

	g := NewGenerator(100, 1, 0)
	g.UpdateParameters(GeneratorUpdate{Amplitude: model.Ptr(0.0), Frequency: model.Ptr(50.0)})
	s := g.GenerateSignal(0.123)
	assert.InDelta(t, 0, s.Amplitude, 1e-12)
	assert.InDelta(t, 50, s.Frequency, 0)
}

func TestGainLinearity(t *testing.T) {
	t.Parallel()

	for _, db := range []float64{0, 6, 20, 40, 100} {
		p := NewProcessor()
		p.Configure(db, model.FilterNone)
		for _, amp := range []float64{-1.5, 0, 0.3, 2} {
			got := p.ProcessSignal(sample(0, amp))
			assert.InDelta(t, amp*math.Pow(10, db/20), got.Amplitude, 1e-9)
			assert.InDelta(t, Phase(got.Amplitude), got.Phase, 1e-12)
		}
	}
}

func TestFilterBufferBound(t *testing.T) {
	t.Parallel()

	for _, f := range []model.FilterType{model.FilterLowpass, model.FilterHighpass, model.FilterBandpass} {
		p := NewProcessor()
		p.SetFilter(f)
		for i := range 25 {
			p.ProcessSignal(sample(float64(i), float64(i)))
			assert.LessOrEqual(t, p.BufferLen(), FilterBufferSize)
		}
		assert.Equal(t, FilterBufferSize, p.BufferLen())
	}

	p := NewProcessor()
	for range 5 {
		p.ProcessSignal(sample(0, 1))
	}
	assert.Zero(t, p.BufferLen(), "no filter keeps no history")
}

func TestLowpassConvergesOnConstant(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetFilter(model.FilterLowpass)
	p.ProcessBatch([]model.SignalSample{sample(0, 10), sample(0, -4)})

	var last model.SignalSample
	for range FilterBufferSize {
		last = p.ProcessSignal(sample(0, 0.7))
	}
	assert.InDelta(t, 0.7, last.Amplitude, 1e-12)
}

func TestHighpassFirstSamplePassesThrough(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetFilter(model.FilterHighpass)
	assert.InDelta(t, 3.0, p.ProcessSignal(sample(0, 3)).Amplitude, 0)
	// buffer [3, 5], mean 4
	assert.InDelta(t, 1.0, p.ProcessSignal(sample(0, 5)).Amplitude, 1e-12)
}

func TestBandpassAveragesLowAndHigh(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetFilter(model.FilterBandpass)
	// first: lowpass 2, highpass passthrough 2
	assert.InDelta(t, 2.0, p.ProcessSignal(sample(0, 2)).Amplitude, 1e-12)
	// buffer [2, 4]: lowpass 3, highpass 1
	assert.InDelta(t, 2.0, p.ProcessSignal(sample(0, 4)).Amplitude, 1e-12)
}

func TestSetFilterResetsBuffer(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetFilter(model.FilterLowpass)
	p.ProcessBatch([]model.SignalSample{sample(0, 1), sample(0, 2)})
	require.Equal(t, 2, p.BufferLen())

	p.SetFilter(model.FilterHighpass)
	assert.Zero(t, p.BufferLen())
}

func TestPipelineRearms(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetFilter(model.FilterLowpass)
	p.ProcessSignal(sample(0, 100))

	out := p.CreatePipeline(20, model.FilterNone)([]model.SignalSample{sample(0, 1), sample(1, 2)})
	assert.InDelta(t, 10.0, out[0].Amplitude, 1e-9)
	assert.InDelta(t, 20.0, out[1].Amplitude, 1e-9)
	assert.InDelta(t, 20.0, p.GainDB(), 0)
	assert.Equal(t, model.FilterNone, p.Filter())
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	p.SetGain(20)
	in := []model.SignalSample{sample(0, 1)}
	_ = p.ProcessBatch(in)
	assert.InDelta(t, 1.0, in[0].Amplitude, 0)
}

func gates() (model.GateConfig, model.GateConfig) {
	a := model.GateConfig{Enabled: true, Start: 0, Width: 1, Height: 5, AlarmThreshold: 1.5}
	b := model.GateConfig{Enabled: true, Start: 1, Width: 1, Height: 5, AlarmThreshold: 2.0}
	return a, b
}

func TestDetectGateResolution(t *testing.T) {
	t.Parallel()

	a, b := gates()
	samples := []model.SignalSample{
		sample(0.5, 1.6),  // A only, above 1.5
		sample(1.5, 1.6),  // B only, below 2.0
		sample(1.0, -1.6), // both, min threshold 1.5
		sample(3.0, 4.0),  // outside both
		sample(0.5, 6.0),  // above gate height
	}
	defects := DetectDefects(samples, 1.0, a, b)
	require.Len(t, defects, 2)

	assert.Equal(t, model.GateA, defects[0].GateTriggered)
	assert.Equal(t, model.GateBoth, defects[1].GateTriggered)
	assert.InDelta(t, 1.6, defects[1].Amplitude, 1e-12)
	assert.NotEqual(t, defects[0].ID, defects[1].ID)
	assert.Equal(t, time.UnixMilli(samples[0].Timestamp), defects[0].Timestamp)
}

func TestDetectNegativeWidthMatchesNothing(t *testing.T) {
	t.Parallel()

	a, b := gates()
	a.Width = -1
	b.Enabled = false
	assert.Empty(t, DetectDefects([]model.SignalSample{sample(0, 4)}, 1, a, b))
}

func TestDetectUsesGateThresholdOnly(t *testing.T) {
	t.Parallel()

	zero := model.GateConfig{Enabled: true, Start: 0, Width: 1, Height: 5, AlarmThreshold: 0}
	defects := DetectDefects([]model.SignalSample{sample(0.5, 0.5)}, 1.0, zero, model.GateConfig{})
	require.Len(t, defects, 1)
	assert.Equal(t, model.GateA, defects[0].GateTriggered)
	assert.Equal(t, model.SeverityCritical, defects[0].Severity)

	// a gate threshold above the session threshold still decides
	high := model.GateConfig{Enabled: true, Start: 0, Width: 1, Height: 5, AlarmThreshold: 3}
	assert.Empty(t, DetectDefects([]model.SignalSample{sample(0.5, 2)}, 1.0, high, model.GateConfig{}))

	// inside both gates the lower alarm threshold applies, even when it is 0
	a, b := gates()
	b.Start, b.AlarmThreshold = 0, 0
	defects = DetectDefects([]model.SignalSample{sample(0.5, 0.2)}, 1.0, a, b)
	require.Len(t, defects, 1)
	assert.Equal(t, model.GateBoth, defects[0].GateTriggered)
}

func TestSeverityClassification(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.SeverityLow, ClassifySeverity(1.1, 1))
	assert.Equal(t, model.SeverityMedium, ClassifySeverity(1.5, 1))
	assert.Equal(t, model.SeverityHigh, ClassifySeverity(2.0, 1))
	assert.Equal(t, model.SeverityCritical, ClassifySeverity(3.0, 1))
}

func TestSeverityMonotonic(t *testing.T) {
	t.Parallel()

	prev := 0
	for amp := 1.0; amp < 5; amp += 0.01 {
		rank := ClassifySeverity(amp, 1.0).Rank()
		assert.GreaterOrEqual(t, rank, prev)
		prev = rank
	}
}

func TestDedupeDefects(t *testing.T) {
	t.Parallel()

	existing := []model.Defect{{ID: "e", Position: 1.0}}
	candidates := []model.Defect{
		{ID: "a", Position: 1.05}, // near existing
		{ID: "b", Position: 1.3},
		{ID: "c", Position: 1.35}, // near b
		{ID: "d", Position: 1.5},
	}
	got := DedupeDefects(existing, candidates, DefaultMinSeparation)

	var ids []string
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"b", "d"}, ids)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize([]model.SignalSample{sample(2, 1), sample(1, -3), sample(3, 5)})
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1.0, s.Average, 1e-12)
	assert.InDelta(t, 5.0, s.Max, 0)
	assert.InDelta(t, -3.0, s.Min, 0)
	assert.InDelta(t, 1.0, s.PositionFrom, 0)
	assert.InDelta(t, 3.0, s.PositionTo, 0)
	assert.Equal(t, Summary{}, Summarize(nil))
}
