package acquisition

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/signal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// flakySource fails while failing is set, otherwise echoes t as position
type flakySource struct {
	mu      sync.Mutex
	failing bool
	calls   int
}

func (s *flakySource) Next(t float64) (model.SignalSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return model.SignalSample{}, errors.NewStd("sensor timeout")
	}
	return model.SignalSample{Position: t, Amplitude: 1}, nil
}

func (s *flakySource) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func newTestLoop(t *testing.T, src Source, rate int) (*Loop, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(epoch)
	l, err := NewLoop(src, Config{SamplingRate: rate, StallTolerance: 3}, WithClock(vc))
	require.NoError(t, err)
	return l, vc
}

func TestLoopEmitsOneSamplePerTickInOrder(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)

	var got []float64
	l.OnData(func(s model.SignalSample) { got = append(got, s.Position) })

	l.Start()
	vc.Advance(100 * time.Millisecond)

	require.Len(t, got, 10)
	for i, pos := range got {
		assert.InDelta(t, float64(i)*0.01, pos, 1e-9)
	}
	st := l.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, uint64(10), st.SamplesEmitted)
	assert.InDelta(t, 0.1, st.CurrentTime, 1e-9)

	l.Stop()
	assert.Equal(t, StateIdle, l.State())
	assert.Zero(t, vc.Pending())
}

func TestLoopCallbacksInRegistrationOrder(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 10)

	var order []string
	l.OnData(func(model.SignalSample) { order = append(order, "first") })
	l.OnData(func(model.SignalSample) { order = append(order, "second") })

	l.Start()
	vc.Advance(100 * time.Millisecond)
	l.Stop()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestLoopStartWhileRunningIsNoop(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)
	l.Start()
	vc.Advance(50 * time.Millisecond)

	l.Start()
	assert.Equal(t, 1, vc.Pending())
	assert.InDelta(t, 0.05, l.Status().CurrentTime, 1e-9)
	l.Stop()
}

func TestLoopPauseResumeKeepsCursor(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)
	count := 0
	l.OnData(func(model.SignalSample) { count++ })

	l.Start()
	vc.Advance(30 * time.Millisecond)
	l.Pause()
	assert.Equal(t, StatePaused, l.State())

	vc.Advance(time.Second)
	assert.Equal(t, 3, count)

	l.Resume()
	vc.Advance(20 * time.Millisecond)
	assert.Equal(t, 5, count)
	assert.InDelta(t, 0.05, l.Status().CurrentTime, 1e-9)
	l.Stop()
}

func TestLoopUnsubscribe(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)
	count := 0
	unsubscribe := l.OnData(func(model.SignalSample) { count++ })

	l.Start()
	vc.Advance(20 * time.Millisecond)
	unsubscribe()
	vc.Advance(20 * time.Millisecond)
	l.Stop()

	assert.Equal(t, 2, count)
}

func TestLoopCallbackMayStop(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)
	count := 0
	l.OnData(func(model.SignalSample) {
		count++
		if count == 3 {
			l.Stop()
		}
	})

	l.Start()
	vc.Advance(time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, StateIdle, l.State())
}

func TestLoopUpdateConfigRestartsWithNewRate(t *testing.T) {
	t.Parallel()

	l, vc := newTestLoop(t, &flakySource{}, 100)
	count := 0
	l.OnData(func(model.SignalSample) { count++ })

	l.Start()
	vc.Advance(100 * time.Millisecond)
	require.NoError(t, l.UpdateConfig(Config{SamplingRate: 10}))
	assert.Equal(t, StateRunning, l.State())
	assert.Equal(t, 3, l.Config().StallTolerance)

	vc.Advance(time.Second)
	assert.Equal(t, 20, count)
	assert.InDelta(t, 1.1, l.Status().CurrentTime, 1e-9)
	l.Stop()

	err := l.UpdateConfig(Config{SamplingRate: 0})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLoopStallStopsAndNotifies(t *testing.T) {
	t.Parallel()

	src := &flakySource{}
	l, vc := newTestLoop(t, src, 100)

	var stallErrs []error
	l.OnError(func(err error) { stallErrs = append(stallErrs, err) })
	count := 0
	l.OnData(func(model.SignalSample) { count++ })

	l.Start()
	vc.Advance(20 * time.Millisecond)
	src.setFailing(true)
	vc.Advance(20 * time.Millisecond)
	// two failures are tolerated and do not advance the cursor
	assert.Equal(t, StateRunning, l.State())
	assert.InDelta(t, 0.02, l.Status().CurrentTime, 1e-9)

	vc.Advance(time.Second)
	assert.Equal(t, StateIdle, l.State())
	require.Len(t, stallErrs, 1)
	assert.ErrorIs(t, stallErrs[0], ErrSourceStalled)
	assert.True(t, errors.IsCategory(stallErrs[0], errors.CategoryAcquisition))
	assert.Equal(t, 2, count)
	assert.Zero(t, vc.Pending())
}

func TestLoopRecoversBeforeTolerance(t *testing.T) {
	t.Parallel()

	src := &flakySource{}
	l, vc := newTestLoop(t, src, 100)
	stalled := false
	l.OnError(func(error) { stalled = true })

	l.Start()
	src.setFailing(true)
	vc.Advance(20 * time.Millisecond)
	src.setFailing(false)
	vc.Advance(10 * time.Millisecond)
	src.setFailing(true)
	vc.Advance(20 * time.Millisecond)

	assert.False(t, stalled)
	assert.Equal(t, StateRunning, l.State())
	l.Stop()
}

func TestLoopResetClearsEverything(t *testing.T) {
	t.Parallel()

	vc := clock.NewVirtual(epoch)
	wf := NewWaveform(10)
	l, err := NewLoop(&flakySource{}, DefaultConfig(), WithClock(vc), WithWaveform(wf))
	require.NoError(t, err)

	count := 0
	l.OnData(func(model.SignalSample) { count++ })
	l.Start()
	vc.Advance(50 * time.Millisecond)
	l.Reset()

	st := l.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.CurrentTime)
	assert.Zero(t, st.SamplesEmitted)
	assert.Zero(t, wf.Len())

	l.Start()
	vc.Advance(50 * time.Millisecond)
	l.Stop()
	assert.Equal(t, 5, count, "callbacks are dropped by reset")
}

func TestLoopSetDefects(t *testing.T) {
	t.Parallel()

	gen := signal.NewGenerator(0, 0, 0, signal.WithRand(rand.NewPCG(1, 2)))
	l, vc := newTestLoop(t, gen, 100)
	require.NoError(t, l.SetDefects([]signal.DefectConfig{{Position: 0.05, Amplitude: 4, Width: 0.01}}))

	var peak float64
	l.OnData(func(s model.SignalSample) { peak = max(peak, s.Amplitude) })
	l.Start()
	vc.Advance(100 * time.Millisecond)
	l.Stop()
	assert.InDelta(t, 4, peak, 0.01)

	other, _ := newTestLoop(t, &flakySource{}, 100)
	assert.Error(t, other.SetDefects(nil))
}

func TestNewLoopValidates(t *testing.T) {
	t.Parallel()

	_, err := NewLoop(nil, DefaultConfig())
	require.Error(t, err)

	_, err = NewLoop(&flakySource{}, Config{SamplingRate: -1})
	require.Error(t, err)

	l, err := NewLoop(&flakySource{}, Config{SamplingRate: 50})
	require.NoError(t, err)
	assert.Equal(t, DefaultStallTolerance, l.Config().StallTolerance)
	assert.Equal(t, 20*time.Millisecond, l.Config().Interval())
}

func TestLoopWithRealClock(t *testing.T) {
	t.Parallel()

	l, err := NewLoop(&flakySource{}, Config{SamplingRate: 200})
	require.NoError(t, err)

	got := make(chan struct{}, 1)
	l.OnData(func(model.SignalSample) {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	l.Start()
	defer l.Stop()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered")
	}
}
