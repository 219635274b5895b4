package datasync

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/datastore"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/network"
	"github.com/tphakala/magtest/internal/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var errBoom = errors.NewStd("remote unavailable")

type fixture struct {
	store  *datastore.DataStore
	remote *remote.Mock
	net    *network.Monitor
	clock  *clock.Virtual
	engine *Engine
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newFixture(t *testing.T, cfg Config, online bool) *fixture {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "magtest.db"),
		datastore.WithLogger(testLogger()),
		datastore.WithNow(func() time.Time { return baseTime }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vc := clock.NewVirtual(baseTime)
	mon := network.NewMonitor(network.Config{},
		network.WithLogger(testLogger()),
		network.WithClock(vc),
		network.WithInitialStatus(network.Status{Online: online}))
	rm := remote.NewMock()
	rm.SetNow(vc.Now)

	engine, err := NewEngine(store, rm, mon, cfg, WithClock(vc), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(engine.Stop)

	return &fixture{store: store, remote: rm, net: mon, clock: vc, engine: engine}
}

func testSession(id string) *model.TestingSession {
	return &model.TestingSession{
		ID:          id,
		ProjectName: "Tank floor scan",
		OperatorID:  "op-3",
		StartTime:   baseTime,
		Status:      model.StatusRunning,
		Parameters:  model.DefaultParameters(),
	}
}

func samples(n int) []model.SignalSample {
	out := make([]model.SignalSample, n)
	for i := range out {
		out[i] = model.SignalSample{Timestamp: int64(i), Amplitude: float64(i) / 10, Position: float64(i) / 100}
	}
	return out
}

func (f *fixture) seedSession(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, testSession(id)))
	require.NoError(t, f.store.SaveSignalData(ctx, id, samples(3)))
	require.NoError(t, f.store.SaveDefect(ctx, &model.Defect{
		ID: id + "-d1", SessionID: id, Position: 0.5, Amplitude: 2, Severity: model.SeverityHigh,
		GateTriggered: model.GateA, Timestamp: baseTime,
	}))
}

func (f *fixture) pending(t *testing.T) []model.PendingSyncItem {
	t.Helper()
	items, err := f.store.GetPendingSyncItems(context.Background())
	require.NoError(t, err)
	return items
}

func TestSyncAllReplaysInTypeActionOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()

	// queue the items in reverse dependency order
	sess := testSession("s1")
	sessData, err := marshalSession(sess)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveDefect(ctx, &model.Defect{ID: "d1", SessionID: "s1", Severity: model.SeverityLow}))
	require.NoError(t, f.store.EnqueueSyncItem(ctx, &model.PendingSyncItem{
		Type: model.SyncTypeSession, Action: model.ActionUpdate, Data: sessData, SessionID: "s1",
	}))
	require.NoError(t, f.store.SaveSignalData(ctx, "s1", samples(2)))
	require.NoError(t, f.store.SaveSession(ctx, sess))

	result, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Synced)

	assert.Equal(t, []string{
		remote.OpGetSession, remote.OpCreateSession,
		remote.OpUpdateSession,
		remote.OpInsertSignals,
		remote.OpInsertDefect,
	}, f.remote.Ops())
	assert.Empty(t, f.pending(t))

	status, err := f.store.GetSessionSyncStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, status)
}

func TestSyncAllEmptyQueue(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	result, err := f.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Synced)
	assert.Empty(t, f.remote.Calls())
}

func TestSyncAllOffline(t *testing.T) {
	f := newFixture(t, DefaultConfig(), false)
	f.seedSession(t, "s1")

	_, err := f.engine.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, f.remote.Calls())
	assert.Len(t, f.pending(t), 3)
}

func TestSyncAllWithoutRemote(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	engine, err := NewEngine(f.store, nil, f.net, DefaultConfig(), WithClock(f.clock), WithLogger(testLogger()))
	require.NoError(t, err)
	_, err = engine.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrNoRemote)
}

// blockingRemote holds CreateSession until released
type blockingRemote struct {
	*remote.Mock
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRemote) CreateSession(ctx context.Context, s *model.TestingSession) error {
	close(b.entered)
	<-b.release
	return b.Mock.CreateSession(ctx, s)
}

func TestSyncAllRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	require.NoError(t, f.store.SaveSession(context.Background(), testSession("s1")))

	br := &blockingRemote{Mock: f.remote, entered: make(chan struct{}), release: make(chan struct{})}
	engine, err := NewEngine(f.store, br, f.net, DefaultConfig(), WithClock(f.clock), WithLogger(testLogger()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var first *Result
	var firstErr error
	wg.Go(func() { first, firstErr = engine.SyncAll(context.Background()) })

	<-br.entered
	_, err = engine.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsSyncing)

	close(br.release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Synced)
}

func TestFailureStopsOnlyItsSessionGroup(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()
	f.seedSession(t, "s1")
	f.seedSession(t, "s2")
	f.remote.FailFor(remote.OpInsertSignals, "s1", errBoom, -1)

	result, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Deferred)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.SyncTypeSignalData, result.Errors[0].Item.Type)
	assert.Contains(t, result.Errors[0].Error, "remote unavailable")

	s1, err := f.store.GetSessionSyncStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncError, s1)
	s2, err := f.store.GetSessionSyncStatus(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, s2)

	left := f.pending(t)
	require.Len(t, left, 2)
	assert.Equal(t, model.SyncTypeSignalData, left[0].Type)
	assert.Equal(t, 1, left[0].RetryCount)
	assert.Equal(t, model.SyncTypeDefect, left[1].Type)
	assert.Zero(t, left[1].RetryCount)

	f.remote.ClearFailures()
	result, err = f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Synced)
	assert.Empty(t, f.pending(t))
}

func TestItemsAtRetryLimitBlockWithoutRemoteCall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	f := newFixture(t, cfg, true)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSignalData(ctx, "s1", samples(2)))
	f.remote.Fail(remote.OpInsertSignals, errBoom)

	_, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	f.remote.ClearFailures()
	f.remote.ResetCalls()

	result, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, ErrRetriesExhausted.Error())
	assert.Empty(t, f.remote.Calls())
	assert.Len(t, f.pending(t), 1)
}

func TestCreateOfExistingRemoteSessionUpdates(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	f.remote.PutSession(*testSession("s1"))
	require.NoError(t, f.store.SaveSession(context.Background(), testSession("s1")))

	result, err := f.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{remote.OpGetSession, remote.OpUpdateSession}, f.remote.Ops())
}

func TestSignalsAreChunked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 2
	f := newFixture(t, cfg, true)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSignalData(ctx, "s1", samples(5)))

	_, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{remote.OpInsertSignals, remote.OpInsertSignals, remote.OpInsertSignals}, f.remote.Ops())

	n, err := f.remote.CountSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestActiveCalibrationDeactivatesOthers(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()
	require.NoError(t, f.store.SaveCalibration(ctx, &model.CalibrationData{
		OperatorID: "op-3", CalibrationType: model.CalibrationStandardBlock,
		CalibrationDate: baseTime, IsActive: true,
	}))

	result, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{remote.OpInsertCalibration, remote.OpDeactivateCalibration}, f.remote.Ops())
}

func TestDeleteMissingRemoteSessionSucceeds(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, testSession("s1")))
	require.NoError(t, f.store.DeleteSession(ctx, "s1"))

	result, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{remote.OpDeleteSession}, f.remote.Ops())
	assert.Empty(t, f.pending(t))
}

func TestProgressListener(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	f.seedSession(t, "s1")

	var updates []Progress
	unsubscribe := f.engine.AddProgressListener(func(p Progress) { updates = append(updates, p) })
	defer unsubscribe()

	_, err := f.engine.SyncAll(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	assert.Equal(t, Progress{Total: 3}, updates[0])
	assert.Equal(t, Progress{Total: 3, Completed: 3}, updates[len(updates)-1])
	assert.Contains(t, updates, Progress{Total: 3, Completed: 1, Current: "signal_data:create"})
}

func TestAutoSyncAfterReconnectDelay(t *testing.T) {
	f := newFixture(t, DefaultConfig(), false)
	f.engine.Start()
	f.seedSession(t, "s1")

	f.net.SetOnline(true)
	f.clock.Advance(time.Second)
	assert.Empty(t, f.remote.Calls(), "sync waits for the stabilization delay")

	f.clock.Advance(time.Second)
	assert.Contains(t, f.remote.Ops(), remote.OpCreateSession)
	assert.Empty(t, f.pending(t))

	status, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.LastResult)
	assert.True(t, status.LastResult.Success)
	assert.Equal(t, baseTime.Add(2*time.Second), status.LastSyncAt)
}

func TestAutoSyncDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 0
	f := newFixture(t, cfg, false)
	f.engine.Start()
	f.engine.DisableAutoSync()
	f.seedSession(t, "s1")

	f.net.SetOnline(true)
	f.clock.Advance(5 * time.Second)
	assert.Empty(t, f.remote.Calls())

	f.engine.EnableAutoSync()
	f.net.SetOnline(false)
	f.net.SetOnline(true)
	f.clock.Advance(2 * time.Second)
	assert.NotEmpty(t, f.remote.Calls())
}

func TestPeriodicSync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Minute
	f := newFixture(t, cfg, true)
	f.engine.Start()
	f.seedSession(t, "s1")

	f.clock.Advance(59 * time.Second)
	assert.Empty(t, f.remote.Calls())
	f.clock.Advance(time.Second)
	assert.Empty(t, f.pending(t))

	f.engine.StopPeriodicSync()
	f.seedSession(t, "s2")
	f.clock.Advance(5 * time.Minute)
	assert.Len(t, f.pending(t), 3)
}

func TestTriggerRunsInBackground(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	f.seedSession(t, "s1")

	f.engine.Trigger()
	f.engine.Stop()
	assert.Empty(t, f.pending(t))
}

func TestDetectConflicts(t *testing.T) {
	tests := []struct {
		name     string
		offset   time.Duration
		conflict bool
	}{
		{"remote two seconds newer", 2000 * time.Millisecond, true},
		{"remote half a second newer", 500 * time.Millisecond, false},
		{"remote two seconds older", -2 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), true)
			ctx := context.Background()
			require.NoError(t, f.store.SaveSession(ctx, testSession("s1")))

			rs := *testSession("s1")
			rs.UpdatedAt = baseTime.Add(tt.offset)
			f.remote.PutSession(rs)

			conflicts, err := f.engine.DetectConflicts(ctx, "s1")
			require.NoError(t, err)
			if !tt.conflict {
				assert.Empty(t, conflicts)
				return
			}
			require.Len(t, conflicts, 1)
			assert.Equal(t, model.SyncTypeSession, conflicts[0].Type)
			assert.Equal(t, "s1", conflicts[0].SessionID)
			assert.Equal(t, rs.UpdatedAt, conflicts[0].Remote.UpdatedAt)
		})
	}
}

func TestDetectConflictsMissingRemote(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	require.NoError(t, f.store.SaveSession(context.Background(), testSession("s1")))
	conflicts, err := f.engine.DetectConflicts(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestResolveConflictWithRemote(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()
	f.seedSession(t, "s1")

	rs := *testSession("s1")
	rs.Status = model.StatusCompleted
	rs.UpdatedAt = baseTime.Add(time.Hour)
	f.remote.PutSession(rs)
	require.NoError(t, f.remote.InsertSignals(ctx, "s1", samples(7)))

	conflicts, err := f.engine.DetectConflicts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.NoError(t, f.engine.ResolveConflict(ctx, conflicts[0], false))

	local, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, local.Status)
	signals, err := f.store.GetSignalData(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, signals, 7)
	assert.Empty(t, f.pending(t))

	status, err := f.store.GetSessionSyncStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, status)
}

func TestResolveConflictWithLocalQueuesUpdate(t *testing.T) {
	f := newFixture(t, DefaultConfig(), false)
	ctx := context.Background()
	local := testSession("s1")
	local.Status = model.StatusCompleted

	err := f.engine.ResolveConflict(ctx, Conflict{
		Type: model.SyncTypeSession, SessionID: "s1", Local: *local,
	}, true)
	require.NoError(t, err)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, model.SyncTypeSession, items[0].Type)
	assert.Equal(t, model.ActionUpdate, items[0].Action)
	assert.Equal(t, "s1", items[0].SessionID)
	assert.Empty(t, f.remote.Calls(), "offline nudge must not sync")
}

func TestClearOldData(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	n, err := f.engine.ClearOldData(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// writingRemote runs onCreate once, while the first remote session create
// is in flight
type writingRemote struct {
	*remote.Mock
	once     sync.Once
	onCreate func()
}

func (r *writingRemote) CreateSession(ctx context.Context, s *model.TestingSession) error {
	r.once.Do(r.onCreate)
	return r.Mock.CreateSession(ctx, s)
}

func TestWritesDuringSyncStayPending(t *testing.T) {
	f := newFixture(t, DefaultConfig(), true)
	ctx := context.Background()

	old := testSession("s1")
	old.StartTime = baseTime.AddDate(0, 0, -30)
	require.NoError(t, f.store.SaveSession(ctx, old))
	require.NoError(t, f.store.SaveSignalData(ctx, "s1", samples(3)))

	rm := &writingRemote{Mock: f.remote, onCreate: func() {
		assert.NoError(t, f.store.SaveSignalData(ctx, "s1", samples(2)))
		assert.NoError(t, f.store.SaveDefect(ctx, &model.Defect{
			ID: "late-d1", SessionID: "s1", Position: 0.2, Amplitude: 3, Severity: model.SeverityCritical,
			GateTriggered: model.GateA, Timestamp: baseTime,
		}))
	}}
	engine, err := NewEngine(f.store, rm, f.net, DefaultConfig(), WithClock(f.clock), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(engine.Stop)

	result, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Synced)

	require.Len(t, f.pending(t), 2)
	status, err := f.store.GetSessionSyncStatus(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, model.SyncSynced, status)

	removed, err := engine.ClearOldData(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, removed)
	local, err := f.store.GetSignalData(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, local, 5)

	// the next run pushes the late writes and the session can be purged
	result, err = engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, f.pending(t))
	status, err = f.store.GetSessionSyncStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, status)

	n, err := f.remote.CountSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	removed, err = engine.ClearOldData(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
