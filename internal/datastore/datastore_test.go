package datastore

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

var baseTime = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

// fakeNow returns a clock that advances one second per call
func fakeNow() func() time.Time {
	t := baseTime
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T) *DataStore {
	t.Helper()
	ds, err := Open(filepath.Join(t.TempDir(), "magtest.db"),
		WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)),
		WithNow(fakeNow()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func testSession(id string) *model.TestingSession {
	return &model.TestingSession{
		ID:          id,
		ProjectName: "Pipeline weld 12",
		OperatorID:  "op-7",
		StartTime:   baseTime,
		Status:      model.StatusRunning,
		Parameters:  model.DefaultParameters(),
		Metadata:    map[string]string{"site": "north"},
	}
}

func pendingOf(t *testing.T, ds *DataStore) []model.PendingSyncItem {
	t.Helper()
	items, err := ds.GetPendingSyncItems(context.Background())
	require.NoError(t, err)
	return items
}

// drainSession acknowledges every queued item of a session, as a sync would
func drainSession(t *testing.T, ds *DataStore, sessionID string) {
	t.Helper()
	for _, item := range pendingOf(t, ds) {
		if item.SessionID == sessionID {
			require.NoError(t, ds.RemoveSyncItem(context.Background(), item.ID))
		}
	}
}

func syncStatusOf(t *testing.T, ds *DataStore, id string) model.SyncStatus {
	t.Helper()
	status, err := ds.GetSessionSyncStatus(context.Background(), id)
	require.NoError(t, err)
	return status
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	s := testSession("s-1")
	end := baseTime.Add(time.Hour)
	s.EndTime = &end
	s.Parameters.Gain = 55
	s.Parameters.Filter = model.FilterHighpass
	require.NoError(t, ds.SaveSession(ctx, s))

	got, err := ds.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ProjectName, got.ProjectName)
	assert.Equal(t, s.OperatorID, got.OperatorID)
	assert.True(t, s.StartTime.Equal(got.StartTime))
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.Equal(t, s.Status, got.Status)
	assert.Equal(t, s.Parameters, got.Parameters)
	assert.Equal(t, s.Metadata, got.Metadata)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, s.UpdatedAt.Equal(got.UpdatedAt))

	items := pendingOf(t, ds)
	require.Len(t, items, 1)
	assert.Equal(t, model.SyncTypeSession, items[0].Type)
	assert.Equal(t, model.ActionCreate, items[0].Action)
	assert.Equal(t, "s-1", items[0].SessionID)

	var payload model.TestingSession
	require.NoError(t, json.Unmarshal(items[0].Data, &payload))
	assert.Equal(t, "Pipeline weld 12", payload.ProjectName)

	status, err := ds.GetSessionSyncStatus(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, status)
}

func TestSaveSessionDuplicateRollsBackQueue(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ds.SaveSession(ctx, testSession("dup")))
	err := ds.SaveSession(ctx, testSession("dup"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))

	assert.Len(t, pendingOf(t, ds), 1, "failed write must not leave a queue item")
}

func TestSaveSessionRequiresID(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	err := ds.SaveSession(context.Background(), &model.TestingSession{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestUpdateSession(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ds.SaveSession(ctx, testSession("s-2")))
	before, err := ds.GetSession(ctx, "s-2")
	require.NoError(t, err)

	params := before.Parameters.Merge(model.ParameterUpdate{Gain: model.Ptr(60.0)})
	updated, err := ds.UpdateSession(ctx, "s-2", model.SessionUpdate{
		Status:     model.Ptr(model.StatusPaused),
		Parameters: &params,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, updated.Status)
	assert.InDelta(t, 60.0, updated.Parameters.Gain, 0)
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt))

	got, err := ds.GetSession(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Status)

	items := pendingOf(t, ds)
	require.Len(t, items, 2)
	assert.Equal(t, model.ActionUpdate, items[1].Action)

	_, err = ds.UpdateSession(ctx, "missing", model.SessionUpdate{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	_, err := ds.GetSession(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAllSessionsFilters(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	for i, op := range []string{"op-1", "op-2", "op-1"} {
		s := testSession("f-" + string(rune('a'+i)))
		s.OperatorID = op
		s.StartTime = baseTime.Add(time.Duration(i) * time.Hour)
		if i == 2 {
			s.Status = model.StatusCompleted
		}
		require.NoError(t, ds.SaveSession(ctx, s))
	}

	all, err := ds.GetAllSessions(ctx, model.SessionFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "f-c", all[0].ID, "newest first")

	byOp, err := ds.GetAllSessions(ctx, model.SessionFilters{OperatorID: "op-1"})
	require.NoError(t, err)
	assert.Len(t, byOp, 2)

	completed, err := ds.GetAllSessions(ctx, model.SessionFilters{Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "f-c", completed[0].ID)

	from := baseTime.Add(30 * time.Minute)
	ranged, err := ds.GetAllSessions(ctx, model.SessionFilters{StartDate: &from, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}

func TestSignalsAndDefects(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, ds.SaveSession(ctx, testSession("s-3")))

	samples := make([]model.SignalSample, 1200)
	for i := range samples {
		samples[i] = model.SignalSample{
			Timestamp: baseTime.UnixMilli() + int64(i*10),
			Amplitude: float64(i) / 100,
			Position:  float64(i) / 100,
			Frequency: 100,
		}
	}
	require.NoError(t, ds.SaveSignalData(ctx, "s-3", samples))
	require.NoError(t, ds.SaveSignalData(ctx, "s-3", nil))

	got, err := ds.GetSignalData(ctx, "s-3", 0)
	require.NoError(t, err)
	require.Len(t, got, 1200)
	assert.Equal(t, samples[0], got[0])
	assert.Equal(t, samples[1199], got[1199])

	limited, err := ds.GetSignalData(ctx, "s-3", 10)
	require.NoError(t, err)
	assert.Len(t, limited, 10)

	defects := []model.Defect{
		{ID: "d-1", Position: 0.4, Amplitude: 2.5, Severity: model.SeverityHigh, Timestamp: baseTime, GateTriggered: model.GateA},
		{ID: "d-2", Position: 1.2, Amplitude: 3.5, Severity: model.SeverityCritical, Timestamp: baseTime.Add(time.Second), GateTriggered: model.GateB},
	}
	require.NoError(t, ds.SaveDefects(ctx, "s-3", defects))

	gotDefects, err := ds.GetDefects(ctx, "s-3")
	require.NoError(t, err)
	require.Len(t, gotDefects, 2)
	assert.Equal(t, "s-3", gotDefects[0].SessionID)
	assert.Equal(t, model.SeverityCritical, gotDefects[1].Severity)

	items := pendingOf(t, ds)
	// session create, one signal batch, one item per defect
	require.Len(t, items, 4)
	assert.Equal(t, model.SyncTypeSignalData, items[1].Type)
	var batch model.SignalBatch
	require.NoError(t, json.Unmarshal(items[1].Data, &batch))
	assert.Len(t, batch.Samples, 1200)
	assert.Equal(t, model.SyncTypeDefect, items[3].Type)

	complete, err := ds.GetCompleteSessionData(ctx, "s-3")
	require.NoError(t, err)
	assert.Len(t, complete.Signals, 1200)
	assert.Len(t, complete.Defects, 2)
}

func TestSaveDefectsIsAtomic(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	err := ds.SaveDefects(ctx, "s-x", []model.Defect{{ID: "ok"}, {ID: ""}})
	require.Error(t, err)

	got, err := ds.GetDefects(ctx, "s-x")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, pendingOf(t, ds))
}

func TestCalibrationSingleActivePerType(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	first := &model.CalibrationData{
		OperatorID:      "op-1",
		CalibrationType: model.CalibrationStandardBlock,
		CalibrationDate: baseTime,
		IsActive:        true,
		Coefficients:    map[string]float64{"gain": 1.02},
	}
	require.NoError(t, ds.SaveCalibration(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &model.CalibrationData{
		OperatorID:      "op-1",
		CalibrationType: model.CalibrationStandardBlock,
		CalibrationDate: baseTime.Add(24 * time.Hour),
		IsActive:        true,
		ReferenceSignal: []float64{0.1, 0.2},
	}
	require.NoError(t, ds.SaveCalibration(ctx, second))

	other := &model.CalibrationData{
		CalibrationType: model.CalibrationSystemCheck,
		CalibrationDate: baseTime.Add(-time.Hour),
		IsActive:        true,
	}
	require.NoError(t, ds.SaveCalibration(ctx, other))

	var active int64
	require.NoError(t, ds.DB.Model(&CalibrationRow{}).
		Where("calibration_type = ? AND is_active = ?", string(model.CalibrationStandardBlock), true).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)

	latest, err := ds.GetLatestCalibration(ctx, model.CalibrationStandardBlock)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, []float64{0.1, 0.2}, latest.ReferenceSignal)

	anyType, err := ds.GetLatestCalibration(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, anyType.ID)

	_, err = ds.GetLatestCalibration(ctx, model.CalibrationCustom)
	assert.ErrorIs(t, err, ErrNotFound)

	items := pendingOf(t, ds)
	require.Len(t, items, 3)
	assert.Empty(t, items[0].SessionID)
}

func TestSyncQueueOperations(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	item := &model.PendingSyncItem{
		Type:      model.SyncTypeSession,
		Action:    model.ActionUpdate,
		Data:      json.RawMessage(`{"id":"s-9"}`),
		SessionID: "s-9",
	}
	require.NoError(t, ds.EnqueueSyncItem(ctx, item))
	assert.NotZero(t, item.ID)

	require.NoError(t, ds.UpdateSyncItemRetry(ctx, item.ID, "timeout"))
	require.NoError(t, ds.UpdateSyncItemRetry(ctx, item.ID, "timeout"))
	items := pendingOf(t, ds)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.JSONEq(t, `{"id":"s-9"}`, string(items[0].Data))

	n, err := ds.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, ds.RemoveSyncItem(ctx, item.ID))
	assert.Empty(t, pendingOf(t, ds))

	assert.ErrorIs(t, ds.UpdateSyncItemRetry(ctx, item.ID, "x"), ErrNotFound)
	assert.Error(t, ds.EnqueueSyncItem(ctx, &model.PendingSyncItem{Type: "bogus", Action: model.ActionCreate}))
}

func TestMarkSessionSyncState(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, ds.SaveSession(ctx, testSession("s-4")))

	require.NoError(t, ds.MarkSessionSyncError(ctx, "s-4", "remote down"))
	assert.Equal(t, model.SyncError, syncStatusOf(t, ds, "s-4"))

	// the create item is still queued
	require.NoError(t, ds.MarkSessionSynced(ctx, "s-4"))
	assert.Equal(t, model.SyncError, syncStatusOf(t, ds, "s-4"))

	drainSession(t, ds, "s-4")
	require.NoError(t, ds.MarkSessionSynced(ctx, "s-4"))
	assert.Equal(t, model.SyncSynced, syncStatusOf(t, ds, "s-4"))

	assert.ErrorIs(t, ds.MarkSessionSynced(ctx, "nope"), ErrNotFound)
}

func TestWritesAfterSyncReturnSessionToPending(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ds.SaveSession(ctx, testSession("s-8")))
	drainSession(t, ds, "s-8")
	require.NoError(t, ds.MarkSessionSynced(ctx, "s-8"))
	require.Equal(t, model.SyncSynced, syncStatusOf(t, ds, "s-8"))

	require.NoError(t, ds.SaveSignalData(ctx, "s-8", []model.SignalSample{{Timestamp: 1}}))
	assert.Equal(t, model.SyncPending, syncStatusOf(t, ds, "s-8"))

	drainSession(t, ds, "s-8")
	require.NoError(t, ds.MarkSessionSynced(ctx, "s-8"))
	require.NoError(t, ds.SaveDefect(ctx, &model.Defect{ID: "d-8", SessionID: "s-8", Severity: model.SeverityLow}))
	assert.Equal(t, model.SyncPending, syncStatusOf(t, ds, "s-8"))

	drainSession(t, ds, "s-8")
	require.NoError(t, ds.MarkSessionSynced(ctx, "s-8"))
	require.NoError(t, ds.EnqueueSyncItem(ctx, &model.PendingSyncItem{
		Type:      model.SyncTypeSession,
		Action:    model.ActionUpdate,
		Data:      json.RawMessage(`{"id":"s-8"}`),
		SessionID: "s-8",
	}))
	assert.Equal(t, model.SyncPending, syncStatusOf(t, ds, "s-8"))
}

func TestPutRemoteSessionReplacesLocal(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	local := testSession("s-5")
	require.NoError(t, ds.SaveSession(ctx, local))
	require.NoError(t, ds.SaveSignalData(ctx, "s-5", []model.SignalSample{{Timestamp: 1}, {Timestamp: 2}}))

	remote := *local
	remote.ProjectName = "Remote name"
	remote.Status = model.StatusCompleted
	require.NoError(t, ds.PutRemoteSession(ctx, &model.CompleteSessionData{
		Session: remote,
		Signals: []model.SignalSample{{Timestamp: 7, Amplitude: 1}},
		Defects: []model.Defect{{ID: "rd-1", Severity: model.SeverityLow}},
	}))

	got, err := ds.GetCompleteSessionData(ctx, "s-5")
	require.NoError(t, err)
	assert.Equal(t, "Remote name", got.Session.ProjectName)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, int64(7), got.Signals[0].Timestamp)
	require.Len(t, got.Defects, 1)
	assert.Equal(t, "s-5", got.Defects[0].SessionID)

	assert.Empty(t, pendingOf(t, ds))
	status, err := ds.GetSessionSyncStatus(ctx, "s-5")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, status)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ds.SaveSession(ctx, testSession("s-6")))
	require.NoError(t, ds.SaveSignalData(ctx, "s-6", []model.SignalSample{{Timestamp: 1}}))
	require.NoError(t, ds.DeleteSession(ctx, "s-6"))

	_, err := ds.GetSession(ctx, "s-6")
	assert.ErrorIs(t, err, ErrNotFound)
	signals, err := ds.GetSignalData(ctx, "s-6", 0)
	require.NoError(t, err)
	assert.Empty(t, signals)

	items := pendingOf(t, ds)
	require.Len(t, items, 1)
	assert.Equal(t, model.ActionDelete, items[0].Action)

	assert.ErrorIs(t, ds.DeleteSession(ctx, "s-6"), ErrNotFound)
}

func TestClearSyncedDataKeepsUnsynced(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	old := baseTime.Add(-60 * 24 * time.Hour)
	for _, id := range []string{"old-synced", "old-pending", "old-error", "new-synced"} {
		s := testSession(id)
		s.StartTime = old
		if id == "new-synced" {
			s.StartTime = baseTime
		}
		require.NoError(t, ds.SaveSession(ctx, s))
		require.NoError(t, ds.SaveSignalData(ctx, id, []model.SignalSample{{Timestamp: 1}}))
	}
	for _, id := range []string{"old-synced", "new-synced"} {
		drainSession(t, ds, id)
		require.NoError(t, ds.MarkSessionSynced(ctx, id))
	}
	require.NoError(t, ds.MarkSessionSyncError(ctx, "old-error", "boom"))

	// synced status set directly while an item is still queued
	s := testSession("old-queued")
	s.StartTime = old
	require.NoError(t, ds.SaveSession(ctx, s))
	require.NoError(t, ds.DB.Model(&SessionRow{}).Where("id = ?", "old-queued").
		UpdateColumn("sync_status", string(model.SyncSynced)).Error)

	removed, err := ds.ClearSyncedData(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = ds.GetSession(ctx, "old-synced")
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{"old-pending", "old-error", "new-synced", "old-queued"} {
		_, err := ds.GetSession(ctx, id)
		assert.NoError(t, err, id)
	}
	signals, err := ds.GetSignalData(ctx, "old-synced", 0)
	require.NoError(t, err)
	assert.Empty(t, signals)

	_, err = ds.ClearSyncedData(ctx, -1)
	assert.Error(t, err)
}

func TestStorageStats(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ds.SaveSession(ctx, testSession("s-7")))
	require.NoError(t, ds.SaveSignalData(ctx, "s-7", []model.SignalSample{{Timestamp: 1}, {Timestamp: 2}}))
	require.NoError(t, ds.SaveDefect(ctx, &model.Defect{ID: "d", SessionID: "s-7", Severity: model.SeverityLow}))

	stats, err := ds.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(2), stats.SignalRows)
	assert.Equal(t, int64(1), stats.Defects)
	assert.Equal(t, int64(3), stats.PendingItems)
	assert.Equal(t, int64(1), stats.UnsyncedCount)
	assert.Positive(t, stats.DatabaseBytes)
	assert.Positive(t, stats.VolumeTotal)
}

func TestDecodeParametersVersions(t *testing.T) {
	t.Parallel()

	encoded, err := encodeParameters(model.DefaultParameters())
	require.NoError(t, err)
	assert.Contains(t, encoded, `"version":1`)

	p, err := decodeParameters(encoded)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultParameters(), p)

	// a bare legacy map keeps defaults for missing fields
	legacy, err := decodeParameters(`{"gain": 20, "filter": "lowpass"}`)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, legacy.Gain, 0)
	assert.Equal(t, model.FilterLowpass, legacy.Filter)
	assert.InDelta(t, 1.0, legacy.Threshold, 0)

	empty, err := decodeParameters("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultParameters(), empty)

	_, err = decodeParameters(`{"version": 9, "parameters": {}}`)
	assert.Error(t, err)
	_, err = decodeParameters(`not json`)
	assert.Error(t, err)
}

func TestDecodeMetadataStringifies(t *testing.T) {
	t.Parallel()
	m := decodeMetadata(`{"site":"north","shift":2,"flag":true,"none":null}`)
	assert.Equal(t, map[string]string{"site": "north", "shift": "2", "flag": "true", "none": ""}, m)
	assert.Nil(t, decodeMetadata(""))
}
