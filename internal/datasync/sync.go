package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

// sessionGroup is the ordered queue slice of one session
type sessionGroup struct {
	key   string
	items []model.PendingSyncItem
}

// groupItems buckets items by session id and orders each bucket by type,
// action and queue id. Groups keep the order of their oldest item.
func groupItems(items []model.PendingSyncItem) []sessionGroup {
	index := make(map[string]int)
	var groups []sessionGroup
	for _, item := range items {
		key := item.SessionID
		if key == "" {
			key = NoSessionGroup
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, sessionGroup{key: key})
		}
		groups[i].items = append(groups[i].items, item)
	}
	for i := range groups {
		g := groups[i].items
		sort.SliceStable(g, func(a, b int) bool { return g[a].Less(&g[b]) })
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].items[0].ID < groups[b].items[0].ID
	})
	return groups
}

// SyncAll replays every pending item. It fails immediately with
// ErrSyncInProgress, ErrOffline or ErrNoRemote; item failures are reported
// in the Result instead.
func (e *Engine) SyncAll(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.metrics.RecordRejected()
		return nil, errors.New(ErrSyncInProgress).
			Component("datasync").
			Category(errors.CategoryState).
			Build()
	}
	defer e.syncing.Store(false)

	if e.remote == nil {
		return nil, errors.New(ErrNoRemote).
			Component("datasync").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !e.net.IsOnline() {
		return nil, errors.New(ErrOffline).
			Component("datasync").
			Category(errors.CategoryNetwork).
			Build()
	}

	e.metrics.SetInFlight(true)
	defer e.metrics.SetInFlight(false)
	start := time.Now()

	items, err := e.store.GetPendingSyncItems(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Success: true}
	if len(items) > 0 {
		progress := Progress{Total: len(items)}
		e.notify(progress)
		for _, g := range groupItems(items) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e.syncGroup(ctx, g, result, &progress)
		}
		progress.Current = ""
		e.notify(progress)
	}

	finished := e.clock.Now()
	e.mu.Lock()
	e.lastResult = result
	e.lastSyncAt = finished
	e.mu.Unlock()
	e.metrics.RecordRun(result.Success, time.Since(start), finished)

	if len(items) > 0 {
		e.log.Info("sync completed",
			logger.Bool("success", result.Success),
			logger.Int("synced", result.Synced),
			logger.Int("failed", result.Failed),
			logger.Int("deferred", result.Deferred),
			logger.Duration("duration", time.Since(start)))
	}
	return result, nil
}

// syncGroup replays one session group in order. The first failure stops
// the group; remaining items stay queued for the next run.
func (e *Engine) syncGroup(ctx context.Context, g sessionGroup, result *Result, progress *Progress) {
	for i := range g.items {
		item := g.items[i]
		progress.Current = fmt.Sprintf("%s:%s", item.Type, item.Action)
		e.notify(*progress)

		var err error
		if item.RetryCount >= e.cfg.MaxRetries {
			err = errors.New(ErrRetriesExhausted).
				Component("datasync").
				Category(errors.CategorySync).
				Context("item_id", item.ID).
				Context("retry_count", item.RetryCount).
				Build()
		} else {
			err = e.syncItem(ctx, &item)
			if err == nil {
				err = e.store.RemoveSyncItem(ctx, item.ID)
			}
		}
		e.metrics.RecordItem(string(item.Type), err)

		if err != nil {
			e.recordFailure(ctx, g.key, &item, err, item.RetryCount < e.cfg.MaxRetries)
			result.Success = false
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: item, Error: err.Error()})
			result.Deferred += len(g.items) - i - 1
			progress.Failed++
			e.notify(*progress)
			return
		}
		result.Synced++
		progress.Completed++
	}

	if g.key == NoSessionGroup {
		return
	}
	if err := e.store.MarkSessionSynced(ctx, g.key); err != nil && !errors.IsNotFound(err) {
		e.log.Warn("failed to mark session synced", logger.String("session_id", g.key), logger.Error(err))
	}
}

func (e *Engine) recordFailure(ctx context.Context, key string, item *model.PendingSyncItem, cause error, bumpRetry bool) {
	msg := cause.Error()
	e.log.Warn("sync item failed",
		logger.String("group", key),
		logger.Int64("item_id", item.ID),
		logger.String("type", string(item.Type)),
		logger.String("action", string(item.Action)),
		logger.Int("retry_count", item.RetryCount),
		logger.Error(cause))

	if bumpRetry {
		if err := e.store.UpdateSyncItemRetry(ctx, item.ID, msg); err != nil {
			e.log.Error("failed to record sync retry", logger.Int64("item_id", item.ID), logger.Error(err))
		}
	}
	if key == NoSessionGroup {
		return
	}
	if err := e.store.MarkSessionSyncError(ctx, key, msg); err != nil && !errors.IsNotFound(err) {
		e.log.Error("failed to mark session sync error", logger.String("session_id", key), logger.Error(err))
	}
}

// syncItem pushes one queue item to the remote store
func (e *Engine) syncItem(ctx context.Context, item *model.PendingSyncItem) error {
	var err error
	switch item.Type {
	case model.SyncTypeSession:
		err = e.syncSession(ctx, item)
	case model.SyncTypeSignalData:
		err = e.syncSignals(ctx, item)
	case model.SyncTypeDefect:
		err = e.syncDefect(ctx, item)
	case model.SyncTypeCalibration:
		err = e.syncCalibration(ctx, item)
	default:
		err = unsupported(item)
	}
	return err
}

func decode(item *model.PendingSyncItem, v any) error {
	if err := json.Unmarshal(item.Data, v); err != nil {
		return errors.New(err).
			Component("datasync").
			Category(errors.CategoryValidation).
			Context("item_id", item.ID).
			Context("type", string(item.Type)).
			Build()
	}
	return nil
}

func unsupported(item *model.PendingSyncItem) error {
	return errors.Newf("unsupported sync item %s:%s", item.Type, item.Action).
		Component("datasync").
		Category(errors.CategoryValidation).
		Context("item_id", item.ID).
		Build()
}

func (e *Engine) syncSession(ctx context.Context, item *model.PendingSyncItem) error {
	if item.Action == model.ActionDelete {
		var p model.DeletePayload
		if err := decode(item, &p); err != nil {
			return err
		}
		if err := e.remote.DeleteSession(ctx, p.ID); err != nil && !errors.IsNotFound(err) {
			return err
		}
		return nil
	}

	var s model.TestingSession
	if err := decode(item, &s); err != nil {
		return err
	}
	switch item.Action {
	case model.ActionCreate:
		// a create replayed after a lost acknowledgement becomes an update
		if _, err := e.remote.GetSession(ctx, s.ID); err == nil {
			return e.remote.UpdateSession(ctx, &s)
		} else if !errors.IsNotFound(err) {
			return err
		}
		return e.remote.CreateSession(ctx, &s)
	case model.ActionUpdate:
		err := e.remote.UpdateSession(ctx, &s)
		if errors.IsNotFound(err) {
			return e.remote.CreateSession(ctx, &s)
		}
		return err
	}
	return unsupported(item)
}

func (e *Engine) syncSignals(ctx context.Context, item *model.PendingSyncItem) error {
	if item.Action != model.ActionCreate {
		return unsupported(item)
	}
	var batch model.SignalBatch
	if err := decode(item, &batch); err != nil {
		return err
	}
	sessionID := batch.SessionID
	if sessionID == "" {
		sessionID = item.SessionID
	}
	for start := 0; start < len(batch.Samples); start += e.cfg.ChunkSize {
		end := min(start+e.cfg.ChunkSize, len(batch.Samples))
		if err := e.remote.InsertSignals(ctx, sessionID, batch.Samples[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncDefect(ctx context.Context, item *model.PendingSyncItem) error {
	if item.Action == model.ActionDelete {
		return unsupported(item)
	}
	var d model.Defect
	if err := decode(item, &d); err != nil {
		return err
	}
	if d.SessionID == "" {
		d.SessionID = item.SessionID
	}
	return e.remote.InsertDefect(ctx, &d)
}

func (e *Engine) syncCalibration(ctx context.Context, item *model.PendingSyncItem) error {
	if item.Action == model.ActionDelete {
		return unsupported(item)
	}
	var c model.CalibrationData
	if err := decode(item, &c); err != nil {
		return err
	}
	if err := e.remote.InsertCalibration(ctx, &c); err != nil {
		return err
	}
	if c.IsActive {
		return e.remote.DeactivateCalibration(ctx, c.CalibrationType, c.ID)
	}
	return nil
}
