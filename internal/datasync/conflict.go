package datasync

import (
	"context"
	"encoding/json"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

// DetectConflicts compares the local and remote modification times of a
// session. A difference larger than the conflict window is reported; a
// session missing on either side is not a conflict.
func (e *Engine) DetectConflicts(ctx context.Context, sessionID string) ([]Conflict, error) {
	if e.remote == nil {
		return nil, errors.New(ErrNoRemote).
			Component("datasync").
			Category(errors.CategoryConfiguration).
			Build()
	}
	local, err := e.store.GetSession(ctx, sessionID)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	remoteSession, err := e.remote.GetSession(ctx, sessionID)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	diff := local.LastModified().Sub(remoteSession.LastModified()).Abs()
	if diff <= e.cfg.ConflictWindow {
		return nil, nil
	}
	e.metrics.RecordConflict()
	e.log.Info("session conflict detected",
		logger.String("session_id", sessionID),
		logger.Duration("difference", diff))
	return []Conflict{{
		Type:       model.SyncTypeSession,
		SessionID:  sessionID,
		Local:      *local,
		Remote:     *remoteSession,
		DetectedAt: e.clock.Now(),
	}}, nil
}

// ResolveConflict settles a conflict explicitly. With useLocal the local
// session is queued as an update and a sync is nudged; otherwise the
// remote session with its signals and defects replaces the local copy and
// is marked synced.
func (e *Engine) ResolveConflict(ctx context.Context, c Conflict, useLocal bool) error {
	if c.Type != model.SyncTypeSession {
		return errors.Newf("conflict resolution is only supported for sessions, got %q", c.Type).
			Component("datasync").
			Category(errors.CategoryValidation).
			Build()
	}
	if useLocal {
		data, err := marshalSession(&c.Local)
		if err != nil {
			return err
		}
		if err := e.store.EnqueueSyncItem(ctx, &model.PendingSyncItem{
			Type:      model.SyncTypeSession,
			Action:    model.ActionUpdate,
			Data:      data,
			Timestamp: e.clock.Now(),
			SessionID: c.SessionID,
		}); err != nil {
			return err
		}
		e.log.Info("conflict resolved with local data", logger.String("session_id", c.SessionID))
		e.Trigger()
		return nil
	}

	if e.remote == nil {
		return errors.New(ErrNoRemote).
			Component("datasync").
			Category(errors.CategoryConfiguration).
			Build()
	}
	data, err := e.remote.GetCompleteSessionData(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if err := e.store.PutRemoteSession(ctx, data); err != nil {
		return err
	}
	e.log.Info("conflict resolved with remote data", logger.String("session_id", c.SessionID))
	return nil
}

func marshalSession(s *model.TestingSession) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.New(err).
			Component("datasync").
			Category(errors.CategoryValidation).
			Context("session_id", s.ID).
			Build()
	}
	return data, nil
}
