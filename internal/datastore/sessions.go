package datastore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

// signalBatchSize bounds rows per INSERT statement
const signalBatchSize = 500

// wrapErr passes enhanced errors through and tags everything else as a
// database error for operation.
func wrapErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.Join(ErrNotFound, err)).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("operation", operation).
			Build()
	}
	return dbError(operation, err)
}

// enqueueTx appends a pending sync item inside tx
func (ds *DataStore) enqueueTx(tx *gorm.DB, t model.SyncType, a model.SyncAction, sessionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return insertPendingTx(tx, &PendingSyncRow{
		Type:      string(t),
		Action:    string(a),
		Data:      string(data),
		Timestamp: ds.now(),
		SessionID: sessionID,
	})
}

// insertPendingTx queues row and moves a synced owner session back to
// pending, so ClearSyncedData cannot purge data the remote has not seen.
func insertPendingTx(tx *gorm.DB, row *PendingSyncRow) error {
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	if row.SessionID == "" {
		return nil
	}
	return tx.Model(&SessionRow{}).
		Where("id = ? AND sync_status = ?", row.SessionID, string(model.SyncSynced)).
		UpdateColumn("sync_status", string(model.SyncPending)).Error
}

// SaveSession inserts a new session and queues its remote create.
func (ds *DataStore) SaveSession(ctx context.Context, s *model.TestingSession) (err error) {
	defer ds.observe("save_session", time.Now(), &err)

	if s == nil || s.ID == "" {
		return validationError("save_session", "session id is required")
	}
	now := ds.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	row, err := sessionToRow(s)
	if err != nil {
		return wrapErr("save_session", err)
	}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return ds.enqueueTx(tx, model.SyncTypeSession, model.ActionCreate, s.ID, s)
	})
	if err != nil {
		return wrapErr("save_session", err)
	}

	ds.log.Debug("session saved", logger.String("session_id", s.ID))
	return nil
}

// UpdateSession applies u to the stored session, bumps UpdatedAt and queues
// a remote update carrying the full updated session.
func (ds *DataStore) UpdateSession(ctx context.Context, id string, u model.SessionUpdate) (out *model.TestingSession, err error) {
	defer ds.observe("update_session", time.Now(), &err)

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SessionRow
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("session", id)
			}
			return err
		}
		current, err := rowToSession(&existing)
		if err != nil {
			return err
		}

		updated := current.Apply(u)
		updated.UpdatedAt = ds.now()
		row, err := sessionToRow(&updated)
		if err != nil {
			return err
		}
		row.LastSyncAt = existing.LastSyncAt
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		out = &updated
		return ds.enqueueTx(tx, model.SyncTypeSession, model.ActionUpdate, id, &updated)
	})
	if err != nil {
		return nil, wrapErr("update_session", err)
	}
	return out, nil
}

// GetSession returns a stored session
func (ds *DataStore) GetSession(ctx context.Context, id string) (_ *model.TestingSession, err error) {
	defer ds.observe("get_session", time.Now(), &err)

	var row SessionRow
	if err := ds.DB.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("session", id)
		}
		return nil, wrapErr("get_session", err)
	}
	s, err := rowToSession(&row)
	if err != nil {
		return nil, wrapErr("get_session", err)
	}
	return s, nil
}

// GetAllSessions lists sessions newest first
func (ds *DataStore) GetAllSessions(ctx context.Context, f model.SessionFilters) (_ []model.TestingSession, err error) {
	defer ds.observe("list_sessions", time.Now(), &err)

	q := ds.DB.WithContext(ctx).Model(&SessionRow{})
	if f.OperatorID != "" {
		q = q.Where("operator_id = ?", f.OperatorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.ProjectName != "" {
		q = q.Where("project_name LIKE ?", "%"+f.ProjectName+"%")
	}
	if f.StartDate != nil {
		q = q.Where("start_time >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("start_time <= ?", *f.EndDate)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []SessionRow
	if err := q.Order("start_time DESC").Find(&rows).Error; err != nil {
		return nil, wrapErr("list_sessions", err)
	}

	sessions := make([]model.TestingSession, 0, len(rows))
	for i := range rows {
		s, err := rowToSession(&rows[i])
		if err != nil {
			return nil, wrapErr("list_sessions", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// GetSessionSyncStatus returns the local sync state of a session
func (ds *DataStore) GetSessionSyncStatus(ctx context.Context, id string) (model.SyncStatus, error) {
	var row SessionRow
	err := ds.DB.WithContext(ctx).Select("id", "sync_status").First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", notFound("session", id)
		}
		return "", wrapErr("get_sync_status", err)
	}
	return model.SyncStatus(row.SyncStatus), nil
}

// MarkSessionSynced records a successful sync of the session. A session
// that still has queued items, for example writes made while the sync was
// running, keeps its current status.
func (ds *DataStore) MarkSessionSynced(ctx context.Context, id string) (err error) {
	defer ds.observe("mark_synced", time.Now(), &err)

	res := ds.DB.WithContext(ctx).Model(&SessionRow{}).
		Where("id = ?", id).
		Where("NOT EXISTS (?)", ds.DB.Model(&PendingSyncRow{}).Select("1").Where("session_id = ?", id)).
		Updates(map[string]any{
			"sync_status":  string(model.SyncSynced),
			"sync_error":   "",
			"last_sync_at": ds.now(),
		})
	if res.Error != nil {
		return wrapErr("mark_synced", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := ds.DB.WithContext(ctx).Model(&SessionRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return wrapErr("mark_synced", err)
	}
	if n == 0 {
		return notFound("session", id)
	}
	ds.log.Debug("session has queued items, not marked synced", logger.String("session_id", id))
	return nil
}

// MarkSessionSyncError records a failed sync attempt of the session
func (ds *DataStore) MarkSessionSyncError(ctx context.Context, id, message string) error {
	return ds.setSyncState(ctx, "mark_sync_error", id, map[string]any{
		"sync_status": string(model.SyncError),
		"sync_error":  message,
	})
}

func (ds *DataStore) setSyncState(ctx context.Context, op, id string, values map[string]any) (err error) {
	defer ds.observe(op, time.Now(), &err)

	res := ds.DB.WithContext(ctx).Model(&SessionRow{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return wrapErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("session", id)
	}
	return nil
}

// PutRemoteSession replaces the local copy of a session, its signals and
// defects with remote data, drops its pending items and marks it synced.
// Nothing is queued.
func (ds *DataStore) PutRemoteSession(ctx context.Context, data *model.CompleteSessionData) (err error) {
	defer ds.observe("put_remote_session", time.Now(), &err)

	if data == nil || data.Session.ID == "" {
		return validationError("put_remote_session", "session id is required")
	}
	id := data.Session.ID
	row, err := sessionToRow(&data.Session)
	if err != nil {
		return wrapErr("put_remote_session", err)
	}
	now := ds.now()
	row.SyncStatus = string(model.SyncSynced)
	row.LastSyncAt = &now

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return err
		}
		if err := deleteSessionChildren(tx, id); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&PendingSyncRow{}).Error; err != nil {
			return err
		}
		if len(data.Signals) > 0 {
			rows := make([]SignalRow, len(data.Signals))
			for i := range data.Signals {
				rows[i] = signalToRow(id, &data.Signals[i])
			}
			if err := tx.CreateInBatches(rows, signalBatchSize).Error; err != nil {
				return err
			}
		}
		for i := range data.Defects {
			d := data.Defects[i]
			d.SessionID = id
			dr := defectToRow(&d)
			if err := tx.Create(&dr).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr("put_remote_session", err)
}

// DeleteSession removes a session with its signals, defects and pending
// items, then queues a remote delete.
func (ds *DataStore) DeleteSession(ctx context.Context, id string) (err error) {
	defer ds.observe("delete_session", time.Now(), &err)

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSessionChildren(tx, id); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&PendingSyncRow{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&SessionRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("session", id)
		}
		return ds.enqueueTx(tx, model.SyncTypeSession, model.ActionDelete, id, model.DeletePayload{ID: id})
	})
	return wrapErr("delete_session", err)
}

func deleteSessionChildren(tx *gorm.DB, sessionID string) error {
	if err := tx.Where("session_id = ?", sessionID).Delete(&SignalRow{}).Error; err != nil {
		return err
	}
	return tx.Where("session_id = ?", sessionID).Delete(&DefectRow{}).Error
}

// GetCompleteSessionData returns a session with all its signals and defects
func (ds *DataStore) GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error) {
	s, err := ds.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	signals, err := ds.GetSignalData(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	defects, err := ds.GetDefects(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CompleteSessionData{Session: *s, Signals: signals, Defects: defects}, nil
}
