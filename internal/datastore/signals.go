package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/model"
)

// SaveSignalData stores a batch of samples and queues one signal_data item
// carrying the whole batch.
func (ds *DataStore) SaveSignalData(ctx context.Context, sessionID string, samples []model.SignalSample) (err error) {
	defer ds.observe("save_signals", time.Now(), &err)

	if sessionID == "" {
		return validationError("save_signals", "session id is required")
	}
	if len(samples) == 0 {
		return nil
	}

	rows := make([]SignalRow, len(samples))
	for i := range samples {
		rows[i] = signalToRow(sessionID, &samples[i])
	}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, signalBatchSize).Error; err != nil {
			return err
		}
		return ds.enqueueTx(tx, model.SyncTypeSignalData, model.ActionCreate, sessionID,
			model.SignalBatch{SessionID: sessionID, Samples: samples})
	})
	return wrapErr("save_signals", err)
}

// GetSignalData returns a session's samples in timestamp order. limit <= 0
// returns all samples.
func (ds *DataStore) GetSignalData(ctx context.Context, sessionID string, limit int) (_ []model.SignalSample, err error) {
	defer ds.observe("get_signals", time.Now(), &err)

	q := ds.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("timestamp ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []SignalRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapErr("get_signals", err)
	}
	out := make([]model.SignalSample, len(rows))
	for i := range rows {
		out[i] = rowToSignal(&rows[i])
	}
	return out, nil
}
