package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/model"
)

// SaveDefect stores one defect and queues its remote create
func (ds *DataStore) SaveDefect(ctx context.Context, d *model.Defect) (err error) {
	defer ds.observe("save_defect", time.Now(), &err)

	if d == nil || d.ID == "" || d.SessionID == "" {
		return validationError("save_defect", "defect id and session id are required")
	}
	row := defectToRow(d)
	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return ds.enqueueTx(tx, model.SyncTypeDefect, model.ActionCreate, d.SessionID, d)
	})
	return wrapErr("save_defect", err)
}

// SaveDefects stores defects of one session in a single transaction with
// one queue item per defect.
func (ds *DataStore) SaveDefects(ctx context.Context, sessionID string, defects []model.Defect) (err error) {
	defer ds.observe("save_defects", time.Now(), &err)

	if sessionID == "" {
		return validationError("save_defects", "session id is required")
	}
	if len(defects) == 0 {
		return nil
	}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range defects {
			d := defects[i]
			d.SessionID = sessionID
			if d.ID == "" {
				return validationError("save_defects", "defect id is required")
			}
			row := defectToRow(&d)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if err := ds.enqueueTx(tx, model.SyncTypeDefect, model.ActionCreate, sessionID, &d); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr("save_defects", err)
}

// GetDefects returns a session's defects in detection order
func (ds *DataStore) GetDefects(ctx context.Context, sessionID string) (_ []model.Defect, err error) {
	defer ds.observe("get_defects", time.Now(), &err)

	var rows []DefectRow
	err = ds.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("get_defects", err)
	}
	out := make([]model.Defect, len(rows))
	for i := range rows {
		out[i] = rowToDefect(&rows[i])
	}
	return out, nil
}
