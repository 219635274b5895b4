package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
)

// SaveCalibration stores a calibration and queues its remote create. An
// active calibration deactivates every other active one of its type.
func (ds *DataStore) SaveCalibration(ctx context.Context, c *model.CalibrationData) (err error) {
	defer ds.observe("save_calibration", time.Now(), &err)

	if c == nil || c.CalibrationType == "" {
		return validationError("save_calibration", "calibration type is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CalibrationDate.IsZero() {
		c.CalibrationDate = ds.now()
	}
	row, err := calibrationToRow(c)
	if err != nil {
		return wrapErr("save_calibration", err)
	}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.IsActive {
			err := tx.Model(&CalibrationRow{}).
				Where("calibration_type = ? AND is_active = ? AND id <> ?", row.CalibrationType, true, row.ID).
				Update("is_active", false).Error
			if err != nil {
				return err
			}
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return ds.enqueueTx(tx, model.SyncTypeCalibration, model.ActionCreate, "", c)
	})
	return wrapErr("save_calibration", err)
}

// GetLatestCalibration returns the newest active calibration of type t, or
// of any type when t is empty.
func (ds *DataStore) GetLatestCalibration(ctx context.Context, t model.CalibrationType) (_ *model.CalibrationData, err error) {
	defer ds.observe("get_calibration", time.Now(), &err)

	q := ds.DB.WithContext(ctx).Where("is_active = ?", true)
	if t != "" {
		q = q.Where("calibration_type = ?", string(t))
	}
	var row CalibrationRow
	if err := q.Order("calibration_date DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("calibration", string(t))
		}
		return nil, wrapErr("get_calibration", err)
	}
	c, err := rowToCalibration(&row)
	if err != nil {
		return nil, wrapErr("get_calibration", err)
	}
	return c, nil
}
