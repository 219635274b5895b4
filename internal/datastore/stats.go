package datastore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

// StorageStats summarizes the offline store
type StorageStats struct {
	Sessions       int64
	SignalRows     int64
	Defects        int64
	Calibrations   int64
	PendingItems   int64
	UnsyncedCount  int64  // sessions not yet synced
	DatabaseBytes  int64  // database file plus WAL
	VolumeTotal    uint64 // bytes on the database volume, 0 when unknown
	VolumeFree     uint64
	VolumeUsedPerc float64
}

// GetStorageStats counts rows and inspects the database volume
func (ds *DataStore) GetStorageStats(ctx context.Context) (_ *StorageStats, err error) {
	defer ds.observe("storage_stats", time.Now(), &err)

	stats := &StorageStats{}
	db := ds.DB.WithContext(ctx)
	counts := []struct {
		model any
		dst   *int64
	}{
		{&SessionRow{}, &stats.Sessions},
		{&SignalRow{}, &stats.SignalRows},
		{&DefectRow{}, &stats.Defects},
		{&CalibrationRow{}, &stats.Calibrations},
		{&PendingSyncRow{}, &stats.PendingItems},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, wrapErr("storage_stats", err)
		}
	}
	if err := db.Model(&SessionRow{}).Where("sync_status <> ?", string(model.SyncSynced)).Count(&stats.UnsyncedCount).Error; err != nil {
		return nil, wrapErr("storage_stats", err)
	}

	if !isMemoryPath(ds.path) {
		for _, p := range []string{ds.path, ds.path + "-wal"} {
			if fi, err := os.Stat(p); err == nil {
				stats.DatabaseBytes += fi.Size()
			}
		}
		ds.metrics.SetDatabaseSize(stats.DatabaseBytes)

		dir, _ := filepath.Abs(filepath.Dir(ds.path))
		if usage, err := disk.Usage(dir); err == nil {
			stats.VolumeTotal = usage.Total
			stats.VolumeFree = usage.Free
			stats.VolumeUsedPerc = usage.UsedPercent
		} else {
			ds.log.Debug("volume usage unavailable", logger.String("dir", dir), logger.Error(err))
		}
	}
	ds.metrics.SetPendingItems(stats.PendingItems)
	return stats, nil
}

// ClearSyncedData deletes synced sessions that started more than
// olderThanDays days ago, with their signals and defects. Unsynced and
// sync-error sessions are never deleted. It returns the number of sessions
// removed.
func (ds *DataStore) ClearSyncedData(ctx context.Context, olderThanDays int) (removed int64, err error) {
	defer ds.observe("clear_synced", time.Now(), &err)

	if olderThanDays < 0 {
		return 0, validationError("clear_synced", "olderThanDays must not be negative")
	}
	cutoff := ds.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&SessionRow{}).
			Where("sync_status = ? AND start_time < ?", string(model.SyncSynced), cutoff).
			Where("NOT EXISTS (?)", tx.Model(&PendingSyncRow{}).Select("1").Where("pending_sync.session_id = sessions.id")).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&SignalRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&DefectRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&SessionRow{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, wrapErr("clear_synced", err)
	}
	if removed > 0 {
		ds.log.Info("cleared synced sessions",
			logger.Int64("sessions", removed),
			logger.Int("older_than_days", olderThanDays))
	}
	return removed, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
