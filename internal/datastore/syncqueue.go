package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/model"
)

// EnqueueSyncItem appends an item to the sync queue outside of an entity
// write, for example a force-push of local data after a conflict.
func (ds *DataStore) EnqueueSyncItem(ctx context.Context, item *model.PendingSyncItem) (err error) {
	defer ds.observe("enqueue_sync_item", time.Now(), &err)

	if item == nil || item.Type.Order() > 3 || item.Action.Order() > 2 {
		return validationError("enqueue_sync_item", "sync item type and action are required")
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = ds.now()
	}
	row := PendingSyncRow{
		Type:       string(item.Type),
		Action:     string(item.Action),
		Data:       string(item.Data),
		Timestamp:  item.Timestamp,
		RetryCount: item.RetryCount,
		SessionID:  item.SessionID,
	}
	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertPendingTx(tx, &row)
	})
	if err != nil {
		return wrapErr("enqueue_sync_item", err)
	}
	item.ID = row.ID
	return nil
}

// GetPendingSyncItems returns the queue in insertion order
func (ds *DataStore) GetPendingSyncItems(ctx context.Context) (_ []model.PendingSyncItem, err error) {
	defer ds.observe("get_pending", time.Now(), &err)

	var rows []PendingSyncRow
	if err := ds.DB.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapErr("get_pending", err)
	}
	items := make([]model.PendingSyncItem, len(rows))
	for i := range rows {
		items[i] = rowToPending(&rows[i])
	}
	ds.metrics.SetPendingItems(int64(len(items)))
	return items, nil
}

// RemoveSyncItem drops an acknowledged item
func (ds *DataStore) RemoveSyncItem(ctx context.Context, id int64) (err error) {
	defer ds.observe("remove_sync_item", time.Now(), &err)
	return wrapErr("remove_sync_item", ds.DB.WithContext(ctx).Delete(&PendingSyncRow{}, id).Error)
}

// UpdateSyncItemRetry increments the retry count of a failed item
func (ds *DataStore) UpdateSyncItemRetry(ctx context.Context, id int64, lastError string) (err error) {
	defer ds.observe("update_sync_retry", time.Now(), &err)

	res := ds.DB.WithContext(ctx).Model(&PendingSyncRow{}).Where("id = ?", id).Updates(map[string]any{
		"retry_count": gorm.Expr("retry_count + ?", 1),
		"last_error":  lastError,
	})
	if res.Error != nil {
		return wrapErr("update_sync_retry", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("sync item", formatID(id))
	}
	return nil
}

// PendingCount returns the queue length
func (ds *DataStore) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := ds.DB.WithContext(ctx).Model(&PendingSyncRow{}).Count(&n).Error; err != nil {
		return 0, wrapErr("pending_count", err)
	}
	ds.metrics.SetPendingItems(n)
	return n, nil
}
