// Package datastore is the local offline store. Every mutating write is
// persisted together with a pending sync item in one transaction so the
// sync queue always describes exactly the writes the remote has not seen.
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// Interface abstracts the offline store for the session, sync and report layers.
type Interface interface {
	Close() error

	// sessions
	SaveSession(ctx context.Context, s *model.TestingSession) error
	UpdateSession(ctx context.Context, id string, u model.SessionUpdate) (*model.TestingSession, error)
	GetSession(ctx context.Context, id string) (*model.TestingSession, error)
	GetAllSessions(ctx context.Context, filters model.SessionFilters) ([]model.TestingSession, error)
	GetSessionSyncStatus(ctx context.Context, id string) (model.SyncStatus, error)
	MarkSessionSynced(ctx context.Context, id string) error
	MarkSessionSyncError(ctx context.Context, id, message string) error
	PutRemoteSession(ctx context.Context, data *model.CompleteSessionData) error
	DeleteSession(ctx context.Context, id string) error
	GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error)

	// signals and defects
	SaveSignalData(ctx context.Context, sessionID string, samples []model.SignalSample) error
	GetSignalData(ctx context.Context, sessionID string, limit int) ([]model.SignalSample, error)
	SaveDefect(ctx context.Context, d *model.Defect) error
	SaveDefects(ctx context.Context, sessionID string, defects []model.Defect) error
	GetDefects(ctx context.Context, sessionID string) ([]model.Defect, error)

	// calibration
	SaveCalibration(ctx context.Context, c *model.CalibrationData) error
	GetLatestCalibration(ctx context.Context, t model.CalibrationType) (*model.CalibrationData, error)

	// sync queue
	EnqueueSyncItem(ctx context.Context, item *model.PendingSyncItem) error
	GetPendingSyncItems(ctx context.Context) ([]model.PendingSyncItem, error)
	RemoveSyncItem(ctx context.Context, id int64) error
	UpdateSyncItemRetry(ctx context.Context, id int64, lastError string) error
	PendingCount(ctx context.Context) (int64, error)

	// maintenance
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	ClearSyncedData(ctx context.Context, olderThanDays int) (int64, error)
}

// DataStore implements Interface on gorm.
type DataStore struct {
	DB        *gorm.DB
	path      string
	now       func() time.Time
	log       logger.Logger
	metrics   *metrics.DatastoreMetrics
	slowQuery time.Duration
}

var _ Interface = (*DataStore)(nil)

// Option configures a DataStore
type Option func(*DataStore)

// WithLogger overrides the module logger
func WithLogger(log logger.Logger) Option {
	return func(ds *DataStore) { ds.log = log }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.DatastoreMetrics) Option {
	return func(ds *DataStore) { ds.metrics = m }
}

// WithNow sets the clock used for created/updated timestamps
func WithNow(now func() time.Time) Option {
	return func(ds *DataStore) { ds.now = now }
}

// WithSlowQueryThreshold logs queries slower than d at warn level
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(ds *DataStore) { ds.slowQuery = d }
}

// Close closes the underlying connection pool
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError("close", err)
	}
	return sqlDB.Close()
}

// observe records an operation outcome; use as defer ds.observe(op, time.Now(), &err)
func (ds *DataStore) observe(op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	ds.metrics.RecordOperation(op, time.Since(start), e)
}
