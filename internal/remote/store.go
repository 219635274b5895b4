// Package remote is the long-term store sessions are synced to. Two
// backends implement Store: a PostgREST-style REST API with object storage,
// and a SQL database reached through gorm.
package remote

import (
	"context"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// ErrNotFound is wrapped by every lookup miss
var ErrNotFound = errors.NewStd("remote record not found")

// Store is the remote store contract. All rows are keyed by UUID strings.
type Store interface {
	CreateSession(ctx context.Context, s *model.TestingSession) error
	// UpdateSession replaces the stored session and stamps updated_at
	UpdateSession(ctx context.Context, s *model.TestingSession) error
	GetSession(ctx context.Context, id string) (*model.TestingSession, error)
	ListSessions(ctx context.Context, f model.SessionFilters) ([]model.TestingSession, error)
	DeleteSession(ctx context.Context, id string) error

	InsertSignals(ctx context.Context, sessionID string, samples []model.SignalSample) error
	// GetSignals returns samples in timestamp order; limit <= 0 means all
	GetSignals(ctx context.Context, sessionID string, limit int) ([]model.SignalSample, error)
	CountSignals(ctx context.Context, sessionID string) (int64, error)

	// InsertDefect is idempotent on the defect id
	InsertDefect(ctx context.Context, d *model.Defect) error
	GetDefects(ctx context.Context, sessionID string) ([]model.Defect, error)

	InsertCalibration(ctx context.Context, c *model.CalibrationData) error
	GetLatestCalibration(ctx context.Context, t model.CalibrationType) (*model.CalibrationData, error)
	// DeactivateCalibration clears is_active on every calibration of type t except exceptID
	DeactivateCalibration(ctx context.Context, t model.CalibrationType, exceptID string) error

	InsertReport(ctx context.Context, r *model.Report) error
	UpdateReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context, sessionID string) ([]model.Report, error)
	// UploadReportPDF stores the rendered document and returns its public URL
	UploadReportPDF(ctx context.Context, reportID string, data []byte) (string, error)
	DownloadReportPDF(ctx context.Context, reportID string) ([]byte, error)

	GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error)
	Close() error
}

// getCompleteSessionData assembles a session with its signals and defects
func getCompleteSessionData(ctx context.Context, s Store, id string) (*model.CompleteSessionData, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	signals, err := s.GetSignals(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	defects, err := s.GetDefects(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CompleteSessionData{Session: *session, Signals: signals, Defects: defects}, nil
}

func notFound(component, entity, id string) error {
	return errors.New(ErrNotFound).
		Component(component).
		Category(errors.CategoryNotFound).
		Context("entity", entity).
		Context("id", id).
		Build()
}

// Open builds the store selected by settings. The "none" driver returns a
// nil Store and no error.
func Open(settings conf.RemoteSettings, m *metrics.NetworkMetrics) (Store, error) {
	switch settings.Driver {
	case "", "none":
		return nil, nil
	case "rest":
		s, err := NewRESTStore(settings.REST, WithRESTMetrics(m))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		s, err := OpenMySQL(settings.MySQL, WithSQLMetrics(m))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("unknown remote driver %q", settings.Driver).
			Component("remote").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
