package remote

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// ReportFileRecord holds a rendered report document
type ReportFileRecord struct {
	ReportID    string    `gorm:"primaryKey;type:varchar(36)"`
	ContentType string    `gorm:"type:varchar(64)"`
	Data        []byte    `gorm:"type:longblob"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (ReportFileRecord) TableName() string { return "report_files" }

// SQLStore keeps remote tables in a SQL database
type SQLStore struct {
	DB        *gorm.DB
	publicURL string
	log       logger.Logger
	metrics   *metrics.NetworkMetrics
	now       func() time.Time
}

// SQLOption configures a SQLStore
type SQLOption func(*SQLStore)

// WithSQLLogger sets the logger
func WithSQLLogger(l logger.Logger) SQLOption {
	return func(s *SQLStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSQLMetrics records statement latency
func WithSQLMetrics(m *metrics.NetworkMetrics) SQLOption {
	return func(s *SQLStore) { s.metrics = m }
}

// WithSQLNow overrides the clock used for updated_at
func WithSQLNow(now func() time.Time) SQLOption {
	return func(s *SQLStore) { s.now = now }
}

// WithPublicURL sets the prefix used to build report file URLs
func WithPublicURL(prefix string) SQLOption {
	return func(s *SQLStore) { s.publicURL = strings.TrimRight(prefix, "/") }
}

// MySQLDSN builds the driver DSN for cfg
func MySQLDSN(cfg conf.MySQLSettings) string {
	c := gomysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	// affected rows must count matched rows so unchanged updates are not misses
	c.ClientFoundRows = true
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// OpenMySQL connects to the configured MySQL database and migrates the schema
func OpenMySQL(cfg conf.MySQLSettings, opts ...SQLOption) (*SQLStore, error) {
	log := logger.Global().Module("remote").Module("sql")
	db, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, 500*time.Millisecond),
	})
	if err != nil {
		return nil, sqlError("open", fmt.Errorf("failed to open MySQL database: %w", err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, sqlError("open", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	opts = append([]SQLOption{WithSQLLogger(log), WithPublicURL(cfg.PublicURL)}, opts...)
	store, err := NewSQLStore(db, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info("remote SQL store connected",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return store, nil
}

// NewSQLStore wraps an open gorm connection and migrates the schema
func NewSQLStore(db *gorm.DB, opts ...SQLOption) (*SQLStore, error) {
	s := &SQLStore{
		DB:  db,
		log: logger.Global().Module("remote").Module("sql"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(
		&SessionRecord{},
		&SignalRecord{},
		&DefectRecord{},
		&CalibrationRecord{},
		&ReportRecord{},
		&ReportFileRecord{},
	); err != nil {
		return nil, sqlError("migrate", fmt.Errorf("failed to migrate remote schema: %w", err))
	}
	return s, nil
}

func sqlError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.Join(ErrNotFound, err)).
			Component("remote").
			Category(errors.CategoryNotFound).
			Context("operation", op).
			Build()
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.New(err).
			Component("remote").
			Category(errors.CategoryConflict).
			Context("operation", op).
			Build()
	}
	return errors.New(err).
		Component("remote").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

func (s *SQLStore) observe(op string, start time.Time, err *error) {
	if *err != nil {
		var ee *errors.EnhancedError
		if !errors.As(*err, &ee) {
			*err = sqlError(op, *err)
		}
	}
	s.metrics.RecordRemote(op, time.Since(start), *err)
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// CreateSession inserts a new session row
func (s *SQLStore) CreateSession(ctx context.Context, session *model.TestingSession) (err error) {
	defer s.observe(OpCreateSession, time.Now(), &err)
	rec, err := sessionToRecord(session)
	if err != nil {
		return mappingError(OpCreateSession, err)
	}
	return s.db(ctx).Create(rec).Error
}

// UpdateSession replaces the session row and stamps updated_at
func (s *SQLStore) UpdateSession(ctx context.Context, session *model.TestingSession) (err error) {
	defer s.observe(OpUpdateSession, time.Now(), &err)
	rec, err := sessionToRecord(session)
	if err != nil {
		return mappingError(OpUpdateSession, err)
	}
	rec.UpdatedAt = s.now().UTC()
	res := s.db(ctx).Model(&SessionRecord{}).Where("id = ?", session.ID).Select("*").Omit("id", "created_at").Updates(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("remote", "session", session.ID)
	}
	return nil
}

// GetSession fetches one session by id
func (s *SQLStore) GetSession(ctx context.Context, id string) (_ *model.TestingSession, err error) {
	defer s.observe(OpGetSession, time.Now(), &err)
	var rec SessionRecord
	if err := s.db(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("remote", "session", id)
		}
		return nil, err
	}
	session, err := recordToSession(&rec)
	if err != nil {
		return nil, mappingError(OpGetSession, err)
	}
	return session, nil
}

// ListSessions returns sessions matching f, newest first
func (s *SQLStore) ListSessions(ctx context.Context, f model.SessionFilters) (_ []model.TestingSession, err error) {
	defer s.observe(OpListSessions, time.Now(), &err)
	q := s.db(ctx).Model(&SessionRecord{})
	if f.OperatorID != "" {
		q = q.Where("operator_id = ?", f.OperatorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.ProjectName != "" {
		q = q.Where("LOWER(project_name) LIKE ?", "%"+strings.ToLower(f.ProjectName)+"%")
	}
	if f.StartDate != nil {
		q = q.Where("start_time >= ?", f.StartDate.UTC())
	}
	if f.EndDate != nil {
		q = q.Where("start_time <= ?", f.EndDate.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var recs []SessionRecord
	if err := q.Order("start_time DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.TestingSession, 0, len(recs))
	for i := range recs {
		session, err := recordToSession(&recs[i])
		if err != nil {
			return nil, mappingError(OpListSessions, err)
		}
		out = append(out, *session)
	}
	return out, nil
}

// DeleteSession removes a session and its child rows
func (s *SQLStore) DeleteSession(ctx context.Context, id string) (err error) {
	defer s.observe(OpDeleteSession, time.Now(), &err)
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		var reportIDs []string
		if err := tx.Model(&ReportRecord{}).Where("session_id = ?", id).Pluck("id", &reportIDs).Error; err != nil {
			return err
		}
		if len(reportIDs) > 0 {
			if err := tx.Where("report_id IN ?", reportIDs).Delete(&ReportFileRecord{}).Error; err != nil {
				return err
			}
		}
		for _, m := range []any{&ReportRecord{}, &DefectRecord{}, &SignalRecord{}} {
			if err := tx.Where("session_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&SessionRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("remote", "session", id)
		}
		return nil
	})
}

// InsertSignals bulk inserts samples for a session
func (s *SQLStore) InsertSignals(ctx context.Context, sessionID string, samples []model.SignalSample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	defer s.observe(OpInsertSignals, time.Now(), &err)
	recs := signalsToRecords(sessionID, samples)
	return s.db(ctx).CreateInBatches(recs, 500).Error
}

// GetSignals returns samples in timestamp order
func (s *SQLStore) GetSignals(ctx context.Context, sessionID string, limit int) (_ []model.SignalSample, err error) {
	defer s.observe(OpGetSignals, time.Now(), &err)
	q := s.db(ctx).Where("session_id = ?", sessionID).Order("timestamp ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []SignalRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recordsToSignals(recs), nil
}

// CountSignals returns the number of stored samples for a session
func (s *SQLStore) CountSignals(ctx context.Context, sessionID string) (n int64, err error) {
	defer s.observe(OpCountSignals, time.Now(), &err)
	err = s.db(ctx).Model(&SignalRecord{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

// InsertDefect upserts a defect row
func (s *SQLStore) InsertDefect(ctx context.Context, d *model.Defect) (err error) {
	defer s.observe(OpInsertDefect, time.Now(), &err)
	return s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(defectToRecord(d)).Error
}

// GetDefects returns the session's defects ordered by position
func (s *SQLStore) GetDefects(ctx context.Context, sessionID string) (_ []model.Defect, err error) {
	defer s.observe(OpGetDefects, time.Now(), &err)
	var recs []DefectRecord
	if err := s.db(ctx).Where("session_id = ?", sessionID).Order("position ASC, timestamp ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recordsToDefects(recs), nil
}

// InsertCalibration upserts a calibration row
func (s *SQLStore) InsertCalibration(ctx context.Context, c *model.CalibrationData) (err error) {
	defer s.observe(OpInsertCalibration, time.Now(), &err)
	rec, err := calibrationToRecord(c)
	if err != nil {
		return mappingError(OpInsertCalibration, err)
	}
	return s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// GetLatestCalibration returns the newest active calibration of type t
func (s *SQLStore) GetLatestCalibration(ctx context.Context, t model.CalibrationType) (_ *model.CalibrationData, err error) {
	defer s.observe(OpGetCalibration, time.Now(), &err)
	q := s.db(ctx).Where("is_active = ?", true)
	if t != "" {
		q = q.Where("calibration_type = ?", string(t))
	}
	var rec CalibrationRecord
	if err := q.Order("calibration_date DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("remote", "calibration", string(t))
		}
		return nil, err
	}
	c, err := recordToCalibration(&rec)
	if err != nil {
		return nil, mappingError(OpGetCalibration, err)
	}
	return c, nil
}

// DeactivateCalibration clears is_active on other calibrations of type t
func (s *SQLStore) DeactivateCalibration(ctx context.Context, t model.CalibrationType, exceptID string) (err error) {
	defer s.observe(OpDeactivateCalibration, time.Now(), &err)
	return s.db(ctx).Model(&CalibrationRecord{}).
		Where("calibration_type = ? AND is_active = ? AND id <> ?", string(t), true, exceptID).
		Update("is_active", false).Error
}

// InsertReport inserts a report row
func (s *SQLStore) InsertReport(ctx context.Context, r *model.Report) (err error) {
	defer s.observe(OpInsertReport, time.Now(), &err)
	return s.db(ctx).Create(reportToRecord(r)).Error
}

// UpdateReport replaces a report row
func (s *SQLStore) UpdateReport(ctx context.Context, r *model.Report) (err error) {
	defer s.observe(OpUpdateReport, time.Now(), &err)
	res := s.db(ctx).Model(&ReportRecord{}).Where("id = ?", r.ID).Select("*").Omit("id").Updates(reportToRecord(r))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("remote", "report", r.ID)
	}
	return nil
}

// GetReport fetches one report by id
func (s *SQLStore) GetReport(ctx context.Context, id string) (_ *model.Report, err error) {
	defer s.observe(OpGetReport, time.Now(), &err)
	var rec ReportRecord
	if err := s.db(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("remote", "report", id)
		}
		return nil, err
	}
	return recordToReport(&rec), nil
}

// ListReports returns the session's reports, newest first
func (s *SQLStore) ListReports(ctx context.Context, sessionID string) (_ []model.Report, err error) {
	defer s.observe(OpListReports, time.Now(), &err)
	var recs []ReportRecord
	if err := s.db(ctx).Where("session_id = ?", sessionID).Order("generated_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.Report, len(recs))
	for i := range recs {
		out[i] = *recordToReport(&recs[i])
	}
	return out, nil
}

// UploadReportPDF stores the document in report_files and returns its URL
func (s *SQLStore) UploadReportPDF(ctx context.Context, reportID string, data []byte) (_ string, err error) {
	defer s.observe(OpUploadReport, time.Now(), &err)
	rec := &ReportFileRecord{
		ReportID:    reportID,
		ContentType: "application/pdf",
		Data:        data,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
		return "", err
	}
	return s.publicURL + "/reports/" + reportID + ".pdf", nil
}

// DownloadReportPDF fetches a stored document
func (s *SQLStore) DownloadReportPDF(ctx context.Context, reportID string) (_ []byte, err error) {
	defer s.observe(OpDownloadReport, time.Now(), &err)
	var rec ReportFileRecord
	if err := s.db(ctx).Where("report_id = ?", reportID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("remote", "report file", reportID)
		}
		return nil, err
	}
	return rec.Data, nil
}

// GetCompleteSessionData fetches a session with its signals and defects
func (s *SQLStore) GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error) {
	return getCompleteSessionData(ctx, s, id)
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return sqlError("close", err)
	}
	return sqlDB.Close()
}
