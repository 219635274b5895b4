package remote

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "remote.db")), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(testLogger(), 0),
	})
	require.NoError(t, err)
	store, err := NewSQLStore(db,
		WithSQLLogger(testLogger()),
		WithSQLNow(func() time.Time { return fixedNow }),
		WithPublicURL("https://files.example.com/"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLSessionRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	want := testSession()

	require.NoError(t, store.CreateSession(ctx, want))

	got, err := store.GetSession(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ProjectName, got.ProjectName)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Parameters, got.Parameters)
	assert.Equal(t, want.Metadata, got.Metadata)
	assert.True(t, want.StartTime.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)
}

func TestSQLCreateDuplicateSessionFails(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, testSession()))
	require.Error(t, store.CreateSession(ctx, testSession()))
}

func TestSQLUpdateSession(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	s := testSession()
	require.NoError(t, store.CreateSession(ctx, s))

	end := s.StartTime.Add(10 * time.Minute)
	s.Status = model.StatusCompleted
	s.EndTime = &end
	s.Parameters.Gain = 55
	require.NoError(t, store.UpdateSession(ctx, s))

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.InDelta(t, 55.0, got.Parameters.Gain, 0)
	assert.True(t, fixedNow.Equal(got.UpdatedAt), "updated_at should be stamped")
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt), "created_at must not change")

	// an update that changes nothing still matches the row
	require.NoError(t, store.UpdateSession(ctx, s))
}

func TestSQLUpdateMissingSession(t *testing.T) {
	store := newSQLiteStore(t)
	err := store.UpdateSession(context.Background(), testSession())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLGetMissingSession(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLListSessionsFilters(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i, name := range []string{"Pipe weld A", "Pipe weld B", "Boiler shell"} {
		s := testSession()
		s.ID = []string{"s1", "s2", "s3"}[i]
		s.ProjectName = name
		s.StartTime = base.Add(time.Duration(i) * time.Hour)
		if i == 2 {
			s.OperatorID = "op-9"
			s.Status = model.StatusCompleted
		}
		require.NoError(t, store.CreateSession(ctx, s))
	}

	all, err := store.ListSessions(ctx, model.SessionFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID, "newest first")

	welds, err := store.ListSessions(ctx, model.SessionFilters{ProjectName: "WELD"})
	require.NoError(t, err)
	assert.Len(t, welds, 2)

	byOp, err := store.ListSessions(ctx, model.SessionFilters{OperatorID: "op-9", Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, byOp, 1)
	assert.Equal(t, "s3", byOp[0].ID)

	from := base.Add(30 * time.Minute)
	limited, err := store.ListSessions(ctx, model.SessionFilters{StartDate: &from, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "s3", limited[0].ID)
}

func TestSQLSignalsOrderedAndCounted(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	samples := []model.SignalSample{
		{Timestamp: 30, Amplitude: 3},
		{Timestamp: 10, Amplitude: 1},
		{Timestamp: 20, Amplitude: 2},
	}
	require.NoError(t, store.InsertSignals(ctx, "s1", samples))
	require.NoError(t, store.InsertSignals(ctx, "s1", nil))

	got, err := store.GetSignals(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})

	limited, err := store.GetSignals(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := store.CountSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSQLInsertDefectIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	d := &model.Defect{
		ID: "d1", SessionID: "s1", Position: 0.5, Amplitude: 2.1,
		Severity: model.SeverityMedium, GateTriggered: model.GateA, Timestamp: fixedNow,
	}
	require.NoError(t, store.InsertDefect(ctx, d))
	d.Notes = "confirmed"
	require.NoError(t, store.InsertDefect(ctx, d))

	got, err := store.GetDefects(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "confirmed", got[0].Notes)
	assert.Equal(t, model.GateA, got[0].GateTriggered)
}

func TestSQLCalibrationActivation(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	older := &model.CalibrationData{
		ID: "c1", CalibrationType: model.CalibrationSystemCheck, IsActive: true,
		CalibrationDate: fixedNow.Add(-24 * time.Hour), Coefficients: map[string]float64{"k": 1},
	}
	newer := &model.CalibrationData{
		ID: "c2", CalibrationType: model.CalibrationSystemCheck, IsActive: true,
		CalibrationDate: fixedNow, ReferenceSignal: []float64{0.1, 0.2},
	}
	require.NoError(t, store.InsertCalibration(ctx, older))
	require.NoError(t, store.InsertCalibration(ctx, newer))
	require.NoError(t, store.DeactivateCalibration(ctx, model.CalibrationSystemCheck, "c2"))

	got, err := store.GetLatestCalibration(ctx, model.CalibrationSystemCheck)
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ID)
	assert.Equal(t, []float64{0.1, 0.2}, got.ReferenceSignal)

	var active int64
	require.NoError(t, store.DB.Model(&CalibrationRecord{}).Where("is_active = ?", true).Count(&active).Error)
	assert.Equal(t, int64(1), active)

	_, err = store.GetLatestCalibration(ctx, model.CalibrationCustom)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLReportsAndFiles(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, testSession()))
	sessionID := testSession().ID

	r := &model.Report{
		ID: "r1", SessionID: sessionID, ReportType: model.ReportStandard,
		Standard: model.StandardASME, Content: []byte(`{"title":"x"}`),
		GeneratedBy: "op-7", GeneratedAt: fixedNow,
	}
	require.NoError(t, store.InsertReport(ctx, r))

	url, err := store.UploadReportPDF(ctx, "r1", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/reports/r1.pdf", url)

	r.PDFURL = url
	require.NoError(t, store.UpdateReport(ctx, r))

	got, err := store.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, url, got.PDFURL)
	assert.JSONEq(t, `{"title":"x"}`, string(got.Content))

	list, err := store.ListReports(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	data, err := store.DownloadReportPDF(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	require.NoError(t, store.DeleteSession(ctx, sessionID))
	_, err = store.GetReport(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.DownloadReportPDF(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteSession(ctx, sessionID), ErrNotFound)
}

func TestSQLCompleteSessionData(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	s := testSession()
	require.NoError(t, store.CreateSession(ctx, s))
	require.NoError(t, store.InsertSignals(ctx, s.ID, []model.SignalSample{{Timestamp: 1}, {Timestamp: 2}}))
	require.NoError(t, store.InsertDefect(ctx, &model.Defect{ID: "d1", SessionID: s.ID, Severity: model.SeverityLow}))

	data, err := store.GetCompleteSessionData(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, data.Session.ID)
	assert.Len(t, data.Signals, 2)
	assert.Len(t, data.Defects, 1)
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(conf.MySQLSettings{
		Host: "db.local", Port: "3307", Username: "magtest", Password: "pw", Database: "ndt",
	})
	assert.Contains(t, dsn, "magtest:pw@tcp(db.local:3307)/ndt?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

// newMySQLMock returns a store on the mysql dialect backed by sqlmock. The
// schema is not migrated.
func newMySQLMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(testLogger(), 0),
	})
	require.NoError(t, err)
	return &SQLStore{DB: db, log: testLogger(), now: func() time.Time { return fixedNow }}, mock
}

func TestMySQLUpdateSessionNoRowsIsNotFound(t *testing.T) {
	store, mock := newMySQLMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `testing_sessions` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.UpdateSession(context.Background(), testSession())
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDeactivateCalibration(t *testing.T) {
	store, mock := newMySQLMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `calibrations` SET `is_active`=?")).
		WithArgs(false, "system_check", true, "c2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, store.DeactivateCalibration(context.Background(), model.CalibrationSystemCheck, "c2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCountSignals(t *testing.T) {
	store, mock := newMySQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `signal_data` WHERE session_id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := store.CountSignals(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLQueryErrorIsDatabaseCategory(t *testing.T) {
	store, mock := newMySQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `defects`")).
		WillReturnError(errors.NewStd("connection reset"))

	_, err := store.GetDefects(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}
