package report

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/remote"
)

var quiet = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

func seedRemote(t *testing.T, m *remote.Mock, id, project string, defects ...model.Severity) {
	t.Helper()
	ctx := context.Background()
	data := completeSession(50, nil)
	data.Session.ID = id
	data.Session.ProjectName = project
	require.NoError(t, m.CreateSession(ctx, &data.Session))
	require.NoError(t, m.InsertSignals(ctx, id, data.Signals))
	for i, d := range testDefects(defects...) {
		d.ID = id + "-" + d.ID
		d.SessionID = id
		d.Position = float64(i)
		require.NoError(t, m.InsertDefect(ctx, &d))
	}
}

func newService(m *remote.Mock, opts ...Option) *Service {
	opts = append([]Option{
		WithStore(m),
		WithLogger(quiet),
		WithNow(func() time.Time { return start.Add(time.Hour) }),
	}, opts...)
	return NewService(m, opts...)
}

func TestGenerateAndStore(t *testing.T) {
	m := remote.NewMock()
	seedRemote(t, m, "s-1", "Weld 12", model.SeverityHigh)
	m.ResetCalls()

	svc := newService(m)
	res, err := svc.GenerateAndStore(t.Context(), "s-1", "J. Doe", Config{Standard: model.StandardEN})
	require.NoError(t, err)
	require.True(t, res.Success())

	assert.Equal(t, []string{
		remote.OpGetSession,
		remote.OpGetSignals,
		remote.OpGetDefects,
		remote.OpInsertReport,
		remote.OpUploadReport,
		remote.OpUpdateReport,
	}, m.Ops())

	assert.Equal(t, "mock://reports/"+res.ReportID+".pdf", res.URL)
	assert.Equal(t, "en-10228", res.Document.TemplateID)

	rec, err := m.GetReport(t.Context(), res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "s-1", rec.SessionID)
	assert.Equal(t, model.StandardEN, rec.Standard)
	assert.Equal(t, model.ReportStandard, rec.ReportType)
	assert.Equal(t, "J. Doe", rec.GeneratedBy)
	assert.Equal(t, res.URL, rec.PDFURL)
	assert.Contains(t, string(rec.Content), `"verdict":"CONDITIONAL"`)
	assert.Contains(t, string(rec.Content), `"high":1`)

	data, err := svc.Download(t.Context(), res.ReportID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Magnetic Particle Testing of Steel Forgings")
}

func TestGenerateAndStoreUploadFailure(t *testing.T) {
	m := remote.NewMock()
	seedRemote(t, m, "s-1", "Weld 12")
	m.Fail(remote.OpUploadReport, errors.NewStd("bucket unavailable"))
	m.ResetCalls()

	res, err := newService(m).GenerateAndStore(t.Context(), "s-1", "J. Doe", Config{})
	require.NoError(t, err)
	assert.Empty(t, res.URL)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "bucket unavailable")
	assert.NotContains(t, m.Ops(), remote.OpUpdateReport)

	// The report row exists without a URL
	rec, err := m.GetReport(t.Context(), res.ReportID)
	require.NoError(t, err)
	assert.Empty(t, rec.PDFURL)
}

func TestGenerateAndStoreMissingSession(t *testing.T) {
	m := remote.NewMock()
	_, err := newService(m).GenerateAndStore(t.Context(), "nope", "J. Doe", Config{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.NotContains(t, m.Ops(), remote.OpInsertReport)
}

func TestGenerateWritesLocalFile(t *testing.T) {
	m := remote.NewMock()
	seedRemote(t, m, "s-1", "Weld 12 / north")
	dir := filepath.Join(t.TempDir(), "reports")

	svc := NewService(m, WithLogger(quiet), WithOutputDir(dir))
	res, err := svc.GenerateAndStore(t.Context(), "s-1", "J. Doe", Config{})
	require.NoError(t, err)
	assert.Empty(t, res.URL, "no store configured")

	require.NotEmpty(t, res.LocalPath)
	base := filepath.Base(res.LocalPath)
	assert.True(t, strings.HasPrefix(base, "Weld_12_north-"), base)
	assert.Equal(t, ".txt", filepath.Ext(base))

	data, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Weld 12 / north")
}

func TestBatchGenerate(t *testing.T) {
	m := remote.NewMock()
	seedRemote(t, m, "s-1", "Weld 1")
	seedRemote(t, m, "s-3", "Weld 3", model.SeverityCritical)

	svc := newService(m, WithConcurrency(2))
	results, err := svc.BatchGenerate(t.Context(), []string{"s-1", "s-2", "s-3"}, "J. Doe", Config{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "s-1", results[0].SessionID)
	assert.True(t, results[0].Success())
	assert.Equal(t, VerdictAccept, results[0].Document.Verdict)

	assert.Equal(t, "s-2", results[1].SessionID)
	assert.False(t, results[1].Success())

	assert.Equal(t, "s-3", results[2].SessionID)
	assert.True(t, results[2].Success())
	assert.Equal(t, VerdictReject, results[2].Document.Verdict)
}

func TestBatchGenerateRejectsEmpty(t *testing.T) {
	_, err := newService(remote.NewMock()).BatchGenerate(t.Context(), nil, "J. Doe", Config{})
	require.ErrorIs(t, err, ErrNoSessions)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRegenerateKeepsStandard(t *testing.T) {
	m := remote.NewMock()
	seedRemote(t, m, "s-1", "Weld 12")
	svc := newService(m)

	first, err := svc.GenerateAndStore(t.Context(), "s-1", "J. Doe", Config{Standard: model.StandardASTM})
	require.NoError(t, err)

	second, err := svc.Regenerate(t.Context(), first.ReportID, "A. Smith", Config{Standard: model.StandardISO})
	require.NoError(t, err)
	assert.NotEqual(t, first.ReportID, second.ReportID)
	assert.Equal(t, "astm-e709", second.Document.TemplateID)

	reports, err := m.ListReports(t.Context(), "s-1")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestServiceWithoutStore(t *testing.T) {
	svc := NewService(remote.NewMock(), WithLogger(quiet))
	_, err := svc.Regenerate(t.Context(), "r-1", "J. Doe", Config{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	_, err = svc.Download(t.Context(), "r-1")
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
