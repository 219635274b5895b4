package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/remote"
)

var start = time.Date(2026, 6, 10, 7, 30, 0, 0, time.UTC)

func session(id string, signals int, severities ...model.Severity) *model.CompleteSessionData {
	end := start.Add(90 * time.Second)
	data := &model.CompleteSessionData{
		Session: model.TestingSession{
			ID:          id,
			ProjectName: "Project " + id,
			OperatorID:  "op-1",
			StartTime:   start,
			EndTime:     &end,
			Status:      model.StatusCompleted,
			Parameters:  model.DefaultParameters(),
		},
	}
	for i := range signals {
		data.Signals = append(data.Signals, model.SignalSample{
			Timestamp: start.UnixMilli() + int64(i)*10,
			Amplitude: 0.5,
			Position:  float64(i),
			Frequency: 100,
		})
	}
	for i, sev := range severities {
		data.Defects = append(data.Defects, model.Defect{
			ID:            id + "-d" + string(rune('a'+i)),
			SessionID:     id,
			Position:      float64(i),
			Amplitude:     2,
			Severity:      sev,
			Timestamp:     start,
			GateTriggered: model.GateA,
		})
	}
	return data
}

func TestWorkbook(t *testing.T) {
	data, err := Workbook([]*model.CompleteSessionData{
		session("s-1", 3, model.SeverityHigh),
		session("s-2", 2),
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, []string{SheetSessions, SheetSignals, SheetDefects}, f.GetSheetList())

	rows, err := f.GetRows(SheetSessions)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, sessionHeader, rows[0])
	assert.Equal(t, "s-1", rows[1][0])
	assert.Equal(t, "Project s-1", rows[1][1])
	assert.Equal(t, "completed", rows[1][3])
	assert.Equal(t, "90", rows[1][6])
	assert.Equal(t, "3", rows[1][7])
	assert.Equal(t, "1", rows[1][8])
	assert.Equal(t, "s-2", rows[2][0])

	rows, err = f.GetRows(SheetSignals)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
	assert.Equal(t, "2026-06-10 07:30:00.010", rows[2][1])

	rows, err = f.GetRows(SheetDefects)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "high", rows[1][4])
	assert.Equal(t, "A", rows[1][5])

	panes, err := f.GetPanes(SheetSignals)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)

	style, err := f.GetCellStyle(SheetSessions, "A1")
	require.NoError(t, err)
	assert.NotZero(t, style)
}

func TestWorkbookRejectsEmpty(t *testing.T) {
	_, err := Workbook(nil)
	require.ErrorIs(t, err, ErrNoSessions)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, []*model.CompleteSessionData{session("s-1", 2), session("s-2", 1)}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, signalHeader, records[0])
	assert.Equal(t, []string{"s-1", "2026-06-10 07:30:00.000", "0.5", "0", "0", "100"}, records[1])
	assert.Equal(t, "s-2", records[3][0])

	err = CSV(&buf, nil)
	assert.ErrorIs(t, err, ErrNoSessions)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"csv", FormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func seed(t *testing.T, m *remote.Mock, data *model.CompleteSessionData) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, &data.Session))
	require.NoError(t, m.InsertSignals(ctx, data.Session.ID, data.Signals))
	for i := range data.Defects {
		require.NoError(t, m.InsertDefect(ctx, &data.Defects[i]))
	}
}

func TestToFile(t *testing.T) {
	m := remote.NewMock()
	seed(t, m, session("s-1", 4, model.SeverityLow))
	seed(t, m, session("s-2", 2))
	dir := t.TempDir()

	xlsx := filepath.Join(dir, "out", "sessions.xlsx")
	require.NoError(t, ToFile(t.Context(), m, []string{"s-2", "s-1"}, FormatXLSX, xlsx))
	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	rows, err := f.GetRows(SheetSessions)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Len(t, rows, 3)
	assert.Equal(t, "s-2", rows[1][0])
	assert.Equal(t, "s-1", rows[2][0])

	path := filepath.Join(dir, "signals.csv")
	require.NoError(t, ToFile(t.Context(), m, []string{"s-1"}, FormatCSV, path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestToFileMissingSession(t *testing.T) {
	err := ToFile(t.Context(), remote.NewMock(), []string{"nope"}, FormatCSV, filepath.Join(t.TempDir(), "x.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
