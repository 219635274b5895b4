// Package export writes complete testing sessions to spreadsheet and CSV files.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/signal"
)

// ErrNoSessions is returned when an export is requested for no sessions
var ErrNoSessions = errors.NewStd("no sessions to export")

// Sheet names of the session workbook
const (
	SheetSessions = "Sessions"
	SheetSignals  = "Signals"
	SheetDefects  = "Defects"
)

// Timestamps in exported files use this layout
const timeLayout = "2006-01-02 15:04:05"

var (
	sessionHeader = []string{
		"Session ID", "Project", "Operator", "Status", "Start", "End",
		"Duration (s)", "Samples", "Defects", "Avg Amplitude", "Max Amplitude",
		"Gain (dB)", "Filter", "Threshold",
	}
	signalHeader = []string{
		"Session ID", "Timestamp", "Amplitude", "Phase", "Position", "Frequency",
	}
	defectHeader = []string{
		"Session ID", "Defect ID", "Position", "Amplitude", "Severity", "Gate", "Detected", "Notes",
	}
	sessionWidths = []float64{38, 24, 16, 12, 20, 20, 12, 10, 10, 14, 14, 10, 10, 10}
	signalWidths  = []float64{38, 24, 12, 12, 12, 12}
	defectWidths  = []float64{38, 38, 12, 12, 10, 8, 20, 30}
)

func exportError(err error, op string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryExport).
		Context("operation", op).
		Build()
}

func noSessions() error {
	return errors.New(ErrNoSessions).
		Component("export").
		Category(errors.CategoryValidation).
		Build()
}

// Workbook builds an xlsx workbook with one row per session on the
// Sessions sheet and every signal and defect on the other two sheets.
func Workbook(sessions []*model.CompleteSessionData) ([]byte, error) {
	if len(sessions) == 0 {
		return nil, noSessions()
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Global().Module("export").Warn("failed to close workbook", logger.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetSessions); err != nil {
		return nil, exportError(err, "rename_sheet")
	}
	for _, name := range []string{SheetSignals, SheetDefects} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, exportError(err, "create_sheet")
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, exportError(err, "create_style")
	}

	for _, sheet := range []struct {
		name   string
		header []string
		widths []float64
	}{
		{SheetSessions, sessionHeader, sessionWidths},
		{SheetSignals, signalHeader, signalWidths},
		{SheetDefects, defectHeader, defectWidths},
	} {
		if err := writeHeader(f, sheet.name, sheet.header, sheet.widths, headerStyle); err != nil {
			return nil, err
		}
	}

	sessionRow, signalRow, defectRow := 2, 2, 2
	for _, data := range sessions {
		if data == nil {
			continue
		}
		if err := setRow(f, SheetSessions, sessionRow, sessionValues(data)); err != nil {
			return nil, err
		}
		sessionRow++

		for _, s := range data.Signals {
			if err := setRow(f, SheetSignals, signalRow, []any{
				data.Session.ID, formatMillis(s.Timestamp), s.Amplitude, s.Phase, s.Position, s.Frequency,
			}); err != nil {
				return nil, err
			}
			signalRow++
		}

		for _, d := range data.Defects {
			if err := setRow(f, SheetDefects, defectRow, []any{
				data.Session.ID, d.ID, d.Position, d.Amplitude, string(d.Severity),
				string(d.GateTriggered), d.Timestamp.Format(timeLayout), d.Notes,
			}); err != nil {
				return nil, err
			}
			defectRow++
		}
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, exportError(err, "write_workbook")
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, header []string, widths []float64, style int) error {
	if err := setRow(f, sheet, 1, toAny(header)); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return exportError(err, "header_range")
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return exportError(err, "header_style")
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return exportError(err, "column_width")
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return exportError(err, "column_width")
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return exportError(err, "freeze_header")
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return exportError(err, "row_coordinates")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			Context("sheet", sheet).
			Context("row", row).
			Build()
	}
	return nil
}

func sessionValues(data *model.CompleteSessionData) []any {
	s := data.Session
	summary := signal.Summarize(data.Signals)
	end := ""
	duration := 0.0
	if s.EndTime != nil {
		end = s.EndTime.Format(timeLayout)
		duration = s.EndTime.Sub(s.StartTime).Seconds()
	}
	return []any{
		s.ID, s.ProjectName, s.OperatorID, string(s.Status),
		s.StartTime.Format(timeLayout), end, duration,
		len(data.Signals), len(data.Defects), summary.Average, summary.Max,
		s.Parameters.Gain, string(s.Parameters.Filter), s.Parameters.Threshold,
	}
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05.000")
}

// CSV writes the signals of the given sessions as comma separated rows
// with a header line
func CSV(w io.Writer, sessions []*model.CompleteSessionData) error {
	if len(sessions) == 0 {
		return noSessions()
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(signalHeader); err != nil {
		return exportError(err, "write_csv")
	}
	for _, data := range sessions {
		if data == nil {
			continue
		}
		for _, s := range data.Signals {
			if err := cw.Write([]string{
				data.Session.ID,
				formatMillis(s.Timestamp),
				strconv.FormatFloat(s.Amplitude, 'f', -1, 64),
				strconv.FormatFloat(s.Phase, 'f', -1, 64),
				strconv.FormatFloat(s.Position, 'f', -1, 64),
				strconv.FormatFloat(s.Frequency, 'f', -1, 64),
			}); err != nil {
				return exportError(err, "write_csv")
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return exportError(err, "write_csv")
	}
	return nil
}

// Source loads complete sessions
type Source interface {
	GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error)
}

// Format selects the output file type
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts xlsx or csv, defaulting to xlsx when empty
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", errors.Newf("unknown export format %q", s).
		Component("export").
		Category(errors.CategoryValidation).
		Build()
}

// Load fetches the given sessions concurrently, preserving order
func Load(ctx context.Context, src Source, ids []string) ([]*model.CompleteSessionData, error) {
	if len(ids) == 0 {
		return nil, noSessions()
	}
	out := make([]*model.CompleteSessionData, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			data, err := src.GetCompleteSessionData(gctx, id)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ToFile loads the sessions and writes them to path in the given format
func ToFile(ctx context.Context, src Source, ids []string, format Format, path string) error {
	sessions, err := Load(ctx, src, ids)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).Component("export").Category(errors.CategoryFileIO).Context("path", path).Build()
		}
	}

	var data []byte
	switch format {
	case FormatCSV:
		f, err := os.Create(path)
		if err != nil {
			return errors.New(err).Component("export").Category(errors.CategoryFileIO).Context("path", path).Build()
		}
		if err := CSV(f, sessions); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return errors.New(err).Component("export").Category(errors.CategoryFileIO).Context("path", path).Build()
		}
	default:
		if data, err = Workbook(sessions); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.New(err).Component("export").Category(errors.CategoryFileIO).Context("path", path).Build()
		}
	}

	logger.Global().Module("export").Info("sessions exported",
		logger.Int("sessions", len(sessions)),
		logger.String("format", string(format)),
		logger.String("path", path))
	return nil
}
