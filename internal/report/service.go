package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/signal"
)

// ErrNoSessions is returned by BatchGenerate for an empty id list
var ErrNoSessions = errors.NewStd("no sessions selected")

// DefaultBatchConcurrency bounds parallel report generation
const DefaultBatchConcurrency = 4

// SessionSource loads a session with its signals and defects
type SessionSource interface {
	GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error)
}

// Store persists report records and rendered files
type Store interface {
	InsertReport(ctx context.Context, r *model.Report) error
	UpdateReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	UploadReportPDF(ctx context.Context, reportID string, data []byte) (string, error)
	DownloadReportPDF(ctx context.Context, reportID string) ([]byte, error)
}

// Result describes one generated report
type Result struct {
	ReportID  string
	SessionID string
	URL       string
	LocalPath string
	Document  *Document
	Warnings  []string
	Err       error
}

// Success reports whether the report was generated
func (r *Result) Success() bool { return r.Err == nil }

// Service generates reports and stores them
type Service struct {
	source      SessionSource
	store       Store
	renderer    Renderer
	outputDir   string
	concurrency int
	now         func() time.Time
	log         logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithStore stores report records and files remotely
func WithStore(s Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithRenderer replaces the text renderer
func WithRenderer(r Renderer) Option {
	return func(svc *Service) { svc.renderer = r }
}

// WithOutputDir also writes each rendered report to dir
func WithOutputDir(dir string) Option {
	return func(svc *Service) { svc.outputDir = dir }
}

// WithConcurrency bounds BatchGenerate parallelism
func WithConcurrency(n int) Option {
	return func(svc *Service) { svc.concurrency = n }
}

// WithNow sets the clock used for report dates
func WithNow(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) { svc.log = l }
}

// NewService creates a report service reading sessions from source
func NewService(source SessionSource, opts ...Option) *Service {
	svc := &Service{
		source:      source,
		renderer:    NewTextRenderer(),
		concurrency: DefaultBatchConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.log == nil {
		svc.log = logger.Global().Module("report")
	}
	return svc
}

// Generate assembles and renders a report without storing it
func (s *Service) Generate(ctx context.Context, sessionID, operator string, cfg Config) (*Document, []byte, error) {
	data, err := s.source.GetCompleteSessionData(ctx, sessionID)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("report").
			Category(errors.CategoryReport).
			Context("operation", "load_session").
			Context("session_id", sessionID).
			Build()
	}

	doc := Assemble(data, operator, cfg, s.now())
	if len(doc.Warnings) > 0 {
		s.log.Warn("report has missing fields",
			logger.String("session_id", sessionID),
			logger.Any("warnings", doc.Warnings))
	}

	out, err := s.renderer.Render(doc)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("report").
			Category(errors.CategoryReport).
			Context("operation", "render").
			Context("session_id", sessionID).
			Build()
	}
	return doc, out, nil
}

// GenerateAndStore generates a report, records it and uploads the rendered
// file. A failed upload leaves the report row without a URL.
func (s *Service) GenerateAndStore(ctx context.Context, sessionID, operator string, cfg Config) (*Result, error) {
	doc, out, err := s.Generate(ctx, sessionID, operator, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ReportID:  uuid.NewString(),
		SessionID: sessionID,
		Document:  doc,
		Warnings:  doc.Warnings,
	}

	if s.outputDir != "" {
		path, err := s.writeLocal(res.ReportID, doc, out)
		if err != nil {
			return nil, err
		}
		res.LocalPath = path
	}

	if s.store == nil {
		return res, nil
	}

	reportType := cfg.ReportType
	if reportType == "" {
		reportType = model.ReportStandard
	}
	rec := &model.Report{
		ID:          res.ReportID,
		SessionID:   sessionID,
		ReportType:  reportType,
		Standard:    doc.Standard,
		GeneratedBy: operator,
		GeneratedAt: doc.GeneratedAt,
	}
	if rec.Content, err = json.Marshal(Metadata(doc, cfg)); err != nil {
		return nil, errors.New(err).Component("report").Category(errors.CategoryReport).Build()
	}
	if err := s.store.InsertReport(ctx, rec); err != nil {
		return nil, errors.New(err).
			Component("report").
			Category(errors.CategoryReport).
			Context("operation", "insert_report").
			Context("report_id", rec.ID).
			Build()
	}

	url, err := s.store.UploadReportPDF(ctx, rec.ID, out)
	if err != nil {
		s.log.Error("report upload failed",
			logger.String("report_id", rec.ID),
			logger.Error(err))
		res.Warnings = append(res.Warnings, "upload failed: "+err.Error())
		return res, nil
	}
	rec.PDFURL = url
	res.URL = url
	if err := s.store.UpdateReport(ctx, rec); err != nil {
		s.log.Warn("failed to record report url",
			logger.String("report_id", rec.ID),
			logger.Error(err))
	}

	s.log.Info("report generated",
		logger.String("report_id", rec.ID),
		logger.String("session_id", sessionID),
		logger.String("standard", string(rec.Standard)),
		logger.String("verdict", string(doc.Verdict)))
	return res, nil
}

// BatchGenerate generates one report per session. Individual failures are
// reported in the result's Err; results keep the input order.
func (s *Service) BatchGenerate(ctx context.Context, sessionIDs []string, operator string, cfg Config) ([]Result, error) {
	if len(sessionIDs) == 0 {
		return nil, errors.New(ErrNoSessions).
			Component("report").
			Category(errors.CategoryValidation).
			Build()
	}

	results := make([]Result, len(sessionIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for i, id := range sessionIDs {
		g.Go(func() error {
			res, err := s.GenerateAndStore(gctx, id, operator, cfg)
			if err != nil {
				results[i] = Result{SessionID: id, Err: err}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// Regenerate builds a fresh report for the session of an existing one,
// keeping its standard
func (s *Service) Regenerate(ctx context.Context, reportID, operator string, cfg Config) (*Result, error) {
	if s.store == nil {
		return nil, errors.Newf("no report store configured").
			Component("report").
			Category(errors.CategoryConfiguration).
			Build()
	}
	prev, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	cfg.Standard = prev.Standard
	return s.GenerateAndStore(ctx, prev.SessionID, operator, cfg)
}

// Download fetches a stored report file
func (s *Service) Download(ctx context.Context, reportID string) ([]byte, error) {
	if s.store == nil {
		return nil, errors.Newf("no report store configured").
			Component("report").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return s.store.DownloadReportPDF(ctx, reportID)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *Service) writeLocal(reportID string, doc *Document, data []byte) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", errors.New(err).Component("report").Category(errors.CategoryFileIO).Build()
	}
	name := strings.Trim(unsafeName.ReplaceAllString(doc.ProjectName, "_"), "_")
	if name == "" {
		name = "report"
	}
	path := filepath.Join(s.outputDir, name+"-"+reportID[:8]+s.renderer.Extension())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.New(err).
			Component("report").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return path, nil
}

// ReportMetadata is the structured content stored with each report row
type ReportMetadata struct {
	SessionID      string         `json:"sessionId"`
	Standard       model.Standard `json:"standard"`
	TemplateID     string         `json:"templateId"`
	EquipmentModel string         `json:"equipmentModel"`
	TestLocation   string         `json:"testLocation"`
	Defects        DefectStats    `json:"defects"`
	Data           signal.Summary `json:"data"`
	Verdict        Verdict        `json:"verdict"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// Metadata extracts the stored summary of a document
func Metadata(doc *Document, cfg Config) ReportMetadata {
	m := ReportMetadata{
		SessionID:      doc.SessionID,
		Standard:       doc.Standard,
		TemplateID:     doc.TemplateID,
		EquipmentModel: cfg.EquipmentModel,
		TestLocation:   cfg.TestLocation,
		Verdict:        doc.Verdict,
		Warnings:       doc.Warnings,
	}
	if m.EquipmentModel == "" {
		m.EquipmentModel = DefaultEquipmentModel
	}
	if m.TestLocation == "" {
		m.TestLocation = notAvailable
	}
	for _, b := range doc.Blocks {
		if b.Stats != nil {
			m.Defects = *b.Stats
		}
		if b.Summary != nil {
			m.Data = *b.Summary
		}
	}
	return m
}
