package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

const (
	restPath    = "/rest/v1/"
	storagePath = "/storage/v1/object/"
	// pageSize is the row limit PostgREST applies to a single response
	pageSize = 1000
)

// RESTStore talks to a PostgREST-style API with an object storage endpoint
type RESTStore struct {
	client  *resty.Client
	baseURL string
	bucket  string
	limiter *rate.Limiter
	cache   *cache.Cache
	log     logger.Logger
	metrics *metrics.NetworkMetrics
	now     func() time.Time
}

// RESTOption configures a RESTStore
type RESTOption func(*RESTStore)

// WithTransport replaces the HTTP transport, used to mock the API in tests
func WithTransport(rt http.RoundTripper) RESTOption {
	return func(s *RESTStore) { s.client.SetTransport(rt) }
}

// WithRESTLogger sets the logger
func WithRESTLogger(l logger.Logger) RESTOption {
	return func(s *RESTStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRESTMetrics records request latency and cache hits
func WithRESTMetrics(m *metrics.NetworkMetrics) RESTOption {
	return func(s *RESTStore) { s.metrics = m }
}

// WithRESTNow overrides the clock used for updated_at
func WithRESTNow(now func() time.Time) RESTOption {
	return func(s *RESTStore) { s.now = now }
}

// NewRESTStore creates a REST backed store
func NewRESTStore(cfg conf.RESTSettings, opts ...RESTOption) (*RESTStore, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("remote REST URL is not configured").
			Component("remote").
			Category(errors.CategoryConfiguration).
			Build()
	}
	base := strings.TrimRight(cfg.URL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "reports"
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey).SetAuthToken(cfg.APIKey)
	}

	s := &RESTStore{
		client:  client,
		baseURL: base,
		bucket:  bucket,
		log:     logger.Global().Module("remote").Module("rest"),
		now:     time.Now,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	if cfg.CacheTTL > 0 {
		s.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// request waits for the limiter and returns a request bound to ctx
func (s *RESTStore) request(ctx context.Context) (*resty.Request, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("remote").
				Category(errors.CategoryTimeout).
				Context("operation", "rate-limit-wait").
				Build()
		}
	}
	return s.client.R().SetContext(ctx), nil
}

// do executes a request and maps transport and status failures to errors
func (s *RESTStore) do(ctx context.Context, op, method, path string, build func(*resty.Request)) (*resty.Response, error) {
	req, err := s.request(ctx)
	if err != nil {
		return nil, err
	}
	if build != nil {
		build(req)
	}
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		err = errors.New(err).
			Component("remote").
			Category(errors.CategoryNetwork).
			Context("operation", op).
			Build()
		s.metrics.RecordRemote(op, time.Since(start), err)
		return resp, err
	}
	if resp.IsError() {
		err = s.statusError(op, resp)
	}
	s.metrics.RecordRemote(op, time.Since(start), err)
	if err != nil {
		s.log.Debug("remote request failed",
			logger.String("operation", op),
			logger.Int("status", resp.StatusCode()),
			logger.Error(err))
	}
	return resp, err
}

func (s *RESTStore) statusError(op string, resp *resty.Response) error {
	category := errors.CategoryIntegration
	switch resp.StatusCode() {
	case http.StatusNotFound:
		category = errors.CategoryNotFound
	case http.StatusConflict:
		category = errors.CategoryConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		category = errors.CategoryValidation
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		category = errors.CategoryNetwork
	}
	body := string(resp.Body())
	if len(body) > 256 {
		body = body[:256]
	}
	b := errors.Newf("remote %s failed with status %d: %s", op, resp.StatusCode(), body).
		Component("remote").
		Category(category).
		Context("operation", op).
		Context("status", resp.StatusCode())
	if category == errors.CategoryNotFound {
		return errors.New(errors.Join(ErrNotFound, b.Build())).
			Component("remote").
			Category(errors.CategoryNotFound).
			Context("operation", op).
			Build()
	}
	return b.Build()
}

func table(name string) string { return restPath + name }

func eq(v string) string { return "eq." + v }

func (s *RESTStore) cacheGet(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	s.metrics.RecordCache(ok)
	return v, ok
}

func (s *RESTStore) cacheSet(key string, v any) {
	if s.cache != nil {
		s.cache.SetDefault(key, v)
	}
}

func (s *RESTStore) cacheDelete(key string) {
	if s.cache != nil {
		s.cache.Delete(key)
	}
}

func sessionKey(id string) string { return "session:" + id }

func calibrationKey(t model.CalibrationType) string { return "calibration:" + string(t) }

// CreateSession inserts a new session row
func (s *RESTStore) CreateSession(ctx context.Context, session *model.TestingSession) error {
	rec, err := sessionToRecord(session)
	if err != nil {
		return mappingError(OpCreateSession, err)
	}
	_, err = s.do(ctx, OpCreateSession, resty.MethodPost, table("testing_sessions"), func(r *resty.Request) {
		r.SetHeader("Prefer", "return=minimal").SetBody(rec)
	})
	if err == nil {
		s.cacheDelete(sessionKey(session.ID))
	}
	return err
}

// UpdateSession replaces the session row and stamps updated_at
func (s *RESTStore) UpdateSession(ctx context.Context, session *model.TestingSession) error {
	rec, err := sessionToRecord(session)
	if err != nil {
		return mappingError(OpUpdateSession, err)
	}
	rec.UpdatedAt = s.now().UTC()

	var updated []SessionRecord
	_, err = s.do(ctx, OpUpdateSession, resty.MethodPatch, table("testing_sessions"), func(r *resty.Request) {
		r.SetQueryParam("id", eq(session.ID)).
			SetHeader("Prefer", "return=representation").
			SetBody(rec).
			SetResult(&updated)
	})
	s.cacheDelete(sessionKey(session.ID))
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return notFound("remote", "session", session.ID)
	}
	return nil
}

// GetSession fetches one session by id
func (s *RESTStore) GetSession(ctx context.Context, id string) (*model.TestingSession, error) {
	if v, ok := s.cacheGet(sessionKey(id)); ok {
		session := v.(model.TestingSession)
		return &session, nil
	}

	var recs []SessionRecord
	_, err := s.do(ctx, OpGetSession, resty.MethodGet, table("testing_sessions"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{"id": eq(id), "select": "*"}).SetResult(&recs)
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("remote", "session", id)
	}
	session, err := recordToSession(&recs[0])
	if err != nil {
		return nil, mappingError(OpGetSession, err)
	}
	s.cacheSet(sessionKey(id), *session)
	return session, nil
}

// ListSessions returns sessions matching f, newest first
func (s *RESTStore) ListSessions(ctx context.Context, f model.SessionFilters) ([]model.TestingSession, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "start_time.desc")
	if f.OperatorID != "" {
		q.Set("operator_id", eq(f.OperatorID))
	}
	if f.Status != "" {
		q.Set("status", eq(string(f.Status)))
	}
	if f.ProjectName != "" {
		q.Set("project_name", "ilike.*"+f.ProjectName+"*")
	}
	if f.StartDate != nil {
		q.Add("start_time", "gte."+f.StartDate.UTC().Format(time.RFC3339))
	}
	if f.EndDate != nil {
		q.Add("start_time", "lte."+f.EndDate.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var recs []SessionRecord
	_, err := s.do(ctx, OpListSessions, resty.MethodGet, table("testing_sessions"), func(r *resty.Request) {
		r.SetQueryParamsFromValues(q).SetResult(&recs)
	})
	if err != nil {
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
func (s *RESTStore) DeleteSession(ctx context.Context, id string) error {
	for _, t := range []string{"reports", "defects", "signal_data"} {
		if _, err := s.do(ctx, "delete-"+t, resty.MethodDelete, table(t), func(r *resty.Request) {
			r.SetQueryParam("session_id", eq(id))
		}); err != nil {
			return err
		}
	}
	var deleted []SessionRecord
	_, err := s.do(ctx, OpDeleteSession, resty.MethodDelete, table("testing_sessions"), func(r *resty.Request) {
		r.SetQueryParam("id", eq(id)).
			SetHeader("Prefer", "return=representation").
			SetResult(&deleted)
	})
	s.cacheDelete(sessionKey(id))
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return notFound("remote", "session", id)
	}
	return nil
}

// InsertSignals bulk inserts samples for a session
func (s *RESTStore) InsertSignals(ctx context.Context, sessionID string, samples []model.SignalSample) error {
	if len(samples) == 0 {
		return nil
	}
	recs := signalsToRecords(sessionID, samples)
	_, err := s.do(ctx, OpInsertSignals, resty.MethodPost, table("signal_data"), func(r *resty.Request) {
		r.SetHeader("Prefer", "return=minimal").SetBody(recs)
	})
	return err
}

// GetSignals pages through the session's samples in timestamp order
func (s *RESTStore) GetSignals(ctx context.Context, sessionID string, limit int) ([]model.SignalSample, error) {
	var out []model.SignalSample
	for offset := 0; ; offset += pageSize {
		n := pageSize
		if limit > 0 {
			n = min(pageSize, limit-len(out))
		}
		var recs []SignalRecord
		_, err := s.do(ctx, OpGetSignals, resty.MethodGet, table("signal_data"), func(r *resty.Request) {
			r.SetQueryParams(map[string]string{
				"session_id": eq(sessionID),
				"select":     "*",
				"order":      "timestamp.asc,id.asc",
				"limit":      strconv.Itoa(n),
				"offset":     strconv.Itoa(offset),
			}).SetResult(&recs)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, recordsToSignals(recs)...)
		if len(recs) < n || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

// CountSignals returns the number of stored samples for a session
func (s *RESTStore) CountSignals(ctx context.Context, sessionID string) (int64, error) {
	resp, err := s.do(ctx, OpCountSignals, resty.MethodGet, table("signal_data"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"session_id": eq(sessionID),
			"select":     "id",
			"limit":      "1",
		}).SetHeader("Prefer", "count=exact")
	})
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.Header().Get("Content-Range"))
}

// parseContentRange extracts the total from "0-0/42" or "*/0"
func parseContentRange(v string) (int64, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, errors.Newf("unexpected Content-Range %q", v).
			Component("remote").
			Category(errors.CategoryIntegration).
			Build()
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, errors.New(err).
			Component("remote").
			Category(errors.CategoryIntegration).
			Context("content_range", v).
			Build()
	}
	return n, nil
}

// upsert posts rec and merges on primary key conflicts
func (s *RESTStore) upsert(ctx context.Context, op, tbl string, rec any) error {
	_, err := s.do(ctx, op, resty.MethodPost, table(tbl), func(r *resty.Request) {
		r.SetQueryParam("on_conflict", "id").
			SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
			SetBody(rec)
	})
	return err
}

// InsertDefect upserts a defect row
func (s *RESTStore) InsertDefect(ctx context.Context, d *model.Defect) error {
	return s.upsert(ctx, OpInsertDefect, "defects", defectToRecord(d))
}

// GetDefects returns the session's defects ordered by position
func (s *RESTStore) GetDefects(ctx context.Context, sessionID string) ([]model.Defect, error) {
	var recs []DefectRecord
	_, err := s.do(ctx, OpGetDefects, resty.MethodGet, table("defects"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"session_id": eq(sessionID),
			"select":     "*",
			"order":      "position.asc,timestamp.asc",
		}).SetResult(&recs)
	})
	if err != nil {
		return nil, err
	}
	return recordsToDefects(recs), nil
}

// InsertCalibration upserts a calibration row
func (s *RESTStore) InsertCalibration(ctx context.Context, c *model.CalibrationData) error {
	rec, err := calibrationToRecord(c)
	if err != nil {
		return mappingError(OpInsertCalibration, err)
	}
	err = s.upsert(ctx, OpInsertCalibration, "calibrations", rec)
	s.cacheDelete(calibrationKey(c.CalibrationType))
	s.cacheDelete(calibrationKey(""))
	return err
}

// GetLatestCalibration returns the newest active calibration of type t
func (s *RESTStore) GetLatestCalibration(ctx context.Context, t model.CalibrationType) (*model.CalibrationData, error) {
	if v, ok := s.cacheGet(calibrationKey(t)); ok {
		c := v.(model.CalibrationData)
		return &c, nil
	}
	q := map[string]string{
		"is_active": "eq.true",
		"select":    "*",
		"order":     "calibration_date.desc",
		"limit":     "1",
	}
	if t != "" {
		q["calibration_type"] = eq(string(t))
	}
	var recs []CalibrationRecord
	_, err := s.do(ctx, OpGetCalibration, resty.MethodGet, table("calibrations"), func(r *resty.Request) {
		r.SetQueryParams(q).SetResult(&recs)
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("remote", "calibration", string(t))
	}
	c, err := recordToCalibration(&recs[0])
	if err != nil {
		return nil, mappingError(OpGetCalibration, err)
	}
	s.cacheSet(calibrationKey(t), *c)
	return c, nil
}

// DeactivateCalibration clears is_active on other calibrations of type t
func (s *RESTStore) DeactivateCalibration(ctx context.Context, t model.CalibrationType, exceptID string) error {
	_, err := s.do(ctx, OpDeactivateCalibration, resty.MethodPatch, table("calibrations"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"calibration_type": eq(string(t)),
			"is_active":        "eq.true",
			"id":               "neq." + exceptID,
		}).
			SetHeader("Prefer", "return=minimal").
			SetBody(map[string]bool{"is_active": false})
	})
	s.cacheDelete(calibrationKey(t))
	s.cacheDelete(calibrationKey(""))
	return err
}

// InsertReport inserts a report row
func (s *RESTStore) InsertReport(ctx context.Context, r *model.Report) error {
	_, err := s.do(ctx, OpInsertReport, resty.MethodPost, table("reports"), func(req *resty.Request) {
		req.SetHeader("Prefer", "return=minimal").SetBody(reportToRecord(r))
	})
	return err
}

// UpdateReport replaces a report row
func (s *RESTStore) UpdateReport(ctx context.Context, r *model.Report) error {
	var updated []ReportRecord
	_, err := s.do(ctx, OpUpdateReport, resty.MethodPatch, table("reports"), func(req *resty.Request) {
		req.SetQueryParam("id", eq(r.ID)).
			SetHeader("Prefer", "return=representation").
			SetBody(reportToRecord(r)).
			SetResult(&updated)
	})
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return notFound("remote", "report", r.ID)
	}
	return nil
}

// GetReport fetches one report by id
func (s *RESTStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var recs []ReportRecord
	_, err := s.do(ctx, OpGetReport, resty.MethodGet, table("reports"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{"id": eq(id), "select": "*"}).SetResult(&recs)
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("remote", "report", id)
	}
	return recordToReport(&recs[0]), nil
}

// ListReports returns the session's reports, newest first
func (s *RESTStore) ListReports(ctx context.Context, sessionID string) ([]model.Report, error) {
	var recs []ReportRecord
	_, err := s.do(ctx, OpListReports, resty.MethodGet, table("reports"), func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"session_id": eq(sessionID),
			"select":     "*",
			"order":      "generated_at.desc",
		}).SetResult(&recs)
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Report, len(recs))
	for i := range recs {
		out[i] = *recordToReport(&recs[i])
	}
	return out, nil
}

func (s *RESTStore) objectPath(reportID string) string {
	return fmt.Sprintf("%s/%s.pdf", s.bucket, reportID)
}

// UploadReportPDF stores the document and returns its public URL
func (s *RESTStore) UploadReportPDF(ctx context.Context, reportID string, data []byte) (string, error) {
	obj := s.objectPath(reportID)
	_, err := s.do(ctx, OpUploadReport, resty.MethodPost, storagePath+obj, func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/pdf").
			SetHeader("x-upsert", "true").
			SetBody(data)
	})
	if err != nil {
		return "", err
	}
	return s.baseURL + storagePath + "public/" + obj, nil
}

// DownloadReportPDF fetches a stored document
func (s *RESTStore) DownloadReportPDF(ctx context.Context, reportID string) ([]byte, error) {
	resp, err := s.do(ctx, OpDownloadReport, resty.MethodGet, storagePath+s.objectPath(reportID), func(r *resty.Request) {
		r.SetHeader("Accept", "application/pdf")
	})
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// GetCompleteSessionData fetches a session with its signals and defects
func (s *RESTStore) GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error) {
	return getCompleteSessionData(ctx, s, id)
}

// Close releases idle connections
func (s *RESTStore) Close() error {
	s.client.GetClient().CloseIdleConnections()
	if s.cache != nil {
		s.cache.Flush()
	}
	return nil
}

func mappingError(op string, err error) error {
	return errors.New(err).
		Component("remote").
		Category(errors.CategoryValidation).
		Context("operation", op).
		Build()
}
