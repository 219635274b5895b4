package remote

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/model"
)

// Operation names recorded by Mock and used for failure injection
const (
	OpCreateSession         = "create-session"
	OpUpdateSession         = "update-session"
	OpGetSession            = "get-session"
	OpListSessions          = "list-sessions"
	OpDeleteSession         = "delete-session"
	OpInsertSignals         = "insert-signals"
	OpGetSignals            = "get-signals"
	OpCountSignals          = "count-signals"
	OpInsertDefect          = "insert-defect"
	OpGetDefects            = "get-defects"
	OpInsertCalibration     = "insert-calibration"
	OpGetCalibration        = "get-calibration"
	OpDeactivateCalibration = "deactivate-calibration"
	OpInsertReport          = "insert-report"
	OpUpdateReport          = "update-report"
	OpGetReport             = "get-report"
	OpListReports           = "list-reports"
	OpUploadReport          = "upload-report"
	OpDownloadReport        = "download-report"
)

// Call is one recorded Mock invocation
type Call struct {
	Op string
	ID string // session, defect, calibration or report id
}

type failure struct {
	id    string // empty matches any id
	err   error
	times int // remaining failures, <0 means always
}

// Mock is an in-memory Store that records every call
type Mock struct {
	mu           sync.Mutex
	now          func() time.Time
	calls        []Call
	failures     map[string][]*failure
	sessions     map[string]model.TestingSession
	signals      map[string][]model.SignalSample
	defects      map[string]model.Defect
	calibrations map[string]model.CalibrationData
	reports      map[string]model.Report
	files        map[string][]byte
}

// NewMock returns an empty in-memory store
func NewMock() *Mock {
	return &Mock{
		now:          time.Now,
		failures:     make(map[string][]*failure),
		sessions:     make(map[string]model.TestingSession),
		signals:      make(map[string][]model.SignalSample),
		defects:      make(map[string]model.Defect),
		calibrations: make(map[string]model.CalibrationData),
		reports:      make(map[string]model.Report),
		files:        make(map[string][]byte),
	}
}

// SetNow overrides the clock used for updated_at
func (m *Mock) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Fail makes every call of op fail with err
func (m *Mock) Fail(op string, err error) {
	m.FailFor(op, "", err, -1)
}

// FailFor makes the next times calls of op on id fail with err. An empty id
// matches every id and times < 0 fails forever.
func (m *Mock) FailFor(op, id string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], &failure{id: id, err: err, times: times})
}

// ClearFailures removes all injected failures
func (m *Mock) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string][]*failure)
}

// Calls returns the recorded calls in order
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Ops returns the recorded operation names in order
func (m *Mock) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.calls))
	for i, c := range m.calls {
		ops[i] = c.Op
	}
	return ops
}

// ResetCalls clears the call log
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// PutSession seeds a session without recording a call
func (m *Mock) PutSession(s model.TestingSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// record logs the call and returns an injected failure, if any. Callers hold mu.
func (m *Mock) record(op, id string) error {
	m.calls = append(m.calls, Call{Op: op, ID: id})
	for _, f := range m.failures[op] {
		if f.times == 0 || (f.id != "" && f.id != id) {
			continue
		}
		if f.times > 0 {
			f.times--
		}
		return f.err
	}
	return nil
}

func (m *Mock) CreateSession(_ context.Context, s *model.TestingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCreateSession, s.ID); err != nil {
		return err
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Mock) UpdateSession(_ context.Context, s *model.TestingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpUpdateSession, s.ID); err != nil {
		return err
	}
	if _, ok := m.sessions[s.ID]; !ok {
		return notFound("remote", "session", s.ID)
	}
	updated := *s
	updated.UpdatedAt = m.now().UTC()
	m.sessions[s.ID] = updated
	return nil
}

func (m *Mock) GetSession(_ context.Context, id string) (*model.TestingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetSession, id); err != nil {
		return nil, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound("remote", "session", id)
	}
	return &s, nil
}

func (m *Mock) ListSessions(_ context.Context, f model.SessionFilters) ([]model.TestingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpListSessions, ""); err != nil {
		return nil, err
	}
	var out []model.TestingSession
	for _, s := range m.sessions {
		switch {
		case f.OperatorID != "" && s.OperatorID != f.OperatorID,
			f.Status != "" && s.Status != f.Status,
			f.ProjectName != "" && !strings.Contains(strings.ToLower(s.ProjectName), strings.ToLower(f.ProjectName)),
			f.StartDate != nil && s.StartTime.Before(*f.StartDate),
			f.EndDate != nil && s.StartTime.After(*f.EndDate):
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Mock) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpDeleteSession, id); err != nil {
		return err
	}
	if _, ok := m.sessions[id]; !ok {
		return notFound("remote", "session", id)
	}
	delete(m.sessions, id)
	delete(m.signals, id)
	for k, d := range m.defects {
		if d.SessionID == id {
			delete(m.defects, k)
		}
	}
	for k, r := range m.reports {
		if r.SessionID == id {
			delete(m.reports, k)
			delete(m.files, k)
		}
	}
	return nil
}

func (m *Mock) InsertSignals(_ context.Context, sessionID string, samples []model.SignalSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertSignals, sessionID); err != nil {
		return err
	}
	m.signals[sessionID] = append(m.signals[sessionID], samples...)
	return nil
}

func (m *Mock) GetSignals(_ context.Context, sessionID string, limit int) ([]model.SignalSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetSignals, sessionID); err != nil {
		return nil, err
	}
	out := slices.Clone(m.signals[sessionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mock) CountSignals(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCountSignals, sessionID); err != nil {
		return 0, err
	}
	return int64(len(m.signals[sessionID])), nil
}

func (m *Mock) InsertDefect(_ context.Context, d *model.Defect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertDefect, d.ID); err != nil {
		return err
	}
	m.defects[d.ID] = *d
	return nil
}

func (m *Mock) GetDefects(_ context.Context, sessionID string) ([]model.Defect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetDefects, sessionID); err != nil {
		return nil, err
	}
	var out []model.Defect
	for _, d := range m.defects {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *Mock) InsertCalibration(_ context.Context, c *model.CalibrationData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertCalibration, c.ID); err != nil {
		return err
	}
	m.calibrations[c.ID] = *c
	return nil
}

func (m *Mock) GetLatestCalibration(_ context.Context, t model.CalibrationType) (*model.CalibrationData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetCalibration, string(t)); err != nil {
		return nil, err
	}
	var latest *model.CalibrationData
	for _, c := range m.calibrations {
		if !c.IsActive || (t != "" && c.CalibrationType != t) {
			continue
		}
		if latest == nil || c.CalibrationDate.After(latest.CalibrationDate) {
			latest = &c
		}
	}
	if latest == nil {
		return nil, notFound("remote", "calibration", string(t))
	}
	return latest, nil
}

func (m *Mock) DeactivateCalibration(_ context.Context, t model.CalibrationType, exceptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpDeactivateCalibration, exceptID); err != nil {
		return err
	}
	for id, c := range m.calibrations {
		if c.CalibrationType == t && id != exceptID && c.IsActive {
			c.IsActive = false
			m.calibrations[id] = c
		}
	}
	return nil
}

func (m *Mock) InsertReport(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertReport, r.ID); err != nil {
		return err
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *Mock) UpdateReport(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpUpdateReport, r.ID); err != nil {
		return err
	}
	if _, ok := m.reports[r.ID]; !ok {
		return notFound("remote", "report", r.ID)
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *Mock) GetReport(_ context.Context, id string) (*model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetReport, id); err != nil {
		return nil, err
	}
	r, ok := m.reports[id]
	if !ok {
		return nil, notFound("remote", "report", id)
	}
	return &r, nil
}

func (m *Mock) ListReports(_ context.Context, sessionID string) ([]model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpListReports, sessionID); err != nil {
		return nil, err
	}
	var out []model.Report
	for _, r := range m.reports {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out, nil
}

func (m *Mock) UploadReportPDF(_ context.Context, reportID string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpUploadReport, reportID); err != nil {
		return "", err
	}
	m.files[reportID] = slices.Clone(data)
	return "mock://reports/" + reportID + ".pdf", nil
}

func (m *Mock) DownloadReportPDF(_ context.Context, reportID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpDownloadReport, reportID); err != nil {
		return nil, err
	}
	data, ok := m.files[reportID]
	if !ok {
		return nil, notFound("remote", "report file", reportID)
	}
	return slices.Clone(data), nil
}

func (m *Mock) GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error) {
	return getCompleteSessionData(ctx, m, id)
}

func (m *Mock) Close() error { return nil }
