package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/signal"
)

const (
	// MaxWaveformPoints caps the waveform block
	MaxWaveformPoints = 500
	// MaxDefectRows caps the defect table; the rest is reported as a count
	MaxDefectRows = 20
)

// Config holds per-report options
type Config struct {
	Standard   model.Standard
	ReportType model.ReportType
	// Template overrides the built-in template for Standard
	Template *Template

	OmitWaveform      bool
	OmitDataTable     bool
	OmitDefectDetails bool

	CompanyName     string
	EquipmentModel  string
	EquipmentSerial string
	TestLocation    string
	CustomerName    string
	PartNumber      string
	MaterialType    string

	// Location is used for printed dates, UTC when nil
	Location *time.Location
}

func (c *Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *Config) template() Template {
	if c.Template != nil {
		return *c.Template
	}
	return TemplateFor(c.Standard)
}

// Field is a label/value row
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// WaveformPoint is one plotted sample
type WaveformPoint struct {
	Position  float64 `json:"position"`
	Amplitude float64 `json:"amplitude"`
}

// DefectStats counts defects by severity
type DefectStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// CountDefects tallies defects per severity
func CountDefects(defects []model.Defect) DefectStats {
	st := DefectStats{Total: len(defects)}
	for i := range defects {
		switch defects[i].Severity {
		case model.SeverityCritical:
			st.Critical++
		case model.SeverityHigh:
			st.High++
		case model.SeverityMedium:
			st.Medium++
		case model.SeverityLow:
			st.Low++
		}
	}
	return st
}

// DefectRow is one line of the defect table
type DefectRow struct {
	No        int            `json:"no"`
	Position  float64        `json:"position"`
	Amplitude float64        `json:"amplitude"`
	Severity  model.Severity `json:"severity"`
	Gate      string         `json:"gate"`
}

// Verdict is the acceptance outcome
type Verdict string

const (
	VerdictReject      Verdict = "REJECT"
	VerdictConditional Verdict = "CONDITIONAL"
	VerdictAcceptNotes Verdict = "ACCEPT WITH NOTES"
	VerdictAccept      Verdict = "ACCEPT"
)

// Conclusion is the verdict with its explanation
type Conclusion struct {
	Verdict        Verdict `json:"verdict"`
	Text           string  `json:"text"`
	Recommendation string  `json:"recommendation"`
}

// Conclude derives the verdict from the defect severities
func Conclude(defects []model.Defect) Conclusion {
	st := CountDefects(defects)
	switch {
	case st.Critical > 0:
		return Conclusion{
			Verdict:        VerdictReject,
			Text:           fmt.Sprintf("REJECT: %d critical defect(s) detected. The tested component does not meet acceptance criteria.", st.Critical),
			Recommendation: "Immediate repair or replacement required. Re-test after corrective action.",
		}
	case st.High > 0:
		return Conclusion{
			Verdict:        VerdictConditional,
			Text:           fmt.Sprintf("CONDITIONAL: %d high-severity defect(s) detected. Further evaluation recommended.", st.High),
			Recommendation: "Engineering review required to determine acceptability.",
		}
	case st.Total > 0:
		return Conclusion{
			Verdict:        VerdictAcceptNotes,
			Text:           fmt.Sprintf("ACCEPT WITH NOTES: %d minor defect(s) detected within acceptable limits.", st.Total),
			Recommendation: "Monitor during next inspection cycle.",
		}
	}
	return Conclusion{
		Verdict:        VerdictAccept,
		Text:           "ACCEPT: No defects detected. Component meets all acceptance criteria.",
		Recommendation: "Continue with normal inspection schedule.",
	}
}

// Block is an assembled template section
type Block struct {
	Title string      `json:"title"`
	Kind  ContentKind `json:"kind"`
	// Omitted marks a section disabled by Config or without data
	Omitted     bool            `json:"omitted,omitempty"`
	Fields      []Field         `json:"fields,omitempty"`
	Text        string          `json:"text,omitempty"`
	Waveform    []WaveformPoint `json:"waveform,omitempty"`
	Summary     *signal.Summary `json:"summary,omitempty"`
	Stats       *DefectStats    `json:"stats,omitempty"`
	Defects     []DefectRow     `json:"defects,omitempty"`
	MoreDefects int             `json:"moreDefects,omitempty"`
	Conclusion  *Conclusion     `json:"conclusion,omitempty"`
}

// DocumentHeader is the resolved title block
type DocumentHeader struct {
	CompanyName       string `json:"companyName"`
	Title             string `json:"title"`
	Subtitle          string `json:"subtitle,omitempty"`
	StandardReference string `json:"standardReference"`
	ReportDate        string `json:"reportDate,omitempty"`
}

// Signature is one signature block
type Signature struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Document is the renderer-independent report content
type Document struct {
	TemplateID    string         `json:"templateId"`
	Standard      model.Standard `json:"standard"`
	SessionID     string         `json:"sessionId"`
	ProjectName   string         `json:"projectName"`
	Header        DocumentHeader `json:"header"`
	Blocks        []Block        `json:"blocks"`
	Signatures    []Signature    `json:"signatures"`
	SignatureDate string         `json:"signatureDate"`
	Footer        Footer         `json:"footer"`
	Warnings      []string       `json:"warnings,omitempty"`
	Verdict       Verdict        `json:"verdict"`
	GeneratedAt   time.Time      `json:"generatedAt"`
}

// Block returns the first block with the given title
func (d *Document) Block(title string) (Block, bool) {
	for _, b := range d.Blocks {
		if b.Title == title {
			return b, true
		}
	}
	return Block{}, false
}

// Assemble builds the report document for a complete session. Missing
// required variables are recorded as warnings.
func Assemble(data *model.CompleteSessionData, operator string, cfg Config, now time.Time) *Document {
	tpl := cfg.template()
	vars := BuildVariables(&data.Session, operator, &cfg, now)
	reportDate := now.In(cfg.location()).Format("2006-01-02")

	doc := &Document{
		TemplateID:    tpl.ID,
		Standard:      tpl.Standard,
		SessionID:     data.Session.ID,
		ProjectName:   data.Session.ProjectName,
		SignatureDate: reportDate,
		Footer: Footer{
			IncludePageNumbers: tpl.Footer.IncludePageNumbers,
			CustomText:         ReplaceVariables(tpl.Footer.CustomText, vars),
		},
		Verdict:     Conclude(data.Defects).Verdict,
		GeneratedAt: now,
	}

	for _, f := range ValidateVariables(tpl, vars) {
		doc.Warnings = append(doc.Warnings, "missing required field: "+f)
	}

	doc.Header = DocumentHeader{
		CompanyName:       vars["companyName"],
		Title:             ReplaceVariables(tpl.Header.Title, vars),
		Subtitle:          ReplaceVariables(tpl.Header.Subtitle, vars),
		StandardReference: ReplaceVariables(tpl.Header.StandardReference, vars),
	}
	if tpl.Header.IncludeDate {
		doc.Header.ReportDate = reportDate
	}

	for _, s := range tpl.Sections {
		doc.Blocks = append(doc.Blocks, assembleSection(s, data, vars, &cfg))
	}

	doc.Signatures = signatureBlocks(tpl.Signatures, operator)
	return doc
}

func assembleSection(s Section, data *model.CompleteSessionData, vars Variables, cfg *Config) Block {
	b := Block{Title: s.Title, Kind: s.Kind()}

	switch b.Kind {
	case ContentFields:
		for _, f := range s.Fields {
			b.Fields = append(b.Fields, Field{Label: FormatFieldName(f), Value: DisplayValue(f, vars)})
		}
	case ContentCustom:
		title := strings.ToLower(s.Title)
		switch {
		case s.CustomContent != "":
			b.Text = ReplaceVariables(s.CustomContent, vars)
		case strings.Contains(title, "parameter"):
			b.Fields = parameterRows(&data.Session.Parameters)
		case strings.Contains(title, "conclusion"):
			c := Conclude(data.Defects)
			b.Conclusion = &c
		}
	case ContentWaveform:
		if cfg.OmitWaveform || len(data.Signals) == 0 {
			b.Omitted = true
			break
		}
		b.Waveform = Downsample(data.Signals, MaxWaveformPoints)
	case ContentDataTable:
		if cfg.OmitDataTable {
			b.Omitted = true
			break
		}
		sum := signal.Summarize(data.Signals)
		b.Summary = &sum
	case ContentDefectStatistics:
		st := CountDefects(data.Defects)
		b.Stats = &st
	case ContentDefectTable:
		if cfg.OmitDefectDetails || len(data.Defects) == 0 {
			b.Omitted = true
			break
		}
		b.Defects, b.MoreDefects = defectRows(data.Defects)
	}
	return b
}

// Downsample picks at most n evenly spaced samples, keeping the first
func Downsample(samples []model.SignalSample, n int) []WaveformPoint {
	if n <= 0 || len(samples) == 0 {
		return nil
	}
	count := min(len(samples), n)
	out := make([]WaveformPoint, count)
	for i := range count {
		s := samples[i*len(samples)/count]
		out[i] = WaveformPoint{Position: s.Position, Amplitude: s.Amplitude}
	}
	return out
}

func defectRows(defects []model.Defect) ([]DefectRow, int) {
	shown := defects[:min(len(defects), MaxDefectRows)]
	rows := make([]DefectRow, len(shown))
	for i := range shown {
		gate := string(shown[i].GateTriggered)
		if gate == "" {
			gate = notAvailable
		}
		rows[i] = DefectRow{
			No:        i + 1,
			Position:  shown[i].Position,
			Amplitude: shown[i].Amplitude,
			Severity:  shown[i].Severity,
			Gate:      gate,
		}
	}
	return rows, len(defects) - len(shown)
}

func parameterRows(p *model.TestingParameters) []Field {
	num := func(v float64) string { return fmt.Sprintf("%g", v) }
	return []Field{
		{"Gain", num(p.Gain) + " dB"},
		{"Filter", string(p.Filter)},
		{"Velocity", num(p.Velocity) + " mm/s"},
		{"Threshold", num(p.Threshold)},
		{"Gate A - Start", num(p.GateA.Start) + " mm"},
		{"Gate A - Width", num(p.GateA.Width) + " mm"},
		{"Gate A - Threshold", num(p.GateA.AlarmThreshold)},
		{"Gate B - Start", num(p.GateB.Start) + " mm"},
		{"Gate B - Width", num(p.GateB.Width) + " mm"},
		{"Gate B - Threshold", num(p.GateB.AlarmThreshold)},
	}
}

func signatureBlocks(s Signatures, operator string) []Signature {
	var out []Signature
	if s.Operator {
		out = append(out, Signature{Role: "Operator", Name: operator})
	}
	if s.Inspector {
		out = append(out, Signature{Role: "Inspector"})
	}
	if s.Reviewer {
		out = append(out, Signature{Role: "Reviewer"})
	}
	if s.Approver {
		out = append(out, Signature{Role: "Approver"})
	}
	return out
}
