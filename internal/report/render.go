package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/tphakala/magtest/internal/errors"
)

// Renderer turns a Document into a binary artifact
type Renderer interface {
	Render(doc *Document) ([]byte, error)
	// ContentType is the MIME type of the rendered output
	ContentType() string
	// Extension is the file extension including the dot
	Extension() string
}

// TextRenderer produces a paginated plain-text report. Pages are separated
// by form feeds and end with the footer line.
type TextRenderer struct {
	LinesPerPage int
	Width        int
}

// NewTextRenderer returns a renderer for 60-line, 78-column pages
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{LinesPerPage: 60, Width: 78}
}

func (r *TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }
func (r *TextRenderer) Extension() string   { return ".txt" }

// Render implements Renderer
func (r *TextRenderer) Render(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.Newf("nil document").
			Component("report").
			Category(errors.CategoryValidation).
			Context("operation", "render").
			Build()
	}
	width := max(r.Width, 40)
	perPage := max(r.LinesPerPage, 10)

	w := &lineWriter{width: width}
	r.writeHeader(w, doc)
	for i := range doc.Blocks {
		r.writeBlock(w, &doc.Blocks[i])
	}
	r.writeSignatures(w, doc)
	if len(doc.Warnings) > 0 {
		w.blank()
		w.line("Warnings:")
		for _, warn := range doc.Warnings {
			w.line("  - " + warn)
		}
	}

	return paginate(w.lines, perPage-2, width, doc.Footer), nil
}

func (r *TextRenderer) writeHeader(w *lineWriter, doc *Document) {
	h := doc.Header
	w.right(h.CompanyName)
	w.center(h.Title)
	if h.Subtitle != "" {
		w.center(h.Subtitle)
	}
	w.center(h.StandardReference)
	if h.ReportDate != "" {
		w.center("Report Date: " + h.ReportDate)
	}
	w.rule('=')
	w.blank()
}

func (r *TextRenderer) writeBlock(w *lineWriter, b *Block) {
	w.line(strings.ToUpper(b.Title))
	w.rule('-')

	switch {
	case b.Omitted:
		w.line("(not included)")
	case b.Text != "":
		w.wrap(b.Text)
	case b.Conclusion != nil:
		w.wrap(b.Conclusion.Text)
		w.line("Recommendation:")
		w.wrap(b.Conclusion.Recommendation)
	case b.Summary != nil:
		s := b.Summary
		w.table([][]string{
			{"Total Data Points:", fmt.Sprintf("%d", s.Count)},
			{"Average Amplitude:", fmt.Sprintf("%.3f", s.Average)},
			{"Max Amplitude:", fmt.Sprintf("%.3f", s.Max)},
			{"Min Amplitude:", fmt.Sprintf("%.3f", s.Min)},
			{"Position Range:", fmt.Sprintf("%.1f - %.1f mm", s.PositionFrom, s.PositionTo)},
		})
	case b.Stats != nil:
		st := b.Stats
		w.table([][]string{
			{"Total Defects:", fmt.Sprintf("%d", st.Total)},
			{"Critical:", fmt.Sprintf("%d", st.Critical)},
			{"High:", fmt.Sprintf("%d", st.High)},
			{"Medium:", fmt.Sprintf("%d", st.Medium)},
			{"Low:", fmt.Sprintf("%d", st.Low)},
		})
	case len(b.Defects) > 0:
		rows := [][]string{{"No.", "Position (mm)", "Amplitude", "Severity", "Gate"}}
		for _, d := range b.Defects {
			rows = append(rows, []string{
				fmt.Sprintf("%d", d.No),
				fmt.Sprintf("%.2f", d.Position),
				fmt.Sprintf("%.3f", d.Amplitude),
				strings.ToUpper(string(d.Severity)),
				d.Gate,
			})
		}
		w.table(rows)
		if b.MoreDefects > 0 {
			w.line(fmt.Sprintf("... and %d more defects", b.MoreDefects))
		}
	case len(b.Waveform) > 0:
		first, last := b.Waveform[0], b.Waveform[len(b.Waveform)-1]
		w.line(fmt.Sprintf("%d points, position %.2f - %.2f mm", len(b.Waveform), first.Position, last.Position))
		w.line(sparkline(b.Waveform, w.width))
	case len(b.Fields) > 0:
		rows := make([][]string, len(b.Fields))
		for i, f := range b.Fields {
			rows[i] = []string{f.Label + ":", f.Value}
		}
		w.table(rows)
	}
	w.blank()
}

func (r *TextRenderer) writeSignatures(w *lineWriter, doc *Document) {
	if len(doc.Signatures) == 0 {
		return
	}
	w.line("SIGNATURES")
	w.rule('-')
	for _, s := range doc.Signatures {
		w.line(s.Role + ": " + s.Name)
		w.line("Signature: ______________________________")
		w.blank()
	}
	w.line("Date: " + doc.SignatureDate)
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline draws amplitudes as block characters, at most width wide
func sparkline(points []WaveformPoint, width int) string {
	n := min(len(points), width)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Amplitude)
		hi = math.Max(hi, p.Amplitude)
	}
	var b strings.Builder
	for i := range n {
		a := points[i*len(points)/n].Amplitude
		idx := 0
		if hi > lo {
			idx = int((a - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

type lineWriter struct {
	lines []string
	width int
}

func (w *lineWriter) line(s string) { w.lines = append(w.lines, s) }
func (w *lineWriter) blank()        { w.line("") }
func (w *lineWriter) rule(c byte)   { w.line(strings.Repeat(string(c), w.width)) }

func (w *lineWriter) center(s string) {
	pad := max((w.width-len([]rune(s)))/2, 0)
	w.line(strings.Repeat(" ", pad) + s)
}

func (w *lineWriter) right(s string) {
	pad := max(w.width-len([]rune(s)), 0)
	w.line(strings.Repeat(" ", pad) + s)
}

// wrap breaks text on word boundaries
func (w *lineWriter) wrap(text string) {
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > w.width {
			w.line(cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		w.line(cur.String())
	}
}

// table aligns rows into columns
func (w *lineWriter) table(rows [][]string) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
	for l := range strings.SplitSeq(strings.TrimRight(buf.String(), "\n"), "\n") {
		w.line(strings.TrimRight(l, " "))
	}
}

func paginate(lines []string, perPage, width int, footer Footer) []byte {
	pages := max((len(lines)+perPage-1)/perPage, 1)
	var out bytes.Buffer
	for p := range pages {
		if p > 0 {
			out.WriteString("\f")
		}
		end := min((p+1)*perPage, len(lines))
		for _, l := range lines[p*perPage : end] {
			out.WriteString(l)
			out.WriteByte('\n')
		}
		out.WriteByte('\n')
		out.WriteString(footerLine(footer, p+1, pages, width))
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func footerLine(f Footer, page, pages, width int) string {
	left := f.CustomText
	if !f.IncludePageNumbers {
		return left
	}
	right := fmt.Sprintf("Page %d of %d", page, pages)
	gap := max(width-len([]rune(left))-len(right), 1)
	return left + strings.Repeat(" ", gap) + right
}
