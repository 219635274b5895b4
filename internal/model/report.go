package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Standard identifies the inspection standard a report follows
type Standard string

const (
	StandardASME   Standard = "ASME"
	StandardISO    Standard = "ISO"
	StandardEN     Standard = "EN"
	StandardASTM   Standard = "ASTM"
	StandardCustom Standard = "custom"
)

// ParseStandard parses a standard name case-insensitively
func ParseStandard(s string) (Standard, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASME":
		return StandardASME, nil
	case "ISO":
		return StandardISO, nil
	case "EN":
		return StandardEN, nil
	case "ASTM":
		return StandardASTM, nil
	case "CUSTOM":
		return StandardCustom, nil
	}
	return "", fmt.Errorf("unknown standard %q", s)
}

// ReportType selects report detail level
type ReportType string

const (
	ReportStandard ReportType = "standard"
	ReportDetailed ReportType = "detailed"
	ReportSummary  ReportType = "summary"
)

// Report is the stored record of a generated report
type Report struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	ReportType  ReportType      `json:"reportType"`
	Standard    Standard        `json:"standard"`
	Content     json.RawMessage `json:"content,omitempty"`
	PDFURL      string          `json:"pdfUrl,omitempty"`
	GeneratedBy string          `json:"generatedBy"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
