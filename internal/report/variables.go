package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/tphakala/magtest/internal/model"
)

// Variables are the flat key/value pairs substituted into templates
type Variables map[string]string

const notAvailable = "N/A"

// Default values used when Config leaves a field empty
const (
	DefaultCompanyName    = "DOPPLER"
	DefaultEquipmentModel = "DOPPLER MT-2000"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// ReplaceVariables substitutes {{ key }} placeholders. Unknown or empty keys
// are replaced with an empty string.
func ReplaceVariables(text string, vars Variables) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// ValidateVariables lists the fields of required sections that have no value.
// A non-empty result is a warning; generation still proceeds.
func ValidateVariables(tpl Template, vars Variables) []string {
	var missing []string
	for _, s := range tpl.Sections {
		if !s.Required {
			continue
		}
		for _, f := range s.Fields {
			if vars[f] == "" {
				missing = append(missing, f)
			}
		}
	}
	return missing
}

// FormatFieldName turns a camelCase key into a Title Case label
func FormatFieldName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DisplayValue returns the printable value of a field
func DisplayValue(field string, vars Variables) string {
	v := vars[field]
	if v == "" {
		return notAvailable
	}
	if field == "status" {
		return strings.ToUpper(v)
	}
	return v
}

// FormatDuration renders a span as "Xm Ys"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// sessionDuration measures start to end, or start to now for open sessions
func sessionDuration(s *model.TestingSession, now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

// BuildVariables collects the template variables for a session
func BuildVariables(s *model.TestingSession, operator string, cfg *Config, now time.Time) Variables {
	orNA := func(v string) string {
		if v == "" {
			return notAvailable
		}
		return v
	}
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Variables{
		"projectName":     s.ProjectName,
		"testDate":        s.StartTime.In(cfg.location()).Format("2006-01-02 15:04:05"),
		"operator":        operator,
		"sessionId":       s.ID,
		"status":          strings.ToUpper(string(s.Status)),
		"duration":        FormatDuration(sessionDuration(s, now)),
		"companyName":     orDefault(cfg.CompanyName, DefaultCompanyName),
		"equipmentModel":  orDefault(cfg.EquipmentModel, DefaultEquipmentModel),
		"equipmentSerial": orNA(cfg.EquipmentSerial),
		"testLocation":    orNA(cfg.TestLocation),
		"customerName":    orNA(cfg.CustomerName),
		"partNumber":      orNA(cfg.PartNumber),
		"materialType":    orNA(cfg.MaterialType),
	}
}
