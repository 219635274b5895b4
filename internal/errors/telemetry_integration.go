// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	telemetryReporter TelemetryReporter
	reporterMu        sync.RWMutex
)

// SetTelemetryReporter installs the process-wide reporter. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := telemetryReporter
	reporterMu.RUnlock()

	if reporter == nil || !reporter.IsEnabled() || ee.IsReported() {
		return
	}
	// validation and not-found errors are caller mistakes, not incidents
	if ee.Category == CategoryValidation || ee.Category == CategoryNotFound {
		return
	}
	reporter.ReportError(ee)
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends the error to Sentry with scrubbed message and context
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		level := levelFor(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func errorTitle(ee *EnhancedError) string {
	var parts []string
	if ee.Component != "" && ee.Component != ComponentUnknown {
		parts = append(parts, titleCase(ee.Component))
	}
	parts = append(parts, titleCase(strings.ReplaceAll(string(ee.Category), "-", " "))+" Error")
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		words := strings.Fields(strings.ReplaceAll(op, "_", " "))
		for i, w := range words {
			words[i] = titleCase(w)
		}
		parts = append(parts, strings.Join(words, " "))
	}
	return strings.Join(parts, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategorySync, CategoryIntegration:
		return sentry.LevelWarning
	case CategoryConflict, CategoryState:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	urlCredentialsPattern = regexp.MustCompile(`://[^/@\s]+@`)
	apiKeyPattern         = regexp.MustCompile(`(?i)(apikey|api_key|token|authorization)=([^&\s]+)`)
)

// scrubMessage removes credentials and api keys from messages
func scrubMessage(msg string) string {
	msg = urlCredentialsPattern.ReplaceAllString(msg, "://[redacted]@")
	return apiKeyPattern.ReplaceAllString(msg, "$1=[redacted]")
}
