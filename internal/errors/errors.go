// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDatabase      ErrorCategory = "database"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryNotFound      ErrorCategory = "not-found"
	CategorySync          ErrorCategory = "sync"
	CategoryAcquisition   ErrorCategory = "acquisition"
	CategorySignal        ErrorCategory = "signal-processing"
	CategoryReport        ErrorCategory = "report"
	CategoryExport        ErrorCategory = "export"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryIntegration   ErrorCategory = "integration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when no component was set
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time
	reported  bool
	mu        sync.RWMutex
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the wrapped error
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// MarkReported marks this error as sent to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been sent to telemetry
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error builder around err
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error builder
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority; unknown values fall back to medium
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	case "":
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing adds operation timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	return eb.Context("duration_ms", duration.Milliseconds())
}

// Build creates the EnhancedError and reports it when telemetry is active
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = categoryOf(eb.err)
	}

	if hasActiveReporting.Load() {
		reportToTelemetry(ee)
	}
	return ee
}

// categoryOf inherits the category of a wrapped EnhancedError
func categoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) && ee.Category != "" {
		return ee.Category
	}
	return CategoryGeneric
}

// IsCategory reports whether any EnhancedError in err's chain has category
func IsCategory(err error, category ErrorCategory) bool {
	for err != nil {
		var ee *EnhancedError
		if !stderrors.As(err, &ee) {
			return false
		}
		if ee.Category == category {
			return true
		}
		err = ee.Err
	}
	return false
}

// IsNotFound is shorthand for IsCategory(err, CategoryNotFound)
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// ValidationError builds a validation category error
func ValidationError(component, message string) *EnhancedError {
	return Newf("%s", message).Component(component).Category(CategoryValidation).Build()
}

// NotFound builds a not-found category error for an entity
func NotFound(component, entity, id string) *EnhancedError {
	return Newf("%s %q not found", entity, id).
		Component(component).
		Category(CategoryNotFound).
		Context("entity", entity).
		Context("id", id).
		Build()
}

var hasActiveReporting atomic.Bool

// Standard library passthroughs so callers only import this package
var (
	NewStd = stderrors.New
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
)
