// Package errors - telemetry integration (optional).
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// Pre-compiled regex patterns used to scrub diagnostic context before it
// leaves the process (device paths, URLs, credentials in connection
// strings for remote audio objects).
var (
	urlRegex        = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credentialRegex = regexp.MustCompile(`(?i)(user(?:name)?|pass(?:word)?|token|key)[=:]\S+`)
)

func init() {
	hasActiveReporting.Store(false)
}

// TelemetryReporter reports built errors to an external system.
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter on top of sentry-go.
// It is entirely optional: the engine never requires a DSN to run, and
// nothing in this repository installs it — a caller must register it
// explicitly via RegisterReporter.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter builds a reporter; enabled gates whether ReportError
// does anything (a disabled reporter is a safe no-op, so callers can wire
// it unconditionally and flip enabled from configuration).
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled reports whether this reporter will forward errors.
func (sr *SentryReporter) IsEnabled() bool { return sr.enabled }

// ReportError sends ee to Sentry with connection strings and credentials
// scrubbed from context values. LatencyWarning/PriorityWarning-category
// errors are never reported: they are expected operational conditions,
// not bugs.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee == nil || ee.IsReported() {
		return
	}

	if ee.Category == CategoryLatency || ee.Category == CategoryPriority {
		ee.MarkReported()
		return
	}

	message := scrubForPrivacy(fmt.Sprintf("[%s/%s] %s", ee.Component, ee.Category, ee.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))

		for key, value := range ee.GetContext() {
			if str, ok := value.(string); ok {
				value = scrubForPrivacy(str)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		scope.SetLevel(levelForCategory(ee.Category))
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})
		sentry.CaptureException(ee)
	})

	ee.MarkReported()
}

func levelForCategory(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryProtocol:
		return sentry.LevelFatal
	case CategorySetup, CategoryOutput:
		return sentry.LevelError
	default:
		return sentry.LevelWarning
	}
}

func scrubForPrivacy(s string) string {
	s = urlRegex.ReplaceAllString(s, "$1?<redacted>")
	s = credentialRegex.ReplaceAllStringFunc(s, func(m string) string {
		if i := strings.IndexAny(m, "=:"); i >= 0 {
			return m[:i+1] + "<redacted>"
		}
		return m
	})
	return s
}

var activeReporter atomic.Pointer[TelemetryReporter]

// RegisterReporter installs the process-wide telemetry reporter used by
// ErrorBuilder.Build. Passing nil disables reporting.
func RegisterReporter(reporter TelemetryReporter) {
	if reporter == nil {
		hasActiveReporting.Store(false)
		activeReporter.Store(nil)
		return
	}
	activeReporter.Store(&reporter)
	hasActiveReporting.Store(reporter.IsEnabled())
}

func reportError(ee *EnhancedError) {
	rp := activeReporter.Load()
	if rp == nil {
		return
	}
	(*rp).ReportError(ee)
}
