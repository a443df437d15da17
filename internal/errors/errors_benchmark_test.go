package errors

import (
	"fmt"
	"testing"
)

// BenchmarkErrorCreationNoTelemetry tests error creation performance when telemetry is disabled
func BenchmarkErrorCreationNoTelemetry(b *testing.B) {
	RegisterReporter(nil)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Build()
	}
}

// BenchmarkErrorCreationWithContext tests error creation with attached context.
func BenchmarkErrorCreationWithContext(b *testing.B) {
	RegisterReporter(nil)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Context("operation", "test_op").
			Context("count", 42).
			Build()
	}
}

// mockReporter is a test telemetry reporter that does nothing but scrub.
type mockReporter struct {
	enabled bool
}

func (m *mockReporter) IsEnabled() bool { return m.enabled }

func (m *mockReporter) ReportError(ee *EnhancedError) {
	_ = scrubForPrivacy(ee.Error())
}

// BenchmarkErrorCreationWithTelemetry tests error creation when a reporter is active.
func BenchmarkErrorCreationWithTelemetry(b *testing.B) {
	reporter := &mockReporter{enabled: true}
	RegisterReporter(reporter)
	b.Cleanup(func() { RegisterReporter(nil) })

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := fmt.Errorf("test error with URL https://example.com?api_key=secret123&token=abc")
		_ = New(err).
			Component("test").
			Category(CategoryNetwork).
			Context("url", "https://example.com?api_key=secret123").
			Build()
	}
}

// BenchmarkPrivacyScrubbing tests the performance of privacy scrubbing alone.
func BenchmarkPrivacyScrubbing(b *testing.B) {
	testMessage := "Error connecting to https://api.example.com?api_key=1234567890abcdef&station_id=test123&token=secret"

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = scrubForPrivacy(testMessage)
	}
}
