package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaultsComponentAndCategory(t *testing.T) {
	t.Parallel()
	RegisterReporter(nil)

	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuildAttachesComponentCategoryAndContext(t *testing.T) {
	t.Parallel()

	ee := New(nil).
		Component("engine").
		Category(CategoryProtocol).
		Context("operation", "start_operation").
		Build()

	assert.Equal(t, "engine", ee.Component)
	assert.Equal(t, CategoryProtocol, ee.Category)
	assert.Equal(t, "start_operation", ee.GetContext()["operation"])
	assert.True(t, IsCategory(ee, CategoryProtocol))
	assert.False(t, IsCategory(ee, CategoryOutput))
}

func TestNilErrorProducesReadableMessage(t *testing.T) {
	t.Parallel()

	ee := New(nil).Component("proxy").Category(CategorySetup).Build()
	assert.Equal(t, "proxy: setup error", ee.Error())
}

type stubReporter struct {
	enabled bool
	reports []*EnhancedError
}

func (s *stubReporter) ReportError(ee *EnhancedError) { s.reports = append(s.reports, ee) }
func (s *stubReporter) IsEnabled() bool               { return s.enabled }

func TestRegisteredReporterReceivesBuiltErrors(t *testing.T) {
	stub := &stubReporter{enabled: true}
	RegisterReporter(stub)
	t.Cleanup(func() { RegisterReporter(nil) })

	ee := New(fmt.Errorf("disk full")).Component("audioio").Category(CategoryOutput).Build()

	require.Len(t, stub.reports, 1)
	assert.Same(t, ee, stub.reports[0])
}

func TestRegisterReporterNilDisablesReporting(t *testing.T) {
	stub := &stubReporter{enabled: true}
	RegisterReporter(stub)
	RegisterReporter(nil)

	New(fmt.Errorf("ignored")).Build()

	assert.Empty(t, stub.reports)
}
