package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/errors"
)

const testDSN = "https://public@sentry.example.com/1"

// initForTest installs a capturing client; telemetry state is process wide so
// these tests do not run in parallel.
func initForTest(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	require.NoError(t, Init(&conf.SentrySettings{Enabled: true, DSN: testDSN}, Options{Version: "1.2.3", Transport: transport}))
	t.Cleanup(func() { Shutdown(time.Second) })
	return transport
}

func TestInit_Disabled(t *testing.T) {
	require.NoError(t, Init(&conf.SentrySettings{}, Options{}))
	assert.False(t, Enabled())

	CaptureError(fmt.Errorf("ignored"), "api")
}

func TestInit_RequiresDSN(t *testing.T) {
	err := Init(&conf.SentrySettings{Enabled: true}, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, Enabled())
}

func TestCaptureError(t *testing.T) {
	transport := initForTest(t)
	assert.True(t, Enabled())

	CaptureError(fmt.Errorf("panic: runtime error: index out of range [3] with length 2"), "api")
	sentry.Flush(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, sentry.LevelError, ev.Level)
	assert.Equal(t, "API: Index Out of Range", ev.Exception[0].Type)
	assert.Equal(t, "api", ev.Tags["component"])
	assert.Empty(t, ev.ServerName)
	assert.Equal(t, "orthovision@1.2.3", ev.Release)
}

func TestCaptureError_ScrubsCredentials(t *testing.T) {
	transport := initForTest(t)

	CaptureError(fmt.Errorf("GET https://huggingface.co/x?token=abc failed: Bearer hf_abcdefghijkl"), "artifact-store")
	sentry.Flush(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Message, "abc failed")
	assert.NotContains(t, events[0].Message, "hf_abcdefghijkl")
	assert.Contains(t, events[0].Message, "[REDACTED]")
}

func TestEnhancedErrorsReportThroughSentry(t *testing.T) {
	transport := initForTest(t)

	_ = errors.Newf("decode tensor failed").
		Component("scoring").
		Category(errors.CategoryInference).
		Build()
	sentry.Flush(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "scoring", events[0].Tags["component"])
	assert.Equal(t, string(errors.CategoryInference), events[0].Tags["category"])
}

func TestShutdownDisablesReporting(t *testing.T) {
	transport := initForTest(t)
	Shutdown(time.Second)
	assert.False(t, Enabled())

	CaptureMessage("after shutdown", sentry.LevelInfo, "api")
	_ = errors.Newf("after shutdown").Build()
	assert.Empty(t, transport.Events())
}

func TestApplyPrivacyFilters(t *testing.T) {
	ev := sentry.NewEvent()
	ev.User = sentry.User{ID: "u", IPAddress: "10.0.0.1"}
	ev.ServerName = "host-1"
	ev.Request = &sentry.Request{URL: "http://x/detect"}
	ev.Contexts = map[string]sentry.Context{"device": {}, "application": {}}
	ev.Extra = map[string]any{"component": "api", "path": "/tmp/x"}
	ev.Tags = map[string]string{"hostname": "h", "component": "api"}

	out := applyPrivacyFilters(ev)
	assert.True(t, out.User.IsEmpty())
	assert.Empty(t, out.ServerName)
	assert.Nil(t, out.Request)
	assert.NotContains(t, out.Contexts, "device")
	assert.Contains(t, out.Contexts, "application")
	assert.Equal(t, map[string]any{"component": "api"}, out.Extra)
	assert.Equal(t, map[string]string{"component": "api"}, out.Tags)
}

func TestTitleCaseComponent(t *testing.T) {
	assert.Equal(t, "Artifact Store", titleCaseComponent("artifact-store"))
	assert.Equal(t, "API", titleCaseComponent("api"))
	assert.Equal(t, "Scoring", titleCaseComponent("scoring"))
	assert.Equal(t, "Nil Pointer Dereference", generateErrorTitle("invalid memory address or nil pointer dereference", "unknown"))
}

func TestParseErrorType(t *testing.T) {
	assert.Equal(t, "Panic: boom", parseErrorType("panic: boom"))
	assert.Equal(t, "short message", parseErrorType("short message"))
	long := "this error message is long enough that it has to be truncated when used as a title"
	assert.Equal(t, long[:60]+"...", parseErrorType(long))
}
