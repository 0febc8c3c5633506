// Package telemetry provides opt-in, privacy filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
)

var (
	initialized atomic.Bool
	initMu      sync.Mutex
)

// Options are passed to Init in addition to settings.
type Options struct {
	Version string
	// Transport replaces the HTTP transport, used by tests.
	Transport sentry.Transport
}

// Init initializes Sentry when enabled and connects the errors package to it.
// Disabled settings leave reporting off and return nil.
func Init(settings *conf.SentrySettings, opts Options) error {
	initMu.Lock()
	defer initMu.Unlock()

	log := GetLogger()
	if !settings.Enabled {
		errors.SetTelemetryReporter(errors.NewSentryReporter(false))
		log.Debug("sentry telemetry disabled")
		return nil
	}
	if settings.DSN == "" {
		return errors.Newf("sentry enabled without a dsn").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sampleRate := settings.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}
	environment := settings.Environment
	if environment == "" {
		environment = "production"
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "", // keep hostnames out of events
		Release:          "orthovision@" + version,
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureScope(version)
	errors.SetPrivacyScrubber(ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	log.Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", "orthovision@"+version),
		logger.Float64("sample_rate", sampleRate))
	return nil
}

// Enabled reports whether Init configured a client.
func Enabled() bool {
	return initialized.Load()
}

// Shutdown flushes pending events and disables reporting.
func Shutdown(timeout time.Duration) {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized.Load() {
		return
	}
	sentry.Flush(timeout)
	errors.SetTelemetryReporter(nil)
	initialized.Store(false)
}

func configureScope(version string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":    "OrthoVision",
			"version": version,
		})
		scope.SetContext("platform", map[string]any{
			"os":           runtime.GOOS,
			"architecture": runtime.GOARCH,
			"num_cpu":      runtime.NumCPU(),
			"go_version":   runtime.Version(),
		})
	})
}

// applyPrivacyFilters strips host and user data. Uploaded images and request
// bodies never reach events.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

var urlQueryPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)

// ScrubMessage drops URL query strings and redacts credentials.
func ScrubMessage(message string) string {
	message = urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
	return logger.RedactSensitiveData(message)
}

// CaptureError reports err outside the errors builder, e.g. a recovered panic.
func CaptureError(err error, component string) {
	if err == nil || !initialized.Load() {
		return
	}

	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.IsReported() {
		return
	}

	message := ScrubMessage(err.Error())
	title := generateErrorTitle(message, component)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("error_title", title)
		scope.SetFingerprint([]string{title, component})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})
}

// CaptureMessage reports a message at level.
func CaptureMessage(message string, level sentry.Level, component string) {
	if !initialized.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(ScrubMessage(message))
	})
}

// generateErrorTitle builds a readable, groupable title from an error message.
func generateErrorTitle(errMsg, component string) string {
	errorType := parseErrorType(errMsg)
	if component != "" && component != errors.ComponentUnknown {
		return fmt.Sprintf("%s: %s", titleCaseComponent(component), errorType)
	}
	return errorType
}

func parseErrorType(errMsg string) string {
	switch {
	case strings.Contains(errMsg, "nil pointer dereference"):
		return "Nil Pointer Dereference"
	case strings.Contains(errMsg, "index out of range"):
		return "Index Out of Range"
	case strings.Contains(errMsg, "slice bounds out of range"):
		return "Slice Bounds Out of Range"
	case strings.Contains(errMsg, "integer divide by zero"):
		return "Integer Divide by Zero"
	case strings.Contains(errMsg, "invalid memory address"):
		return "Invalid Memory Access"
	case strings.Contains(errMsg, "concurrent map"):
		return "Concurrent Map Access"
	case strings.Contains(errMsg, "interface conversion"):
		return "Interface Conversion Failed"
	case strings.HasPrefix(errMsg, "panic:"):
		panicMsg := strings.TrimSpace(strings.TrimPrefix(errMsg, "panic:"))
		if len(panicMsg) > 50 {
			panicMsg = panicMsg[:50] + "..."
		}
		return "Panic: " + panicMsg
	default:
		if len(errMsg) > 60 {
			return errMsg[:60] + "..."
		}
		return errMsg
	}
}

// titleCaseComponent turns "artifact-store" into "Artifact Store".
func titleCaseComponent(component string) string {
	component = strings.NewReplacer("-", " ", "_", " ").Replace(component)
	words := strings.Fields(component)
	for i, word := range words {
		switch word {
		case "api", "http", "onnx", "ftp", "sftp":
			words[i] = strings.ToUpper(word)
			continue
		}
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
