package errors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	if ee.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Error())
	}
	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("download failed")).
		Component("artifact").
		Category(CategoryArtifact).
		ArtifactContext("classifier", "/models/classifier.onnx").
		Timing("download", 0).
		Build()

	if ee.GetComponent() != "artifact" {
		t.Errorf("component = %q", ee.GetComponent())
	}
	if !IsCategory(ee, CategoryArtifact) {
		t.Errorf("expected artifact category, got %s", ee.Category)
	}
	ctx := ee.GetContext()
	if ctx["artifact"] != "classifier" || ctx["path"] != "/models/classifier.onnx" {
		t.Errorf("unexpected context %v", ctx)
	}
	if ctx["operation"] != "download" {
		t.Errorf("timing context missing: %v", ctx)
	}

	// returned context is a copy
	ctx["artifact"] = "mutated"
	if ee.GetContext()["artifact"] != "classifier" {
		t.Error("GetContext must not expose internal map")
	}
}

func TestWrappedCategoryIsInherited(t *testing.T) {
	SetTelemetryReporter(nil)

	inner := New(fmt.Errorf("digest mismatch")).Category(CategoryIntegrity).Build()
	outer := New(fmt.Errorf("refresh: %w", inner)).Build()

	if outer.Category != CategoryIntegrity {
		t.Errorf("expected inherited integrity category, got %s", outer.Category)
	}
	if !Is(outer, inner) {
		t.Error("outer should match inner via errors.Is")
	}
}

func TestSlowPathDetectsComponentAndCategory(t *testing.T) {
	rep := &recordingReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(fmt.Errorf("request: %w", context.DeadlineExceeded)).Build()
	if ee.Category != CategoryTimeout {
		t.Errorf("expected timeout category, got %s", ee.Category)
	}

	ee = New(fmt.Errorf("401 unauthorized")).Build()
	if ee.Category != CategoryAuthentication {
		t.Errorf("expected authentication category, got %s", ee.Category)
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.reported) != 2 {
		t.Errorf("expected 2 reported errors, got %d", len(rep.reported))
	}
}

func TestLookupComponentPrefersLongestPattern(t *testing.T) {
	got := lookupComponent("github.com/orthovision/orthovision/internal/artifact/stores.(*Hub).Fetch")
	if got != "artifact-store" {
		t.Errorf("expected artifact-store, got %s", got)
	}
	got = lookupComponent("github.com/orthovision/orthovision/internal/artifact.(*Manager).EnsureCurrent")
	if got != "artifact" {
		t.Errorf("expected artifact, got %s", got)
	}
}

func TestBasicURLScrub(t *testing.T) {
	msg := "GET https://huggingface.co/api/models/x?token=abc failed with Bearer hf_abcdefghijkl"
	scrubbed := basicURLScrub(msg)

	if strings.Contains(scrubbed, "token=abc") {
		t.Errorf("query string leaked: %s", scrubbed)
	}
	if strings.Contains(scrubbed, "hf_abcdefghijkl") {
		t.Errorf("token leaked: %s", scrubbed)
	}
}
