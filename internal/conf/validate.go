// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateArtifactSettings(&settings.Artifacts)...)
	ve.Errors = append(ve.Errors, validateScoringSettings(&settings.Scoring, &settings.Artifacts)...)
	ve.Errors = append(ve.Errors, validateCascadeSettings(&settings.Cascade, &settings.Artifacts)...)
	ve.Errors = append(ve.Errors, validateWebServerSettings(&settings.WebServer)...)

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateArtifactSettings(a *ArtifactSettings) []string {
	var errs []string

	if strings.TrimSpace(a.Dir) == "" {
		errs = append(errs, "artifacts.dir must be set")
	}

	switch a.Policy {
	case PolicyRevision, PolicyPresence:
	default:
		errs = append(errs, fmt.Sprintf("artifacts.policy %q is invalid, use %q or %q", a.Policy, PolicyRevision, PolicyPresence))
	}

	if a.DigestWorkers < 0 {
		errs = append(errs, "artifacts.digest_workers must not be negative")
	}

	if len(a.Files) == 0 {
		errs = append(errs, "artifacts.files must list at least one artifact")
	}
	names := make(map[string]bool, len(a.Files))
	filenames := make(map[string]bool, len(a.Files))
	for i, f := range a.Files {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Sprintf("artifacts.files[%d].name must be set", i))
		case names[f.Name]:
			errs = append(errs, fmt.Sprintf("artifacts.files: duplicate name %q", f.Name))
		}
		names[f.Name] = true

		switch {
		case f.Filename == "":
			errs = append(errs, fmt.Sprintf("artifacts.files[%d].filename must be set", i))
		case strings.ContainsAny(f.Filename, `/\`) || f.Filename == "." || f.Filename == "..":
			errs = append(errs, fmt.Sprintf("artifacts.files[%d].filename %q must be a plain file name", i, f.Filename))
		case filenames[f.Filename]:
			errs = append(errs, fmt.Sprintf("artifacts.files: duplicate filename %q", f.Filename))
		}
		filenames[f.Filename] = true
	}

	errs = append(errs, validateStoreSettings(&a.Store)...)
	return errs
}

func validateStoreSettings(s *StoreSettings) []string {
	var errs []string

	switch s.Type {
	case StoreHub:
		if s.Hub.Endpoint == "" {
			errs = append(errs, "artifacts.store.hub.endpoint must be set")
		}
		if s.Hub.Repository == "" || !strings.Contains(s.Hub.Repository, "/") {
			errs = append(errs, fmt.Sprintf("artifacts.store.hub.repository %q must be of the form owner/name", s.Hub.Repository))
		}
		if s.Hub.MaxRetries < 0 {
			errs = append(errs, "artifacts.store.hub.max_retries must not be negative")
		}
	case StoreFTP:
		if s.FTP.Host == "" {
			errs = append(errs, "artifacts.store.ftp.host must be set")
		}
		if !validPort(s.FTP.Port) {
			errs = append(errs, fmt.Sprintf("artifacts.store.ftp.port %d is out of range", s.FTP.Port))
		}
	case StoreSFTP:
		if s.SFTP.Host == "" {
			errs = append(errs, "artifacts.store.sftp.host must be set")
		}
		if !validPort(s.SFTP.Port) {
			errs = append(errs, fmt.Sprintf("artifacts.store.sftp.port %d is out of range", s.SFTP.Port))
		}
		if s.SFTP.Password == "" && s.SFTP.PasswordFile == "" && s.SFTP.KeyFile == "" {
			errs = append(errs, "artifacts.store.sftp requires a password, password_file or key_file")
		}
	case StoreLocal:
		if s.Local.Path == "" {
			errs = append(errs, "artifacts.store.local.path must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("artifacts.store.type %q is invalid, use hub, ftp, sftp or local", s.Type))
	}

	return errs
}

func validateScoringSettings(s *ScoringSettings, a *ArtifactSettings) []string {
	var errs []string

	if s.Threads < 0 {
		errs = append(errs, "scoring.threads must not be negative")
	}

	c := &s.Classifier
	if _, ok := a.File(c.Artifact); !ok {
		errs = append(errs, fmt.Sprintf("scoring.classifier.artifact %q is not listed in artifacts.files", c.Artifact))
	}
	switch c.Backend {
	case "auto", "onnx", "tflite":
	default:
		errs = append(errs, fmt.Sprintf("scoring.classifier.backend %q is invalid, use auto, onnx or tflite", c.Backend))
	}
	if c.Channels != 1 && c.Channels != 3 {
		errs = append(errs, fmt.Sprintf("scoring.classifier.channels must be 1 or 3, got %d", c.Channels))
	}
	if c.CropSize <= 0 || c.ResizeShorter < c.CropSize {
		errs = append(errs, fmt.Sprintf("scoring.classifier.resize_shorter (%d) must be >= crop_size (%d) > 0", c.ResizeShorter, c.CropSize))
	}
	if c.Std <= 0 {
		errs = append(errs, "scoring.classifier.std must be positive")
	}
	if c.Pool < 0 {
		errs = append(errs, "scoring.classifier.pool must not be negative")
	}

	if s.Detector.InputSize <= 0 || s.Detector.InputSize%32 != 0 {
		errs = append(errs, fmt.Sprintf("scoring.detector.input_size must be a positive multiple of 32, got %d", s.Detector.InputSize))
	}
	if !unitInterval(s.Detector.IoUThreshold) {
		errs = append(errs, "scoring.detector.iou_threshold must be between 0 and 1")
	}

	return errs
}

func validateCascadeSettings(c *CascadeSettings, a *ArtifactSettings) []string {
	var errs []string

	if !unitInterval(c.Gate) {
		errs = append(errs, fmt.Sprintf("cascade.gate must be between 0 and 1, got %g", c.Gate))
	}
	if len(c.Stages) == 0 {
		errs = append(errs, "cascade.stages must define at least one detector stage")
	}

	seen := make(map[string]bool, len(c.Stages))
	for i, st := range c.Stages {
		prefix := fmt.Sprintf("cascade.stages[%d]", i)
		if st.Name == "" {
			errs = append(errs, prefix+".name must be set")
		} else if seen[st.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate stage name %q", prefix, st.Name))
		}
		seen[st.Name] = true

		if _, ok := a.File(st.Artifact); !ok {
			errs = append(errs, fmt.Sprintf("%s.artifact %q is not listed in artifacts.files", prefix, st.Artifact))
		}
		if !unitInterval(st.Threshold) {
			errs = append(errs, fmt.Sprintf("%s.threshold must be between 0 and 1, got %g", prefix, st.Threshold))
		}
		switch st.Labels {
		case LabelsArea:
		case LabelsClasses:
			if len(st.ClassNames) == 0 {
				errs = append(errs, prefix+".class_names must be set when labels is classes")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.labels %q is invalid, use area or classes", prefix, st.Labels))
		}
	}

	if c.Messages.Fractured == "" || c.Messages.NonFractured == "" {
		errs = append(errs, "cascade.messages.fractured and non_fractured must be set")
	}

	return errs
}

func validateWebServerSettings(w *WebServerSettings) []string {
	var errs []string

	if !validPort(w.Port) {
		errs = append(errs, fmt.Sprintf("webserver.port %d is out of range", w.Port))
	}
	if w.RateLimit.Enabled && (w.RateLimit.Rate <= 0 || w.RateLimit.Burst < 1) {
		errs = append(errs, "webserver.rate_limit requires a positive rate and burst")
	}
	if w.ResultCacheTTL < 0 {
		errs = append(errs, "webserver.result_cache_ttl must not be negative")
	}

	return errs
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
