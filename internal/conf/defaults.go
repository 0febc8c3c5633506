// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default artifact set: a ResNet classifier and two YOLO detectors exported to ONNX.
const (
	DefaultRepository = "kurumizxc/orthovision-models"
	DefaultHubURL     = "https://huggingface.co"

	ArtifactClassifier = "classifier"
	ArtifactStage0     = "detector-fracatlas"
	ArtifactStage1     = "detector-combined"
)

// DefaultCombinedClassNames are the classes of the combined bone fracture detector.
var DefaultCombinedClassNames = []string{
	"elbow positive",
	"fingers positive",
	"forearm fracture",
	"humerus fracture",
	"humerus",
	"shoulder fracture",
	"wrist positive",
}

// Default recommendation and warning texts.
const (
	MessageFractured = "Fracture identified on the imaging results. " +
		"Please monitor the condition closely and refer to orthopedics for further evaluation and management."
	MessageFracturedUnlocalized = "Fracture suspected on the imaging results but no region could be localized. " +
		"Please have the image reviewed manually and refer to orthopedics for further evaluation and management."
	MessageNonFractured = "No signs of fracture on the imaging results. " +
		"Please monitor the condition and refer to orthopedics for further evaluation if needed."
	MessageNonFracturedUnlocalized = MessageNonFractured
	MessageUnlocalizedWarning      = "Classified as fractured but no fracture region was localized; manual review recommended."
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.file_path", "")

	v.SetDefault("artifacts.dir", "models")
	v.SetDefault("artifacts.record_path", "")
	v.SetDefault("artifacts.policy", PolicyRevision)
	v.SetDefault("artifacts.verify_digests", true)
	v.SetDefault("artifacts.digest_workers", 0)
	v.SetDefault("artifacts.token", "")
	v.SetDefault("artifacts.files", []map[string]any{
		{"name": ArtifactClassifier, "filename": "best_model_f1_focused.onnx"},
		{"name": ArtifactStage0, "filename": "fracatlas_train_best.onnx"},
		{"name": ArtifactStage1, "filename": "combined_bone_fracture_best.onnx"},
	})

	v.SetDefault("artifacts.store.type", StoreHub)
	v.SetDefault("artifacts.store.hub.endpoint", DefaultHubURL)
	v.SetDefault("artifacts.store.hub.repository", DefaultRepository)
	v.SetDefault("artifacts.store.hub.revision", "main")
	v.SetDefault("artifacts.store.hub.cache_ttl", 5*time.Minute)
	v.SetDefault("artifacts.store.hub.timeout", 30*time.Minute)
	v.SetDefault("artifacts.store.hub.max_retries", 3)

	v.SetDefault("artifacts.store.ftp.port", 21)
	v.SetDefault("artifacts.store.ftp.path", "/")
	v.SetDefault("artifacts.store.ftp.timeout", 30*time.Second)
	v.SetDefault("artifacts.store.ftp.max_conns", 2)

	v.SetDefault("artifacts.store.sftp.port", 22)
	v.SetDefault("artifacts.store.sftp.path", "/")
	v.SetDefault("artifacts.store.sftp.timeout", 30*time.Second)

	v.SetDefault("scoring.threads", 0)
	v.SetDefault("scoring.onnxruntime_path", "")
	v.SetDefault("scoring.classifier.artifact", ArtifactClassifier)
	v.SetDefault("scoring.classifier.backend", "auto")
	v.SetDefault("scoring.classifier.channels", 1)
	v.SetDefault("scoring.classifier.resize_shorter", 256)
	v.SetDefault("scoring.classifier.crop_size", 224)
	v.SetDefault("scoring.classifier.mean", 0.485)
	v.SetDefault("scoring.classifier.std", 0.229)
	v.SetDefault("scoring.classifier.pool", 0)
	v.SetDefault("scoring.detector.input_size", 640)
	v.SetDefault("scoring.detector.iou_threshold", 0.45)

	v.SetDefault("cascade.gate", 0.5)
	v.SetDefault("cascade.include_box_confidence", true)
	v.SetDefault("cascade.stages", []map[string]any{
		{"name": "stage0", "artifact": ArtifactStage0, "threshold": 0.30, "labels": LabelsArea},
		{"name": "stage1", "artifact": ArtifactStage1, "threshold": 0.30, "labels": LabelsClasses, "class_names": DefaultCombinedClassNames},
	})
	v.SetDefault("cascade.messages.fractured", MessageFractured)
	v.SetDefault("cascade.messages.fractured_unlocalized", MessageFracturedUnlocalized)
	v.SetDefault("cascade.messages.non_fractured", MessageNonFractured)
	v.SetDefault("cascade.messages.non_fractured_unlocalized", MessageNonFracturedUnlocalized)
	v.SetDefault("cascade.messages.unlocalized_warning", MessageUnlocalizedWarning)

	v.SetDefault("webserver.host", "")
	v.SetDefault("webserver.port", 8000)
	v.SetDefault("webserver.allow_origins", []string{"*"})
	v.SetDefault("webserver.body_limit", "20M")
	v.SetDefault("webserver.read_timeout", 30*time.Second)
	v.SetDefault("webserver.write_timeout", 60*time.Second)
	v.SetDefault("webserver.result_cache_ttl", 10*time.Minute)
	v.SetDefault("webserver.rate_limit.enabled", true)
	v.SetDefault("webserver.rate_limit.rate", 4.0)
	v.SetDefault("webserver.rate_limit.burst", 8)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// normalizeSettings fills derived values that viper defaults cannot express.
func normalizeSettings(s *Settings) {
	for i := range s.Artifacts.Files {
		if s.Artifacts.Files[i].Remote == "" {
			s.Artifacts.Files[i].Remote = s.Artifacts.Files[i].Filename
		}
	}
	if s.Debug && s.Logging.Level == "info" {
		s.Logging.Level = "debug"
	}
}
