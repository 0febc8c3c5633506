package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Artifacts: ArtifactSettings{
			Dir:    "models",
			Policy: PolicyRevision,
			Files: []ArtifactFile{
				{Name: ArtifactClassifier, Filename: "c.onnx", Remote: "c.onnx"},
				{Name: ArtifactStage0, Filename: "d0.onnx", Remote: "d0.onnx"},
			},
			Store: StoreSettings{
				Type: StoreHub,
				Hub:  HubSettings{Endpoint: DefaultHubURL, Repository: DefaultRepository},
			},
		},
		Scoring: ScoringSettings{
			Classifier: ClassifierSettings{
				Artifact: ArtifactClassifier, Backend: "auto", Channels: 1,
				ResizeShorter: 256, CropSize: 224, Mean: 0.485, Std: 0.229,
			},
			Detector: DetectorSettings{InputSize: 640, IoUThreshold: 0.45},
		},
		Cascade: CascadeSettings{
			Gate:   0.5,
			Stages: []StageSettings{{Name: "stage0", Artifact: ArtifactStage0, Threshold: 0.3, Labels: LabelsArea}},
			Messages: MessageSettings{
				Fractured:    MessageFractured,
				NonFractured: MessageNonFractured,
			},
		},
		WebServer: WebServerSettings{Port: 8000},
	}
}

func TestValidateSettings_Valid(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettings_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"unknown policy", func(s *Settings) { s.Artifacts.Policy = "sometimes" }, "artifacts.policy"},
		{"gate above one", func(s *Settings) { s.Cascade.Gate = 1.5 }, "cascade.gate"},
		{"negative stage threshold", func(s *Settings) { s.Cascade.Stages[0].Threshold = -0.1 }, "threshold"},
		{"no stages", func(s *Settings) { s.Cascade.Stages = nil }, "at least one detector stage"},
		{"stage artifact unknown", func(s *Settings) { s.Cascade.Stages[0].Artifact = "nope" }, "not listed"},
		{"classes without names", func(s *Settings) { s.Cascade.Stages[0].Labels = LabelsClasses }, "class_names"},
		{"duplicate filename", func(s *Settings) { s.Artifacts.Files[1].Filename = "c.onnx" }, "duplicate filename"},
		{"filename with path", func(s *Settings) { s.Artifacts.Files[0].Filename = "../c.onnx" }, "plain file name"},
		{"bad repository", func(s *Settings) { s.Artifacts.Store.Hub.Repository = "flat" }, "owner/name"},
		{"sftp without auth", func(s *Settings) {
			s.Artifacts.Store.Type = StoreSFTP
			s.Artifacts.Store.SFTP = SFTPSettings{Host: "h", Port: 22}
		}, "password, password_file or key_file"},
		{"port out of range", func(s *Settings) { s.WebServer.Port = 70000 }, "webserver.port"},
		{"crop larger than resize", func(s *Settings) { s.Scoring.Classifier.CropSize = 300 }, "crop_size"},
		{"detector size", func(s *Settings) { s.Scoring.Detector.InputSize = 100 }, "multiple of 32"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Error(), tt.want)
		})
	}
}

func TestValidateEnv(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvPort("8080"))
	assert.Error(t, validateEnvPort("0"))
	assert.Error(t, validateEnvPort("http"))

	assert.NoError(t, validateEnvStoreType("SFTP"))
	assert.Error(t, validateEnvStoreType("s3"))

	assert.NoError(t, validateEnvPolicy("presence"))
	assert.Error(t, validateEnvPolicy("always"))

	assert.Error(t, validateEnvNotBlank("  "))
}
