// config.go: settings structs for OrthoVision and the functions to load and save them.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/orthovision/orthovision/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Artifact refresh policies.
const (
	PolicyRevision = "revision" // compare the remote revision token with the local record
	PolicyPresence = "presence" // only check that every file exists locally
)

// Artifact store types.
const (
	StoreHub   = "hub"
	StoreFTP   = "ftp"
	StoreSFTP  = "sftp"
	StoreLocal = "local"
)

// Detector label policies.
const (
	LabelsArea    = "area"    // "Fracture Area N"
	LabelsClasses = "classes" // per-box class name lookup
)

// ArtifactFile describes one required model file.
type ArtifactFile struct {
	Name     string `yaml:"name" mapstructure:"name"`         // logical name referenced by scoring and cascade settings
	Filename string `yaml:"filename" mapstructure:"filename"` // file name inside artifacts.dir
	Remote   string `yaml:"remote" mapstructure:"remote"`     // path inside the remote store, defaults to Filename
}

// HubSettings configures the Hugging Face style model hub store.
type HubSettings struct {
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Repository string        `yaml:"repository" mapstructure:"repository"`
	Revision   string        `yaml:"revision" mapstructure:"revision"`   // branch, tag or commit to track
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"` // revision lookup cache lifetime
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`     // per download
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// FTPSettings configures the FTP store.
type FTPSettings struct {
	Host     string        `yaml:"host" mapstructure:"host"`
	Port     int           `yaml:"port" mapstructure:"port"`
	Username     string        `yaml:"username" mapstructure:"username"`
	Password     string        `yaml:"password" mapstructure:"password"`           // may reference ${VAR}
	PasswordFile string        `yaml:"password_file" mapstructure:"password_file"` // takes precedence over Password
	Path         string        `yaml:"path" mapstructure:"path"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConns     int           `yaml:"max_conns" mapstructure:"max_conns"`
}

// SFTPSettings configures the SFTP store.
type SFTPSettings struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	PasswordFile   string        `yaml:"password_file" mapstructure:"password_file"`
	KeyFile        string        `yaml:"key_file" mapstructure:"key_file"`
	KnownHostsFile string        `yaml:"known_hosts_file" mapstructure:"known_hosts_file"`
	Path           string        `yaml:"path" mapstructure:"path"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LocalStoreSettings configures a directory mirror used as the store.
type LocalStoreSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreSettings selects and configures the remote artifact store.
type StoreSettings struct {
	Type  string             `yaml:"type" mapstructure:"type"` // hub, ftp, sftp or local
	Hub   HubSettings        `yaml:"hub" mapstructure:"hub"`
	FTP   FTPSettings        `yaml:"ftp" mapstructure:"ftp"`
	SFTP  SFTPSettings       `yaml:"sftp" mapstructure:"sftp"`
	Local LocalStoreSettings `yaml:"local" mapstructure:"local"`
}

// ArtifactSettings controls where model files live and how they are kept current.
type ArtifactSettings struct {
	Dir           string         `yaml:"dir" mapstructure:"dir"`
	RecordPath    string         `yaml:"record_path" mapstructure:"record_path"` // empty means <dir>.revision.json
	Policy        string         `yaml:"policy" mapstructure:"policy"`
	VerifyDigests bool           `yaml:"verify_digests" mapstructure:"verify_digests"`
	DigestWorkers int            `yaml:"digest_workers" mapstructure:"digest_workers"`
	Token         string         `yaml:"token" mapstructure:"token"`           // bearer credential, usually from HF_TOKEN
	TokenFile     string         `yaml:"token_file" mapstructure:"token_file"` // secret file holding the token
	Files         []ArtifactFile `yaml:"files" mapstructure:"files"`
	Store         StoreSettings  `yaml:"store" mapstructure:"store"`
}

// ClassifierSettings configures the binary classifier and its preprocessing.
type ClassifierSettings struct {
	Artifact      string  `yaml:"artifact" mapstructure:"artifact"`
	Backend       string  `yaml:"backend" mapstructure:"backend"` // auto, onnx or tflite
	Channels      int     `yaml:"channels" mapstructure:"channels"`
	ResizeShorter int     `yaml:"resize_shorter" mapstructure:"resize_shorter"`
	CropSize      int     `yaml:"crop_size" mapstructure:"crop_size"`
	Mean          float64 `yaml:"mean" mapstructure:"mean"`
	Std           float64 `yaml:"std" mapstructure:"std"`
	Pool          int     `yaml:"pool" mapstructure:"pool"` // tflite interpreter pool size, 0 = threads
}

// DetectorSettings configures the YOLO detectors.
type DetectorSettings struct {
	InputSize    int     `yaml:"input_size" mapstructure:"input_size"`
	IoUThreshold float64 `yaml:"iou_threshold" mapstructure:"iou_threshold"`
}

// ScoringSettings configures model runtimes.
type ScoringSettings struct {
	Threads         int                `yaml:"threads" mapstructure:"threads"` // 0 = derive from CPU topology
	ONNXRuntimePath string             `yaml:"onnxruntime_path" mapstructure:"onnxruntime_path"`
	Classifier      ClassifierSettings `yaml:"classifier" mapstructure:"classifier"`
	Detector        DetectorSettings   `yaml:"detector" mapstructure:"detector"`
}

// StageSettings configures one detector stage of the cascade.
type StageSettings struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Artifact   string   `yaml:"artifact" mapstructure:"artifact"`
	Threshold  float64  `yaml:"threshold" mapstructure:"threshold"`
	Labels     string   `yaml:"labels" mapstructure:"labels"` // area or classes
	ClassNames []string `yaml:"class_names" mapstructure:"class_names"`
}

// MessageSettings holds the user facing texts of each cascade outcome.
type MessageSettings struct {
	Fractured               string `yaml:"fractured" mapstructure:"fractured"`
	FracturedUnlocalized    string `yaml:"fractured_unlocalized" mapstructure:"fractured_unlocalized"`
	NonFractured            string `yaml:"non_fractured" mapstructure:"non_fractured"`
	NonFracturedUnlocalized string `yaml:"non_fractured_unlocalized" mapstructure:"non_fractured_unlocalized"`
	UnlocalizedWarning      string `yaml:"unlocalized_warning" mapstructure:"unlocalized_warning"`
}

// CascadeSettings configures the inference cascade.
type CascadeSettings struct {
	Gate                 float64         `yaml:"gate" mapstructure:"gate"` // minimum Fractured confidence to localize, inclusive
	IncludeBoxConfidence bool            `yaml:"include_box_confidence" mapstructure:"include_box_confidence"`
	Stages               []StageSettings `yaml:"stages" mapstructure:"stages"`
	Messages             MessageSettings `yaml:"messages" mapstructure:"messages"`
}

// RateLimitSettings bounds /detect admissions.
type RateLimitSettings struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	Rate    float64 `yaml:"rate" mapstructure:"rate"` // requests per second
	Burst   int     `yaml:"burst" mapstructure:"burst"`
}

// WebServerSettings configures the HTTP facade.
type WebServerSettings struct {
	Host           string            `yaml:"host" mapstructure:"host"`
	Port           int               `yaml:"port" mapstructure:"port"`
	AllowOrigins   []string          `yaml:"allow_origins" mapstructure:"allow_origins"`
	BodyLimit      string            `yaml:"body_limit" mapstructure:"body_limit"`
	ReadTimeout    time.Duration     `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration     `yaml:"write_timeout" mapstructure:"write_timeout"`
	ResultCacheTTL time.Duration     `yaml:"result_cache_ttl" mapstructure:"result_cache_ttl"` // 0 disables
	RateLimit      RateLimitSettings `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MetricsSettings configures the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// Settings contains all configuration options for OrthoVision.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Artifacts ArtifactSettings     `yaml:"artifacts" mapstructure:"artifacts"`
	Scoring   ScoringSettings      `yaml:"scoring" mapstructure:"scoring"`
	Cascade   CascadeSettings      `yaml:"cascade" mapstructure:"cascade"`
	WebServer WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// RevisionRecordPath returns the configured record path or the default sibling of Dir.
func (a *ArtifactSettings) RevisionRecordPath() string {
	if a.RecordPath != "" {
		return a.RecordPath
	}
	return filepath.Clean(a.Dir) + ".revision.json"
}

// File returns the artifact file with the given logical name.
func (a *ArtifactSettings) File(name string) (ArtifactFile, bool) {
	for _, f := range a.Files {
		if f.Name == name {
			return f, true
		}
	}
	return ArtifactFile{}, false
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings value.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings(v)
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// LoadFile reads settings from an explicit config file path. Defaults and
// environment bindings apply as with Load.
func LoadFile(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	setDefaultConfig(v)
	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	settings, err := unmarshalSettings(v)
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func unmarshalSettings(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	normalizeSettings(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper sets defaults, binds environment variables and reads the config file.
func initViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		// Invalid environment values are reported but do not block startup;
		// ValidateSettings rejects anything that ends up out of range.
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// writable config path and reads it back.
func createDefaultConfig(v *viper.Viper, configPaths []string) error {
	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	var lastErr error
	for _, dir := range configPaths {
		configPath := filepath.Join(dir, "config.yaml")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lastErr = err
			continue
		}
		if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil { //nolint:gosec // config is not secret by default
			lastErr = err
			continue
		}
		GetLogger().Info("created default config file", logger.String("path", configPath))
		v.SetConfigFile(configPath)
		return v.ReadInConfig()
	}

	return fmt.Errorf("error writing default config file: %w", lastErr)
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config file: %w", err)
	}
	return data, nil
}

// GetSettings returns the settings loaded last, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath, replacing the file atomically.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename, fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
