package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string            `yaml:"level" mapstructure:"level"`                 // debug, info, warn, error
	Format       string            `yaml:"format" mapstructure:"format"`               // text or json console format
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`           // "Local", "UTC" or IANA name
	FilePath     string            `yaml:"file_path" mapstructure:"file_path"`         // optional JSON log file
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels"` // per-module level overrides
}

const (
	DefaultLogLevel = "info"
	FormatText      = "text"
	FormatJSON      = "json"
)

func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = DefaultLogLevel
	}
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	if cfg.ModuleLevels == nil {
		cfg.ModuleLevels = make(map[string]string)
	}
}
