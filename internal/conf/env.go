// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of automatically bound environment variables,
// e.g. ORTHOVISION_ARTIFACTS_POLICY for artifacts.policy.
const EnvPrefix = "ORTHOVISION"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicit environment variable bindings.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"artifacts.token", "HF_TOKEN", nil},
		{"artifacts.dir", "ORTHOVISION_MODEL_DIR", validateEnvNotBlank},
		{"artifacts.store.type", "ORTHOVISION_STORE", validateEnvStoreType},
		{"artifacts.policy", "ORTHOVISION_POLICY", validateEnvPolicy},
		{"webserver.port", "ORTHOVISION_PORT", validateEnvPort},
		{"webserver.port", "PORT", validateEnvPort},
		{"sentry.dsn", "SENTRY_DSN", nil},
		{"scoring.onnxruntime_path", "ONNXRUNTIME_SHARED_LIBRARY_PATH", validateEnvNotBlank},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	// BindEnv replaces earlier bindings for a key, so collect every
	// variable per key and bind them together in declaration order.
	bindings := getEnvBindings()
	byKey := make(map[string][]string)
	var order []string
	var warnings []string

	for _, binding := range bindings {
		if _, seen := byKey[binding.ConfigKey]; !seen {
			order = append(order, binding.ConfigKey)
		}
		byKey[binding.ConfigKey] = append(byKey[binding.ConfigKey], binding.EnvVar)

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	for _, key := range order {
		args := append([]string{key}, byKey[key]...)
		if err := v.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", strings.Join(byKey[key], ","), err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return bindEnvVars(v)
}

// Environment variable validation functions

func validateEnvNotBlank(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be blank")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvStoreType(value string) error {
	switch strings.ToLower(value) {
	case StoreHub, StoreFTP, StoreSFTP, StoreLocal:
		return nil
	}
	return fmt.Errorf("unknown store type %q (want hub, ftp, sftp or local)", value)
}

func validateEnvPolicy(value string) error {
	switch strings.ToLower(value) {
	case PolicyRevision, PolicyPresence:
		return nil
	}
	return fmt.Errorf("unknown artifact policy %q (want revision or presence)", value)
}
