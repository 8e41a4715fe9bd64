// env.go - environment variable configuration and validation for camerad
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/camerad/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. CAMERAD_API_LISTEN.
const EnvPrefix = "CAMERAD"

// envBinding holds metadata for validated environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the bindings whose values are checked at startup
func getEnvBindings() []envBinding {
	return []envBinding{
		{"camera.mailboxsize", "CAMERAD_CAMERA_MAILBOXSIZE", validateEnvPositiveInt},
		{"camera.streaming.armwithoutsink", "CAMERAD_CAMERA_STREAMING_ARMWITHOUTSINK", validateEnvBool},
		{"camera.streaming.busypolicy", "CAMERAD_CAMERA_STREAMING_BUSYPOLICY", validateEnvBusyPolicy},
		{"mqtt.enabled", "CAMERAD_MQTT_ENABLED", validateEnvBool},
		{"telemetry.enabled", "CAMERAD_TELEMETRY_ENABLED", validateEnvBool},
		{"sentry.enabled", "CAMERAD_SENTRY_ENABLED", validateEnvBool},
	}
}

// configureEnvironmentVariables maps nested keys to CAMERAD_ variables.
// Invalid values are logged here and rejected again by ValidateSettings.
func configureEnvironmentVariables(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		GetLogger().Warn("environment variable issues", logger.Error(err))
	}
}

// bindEnvVars binds and validates the explicit bindings
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvBusyPolicy(value string) error {
	switch strings.ToLower(value) {
	case "reject", "transfer":
		return nil
	}
	return fmt.Errorf("must be reject or transfer")
}
