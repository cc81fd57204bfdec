package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"

	// DefaultPath is the configuration file used when no -config flag is given.
	DefaultPath = "config/whalewatch.yml"
)

var environmentAliases = map[string]string{
	"dev":  environmentDevelopment,
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// ResolvePath picks config/whalewatch.<env>.yml over the default file when
// the caller did not ask for a specific path and that file exists.
func ResolvePath(path string) string {
	if path != "" && path != DefaultPath {
		return path
	}
	ext := filepath.Ext(DefaultPath)
	envPath := strings.TrimSuffix(DefaultPath, ext) + "." + getAppEnvironment() + ext
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return DefaultPath
}

// IsProductionLike reports whether env should fail hard on optional sink
// errors instead of logging and continuing.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
