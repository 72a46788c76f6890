package config

import (
	"os"
	"path/filepath"
)

const envConfigPath = "RTRTRIAGE_CONFIG"

// resolveConfigPath searches in order: an explicit path (if
// given, it must exist), then the RTRTRIAGE_CONFIG env var, then
// ./config.yaml, then ~/.fnerd_falconpy/config.yaml. Returns "" if none of
// the non-explicit sources exist (defaults-only configuration).
func resolveConfigPath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", err
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv(envConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".fnerd_falconpy", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	return "", nil
}
