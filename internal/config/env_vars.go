package config

import (
	"os"
	"path/filepath"
)

const (
	appNameVar   = "APP_NAME"
	baseURLVar   = "API_BASE_URL"
	storePathVar = "SESSION_STORE_PATH"
	envVar       = "ENV"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Traction Client")
}

func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:3001/api/v1")
}

func (EnvVars) GetStorePath() string {
	if path := GetEnv(storePathVar, ""); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".traction-session.json"
	}
	return filepath.Join(home, ".traction", "session.json")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "development")
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
