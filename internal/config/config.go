package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetStorePath() string
	GetEnv() string
}

type SessionConfig interface {
	GetRefreshCheckInterval() time.Duration
	GetRefreshThreshold() time.Duration
	GetHTTPTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
}

func New() Config {
	return mainConfig{}
}
