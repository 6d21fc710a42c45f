package config

import (
	"time"
)

const (
	refreshCheckIntervalVar = "REFRESH_CHECK_INTERVAL"
	refreshThresholdVar     = "REFRESH_THRESHOLD"
	httpTimeoutVar          = "HTTP_TIMEOUT"
)

// Session holds the timing configuration for proactive token renewal.
// Defaults mirror production: check every 2 minutes, renew tokens that
// expire within 5 minutes, 30 second request timeout.
type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRefreshCheckInterval() time.Duration {
	return getDuration(refreshCheckIntervalVar, 2*time.Minute)
}

func (Session) GetRefreshThreshold() time.Duration {
	return getDuration(refreshThresholdVar, 5*time.Minute)
}

func (Session) GetHTTPTimeout() time.Duration {
	return getDuration(httpTimeoutVar, 30*time.Second)
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := GetEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
