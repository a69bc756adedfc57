package config

// ConfigDiff describes what changed between two configs. It tracks the log
// level plus the wake, VAD, retry, and rate-limit sections; of these,
// cmd/ciallo applies only the log level live.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WakeChanged bool
	NewWake     WakeConfig

	VADChanged bool
	NewVAD     VADConfig

	RetryChanged bool
	NewRetry     RetryConfig

	RateLimitChanged bool
	NewRateLimit     RateLimitConfig
}

// Diff compares old and new configs and returns what changed in the fields
// ConfigDiff tracks; other sections are not compared.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Wake != new.Wake {
		d.WakeChanged = true
		d.NewWake = new.Wake
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}
	if !sliceEqual(old.Retry.Retry429Ms, new.Retry.Retry429Ms) || !sliceEqual(old.Retry.Retry5xxMs, new.Retry.Retry5xxMs) {
		d.RetryChanged = true
		d.NewRetry = new.Retry
	}
	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
		d.NewRateLimit = new.RateLimit
	}

	return d
}

func sliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
