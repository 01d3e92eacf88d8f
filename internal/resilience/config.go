package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromSourceConfig builds the retry policy used against remote opinion
// sources: maxAttempts tries with SourceBackoff delays.
func FromSourceConfig(maxAttempts int, base, floor time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.Backoff = SourceBackoff(base, floor)
	return cfg
}

// WithSourceBackoff keeps cfg's exponential schedule but honors a server
// Retry-After hint exactly and never waits less than floor otherwise.
func WithSourceBackoff(cfg RetryConfig, floor time.Duration) RetryConfig {
	cfg = applyDefaults(cfg)
	schedule := cfg
	cfg.Backoff = func(attempt int, err error) time.Duration {
		if d, ok := RetryAfterHint(err); ok {
			return d
		}
		d := computeBackoff(attempt, schedule)
		if d < floor {
			d = floor
		}
		return d
	}
	return cfg
}
