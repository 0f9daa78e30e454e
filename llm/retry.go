package llm

import "time"

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per endpoint (including the first).
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier scales the backoff after each attempt.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns retry settings tuned for conversational
// turns. Backoffs stay short so retries plus fallbacks fit inside the
// per-turn capability timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        3 * time.Second,
	}
}
