package dbx

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds the handshake retry behavior used by Connect.
// Use DefaultRetryConfig() for balanced defaults, then modify as needed.
//
// The retry mechanism uses exponential backoff with jitter so a fleet
// of restarting services does not hammer a recovering database in
// lockstep.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries entirely.
	// The initial attempt is not counted as a retry.
	// Default: 3
	MaxRetries uint

	// InitialInterval is the first backoff interval before any retries.
	// Subsequent intervals grow exponentially based on Multiplier.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval.
	// Default: 2s
	MaxInterval time.Duration

	// MaxElapsedTime is the total time budget for the entire retry
	// sequence. Set to 0 for no time limit (only MaxRetries applies).
	// Default: 15s
	MaxElapsedTime time.Duration

	// Multiplier controls exponential growth of backoff intervals.
	// Default: 2.0
	Multiplier float64

	// JitterFactor adds randomization to prevent retry storms.
	// Value between 0.0 (no jitter) and 1.0 (±100% randomization).
	// Default: 0.5
	JitterFactor float64
}

// Default values for RetryConfig.
const (
	// DefaultMaxRetries is the default number of handshake retries.
	DefaultMaxRetries = 3

	// DefaultInitialInterval is the default starting backoff interval.
	DefaultInitialInterval = 100 * time.Millisecond

	// DefaultMaxInterval is the default maximum backoff interval.
	DefaultMaxInterval = 2 * time.Second

	// DefaultMaxElapsedTime is the default total retry time budget.
	DefaultMaxElapsedTime = 15 * time.Second

	// DefaultMultiplier is the default backoff multiplier.
	DefaultMultiplier = 2.0

	// DefaultJitterFactor is the default randomization factor.
	DefaultJitterFactor = 0.5
)

// DefaultRetryConfig returns balanced defaults for connection
// handshakes: 3 retries with exponential backoff (100ms → 200ms →
// 400ms), a 15s total budget and ±50% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// IsEnabled reports whether the configuration allows any retries.
func (rc RetryConfig) IsEnabled() bool {
	return rc.MaxRetries > 0
}

// backOff builds the cenkalti/backoff strategy for this configuration,
// ensuring jitter is always applied.
func (rc RetryConfig) backOff() *backoff.ExponentialBackOff {
	jitterFactor := rc.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = DefaultJitterFactor
	}

	multiplier := rc.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	return &backoff.ExponentialBackOff{
		InitialInterval:     rc.InitialInterval,
		RandomizationFactor: jitterFactor,
		Multiplier:          multiplier,
		MaxInterval:         rc.MaxInterval,
	}
}
