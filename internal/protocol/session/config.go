package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines control channel reliability defaults.
type Config struct {
	// AckTimeout is the deadline for the first transmission of a packet.
	AckTimeout time.Duration
	// MaxPending caps unacknowledged outbound packets.
	MaxPending int
	// MaxAckBatch caps ack ids carried by one packet.
	MaxAckBatch int
	Backoff     BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:  2 * time.Second,
		MaxPending:  64,
		MaxAckBatch: 8,
		Backoff: BackoffConfig{
			InitialDelay: 2 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.MaxAckBatch <= 0 || c.MaxAckBatch > 255 {
		c.MaxAckBatch = def.MaxAckBatch
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	return c
}
