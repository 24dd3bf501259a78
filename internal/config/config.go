package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ctlwire/internal/logging"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/danmuck/ctlwire/internal/protocol/session"
)

// Config is the runtime configuration for ctlwire.
type Config struct {
	ListenAddr   string
	CorsOrigins  []string
	Token        string
	LogLevel     string
	LogSensitive bool
	Limits       protocol.Limits
	Frame        frame.Limits
	Session      session.Config
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	Inspect inspectSection `toml:"inspect"`
	Log     logSection     `toml:"log"`
	Codec   codecSection   `toml:"codec"`
	Session sessionSection `toml:"session"`
}

type inspectSection struct {
	ListenAddr  string   `toml:"listen_addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type logSection struct {
	Level         string `toml:"level"`
	SensitiveData bool   `toml:"sensitive_data"`
}

type codecSection struct {
	MaxAckIDs     int `toml:"max_ack_ids"`
	MaxBodyLen    int `toml:"max_body_len"`
	MaxFrameBytes int `toml:"max_frame_bytes"`
}

type sessionSection struct {
	AckTimeout        string  `toml:"ack_timeout"`
	MaxPending        int     `toml:"max_pending"`
	MaxAckBatch       int     `toml:"max_ack_batch"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

func Default() Config {
	return Config{
		ListenAddr:  "127.0.0.1:9480",
		CorsOrigins: []string{"http://localhost:3000"},
		LogLevel:    "info",
		Limits:      protocol.DefaultLimits(),
		Frame:       frame.DefaultLimits(),
		Session:     session.DefaultConfig(),
	}
}

// Load reads path and overlays every defined key on Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("inspect", "listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Inspect.ListenAddr)
	}
	if meta.IsDefined("inspect", "cors_origins") {
		cfg.CorsOrigins = raw.Inspect.CorsOrigins
	}
	if meta.IsDefined("inspect", "token") {
		cfg.Token = strings.TrimSpace(raw.Inspect.Token)
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "sensitive_data") {
		cfg.LogSensitive = raw.Log.SensitiveData
	}
	if meta.IsDefined("codec", "max_ack_ids") {
		cfg.Limits.MaxAckIDs = raw.Codec.MaxAckIDs
	}
	if meta.IsDefined("codec", "max_body_len") {
		cfg.Limits.MaxBodyLen = raw.Codec.MaxBodyLen
	}
	if meta.IsDefined("codec", "max_frame_bytes") {
		cfg.Frame.MaxFrameBytes = raw.Codec.MaxFrameBytes
	}
	if meta.IsDefined("session", "max_pending") {
		cfg.Session.MaxPending = raw.Session.MaxPending
	}
	if meta.IsDefined("session", "max_ack_batch") {
		cfg.Session.MaxAckBatch = raw.Session.MaxAckBatch
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Session.BackoffMultiplier
	}
	if meta.IsDefined("session", "backoff_jitter") {
		cfg.Session.Backoff.Jitter = raw.Session.BackoffJitter
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.Session.AckTimeout, &cfg.Session.AckTimeout},
		{"backoff_initial", raw.Session.BackoffInitial, &cfg.Session.Backoff.InitialDelay},
		{"backoff_max", raw.Session.BackoffMax, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): session.%s: %w", path, d.key, err)
		}
		*d.dst = v
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("inspect.listen_addr is required")
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("log.level %q is not a known level", cfg.LogLevel)
	}
	if cfg.Limits.MaxAckIDs < 1 || cfg.Limits.MaxAckIDs > protocol.MaxWireAckIDs {
		return fmt.Errorf("codec.max_ack_ids must be in 1..%d", protocol.MaxWireAckIDs)
	}
	if cfg.Limits.MaxBodyLen < protocol.SessionIDLen+1 {
		return fmt.Errorf("codec.max_body_len %d cannot hold a session id and ack count", cfg.Limits.MaxBodyLen)
	}
	if cfg.Frame.MaxFrameBytes < 1 || cfg.Frame.MaxFrameBytes > frame.DefaultLimits().MaxFrameBytes {
		return fmt.Errorf("codec.max_frame_bytes must be in 1..%d", frame.DefaultLimits().MaxFrameBytes)
	}
	if cfg.Limits.MaxBodyLen+frame.OpcodeLen > cfg.Frame.MaxFrameBytes {
		return fmt.Errorf("codec.max_body_len %d plus the opcode byte exceeds codec.max_frame_bytes %d", cfg.Limits.MaxBodyLen, cfg.Frame.MaxFrameBytes)
	}
	if cfg.Session.MaxAckBatch > cfg.Limits.MaxAckIDs {
		return fmt.Errorf("session.max_ack_batch %d exceeds codec.max_ack_ids %d", cfg.Session.MaxAckBatch, cfg.Limits.MaxAckIDs)
	}
	if cfg.Session.MaxPending < 1 {
		return fmt.Errorf("session.max_pending must be positive")
	}
	if cfg.Session.AckTimeout <= 0 {
		return fmt.Errorf("session.ack_timeout must be positive")
	}
	return nil
}
