package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders Default as config.toml text.
func Template() (string, error) {
	out, err := toml.Marshal(toFile(Default()))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Inspect: inspectSection{
			ListenAddr:  cfg.ListenAddr,
			CorsOrigins: cfg.CorsOrigins,
			Token:       cfg.Token,
		},
		Log: logSection{
			Level:         cfg.LogLevel,
			SensitiveData: cfg.LogSensitive,
		},
		Codec: codecSection{
			MaxAckIDs:     cfg.Limits.MaxAckIDs,
			MaxBodyLen:    cfg.Limits.MaxBodyLen,
			MaxFrameBytes: cfg.Frame.MaxFrameBytes,
		},
		Session: sessionSection{
			AckTimeout:        cfg.Session.AckTimeout.String(),
			MaxPending:        cfg.Session.MaxPending,
			MaxAckBatch:       cfg.Session.MaxAckBatch,
			BackoffInitial:    cfg.Session.Backoff.InitialDelay.String(),
			BackoffMultiplier: cfg.Session.Backoff.Multiplier,
			BackoffMax:        cfg.Session.Backoff.MaxDelay.String(),
			BackoffJitter:     cfg.Session.Backoff.Jitter,
		},
	}
}
