package config

import (
	"github.com/danmuck/ctlwire/internal/logging"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/rs/zerolog"
)

// PayloadPolicy merges the file setting with CTLWIRE_LOG_SENSITIVE; either
// one enables verbatim payload logging.
func (c Config) PayloadPolicy() logging.PayloadPolicy {
	env := logging.PayloadPolicyFromEnv()
	return logging.PayloadPolicy{LogSensitive: c.LogSensitive || env.LogSensitive}
}

func (c Config) Level() zerolog.Level {
	lvl, _ := logging.ParseLevel(c.LogLevel)
	return lvl
}

// PlainSerializer builds the plaintext codec for this configuration.
func (c Config) PlainSerializer(logger zerolog.Logger) *protocol.PlainSerializer {
	return protocol.NewPlainSerializer(protocol.PlainOptions{
		Logger:  &logger,
		Payload: c.PayloadPolicy(),
		Limits:  c.Limits,
	})
}
