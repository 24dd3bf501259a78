package main

import (
	"strings"

	"github.com/danmuck/ctlwire/internal/config"
	"github.com/danmuck/ctlwire/internal/logging"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadConfig returns defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// serializerFor builds the plain codec with the process logger at the
// configured level.
func serializerFor(cfg config.Config) *protocol.PlainSerializer {
	return cfg.PlainSerializer(codecLogger(cfg, log.Logger))
}

// codecLogger applies the configured level process wide, then derives the
// codec logger from base.
func codecLogger(cfg config.Config, base zerolog.Logger) zerolog.Logger {
	lvl := logging.ApplyLevel(cfg.Level())
	return base.Level(lvl).With().Str("component", "codec").Logger()
}

// sessionFor generates a fresh session id when raw is empty.
func sessionFor(raw string) (protocol.SessionID, error) {
	if strings.TrimSpace(raw) == "" {
		return session.NewSessionID()
	}
	return protocol.ParseSessionID(strings.TrimSpace(raw))
}
