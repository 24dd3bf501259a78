package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// PayloadPolicy decides whether control payload bytes may appear in logs.
// Without LogSensitive only the payload length is recorded.
type PayloadPolicy struct {
	LogSensitive bool
}

// PayloadPolicyFromEnv reads CTLWIRE_LOG_SENSITIVE; unset or invalid means redacted.
func PayloadPolicyFromEnv() PayloadPolicy {
	v, _ := parseBool(os.Getenv(EnvLogSensitive))
	return PayloadPolicy{LogSensitive: v}
}

// Payload attaches payload details to e according to the policy.
func (p PayloadPolicy) Payload(e *zerolog.Event, payload []byte) *zerolog.Event {
	e = e.Int("payload_len", len(payload))
	if p.LogSensitive {
		e = e.Hex("payload", payload)
	}
	return e
}
