package protocol

import (
	"github.com/danmuck/ctlwire/internal/logging"
	"github.com/rs/zerolog"
)

// Serializer converts control packets to and from their wire body.
//
// Implementations are selected once per session. Reset clears any
// session-scoped state (cipher, replay window) and must not run concurrently
// with Serialize or Deserialize on the same instance.
type Serializer interface {
	Reset()
	Serialize(p *ControlPacket) ([]byte, error)
	// Deserialize parses data[start:end]. A negative end means len(data).
	Deserialize(code PacketCode, key uint8, data []byte, start, end int) (*ControlPacket, error)
}

// PlainOptions configures a PlainSerializer. A nil Logger disables logging.
type PlainOptions struct {
	Logger  *zerolog.Logger
	Payload logging.PayloadPolicy
	Limits  Limits
}

// PlainSerializer is the unauthenticated, unencrypted body codec. It holds
// no mutable state and is safe for concurrent use.
type PlainSerializer struct {
	logger  zerolog.Logger
	payload logging.PayloadPolicy
	limits  Limits
}

var _ Serializer = (*PlainSerializer)(nil)

func NewPlainSerializer(opts PlainOptions) *PlainSerializer {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("serializer", "plain").Logger()
	}
	return &PlainSerializer{
		logger:  logger,
		payload: opts.Payload,
		limits:  opts.Limits.WithDefaults(),
	}
}

// Reset is a no-op; the plain variant has no session state.
func (s *PlainSerializer) Reset() {}

func (s *PlainSerializer) Limits() Limits {
	return s.limits
}
