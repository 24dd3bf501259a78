package protocol

import (
	"encoding/hex"
	"fmt"
)

const (
	SessionIDLen = 16
	PacketIDLen  = 4
	ackCountLen  = 1

	// MaxWireAckIDs is the largest count the ackCount byte can carry.
	MaxWireAckIDs = 255

	// MaxWireBodyLen leaves room for the opcode byte inside one 65535 byte
	// stream frame.
	MaxWireBodyLen = 1<<16 - 1 - 1
)

// PacketCode identifies a control packet kind. Numbering follows the
// OpenVPN opcode table; the codec only distinguishes AckV1 from the rest.
type PacketCode uint8

const (
	SoftResetV1       PacketCode = 3
	ControlV1         PacketCode = 4
	AckV1             PacketCode = 5
	DataV1            PacketCode = 6
	HardResetClientV2 PacketCode = 7
	HardResetServerV2 PacketCode = 8
	DataV2            PacketCode = 9
)

func (c PacketCode) String() string {
	switch c {
	case SoftResetV1:
		return "soft_reset_v1"
	case ControlV1:
		return "control_v1"
	case AckV1:
		return "ack_v1"
	case DataV1:
		return "data_v1"
	case HardResetClientV2:
		return "hard_reset_client_v2"
	case HardResetServerV2:
		return "hard_reset_server_v2"
	case DataV2:
		return "data_v2"
	default:
		return fmt.Sprintf("code_%d", uint8(c))
	}
}

// IsAck reports whether c is the acknowledgment-only kind.
func (c PacketCode) IsAck() bool {
	return c == AckV1
}

// SessionID identifies one side of a control channel session.
type SessionID [SessionIDLen]byte

func (s SessionID) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSessionID decodes a 32 character hex string.
func ParseSessionID(raw string) (SessionID, error) {
	var out SessionID
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, fmt.Errorf("protocol: session id: %w", err)
	}
	if len(b) != SessionIDLen {
		return out, fmt.Errorf("protocol: session id: want %d bytes, got %d", SessionIDLen, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Limits bounds what the codec accepts from or emits to the wire.
type Limits struct {
	MaxAckIDs  int
	MaxBodyLen int
}

func DefaultLimits() Limits {
	return Limits{
		MaxAckIDs:  MaxWireAckIDs,
		MaxBodyLen: MaxWireBodyLen,
	}
}

// WithDefaults fills zero fields and clamps MaxAckIDs to the wire bound.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxAckIDs <= 0 || l.MaxAckIDs > MaxWireAckIDs {
		l.MaxAckIDs = def.MaxAckIDs
	}
	if l.MaxBodyLen <= 0 {
		l.MaxBodyLen = def.MaxBodyLen
	}
	return l
}
