package protocol

import (
	"fmt"
	"strings"
)

// Ack is the acknowledgment block of a control packet. Ids and the remote
// session id travel together, so a packet either has an Ack or it has none.
type Ack struct {
	IDs             []uint32
	RemoteSessionID SessionID
}

// ControlPacket is one control channel message independent of its encoding.
//
// PacketID and Payload are only meaningful when Code is not AckV1. A nil
// Payload means absent; decoding never yields an empty non-nil slice.
type ControlPacket struct {
	Code      PacketCode
	Key       uint8
	SessionID SessionID
	PacketID  uint32
	Payload   []byte
	Ack       *Ack
}

// NewControlPacket builds a non-ack packet. An empty payload is stored as nil.
func NewControlPacket(code PacketCode, key uint8, sessionID SessionID, packetID uint32, payload []byte) *ControlPacket {
	if len(payload) == 0 {
		payload = nil
	}
	return &ControlPacket{
		Code:      code,
		Key:       key,
		SessionID: sessionID,
		PacketID:  packetID,
		Payload:   payload,
	}
}

// NewAckPacket builds an acknowledgment-only packet.
func NewAckPacket(key uint8, sessionID SessionID, ack Ack) *ControlPacket {
	return &ControlPacket{
		Code:      AckV1,
		Key:       key,
		SessionID: sessionID,
		Ack:       &ack,
	}
}

func (p *ControlPacket) IsAck() bool {
	return p.Code.IsAck()
}

func (p *ControlPacket) HasPacketID() bool {
	return !p.Code.IsAck()
}

// AckIDs returns the acknowledged ids in wire order, or nil.
func (p *ControlPacket) AckIDs() []uint32 {
	if p.Ack == nil {
		return nil
	}
	return p.Ack.IDs
}

func (p *ControlPacket) AckRemoteSessionID() (SessionID, bool) {
	if p.Ack == nil {
		return SessionID{}, false
	}
	return p.Ack.RemoteSessionID, true
}

// BodyLen is the number of bytes Serialize will emit for p.
func (p *ControlPacket) BodyLen() int {
	n := SessionIDLen + ackCountLen
	if p.Ack != nil {
		n += len(p.Ack.IDs)*PacketIDLen + SessionIDLen
	}
	if !p.Code.IsAck() {
		n += PacketIDLen + len(p.Payload)
	}
	return n
}

// Validate checks the structural invariants of p.
func (p *ControlPacket) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", ErrInvalidPacket)
	}
	if p.Ack != nil {
		if len(p.Ack.IDs) == 0 {
			return fmt.Errorf("%w: ack block without ids", ErrInvalidPacket)
		}
		if len(p.Ack.IDs) > MaxWireAckIDs {
			return fmt.Errorf("%w: %d ack ids", ErrTooManyAcks, len(p.Ack.IDs))
		}
	}
	if p.Code.IsAck() {
		if p.Ack == nil {
			return fmt.Errorf("%w: %w", ErrInvalidPacket, ErrAckWithoutIDs)
		}
		if p.PacketID != 0 {
			return fmt.Errorf("%w: ack packet carries packet id", ErrInvalidPacket)
		}
		if len(p.Payload) > 0 {
			return fmt.Errorf("%w: ack packet carries payload", ErrInvalidPacket)
		}
	}
	return nil
}

func (p *ControlPacket) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s key=%d sid=%s", p.Code, p.Key, p.SessionID)
	if p.HasPacketID() {
		fmt.Fprintf(&b, " pid=%d", p.PacketID)
	}
	if p.Ack != nil {
		fmt.Fprintf(&b, " acks=%v remote=%s", p.Ack.IDs, p.Ack.RemoteSessionID)
	}
	if p.Payload != nil {
		fmt.Fprintf(&b, " payload=%dB", len(p.Payload))
	}
	return b.String()
}
