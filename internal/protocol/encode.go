package protocol

import (
	"encoding/binary"
	"fmt"
)

// Serialize returns the wire body of p. The opcode byte is not included.
func (s *PlainSerializer) Serialize(p *ControlPacket) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Ack != nil && len(p.Ack.IDs) > s.limits.MaxAckIDs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAcks, len(p.Ack.IDs), s.limits.MaxAckIDs)
	}
	n := p.BodyLen()
	if n > s.limits.MaxBodyLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, s.limits.MaxBodyLen)
	}
	return AppendBody(make([]byte, 0, n), p), nil
}

// AppendBody appends the wire body of p to b and returns the extended
// slice. It does not validate p; callers wanting checks use Serialize.
func AppendBody(b []byte, p *ControlPacket) []byte {
	b = append(b, p.SessionID[:]...)
	if p.Ack == nil {
		b = append(b, 0)
	} else {
		b = append(b, byte(len(p.Ack.IDs)))
		for _, id := range p.Ack.IDs {
			b = binary.BigEndian.AppendUint32(b, id)
		}
		b = append(b, p.Ack.RemoteSessionID[:]...)
	}
	if p.Code.IsAck() {
		return b
	}
	b = binary.BigEndian.AppendUint32(b, p.PacketID)
	return append(b, p.Payload...)
}
