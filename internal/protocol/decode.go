package protocol

import "encoding/binary"

// Deserialize parses one control packet body from data[start:end].
//
// code and key come from the opcode byte decoded by the framing layer. Every
// read is checked against end, never against len(data), so callers may pass
// a sub-range of a larger buffer. On failure no packet is returned.
func (s *PlainSerializer) Deserialize(code PacketCode, key uint8, data []byte, start, end int) (*ControlPacket, error) {
	if end < 0 {
		end = len(data)
	}
	if start < 0 || start > end || end > len(data) {
		return nil, &ParseError{Field: FieldRange, Offset: start, Need: end, Have: len(data), Err: ErrInvalidRange}
	}
	if end-start > s.limits.MaxBodyLen {
		return nil, &ParseError{Field: FieldBody, Offset: start, Need: s.limits.MaxBodyLen, Have: end - start, Err: ErrBodyTooLarge}
	}

	r := bodyReader{buf: data[:end], off: start}

	raw, err := r.take(SessionIDLen, FieldSessionID, ErrMissingSessionID)
	if err != nil {
		return nil, err
	}
	var sessionID SessionID
	copy(sessionID[:], raw)

	raw, err = r.take(ackCountLen, FieldAckCount, ErrMissingAckCount)
	if err != nil {
		return nil, err
	}
	ackCount := int(raw[0])
	if ackCount > s.limits.MaxAckIDs {
		return nil, &ParseError{Field: FieldAckCount, Offset: r.off - 1, Need: s.limits.MaxAckIDs, Have: ackCount, Err: ErrTooManyAcks}
	}

	var (
		ackIDs []uint32
		remote *SessionID
	)
	if ackCount > 0 {
		raw, err = r.take(ackCount*PacketIDLen, FieldAckIDs, ErrMissingAcks)
		if err != nil {
			return nil, err
		}
		ackIDs = make([]uint32, ackCount)
		for i := range ackIDs {
			ackIDs[i] = binary.BigEndian.Uint32(raw[i*PacketIDLen:])
		}

		raw, err = r.take(SessionIDLen, FieldRemoteSessionID, ErrMissingRemoteSessionID)
		if err != nil {
			return nil, err
		}
		remote = new(SessionID)
		copy(remote[:], raw)

		s.logger.Debug().
			Uints32("ack_ids", ackIDs).
			Hex("remote_session_id", remote[:]).
			Msg("peer acked packet ids")
	}

	if code.IsAck() {
		if ackIDs == nil {
			return nil, ErrAckWithoutIDs
		}
		if remote == nil {
			return nil, ErrAckWithoutRemoteSessionID
		}
		if trailing := r.remaining(); trailing > 0 {
			s.logger.Debug().Int("trailing", trailing).Msg("ignoring bytes after ack block")
		}
		return NewAckPacket(key, sessionID, Ack{IDs: ackIDs, RemoteSessionID: *remote}), nil
	}

	raw, err = r.take(PacketIDLen, FieldPacketID, ErrMissingPacketID)
	if err != nil {
		return nil, err
	}
	packetID := binary.BigEndian.Uint32(raw)
	s.logger.Debug().Uint32("packet_id", packetID).Stringer("code", code).Msg("control packet id")

	var payload []byte
	if n := r.remaining(); n > 0 {
		payload = make([]byte, n)
		copy(payload, r.rest())
		s.payload.Payload(s.logger.Debug(), payload).Msg("control packet payload")
	}

	p := NewControlPacket(code, key, sessionID, packetID, payload)
	if ackIDs != nil {
		p.Ack = &Ack{IDs: ackIDs, RemoteSessionID: *remote}
	}
	return p, nil
}

// bodyReader walks buf, which is already cut at the range end.
type bodyReader struct {
	buf []byte
	off int
}

func (r *bodyReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *bodyReader) rest() []byte {
	return r.buf[r.off:]
}

// take returns the next n bytes or a ParseError wrapping missing.
func (r *bodyReader) take(n int, field string, missing error) ([]byte, error) {
	if r.remaining() < n {
		return nil, &ParseError{Field: field, Offset: r.off, Need: n, Have: r.remaining(), Err: missing}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
