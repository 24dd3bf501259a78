package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSessionID          = errors.New("protocol: missing session id")
	ErrMissingAckCount           = errors.New("protocol: missing ack count")
	ErrMissingAcks               = errors.New("protocol: missing ack ids")
	ErrMissingRemoteSessionID    = errors.New("protocol: missing remote session id")
	ErrMissingPacketID           = errors.New("protocol: missing packet id")
	ErrAckWithoutIDs             = errors.New("protocol: ack packet without ids")
	ErrAckWithoutRemoteSessionID = errors.New("protocol: ack packet without remote session id")

	ErrInvalidRange  = errors.New("protocol: invalid byte range")
	ErrBodyTooLarge  = errors.New("protocol: body too large")
	ErrTooManyAcks   = errors.New("protocol: too many ack ids")
	ErrInvalidPacket = errors.New("protocol: invalid packet")
)

// ParseError records where a body stopped being readable.
type ParseError struct {
	Field  string
	Offset int
	Need   int
	Have   int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (field=%s offset=%d need=%d have=%d)", e.Err, e.Field, e.Offset, e.Need, e.Have)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Field names used in ParseError and in metrics labels.
const (
	FieldSessionID       = "session_id"
	FieldAckCount        = "ack_count"
	FieldAckIDs          = "ack_ids"
	FieldRemoteSessionID = "remote_session_id"
	FieldPacketID        = "packet_id"
	FieldRange           = "range"
	FieldBody            = "body"
)

// ErrorField returns the field a decode failure refers to, or "" when err
// did not come from the parser.
func ErrorField(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Field
	}
	switch {
	case errors.Is(err, ErrAckWithoutIDs):
		return FieldAckIDs
	case errors.Is(err, ErrAckWithoutRemoteSessionID):
		return FieldRemoteSessionID
	}
	return ""
}
