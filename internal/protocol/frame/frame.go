package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/ctlwire/internal/protocol"
)

const (
	OpcodeLen     = 1
	SizeHeaderLen = 2

	keyBits  = 3
	keyMask  = 1<<keyBits - 1
	maxCode  = 0xff >> keyBits
	maxFrame = 1<<16 - 1
)

var (
	ErrShortHeader   = errors.New("frame: short size header")
	ErrEmptyFrame    = errors.New("frame: empty frame")
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrInvalidKey    = errors.New("frame: key out of range")
	ErrInvalidCode   = errors.New("frame: code out of range")
)

// Packet is one datagram split into its opcode fields and body.
type Packet struct {
	Code protocol.PacketCode
	Key  uint8
	Body []byte
}

// Limits constrains stream frame sizes.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: maxFrame}
}

// Opcode packs code into the high five bits and key into the low three.
func Opcode(code protocol.PacketCode, key uint8) (byte, error) {
	if code > maxCode {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCode, code)
	}
	if key > keyMask {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}
	return byte(code)<<keyBits | key, nil
}

func SplitOpcode(b byte) (protocol.PacketCode, uint8) {
	return protocol.PacketCode(b >> keyBits), b & keyMask
}

// Encode prepends the opcode byte to p.Body.
func Encode(p Packet) ([]byte, error) {
	op, err := Opcode(p.Code, p.Key)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, OpcodeLen+len(p.Body))
	buf[0] = op
	copy(buf[OpcodeLen:], p.Body)
	return buf, nil
}

// Decode splits a datagram. Body aliases datagram.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) < OpcodeLen {
		return Packet{}, ErrEmptyFrame
	}
	code, key := SplitOpcode(datagram[0])
	return Packet{Code: code, Key: key, Body: datagram[OpcodeLen:]}, nil
}

// MarshalControl serializes p and prefixes its opcode byte.
func MarshalControl(ser protocol.Serializer, p *protocol.ControlPacket) ([]byte, error) {
	if p == nil {
		return nil, protocol.ErrInvalidPacket
	}
	if _, err := Opcode(p.Code, p.Key); err != nil {
		return nil, err
	}
	body, err := ser.Serialize(p)
	if err != nil {
		return nil, err
	}
	if OpcodeLen+len(body) > maxFrame {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, OpcodeLen+len(body))
	}
	return Encode(Packet{Code: p.Code, Key: p.Key, Body: body})
}

// ParseControl reads the opcode byte and hands the rest of the datagram to
// ser as a sub-range, without copying.
func ParseControl(ser protocol.Serializer, datagram []byte) (*protocol.ControlPacket, error) {
	pkt, err := Decode(datagram)
	if err != nil {
		return nil, err
	}
	return ser.Deserialize(pkt.Code, pkt.Key, datagram, OpcodeLen, len(datagram))
}

// ReadFrame reads one size-prefixed datagram from a stream transport.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var head [SizeHeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	size := int(binary.BigEndian.Uint16(head[:]))
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if size > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, limits.MaxFrameBytes)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes datagram with its big-endian uint16 size prefix.
func WriteFrame(w io.Writer, datagram []byte, limits Limits) error {
	if len(datagram) == 0 {
		return ErrEmptyFrame
	}
	if len(datagram) > limits.MaxFrameBytes || len(datagram) > maxFrame {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(datagram))
	}
	buf := make([]byte, SizeHeaderLen+len(datagram))
	binary.BigEndian.PutUint16(buf, uint16(len(datagram)))
	copy(buf[SizeHeaderLen:], datagram)
	_, err := w.Write(buf)
	return err
}
