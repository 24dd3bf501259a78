package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/ctlwire/internal/protocol"
)

func TestOpcodeRoundTrip(t *testing.T) {
	for code := protocol.PacketCode(0); code <= maxCode; code++ {
		for key := uint8(0); key <= keyMask; key++ {
			op, err := Opcode(code, key)
			if err != nil {
				t.Fatalf("opcode(%d,%d): %v", code, key, err)
			}
			gotCode, gotKey := SplitOpcode(op)
			if gotCode != code || gotKey != key {
				t.Fatalf("split(%#x)=%d,%d want %d,%d", op, gotCode, gotKey, code, key)
			}
		}
	}
	if op, _ := Opcode(protocol.ControlV1, 1); op != 0x21 {
		t.Fatalf("control_v1 key 1 opcode=%#x", op)
	}
}

func TestOpcodeRejectsOutOfRange(t *testing.T) {
	if _, err := Opcode(32, 0); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := Opcode(protocol.ControlV1, 8); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := Packet{Code: protocol.AckV1, Key: 3, Body: []byte{1, 2, 3}}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Code != in.Code || out.Key != in.Key || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("mismatch: got=%+v want=%+v", out, in)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestMarshalParseControl(t *testing.T) {
	ser := protocol.NewPlainSerializer(protocol.PlainOptions{})
	in := protocol.NewControlPacket(protocol.HardResetClientV2, 0, protocol.SessionID{0xab}, 0, []byte("hi"))
	in.Ack = &protocol.Ack{IDs: []uint32{4}, RemoteSessionID: protocol.SessionID{0xcd}}

	datagram, err := MarshalControl(ser, in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if datagram[0] != 7<<3 {
		t.Fatalf("unexpected opcode %#x", datagram[0])
	}
	out, err := ParseControl(ser, datagram)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Code != in.Code || out.SessionID != in.SessionID || string(out.Payload) != "hi" {
		t.Fatalf("unexpected packet: %v", out)
	}
	if ids := out.AckIDs(); len(ids) != 1 || ids[0] != 4 {
		t.Fatalf("unexpected ack ids %v", ids)
	}

	if _, err := ParseControl(ser, datagram[:10]); !errors.Is(err, protocol.ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
	if _, err := ParseControl(ser, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	first := []byte{0x28, 1, 2, 3}
	second := bytes.Repeat([]byte{0x20}, 300)
	if err := WriteFrame(&buf, first, DefaultLimits()); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteFrame(&buf, second, DefaultLimits()); err != nil {
		t.Fatalf("write second: %v", err)
	}
	if buf.Bytes()[0] != 0 || buf.Bytes()[1] != 4 {
		t.Fatalf("unexpected size prefix %x", buf.Bytes()[:2])
	}
	got, err := ReadFrame(&buf, DefaultLimits())
	if err != nil || !bytes.Equal(got, first) {
		t.Fatalf("read first: %x %v", got, err)
	}
	got, err = ReadFrame(&buf, DefaultLimits())
	if err != nil || !bytes.Equal(got, second) {
		t.Fatalf("read second: %v", err)
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrameMalformedIsDeterministic(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{1}), DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultLimits()); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	small := Limits{MaxFrameBytes: 8}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 9}), small); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 4, 1, 2}), DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	if err := WriteFrame(io.Discard, make([]byte, 9), small); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on write, got %v", err)
	}
}

func TestMaximalBodyFitsOneStreamFrame(t *testing.T) {
	ser := protocol.NewPlainSerializer(protocol.PlainOptions{})
	overhead := protocol.SessionIDLen + 1 + protocol.PacketIDLen
	payload := make([]byte, protocol.MaxWireBodyLen-overhead)
	p := protocol.NewControlPacket(protocol.ControlV1, 0, protocol.SessionID{}, 1, payload)

	datagram, err := MarshalControl(ser, p)
	if err != nil {
		t.Fatalf("marshal maximal body: %v", err)
	}
	if len(datagram) != maxFrame {
		t.Fatalf("datagram len=%d want %d", len(datagram), maxFrame)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, datagram, DefaultLimits()); err != nil {
		t.Fatalf("write maximal frame: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultLimits())
	if err != nil || !bytes.Equal(got, datagram) {
		t.Fatalf("read maximal frame: len=%d err=%v", len(got), err)
	}

	// A serializer configured past the wire bound still cannot emit an
	// unframeable datagram.
	wide := protocol.NewPlainSerializer(protocol.PlainOptions{Limits: protocol.Limits{MaxBodyLen: 70000}})
	over := protocol.NewControlPacket(protocol.ControlV1, 0, protocol.SessionID{}, 1, make([]byte, len(payload)+1))
	if _, err := MarshalControl(wide, over); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
