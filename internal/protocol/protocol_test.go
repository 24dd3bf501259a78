package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/ctlwire/internal/logging"
	"github.com/danmuck/ctlwire/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func testSerializer(t *testing.T) *PlainSerializer {
	t.Helper()
	logger := testlog.Logger(t)
	return NewPlainSerializer(PlainOptions{
		Logger:  &logger,
		Payload: logging.PayloadPolicy{LogSensitive: true},
	})
}

func sid(seed byte) SessionID {
	var s SessionID
	for i := range s {
		s[i] = seed + byte(i)
	}
	return s
}

func TestRoundTripNonAck(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	for _, n := range []int{0, 1, 2, 17, 1200} {
		payload := bytes.Repeat([]byte{0x5a}, n)
		in := NewControlPacket(ControlV1, 2, sid(0x10), 0xdeadbeef, payload)
		body, err := ser.Serialize(in)
		if err != nil {
			t.Fatalf("serialize n=%d: %v", n, err)
		}
		if len(body) != in.BodyLen() {
			t.Fatalf("body len=%d want %d", len(body), in.BodyLen())
		}
		out, err := ser.Deserialize(ControlV1, 2, body, 0, len(body))
		if err != nil {
			t.Fatalf("deserialize n=%d: %v", n, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("round trip n=%d (-in +out):\n%s", n, diff)
		}
	}
}

func TestRoundTripAck(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	for _, ids := range [][]uint32{{1}, {9, 3, 7}, {0, 0xffffffff, 42, 42}} {
		in := NewAckPacket(1, sid(0x20), Ack{IDs: ids, RemoteSessionID: sid(0x80)})
		body, err := ser.Serialize(in)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		out, err := ser.Deserialize(AckV1, 1, body, 0, len(body))
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("ack round trip (-in +out):\n%s", diff)
		}
		if out.HasPacketID() || out.Payload != nil {
			t.Fatalf("ack packet must not carry packet id or payload: %v", out)
		}
	}
}

func TestRoundTripPiggybackedAck(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	in := NewControlPacket(ControlV1, 0, sid(1), 12, []byte("client hello"))
	in.Ack = &Ack{IDs: []uint32{10, 11}, RemoteSessionID: sid(0x40)}

	body, err := ser.Serialize(in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out, err := ser.Deserialize(ControlV1, 0, body, 0, len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("piggyback round trip (-in +out):\n%s", diff)
	}
}

func TestDeserializeScenario(t *testing.T) {
	testlog.Start(t)
	body := make([]byte, 16)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x00, 0x00, 0x07)
	body = append(body, 0xaa, 0xbb)

	p, err := testSerializer(t).Deserialize(ControlV1, 0, body, 0, len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if p.SessionID != (SessionID{}) {
		t.Fatalf("unexpected session id %s", p.SessionID)
	}
	if p.PacketID != 7 {
		t.Fatalf("unexpected packet id %d", p.PacketID)
	}
	if !bytes.Equal(p.Payload, []byte{0xaa, 0xbb}) {
		t.Fatalf("unexpected payload %x", p.Payload)
	}
	if p.Ack != nil || p.AckIDs() != nil {
		t.Fatalf("expected no ack block, got %+v", p.Ack)
	}
	if _, ok := p.AckRemoteSessionID(); ok {
		t.Fatalf("expected no remote session id")
	}
}

func TestDeserializeZeroAcksAdvances17Bytes(t *testing.T) {
	testlog.Start(t)
	body := make([]byte, 17+4)
	body[16] = 0
	copy(body[17:], []byte{0x01, 0x02, 0x03, 0x04})

	p, err := testSerializer(t).Deserialize(HardResetClientV2, 0, body, 0, len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if p.PacketID != 0x01020304 {
		t.Fatalf("packet id read from wrong offset: %#x", p.PacketID)
	}
	if p.Ack != nil {
		t.Fatalf("ackCount=0 must leave ack absent")
	}
}

func TestDeserializeEmptyPayloadIsNil(t *testing.T) {
	testlog.Start(t)
	body := make([]byte, 21)
	p, err := testSerializer(t).Deserialize(ControlV1, 0, body, 0, len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if p.Payload != nil {
		t.Fatalf("expected nil payload, got %#v", p.Payload)
	}
}

func TestDeserializeTruncationBoundaries(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)

	full := NewControlPacket(ControlV1, 0, sid(3), 99, []byte{1, 2, 3})
	full.Ack = &Ack{IDs: []uint32{5, 6}, RemoteSessionID: sid(9)}
	body, err := ser.Serialize(full)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	cases := []struct {
		end  int
		want error
	}{
		{0, ErrMissingSessionID},
		{15, ErrMissingSessionID},
		{16, ErrMissingAckCount},
		{17, ErrMissingAcks},
		{24, ErrMissingAcks},
		{25, ErrMissingRemoteSessionID},
		{40, ErrMissingRemoteSessionID},
		{41, ErrMissingPacketID},
		{44, ErrMissingPacketID},
	}
	for _, tc := range cases {
		p, err := ser.Deserialize(ControlV1, 0, body, 0, tc.end)
		if !errors.Is(err, tc.want) {
			t.Fatalf("end=%d: expected %v, got %v", tc.end, tc.want, err)
		}
		if p != nil {
			t.Fatalf("end=%d: partial packet returned: %v", tc.end, p)
		}
	}

	// 45 bytes ends exactly at packetId.
	p, err := ser.Deserialize(ControlV1, 0, body, 0, 45)
	if err != nil {
		t.Fatalf("end=45: %v", err)
	}
	if p.Payload != nil || p.PacketID != 99 {
		t.Fatalf("end=45: unexpected packet %v", p)
	}
}

func TestDeserializeHeaderBoundaryBuffers(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)

	if _, err := ser.Deserialize(ControlV1, 0, make([]byte, 15), 0, 15); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("15 bytes: got %v", err)
	}
	if _, err := ser.Deserialize(ControlV1, 0, make([]byte, 16), 0, 16); !errors.Is(err, ErrMissingAckCount) {
		t.Fatalf("16 bytes: got %v", err)
	}
	buf := make([]byte, 17)
	buf[16] = 1
	if _, err := ser.Deserialize(ControlV1, 0, buf, 0, 17); !errors.Is(err, ErrMissingAcks) {
		t.Fatalf("17 bytes ackCount=1: got %v", err)
	}
}

func TestDeserializeHonorsSubRange(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	in := NewControlPacket(ControlV1, 0, sid(7), 3, []byte{0xca, 0xfe})
	body, err := ser.Serialize(in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	buf := append([]byte{0xff, 0xff, 0xff}, body...)
	buf = append(buf, 0xee, 0xee)
	out, err := ser.Deserialize(ControlV1, 0, buf, 3, 3+len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !bytes.Equal(out.Payload, []byte{0xca, 0xfe}) {
		t.Fatalf("payload leaked past range end: %x", out.Payload)
	}

	// Range cut inside packetId must fail even though the buffer continues.
	if _, err := ser.Deserialize(ControlV1, 0, buf, 3, 3+19); !errors.Is(err, ErrMissingPacketID) {
		t.Fatalf("expected ErrMissingPacketID, got %v", err)
	}

	// Decoded payload must not alias the caller's buffer.
	buf[3+21] = 0
	if out.Payload[0] != 0xca {
		t.Fatalf("payload aliases input buffer")
	}
}

func TestDeserializeNegativeEndMeansBufferEnd(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	body, err := ser.Serialize(NewControlPacket(SoftResetV1, 0, sid(2), 1, []byte{9}))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	p, err := ser.Deserialize(SoftResetV1, 0, body, 0, -1)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !bytes.Equal(p.Payload, []byte{9}) {
		t.Fatalf("unexpected payload %x", p.Payload)
	}
}

func TestDeserializeInvalidRange(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	buf := make([]byte, 32)
	for _, r := range [][2]int{{-1, 10}, {11, 10}, {0, 33}} {
		if _, err := ser.Deserialize(ControlV1, 0, buf, r[0], r[1]); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("range %v: expected ErrInvalidRange, got %v", r, err)
		}
	}
}

func TestDeserializeAckWithoutIDs(t *testing.T) {
	testlog.Start(t)
	body := make([]byte, 17)
	_, err := testSerializer(t).Deserialize(AckV1, 0, body, 0, len(body))
	if !errors.Is(err, ErrAckWithoutIDs) {
		t.Fatalf("expected ErrAckWithoutIDs, got %v", err)
	}
	if ErrorField(err) != FieldAckIDs {
		t.Fatalf("unexpected error field %q", ErrorField(err))
	}
}

func TestDeserializeAckIgnoresTrailingBytes(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	in := NewAckPacket(0, sid(1), Ack{IDs: []uint32{4}, RemoteSessionID: sid(2)})
	body, err := ser.Serialize(in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	body = append(body, 1, 2, 3, 4, 5)
	out, err := ser.Deserialize(AckV1, 0, body, 0, len(body))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if out.Payload != nil || out.PacketID != 0 {
		t.Fatalf("ack must drop trailing bytes: %v", out)
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	testlog.Start(t)
	buf := make([]byte, 17)
	buf[16] = 3
	_, err := testSerializer(t).Deserialize(ControlV1, 0, buf, 0, len(buf))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Field != FieldAckIDs || pe.Offset != 17 || pe.Need != 12 || pe.Have != 0 {
		t.Fatalf("unexpected parse error %+v", pe)
	}
}

func TestLimitsRejectOversizedInput(t *testing.T) {
	testlog.Start(t)
	ser := NewPlainSerializer(PlainOptions{Limits: Limits{MaxAckIDs: 2, MaxBodyLen: 64}})

	buf := make([]byte, 17+3*4+16+4)
	buf[16] = 3
	if _, err := ser.Deserialize(ControlV1, 0, buf, 0, len(buf)); !errors.Is(err, ErrTooManyAcks) {
		t.Fatalf("expected ErrTooManyAcks, got %v", err)
	}
	if _, err := ser.Deserialize(ControlV1, 0, make([]byte, 65), 0, 65); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	big := NewControlPacket(ControlV1, 0, sid(0), 1, make([]byte, 64))
	if _, err := ser.Serialize(big); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge on serialize, got %v", err)
	}
	acks := NewAckPacket(0, sid(0), Ack{IDs: []uint32{1, 2, 3}})
	if _, err := ser.Serialize(acks); !errors.Is(err, ErrTooManyAcks) {
		t.Fatalf("expected ErrTooManyAcks on serialize, got %v", err)
	}
}

func TestSerializeRejectsInvalidPackets(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	cases := []*ControlPacket{
		nil,
		{Code: AckV1},
		{Code: AckV1, Ack: &Ack{}},
		{Code: AckV1, PacketID: 3, Ack: &Ack{IDs: []uint32{1}}},
		{Code: AckV1, Payload: []byte{1}, Ack: &Ack{IDs: []uint32{1}}},
		{Code: ControlV1, Ack: &Ack{IDs: make([]uint32, 256)}},
	}
	for i, p := range cases {
		if _, err := ser.Serialize(p); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestDecodedPacketReserializesWithWideKey(t *testing.T) {
	testlog.Start(t)
	ser := testSerializer(t)
	body := make([]byte, SessionIDLen+ackCountLen+PacketIDLen)
	for _, key := range []uint8{8, 9, 0xff} {
		p, err := ser.Deserialize(ControlV1, key, body, 0, len(body))
		if err != nil {
			t.Fatalf("key %d: deserialize: %v", key, err)
		}
		if p.Key != key {
			t.Fatalf("key %d: decoded key %d", key, p.Key)
		}
		out, err := ser.Serialize(p)
		if err != nil {
			t.Fatalf("key %d: serialize: %v", key, err)
		}
		if !bytes.Equal(out, body) {
			t.Fatalf("key %d: body mismatch got=%x want=%x", key, out, body)
		}
	}
}

func TestSerializeWireLayout(t *testing.T) {
	testlog.Start(t)
	p := NewControlPacket(ControlV1, 0, sid(0), 0x01020304, []byte{0xff})
	p.Ack = &Ack{IDs: []uint32{0x0a0b0c0d}, RemoteSessionID: sid(0x30)}
	body, err := testSerializer(t).Serialize(p)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := append([]byte{}, p.SessionID[:]...)
	want = append(want, 0x01, 0x0a, 0x0b, 0x0c, 0x0d)
	remote := sid(0x30)
	want = append(want, remote[:]...)
	want = append(want, 0x01, 0x02, 0x03, 0x04, 0xff)
	if !bytes.Equal(body, want) {
		t.Fatalf("wire layout mismatch:\n got=%x\nwant=%x", body, want)
	}
}

func TestResetIsNoop(t *testing.T) {
	testlog.Start(t)
	var ser Serializer = testSerializer(t)
	body, err := ser.Serialize(NewControlPacket(ControlV1, 0, sid(0), 1, nil))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	ser.Reset()
	if _, err := ser.Deserialize(ControlV1, 0, body, 0, len(body)); err != nil {
		t.Fatalf("deserialize after reset: %v", err)
	}
}

func TestParseSessionID(t *testing.T) {
	want := sid(0xa0)
	got, err := ParseSessionID(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := ParseSessionID("abcd"); err == nil {
		t.Fatalf("expected short id error")
	}
	if _, err := ParseSessionID("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
}

func TestPacketCodeString(t *testing.T) {
	if AckV1.String() != "ack_v1" || PacketCode(31).String() != "code_31" {
		t.Fatalf("unexpected code names: %s %s", AckV1, PacketCode(31))
	}
}
