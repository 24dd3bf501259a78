package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
)

func runEncode(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "config.toml path")
	code := fs.Uint("code", uint(protocol.ControlV1), "packet code")
	key := fs.Uint("key", 0, "key index")
	session := fs.String("session", "", "local session id, 32 hex chars (random when empty)")
	packetID := fs.Uint64("packet-id", 0, "packet id (ignored for ack packets)")
	acks := fs.String("ack", "", "comma separated ack ids")
	remote := fs.String("remote", "", "acked remote session id, 32 hex chars")
	payload := fs.String("payload", "", "payload hex")
	framed := fs.Bool("framed", false, "prefix the opcode byte")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *code > 0xff || *key > 0xff {
		return fmt.Errorf("encode: code and key must fit in one byte")
	}
	if *packetID > 0xffffffff {
		return fmt.Errorf("encode: packet-id %d exceeds 32 bits", *packetID)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ser := serializerFor(cfg)

	sid, err := sessionFor(*session)
	if err != nil {
		return fmt.Errorf("encode: -session: %w", err)
	}
	ack, err := parseAck(*acks, *remote)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	pc := protocol.PacketCode(*code)
	var p *protocol.ControlPacket
	if pc.IsAck() {
		if ack == nil {
			return fmt.Errorf("encode: %w", protocol.ErrAckWithoutIDs)
		}
		p = protocol.NewAckPacket(uint8(*key), sid, *ack)
	} else {
		body, err := hex.DecodeString(*payload)
		if err != nil {
			return fmt.Errorf("encode: -payload: %w", err)
		}
		p = protocol.NewControlPacket(pc, uint8(*key), sid, uint32(*packetID), body)
		p.Ack = ack
	}

	var encoded []byte
	if *framed {
		encoded, err = frame.MarshalControl(ser, p)
	} else {
		encoded, err = ser.Serialize(p)
	}
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	fmt.Fprintln(out, hex.EncodeToString(encoded))
	return nil
}

// parseAck returns nil when neither ids nor remote are given.
func parseAck(ids, remote string) (*protocol.Ack, error) {
	ids = strings.TrimSpace(ids)
	remote = strings.TrimSpace(remote)
	if ids == "" && remote == "" {
		return nil, nil
	}
	if ids == "" || remote == "" {
		return nil, fmt.Errorf("-ack and -remote must be given together")
	}
	rsid, err := protocol.ParseSessionID(remote)
	if err != nil {
		return nil, fmt.Errorf("-remote: %w", err)
	}
	parts := strings.Split(ids, ",")
	out := make([]uint32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("-ack %q: %w", part, err)
		}
		out = append(out, uint32(v))
	}
	return &protocol.Ack{IDs: out, RemoteSessionID: rsid}, nil
}
