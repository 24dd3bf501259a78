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
	"github.com/pterm/pterm"
)

func runDecode(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "config.toml path")
	code := fs.Uint("code", uint(protocol.ControlV1), "packet code when decoding a bare body")
	key := fs.Uint("key", 0, "key index when decoding a bare body")
	framed := fs.Bool("framed", false, "input is a full datagram with its opcode byte")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("decode: expected one hex argument")
	}
	if *code > 0xff || *key > 0xff {
		return fmt.Errorf("decode: code and key must fit in one byte")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ser := serializerFor(cfg)

	raw, err := hex.DecodeString(strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		return fmt.Errorf("decode: invalid hex: %w", err)
	}

	var p *protocol.ControlPacket
	if *framed {
		p, err = frame.ParseControl(ser, raw)
	} else {
		p, err = ser.Deserialize(protocol.PacketCode(*code), uint8(*key), raw, 0, len(raw))
	}
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return renderPacket(out, p)
}

func renderPacket(out io.Writer, p *protocol.ControlPacket) error {
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(out).
		WithData(packetRows(p)).
		Render()
}

func packetRows(p *protocol.ControlPacket) pterm.TableData {
	rows := pterm.TableData{
		{"field", "value"},
		{"code", fmt.Sprintf("%d (%s)", uint8(p.Code), p.Code)},
		{"key", strconv.Itoa(int(p.Key))},
		{"session_id", p.SessionID.String()},
	}
	if p.HasPacketID() {
		rows = append(rows, []string{"packet_id", strconv.FormatUint(uint64(p.PacketID), 10)})
	}
	if p.Ack != nil {
		ids := make([]string, len(p.Ack.IDs))
		for i, id := range p.Ack.IDs {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		rows = append(rows,
			[]string{"ack_ids", strings.Join(ids, ",")},
			[]string{"ack_remote_session_id", p.Ack.RemoteSessionID.String()},
		)
	}
	if p.Payload != nil {
		rows = append(rows, []string{"payload", fmt.Sprintf("%d bytes %s", len(p.Payload), hex.EncodeToString(p.Payload))})
	}
	return rows
}
