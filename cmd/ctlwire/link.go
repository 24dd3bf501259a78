package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danmuck/ctlwire/internal/config"
	"github.com/danmuck/ctlwire/internal/link"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
)

const defaultLinkAddr = "127.0.0.1:9482"

// peerFor builds the control channel settings shared by listen and send.
func peerFor(cfg config.Config) link.Peer {
	ser := serializerFor(cfg)
	return link.Peer{
		Session:       cfg.Session,
		Frame:         cfg.Frame,
		NewSerializer: func() protocol.Serializer { return ser },
		Logger:        log.Logger.With().Str("component", "link").Logger(),
	}
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config.toml path")
	addr := fs.String("addr", defaultLinkAddr, "tcp listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().Str("addr", ln.Addr().String()).Msg("control channel echo listener started")
	return link.NewListener(peerFor(cfg), link.Echo).Serve(ctx, ln)
}

func runSend(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "config.toml path")
	addr := fs.String("addr", defaultLinkAddr, "peer tcp address")
	payload := fs.String("payload", "", "payload hex")
	key := fs.Uint("key", 0, "key index, 0-7")
	timeout := fs.Duration("timeout", 5*time.Second, "time to wait for the reply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key > 7 {
		return fmt.Errorf("send: key %d does not fit the opcode", *key)
	}
	body, err := hex.DecodeString(*payload)
	if err != nil {
		return fmt.Errorf("send: -payload: %w", err)
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	peer := peerFor(cfg)
	peer.Key = uint8(*key)
	c, err := peer.Dial(ctx, *addr)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer c.Close()

	if err := c.Send(protocol.ControlV1, body); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	var reply *protocol.ControlPacket
	err = c.Run(ctx, func(_ context.Context, _ *link.Conn, p *protocol.ControlPacket) error {
		reply = p
		return link.ErrStop
	})
	if err == nil && reply == nil {
		err = errors.New("peer closed before replying")
	}
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	rows := append(packetRows(reply), []string{"pending", strconv.Itoa(c.Channel().Pending())})
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(out).
		WithData(rows).
		Render()
}
