package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/danmuck/ctlwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

const (
	minTick     = 10 * time.Millisecond
	frameBuffer = 64
)

// ErrStop ends Run without an error when returned by a Handler.
var ErrStop = errors.New("link: stop")

// Handler is called for every accepted non-ack control packet.
type Handler func(ctx context.Context, c *Conn, p *protocol.ControlPacket) error

// Echo sends every payload back as a ControlV1 packet.
func Echo(_ context.Context, c *Conn, p *protocol.ControlPacket) error {
	return c.Send(protocol.ControlV1, p.Payload)
}

// Conn runs one control channel over a size-framed stream.
type Conn struct {
	rwc     io.ReadWriteCloser
	ch      *session.ControlChannel
	limits  frame.Limits
	logger  zerolog.Logger
	tick    time.Duration
	writeMu sync.Mutex
}

func NewConn(rwc io.ReadWriteCloser, ch *session.ControlChannel, limits frame.Limits, logger zerolog.Logger) *Conn {
	tick := ch.Config().AckTimeout / 4
	if tick < minTick {
		tick = minTick
	}
	return &Conn{
		rwc:    rwc,
		ch:     ch,
		limits: limits,
		logger: logger.With().Str("component", "link").Logger(),
		tick:   tick,
	}
}

func (c *Conn) Channel() *session.ControlChannel {
	return c.ch
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}

// Send queues a control packet on the channel and writes it.
func (c *Conn) Send(code protocol.PacketCode, payload []byte) error {
	datagram, err := c.ch.Enqueue(code, payload)
	if err != nil {
		return err
	}
	return c.write(datagram)
}

// FlushAcks writes ack-only packets until no packet id is left unacknowledged.
func (c *Conn) FlushAcks() error {
	for {
		datagram, ok, err := c.ch.PendingAck()
		if err != nil || !ok {
			return err
		}
		if err := c.write(datagram); err != nil {
			return err
		}
	}
}

// Retransmit writes every datagram whose ack deadline passed at now.
func (c *Conn) Retransmit(now time.Time) error {
	for _, datagram := range c.ch.DueRetransmissions(now) {
		if err := c.write(datagram); err != nil {
			return err
		}
	}
	return nil
}

// Run reads frames until ctx ends, the stream fails or handle returns an
// error. Malformed or foreign packets are dropped and the loop keeps going.
// A clean EOF from the peer returns nil. The stream is not closed by Run.
func (c *Conn) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte, frameBuffer)
	readErr := make(chan error, 1)
	go func() {
		for {
			datagram, err := frame.ReadFrame(c.rwc, c.limits)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- datagram:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case now := <-ticker.C:
			if err := c.Retransmit(now); err != nil {
				return err
			}
		case datagram := <-frames:
			p, err := c.handle(datagram)
			if err != nil {
				c.logger.Warn().Err(err).Msg("rejected control packet")
				continue
			}
			if err := c.FlushAcks(); err != nil {
				return err
			}
			if p.IsAck() || handle == nil {
				continue
			}
			if err := handle(ctx, c, p); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
	}
}

// handle passes datagram to the channel. A hard reset from a peer that
// restarted under a new session id restarts the local channel first.
func (c *Conn) handle(datagram []byte) (*protocol.ControlPacket, error) {
	p, err := c.ch.Handle(datagram)
	if !errors.Is(err, session.ErrRemoteSessionChanged) || !isHardReset(datagram) {
		return p, err
	}
	if err := c.ch.Reset(); err != nil {
		return nil, err
	}
	c.logger.Info().Stringer("session_id", c.ch.LocalSessionID()).Msg("peer hard reset, control channel restarted")
	return c.ch.Handle(datagram)
}

func isHardReset(datagram []byte) bool {
	pkt, err := frame.Decode(datagram)
	if err != nil {
		return false
	}
	return pkt.Code == protocol.HardResetClientV2 || pkt.Code == protocol.HardResetServerV2
}

func (c *Conn) write(datagram []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteFrame(c.rwc, datagram, c.limits)
}
