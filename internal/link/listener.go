package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/danmuck/ctlwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Peer holds what every control channel on a stream needs.
type Peer struct {
	Session session.Config
	Frame   frame.Limits
	// Key is the key index stamped on outbound packets.
	Key uint8
	// NewSerializer returns the serializer bound to one channel.
	NewSerializer func() protocol.Serializer
	Logger        zerolog.Logger
}

// Open wraps an established stream in a fresh control channel.
func (p Peer) Open(rwc net.Conn) (*Conn, error) {
	if p.NewSerializer == nil {
		return nil, fmt.Errorf("link: peer has no serializer")
	}
	ch, err := session.NewControlChannel(p.Session, p.NewSerializer(), p.Logger)
	if err != nil {
		return nil, err
	}
	ch.SetKey(p.Key)
	return NewConn(rwc, ch, p.Frame, p.Logger), nil
}

// Dial connects to addr over TCP and opens a control channel on it.
func (p Peer) Dial(ctx context.Context, addr string) (*Conn, error) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s: %w", addr, err)
	}
	c, err := p.Open(nc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Listener accepts streams and runs one control channel per connection.
type Listener struct {
	peer   Peer
	handle Handler

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	active atomic.Int64
	wg     sync.WaitGroup
}

func NewListener(peer Peer, handle Handler) *Listener {
	return &Listener{
		peer:   peer,
		handle: handle,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Active returns the number of open connections.
func (l *Listener) Active() int {
	return int(l.active.Load())
}

// Serve runs the accept loop on ln until ctx ends. It closes ln and every
// open connection on the way out.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		l.closeAll()
		_ = ln.Close()
	}()
	defer l.wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.closeAll()
			return err
		}
		l.track(nc)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, nc)
		}()
	}
}

func (l *Listener) handleConn(ctx context.Context, nc net.Conn) {
	defer l.untrack(nc)
	defer nc.Close()
	remote := nc.RemoteAddr().String()
	logger := l.peer.Logger.With().Str("remote", remote).Logger()
	logger.Info().Int64("active", l.active.Add(1)).Msg("link client connected")
	defer func() {
		logger.Info().Int64("active", l.active.Add(-1)).Msg("link client disconnected")
	}()

	c, err := l.peer.Open(nc)
	if err != nil {
		logger.Error().Err(err).Msg("open control channel")
		return
	}
	err = c.Run(ctx, l.handle)
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("link connection ended")
	}
	if remote, ok := c.Channel().RemoteSessionID(); ok {
		logger.Debug().
			Stringer("local_session_id", c.Channel().LocalSessionID()).
			Stringer("remote_session_id", remote).
			Int("pending", c.Channel().Pending()).
			Msg("control channel closed")
	}
}

func (l *Listener) track(nc net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[nc] = struct{}{}
}

func (l *Listener) untrack(nc net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, nc)
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for nc := range l.conns {
		_ = nc.Close()
	}
}
