package session

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/ctlwire/internal/observability"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrOutboxFull           = errors.New("session: outbox full")
	ErrAckCode              = errors.New("session: ack packets are built by PendingAck")
	ErrRemoteSessionChanged = errors.New("session: remote session id changed")
	ErrAckForOtherSession   = errors.New("session: ack addressed to another session")
)

// NewSessionID returns a random 16 byte session id.
func NewSessionID() (protocol.SessionID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return protocol.SessionID{}, fmt.Errorf("session: new session id: %w", err)
	}
	return protocol.SessionID(id), nil
}

// ControlChannel tracks one control channel session on top of a Serializer.
// All methods are safe for concurrent use; Reset is serialized with them.
type ControlChannel struct {
	mu     sync.Mutex
	cfg    Config
	ser    protocol.Serializer
	logger zerolog.Logger
	rng    *rand.Rand
	now    func() time.Time

	key         uint8
	local       protocol.SessionID
	remote      *protocol.SessionID
	nextID      uint32
	pendingAcks []uint32
	outbox      *Outbox
}

// NewControlChannel binds ser to a fresh session. The serializer is chosen
// once here and kept for the lifetime of the channel.
func NewControlChannel(cfg Config, ser protocol.Serializer, logger zerolog.Logger) (*ControlChannel, error) {
	local, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	return &ControlChannel{
		cfg:    cfg.WithDefaults(),
		ser:    ser,
		logger: logger.With().Str("component", "control_channel").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		local:  local,
		outbox: NewOutbox(),
	}, nil
}

func (c *ControlChannel) LocalSessionID() protocol.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *ControlChannel) RemoteSessionID() (protocol.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return protocol.SessionID{}, false
	}
	return *c.remote, true
}

// Config returns the reliability settings with defaults applied.
func (c *ControlChannel) Config() Config {
	return c.cfg
}

// SetKey selects the key index stamped on outbound packets.
func (c *ControlChannel) SetKey(key uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}

// Pending returns the number of unacknowledged outbound packets.
func (c *ControlChannel) Pending() int {
	return c.outbox.Len()
}

// Enqueue assigns the next packet id to a new control packet, piggybacks any
// pending acks and returns the datagram to transmit.
func (c *ControlChannel) Enqueue(code protocol.PacketCode, payload []byte) ([]byte, error) {
	if code.IsAck() {
		return nil, ErrAckCode
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outbox.Len() >= c.cfg.MaxPending {
		return nil, fmt.Errorf("%w: %d pending", ErrOutboxFull, c.outbox.Len())
	}

	p := protocol.NewControlPacket(code, c.key, c.local, c.nextID, payload)
	acked := c.attachAcksLocked(p)

	datagram, err := frame.MarshalControl(c.ser, p)
	observability.RecordEncode(code, err)
	if err != nil {
		return nil, err
	}
	c.pendingAcks = c.pendingAcks[acked:]

	now := c.now()
	c.outbox.Upsert(PendingPacket{
		PacketID:      p.PacketID,
		Code:          code,
		Datagram:      datagram,
		Attempts:      1,
		QueuedAt:      now,
		LastAttemptAt: now,
		DeadlineAt:    now.Add(c.cfg.AckTimeout),
	})
	c.nextID++

	c.logger.Debug().Stringer("packet", p).Int("acked", acked).Msg("enqueued control packet")
	return datagram, nil
}

// Handle parses one inbound datagram, applies its acknowledgments to the
// outbox and queues its own packet id for acknowledgment.
func (c *ControlChannel) Handle(datagram []byte) (*protocol.ControlPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := frame.ParseControl(c.ser, datagram)
	code := protocol.PacketCode(0)
	if len(datagram) > 0 {
		code, _ = frame.SplitOpcode(datagram[0])
	}
	observability.RecordDecode(code, err)
	if err != nil {
		c.logger.Warn().Err(err).Stringer("code", code).Int("len", len(datagram)).Msg("dropping control packet")
		return nil, err
	}

	// All checks run before any state changes so a rejected datagram
	// leaves the channel untouched.
	if c.remote != nil && *c.remote != p.SessionID {
		return nil, fmt.Errorf("%w: %s != %s", ErrRemoteSessionChanged, p.SessionID, *c.remote)
	}
	if p.Ack != nil && p.Ack.RemoteSessionID != c.local {
		return nil, fmt.Errorf("%w: %s", ErrAckForOtherSession, p.Ack.RemoteSessionID)
	}

	if c.remote == nil {
		remote := p.SessionID
		c.remote = &remote
	}
	if p.Ack != nil {
		now := c.now()
		removed := 0
		for _, id := range p.Ack.IDs {
			item, ok := c.outbox.Get(id)
			if !ok {
				continue
			}
			c.outbox.Remove(id)
			removed++
			observability.RecordAckLatency(now.Sub(item.QueuedAt))
		}
		observability.RecordAcked(removed)
	}

	if p.HasPacketID() && !slices.Contains(c.pendingAcks, p.PacketID) {
		c.pendingAcks = append(c.pendingAcks, p.PacketID)
	}
	return p, nil
}

// PendingAck builds an ack-only datagram for packet ids not yet piggybacked.
func (c *ControlChannel) PendingAck() ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingAcks) == 0 || c.remote == nil {
		return nil, false, nil
	}
	n := min(len(c.pendingAcks), c.cfg.MaxAckBatch)
	ack := protocol.Ack{
		IDs:             slices.Clone(c.pendingAcks[:n]),
		RemoteSessionID: *c.remote,
	}
	p := protocol.NewAckPacket(c.key, c.local, ack)
	datagram, err := frame.MarshalControl(c.ser, p)
	observability.RecordEncode(protocol.AckV1, err)
	if err != nil {
		return nil, false, err
	}
	c.pendingAcks = c.pendingAcks[n:]
	return datagram, true, nil
}

// DueRetransmissions returns datagrams whose ack deadline has passed at now
// and pushes their deadlines out by the backoff schedule.
func (c *ControlChannel) DueRetransmissions(now time.Time) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	due := c.outbox.Due(now)
	out := make([][]byte, 0, len(due))
	for _, item := range due {
		delay := NextBackoffDelay(c.cfg.Backoff, item.Attempts, c.rng)
		updated, ok := c.outbox.MarkAttempt(item.PacketID, now, now.Add(delay))
		if !ok {
			continue
		}
		c.logger.Debug().
			Uint32("packet_id", updated.PacketID).
			Int("attempts", updated.Attempts).
			Dur("next", delay).
			Msg("retransmitting control packet")
		out = append(out, updated.Datagram)
	}
	if len(out) > 0 {
		observability.RecordRetransmits(len(out))
	}
	return out
}

// Reset starts a new session: fresh local id, empty outbox and ack queue,
// and a reset serializer.
func (c *ControlChannel) Reset() error {
	local, err := NewSessionID()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ser.Reset()
	c.local = local
	c.remote = nil
	c.nextID = 0
	c.pendingAcks = nil
	c.outbox.Clear()
	observability.RecordReset()
	c.logger.Info().Stringer("session_id", local).Msg("control channel reset")
	return nil
}

// attachAcksLocked piggybacks up to MaxAckBatch pending acks on p and
// returns how many were attached.
func (c *ControlChannel) attachAcksLocked(p *protocol.ControlPacket) int {
	if len(c.pendingAcks) == 0 || c.remote == nil {
		return 0
	}
	n := min(len(c.pendingAcks), c.cfg.MaxAckBatch)
	p.Ack = &protocol.Ack{
		IDs:             slices.Clone(c.pendingAcks[:n]),
		RemoteSessionID: *c.remote,
	}
	return n
}
