package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/ctlwire/internal/protocol"
)

// PendingPacket tracks one sent control packet awaiting acknowledgment.
type PendingPacket struct {
	PacketID      uint32
	Code          protocol.PacketCode
	Datagram      []byte
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	DeadlineAt    time.Time
}

// Outbox stores unacknowledged packets by packet id.
type Outbox struct {
	mu    sync.RWMutex
	items map[uint32]PendingPacket
}

func NewOutbox() *Outbox {
	return &Outbox{
		items: make(map[uint32]PendingPacket),
	}
}

func (o *Outbox) Upsert(item PendingPacket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.PacketID] = item
}

// MarkAttempt records a retransmission and moves the deadline.
func (o *Outbox) MarkAttempt(packetID uint32, at, deadline time.Time) (PendingPacket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[packetID]
	if !ok {
		return PendingPacket{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.DeadlineAt = deadline
	o.items[packetID] = item
	return item, true
}

// Remove drops packetID and reports whether it was pending.
func (o *Outbox) Remove(packetID uint32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.items[packetID]
	delete(o.items, packetID)
	return ok
}

func (o *Outbox) Get(packetID uint32) (PendingPacket, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[packetID]
	return item, ok
}

func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

func (o *Outbox) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = make(map[uint32]PendingPacket)
}

// List returns pending packets ordered by packet id.
func (o *Outbox) List() []PendingPacket {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingPacket, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PacketID < out[j].PacketID
	})
	return out
}

// Due returns packets whose deadline is at or before now, by packet id.
func (o *Outbox) Due(now time.Time) []PendingPacket {
	all := o.List()
	out := all[:0]
	for _, item := range all {
		if !item.DeadlineAt.After(now) {
			out = append(out, item)
		}
	}
	return out
}
