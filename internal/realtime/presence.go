package realtime

import (
	"context"
	"sync"

	"directchat/internal/metrics"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

const presenceShards = 64

// PresenceWriter persists the online flag.
type PresenceWriter interface {
	SetUserOnline(ctx context.Context, userID string, online bool) error
}

// Presence turns registry transitions into online/offline broadcasts.
// Connect and disconnect of the same user are serialized on a striped lock
// held across the registry change, the store write and the broadcast, so
// the events of one user can never be reordered. Every onlineUsersList is
// taken and delivered under sendMu, so all observers see snapshots in the
// order they were taken and the last one they get is current.
type Presence struct {
	reg   *Registry
	store PresenceWriter
	locks [presenceShards]sync.Mutex

	sendMu sync.Mutex
}

func NewPresence(reg *Registry, store PresenceWriter) *Presence {
	return &Presence{reg: reg, store: store}
}

func (p *Presence) lockFor(userID string) *sync.Mutex {
	return &p.locks[xxhash.Sum64String(userID)%presenceShards]
}

// OnConnect registers c and reports whether it was added. The first
// connection of a user marks it online and broadcasts to everyone; later ones
// only get a snapshot of their own.
func (p *Presence) OnConnect(ctx context.Context, c *Conn) bool {
	mu := p.lockFor(c.userID)
	mu.Lock()
	defer mu.Unlock()

	added, first := p.reg.Add(c)
	if !added {
		return false
	}
	if !first {
		p.sendSnapshot(c)
		return true
	}
	if err := p.store.SetUserOnline(ctx, c.userID, true); err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Msg("mark online failed")
	}
	p.broadcast(EventUserOnline, PresenceEvent{UserID: c.userID})
	return true
}

// OnDisconnect unregisters c and reports whether it was registered. If it
// was the user's last connection, the user is marked offline and the
// transition broadcast exactly once.
func (p *Presence) OnDisconnect(ctx context.Context, c *Conn) bool {
	mu := p.lockFor(c.userID)
	mu.Lock()
	defer mu.Unlock()

	removed, last := p.reg.Remove(c)
	if !last {
		return removed
	}
	if err := p.store.SetUserOnline(ctx, c.userID, false); err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Msg("mark offline failed")
	}
	p.broadcast(EventUserOffline, PresenceEvent{UserID: c.userID})
	return true
}

func (p *Presence) broadcast(event string, data PresenceEvent) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	online := p.reg.OnlineUsers()
	metrics.OnlineUsers.Set(float64(len(online)))
	metrics.PresenceEventsTotal.WithLabelValues(event).Inc()

	evt, err := encode(event, data)
	if err != nil {
		return
	}
	list, err := encode(EventOnlineUsersList, online)
	if err != nil {
		return
	}
	conns := p.reg.All()
	deliver(conns, evt)
	deliver(conns, list)
}

func (p *Presence) sendSnapshot(c *Conn) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if b, err := encode(EventOnlineUsersList, p.reg.OnlineUsers()); err == nil {
		deliver([]*Conn{c}, b)
	}
}
