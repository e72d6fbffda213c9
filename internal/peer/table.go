// Package peer tracks heard devices with last-seen timestamps and expires
// stale entries.
package peer

import (
	"sync"
	"time"
)

// Peer is one device heard on the acoustic link.
type Peer struct {
	UserID   string
	Username string
	LastSeen time.Time
}

// Table is a concurrency-safe set of observed peers, keyed by UserID.
// Observations are applied in the order they arrive; there is no priority
// across peers.
type Table struct {
	mu      sync.Mutex
	peers   map[string]Peer
	self    string
	expiry  time.Duration
	nowFunc func() time.Time
}

// New returns an empty Table. self is the local device's UserID — observing
// it is always a no-op, so a device never inserts itself from an acoustic
// reflection of its own transmission.
func New(self string, expiry time.Duration) *Table {
	return &Table{
		peers:   make(map[string]Peer),
		self:    self,
		expiry:  expiry,
		nowFunc: time.Now,
	}
}

// Observe refreshes LastSeen for userId, inserting it if new. A no-op for
// self.
func (t *Table) Observe(userID, username string) {
	if userID == t.self || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.peers[userID] = Peer{
		UserID:   userID,
		Username: username,
		LastSeen: t.nowFunc(),
	}
}

// Snapshot returns a copy of every non-expired peer. Expiry itself is only
// applied by Sweep; Snapshot does not mutate the table, but it does filter
// out entries that have aged past expiry so a caller never sees a peer
// Sweep simply hasn't gotten around to removing yet.
func (t *Table) Snapshot() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if now.Sub(p.LastSeen) <= t.expiry {
			out = append(out, p)
		}
	}
	return out
}

// Sweep removes every peer whose LastSeen is older than expiry. It returns
// the UserIDs removed, for callers (e.g. the session manager) that want to
// react to a peer going offline.
func (t *Table) Sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	var removed []string
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > t.expiry {
			removed = append(removed, id)
			delete(t.peers, id)
		}
	}
	return removed
}

// Get returns the peer for userID, if currently present.
func (t *Table) Get(userID string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[userID]
	return p, ok
}
