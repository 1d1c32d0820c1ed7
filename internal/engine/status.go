// Package engine implements the local-first synchronization engine for
// the terminal: bootstrap replication, the incremental change pipeline,
// the outbound retry queue, connectivity tracking, and the pending
// overlay that protects an in-progress sale from mid-flight catalog
// updates.
package engine

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the engine's observable state.
// Readers get copies; only the engine mutates the underlying value.
type Snapshot struct {
	Online              bool      `json:"online"`
	LastHeartbeat       time.Time `json:"last_heartbeat,omitempty"`
	LastFullSync        time.Time `json:"last_full_sync,omitempty"`
	PendingOutbound     int       `json:"pending_outbound"`
	Syncing             bool      `json:"syncing"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Status is the engine's observable sync state. Single writer (the
// engine), many readers (UI, dashboard, CLI). Subscribers receive a
// fresh Snapshot after every mutation; slow subscribers miss
// intermediate snapshots rather than blocking the engine.
type Status struct {
	mu          sync.RWMutex
	current     Snapshot
	subscribers map[chan Snapshot]struct{}
}

// NewStatus creates an empty Status.
func NewStatus() *Status {
	return &Status{subscribers: make(map[chan Snapshot]struct{})}
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a listener for state changes. The returned
// channel has a one-slot buffer holding the latest snapshot; call the
// cancel function to unsubscribe.
func (s *Status) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.current
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// update applies fn to the current state and notifies subscribers.
func (s *Status) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.current)
	snap := s.current
	for ch := range s.subscribers {
		// Replace any unread snapshot with the latest one.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	s.mu.Unlock()
}

func (s *Status) setOnline(online bool) {
	s.update(func(snap *Snapshot) {
		snap.Online = online
		if online {
			snap.ConsecutiveFailures = 0
		}
	})
}

func (s *Status) recordHeartbeat(ok bool, at time.Time) {
	s.update(func(snap *Snapshot) {
		if ok {
			snap.LastHeartbeat = at
			snap.ConsecutiveFailures = 0
		} else {
			snap.ConsecutiveFailures++
		}
	})
}

func (s *Status) recordFullSync(at time.Time) {
	s.update(func(snap *Snapshot) { snap.LastFullSync = at })
}

func (s *Status) setSyncing(syncing bool) {
	s.update(func(snap *Snapshot) { snap.Syncing = syncing })
}

func (s *Status) setPendingOutbound(n int) {
	s.update(func(snap *Snapshot) { snap.PendingOutbound = n })
}

func (s *Status) setLastError(err error) {
	s.update(func(snap *Snapshot) {
		if err == nil {
			snap.LastError = ""
		} else {
			snap.LastError = err.Error()
		}
	})
}
