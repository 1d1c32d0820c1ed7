// Package gateway defines the contract with the remote system of record
// and ships an HTTP implementation of it.
//
// The engine only ever talks to the Gateway interface; tests and the
// simulator substitute fakes. The contract is deliberately small: paged
// bulk listing for bootstrap, point-in-time fetch for incremental
// updates, a change feed with acknowledgments, a lightweight probe, and
// a push endpoint for locally authored records.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one entity as returned by the remote system: an identifier
// plus its wire payload. The engine stores the payload as-is and leaves
// interpretation to the entity package.
type Record struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Change is a remote change notification. Delivery is at-least-once:
// unacknowledged changes are redelivered on a later fetch.
type Change struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Timestamp  time.Time `json:"timestamp"`
	SubState   string    `json:"sub_state,omitempty"`
}

// Outcome reports how the terminal handled a change notification. The
// server uses it to decide whether to redeliver.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OutboundRecord is a locally authored record being pushed upstream.
type OutboundRecord struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Gateway is the client-side contract with the backend API.
type Gateway interface {
	// ListPage fetches one page of an entity listing. cursor is empty
	// for the first page; the returned cursor feeds the next call. A
	// page shorter than pageSize is the last one.
	ListPage(ctx context.Context, entityType, cursor string, pageSize int, since time.Time) ([]Record, string, error)

	// GetAtTime fetches a single entity's state as of the given time.
	// Returns ErrGone if the entity no longer exists upstream.
	GetAtTime(ctx context.Context, entityType, id string, at time.Time) (*Record, error)

	// PollChangeCount returns the number of undelivered changes waiting
	// for this terminal.
	PollChangeCount(ctx context.Context) (int, error)

	// FetchChanges retrieves the waiting change notifications.
	FetchChanges(ctx context.Context) ([]Change, error)

	// Acknowledge reports the outcome of applying a change. Called for
	// every notification, success or failure.
	Acknowledge(ctx context.Context, change Change, outcome Outcome) error

	// Probe is the heartbeat check. It must be cheap and safe to call
	// on a short interval.
	Probe(ctx context.Context) bool

	// Push transmits a locally authored record. A nil error is the
	// server's acknowledgment; only then may the local copy be removed.
	Push(ctx context.Context, rec OutboundRecord) error
}
