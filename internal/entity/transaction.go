package entity

import (
	"fmt"
	"time"
)

// OutboundState tracks how far a locally authored record has made it
// toward the remote system.
type OutboundState string

const (
	// OutboundPending means the record has never been sent, or a send
	// is due.
	OutboundPending OutboundState = "pending"
	// OutboundErrored means the last send attempt failed; the retry
	// manager will pick it up again.
	OutboundErrored OutboundState = "errored"
)

// Transaction is a completed sale authored on this terminal. Lines and
// payments are embedded so the whole record travels, and is deleted,
// as one document.
type Transaction struct {
	ID            string            `json:"id"`
	RegisterID    string            `json:"register_id"`
	OperatorID    string            `json:"operator_id,omitempty"`
	Kind          string            `json:"kind"` // sale, return, adjustment
	Lines         []TransactionLine `json:"lines"`
	Payments      []Payment         `json:"payments"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TaxCents      int64             `json:"tax_cents"`
	TotalCents    int64             `json:"total_cents"`
	CompletedAt   time.Time         `json:"completed_at"`

	// Transmission bookkeeping, owned by the outbound retry manager.
	State         OutboundState `json:"state"`
	Attempts      int           `json:"attempts,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
}

// TransactionLine is one scanned or keyed item on the receipt.
type TransactionLine struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	UnitCents     int64  `json:"unit_cents"`
	DiscountCents int64  `json:"discount_cents,omitempty"`
	TaxCents      int64  `json:"tax_cents,omitempty"`
	TotalCents    int64  `json:"total_cents"`
}

// Payment is one tender applied to the transaction.
type Payment struct {
	Method      string `json:"method"` // cash, card, gift
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

// Validate checks the Transaction is complete enough to transmit.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.RegisterID == "" {
		return fmt.Errorf("register_id is required")
	}
	if t.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(t.Lines) == 0 {
		return fmt.Errorf("at least one line is required")
	}
	if t.CompletedAt.IsZero() {
		return fmt.Errorf("completed_at is required")
	}
	switch t.State {
	case OutboundPending, OutboundErrored:
	default:
		return fmt.Errorf("invalid outbound state %q", t.State)
	}
	return nil
}
