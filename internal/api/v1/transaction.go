package v1

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the atomic unit of the system: one card-usage record.
type Transaction struct {
	// ID is the unique immutable identifier provided by the upstream source.
	// It is the idempotency key — the same ID is never folded into a period
	// aggregate twice.
	ID string `json:"id"`

	// Amount is the signed monetary amount in yen. Negative amounts are
	// refunds and reduce the running totals.
	Amount decimal.Decimal `json:"amount"`

	// OccurredAt is when the card was used (client-side clock). Period keys
	// are resolved from this timestamp, in JST.
	OccurredAt time.Time `json:"occurred_at"`

	// Source identifies where the record came from (e.g. "mail:usage-report").
	Source string `json:"source,omitempty"`

	// IngestedAt is when cardwatch received the record. Set by the ingestion
	// service, not the client.
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is a monotonic sequence number assigned on ingestion.
	// Set by database (BIGSERIAL), not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the transaction has all required attributes.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}

	if t.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	if t.Amount.IsZero() {
		return fmt.Errorf("amount must be non-zero")
	}

	return nil
}
