// Package domain holds the core event model and canonical error types
// shared across the monitoring pipeline.
package domain

import "time"

// Category classifies a ledger event into one of the pipeline's
// notification buckets.
type Category string

const (
	CategoryTokenTransfer Category = "token_transfer"
	CategoryNFT           Category = "nft_event"
	CategoryContract      Category = "contract_event"
	CategoryTransaction   Category = "transaction_event"
	CategoryGeneric       Category = "generic"
)

// Event is the typed, scored form of a raw ledger event. It is created
// exactly once by the classifier and never mutated afterwards, except for
// Narrative which the enrichment step may attach before dispatch.
type Event struct {
	// ID is derived deterministically from (version, type, subject).
	// Re-classifying the same raw event always yields the same ID.
	ID string `json:"id"`

	Category   Category `json:"category"`
	Importance float64  `json:"importance"`

	Version int64  `json:"version"`
	Type    string `json:"type"`
	Subject string `json:"subject"`

	// Amount is the transfer amount parsed from the payload, 0 when the
	// payload carries none.
	Amount uint64 `json:"amount,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`

	// Narrative is the generated explanation, or the templated fallback
	// when the enrichment call failed.
	Narrative string `json:"narrative,omitempty"`

	TransactionURL string `json:"transaction_url,omitempty"`
	AccountURL     string `json:"account_url,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}
