package ledger

import (
	"encoding/json"
	"strconv"
)

// Event is a raw ledger event as returned by the fullnode, before
// classification. Immutable once read.
type Event struct {
	Version        int64
	SequenceNumber uint64
	Type           string

	// Account is the address whose event handle produced the event,
	// filled in by the client.
	Account string

	Data map[string]any
}

// EventHandle identifies one fullnode event stream to poll.
type EventHandle struct {
	Account string `koanf:"account"`
	// Resource is the Move struct holding the handle, e.g.
	// "0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>".
	Resource string `koanf:"resource"`
	// Field is the event handle field, e.g. "deposit_events".
	Field string `koanf:"field"`
}

// ledgerInfo is the fullnode's root response. Numeric fields arrive as
// JSON strings.
type ledgerInfo struct {
	ChainID       int    `json:"chain_id"`
	LedgerVersion string `json:"ledger_version"`
	BlockHeight   string `json:"block_height"`
}

// rawEvent is the wire form of one event; version and sequence number
// arrive as decimal strings.
type rawEvent struct {
	Version        string         `json:"version"`
	SequenceNumber string         `json:"sequence_number"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
}

func (r rawEvent) toEvent(account string) (Event, error) {
	version, err := strconv.ParseInt(r.Version, 10, 64)
	if err != nil {
		return Event{}, err
	}
	seq, err := strconv.ParseUint(r.SequenceNumber, 10, 64)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Version:        version,
		SequenceNumber: seq,
		Type:           r.Type,
		Account:        account,
		Data:           r.Data,
	}, nil
}

// AmountFromData extracts a transfer amount from an event payload. The
// fullnode encodes amounts as decimal strings; malformed or absent
// amounts yield 0.
func AmountFromData(data map[string]any) uint64 {
	raw, ok := data["amount"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
