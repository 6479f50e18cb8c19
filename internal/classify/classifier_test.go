package classify

import (
	"testing"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/ledger"
)

func TestClassify_Deterministic(t *testing.T) {
	c := New(DefaultPolicy())

	raw := ledger.Event{
		Version: 101,
		Type:    "0x3::token::MintTokenEvent",
		Account: "0xabc",
		Data:    map[string]any{"amount": "5"},
	}

	first := c.Classify(raw)
	second := c.Classify(raw)

	if first.ID != second.ID {
		t.Errorf("ID differs: %s vs %s", first.ID, second.ID)
	}
	if first.Category != second.Category {
		t.Errorf("Category differs: %s vs %s", first.Category, second.Category)
	}
	if first.Importance != second.Importance {
		t.Errorf("Importance differs: %f vs %f", first.Importance, second.Importance)
	}
}

func TestClassify_DistinctTuplesDistinctIDs(t *testing.T) {
	seen := map[string]bool{}
	tuples := []struct {
		version int64
		typ     string
		subject string
	}{
		{1, "a", "x"},
		{2, "a", "x"},
		{1, "b", "x"},
		{1, "a", "y"},
	}
	for _, tu := range tuples {
		id := EventID(tu.version, tu.typ, tu.subject)
		if seen[id] {
			t.Errorf("collision for %+v", tu)
		}
		seen[id] = true
	}
}

func TestClassify_NFTMintScoresAboveThreshold(t *testing.T) {
	c := New(DefaultPolicy())

	ev := c.Classify(ledger.Event{
		Version: 101,
		Type:    "0x3::token::Collections/mint_token_events",
		Account: "0xabc",
	})

	if ev.Category != domain.CategoryNFT {
		t.Errorf("Category = %s, want %s", ev.Category, domain.CategoryNFT)
	}
	if ev.Importance != 0.75 {
		t.Errorf("Importance = %f, want 0.75", ev.Importance)
	}
	if !c.Significant(ev) {
		t.Error("nft mint not significant at default threshold")
	}
}

func TestClassify_AmountBoost(t *testing.T) {
	c := New(DefaultPolicy())

	small := c.Classify(ledger.Event{
		Version: 1,
		Type:    "0x1::coin::DepositEvent",
		Account: "0xabc",
		Data:    map[string]any{"amount": "100"},
	})
	large := c.Classify(ledger.Event{
		Version: 2,
		Type:    "0x1::coin::DepositEvent",
		Account: "0xabc",
		Data:    map[string]any{"amount": "20000"},
	})

	if small.Importance != 0.6 {
		t.Errorf("small transfer importance = %f, want 0.6", small.Importance)
	}
	if large.Importance != 0.8 {
		t.Errorf("large transfer importance = %f, want 0.8", large.Importance)
	}
}

func TestClassify_SignificanceGateBoundary(t *testing.T) {
	c := New(DefaultPolicy())

	// importance == threshold passes the gate (>=).
	at := domain.Event{Importance: 0.6}
	below := domain.Event{Importance: 0.59}

	if !c.Significant(at) {
		t.Error("event at threshold rejected")
	}
	if c.Significant(below) {
		t.Error("event below threshold accepted")
	}
}

func TestClassify_MalformedPayloadFallsBackToGeneric(t *testing.T) {
	c := New(DefaultPolicy())

	ev := c.Classify(ledger.Event{
		Version: 7,
		Type:    "0xdead::mystery::Whatever",
		Data:    map[string]any{"amount": []any{"not", "a", "number"}, "junk": map[string]any{}},
	})

	if ev.Category != domain.CategoryGeneric {
		t.Errorf("Category = %s, want generic", ev.Category)
	}
	if ev.Importance != 0.3 {
		t.Errorf("Importance = %f, want 0.3", ev.Importance)
	}
	if c.Significant(ev) {
		t.Error("generic event passed the significance gate")
	}
}

func TestClassify_ImportanceClamped(t *testing.T) {
	policy := DefaultPolicy()
	policy.AmountBoost = 0.5
	policy.WatchBoost = 0.5
	policy.WatchedAccounts = []string{"0xabc"}
	c := New(policy)

	ev := c.Classify(ledger.Event{
		Version: 1,
		Type:    "0x1::aptos_governance::VoteEvent",
		Account: "0xabc",
		Data:    map[string]any{"amount": "999999"},
	})

	if ev.Importance != 1.0 {
		t.Errorf("Importance = %f, want clamped to 1.0", ev.Importance)
	}
}

func TestClassify_WatchedAccountBoost(t *testing.T) {
	policy := DefaultPolicy()
	policy.WatchedAccounts = []string{"0xwatched"}
	c := New(policy)

	plain := c.Classify(ledger.Event{
		Version: 1,
		Type:    "0x1::coin::DepositEvent",
		Account: "0xother",
	})
	watched := c.Classify(ledger.Event{
		Version: 2,
		Type:    "0x1::coin::DepositEvent",
		Account: "0xother",
		Data:    map[string]any{"receiver": "0xwatched"},
	})

	if watched.Importance <= plain.Importance {
		t.Errorf("watched importance %f not above plain %f", watched.Importance, plain.Importance)
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c := New(DefaultPolicy())

	// "governance" appears before the generic transfer rule, so a
	// governance event mentioning "transfer" keeps the contract score.
	ev := c.Classify(ledger.Event{
		Version: 1,
		Type:    "0x1::governance::TransferProposalEvent",
	})

	if ev.Category != domain.CategoryContract {
		t.Errorf("Category = %s, want %s", ev.Category, domain.CategoryContract)
	}
	if ev.Importance != 0.9 {
		t.Errorf("Importance = %f, want 0.9", ev.Importance)
	}
}

func TestClassify_ExplorerLinks(t *testing.T) {
	c := New(DefaultPolicy(), WithExplorerURL("https://explorer.example/"))

	ev := c.Classify(ledger.Event{Version: 42, Type: "0x1::coin::DepositEvent", Account: "0xabc"})

	if ev.TransactionURL != "https://explorer.example/txn/42" {
		t.Errorf("TransactionURL = %s", ev.TransactionURL)
	}
	if ev.AccountURL != "https://explorer.example/account/0xabc" {
		t.Errorf("AccountURL = %s", ev.AccountURL)
	}
}
