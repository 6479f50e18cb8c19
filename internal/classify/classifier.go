// Package classify turns raw ledger events into typed, scored domain
// events. Classification is a pure function of its input: the policy is
// an ordered rule table evaluated first-match-wins, and malformed
// payloads fall back to the generic category instead of failing.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/ledger"
)

const (
	DefaultThreshold    = 0.6
	DefaultAmountCutoff = 10000
	DefaultAmountBoost  = 0.2
	DefaultWatchBoost   = 0.15

	genericImportance = 0.3
)

// Policy holds the tunable classification parameters. The literals are
// business policy, not invariants; they are injected from configuration.
type Policy struct {
	// Threshold is the significance gate: events scoring below it are
	// discarded before enrichment and dispatch.
	Threshold float64

	// AmountCutoff and AmountBoost raise transfers whose amount crosses
	// the cutoff.
	AmountCutoff uint64
	AmountBoost  float64

	// WatchBoost raises events touching watched accounts, tokens, or
	// collections.
	WatchBoost        float64
	WatchedAccounts   []string
	WatchedTokens     []string
	WatchedCollection []string
}

// DefaultPolicy returns the policy with the stock cutoffs.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:    DefaultThreshold,
		AmountCutoff: DefaultAmountCutoff,
		AmountBoost:  DefaultAmountBoost,
		WatchBoost:   DefaultWatchBoost,
	}
}

// Rule maps events whose type contains any of Keywords (case
// insensitive) to a category and base importance. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Name     string
	Keywords []string
	Category domain.Category
	Base     float64
}

// DefaultRules is the stock rule table, ordered most to least specific.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "governance",
			Keywords: []string{"governance", "voting", "proposal"},
			Category: domain.CategoryContract,
			Base:     0.9,
		},
		{
			Name:     "staking",
			Keywords: []string{"stake", "delegation"},
			Category: domain.CategoryContract,
			Base:     0.75,
		},
		{
			Name:     "nft_mint",
			Keywords: []string{"mint", "create_collection", "create_token"},
			Category: domain.CategoryNFT,
			Base:     0.75,
		},
		{
			Name:     "nft_transfer",
			Keywords: []string{"token::", "nft"},
			Category: domain.CategoryNFT,
			Base:     0.7,
		},
		{
			Name:     "coin_transfer",
			Keywords: []string{"coin::deposit", "coin::withdraw", "coin_transfer", "transfer"},
			Category: domain.CategoryTokenTransfer,
			Base:     0.6,
		},
		{
			Name:     "transaction",
			Keywords: []string{"transaction", "block"},
			Category: domain.CategoryTransaction,
			Base:     0.5,
		},
	}
}

// Classifier scores raw ledger events. It carries no mutable state:
// classifying the same event twice yields identical results.
type Classifier struct {
	rules    []Rule
	policy   Policy
	explorer string
	now      func() time.Time
}

// Option configures the classifier.
type Option func(*Classifier)

// WithRules replaces the stock rule table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// WithExplorerURL sets the explorer base used for transaction and
// account links.
func WithExplorerURL(url string) Option {
	return func(c *Classifier) {
		c.explorer = strings.TrimSuffix(url, "/")
	}
}

// New creates a classifier with the given policy.
func New(policy Policy, opts ...Option) *Classifier {
	c := &Classifier{
		rules:    DefaultRules(),
		policy:   policy,
		explorer: "https://explorer.aptoslabs.com",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify converts one raw event into a domain event. It never fails:
// unmatched or malformed input lands in the generic category with a
// fixed low importance. Importance is clamped to [0, 1].
func (c *Classifier) Classify(raw ledger.Event) domain.Event {
	subject := subjectOf(raw)
	amount := ledger.AmountFromData(raw.Data)

	category := domain.CategoryGeneric
	importance := genericImportance

	loweredType := strings.ToLower(raw.Type)
	for _, rule := range c.rules {
		if matchesAny(loweredType, rule.Keywords) {
			category = rule.Category
			importance = rule.Base
			break
		}
	}

	if amount > c.policy.AmountCutoff && c.policy.AmountCutoff > 0 {
		importance += c.policy.AmountBoost
	}
	if c.watched(raw, subject) {
		importance += c.policy.WatchBoost
	}
	importance = clamp01(importance)

	return domain.Event{
		ID:             EventID(raw.Version, raw.Type, subject),
		Category:       category,
		Importance:     importance,
		Version:        raw.Version,
		Type:           raw.Type,
		Subject:        subject,
		Amount:         amount,
		Payload:        raw.Data,
		TransactionURL: fmt.Sprintf("%s/txn/%d", c.explorer, raw.Version),
		AccountURL:     fmt.Sprintf("%s/account/%s", c.explorer, subject),
		ObservedAt:     c.now().UTC(),
	}
}

// Significant reports whether ev passes the notification gate.
func (c *Classifier) Significant(ev domain.Event) bool {
	return ev.Importance >= c.policy.Threshold
}

// Threshold returns the active significance threshold.
func (c *Classifier) Threshold() float64 {
	return c.policy.Threshold
}

// EventID derives the stable event identity from the (version, type,
// subject) tuple. Distinct tuples yield distinct ids; identical input
// always yields the same id.
func EventID(version int64, eventType, subject string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", version, eventType, subject)))
	return hex.EncodeToString(sum[:16])
}

func subjectOf(raw ledger.Event) string {
	if raw.Account != "" {
		return raw.Account
	}
	for _, key := range []string{"sender", "creator", "account", "owner"} {
		if v, ok := raw.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (c *Classifier) watched(raw ledger.Event, subject string) bool {
	if contains(c.policy.WatchedAccounts, subject) {
		return true
	}
	for _, key := range []string{"sender", "receiver", "creator_address"} {
		if v, ok := raw.Data[key].(string); ok && contains(c.policy.WatchedAccounts, v) {
			return true
		}
	}
	if v, ok := raw.Data["token_name"].(string); ok && contains(c.policy.WatchedTokens, v) {
		return true
	}
	if v, ok := raw.Data["collection_name"].(string); ok && contains(c.policy.WatchedCollection, v) {
		return true
	}
	return false
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
