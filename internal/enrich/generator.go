package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

const systemPrompt = "You are a blockchain analyst writing short, neutral, " +
	"informative summaries of on-chain events for a notification feed. " +
	"No speculation, no financial advice, at most two sentences."

// Completer is the black-box text-completion dependency.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Generator produces one narrative per event. An enrichment failure
// never drops the event: the generator substitutes a category-templated
// fallback instead.
type Generator struct {
	completer   Completer
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewGenerator creates a generator over the given completion client.
// A zero timeout uses DefaultTimeout.
func NewGenerator(completer Completer, temperature float64, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		completer:   completer,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

// Narrative returns the generated explanation for ev, or the templated
// fallback if the completion call fails or times out.
func (g *Generator) Narrative(ctx context.Context, ev domain.Event) string {
	if g.completer == nil {
		return Fallback(ev)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, _ := json.Marshal(ev.Payload)
	userPrompt := fmt.Sprintf(
		"Event type: %s\nCategory: %s\nLedger version: %d\nImportance (0-1): %.2f\nPayload: %s\n\nSummarize what happened.",
		ev.Type, ev.Category, ev.Version, ev.Importance, payload)

	text, err := g.completer.Complete(callCtx, systemPrompt, userPrompt, g.temperature)
	if err != nil {
		g.logger.Warn("enrichment failed, using fallback narrative",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()))
		return Fallback(ev)
	}
	return text
}

// Fallback renders a fixed per-category narrative used when generation
// is unavailable.
func Fallback(ev domain.Event) string {
	switch ev.Category {
	case domain.CategoryTokenTransfer:
		if ev.Amount > 0 {
			return fmt.Sprintf("Token transfer of %s observed at ledger version %d.", formatAmount(ev.Amount), ev.Version)
		}
		return fmt.Sprintf("Token transfer observed at ledger version %d.", ev.Version)
	case domain.CategoryNFT:
		return fmt.Sprintf("NFT activity (%s) observed at ledger version %d.", ev.Type, ev.Version)
	case domain.CategoryContract:
		return fmt.Sprintf("Contract event (%s) observed at ledger version %d.", ev.Type, ev.Version)
	case domain.CategoryTransaction:
		return fmt.Sprintf("Notable transaction observed at ledger version %d.", ev.Version)
	default:
		return fmt.Sprintf("On-chain activity (%s) observed at ledger version %d.", ev.Type, ev.Version)
	}
}

func formatAmount(amount uint64) string {
	switch {
	case amount >= 1_000_000:
		return fmt.Sprintf("%.2fM units", float64(amount)/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("%.2fK units", float64(amount)/1_000)
	default:
		return fmt.Sprintf("%d units", amount)
	}
}
