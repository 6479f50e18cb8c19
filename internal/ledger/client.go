// Package ledger is the read-only client for the Aptos fullnode REST
// API: ledger position, account validation, and event-handle streams.
// The node is treated as a black-box source of ordered events keyed by
// an increasing version number.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

const (
	defaultBaseURL   = "https://fullnode.mainnet.aptoslabs.com/v1"
	defaultBatchSize = 25
	maxBatchSize     = 100
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBatchSize sets how many events are requested per page, capped at
// the fullnode's limit of 100.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 && n <= maxBatchSize {
			c.batchSize = n
		}
	}
}

// Client is an HTTP client for the fullnode REST API.
type Client struct {
	baseURL    string
	handles    []EventHandle
	batchSize  int
	httpClient *http.Client
}

// NewClient creates a fullnode client polling the given event handles.
func NewClient(baseURL string, handles []EventHandle, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		handles:    handles,
		batchSize:  defaultBatchSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestVersion returns the node's current ledger version.
func (c *Client) LatestVersion(ctx context.Context) (int64, error) {
	var info ledgerInfo
	if err := c.get(ctx, c.baseURL, &info); err != nil {
		return 0, err
	}

	var version int64
	if _, err := fmt.Sscanf(info.LedgerVersion, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse ledger_version %q: %w", info.LedgerVersion, domain.ErrSourceUnavailable)
	}
	return version, nil
}

// EventsSince returns every event with version greater than since across
// all configured handles, ordered ascending by version. Fullnode pages
// are capped, so the client walks sequence numbers backward per handle
// until it is caught up.
func (c *Client) EventsSince(ctx context.Context, since int64) ([]Event, error) {
	var all []Event
	for _, h := range c.handles {
		events, err := c.handleEventsSince(ctx, h, since)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Version == all[j].Version {
			return all[i].SequenceNumber < all[j].SequenceNumber
		}
		return all[i].Version < all[j].Version
	})
	return all, nil
}

// ValidateAccounts checks which of the given addresses exist on chain.
// Unknown accounts are skipped, not fatal.
func (c *Client) ValidateAccounts(ctx context.Context, accounts []string) ([]string, error) {
	var valid []string
	for _, addr := range accounts {
		url := fmt.Sprintf("%s/accounts/%s", c.baseURL, addr)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("validate account %s: %w: %v", addr, domain.ErrSourceUnavailable, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			valid = append(valid, addr)
		}
	}
	return valid, nil
}

func (c *Client) handleEventsSince(ctx context.Context, h EventHandle, since int64) ([]Event, error) {
	collected := make(map[uint64]Event)

	url := fmt.Sprintf("%s/accounts/%s/events/%s/%s?limit=%d",
		c.baseURL, h.Account, h.Resource, h.Field, c.batchSize)

	for {
		var page []rawEvent
		if err := c.get(ctx, url, &page); err != nil {
			return nil, fmt.Errorf("fetch events %s/%s/%s: %w", h.Account, h.Resource, h.Field, err)
		}
		if len(page) == 0 {
			break
		}

		minSeq := ^uint64(0)
		oldestVersion := int64(-1)
		for _, raw := range page {
			ev, err := raw.toEvent(h.Account)
			if err != nil {
				// One malformed event must not poison the batch.
				continue
			}
			if ev.SequenceNumber < minSeq {
				minSeq = ev.SequenceNumber
			}
			if oldestVersion < 0 || ev.Version < oldestVersion {
				oldestVersion = ev.Version
			}
			if ev.Version > since {
				collected[ev.SequenceNumber] = ev
			}
		}

		// Caught up when this page reaches back to already-processed
		// versions, or when there is no older page to walk.
		if oldestVersion >= 0 && oldestVersion <= since {
			break
		}
		if len(page) < c.batchSize || minSeq == 0 {
			break
		}

		start := uint64(0)
		if minSeq > uint64(c.batchSize) {
			start = minSeq - uint64(c.batchSize)
		}
		url = fmt.Sprintf("%s/accounts/%s/events/%s/%s?start=%d&limit=%d",
			c.baseURL, h.Account, h.Resource, h.Field, start, c.batchSize)
	}

	events := make([]Event, 0, len(collected))
	for _, ev := range collected {
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrSourceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: node returned status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrSourceUnavailable, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
