// Package timeref computes the shared session epoch by querying an external
// time authority once per game start. The exchange is a single request and
// response; participants receive the resulting epoch so they can compute
// elapsed session time without further round trips.
package timeref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"duoplay/server/internal/logging"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Kind selects which clock representation the authority should return.
type Kind string

const (
	// KindEpochMillis requests the authority's current epoch in milliseconds.
	KindEpochMillis Kind = "epoch_millis"
	// KindMonotonicNanos requests the authority's monotonic reading in nanoseconds.
	KindMonotonicNanos Kind = "monotonic_nanos"
)

// response mirrors the authority's JSON reply; only one field is populated
// depending on the requested kind.
type response struct {
	EpochMillis    int64 `json:"epoch_millis,omitempty"`
	MonotonicNanos int64 `json:"monotonic_nanos,omitempty"`
}

// Option configures optional Client behaviour at construction time.
type Option func(*Client)

// WithClock injects a deterministic local clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Client performs the time reference exchange against a configured authority.
type Client struct {
	url  string
	http *retryablehttp.Client
	log  *logging.Logger
	now  func() time.Time
}

// New constructs a client for the given authority URL. An empty URL disables
// the exchange; SharedEpoch then falls back to the local clock.
func New(url string, timeout time.Duration, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.L()
	}
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.RetryWaitMin = 50 * time.Millisecond
	httpClient.RetryWaitMax = 250 * time.Millisecond
	httpClient.HTTPClient.Timeout = timeout
	//1.- Silence the retry client's own logging; faults surface through ours.
	httpClient.Logger = nil

	client := &Client{
		url:  strings.TrimSpace(url),
		http: httpClient,
		log:  logger,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// SharedEpoch returns the common start timestamp (epoch milliseconds) for a
// session. The authority's answer is adjusted by half the round trip so both
// participants receive a midpoint-corrected epoch. When the authority is
// unreachable the local clock is used instead; a game start must never block
// on the collaborator.
func (c *Client) SharedEpoch(ctx context.Context) int64 {
	if c == nil {
		return time.Now().UnixMilli()
	}
	if c.url == "" {
		return c.now().UnixMilli()
	}
	epoch, err := c.fetchEpoch(ctx)
	if err != nil {
		c.log.Warn("time reference unavailable, using local clock", logging.Error(err))
		return c.now().UnixMilli()
	}
	return epoch
}

// Offset reports the local-clock-to-authority offset in milliseconds. Callers
// broadcast this once so clients can convert local readings independently.
func (c *Client) Offset(ctx context.Context) (int64, error) {
	if c == nil || c.url == "" {
		return 0, fmt.Errorf("time reference not configured")
	}
	epoch, err := c.fetchEpoch(ctx)
	if err != nil {
		return 0, err
	}
	return epoch - c.now().UnixMilli(), nil
}

func (c *Client) fetchEpoch(ctx context.Context) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url+"?kind="+string(KindEpochMillis), nil)
	if err != nil {
		return 0, fmt.Errorf("build time reference request: %w", err)
	}
	//1.- Bracket the exchange with local readings for midpoint correction.
	before := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("time reference exchange: %w", err)
	}
	after := c.now()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("time reference status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return 0, fmt.Errorf("read time reference response: %w", err)
	}
	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode time reference response: %w", err)
	}
	if parsed.EpochMillis == 0 {
		return 0, fmt.Errorf("time reference response missing epoch")
	}
	//2.- Credit the authority with half the round trip elapsed since sampling.
	roundTrip := after.Sub(before)
	return parsed.EpochMillis + roundTrip.Milliseconds()/2, nil
}
