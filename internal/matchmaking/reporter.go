// Package matchmaking reports finished-match outcomes to the matchmaking
// service that paired the players.
package matchmaking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultMaxTries = 5

// Reporter posts match results to a matchmaking endpoint. Delivery is
// retried with exponential backoff; a report that still fails after the
// final attempt is the caller's to log, never to die over.
type Reporter struct {
	endpoint string
	pid      int
	client   *http.Client
	maxTries uint
	timeout  time.Duration
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClient overrides the HTTP client, used by tests.
func WithClient(client *http.Client) Option {
	return func(r *Reporter) { r.client = client }
}

// WithMaxTries caps the number of delivery attempts.
func WithMaxTries(n uint) Option {
	return func(r *Reporter) { r.maxTries = n }
}

// WithTimeout bounds the total retry window for one report.
func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.timeout = d }
}

// NewReporter creates a reporter for the given matchmaking endpoint. The pid
// identifies this server process to the matchmaking side.
func NewReporter(endpoint string, pid int, opts ...Option) *Reporter {
	r := &Reporter{
		endpoint: endpoint,
		pid:      pid,
		client:   &http.Client{Timeout: 10 * time.Second},
		maxTries: defaultMaxTries,
		timeout:  time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type result struct {
	Type   string `json:"type"`
	PID    int    `json:"pid"`
	GameID int    `json:"game_id"`
	Winner any    `json:"winner"`
}

// ReportResult delivers the final outcome for one game. Client-side request
// construction errors and HTTP 4xx rejections fail immediately; transport
// errors and 5xx responses are retried.
func (r *Reporter) ReportResult(gameID int, winner any) error {
	body, err := json.Marshal(result{
		Type:   "server_finished_game",
		PID:    r.pid,
		GameID: gameID,
		Winner: winner,
	})
	if err != nil {
		return fmt.Errorf("encode match result: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	attempt := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return struct{}{}, backoff.Permanent(fmt.Errorf("matchmaking rejected result: %s", resp.Status))
		default:
			return struct{}{}, fmt.Errorf("matchmaking unavailable: %s", resp.Status)
		}
	}

	_, err = backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil {
		return fmt.Errorf("report game %d result: %w", gameID, err)
	}
	return nil
}
