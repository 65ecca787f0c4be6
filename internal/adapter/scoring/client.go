// Package scoring talks to the external scoring service that ranks item
// links.
package scoring

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/feedloom/curator/internal/domain"
)

// Client implements domain.Ranker against the scoring service's HTTP API.
// Rank is a single attempt bounded by the client timeout; the scoring
// dispatcher owns the retry policy (there is none). TrainingSet retries,
// because the training sync is an operator action that should survive blips.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a ranker client. timeout bounds every call.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type rankResponse struct {
	Rank float64 `json:"rank"`
}

// Rank asks the scoring service to rank one link. Timeouts, non-2xx statuses
// and malformed bodies all come back wrapped with ErrRanker; the dispatcher
// records the message in the error queue.
func (c *Client) Rank(ctx domain.Context, link string) (float64, error) {
	target := fmt.Sprintf("%s/rank?%s", c.baseURL, url.Values{"url": {link}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("op=ranker.rank: %w: %v", domain.ErrRanker, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("op=ranker.rank: %w: %v", domain.ErrRanker, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("op=ranker.rank: %w: status %d", domain.ErrRanker, resp.StatusCode)
	}

	var out rankResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("op=ranker.rank: %w: invalid response: %v", domain.ErrRanker, err)
	}
	return out.Rank, nil
}

type trainingResponse struct {
	Items []struct {
		URL   string  `json:"url"`
		Score float64 `json:"score"`
	} `json:"items"`
}

// TrainingSet fetches the (url, score) pairs the ranker was trained on.
// Transient failures are retried with exponential backoff; 4xx responses are
// permanent.
func (c *Client) TrainingSet(ctx domain.Context) ([]domain.TrainingItem, error) {
	var items []domain.TrainingItem
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/training_set", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		var out trainingResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&out); err != nil {
			return backoff.Permanent(err)
		}
		items = items[:0]
		for _, it := range out.Items {
			if it.URL == "" {
				continue
			}
			items = append(items, domain.TrainingItem{URL: it.URL, Score: it.Score})
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, fmt.Errorf("op=ranker.training_set: %w: %v", domain.ErrRanker, err)
	}
	return items, nil
}
