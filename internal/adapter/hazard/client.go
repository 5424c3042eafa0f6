// Package hazard adapts external hazard index feeds to domain.HazardSource.
//
// Each feed is a JSON endpoint queried with lat, lon and optional country,
// year and scenario parameters. It answers with a normalized score:
//
//	{"score": 0.42, "confidence": "high"}
package hazard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

// Client queries one hazard feed.
type Client struct {
	kind       domain.HazardKind
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// NewClient creates a feed client for kind at baseURL.
func NewClient(kind domain.HazardKind, baseURL string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Client {
	return &Client{
		kind:       kind,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		logger:     logger,
	}
}

// Kind returns the hazard this client scores.
func (c *Client) Kind() domain.HazardKind { return c.kind }

type scoreResponse struct {
	Score      *float64 `json:"score"`
	Confidence string   `json:"confidence"`
}

// Score fetches the hazard score at q.
func (c *Client) Score(ctx context.Context, q domain.HazardQuery) (domain.SubScore, error) {
	params := url.Values{
		"lat": {strconv.FormatFloat(q.Lat, 'f', 6, 64)},
		"lon": {strconv.FormatFloat(q.Lon, 'f', 6, 64)},
	}
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	if q.Year > 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}
	if q.Scenario != "" {
		params.Set("scenario", q.Scenario)
	}
	u := c.baseURL + "?" + params.Encode()

	var resp scoreResponse
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.get(ctx, u)
		return err
	})
	if err != nil {
		return domain.SubScore{}, fmt.Errorf("%s hazard: %w", c.kind, err)
	}
	return resp.subScore()
}

func (c *Client) get(ctx context.Context, u string) (scoreResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return scoreResponse{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return scoreResponse{}, fmt.Errorf("hazard request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := fmt.Errorf("hazard feed error: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return scoreResponse{}, retry.Permanent(apiErr)
		}
		return scoreResponse{}, apiErr
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scoreResponse{}, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

func (r scoreResponse) subScore() (domain.SubScore, error) {
	if r.Score == nil {
		return domain.SubScore{}, errors.New("hazard feed response has no score")
	}
	v := *r.Score
	if v < 0 || v > 1 {
		return domain.SubScore{}, fmt.Errorf("hazard score %v outside [0,1]", v)
	}
	return domain.SubScore{Value: v, Confidence: parseConfidence(r.Confidence)}, nil
}

// parseConfidence maps a feed's label onto the domain labels. Unknown or
// missing labels count as medium.
func parseConfidence(s string) domain.Confidence {
	switch domain.Confidence(s) {
	case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
		return domain.Confidence(s)
	default:
		return domain.ConfidenceMedium
	}
}
