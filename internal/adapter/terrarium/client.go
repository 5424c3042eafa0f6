// Package terrarium fetches Terrarium-encoded elevation tiles over HTTP.
package terrarium

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

// DefaultURLTemplate is the public AWS terrain tile bucket.
const DefaultURLTemplate = "https://s3.amazonaws.com/elevation-tiles-prod/terrarium/{z}/{x}/{y}.png"

// maxTileBytes bounds a single tile download.
const maxTileBytes = 4 << 20

// Client implements tilecache.TileFetcher.
type Client struct {
	template   string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// NewClient creates a tile client. The template must contain the {z}, {x}
// and {y} placeholders. Per-request deadlines come from the caller's context.
func NewClient(template string, policy retry.Policy, logger *slog.Logger) (*Client, error) {
	if template == "" {
		template = DefaultURLTemplate
	}
	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(template, p) {
			return nil, fmt.Errorf("tile url template %q is missing %s", template, p)
		}
	}
	return &Client{
		template:   template,
		httpClient: &http.Client{},
		policy:     policy,
		logger:     logger,
	}, nil
}

// FetchTile downloads the PNG bytes of tile z/x/y.
func (c *Client) FetchTile(ctx context.Context, z, x, y int) ([]byte, error) {
	u := c.url(z, x, y)

	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, u)
		return err
	})
	if err != nil {
		c.logger.Debug("tile fetch failed", "z", z, "x", x, "y", y, "error", err)
		return nil, err
	}
	return body, nil
}

func (c *Client) url(z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(c.template)
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("tile server returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("read tile body: %w", err)
	}
	return body, nil
}
