package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, policy retry.Policy, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve converts a place name to its centre, bounding box and ISO country
// code. It returns domain.ErrPlaceNotFound when Mapbox has no match.
func (c *Client) Resolve(ctx context.Context, place string) (domain.Place, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return domain.Place{}, domain.ErrPlaceNotFound
	}

	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(place))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"country,region,district,place,locality"},
	}

	var mapboxResp response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		mapboxResp, err = c.doRequest(ctx, u+"?"+params.Encode())
		return err
	})
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		c.logger.Warn("geocode failed", "place", place, "error", err)
		return domain.Place{}, err
	}

	if len(mapboxResp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("not_found").Inc()
		return domain.Place{}, domain.ErrPlaceNotFound
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	return mapboxResp.Features[0].place(), nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return response{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return response{}, retry.Permanent(apiErr)
		}
		return response{}, apiErr
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return response{}, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return mapboxResp, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string        `json:"id"`
	Center     []float64     `json:"center"` // [lon, lat]
	BBox       []float64     `json:"bbox"`   // [minLon, minLat, maxLon, maxLat]
	PlaceName  string        `json:"place_name"`
	Text       string        `json:"text"`
	Relevance  float64       `json:"relevance"`
	Properties properties    `json:"properties"`
	Context    []contextItem `json:"context"`
}

type properties struct {
	ShortCode string `json:"short_code"`
}

type contextItem struct {
	ID        string `json:"id"`
	ShortCode string `json:"short_code"`
}

func (f feature) place() domain.Place {
	p := domain.Place{DisplayName: f.PlaceName, CountryCode: f.countryCode()}
	if len(f.Center) == 2 {
		p.Lon = f.Center[0]
		p.Lat = f.Center[1]
	}
	if len(f.BBox) == 4 {
		p.BoundingBox = &domain.BoundingBox{
			MinLon: f.BBox[0],
			MinLat: f.BBox[1],
			MaxLon: f.BBox[2],
			MaxLat: f.BBox[3],
		}
	}
	return p
}

// countryCode returns the ISO alpha-2 code of the feature's country, either
// from the feature itself or from its context chain.
func (f feature) countryCode() string {
	if strings.HasPrefix(f.ID, "country.") && f.Properties.ShortCode != "" {
		return strings.ToLower(f.Properties.ShortCode)
	}
	for _, c := range f.Context {
		if strings.HasPrefix(c.ID, "country.") {
			return strings.ToLower(c.ShortCode)
		}
	}
	return ""
}
