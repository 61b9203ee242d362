// Package samsara fetches vehicle trip telemetry from the Samsara fleet API
// and flattens it into the standard telemetry table.
package samsara

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.samsara.com"
	defaultPageLimit = 512
	defaultMaxPages  = 100
)

// ErrMissingToken is returned when no API token was configured.
var ErrMissingToken = eris.New("samsara: api token is required")

// TripFilter narrows a trips query. Empty slices mean no filter.
type TripFilter struct {
	DriverIDs  []string
	VehicleIDs []string
	GroupIDs   []string
}

// TelemetryFetcher retrieves trips between start and end as a telemetry table.
type TelemetryFetcher interface {
	FetchTrips(ctx context.Context, start, end time.Time, f TripFilter) (model.Table, error)
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for each page request.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithRateLimit sets the initial request rate. Zero or less disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(c *Client) {
		c.limiter = resilience.NewAdaptiveLimiter("samsara", rate.Limit(perSec), 1)
	}
}

// WithPagination sets the page size and the maximum number of pages fetched.
func WithPagination(limit, maxPages int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.pageLimit = limit
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// WithCircuitBreaker guards requests with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

var _ TelemetryFetcher = (*Client)(nil)

// Client is a TelemetryFetcher over the REST API.
type Client struct {
	token     string
	baseURL   string
	http      *http.Client
	retry     resilience.RetryConfig
	limiter   *resilience.AdaptiveLimiter
	breaker   *resilience.CircuitBreaker
	pageLimit int
	maxPages  int
}

// NewClient creates a Samsara API client.
func NewClient(token string, opts ...Option) *Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("samsara", "fetch_trips")

	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:     retry,
		limiter:   resilience.NewAdaptiveLimiter("samsara", 5, 1),
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		pageLimit: defaultPageLimit,
		maxPages:  defaultMaxPages,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchTrips pages through /fleet/trips and returns one row per trip in
// TripColumns order.
func (c *Client) FetchTrips(ctx context.Context, start, end time.Time, f TripFilter) (model.Table, error) {
	if c.token == "" {
		return model.Table{}, ErrMissingToken
	}
	if end.Before(start) {
		return model.Table{}, eris.Errorf("samsara: end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	params := url.Values{}
	params.Set("startTime", start.Format(time.RFC3339))
	params.Set("endTime", end.Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(c.pageLimit))
	setList(params, "driverIds", f.DriverIDs)
	setList(params, "vehicleIds", f.VehicleIDs)
	setList(params, "groupIds", f.GroupIDs)

	var trips []Trip
	cursor := ""
	for page := 1; page <= c.maxPages; page++ {
		q := cloneValues(params)
		switch {
		case cursor != "":
			q.Set("after", cursor)
		case page > 1:
			q.Set("page", strconv.Itoa(page))
		}

		resp, err := c.getPage(ctx, q)
		if err != nil {
			return model.Table{}, eris.Wrapf(err, "samsara: fetch trips page %d", page)
		}
		if len(resp.Data) == 0 {
			break
		}
		trips = append(trips, resp.Data...)
		if !resp.Pagination.HasNextPage {
			break
		}
		cursor = resp.Pagination.EndCursor
		if page == c.maxPages {
			zap.L().Warn("samsara: page cap reached, result truncated",
				zap.Int("max_pages", c.maxPages),
				zap.Int("trips", len(trips)),
			)
		}
	}

	zap.L().Info("samsara: fetched trips",
		zap.Int("trips", len(trips)),
		zap.Time("start", start),
		zap.Time("end", end),
	)
	return TripsTable(trips), nil
}

type tripsResponse struct {
	Data       []Trip     `json:"data"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

func (c *Client) getPage(ctx context.Context, q url.Values) (*tripsResponse, error) {
	out, _, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*tripsResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "samsara: rate limiter wait")
		}
		var page *tripsResponse
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			page, err = c.doGet(ctx, "/fleet/trips", q)
			return err
		})
		c.limiter.Observe(err)
		return page, err
	})
	return out, err
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values) (*tripsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "samsara: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "samsara: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "samsara: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError("samsara", resp, body)
	}

	var out tripsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "samsara: unmarshal response")
	}
	return &out, nil
}

func setList(v url.Values, key string, ids []string) {
	if len(ids) > 0 {
		v.Set(key, strings.Join(ids, ","))
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
