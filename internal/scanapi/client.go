// Package scanapi is the HTTP client for the remote scanning backend: symbol
// listing (GET /pairs) and scan execution (POST /scan).
package scanapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"signalpulse/internal/strategy"
	"signalpulse/logger"
	"signalpulse/models"
)

const (
	defaultTimeout  = 30 * time.Second
	maxBodyBytes    = 8 << 20
	requestIDHeader = "X-Request-ID"
)

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to the scan backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: timeout,
		http:    hc,
		log:     logger.GetLogger(),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// BaseURL returns the API base the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type pairsResponse struct {
	Pairs []string `json:"pairs"`
	Error string   `json:"error"`
}

// ListSymbols fetches the top symbols for venue. Every failure, including an
// empty list, is returned as a *models.FetchError.
func (c *Client) ListSymbols(ctx context.Context, venue models.Venue, limit int) ([]string, error) {
	fail := func(err error) error {
		return &models.FetchError{Venue: venue, Source: c.baseURL, Err: err}
	}
	if limit <= 0 {
		return nil, fail(models.ErrInvalidLimit)
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("exchange", string(venue))
	endpoint := c.baseURL + "/pairs?" + q.Encode()

	log := c.log.WithComponent("scanapi").WithFields(logger.Fields{"operation": "list_symbols", "venue": venue, "limit": limit})
	start := time.Now()

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.WithError(err).Warn("symbol listing failed")
		return nil, fail(err)
	}

	var resp pairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fail(fmt.Errorf("decode pairs: %w", err))
	}
	if resp.Error != "" {
		log.WithFields(logger.Fields{"backend_error": resp.Error}).Warn("backend reported listing error")
		return nil, fail(&models.BackendError{Message: resp.Error})
	}
	if len(resp.Pairs) == 0 {
		return nil, fail(models.ErrEmptyPayload)
	}

	logger.LogPerformanceEntry(log, "scanapi", "list_symbols", time.Since(start), logger.Fields{"symbols": len(resp.Pairs)})
	return resp.Pairs, nil
}

type scanRequest struct {
	Symbols  []string        `json:"symbols"`
	Config   strategy.Config `json:"config"`
	Exchange models.Venue    `json:"exchange"`
}

type scanResponse struct {
	Results []map[string]json.RawMessage `json:"results"`
	Error   string                       `json:"error"`
}

// Scan posts {symbols, config, exchange} and returns the decoded results.
// An empty symbol list returns immediately without a request. A missing or
// empty results array is a successful empty scan.
func (c *Client) Scan(ctx context.Context, venue models.Venue, symbols []string, cfg strategy.Config) ([]models.ScanResult, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	fail := func(err error) error {
		return &models.ScanError{Venue: venue, Err: err}
	}

	payload, err := json.Marshal(scanRequest{Symbols: symbols, Config: cfg, Exchange: venue})
	if err != nil {
		return nil, fail(fmt.Errorf("encode scan request: %w", err))
	}

	log := c.log.WithComponent("scanapi").WithFields(logger.Fields{"operation": "scan", "venue": venue, "symbols": len(symbols)})
	start := time.Now()

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/scan", payload)
	if err != nil {
		log.WithError(err).Warn("scan request failed")
		return nil, fail(err)
	}

	var resp scanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fail(fmt.Errorf("decode scan response: %w", err))
	}
	if resp.Error != "" {
		return nil, fail(&models.BackendError{Message: resp.Error})
	}

	results := make([]models.ScanResult, 0, len(resp.Results))
	for i, raw := range resp.Results {
		r, err := decodeResult(raw)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"index": i}).Warn("skipping malformed result")
			continue
		}
		if r.Exchange == "" {
			r.Exchange = string(venue)
		}
		results = append(results, r)
	}

	logger.LogPerformanceEntry(log, "scanapi", "scan", time.Since(start), logger.Fields{"results": len(results)})
	return results, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &models.StatusError{Code: res.StatusCode, Status: res.Status}
	}
	return body, nil
}
