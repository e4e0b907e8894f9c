// Package feed fetches and decodes the GTFS-RT vehicle and trip update feed.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"bustimes.app/internal/clock"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/logging"
	"bustimes.app/internal/metrics"
)

const (
	// ExcerptLimit caps the body bytes carried by an UpstreamError.
	ExcerptLimit = 300

	DefaultMaxBodyBytes = 25 * 1024 * 1024
	DefaultTimeout      = 10 * time.Second

	apiKeyParam = "api_key"
)

// Config describes the upstream feed.
type Config struct {
	URL    string
	APIKey string
	// Region, when set, is sent as the BODS boundingBox filter.
	Region       geo.BoundingBox
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Client performs one HTTP request and one decode per Fetch. It holds no
// snapshot state and is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient builds a Client with a dedicated HTTP client. m may be nil.
func NewClient(cfg Config, clk clock.Clock, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		clock:      clk,
		metrics:    m,
		logger:     slog.Default().With(slog.String("component", "feed_client")),
	}
}

// newHTTPClient clones http.DefaultTransport so proxy, dial and HTTP/2
// defaults are kept while connection limits stay private to the feed.
func newHTTPClient(timeout time.Duration) *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 10
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Fetch downloads and decodes the current feed.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	start := c.clock.Now()
	snap, err := c.fetch(ctx)
	elapsed := c.clock.Now().Sub(start)

	c.metrics.ObserveFetch(outcome(err), elapsed)
	if err != nil {
		logging.LogError(c.logger, "feed fetch failed", err,
			slog.Duration("elapsed", elapsed))
		return nil, err
	}

	c.metrics.ObserveSnapshot(len(snap.Vehicles), len(snap.TripUpdates), snap.SkippedVehicles)
	if snap.SkippedVehicles > 0 || snap.SkippedUpdates > 0 {
		c.logger.Debug("skipped partial feed records",
			slog.Int("vehicles", snap.SkippedVehicles),
			slog.Int("stop_time_updates", snap.SkippedUpdates))
	}
	return snap, nil
}

func (c *Client) fetch(ctx context.Context) (*Snapshot, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, &ConfigurationError{Reason: "no API key configured"}
	}

	target, err := c.requestURL()
	if err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ConfigurationError{Reason: "build request: " + redactError(err).Error()}
	}
	req.Header.Set("Accept", "application/x-protobuf, application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: redactError(err)}
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, ExcerptLimit))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Excerpt: c.redactKey(string(excerpt))}
	}

	body, err := readBody(resp.Body, c.cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	return Decode(body, c.clock.Now())
}

// requestURL adds the BODS query parameters to the configured URL.
func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL: %w", redactError(err))
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("invalid feed URL: missing scheme or host")
	}

	q := u.Query()
	if r := c.cfg.Region; r != (geo.BoundingBox{}) {
		q.Set("boundingBox", strings.Join([]string{
			formatCoord(r.West), formatCoord(r.South), formatCoord(r.East), formatCoord(r.North),
		}, ","))
	}
	q.Set(apiKeyParam, c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var gzipMagic = []byte{0x1f, 0x8b}

// readBody reads at most limit bytes and gunzips payloads that carry the
// gzip magic bytes.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("read response body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, &UnavailableError{Err: fmt.Errorf("response exceeds size limit of %d bytes", limit)}
	}
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("gzip header: %w", err)}
	}
	defer func() { _ = zr.Close() }()

	plain, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("gunzip: %w", err)}
	}
	if int64(len(plain)) > limit {
		return nil, &UnavailableError{Err: fmt.Errorf("decompressed response exceeds size limit of %d bytes", limit)}
	}
	return plain, nil
}

// redactError strips the API key from any URL carried by err.
func redactError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: RedactURL(urlErr.URL), Err: urlErr.Err}
	}
	return err
}

// redactKey removes the API key, raw or query-escaped, from upstream text
// that may be shown to callers.
func (c *Client) redactKey(s string) string {
	key := c.cfg.APIKey
	if key == "" {
		return s
	}
	s = strings.ReplaceAll(s, key, "REDACTED")
	if escaped := url.QueryEscape(key); escaped != key {
		s = strings.ReplaceAll(s, escaped, "REDACTED")
	}
	return s
}

// RedactURL replaces the api_key query value so the URL can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has(apiKeyParam) {
		q.Set(apiKeyParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func outcome(err error) string {
	var (
		configErr   *ConfigurationError
		upstreamErr *UpstreamError
		decodeErr   *DecodeError
	)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &configErr):
		return metrics.OutcomeConfiguration
	case errors.As(err, &upstreamErr):
		return metrics.OutcomeUpstream
	case errors.As(err, &decodeErr):
		return metrics.OutcomeDecode
	default:
		return metrics.OutcomeUnavailable
	}
}
