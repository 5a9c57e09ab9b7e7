package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"candlewatch/internal/domain"
	"candlewatch/internal/interval"
	"candlewatch/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxWindow = 90 * 24 * time.Hour
	DefaultRateLimit = 5 // requests per second
	DefaultRateBurst = 5
)

// RESTProvider fetches candles over HTTP from an OHLC history endpoint.
// Every outbound call blocks on a token-bucket limiter first; requests wider
// than the configured window are split into sequential sub-requests and
// concatenated.
type RESTProvider struct {
	name      string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	maxWindow time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
}

// RESTOption configures RESTProvider.
type RESTOption func(*RESTProvider)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(p *RESTProvider) {
		p.client = client
	}
}

// WithRateLimit sets the token-bucket refill rate and burst.
func WithRateLimit(perSecond float64, burst int) RESTOption {
	return func(p *RESTProvider) {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxWindow sets the widest time span a single request may cover.
func WithMaxWindow(d time.Duration) RESTOption {
	return func(p *RESTProvider) {
		p.maxWindow = d
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) RESTOption {
	return func(p *RESTProvider) {
		p.log = log
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) RESTOption {
	return func(p *RESTProvider) {
		p.now = now
	}
}

// NewRESTProvider creates a REST candle provider against baseURL.
func NewRESTProvider(name, baseURL string, opts ...RESTOption) *RESTProvider {
	p := &RESTProvider{
		name:      name,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: DefaultTimeout},
		limiter:   rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst),
		maxWindow: DefaultMaxWindow,
		now:       time.Now,
		log:       logrus.StandardLogger().WithField("component", "provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Compile-time interface check.
var _ Provider = (*RESTProvider)(nil)

// Name identifies the provider.
func (p *RESTProvider) Name() string {
	return p.name
}

// Fetch returns candles for [start, end]. The start bound is clamped to the
// interval's lookback cap instead of erroring; windows wider than maxWindow
// are chunked into sequential sub-requests.
func (p *RESTProvider) Fetch(ctx context.Context, ticker, iv string, start, end time.Time) ([]*domain.Candle, error) {
	iv = interval.Canonicalize(iv)
	start, end = start.UTC(), end.UTC()

	earliest := p.now().UTC().Add(-interval.LookbackCapFor(iv))
	if start.Before(earliest) {
		p.log.WithFields(logrus.Fields{
			"ticker":  ticker,
			"from":    start,
			"clamped": earliest,
		}).Debug("clamping range start to lookback cap")
		start = earliest
	}
	if end.Before(start) {
		return nil, nil
	}

	var out []*domain.Candle
	for chunkStart := start; !chunkStart.After(end); {
		chunkEnd := chunkStart.Add(p.maxWindow)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		candles, err := p.fetchWindow(ctx, ticker, iv, chunkStart, chunkEnd)
		if errors.Is(err, ErrTooMuchData) {
			// Retry once with a halved window before giving up.
			half := chunkStart.Add(chunkEnd.Sub(chunkStart) / 2)
			p.log.WithFields(logrus.Fields{
				"ticker": ticker,
				"from":   chunkStart,
				"to":     half,
			}).Warn("response too large, retrying with halved window")
			candles, err = p.fetchWindow(ctx, ticker, iv, chunkStart, half)
			chunkEnd = half
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s [%s, %s]: %w", ticker, iv, chunkStart.Format(time.RFC3339), chunkEnd.Format(time.RFC3339), err)
		}

		out = append(out, candles...)
		chunkStart = chunkEnd.Add(interval.DeltaFor(iv))
	}

	return out, nil
}

// candleRecord is the upstream wire format for one bar.
type candleRecord struct {
	Ts     int64   `json:"t"` // unix seconds
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// fetchWindow performs a single rate-limited HTTP request.
func (p *RESTProvider) fetchWindow(ctx context.Context, ticker, iv string, start, end time.Time) (candles []*domain.Candle, err error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	startedAt := time.Now()
	defer func() {
		observability.RecordProviderFetch(p.name, time.Since(startedAt).Seconds(), err)
	}()

	q := url.Values{}
	q.Set("symbol", ticker)
	q.Set("interval", iv)
	q.Set("from", strconv.FormatInt(start.Unix(), 10))
	q.Set("to", strconv.FormatInt(end.Unix(), 10))

	reqURL := fmt.Sprintf("%s/v1/candles?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		observability.RecordRateLimited(p.name)
		return nil, &RateLimitError{
			Provider:   p.name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case http.StatusRequestEntityTooLarge:
		return nil, ErrTooMuchData
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var records []candleRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("unmarshal candles: %w", err)
	}

	candles = make([]*domain.Candle, 0, len(records))
	for _, r := range records {
		candles = append(candles, &domain.Candle{
			Ticker:   ticker,
			Interval: iv,
			Ts:       time.Unix(r.Ts, 0).UTC(),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
		})
	}

	return candles, nil
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
