package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

type Kind int

const (
	KindSuccess Kind = iota
	KindNotConfigured
	KindUpstreamError
	KindNetworkError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotConfigured:
		return "not_configured"
	case KindUpstreamError:
		return "upstream_error"
	default:
		return "network_error"
	}
}

var (
	ErrBreakerOpen = errors.New("circuit breaker open")
	ErrNoProviders = errors.New("no providers enabled")
)

const (
	maxBodyBytes = 2 << 20
	maxErrorBody = 512
)

// Result is the classified outcome of one lookup. HTTP failures are values, not errors.
type Result struct {
	Provider   string
	Kind       Kind
	Payload    []byte // KindSuccess
	StatusCode int    // KindUpstreamError
	Body       string // KindUpstreamError, truncated
	Reason     string // KindNotConfigured
	Err        error  // KindNetworkError
}

func (r Result) OK() bool { return r.Kind == KindSuccess }

func (r Result) String() string {
	switch r.Kind {
	case KindSuccess:
		return fmt.Sprintf("provider=%s success bytes=%d", r.Provider, len(r.Payload))
	case KindNotConfigured:
		return fmt.Sprintf("provider=%s not configured: %s", r.Provider, r.Reason)
	case KindUpstreamError:
		return fmt.Sprintf("provider=%s status=%d body=%q", r.Provider, r.StatusCode, r.Body)
	default:
		return fmt.Sprintf("provider=%s network error: %v", r.Provider, r.Err)
	}
}

func Success(provider string, payload []byte) Result {
	return Result{Provider: provider, Kind: KindSuccess, Payload: payload}
}

func NotConfigured(provider, reason string) Result {
	return Result{Provider: provider, Kind: KindNotConfigured, Reason: reason}
}

func UpstreamError(provider string, status int, body []byte) Result {
	return Result{Provider: provider, Kind: KindUpstreamError, StatusCode: status, Body: truncate(body, maxErrorBody)}
}

// truncate cuts b to at most n bytes without splitting a rune.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

func NetworkError(provider string, err error) Result {
	return Result{Provider: provider, Kind: KindNetworkError, Err: err}
}

// Provider looks up a validated tax id in one external registry.
type Provider interface {
	Name() string
	Ready() bool
	Lookup(ctx context.Context, inn string) Result
}

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	Name          string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RPS           float64 // <= 0 means unpaced
	FailThreshold int
	OpenFor       time.Duration
	Retry         RetryPolicy
	HTTPClient    *http.Client // optional, Timeout is applied when nil
}

// endpoint holds the transport shared by concrete providers: pacing, breaker and retry.
type endpoint struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	br      *Breaker
	retry   RetryPolicy
}

func newEndpoint(o Options) endpoint {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 1
	}
	if o.Retry.InitialInterval <= 0 {
		o.Retry.InitialInterval = 200 * time.Millisecond
	}
	if o.Retry.MaxInterval <= 0 {
		o.Retry.MaxInterval = 2 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}

	limit := rate.Inf
	if o.RPS > 0 {
		limit = rate.Limit(o.RPS)
	}

	return endpoint{
		name:    o.Name,
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		apiKey:  strings.TrimSpace(o.APIKey),
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		br:      NewBreaker(o.FailThreshold, o.OpenFor),
		retry:   o.Retry,
	}
}

func (e *endpoint) Name() string { return e.name }
func (e *endpoint) Ready() bool  { return e.apiKey == "" || e.br.Ready() }

// retryableStatus marks throttling and server-side failures.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// call runs build+Do with bounded exponential backoff. Only read-only lookups go through here.
func (e *endpoint) call(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) Result {
	if e.apiKey == "" {
		return NotConfigured(e.name, "api key is not set")
	}
	if !e.br.TryAcquire() {
		return NetworkError(e.name, ErrBreakerOpen)
	}

	var last Result
	op := func() (Result, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			last = NetworkError(e.name, err)
			return last, backoff.Permanent(err)
		}

		req, err := build(ctx)
		if err != nil {
			last = NetworkError(e.name, err)
			return last, backoff.Permanent(err)
		}

		res, err := e.client.Do(req)
		if err != nil {
			last = NetworkError(e.name, err)
			return last, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			last = NetworkError(e.name, fmt.Errorf("read body: %w", err))
			return last, err
		}

		if res.StatusCode/100 == 2 {
			last = Success(e.name, body)
			return last, nil
		}

		last = UpstreamError(e.name, res.StatusCode, body)
		statusErr := fmt.Errorf("provider=%s status=%d", e.name, res.StatusCode)
		if retryableStatus(res.StatusCode) {
			return last, statusErr
		}
		return last, backoff.Permanent(statusErr)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = e.retry.InitialInterval
	expBackoff.MaxInterval = e.retry.MaxInterval

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
	)
	if err != nil && last.OK() {
		// no attempt completed (context ended first)
		last = NetworkError(e.name, err)
	}

	switch {
	case last.OK():
		e.br.OnSuccess()
	case ctx.Err() != nil:
		// caller gave up (race loser, update deadline); not the provider's fault
		e.br.OnAbandon()
	default:
		e.br.OnFailure()
	}
	return last
}
