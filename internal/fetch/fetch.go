// Package fetch retrieves remote HTML pages with a browser-like identity,
// classified retries and bot-challenge detection.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrExhausted     = errors.New("retries exhausted")
	ErrRateLimited   = errors.New("rate limited")
	ErrAccessDenied  = errors.New("access denied")
	ErrBotChallenge  = errors.New("bot challenge detected")
	ErrServerError   = errors.New("server error")
	ErrHTTPStatus    = errors.New("unexpected http status")
	ErrProxyFailed   = errors.New("proxy failed")
	ErrDisallowed    = errors.New("disallowed by robots.txt")
	ErrNoTransport   = errors.New("no transport available")
	ErrInvalidURL    = errors.New("invalid url")
	ErrNotConfigured = errors.New("transport not configured")
)

// Request describes one logical fetch. MaxRetries <= 0 uses the transport
// default; a nil Proxy lets the transport draw from its pool, if any.
type Request struct {
	URL        string
	MaxRetries int
	Proxy      Proxy
}

type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (r *Response) Text() string {
	return string(r.Body)
}

// Prefix returns at most the first n bytes of the body as text.
func (r *Response) Prefix(n int) string {
	if len(r.Body) <= n {
		return string(r.Body)
	}
	return string(r.Body[:n])
}

// Fetcher returns the body of a successful page load or an error after its
// retry budget is spent. Implementations never panic on remote failures.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
	Name() string
	Close() error
}

type Options struct {
	Identity      Identity
	Timeout       time.Duration
	ProxyTimeout  time.Duration
	RatePerSecond float64
	RateBurst     int
	RespectRobots bool
	Markers       []string
	Policy        Policy
	Proxies       *ProxyPool
	Logger        *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Identity:      DefaultIdentity(),
		Timeout:       30 * time.Second,
		ProxyTimeout:  15 * time.Second,
		RatePerSecond: 2,
		RateBurst:     2,
		Markers:       DefaultMarkers(),
		Policy:        DefaultPolicy(),
		Logger:        slog.Default(),
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) limiter() *rate.Limiter {
	if o.RatePerSecond <= 0 {
		return nil
	}
	burst := o.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSecond), burst)
}

func (o Options) timeoutFor(p Proxy) time.Duration {
	if len(p) > 0 && o.ProxyTimeout > 0 {
		return o.ProxyTimeout
	}
	return o.Timeout
}
