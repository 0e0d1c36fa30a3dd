package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/phone-spec-scraper/internal/ratelimit"
)

// Policy holds the retry budget and the delay applied after each failure class.
type Policy struct {
	MaxRetries    int
	RateLimitBase time.Duration
	BlockDelayMin time.Duration
	BlockDelayMax time.Duration
	RetryDelayMin time.Duration
	RetryDelayMax time.Duration
	NetworkDelay  time.Duration
	ProxyDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		RateLimitBase: 5 * time.Second,
		BlockDelayMin: 5 * time.Second,
		BlockDelayMax: 10 * time.Second,
		RetryDelayMin: 1 * time.Second,
		RetryDelayMax: 3 * time.Second,
		NetworkDelay:  1 * time.Second,
		ProxyDelay:    250 * time.Millisecond,
	}
}

// attemptFunc performs a single request. A nil response with an error means
// no HTTP exchange took place.
type attemptFunc func(ctx context.Context, rawURL string, proxy Proxy) (*Response, error)

// retrier runs the attempt loop shared by every transport so status
// classification and backoff are identical across them.
type retrier struct {
	policy   Policy
	detector *Detector
	proxies  *ProxyPool
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRetrier(name string, opts Options) *retrier {
	return &retrier{
		policy:   opts.Policy,
		detector: NewDetector(opts.Markers),
		proxies:  opts.Proxies,
		logger:   opts.logger().With("component", "fetch", "transport", name),
		sleep:    ratelimit.Sleep,
	}
}

func (r *retrier) do(ctx context.Context, req Request, attempt attemptFunc) (*Response, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.policy.MaxRetries
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		proxy := req.Proxy
		if len(proxy) == 0 {
			if p, ok := r.proxies.Next(); ok {
				proxy = p
			}
		}

		resp, err := attempt(ctx, req.URL, proxy)
		delay, classified := r.classify(ctx, req.URL, i, proxy, resp, err)
		if classified == nil {
			r.logger.Debug("fetched page", "url", req.URL, "status", resp.StatusCode, "bytes", len(resp.Body))
			return resp, nil
		}
		lastErr = classified
		if terminal(ctx, classified) {
			return nil, classified
		}
		if i == maxRetries-1 {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, req.URL, maxRetries, lastErr)
}

func (r *retrier) classify(ctx context.Context, rawURL string, attempt int, proxy Proxy, resp *Response, err error) (time.Duration, error) {
	log := r.logger.With("url", rawURL, "attempt", attempt+1)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(err, ErrDisallowed), errors.Is(err, ErrInvalidURL):
			return 0, err
		case len(proxy) > 0:
			r.proxies.MarkFailed(proxy)
			log.Warn("proxy request failed", "proxy", proxy.Key(), "error", err)
			return r.policy.ProxyDelay, fmt.Errorf("%w: %w", ErrProxyFailed, err)
		default:
			log.Warn("request failed", "error", err)
			return r.policy.NetworkDelay, err
		}
	}

	switch status := resp.StatusCode; {
	case status == http.StatusTooManyRequests:
		backoff := r.policy.RateLimitBase * time.Duration(1<<attempt)
		log.Warn("rate limited", "backoff", backoff)
		return backoff, ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		log.Warn("access denied, site is blocking the scraper", "status", status)
		return ratelimit.Jitter(r.policy.RetryDelayMin, r.policy.RetryDelayMax), fmt.Errorf("%w: status %d", ErrAccessDenied, status)
	case status >= 500:
		log.Warn("server error", "status", status)
		return ratelimit.Jitter(r.policy.RetryDelayMin, r.policy.RetryDelayMax), fmt.Errorf("%w: status %d", ErrServerError, status)
	case status >= 400:
		log.Warn("unexpected status", "status", status)
		return 0, fmt.Errorf("%w: %d", ErrHTTPStatus, status)
	}

	if marker, ok := r.detector.Match(resp.Text()); ok {
		log.Warn("bot challenge detected", "marker", marker)
		return ratelimit.Jitter(r.policy.BlockDelayMin, r.policy.BlockDelayMax), ErrBotChallenge
	}
	return 0, nil
}

func terminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrHTTPStatus) || errors.Is(err, ErrDisallowed) || errors.Is(err, ErrInvalidURL)
}
