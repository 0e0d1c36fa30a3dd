package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// TLSTransport mimics a desktop browser's TLS fingerprint so that edge
// protection accepts the handshake.
type TLSTransport struct {
	opts    Options
	retry   *retrier
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func NewTLSTransport(opts Options) *TLSTransport {
	return &TLSTransport{
		opts:    opts,
		retry:   newRetrier("tls", opts),
		limiter: opts.limiter(),
		clients: make(map[string]*resty.Client),
	}
}

// ProbeTLS verifies the fingerprinting round tripper can be installed.
func ProbeTLS(_ context.Context, opts Options) (Fetcher, error) {
	t := NewTLSTransport(opts)
	c, err := t.clientFor(nil, "https://example.com/")
	if err != nil {
		return nil, err
	}
	if _, ok := c.GetClient().Transport.(*http.Transport); ok {
		return nil, fmt.Errorf("%w: tls fingerprint round tripper not installed", ErrNotConfigured)
	}
	return t, nil
}

func (t *TLSTransport) Name() string { return "tls" }

func (t *TLSTransport) Fetch(ctx context.Context, req Request) (*Response, error) {
	return t.retry.do(ctx, req, t.attempt)
}

func (t *TLSTransport) attempt(ctx context.Context, rawURL string, proxy Proxy) (*Response, error) {
	headers, err := t.opts.Identity.HeadersFor(rawURL)
	if err != nil {
		return nil, err
	}
	// resty decodes gzip transparently only when the header is left to net/http.
	delete(headers, "Accept-Encoding")

	client, err := t.clientFor(proxy, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(rawURL)
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}

func (t *TLSTransport) clientFor(proxy Proxy, rawURL string) (*resty.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := proxy.Key()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	c := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c.SetCookieJar(jar)
	c.SetTimeout(t.opts.timeoutFor(proxy))
	if len(proxy) > 0 {
		proxyURL, err := proxy.URLFor(rawURL)
		if err != nil {
			return nil, err
		}
		c.SetProxy(proxyURL.String())
	}
	// The proxy must be set before wrapping: resty only configures *http.Transport.
	c.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(c.GetClient().Transport)

	if t.limiter != nil {
		limiter := t.limiter
		c.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	t.clients[key] = c
	return c, nil
}

func (t *TLSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.GetClient().CloseIdleConnections()
	}
	return nil
}
