package fetch

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

// HTTPTransport is the plain fetch transport: net/http with a browser
// identity, cookie persistence and compressed body decoding.
type HTTPTransport struct {
	opts    Options
	retry   *retrier
	limiter *rate.Limiter
	robots  *RobotsChecker

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPTransport(opts Options) *HTTPTransport {
	t := &HTTPTransport{
		opts:    opts,
		retry:   newRetrier("plain", opts),
		limiter: opts.limiter(),
		clients: make(map[string]*http.Client),
	}
	if opts.RespectRobots {
		t.robots = NewRobotsChecker(nil)
	}
	return t
}

func (t *HTTPTransport) Name() string { return "plain" }

func (t *HTTPTransport) Fetch(ctx context.Context, req Request) (*Response, error) {
	return t.retry.do(ctx, req, t.attempt)
}

func (t *HTTPTransport) attempt(ctx context.Context, rawURL string, proxy Proxy) (*Response, error) {
	if t.robots != nil {
		allowed, err := t.robots.IsAllowed(ctx, t.opts.Identity.UserAgent, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	client, err := t.clientFor(proxy, rawURL)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if err := t.opts.Identity.apply(httpReq); err != nil {
		return nil, err
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &Response{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: body}, nil
}

func (t *HTTPTransport) clientFor(proxy Proxy, rawURL string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := proxy.Key()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if len(proxy) > 0 {
		proxyURL, err := proxy.URLFor(rawURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &http.Client{
		Transport: base,
		Jar:       jar,
		Timeout:   t.opts.timeoutFor(proxy),
	}
	t.clients[key] = c
	return c, nil
}

func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
	return nil
}

// ReadBody reads and decompresses an HTTP response body. The identity
// advertises gzip and brotli itself, so net/http leaves decoding to us.
func ReadBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		// RFC 9110 deflate is zlib-wrapped; some servers send raw DEFLATE.
		buf := bufio.NewReader(resp.Body)
		if hdr, err := buf.Peek(2); err == nil && isZlibHeader(hdr) {
			zr, err := zlib.NewReader(buf)
			if err != nil {
				return nil, fmt.Errorf("zlib reader: %w", err)
			}
			defer zr.Close()
			reader = zr
		} else {
			fl := flate.NewReader(buf)
			defer fl.Close()
			reader = fl
		}
	default:
		reader = resp.Body
	}
	return io.ReadAll(reader)
}

func isZlibHeader(hdr []byte) bool {
	return hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0
}
