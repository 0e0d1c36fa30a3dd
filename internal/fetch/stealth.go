package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StealthTransport drives a local Chromium through the DevTools protocol with
// automation fingerprints masked.
type StealthTransport struct {
	bin           string
	headless      bool
	pageTimeout   time.Duration
	challengeWait time.Duration
	retry         *retrier
	detector      *Detector
	identity      Identity

	mu       sync.Mutex
	browsers map[string]*stealthBrowser
}

type stealthBrowser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// ProbeStealth succeeds when a Chromium binary is available locally; it
// never downloads one.
func ProbeStealth(headless bool, challengeWait time.Duration) Probe {
	return func(_ context.Context, opts Options) (Fetcher, error) {
		bin := os.Getenv("ROD_BROWSER_BIN")
		if bin == "" {
			path, ok := launcher.LookPath()
			if !ok {
				return nil, fmt.Errorf("%w: no local chromium for stealth transport", ErrNotConfigured)
			}
			bin = path
		}
		t := &StealthTransport{
			bin:           bin,
			headless:      headless,
			pageTimeout:   opts.Timeout,
			challengeWait: challengeWait,
			retry:         newRetrier("stealth", opts),
			detector:      NewDetector(opts.Markers),
			identity:      opts.Identity,
			browsers:      make(map[string]*stealthBrowser),
		}
		if _, err := t.browserFor(nil, ""); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func (t *StealthTransport) Name() string { return "stealth" }

func (t *StealthTransport) Fetch(ctx context.Context, req Request) (*Response, error) {
	return t.retry.do(ctx, req, t.attempt)
}

func (t *StealthTransport) attempt(ctx context.Context, rawURL string, proxy Proxy) (*Response, error) {
	headers, err := t.identity.HeadersFor(rawURL)
	if err != nil {
		return nil, err
	}

	sb, err := t.browserFor(proxy, rawURL)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(sb.browser)
	if err != nil {
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      headers["User-Agent"],
		AcceptLanguage: headers["Accept-Language"],
	}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	timed := page.Context(ctx).Timeout(t.pageTimeout)
	if err := timed.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := timed.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	html, err := t.waitForContent(ctx, page)
	if err != nil {
		return nil, err
	}

	status := 200
	if res, err := page.Eval(`() => {
		const nav = performance.getEntriesByType('navigation')[0];
		return nav && nav.responseStatus ? nav.responseStatus : 0;
	}`); err == nil && res.Value.Int() > 0 {
		status = res.Value.Int()
	}

	return &Response{URL: rawURL, StatusCode: status, Body: []byte(html)}, nil
}

func (t *StealthTransport) waitForContent(ctx context.Context, page *rod.Page) (string, error) {
	deadline := time.Now().Add(t.challengeWait)
	for {
		html, err := page.HTML()
		if err != nil {
			return "", fmt.Errorf("get page HTML: %w", err)
		}
		title := ""
		if info, err := page.Info(); err == nil {
			title = info.Title
		}
		challenged := strings.Contains(strings.ToLower(title), "just a moment") || t.detector.IsBlocked(html)
		if !challenged || time.Now().After(deadline) {
			return html, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (t *StealthTransport) browserFor(proxy Proxy, rawURL string) (*stealthBrowser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := proxy.Key()
	if sb, ok := t.browsers[key]; ok {
		return sb, nil
	}

	l := launcher.New().Bin(t.bin).Headless(t.headless).Logger(io.Discard)
	if len(proxy) > 0 {
		proxyURL, err := proxy.URLFor(rawURL)
		if err != nil {
			return nil, err
		}
		l = l.Proxy(proxyURL.Host)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	sb := &stealthBrowser{launcher: l, browser: b}
	t.browsers[key] = sb
	return sb, nil
}

func (t *StealthTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for key, sb := range t.browsers {
		if err := sb.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		sb.launcher.Cleanup()
		delete(t.browsers, key)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
