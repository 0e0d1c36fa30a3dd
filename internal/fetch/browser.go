package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/phone-spec-scraper/internal/browser"
)

// BrowserTransport renders pages in headless Chromium and waits out
// JavaScript challenges before returning the DOM.
type BrowserTransport struct {
	browser       *browser.Browser
	retry         *retrier
	detector      *Detector
	challengeWait time.Duration

	mu       sync.Mutex
	contexts map[string]playwright.BrowserContext
}

func NewBrowserTransport(b *browser.Browser, opts Options, challengeWait time.Duration) *BrowserTransport {
	if challengeWait <= 0 {
		challengeWait = 15 * time.Second
	}
	return &BrowserTransport{
		browser:       b,
		retry:         newRetrier("browser", opts),
		detector:      NewDetector(opts.Markers),
		challengeWait: challengeWait,
		contexts:      make(map[string]playwright.BrowserContext),
	}
}

// ProbeBrowser starts Playwright and Chromium; it fails when the driver or
// browser is not installed.
func ProbeBrowser(bopts *browser.Options, challengeWait time.Duration) Probe {
	return func(_ context.Context, opts Options) (Fetcher, error) {
		b, err := browser.New(bopts)
		if err != nil {
			return nil, err
		}
		return NewBrowserTransport(b, opts, challengeWait), nil
	}
}

func (t *BrowserTransport) Name() string { return "browser" }

func (t *BrowserTransport) Fetch(ctx context.Context, req Request) (*Response, error) {
	return t.retry.do(ctx, req, t.attempt)
}

func (t *BrowserTransport) attempt(ctx context.Context, rawURL string, proxy Proxy) (*Response, error) {
	bc, err := t.contextFor(proxy, rawURL)
	if err != nil {
		return nil, err
	}

	page, err := t.browser.NewPage(bc)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	status, err := t.browser.Navigate(page, rawURL)
	if err != nil {
		return nil, err
	}

	if _, err := t.browser.WaitForChallenge(ctx, page, t.isChallenge, t.challengeWait); err != nil {
		// The retrier classifies whatever the page shows now.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}
	if status == 0 {
		status = 200
	}

	return &Response{URL: page.URL(), StatusCode: status, Body: []byte(content)}, nil
}

func (t *BrowserTransport) isChallenge(title, content string) bool {
	if strings.Contains(strings.ToLower(title), "just a moment") {
		return true
	}
	return t.detector.IsBlocked(content)
}

func (t *BrowserTransport) contextFor(proxy Proxy, rawURL string) (playwright.BrowserContext, error) {
	if len(proxy) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if bc, ok := t.contexts[proxy.Key()]; ok {
		return bc, nil
	}
	proxyURL, err := proxy.URLFor(rawURL)
	if err != nil {
		return nil, err
	}
	bc, err := t.browser.NewContext(proxyURL.String())
	if err != nil {
		return nil, err
	}
	t.contexts[proxy.Key()] = bc
	return bc, nil
}

func (t *BrowserTransport) Close() error {
	t.mu.Lock()
	for key, bc := range t.contexts {
		bc.Close()
		delete(t.contexts, key)
	}
	t.mu.Unlock()
	return t.browser.Close()
}
