package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ExtraHeaders   map[string]string
	Logger         *slog.Logger
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "UTC",
		ExtraHeaders: map[string]string{
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}

	b.context, err = b.NewContext("")
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, err
	}

	return b, nil
}

// NewContext opens an isolated browser context, optionally routed through a proxy.
func (b *Browser) NewContext(proxyServer string) (playwright.BrowserContext, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: b.opts.ExtraHeaders,
	}
	if proxyServer != "" {
		contextOpts.Proxy = &playwright.Proxy{Server: proxyServer}
	}

	bc, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return bc, nil
}

// NewPage opens a page in the default context, or in bc when given.
func (b *Browser) NewPage(bc playwright.BrowserContext) (playwright.Page, error) {
	if bc == nil {
		bc = b.context
	}
	page, err := bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Navigate loads url and returns the document status code (0 when unknown).
func (b *Browser) Navigate(page playwright.Page, url string) (int, error) {
	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return 0, fmt.Errorf("navigation failed: %w", err)
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

// ChallengeCheck reports whether the page is still showing an interstitial.
type ChallengeCheck func(title, content string) bool

// WaitForChallenge polls the page until isChallenge reports false or maxWait
// elapses. JavaScript challenges clear themselves once their script has run,
// so the page is nudged with human-like input while waiting.
func (b *Browser) WaitForChallenge(ctx context.Context, page playwright.Page, isChallenge ChallengeCheck, maxWait time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)
	seen := false

	for {
		title, err := page.Title()
		if err != nil {
			return seen, fmt.Errorf("failed to get page title: %w", err)
		}
		content, err := page.Content()
		if err != nil {
			return seen, fmt.Errorf("failed to get page content: %w", err)
		}

		if !isChallenge(title, content) {
			if seen {
				b.logger.Info("challenge cleared", "title", title)
			}
			return seen, nil
		}

		if !seen {
			b.logger.Info("challenge page detected, waiting", "title", title, "max_wait", maxWait)
			seen = true
		}
		if time.Now().After(deadline) {
			return seen, fmt.Errorf("challenge did not clear within %s", maxWait)
		}

		if err := b.HumanizeInteraction(page); err != nil {
			b.logger.Debug("humanize interaction failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return seen, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// HumanizeInteraction adds human-like behavior to page interactions
func (b *Browser) HumanizeInteraction(page playwright.Page) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := page.Mouse().Move(x, y); err != nil {
			return err
		}
		time.Sleep(time.Millisecond * time.Duration(200+i*100))
	}

	_, err := page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
	return err
}
