// Package sites holds what the per-site extractors share: options and the
// paced detail loop.
package sites

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/ratelimit"
)

// Options configures one site extractor.
type Options struct {
	BaseURL    string
	DelayMin   time.Duration
	DelayMax   time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// ComponentLogger returns the configured logger tagged with component.
func (o Options) ComponentLogger(component string) *slog.Logger {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

// Full reports whether n collected items reach max. A max of zero or less
// means unlimited.
func Full(n, max int) bool {
	return max > 0 && n >= max
}

// ScrapeFunc fetches and parses one detail page.
type ScrapeFunc func(ctx context.Context, url string) (*models.Phone, error)

// Collect scrapes urls in order with a jittered pause between successive
// detail pages. Failed items are logged and skipped. On cancellation the
// phones collected so far are returned with the context error.
func Collect(ctx context.Context, urls []string, opts Options, logger *slog.Logger, scrape ScrapeFunc) ([]*models.Phone, error) {
	phones := make([]*models.Phone, 0, len(urls))
	pacer := ratelimit.NewPacer(opts.DelayMin, opts.DelayMax)

	for i, u := range urls {
		if err := pacer.Wait(ctx); err != nil {
			return phones, err
		}

		logger.Info("scraping phone", "index", i+1, "total", len(urls), "url", u)
		phone, err := scrape(ctx, u)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return phones, ctxErr
			}
			logger.Warn("skipping phone", "url", u, "error", err)
			continue
		}
		phones = append(phones, phone)
	}

	logger.Info("scraped phones", "scraped", len(phones), "total", len(urls))
	return phones, nil
}
