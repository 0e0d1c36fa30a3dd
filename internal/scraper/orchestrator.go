package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

const NotAvailable = "N/A"

// Orchestrator fans a query out to the registered sites and aggregates the
// per-site outcomes into one envelope.
type Orchestrator struct {
	sites    map[models.Site]Site
	parallel bool
	recorder Recorder
	method   string
	logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithParallel searches distinct sites concurrently.
func WithParallel(parallel bool) Option {
	return func(o *Orchestrator) {
		o.parallel = parallel
	}
}

// WithRecorder hands every phone of a successful site result to r, tagged
// with method.
func WithRecorder(r Recorder, method string) Option {
	return func(o *Orchestrator) {
		o.recorder = r
		o.method = method
	}
}

func New(logger *slog.Logger, sites []Site, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		sites:  make(map[models.Site]Site, len(sites)),
		logger: logger.With("component", "orchestrator"),
	}
	for _, s := range sites {
		o.sites[s.Name()] = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sites returns the registered site tags in declared order.
func (o *Orchestrator) Sites() []models.Site {
	present := make(map[models.Site]bool, len(o.sites))
	for s := range o.sites {
		present[s] = true
	}
	return models.OrderSites(present)
}

// Site returns the extractor registered for tag.
func (o *Orchestrator) Site(tag models.Site) (Site, bool) {
	s, ok := o.sites[tag]
	return s, ok
}

// SearchAll searches every enabled site and never fails: a site that errors
// or panics is reported as an error entry. Sites are visited in declared
// order regardless of the order of enabled.
func (o *Orchestrator) SearchAll(ctx context.Context, query string, enabled []models.Site, maxPerSite int) *models.Envelope {
	requested := make(map[models.Site]bool, len(enabled))
	for _, s := range enabled {
		requested[s] = true
	}
	order := models.OrderSites(requested)

	o.logger.Info("searching sites", "query", query, "sites", order, "max_per_site", maxPerSite, "parallel", o.parallel)

	results := make([]*models.SiteResult, len(order))
	if o.parallel {
		var g errgroup.Group
		for i, tag := range order {
			g.Go(func() error {
				results[i] = o.searchSite(ctx, tag, query, maxPerSite)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, tag := range order {
			results[i] = o.searchSite(ctx, tag, query, maxPerSite)
		}
	}

	env := models.NewEnvelope(query)
	for i, tag := range order {
		env.Set(tag, results[i])
		if results[i].Status == models.StatusSuccess {
			o.record(ctx, query, results[i].Phones)
		}
	}

	o.logger.Info("search complete", "query", query, "total_found", env.TotalFound)
	return env
}

func (o *Orchestrator) searchSite(ctx context.Context, tag models.Site, query string, maxResults int) (result *models.SiteResult) {
	site, ok := o.sites[tag]
	if !ok {
		return models.ErrorResult(ErrSiteNotConfigured)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("site panicked", "site", tag, "panic", r, "stack", string(debug.Stack()))
			result = models.ErrorResult(fmt.Errorf("%s: panic: %v", tag, r))
		}
	}()

	phones, err := site.Search(ctx, query, maxResults)
	if err != nil {
		o.logger.Warn("site search failed", "site", tag, "error", err)
		return models.ErrorResult(err)
	}

	o.logger.Info("site search finished", "site", tag, "count", len(phones))
	return models.SuccessResult(phones)
}

func (o *Orchestrator) record(ctx context.Context, query string, phones []*models.Phone) {
	if o.recorder == nil {
		return
	}
	for _, p := range phones {
		o.recorder.Record(ctx, query, o.method, p)
	}
}

// SiteFor resolves the extractor responsible for a phone URL by host suffix.
func (o *Orchestrator) SiteFor(rawURL string) (Site, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	host := strings.ToLower(u.Hostname())

	for _, tag := range o.Sites() {
		s := o.sites[tag]
		domain := s.Domain()
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, host)
}

// GetDetails scrapes one phone page with the extractor owning its host.
func (o *Orchestrator) GetDetails(ctx context.Context, rawURL string) (*models.Phone, error) {
	site, err := o.SiteFor(rawURL)
	if err != nil {
		return nil, err
	}
	phone, err := site.ScrapeDetail(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get details from %s: %w", site.Name(), err)
	}
	return phone, nil
}

// GetDetailsMany scrapes several pages in order; failures are reported per
// URL and the successful phones are returned.
func (o *Orchestrator) GetDetailsMany(ctx context.Context, urls []string) ([]*models.Phone, map[string]error) {
	phones := make([]*models.Phone, 0, len(urls))
	failed := make(map[string]error)
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			failed[u] = err
			continue
		}
		p, err := o.GetDetails(ctx, u)
		if err != nil {
			failed[u] = err
			continue
		}
		phones = append(phones, p)
	}
	return phones, failed
}

// Compare lines up the specifications of phones. Keys are the sorted union
// of all spec labels; a phone lacking a key gets N/A.
func Compare(phones []*models.Phone) *models.Comparison {
	keySet := make(map[string]bool)
	for _, p := range phones {
		for k := range p.Specs {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := &models.Comparison{
		Phones:          make([]models.ComparedPhone, 0, len(phones)),
		SpecsComparison: make(map[string][]string, len(keys)),
		Keys:            keys,
	}
	for _, p := range phones {
		c.Phones = append(c.Phones, models.ComparedPhone{
			Name:   p.Name(),
			Price:  p.Price,
			Rating: p.Rating,
			Source: p.Source,
		})
	}
	for _, k := range keys {
		values := make([]string, len(phones))
		for i, p := range phones {
			if v, ok := p.Specs[k]; ok {
				values[i] = v
			} else {
				values[i] = NotAvailable
			}
		}
		c.SpecsComparison[k] = values
	}
	return c
}
