package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/maltedev/phone-spec-scraper/internal/config"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/ratelimit"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
	"github.com/maltedev/phone-spec-scraper/internal/sites/gsmarena"
	"github.com/maltedev/phone-spec-scraper/internal/storage"
)

const (
	MethodBrands     = "batch_brands"
	MethodMakers     = "batch_makers"
	MethodCategories = "batch_categories"
)

// DefaultBrands is scraped when a brands run names no brands and does not
// discover them.
var DefaultBrands = []string{
	"Samsung", "Apple", "Nokia", "Sony", "LG", "HTC", "Motorola", "Lenovo", "Xiaomi",
	"Google", "Oppo", "Realme", "OnePlus", "Nothing", "vivo", "Asus", "Infinix", "Tecno",
}

// Searcher is the orchestrator surface the brand run needs.
type Searcher interface {
	SearchAll(ctx context.Context, query string, enabled []models.Site, maxPerSite int) *models.Envelope
}

// Catalog is the GSMArena listing surface used by discovery runs.
type Catalog interface {
	Makers(ctx context.Context) ([]gsmarena.Maker, error)
	Categories() []gsmarena.Category
	ListPhoneURLs(ctx context.Context, listingURL string, opts gsmarena.ListOptions) ([]string, error)
	ScrapeDetail(ctx context.Context, url string) (*models.Phone, error)
}

type RunnerConfig struct {
	Brands                 []string
	MaxResultsPerBrand     int
	DelayBetweenBrands     time.Duration
	MinDevices             int
	MaxResultsPerCategory  int
	DelayBetweenCategories time.Duration
	PhoneDelayMin          time.Duration
	PhoneDelayMax          time.Duration
	PageDelayMin           time.Duration
	PageDelayMax           time.Duration
}

func NewRunnerConfig(cfg config.BatchConfig) RunnerConfig {
	return RunnerConfig{
		Brands:                 cfg.Brands,
		MaxResultsPerBrand:     cfg.MaxResultsPerBrand,
		DelayBetweenBrands:     cfg.DelayBetweenBrands,
		MinDevices:             cfg.MinDevices,
		MaxResultsPerCategory:  cfg.MaxResultsPerCategory,
		DelayBetweenCategories: cfg.DelayBetweenCategories,
		PhoneDelayMin:          3 * time.Second,
		PhoneDelayMax:          6 * time.Second,
		PageDelayMin:           2 * time.Second,
		PageDelayMax:           4 * time.Second,
	}
}

type BrandsRequest struct {
	Brands     []string `json:"brands,omitempty"`
	Discover   bool     `json:"discover,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
	MinDevices int      `json:"min_devices,omitempty"`
}

type CategoriesRequest struct {
	Categories []string `json:"categories,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

type ItemCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report summarizes one batch run.
type Report struct {
	Kind      string        `json:"kind"`
	Saved     int           `json:"saved"`
	Succeeded []ItemCount   `json:"succeeded"`
	Failed    []string      `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: saved %d phones, %d/%d succeeded in %s",
		r.Kind, r.Saved, len(r.Succeeded), len(r.Succeeded)+len(r.Failed), r.Duration.Round(time.Second))
}

// Runner drives the long-running batch scrapes.
type Runner struct {
	searcher Searcher
	catalog  Catalog
	recorder scraper.Recorder
	progress *storage.LinkStorage
	cfg      RunnerConfig
	logger   *slog.Logger
}

func NewRunner(searcher Searcher, catalog Catalog, recorder scraper.Recorder, progress *storage.LinkStorage, cfg RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		searcher: searcher,
		catalog:  catalog,
		recorder: recorder,
		progress: progress,
		cfg:      cfg,
		logger:   logger.With("component", "batch_runner"),
	}
}

// RunBrands scrapes every brand in turn. The pause between brands widens
// after a streak of brands that yielded nothing.
func (r *Runner) RunBrands(ctx context.Context, req BrandsRequest) (*Report, error) {
	start := time.Now()
	report := &Report{Kind: "brands", Succeeded: []ItemCount{}, Failed: []string{}}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResultsPerBrand
	}

	if req.Discover {
		if err := r.runMakers(ctx, req, maxResults, report); err != nil {
			if ctx.Err() != nil {
				return r.interrupted(report, start, err)
			}
			return nil, err
		}
		report.Duration = time.Since(start)
		r.logger.Info("brands run finished", "report", report.String())
		return report, nil
	}

	brands := req.Brands
	if len(brands) == 0 {
		brands = r.cfg.Brands
	}
	if len(brands) == 0 {
		brands = DefaultBrands
	}

	r.logger.Info("starting brands run", "brands", len(brands), "max_results", maxResults)
	limiter := ratelimit.NewAdaptiveRateLimiter(r.cfg.DelayBetweenBrands, r.cfg.DelayBetweenBrands)

	for i, brand := range brands {
		if err := limiter.Wait(ctx); err != nil {
			return r.interrupted(report, start, err)
		}
		if err := ctx.Err(); err != nil {
			return r.interrupted(report, start, err)
		}

		r.logger.Info("processing brand", "brand", brand, "index", i+1, "total", len(brands))
		env := r.searcher.SearchAll(ctx, brand, []models.Site{models.SiteGSMArena}, maxResults)
		phones := env.Phones()
		if len(phones) == 0 {
			report.Failed = append(report.Failed, brand)
			limiter.RecordError()
			lo, hi := limiter.Delay()
			r.logger.Warn("no phones found for brand", "brand", brand, "delay_min", lo, "delay_max", hi)
			continue
		}

		for _, p := range phones {
			r.record(ctx, brand, MethodBrands, p)
		}
		report.Saved += len(phones)
		report.Succeeded = append(report.Succeeded, ItemCount{Name: brand, Count: len(phones)})
		limiter.RecordSuccess()
	}

	report.Duration = time.Since(start)
	r.logger.Info("brands run finished", "report", report.String())
	return report, nil
}

// runMakers discovers brands from the makers index and scrapes each
// brand's device listing page by page.
func (r *Runner) runMakers(ctx context.Context, req BrandsRequest, maxResults int, report *Report) error {
	makers, err := r.catalog.Makers(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover brands: %w", err)
	}

	minDevices := req.MinDevices
	if minDevices <= 0 {
		minDevices = r.cfg.MinDevices
	}
	if minDevices > 0 {
		makers = slices.DeleteFunc(makers, func(m gsmarena.Maker) bool {
			return m.Devices < minDevices
		})
	}

	r.logger.Info("starting makers run", "brands", len(makers), "min_devices", minDevices)
	limiter := ratelimit.NewAdaptiveRateLimiter(r.cfg.DelayBetweenBrands, r.cfg.DelayBetweenBrands)

	for _, maker := range makers {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		urls, err := r.catalog.ListPhoneURLs(ctx, maker.URL, r.listOptions(maxResults))
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		saved := r.scrapeURLs(ctx, maker.Name, MethodMakers, "", urls)
		if err := ctx.Err(); err != nil {
			report.Saved += saved
			return err
		}
		if saved == 0 {
			report.Failed = append(report.Failed, maker.Name)
			limiter.RecordError()
			continue
		}
		report.Saved += saved
		report.Succeeded = append(report.Succeeded, ItemCount{Name: maker.Name, Count: saved})
		limiter.RecordSuccess()
	}
	return nil
}

// RunCategories scrapes the GSMArena device classes. Discovered URLs are
// tracked in the progress file so a rerun only visits pending URLs.
func (r *Runner) RunCategories(ctx context.Context, req CategoriesRequest) (*Report, error) {
	start := time.Now()
	report := &Report{Kind: "categories", Succeeded: []ItemCount{}, Failed: []string{}}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResultsPerCategory
	}

	categories := r.selectCategories(req.Categories)
	r.logger.Info("starting categories run", "categories", len(categories), "max_results", maxResults)

	for i, category := range categories {
		if i > 0 {
			if err := ratelimit.Sleep(ctx, r.cfg.DelayBetweenCategories); err != nil {
				return r.interrupted(report, start, err)
			}
		}

		urls, err := r.catalog.ListPhoneURLs(ctx, category.URL, r.listOptions(maxResults))
		if err != nil && ctx.Err() != nil {
			return r.interrupted(report, start, ctx.Err())
		}

		if r.progress != nil {
			added, err := r.progress.AddBatch(category.Name, urls)
			if err != nil {
				r.logger.Error("failed to save progress", "category", category.Name, "error", err)
			}
			urls = r.progress.Pending(category.Name)
			r.logger.Info("category listed", "category", category.Name, "new", added, "pending", len(urls))
		}

		if len(urls) == 0 {
			r.logger.Warn("no pending phones in category", "category", category.Name)
			report.Failed = append(report.Failed, category.Name)
			continue
		}

		saved := r.scrapeURLs(ctx, category.Name, MethodCategories, category.Name, urls)
		report.Saved += saved
		if saved == 0 {
			report.Failed = append(report.Failed, category.Name)
			continue
		}
		report.Succeeded = append(report.Succeeded, ItemCount{Name: category.Name, Count: saved})
	}

	report.Duration = time.Since(start)
	r.logger.Info("categories run finished", "report", report.String())
	return report, nil
}

func (r *Runner) selectCategories(names []string) []gsmarena.Category {
	all := r.catalog.Categories()
	if len(names) == 0 {
		return all
	}
	var selected []gsmarena.Category
	for _, c := range all {
		if slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(strings.TrimSpace(n), c.Name) }) {
			selected = append(selected, c)
		}
	}
	return selected
}

// scrapeURLs scrapes device pages one after another and returns how many
// were recorded. category is empty for runs without progress tracking.
func (r *Runner) scrapeURLs(ctx context.Context, query, method, category string, urls []string) int {
	pacer := ratelimit.NewPacer(r.cfg.PhoneDelayMin, r.cfg.PhoneDelayMax)
	saved := 0

	for i, u := range urls {
		if err := pacer.Wait(ctx); err != nil {
			r.logger.Info("batch interrupted", "query", query, "done", i, "total", len(urls))
			return saved
		}

		phone, err := r.catalog.ScrapeDetail(ctx, u)
		if err != nil {
			r.logger.Warn("failed to scrape phone", "url", u, "error", err)
			r.markProgress(category, u, storage.StatusFailed, err.Error())
			continue
		}

		r.record(ctx, query, method, phone)
		r.markProgress(category, u, storage.StatusCompleted, "")
		saved++
	}
	return saved
}

func (r *Runner) markProgress(category, url, status, msg string) {
	if r.progress == nil || category == "" {
		return
	}
	if err := r.progress.UpdateStatus(url, status, msg); err != nil {
		r.logger.Error("failed to update progress", "url", url, "error", err)
	}
}

func (r *Runner) record(ctx context.Context, query, method string, phone *models.Phone) {
	if r.recorder != nil {
		r.recorder.Record(ctx, query, method, phone)
	}
}

func (r *Runner) listOptions(maxResults int) gsmarena.ListOptions {
	return gsmarena.ListOptions{
		MaxResults:   maxResults,
		PageDelayMin: r.cfg.PageDelayMin,
		PageDelayMax: r.cfg.PageDelayMax,
	}
}

func (r *Runner) interrupted(report *Report, start time.Time, err error) (*Report, error) {
	report.Duration = time.Since(start)
	r.logger.Warn("batch run interrupted", "report", report.String(), "error", err)
	return report, err
}
