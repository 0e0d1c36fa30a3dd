// Package app assembles the scraper, its transports and the optional
// persistence layers from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/phone-spec-scraper/internal/api"
	"github.com/maltedev/phone-spec-scraper/internal/browser"
	"github.com/maltedev/phone-spec-scraper/internal/cache"
	"github.com/maltedev/phone-spec-scraper/internal/config"
	"github.com/maltedev/phone-spec-scraper/internal/database"
	"github.com/maltedev/phone-spec-scraper/internal/events"
	"github.com/maltedev/phone-spec-scraper/internal/fetch"
	"github.com/maltedev/phone-spec-scraper/internal/jobs"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/queue"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
	"github.com/maltedev/phone-spec-scraper/internal/sites/gsmarena"
	"github.com/maltedev/phone-spec-scraper/internal/sites/kimovil"
	"github.com/maltedev/phone-spec-scraper/internal/sites/mobiles91"
	"github.com/maltedev/phone-spec-scraper/internal/storage"
)

const (
	MethodSearch = "search"

	recorderConcurrency = 4
)

type Options struct {
	// Sites limits which extractors get built. Empty means all.
	Sites []models.Site
	// Persist connects the database when one is configured.
	Persist bool
	// Cache connects Redis for the search cache and outbox relay.
	Cache bool
}

// App holds the wired components. Optional parts are nil when their
// backing service is not configured.
type App struct {
	Config       *config.Config
	Scraper      *scraper.Orchestrator
	Runner       *jobs.Runner
	Jobs         *jobs.Manager
	DefaultSites []models.Site

	Phones   *database.PhoneRepository
	Outbox   *database.OutboxRepository
	Relay    *database.Relay
	Cache    *cache.SearchCache
	recorder *events.AsyncRecorder

	transports map[models.Site]fetch.Fetcher
	closers    []func() error
	logger     *slog.Logger
}

// Build wires every component. On error the parts already opened are
// closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	defaultSites, err := models.ParseSites(cfg.Scraper.DefaultSites)
	if err != nil {
		return nil, fmt.Errorf("invalid default sites: %w", err)
	}

	a := &App{
		Config:       cfg,
		DefaultSites: defaultSites,
		logger:       logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.Persist && cfg.Database.Enabled() {
		if err := a.connectDatabase(ctx); err != nil {
			return nil, err
		}
	}
	if opts.Cache && cfg.Redis.Enabled() {
		if err := a.connectRedis(ctx); err != nil {
			return nil, err
		}
	}

	fetchOpts, err := a.fetchOptions(ctx)
	if err != nil {
		return nil, err
	}

	enabled := opts.Sites
	if len(enabled) == 0 {
		enabled = models.AllSites
	}
	siteList, catalog, err := a.buildSites(ctx, enabled, fetchOpts)
	if err != nil {
		return nil, err
	}

	orchOpts := []scraper.Option{scraper.WithParallel(cfg.Scraper.ParallelSites)}
	if a.recorder != nil {
		orchOpts = append(orchOpts, scraper.WithRecorder(a.recorder, MethodSearch))
	}
	a.Scraper = scraper.New(logger, siteList, orchOpts...)

	if catalog != nil {
		if err := a.buildJobs(siteList, catalog); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	db, err := database.New(ctx, database.Config{
		DSN:      a.Config.Database.DSN(),
		MaxConns: a.Config.Database.MaxConns,
		MinConns: a.Config.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		db.Close()
		return nil
	})

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	a.Phones = database.NewPhoneRepository(db)
	a.Outbox = database.NewOutboxRepository(db)
	a.recorder = events.NewAsyncRecorder(events.NewPublisher(db, a.logger), a.logger, recorderConcurrency)
	a.logger.Info("database connected")
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.Cache = cache.New(client, a.Config.Redis.CacheTTL, a.logger)
	if a.Outbox != nil {
		a.Relay = database.NewRelay(a.Outbox, client, a.logger, database.RelayConfig{
			PollInterval: a.Config.Redis.RelayInterval,
			BatchSize:    a.Config.Redis.RelayBatch,
			StreamMaxLen: a.Config.Redis.StreamMaxLen,
		})
	}
	a.logger.Info("redis connected", "addr", a.Config.Redis.Addr)
	return nil
}

func (a *App) fetchOptions(ctx context.Context) (fetch.Options, error) {
	sc := a.Config.Scraper

	opts := fetch.DefaultOptions()
	opts.Logger = a.logger
	opts.Timeout = sc.Timeout
	opts.ProxyTimeout = sc.ProxyTimeout
	opts.RatePerSecond = sc.RatePerSecond
	opts.RateBurst = sc.RateBurst
	opts.RespectRobots = sc.RespectRobots
	opts.Policy.MaxRetries = sc.MaxRetries
	if sc.UserAgent != "" {
		opts.Identity.UserAgent = sc.UserAgent
	}
	if len(sc.BotMarkers) > 0 {
		opts.Markers = sc.BotMarkers
	}

	var src fetch.ProxySource
	switch {
	case a.Config.Proxy.File != "":
		src = fetch.FileProxySource{Path: a.Config.Proxy.File}
	case len(a.Config.Proxy.List) > 0:
		src = fetch.StaticProxySource{Entries: a.Config.Proxy.List}
	}
	if src != nil {
		pool, err := fetch.LoadProxyPool(ctx, src)
		if err != nil {
			return opts, fmt.Errorf("failed to load proxies: %w", err)
		}
		opts.Proxies = pool
		a.logger.Info("proxy pool loaded", "proxies", pool.Healthy())
	}

	return opts, nil
}

// protectedTransport picks the transport for the sites behind bot
// protection by probing the configured chain.
func (a *App) protectedTransport(ctx context.Context, opts fetch.Options) (*fetch.Adaptive, error) {
	bc := a.Config.Browser
	bopts := browser.DefaultOptions()
	bopts.Headless = bc.Headless
	bopts.Timeout = bc.Timeout
	bopts.ViewportWidth = bc.ViewportWidth
	bopts.ViewportHeight = bc.ViewportHeight
	bopts.Locale = bc.Locale
	bopts.TimezoneID = bc.TimezoneID
	bopts.UserAgent = opts.Identity.UserAgent
	bopts.Logger = a.logger

	candidates, err := fetch.ChainConfig{
		Order:        a.Config.Scraper.TransportChain,
		BrowserProbe: fetch.ProbeBrowser(bopts, bc.ChallengeWait),
		StealthProbe: fetch.ProbeStealth(bc.Headless, bc.ChallengeWait),
	}.Candidates()
	if err != nil {
		return nil, err
	}
	return fetch.NewAdaptive(ctx, candidates, opts)
}

func (a *App) siteOptions(defaults sites.Options) sites.Options {
	sc := a.Config.Scraper
	defaults.Logger = a.logger
	defaults.MaxRetries = sc.MaxRetries
	if sc.DetailDelayMax > 0 {
		defaults.DelayMin = sc.DetailDelayMin
		defaults.DelayMax = sc.DetailDelayMax
	}
	return defaults
}

func (a *App) buildSites(ctx context.Context, enabled []models.Site, opts fetch.Options) ([]scraper.Site, *gsmarena.Scraper, error) {
	var (
		list    []scraper.Site
		catalog *gsmarena.Scraper
	)

	want := make(map[models.Site]bool, len(enabled))
	for _, tag := range enabled {
		want[tag] = true
	}

	a.transports = make(map[models.Site]fetch.Fetcher, len(want))
	for _, tag := range models.OrderSites(want) {
		var t fetch.Fetcher
		switch tag {
		case models.SiteGSMArena:
			plain := fetch.NewHTTPTransport(opts)
			a.closers = append(a.closers, plain.Close)
			catalog = gsmarena.New(plain, a.siteOptions(gsmarena.DefaultOptions()))
			list = append(list, catalog)
			t = plain

		case models.SiteMobiles91, models.SiteKimovil:
			// Each protected site probes and owns its own transport so that
			// sessions, cookies and rate limits never cross hosts.
			adaptive, err := a.protectedTransport(ctx, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("no transport for %s: %w", tag, err)
			}
			a.closers = append(a.closers, adaptive.Close)
			if tag == models.SiteKimovil {
				list = append(list, kimovil.New(adaptive, a.siteOptions(kimovil.DefaultOptions())))
			} else {
				list = append(list, mobiles91.New(adaptive, a.siteOptions(mobiles91.DefaultOptions())))
			}
			t = adaptive

		default:
			continue
		}

		a.transports[tag] = t
		a.logger.Info("site ready", "site", tag, "transport", t.Name())
	}

	return list, catalog, nil
}

// buildJobs wires the batch runner behind its own orchestrator without a
// recorder; the runner records phones itself under the batch methods.
func (a *App) buildJobs(siteList []scraper.Site, catalog *gsmarena.Scraper) error {
	progress, err := storage.NewLinkStorage(a.Config.Batch.ProgressFile)
	if err != nil {
		return fmt.Errorf("failed to open batch progress: %w", err)
	}

	var rec scraper.Recorder
	if a.recorder != nil {
		rec = a.recorder
	}
	batchScraper := scraper.New(a.logger, siteList)
	a.Runner = jobs.NewRunner(batchScraper, catalog, rec, progress, jobs.NewRunnerConfig(a.Config.Batch), a.logger)

	q := queue.NewInMemoryQueue(a.Config.Queue.MaxSize)
	a.closers = append(a.closers, q.Close)
	a.Jobs = jobs.NewManager(a.Runner, q, a.logger)
	return nil
}

// HandlerOptions returns the API collaborators, leaving unconfigured ones
// nil.
func (a *App) HandlerOptions() api.Options {
	opts := api.Options{DefaultSites: a.DefaultSites}
	if a.Cache != nil {
		opts.Cache = a.Cache
	}
	if a.Phones != nil {
		opts.Phones = a.Phones
	}
	if a.Outbox != nil {
		opts.Outbox = a.Outbox
	}
	if a.Jobs != nil {
		opts.Jobs = a.Jobs
	}
	return opts
}

// Close drains pending saves and releases every opened resource in
// reverse order.
func (a *App) Close() error {
	if a.recorder != nil {
		a.recorder.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
