package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/phone-spec-scraper/internal/cache"
	"github.com/maltedev/phone-spec-scraper/internal/database"
	"github.com/maltedev/phone-spec-scraper/internal/format"
	"github.com/maltedev/phone-spec-scraper/internal/jobs"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/queue"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
)

const (
	ModeBasic    = "basic"
	ModeDetailed = "detailed"

	DefaultMaxResults = 5
	MaxResultsLimit   = 20

	defaultListLimit = 20
	maxListLimit     = 100

	// Health degrades past these outbox backlogs.
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Searcher is the orchestrator surface the handlers use.
type Searcher interface {
	SearchAll(ctx context.Context, query string, enabled []models.Site, maxPerSite int) *models.Envelope
	GetDetails(ctx context.Context, url string) (*models.Phone, error)
	GetDetailsMany(ctx context.Context, urls []string) ([]*models.Phone, map[string]error)
	SiteFor(url string) (scraper.Site, error)
	Sites() []models.Site
	Site(tag models.Site) (scraper.Site, bool)
}

// PriceComparer is implemented by extractors that list per-store prices.
type PriceComparer interface {
	PriceComparisons(ctx context.Context, url string) ([]models.PriceOffer, error)
}

type SearchCache interface {
	Get(ctx context.Context, key string) (*models.Envelope, bool)
	Put(ctx context.Context, key string, env *models.Envelope) error
}

type PhoneStore interface {
	Recent(ctx context.Context, limit int) ([]*database.PhoneDocument, error)
	Search(ctx context.Context, term string, limit int) ([]*database.PhoneDocument, error)
	Stats(ctx context.Context) (*database.Stats, error)
}

type OutboxCounter interface {
	Counts(ctx context.Context) (*database.OutboxCounts, error)
}

type JobService interface {
	CreateJob(ctx context.Context, req jobs.CreateRequest) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// Options carries the optional collaborators. A nil store, outbox or job
// service disables the endpoints that need it.
type Options struct {
	Cache        SearchCache
	Phones       PhoneStore
	Outbox       OutboxCounter
	Jobs         JobService
	DefaultSites []models.Site
}

type Handlers struct {
	scraper Searcher
	opts    Options
	logger  *slog.Logger
}

func NewHandlers(s Searcher, opts Options, logger *slog.Logger) *Handlers {
	if len(opts.DefaultSites) == 0 {
		opts.DefaultSites = []models.Site{models.SiteGSMArena}
	}
	return &Handlers{
		scraper: s,
		opts:    opts,
		logger:  logger.With("component", "api"),
	}
}

type SearchRequest struct {
	Query      string   `json:"query"`
	Mode       string   `json:"mode"`
	MaxResults *int     `json:"max_results"`
	Sites      []string `json:"sites"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// Search runs a multi-site search and returns the basic or detailed view.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		h.respondError(w, http.StatusBadRequest, "Query parameter is required")
		return
	}

	maxResults := DefaultMaxResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	if maxResults < 1 || maxResults > MaxResultsLimit {
		h.respondError(w, http.StatusBadRequest, "max_results must be between 1 and 20")
		return
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeBasic
	}
	if mode != ModeBasic && mode != ModeDetailed {
		h.respondError(w, http.StatusBadRequest, "mode must be basic or detailed")
		return
	}

	sites := h.opts.DefaultSites
	if len(req.Sites) > 0 {
		parsed, err := models.ParseSites(req.Sites)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		sites = parsed
	}

	env := h.search(r.Context(), req.Query, sites, maxResults)

	if mode == ModeDetailed {
		h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: format.ToDetailedView(env)})
		return
	}
	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: format.ToBasicView(env)})
}

func (h *Handlers) search(ctx context.Context, query string, sites []models.Site, maxResults int) *models.Envelope {
	key := cache.Key(query, sites, maxResults)
	if h.opts.Cache != nil {
		if env, ok := h.opts.Cache.Get(ctx, key); ok {
			h.logger.Info("search served from cache", "query", query)
			return env
		}
	}

	env := h.scraper.SearchAll(ctx, query, sites, maxResults)

	if h.opts.Cache != nil {
		if err := h.opts.Cache.Put(ctx, key, env); err != nil {
			h.logger.Warn("failed to cache search", "query", query, "error", err)
		}
	}
	return env
}

type URLRequest struct {
	URL string `json:"url"`
}

// Details scrapes one phone page.
func (h *Handlers) Details(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	phone, err := h.scraper.GetDetails(r.Context(), req.URL)
	if err != nil {
		h.respondScrapeError(w, "failed to get details", req.URL, err)
		return
	}

	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: phone})
}

// Prices lists the per-store offers of a phone page on a site that has them.
func (h *Handlers) Prices(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	site, err := h.scraper.SiteFor(req.URL)
	if err != nil {
		h.respondScrapeError(w, "failed to get prices", req.URL, err)
		return
	}
	comparer, ok := site.(PriceComparer)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "price comparison is not available for "+site.Name().String())
		return
	}

	offers, err := comparer.PriceComparisons(r.Context(), req.URL)
	if err != nil {
		h.respondScrapeError(w, "failed to get prices", req.URL, err)
		return
	}

	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: offers})
}

type CompareRequest struct {
	URLs []string `json:"urls"`
}

type CompareResponse struct {
	Comparison *models.Comparison `json:"comparison"`
	Failed     map[string]string  `json:"failed,omitempty"`
}

// Compare scrapes every URL and compares the phones that could be loaded.
func (h *Handlers) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) < 2 {
		h.respondError(w, http.StatusBadRequest, "at least 2 urls are required")
		return
	}

	phones, failures := h.scraper.GetDetailsMany(r.Context(), req.URLs)
	failed := make(map[string]string, len(failures))
	for u, err := range failures {
		failed[u] = err.Error()
	}

	if len(phones) < 2 {
		h.logger.Error("compare failed", "loaded", len(phones), "failed", len(failed))
		h.respondError(w, http.StatusInternalServerError, "need at least 2 phones to compare, loaded "+strconv.Itoa(len(phones)))
		return
	}

	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: CompareResponse{
		Comparison: scraper.Compare(phones),
		Failed:     failed,
	}})
}

type SiteInfo struct {
	Name   models.Site `json:"name"`
	Domain string      `json:"domain"`
}

// ListSites reports the registered extractors in declared order.
func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	tags := h.scraper.Sites()
	sites := make([]SiteInfo, 0, len(tags))
	for _, tag := range tags {
		s, ok := h.scraper.Site(tag)
		if !ok {
			continue
		}
		sites = append(sites, SiteInfo{Name: tag, Domain: s.Domain()})
	}
	h.respondJSON(w, http.StatusOK, sites)
}

// Health reports liveness and the outbox backlog when persistence is on.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	if h.opts.Outbox == nil {
		health["persistence"] = "disabled"
		h.respondJSON(w, http.StatusOK, health)
		return
	}

	counts, err := h.opts.Outbox.Counts(r.Context())
	if err != nil {
		h.logger.Error("failed to count outbox events", "error", err)
		health["status"] = "error"
		health["message"] = "Outbox unavailable"
		h.respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}

	health["outbox"] = counts
	status := http.StatusOK
	if counts.Pending > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if counts.DeadLetter > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, health)
}

// RecentPhones lists the latest stored phone documents.
func (h *Handlers) RecentPhones(w http.ResponseWriter, r *http.Request) {
	if h.opts.Phones == nil {
		h.respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	docs, err := h.opts.Phones.Recent(r.Context(), listLimit(r))
	if err != nil {
		h.logger.Error("failed to list recent phones", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list phones")
		return
	}
	h.respondJSON(w, http.StatusOK, docs)
}

// SearchPhones searches stored documents by query, brand or model.
func (h *Handlers) SearchPhones(w http.ResponseWriter, r *http.Request) {
	if h.opts.Phones == nil {
		h.respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		h.respondError(w, http.StatusBadRequest, "q is required")
		return
	}

	docs, err := h.opts.Phones.Search(r.Context(), term, listLimit(r))
	if err != nil {
		h.logger.Error("failed to search phones", "error", err, "term", term)
		h.respondError(w, http.StatusInternalServerError, "failed to search phones")
		return
	}
	h.respondJSON(w, http.StatusOK, docs)
}

type StatsResponse struct {
	Phones *database.Stats `json:"phones,omitempty"`
	Jobs   *jobs.Stats     `json:"jobs,omitempty"`
}

// GetStats combines stored-phone and job statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse

	if h.opts.Phones != nil {
		stats, err := h.opts.Phones.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to get stats", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.Phones = stats
	}

	if h.opts.Jobs != nil {
		stats, err := h.opts.Jobs.GetStats(r.Context())
		if err != nil {
			h.logger.Error("failed to get job stats", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.Jobs = stats
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateJob queues a batch scrape.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.opts.Jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "batch jobs are disabled")
		return
	}

	var req jobs.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.opts.Jobs.CreateJob(r.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrUnknownKind):
		h.respondError(w, http.StatusBadRequest, "kind must be brands or categories")
		return
	case errors.Is(err, queue.ErrQueueFull):
		h.respondError(w, http.StatusServiceUnavailable, "job queue is full")
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

// GetJob handles job status retrieval
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.opts.Jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "batch jobs are disabled")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.opts.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to get job", "error", err, "job_id", jobID)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing all jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.opts.Jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "batch jobs are disabled")
		return
	}

	list, err := h.opts.Jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func (h *Handlers) respondScrapeError(w http.ResponseWriter, msg, url string, err error) {
	if errors.Is(err, scraper.ErrInvalidURL) || errors.Is(err, scraper.ErrUnsupportedSite) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error(msg, "url", url, "error", err)
	h.respondError(w, http.StatusInternalServerError, msg+": "+err.Error())
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
