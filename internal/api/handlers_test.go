package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/phone-spec-scraper/internal/database"
	"github.com/maltedev/phone-spec-scraper/internal/jobs"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/queue"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSite struct {
	tag      models.Site
	domain   string
	phones   []*models.Phone
	searches atomic.Int32
}

func (s *stubSite) Name() models.Site { return s.tag }
func (s *stubSite) Domain() string    { return s.domain }

func (s *stubSite) Search(_ context.Context, _ string, maxResults int) ([]*models.Phone, error) {
	s.searches.Add(1)
	return s.phones[:min(maxResults, len(s.phones))], nil
}

func (s *stubSite) ScrapeDetail(_ context.Context, url string) (*models.Phone, error) {
	for _, p := range s.phones {
		if p.URL == url {
			return p, nil
		}
	}
	return nil, errors.New("no title")
}

type pricedSite struct {
	*stubSite
}

func (p pricedSite) PriceComparisons(context.Context, string) ([]models.PriceOffer, error) {
	return []models.PriceOffer{{Store: "Amazon", Price: "$799", Link: "https://amazon.test/s24"}}, nil
}

func newPhone(t *testing.T, brand, model, url string, source models.Site, specs map[string]string) *models.Phone {
	t.Helper()
	p, err := models.NewPhone(brand, model, url, source)
	require.NoError(t, err)
	for k, v := range specs {
		p.Specs[k] = v
	}
	return p
}

type fixture struct {
	gsm    *stubSite
	kim    *stubSite
	router http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	gsm := &stubSite{tag: models.SiteGSMArena, domain: "gsmarena.com", phones: []*models.Phone{
		newPhone(t, "Samsung", "Galaxy S24", "https://www.gsmarena.com/s24.php", models.SiteGSMArena, map[string]string{"Battery": "4000 mAh"}),
		newPhone(t, "Samsung", "Galaxy A55", "https://www.gsmarena.com/a55.php", models.SiteGSMArena, map[string]string{"Chipset": "Exynos 1480"}),
	}}
	kim := &stubSite{tag: models.SiteKimovil, domain: "kimovil.com", phones: []*models.Phone{
		newPhone(t, "Samsung", "Galaxy S24", "https://www.kimovil.com/en/where-to-buy-samsung-galaxy-s24", models.SiteKimovil, nil),
	}}
	orch := scraper.New(discard(), []scraper.Site{gsm, pricedSite{kim}})
	return &fixture{
		gsm:    gsm,
		kim:    kim,
		router: NewRouter(NewHandlers(orch, opts, discard()), RouterConfig{}),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type basicResponse struct {
	Success bool             `json:"success"`
	Data    models.BasicView `json:"data"`
}

func TestSearch_BasicDefaults(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "galaxy"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[basicResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "galaxy", resp.Data.Query)
	assert.Equal(t, 2, resp.Data.TotalResults)
	assert.Equal(t, "Samsung Galaxy S24", resp.Data.Phones[0].Name)
	assert.Zero(t, f.kim.searches.Load(), "only gsmarena is searched by default")
}

func TestSearch_Detailed(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/search", map[string]any{
		"query": "galaxy", "mode": "detailed", "max_results": 1, "sites": []string{"kimovil", "gsmarena"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Success bool                    `json:"success"`
		Data    models.DetailedEnvelope `json:"data"`
	}](t, rec)
	require.Len(t, resp.Data.Result, 2)
	assert.Equal(t, models.SiteGSMArena, resp.Data.Result[0].Source)
	assert.Equal(t, models.SiteKimovil, resp.Data.Result[1].Source)
	assert.Equal(t, "kimovil", resp.Data.Result[1].Seller.SellerName)
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"missing query", map[string]any{"query": "  "}},
		{"max results zero", map[string]any{"query": "pixel", "max_results": 0}},
		{"max results too large", map[string]any{"query": "pixel", "max_results": 21}},
		{"unknown mode", map[string]any{"query": "pixel", "mode": "verbose"}},
		{"unknown site", map[string]any{"query": "pixel", "sites": []string{"amazon"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[map[string]string](t, rec)
			assert.Equal(t, "Bad Request", resp["error"])
			assert.NotEmpty(t, resp["message"])
		})
	}
	assert.Zero(t, f.gsm.searches.Load())
}

type memCache struct {
	entries map[string]*models.Envelope
	puts    int
}

func (c *memCache) Get(_ context.Context, key string) (*models.Envelope, bool) {
	env, ok := c.entries[key]
	return env, ok
}

func (c *memCache) Put(_ context.Context, key string, env *models.Envelope) error {
	c.entries[key] = env
	c.puts++
	return nil
}

func TestSearch_UsesCache(t *testing.T) {
	c := &memCache{entries: map[string]*models.Envelope{}}
	f := newFixture(t, Options{Cache: c})

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "Galaxy", "max_results": 2})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[basicResponse](t, rec).Data.TotalResults)
	}
	assert.Equal(t, int32(1), f.gsm.searches.Load())
	assert.Equal(t, 1, c.puts)
}

func TestDetails(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/details", URLRequest{URL: "https://www.gsmarena.com/s24.php"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Data models.Phone `json:"data"`
	}](t, rec)
	assert.Equal(t, "Galaxy S24", resp.Data.Model)

	rec = f.do(t, http.MethodPost, "/api/details", URLRequest{URL: "https://www.amazon.com/dp/B0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/details", URLRequest{URL: "https://www.gsmarena.com/missing.php"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/details", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrices(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/prices", URLRequest{URL: "https://www.kimovil.com/en/where-to-buy-samsung-galaxy-s24"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Data []models.PriceOffer `json:"data"`
	}](t, rec)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Amazon", resp.Data[0].Store)

	rec = f.do(t, http.MethodPost, "/api/prices", URLRequest{URL: "https://www.gsmarena.com/s24.php"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["message"], "gsmarena")
}

func TestCompare(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/compare", CompareRequest{URLs: []string{
		"https://www.gsmarena.com/s24.php",
		"https://www.gsmarena.com/a55.php",
		"https://www.gsmarena.com/missing.php",
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data struct {
			Comparison models.Comparison `json:"comparison"`
			Failed     map[string]string `json:"failed"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, []string{"4000 mAh", scraper.NotAvailable}, resp.Data.Comparison.SpecsComparison["Battery"])
	assert.Contains(t, resp.Data.Failed, "https://www.gsmarena.com/missing.php")

	rec = f.do(t, http.MethodPost, "/api/compare", CompareRequest{URLs: []string{"https://www.gsmarena.com/s24.php"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/compare", CompareRequest{URLs: []string{
		"https://www.gsmarena.com/s24.php",
		"https://www.gsmarena.com/missing.php",
	}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListSites(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/api/sites", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []SiteInfo{
		{Name: models.SiteGSMArena, Domain: "gsmarena.com"},
		{Name: models.SiteKimovil, Domain: "kimovil.com"},
	}, decode[[]SiteInfo](t, rec))
}

type fixedOutbox struct {
	counts *database.OutboxCounts
	err    error
}

func (o fixedOutbox) Counts(context.Context) (*database.OutboxCounts, error) {
	return o.counts, o.err
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxCounter
		wantCode   int
		wantStatus string
	}{
		{"persistence disabled", nil, http.StatusOK, "ok"},
		{"healthy outbox", fixedOutbox{counts: &database.OutboxCounts{Pending: 3}}, http.StatusOK, "ok"},
		{"pending backlog", fixedOutbox{counts: &database.OutboxCounts{Pending: 5000}}, http.StatusOK, "warning"},
		{"dead letters", fixedOutbox{counts: &database.OutboxCounts{DeadLetter: 101}}, http.StatusServiceUnavailable, "error"},
		{"outbox down", fixedOutbox{err: errors.New("db down")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{Outbox: tt.outbox})
			rec := f.do(t, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decode[map[string]any](t, rec)["status"])
		})
	}
}

type memStore struct {
	docs  []*database.PhoneDocument
	terms []string
}

func (s *memStore) Recent(_ context.Context, limit int) ([]*database.PhoneDocument, error) {
	return s.docs[:min(limit, len(s.docs))], nil
}

func (s *memStore) Search(_ context.Context, term string, _ int) ([]*database.PhoneDocument, error) {
	s.terms = append(s.terms, term)
	return s.docs, nil
}

func (s *memStore) Stats(context.Context) (*database.Stats, error) {
	return &database.Stats{TotalPhones: int64(len(s.docs))}, nil
}

func TestStoredPhones(t *testing.T) {
	p := newPhone(t, "Google", "Pixel 9", "https://www.gsmarena.com/pixel9.php", models.SiteGSMArena, nil)
	store := &memStore{docs: []*database.PhoneDocument{
		database.NewPhoneDocument("pixel", "search", p),
		database.NewPhoneDocument("google", "batch_brands", p),
	}}
	f := newFixture(t, Options{Phones: store})

	rec := f.do(t, http.MethodGet, "/api/phones/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]database.PhoneDocument](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/phones/search?q=pixel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pixel"}, store.terms)

	rec = f.do(t, http.MethodGet, "/api/phones/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	require.NotNil(t, stats.Phones)
	assert.Equal(t, int64(2), stats.Phones.TotalPhones)
	assert.Nil(t, stats.Jobs)
}

func TestStoredPhones_PersistenceDisabled(t *testing.T) {
	f := newFixture(t, Options{})

	for _, path := range []string{"/api/phones/recent", "/api/phones/search?q=x"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestJobs(t *testing.T) {
	manager := jobs.NewManager(nil, queue.NewInMemoryQueue(1), discard())
	f := newFixture(t, Options{Jobs: manager})

	rec := f.do(t, http.MethodPost, "/api/jobs", jobs.CreateRequest{Kind: jobs.KindBrands, Brands: &jobs.BrandsRequest{Brands: []string{"Nokia"}}})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[CreateJobResponse](t, rec)
	assert.Equal(t, jobs.StatusPending, created.Status)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+created.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobs.Job](t, rec)
	assert.Equal(t, []string{"Nokia"}, job.Brands.Brands)

	rec = f.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]jobs.Job](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/api/jobs", jobs.CreateRequest{Kind: jobs.KindCategories})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "queue holds one task")

	rec = f.do(t, http.MethodPost, "/api/jobs", jobs.CreateRequest{Kind: "sitemap"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	require.NotNil(t, stats.Jobs)
	assert.Equal(t, 1, stats.Jobs.PendingJobs)
}

func TestJobs_Disabled(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/jobs", jobs.CreateRequest{Kind: jobs.KindBrands})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
