package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/phone-spec-scraper/internal/config"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/sites/gsmarena"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("BATCH_PROGRESS_FILE", filepath.Join(t.TempDir(), "progress.json"))
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_GSMArenaOnly(t *testing.T) {
	cfg := testConfig(t)

	a, err := Build(context.Background(), cfg, discard(), Options{Sites: []models.Site{models.SiteGSMArena}})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, []models.Site{models.SiteGSMArena}, a.Scraper.Sites())
	assert.Equal(t, []models.Site{models.SiteGSMArena}, a.DefaultSites)
	require.NotNil(t, a.Runner)
	require.NotNil(t, a.Jobs)
	assert.Nil(t, a.Phones)
	assert.Nil(t, a.Cache)
	assert.Nil(t, a.Relay)

	opts := a.HandlerOptions()
	assert.Nil(t, opts.Cache)
	assert.Nil(t, opts.Phones)
	assert.Nil(t, opts.Outbox)
	assert.NotNil(t, opts.Jobs)
}

func TestBuild_PersistenceSkippedWhenUnconfigured(t *testing.T) {
	cfg := testConfig(t)

	a, err := Build(context.Background(), cfg, discard(), Options{
		Sites:   []models.Site{models.SiteGSMArena},
		Persist: true,
		Cache:   true,
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Phones)
	assert.Nil(t, a.Cache)
}

func TestBuild_InvalidDefaultSites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scraper.DefaultSites = []string{"amazon"}

	_, err := Build(context.Background(), cfg, discard(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid default sites")
}

func TestBuild_UnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scraper.TransportChain = []string{"carrier-pigeon"}

	_, err := Build(context.Background(), cfg, discard(), Options{Sites: []models.Site{models.SiteKimovil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transport for kimovil")
}

func TestBuild_ProtectedSitesOwnTransports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scraper.TransportChain = []string{"plain"}

	a, err := Build(context.Background(), cfg, discard(), Options{
		Sites: []models.Site{models.SiteKimovil, models.SiteMobiles91},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	kim := a.transports[models.SiteKimovil]
	mob := a.transports[models.SiteMobiles91]
	require.NotNil(t, kim)
	require.NotNil(t, mob)
	assert.NotSame(t, kim, mob)
	assert.Equal(t, "adaptive(plain)", kim.Name())
	assert.Equal(t, "adaptive(plain)", mob.Name())
}

func TestBuild_ProxyFileMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Proxy.File = filepath.Join(t.TempDir(), "missing.txt")

	_, err := Build(context.Background(), cfg, discard(), Options{Sites: []models.Site{models.SiteGSMArena}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load proxies")
}

func TestSiteOptions_DetailDelayOverride(t *testing.T) {
	cfg := testConfig(t)
	a := &App{Config: cfg, logger: discard()}

	base := a.siteOptions(gsmarena.DefaultOptions())
	assert.Equal(t, gsmarena.DefaultOptions().DelayMin, base.DelayMin)

	cfg.Scraper.DetailDelayMin = 0
	cfg.Scraper.DetailDelayMax = 1
	overridden := a.siteOptions(gsmarena.DefaultOptions())
	assert.Zero(t, overridden.DelayMin)
	assert.EqualValues(t, 1, overridden.DelayMax)
}
