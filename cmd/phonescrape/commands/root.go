package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/app"
	"github.com/maltedev/phone-spec-scraper/internal/config"
	"github.com/maltedev/phone-spec-scraper/internal/models"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "phonescrape",
	Short:         "phonescrape searches GSMArena, 91mobiles and Kimovil for phone specifications.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger = cfg.Logging.NewLogger()
		slog.SetDefault(logger)
		return nil
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// build wires only the extractors for sites. Phones are recorded when a
// database is configured.
func build(cmd *cobra.Command, sites []models.Site) (*app.App, error) {
	return app.Build(cmd.Context(), cfg, logger, app.Options{Sites: sites, Persist: true})
}

// sitesFor resolves the owning site of every URL.
func sitesFor(urls []string) ([]models.Site, error) {
	want := make(map[models.Site]bool)
	for _, u := range urls {
		s, ok := models.SiteForURL(u)
		if !ok {
			return nil, fmt.Errorf("unsupported url %q", u)
		}
		want[s] = true
	}
	return models.OrderSites(want), nil
}
