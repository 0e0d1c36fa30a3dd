package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/format"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
)

type priceComparer interface {
	PriceComparisons(ctx context.Context, url string) ([]models.PriceOffer, error)
}

var withPrices bool

func init() {
	detailsCmd.Flags().BoolVar(&withPrices, "prices", false, "Also list per-store prices (kimovil only)")
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(compareCmd)
}

var detailsCmd = &cobra.Command{
	Use:   "details <url> [--prices]",
	Short: "Scrapes the full specifications of one phone page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		sites, err := sitesFor(args)
		if err != nil {
			return err
		}
		a, err := build(cmd, sites)
		if err != nil {
			return err
		}
		defer a.Close()

		phone, err := a.Scraper.GetDetails(cmd.Context(), url)
		if err != nil {
			return err
		}
		console := format.NewConsole(cmd.OutOrStdout())
		console.Phone(phone)

		if !withPrices {
			return nil
		}
		site, err := a.Scraper.SiteFor(url)
		if err != nil {
			return err
		}
		comparer, ok := site.(priceComparer)
		if !ok {
			return fmt.Errorf("price comparison is not available for %s", site.Name())
		}
		offers, err := comparer.PriceComparisons(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to get prices: %w", err)
		}
		console.Offers(offers)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <url> <url>...",
	Short: "Compares the specifications of two or more phone pages.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sites, err := sitesFor(args)
		if err != nil {
			return err
		}
		a, err := build(cmd, sites)
		if err != nil {
			return err
		}
		defer a.Close()

		phones, failures := a.Scraper.GetDetailsMany(cmd.Context(), args)
		out := cmd.OutOrStdout()

		failed := make([]string, 0, len(failures))
		for u := range failures {
			failed = append(failed, u)
		}
		sort.Strings(failed)
		for _, u := range failed {
			fmt.Fprintf(out, "Failed to load %s: %v\n", u, failures[u])
		}

		if len(phones) < 2 {
			return fmt.Errorf("need at least 2 phones to compare, loaded %d", len(phones))
		}
		format.NewConsole(out).Comparison(scraper.Compare(phones))
		return nil
	},
}
