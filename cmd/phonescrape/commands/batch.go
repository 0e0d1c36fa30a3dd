package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/app"
	"github.com/maltedev/phone-spec-scraper/internal/jobs"
	"github.com/maltedev/phone-spec-scraper/internal/models"
)

var brandsReq jobs.BrandsRequest
var categoriesReq jobs.CategoriesRequest

func init() {
	bf := brandsCmd.Flags()
	bf.StringSliceVar(&brandsReq.Brands, "brands", nil, "Brands to scrape (default BATCH_BRANDS or the built-in list)")
	bf.BoolVar(&brandsReq.Discover, "discover", false, "Discover brands from the GSMArena makers page")
	bf.IntVar(&brandsReq.MinDevices, "min-devices", 0, "Skip discovered brands with fewer devices")
	bf.IntVar(&brandsReq.MaxResults, "max-results", 0, "Maximum phones per brand, 0 for all")
	rootCmd.AddCommand(brandsCmd)

	cf := categoriesCmd.Flags()
	cf.StringSliceVar(&categoriesReq.Categories, "categories", nil, "Categories to scrape (default all)")
	cf.IntVar(&categoriesReq.MaxResults, "max-results", 0, "Maximum phones per category, 0 for all")
	rootCmd.AddCommand(categoriesCmd)
}

var brandsCmd = &cobra.Command{
	Use:   "brands [--brands Samsung,Apple] [--discover [--min-devices 50]] [--max-results N]",
	Short: "Scrapes GSMArena brand by brand and stores every phone.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := batchApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Runner.RunBrands(cmd.Context(), brandsReq)
		printReport(cmd.OutOrStdout(), report)
		return err
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories [--categories Smartphones,Tablets] [--max-results N]",
	Short: "Scrapes GSMArena device categories, resuming from the progress file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := batchApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Runner.RunCategories(cmd.Context(), categoriesReq)
		printReport(cmd.OutOrStdout(), report)
		return err
	},
}

func batchApp(cmd *cobra.Command) (*app.App, error) {
	if err := cfg.RequirePersistence(); err != nil {
		return nil, err
	}
	return build(cmd, []models.Site{models.SiteGSMArena})
}

func printReport(out io.Writer, report *jobs.Report) {
	if report == nil {
		return
	}
	fmt.Fprintln(out, report)
	for _, item := range report.Succeeded {
		fmt.Fprintf(out, "  %-20s %d phones\n", item.Name, item.Count)
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(out, "  failed: %v\n", report.Failed)
	}
}
