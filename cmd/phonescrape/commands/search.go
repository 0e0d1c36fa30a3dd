package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/format"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
)

const (
	outputConsole = "console"
	outputJSON    = "json"
	outputBoth    = "both"
)

var searchFlags struct {
	sites      []string
	maxResults int
	detailed   bool
	output     string
	outputFile string
	compare    bool
	parallel   bool
}

func init() {
	f := searchCmd.Flags()
	f.StringSliceVar(&searchFlags.sites, "sites", nil, "Sites to search: gsmarena, 91mobiles, kimovil (default from SCRAPER_DEFAULT_SITES)")
	f.IntVar(&searchFlags.maxResults, "max-results", 5, "Maximum phones per site (1-20)")
	f.BoolVar(&searchFlags.detailed, "detailed", false, "Use the detailed view with categorized specs")
	f.StringVar(&searchFlags.output, "output", outputConsole, "Output: console, json or both")
	f.StringVar(&searchFlags.outputFile, "output-file", "", "JSON file to write (default data/<kind>_<query>_<timestamp>.json)")
	f.BoolVar(&searchFlags.compare, "compare", false, "Print a spec comparison of the phones found")
	f.BoolVar(&searchFlags.parallel, "parallel", false, "Search sites concurrently")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query> [--sites gsmarena,kimovil] [--max-results 5] [--detailed] [--output console|json|both]",
	Short: "Searches the enabled sites for a phone.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query is required")
	}
	if searchFlags.maxResults < 1 || searchFlags.maxResults > 20 {
		return fmt.Errorf("--max-results must be between 1 and 20")
	}
	switch searchFlags.output {
	case outputConsole, outputJSON, outputBoth:
	default:
		return fmt.Errorf("--output must be console, json or both")
	}

	raw := searchFlags.sites
	if len(raw) == 0 {
		raw = cfg.Scraper.DefaultSites
	}
	sites, err := models.ParseSites(raw)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return fmt.Errorf("no sites selected")
	}
	if searchFlags.parallel {
		cfg.Scraper.ParallelSites = true
	}

	a, err := build(cmd, sites)
	if err != nil {
		return err
	}
	defer a.Close()

	env := a.Scraper.SearchAll(cmd.Context(), query, sites, searchFlags.maxResults)

	out := cmd.OutOrStdout()
	console := format.NewConsole(out)

	var view any = env
	if searchFlags.detailed {
		view = format.ToDetailedView(env)
	}

	if searchFlags.output != outputJSON {
		if searchFlags.detailed {
			console.Detailed(view.(*models.DetailedEnvelope))
		} else {
			console.Envelope(env)
		}
	}

	if searchFlags.output != outputConsole {
		path := searchFlags.outputFile
		if path == "" {
			path = format.ResultFileName(query, searchFlags.detailed, time.Now())
		}
		if err := format.WriteJSON(path, view); err != nil {
			return err
		}
		fmt.Fprintf(out, "Results saved to %s\n", path)
	}

	if searchFlags.compare {
		phones := env.Phones()
		if len(phones) < 2 {
			fmt.Fprintf(out, "Need at least 2 phones to compare, found %d\n", len(phones))
			return nil
		}
		console.Comparison(scraper.Compare(phones))
	}

	return nil
}
