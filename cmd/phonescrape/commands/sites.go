package commands

import (
	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/format"
	"github.com/maltedev/phone-spec-scraper/internal/models"
)

func init() {
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:     "sites",
	Aliases: []string{"list-sites"},
	Short:   "Lists the supported catalog sites.",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		domains := make(map[models.Site]string, len(models.AllSites))
		for _, s := range models.AllSites {
			domains[s] = s.Domain()
		}
		format.NewConsole(cmd.OutOrStdout()).Sites(models.AllSites, domains)
	},
}
