package format

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/parser"
)

const (
	notAvailable  = "N/A"
	maxNameWidth  = 40
	maxValueWidth = 50
	maxHighlights = 5
)

var keySpecLabels = []string{"Display", "Chipset", "Battery", "Main Camera"}

// Console renders results as terminal tables.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(c.out)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

// Envelope prints one table per site in declared order, failed sites as a
// single error line.
func (c *Console) Envelope(env *models.Envelope) {
	fmt.Fprintf(c.out, "Found %d phones for %q\n", env.TotalFound, env.Query)

	for _, site := range env.Sites() {
		r := env.Scrapers[site]
		if r.Status == models.StatusError {
			fmt.Fprintf(c.out, "%s: error: %s\n", strings.ToUpper(string(site)), r.Error)
			continue
		}
		if r.Count == 0 {
			fmt.Fprintf(c.out, "%s: no results\n", strings.ToUpper(string(site)))
			continue
		}

		t := c.newTable(fmt.Sprintf("%s (%d)", strings.ToUpper(string(site)), r.Count))
		t.AppendHeader(table.Row{"#", "Name", "Price", "Rating", "Key specs", "URL"})
		for i, p := range r.Phones {
			t.AppendRow(table.Row{i + 1, parser.Truncate(p.Name(), maxNameWidth), orNA(p.Price), rating(p.Rating), keySpecs(p), p.URL})
		}
		t.Render()
	}
}

// Detailed prints every display record of a detailed view.
func (c *Console) Detailed(view *models.DetailedEnvelope) {
	if len(view.Result) == 0 {
		fmt.Fprintln(c.out, "No detailed results available.")
		return
	}
	fmt.Fprintf(c.out, "Detailed results (%d phones)\n", view.TotalResult)

	for _, p := range view.Result {
		t := c.newTable(p.Name)
		t.AppendRow(table.Row{"Price", orNA(p.CurrentPrice)})
		if p.OriginalPrice != nil {
			t.AppendRow(table.Row{"Original price", *p.OriginalPrice})
			t.AppendRow(table.Row{"Discounted", p.Discounted})
		}
		t.AppendRow(table.Row{"Rating", rating(p.Rating)})
		t.AppendRow(table.Row{"In stock", p.InStock})
		t.AppendRow(table.Row{"Source", p.Source})
		t.AppendRow(table.Row{"Seller", p.Seller.SellerName})

		highlights := p.Highlights
		if len(highlights) > maxHighlights {
			highlights = highlights[:maxHighlights]
		}
		if len(highlights) > 0 {
			t.AppendRow(table.Row{"Highlights", strings.Join(highlights, "\n")})
		}

		t.AppendSeparator()
		for _, cat := range p.Specs {
			t.AppendRow(table.Row{cat.Title, fmt.Sprintf("%d properties", len(cat.Details))})
		}
		t.AppendSeparator()
		t.AppendRow(table.Row{"Images", len(p.AllThumbnails)})
		t.AppendRow(table.Row{"URL", p.Link})
		t.Render()
	}
}

// Phone prints the full specification sheet of one phone.
func (c *Console) Phone(p *models.Phone) {
	t := c.newTable(p.Name())
	t.AppendRow(table.Row{"Price", orNA(p.Price)})
	t.AppendRow(table.Row{"Currency", p.Currency})
	t.AppendRow(table.Row{"Rating", rating(p.Rating)})
	t.AppendRow(table.Row{"Source", p.Source})
	t.AppendRow(table.Row{"URL", p.URL})
	t.AppendSeparator()

	keys := make([]string, 0, len(p.Specs))
	for k := range p.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.AppendRow(table.Row{k, parser.Truncate(p.Specs[k], maxValueWidth)})
	}
	t.Render()
}

// Comparison prints the phones side by side, one row per spec key.
func (c *Console) Comparison(cmp *models.Comparison) {
	if len(cmp.Phones) < 2 {
		fmt.Fprintf(c.out, "Need at least 2 phones to compare, found %d\n", len(cmp.Phones))
		return
	}

	header := table.Row{"Spec"}
	price := table.Row{"Price"}
	score := table.Row{"Rating"}
	for _, p := range cmp.Phones {
		header = append(header, parser.Truncate(p.Name, maxNameWidth))
		price = append(price, orNA(p.Price))
		score = append(score, rating(p.Rating))
	}

	t := c.newTable(fmt.Sprintf("Comparing %d phones", len(cmp.Phones)))
	t.AppendHeader(header)
	t.AppendRow(price)
	t.AppendRow(score)
	t.AppendSeparator()
	for _, k := range cmp.Keys {
		row := table.Row{k}
		for _, v := range cmp.SpecsComparison[k] {
			row = append(row, parser.Truncate(v, maxValueWidth))
		}
		t.AppendRow(row)
	}
	t.Render()
}

// Offers prints a store price comparison.
func (c *Console) Offers(offers []models.PriceOffer) {
	if len(offers) == 0 {
		fmt.Fprintln(c.out, "No price offers found.")
		return
	}
	t := c.newTable("Prices")
	t.AppendHeader(table.Row{"Store", "Price", "Link"})
	for _, o := range offers {
		t.AppendRow(table.Row{o.Store, o.Price, o.Link})
	}
	t.Render()
}

// Sites lists the supported sites.
func (c *Console) Sites(sites []models.Site, domains map[models.Site]string) {
	t := c.newTable("Supported sites")
	t.AppendHeader(table.Row{"Site", "Domain"})
	for _, s := range sites {
		t.AppendRow(table.Row{s, domains[s]})
	}
	t.Render()
}

func keySpecs(p *models.Phone) string {
	var parts []string
	for _, label := range keySpecLabels {
		if v := specValue(p.Specs, label); v != "" {
			parts = append(parts, parser.Truncate(v, 25))
		}
	}
	if len(parts) == 0 {
		return notAvailable
	}
	return strings.Join(parts, " | ")
}

// specValue returns the value of the alphabetically first key containing label.
func specValue(flat map[string]string, label string) string {
	lower := strings.ToLower(label)
	match := ""
	for k := range flat {
		if strings.Contains(strings.ToLower(k), lower) && (match == "" || k < match) {
			match = k
		}
	}
	if match == "" {
		return ""
	}
	return flat[match]
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return notAvailable
	}
	return *s
}

func rating(r *float64) string {
	if r == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*r, 'f', -1, 64)
}

