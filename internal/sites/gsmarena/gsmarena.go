// Package gsmarena extracts phone specifications from www.gsmarena.com.
package gsmarena

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/phone-spec-scraper/internal/fetch"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/parser"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
)

const BaseURL = "https://www.gsmarena.com"

var (
	yearPattern      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	dimensionPattern = regexp.MustCompile(`([\d.]+)\s*x\s*([\d.]+)\s*x\s*([\d.]+)\s*mm`)
)

func DefaultOptions() sites.Options {
	return sites.Options{
		BaseURL:    BaseURL,
		DelayMin:   5 * time.Second,
		DelayMax:   10 * time.Second,
		MaxRetries: 3,
	}
}

type Scraper struct {
	fetcher fetch.Fetcher
	opts    sites.Options
	logger  *slog.Logger
}

func New(f fetch.Fetcher, opts sites.Options) *Scraper {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Scraper{
		fetcher: f,
		opts:    opts,
		logger:  opts.ComponentLogger("gsmarena"),
	}
}

func (s *Scraper) Name() models.Site { return models.SiteGSMArena }

func (s *Scraper) Domain() string { return models.SiteGSMArena.Domain() }

// SearchURL builds the quick-search listing URL for query.
func (s *Scraper) SearchURL(query string) string {
	return fmt.Sprintf("%s/results.php3?sQuickSearch=yes&sName=%s", s.opts.BaseURL, url.QueryEscape(query))
}

// Search returns up to maxResults phones in listing order. A failed listing
// fetch yields an empty result rather than an error.
func (s *Scraper) Search(ctx context.Context, query string, maxResults int) ([]*models.Phone, error) {
	s.logger.Info("searching", "query", query, "max_results", maxResults)

	doc, err := s.document(ctx, s.SearchURL(query))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return []*models.Phone{}, ctxErr
		}
		s.logger.Warn("search failed", "query", query, "error", err)
		return []*models.Phone{}, nil
	}

	var links []string
	doc.Find("div.makers ul li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		href, ok := li.Find("a").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		links = append(links, parser.Absolute(s.opts.BaseURL, href))
		return !sites.Full(len(links), maxResults)
	})

	if len(links) == 0 {
		s.logger.Info("no search results", "query", query)
		return []*models.Phone{}, nil
	}

	return sites.Collect(ctx, links, s.opts, s.logger, s.ScrapeDetail)
}

// ScrapeDetail fetches and parses one phone page.
func (s *Scraper) ScrapeDetail(ctx context.Context, pageURL string) (*models.Phone, error) {
	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: pageURL, MaxRetries: s.opts.MaxRetries})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	phone, err := ParsePhone(resp.Body, pageURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scraped phone", "name", phone.Name(), "url", pageURL)
	return phone, nil
}

func (s *Scraper) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: pageURL, MaxRetries: s.opts.MaxRetries})
	if err != nil {
		return nil, err
	}
	return parser.NewDocument(resp.Body)
}

// ParsePhone builds a Phone from a GSMArena device page.
func ParsePhone(body []byte, pageURL string) (*models.Phone, error) {
	doc, err := parser.NewDocument(body)
	if err != nil {
		return nil, err
	}

	// The device heading is required; error and challenge pages carry a
	// <title> but no heading.
	brand, model, err := parser.SplitBrandElement(doc.Find("h1.specs-phone-name-title"), "a")
	if err != nil {
		return nil, err
	}

	phone, err := models.NewPhone(brand, model, pageURL, models.SiteGSMArena)
	if err != nil {
		return nil, err
	}

	phone.Specs, phone.DetailedSpecs = extractSpecs(doc)
	extractPrice(doc, phone)
	phone.SetImages(extractImages(doc))

	if v, ok := parser.FirstNumber(parser.Text(doc.Find("div.rating-bar"))); ok {
		phone.Rating = &v
	}
	doc.Find("div.quickspec-list div.quickspec-item").Each(func(_ int, item *goquery.Selection) {
		phone.AddHighlight(parser.CleanText(item.Text()))
	})

	backfillTechnical(phone)
	phone.Normalize()
	return phone, nil
}

// extractSpecs reads the th-titled spec tables. Rows with an empty label
// continue the previous property.
func extractSpecs(doc *goquery.Document) (map[string]string, []models.SpecCategory) {
	flat := make(map[string]string)
	detailed := make([]models.SpecCategory, 0)

	doc.Find(`table[cellspacing="0"]`).Each(func(_ int, table *goquery.Selection) {
		category := models.SpecCategory{Title: parser.Text(table.Find("th"))}
		prev := ""

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			nfo := row.Find("td.nfo")
			if nfo.Length() == 0 {
				return
			}
			value := parser.Text(nfo)
			label := parser.Text(row.Find("td.ttl"))

			if label == "" {
				if prev == "" || value == "" {
					return
				}
				flat[prev] = joinValue(flat[prev], value)
				if n := len(category.Details); n > 0 {
					category.Details[n-1].Value = joinValue(category.Details[n-1].Value, value)
				}
				return
			}

			prev = label
			flat[label] = value
			category.Details = append(category.Details, models.SpecDetail{Property: label, Value: value})
		})

		if category.Title != "" && len(category.Details) > 0 {
			detailed = append(detailed, category)
		}
	})

	return flat, detailed
}

func joinValue(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func extractPrice(doc *goquery.Document, phone *models.Phone) {
	text := parser.Text(doc.Find("div.specs-price-title"))
	price := parser.PricePattern.FindString(text)
	if price == "" {
		price = parser.PricePattern.FindString(phone.Specs["Price"])
	}
	if price == "" {
		return
	}
	phone.Price = &price
	phone.Currency = parser.CurrencyFor(firstRune(price))
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

func extractImages(doc *goquery.Document) []string {
	var images []string
	if src := parser.ImageSource(doc.Find("div.specs-photo-main img").First()); src != "" {
		images = append(images, parser.Absolute(BaseURL, src))
	}
	doc.Find("div.specs-photo-carousel img").Each(func(_ int, img *goquery.Selection) {
		if src := parser.ImageSource(img); src != "" {
			images = append(images, parser.Absolute(BaseURL, src))
		}
	})
	return images
}

// backfillTechnical copies well-known spec rows into the typed fields.
func backfillTechnical(phone *models.Phone) {
	if announced, ok := phone.Specs["Announced"]; ok {
		phone.LaunchDate = models.StringPtr(announced)
		if year := yearPattern.FindString(announced); year != "" {
			phone.LaunchYear = &year
		}
	}

	if dims, ok := phone.Specs["Dimensions"]; ok {
		if m := dimensionPattern.FindStringSubmatch(dims); m != nil {
			phone.Dimensions = map[string]string{
				"height": m[1] + " mm",
				"width":  m[2] + " mm",
				"depth":  m[3] + " mm",
			}
		}
	}

	if weight, ok := phone.Specs["Weight"]; ok {
		phone.Weight = models.StringPtr(weight)
	}

	if colors, ok := phone.Specs["Colors"]; ok {
		for _, c := range strings.Split(colors, ",") {
			if c = strings.TrimSpace(c); c != "" {
				phone.Colors = append(phone.Colors, c)
			}
		}
	}
}
