// Package kimovil extracts phone data and store price comparisons from
// www.kimovil.com.
package kimovil

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/phone-spec-scraper/internal/fetch"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/parser"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
)

const (
	BaseURL = "https://www.kimovil.com"

	maxAnchors     = 200
	maxDescription = 500
	minHighlight   = 5
)

var (
	digitPattern      = regexp.MustCompile(`\d`)
	priceClassPattern = regexp.MustCompile(`price`)
	priceValuePattern = regexp.MustCompile(`pricing-price-value`)
	ratingPattern     = regexp.MustCompile(`rating`)
)

func DefaultOptions() sites.Options {
	return sites.Options{
		BaseURL:    BaseURL,
		DelayMin:   2 * time.Second,
		DelayMax:   5 * time.Second,
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
		logger:  opts.ComponentLogger("kimovil"),
	}
}

func (s *Scraper) Name() models.Site { return models.SiteKimovil }

func (s *Scraper) Domain() string { return models.SiteKimovil.Domain() }

// Search discovers device links on the English home page and filters them
// by query words. Kimovil has no usable search endpoint.
func (s *Scraper) Search(ctx context.Context, query string, maxResults int) ([]*models.Phone, error) {
	s.logger.Info("searching", "query", query, "max_results", maxResults)

	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: s.opts.BaseURL + "/en/", MaxRetries: s.opts.MaxRetries})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return []*models.Phone{}, ctxErr
		}
		s.logger.Warn("home page blocked or unavailable", "error", err)
		return []*models.Phone{}, nil
	}
	if fetch.HasChallengePrefix(resp) {
		s.logger.Warn("challenge page detected, automated search unavailable")
		return []*models.Phone{}, nil
	}

	doc, err := parser.NewDocument(resp.Body)
	if err != nil {
		s.logger.Warn("failed to parse home page", "error", err)
		return []*models.Phone{}, nil
	}

	links := s.phoneLinks(doc, query, maxResults)
	if len(links) == 0 {
		s.logger.Warn("no phone links found", "query", query)
		return []*models.Phone{}, nil
	}
	s.logger.Info("found candidate links", "count", len(links))

	return sites.Collect(ctx, links, s.opts, s.logger, s.ScrapeDetail)
}

// phoneLinks returns device links (/en/<name>-<id>.htm) matching query.
func (s *Scraper) phoneLinks(doc *goquery.Document, query string, maxResults int) []string {
	words := parser.QueryWords(query)
	seen := make(map[string]bool)
	var links []string

	anchors := doc.Find("a[href]")
	if anchors.Length() > maxAnchors {
		anchors = anchors.Slice(0, maxAnchors)
	}
	anchors.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "/en/") || !strings.Contains(href, ".htm") || !digitPattern.MatchString(href) {
			return true
		}
		if !parser.MatchesQuery(words, a.Text(), href) || seen[href] {
			return true
		}
		seen[href] = true
		links = append(links, parser.Absolute(s.opts.BaseURL, href))
		return !sites.Full(len(links), maxResults)
	})
	return links
}

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

// ParsePhone builds a Phone from a Kimovil device page.
func ParsePhone(body []byte, pageURL string) (*models.Phone, error) {
	doc, err := parser.NewDocument(body)
	if err != nil {
		return nil, err
	}

	title := doc.Find("h1.pricing-title")
	if title.Length() == 0 {
		title = doc.Find("h1")
	}
	brand, model, err := parser.SplitTitle(parser.Text(title))
	if err != nil {
		return nil, err
	}

	phone, err := models.NewPhone(brand, model, pageURL, models.SiteKimovil)
	if err != nil {
		return nil, err
	}

	extractPrice(doc, phone)
	phone.SetImages(extractImages(doc))
	phone.Specs = extractSpecs(doc)

	if v, ok := parser.FirstNumber(parser.Text(parser.MatchClass(doc.Selection, "*", ratingPattern))); ok {
		phone.Rating = &v
	}
	extractHighlights(doc, phone)
	phone.Description = extractDescription(doc)

	phone.Normalize()
	return phone, nil
}

func extractPrice(doc *goquery.Document, phone *models.Phone) {
	section := doc.Find("div.pricing-price-best-section").First()
	if section.Length() == 0 {
		section = parser.MatchClass(doc.Selection, "div", priceClassPattern).First()
	}
	if section.Length() == 0 {
		return
	}
	value := parser.MatchClass(section, "*", priceValuePattern)
	if price, currency, ok := parser.FindPrice(parser.Text(value)); ok {
		phone.Price = &price
		phone.Currency = currency
	}
}

func extractImages(doc *goquery.Document) []string {
	var images []string
	if src := parser.ImageSource(doc.Find("img.img-gallery-main").First()); src != "" {
		images = append(images, parser.Absolute(BaseURL, src))
	}
	doc.Find("div.img-gallery-thumbnails img").Each(func(_ int, img *goquery.Selection) {
		if src := parser.ImageSource(img); src != "" {
			images = append(images, parser.Absolute(BaseURL, src))
		}
	})
	return images
}

func extractSpecs(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)
	doc.Find("table.specs tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key, value := parser.Text(cells.Eq(0)), parser.Text(cells.Eq(1))
		if key != "" && value != "" {
			specs[key] = value
		}
	})
	doc.Find("div.spec-row").Each(func(_ int, row *goquery.Selection) {
		key, value := parser.Text(row.Find(".spec-label")), parser.Text(row.Find(".spec-value"))
		if key != "" && value != "" {
			specs[key] = value
		}
	})
	return specs
}

func extractHighlights(doc *goquery.Document, phone *models.Phone) {
	doc.Find("div.key-specs").First().Find("li, div").Each(func(_ int, item *goquery.Selection) {
		if text := parser.CleanText(item.Text()); len(text) > minHighlight {
			phone.AddHighlight(text)
		}
	})
	doc.Find("ul.summary").First().Find("li").Each(func(_ int, li *goquery.Selection) {
		phone.AddHighlight(parser.CleanText(li.Text()))
	})
}

func extractDescription(doc *goquery.Document) *string {
	desc := doc.Find("div.description").First()
	if desc.Length() == 0 {
		desc = doc.Find("div.product-description").First()
	}
	if desc.Length() == 0 {
		return nil
	}
	if p := desc.Find("p"); p.Length() > 0 {
		return models.StringPtr(parser.Text(p))
	}
	return models.StringPtr(parser.Truncate(parser.CleanText(desc.Text()), maxDescription))
}

// PriceComparisons reads the per-store offer table of a device page.
func (s *Scraper) PriceComparisons(ctx context.Context, pageURL string) ([]models.PriceOffer, error) {
	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: pageURL, MaxRetries: s.opts.MaxRetries})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	doc, err := parser.NewDocument(resp.Body)
	if err != nil {
		return nil, err
	}

	offers := make([]models.PriceOffer, 0)
	doc.Find("table.pricing-offers tr").Each(func(_ int, row *goquery.Selection) {
		store, price := row.Find(".pricing-offer-store").First(), row.Find(".pricing-offer-price").First()
		if store.Length() == 0 || price.Length() == 0 {
			return
		}
		link, _ := store.Find("a").First().Attr("href")
		offers = append(offers, models.PriceOffer{
			Store: parser.Text(store),
			Price: parser.Text(price),
			Link:  link,
		})
	})

	s.logger.Info("found price comparisons", "url", pageURL, "count", len(offers))
	return offers, nil
}
