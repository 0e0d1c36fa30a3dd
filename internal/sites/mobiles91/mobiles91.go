// Package mobiles91 extracts Indian-market phone listings from
// www.91mobiles.com.
package mobiles91

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/phone-spec-scraper/internal/fetch"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/parser"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
)

const (
	BaseURL  = "https://www.91mobiles.com"
	Currency = "INR"

	maxAnchors   = 100
	minHighlight = 5
	linkMarker   = "price-in-india"
)

var (
	headingPattern   = regexp.MustCompile(`prdocutPage_.*_heading`)
	priceDivPattern  = regexp.MustCompile(`price`)
	priceSpanPattern = regexp.MustCompile(`pricee`)
	mrpPattern       = regexp.MustCompile(`MRP|Original`)
	rupeePattern     = regexp.MustCompile(`₹\s*[\d,]+`)
	galleryPattern   = regexp.MustCompile(`gallery|image`)
	specPattern      = regexp.MustCompile(`spec`)
	specRowPattern   = regexp.MustCompile(`spec.*row|spec.*item`)
	labelPattern     = regexp.MustCompile(`label|key|name`)
	valuePattern     = regexp.MustCompile(`value|data`)
	ratingPattern    = regexp.MustCompile(`rating`)
	scorePattern     = regexp.MustCompile(`(\d+\.?\d*)\s*/\s*\d+`)
	reviewsPattern   = regexp.MustCompile(`(?i)(\d+)\s*(?:reviews?|ratings?)`)
	featurePattern   = regexp.MustCompile(`feature|highlight|key`)
)

var outOfStockMarkers = []string{"out of stock", "not available", "coming soon", "discontinued"}

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
		logger:  opts.ComponentLogger("mobiles91"),
	}
}

func (s *Scraper) Name() models.Site { return models.SiteMobiles91 }

func (s *Scraper) Domain() string { return models.SiteMobiles91.Domain() }

// Search picks phone links from the home page. When no link matches the
// query the latest phones on the page are returned instead.
func (s *Scraper) Search(ctx context.Context, query string, maxResults int) ([]*models.Phone, error) {
	s.logger.Info("searching", "query", query, "max_results", maxResults)

	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: s.opts.BaseURL + "/", MaxRetries: s.opts.MaxRetries})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return []*models.Phone{}, ctxErr
		}
		s.logger.Warn("search failed", "query", query, "error", err)
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

	words := parser.QueryWords(query)
	links := s.phoneLinks(doc, words, maxResults)
	if len(links) == 0 && len(words) > 0 {
		s.logger.Info("no exact matches, using latest phones", "query", query)
		links = s.phoneLinks(doc, nil, maxResults)
	}
	if len(links) == 0 {
		return []*models.Phone{}, nil
	}
	s.logger.Info("found candidate links", "count", len(links))

	return sites.Collect(ctx, links, s.opts, s.logger, s.ScrapeDetail)
}

func (s *Scraper) phoneLinks(doc *goquery.Document, words []string, maxResults int) []string {
	seen := make(map[string]bool)
	var links []string

	anchors := doc.Find("a[href]")
	if anchors.Length() > maxAnchors {
		anchors = anchors.Slice(0, maxAnchors)
	}
	anchors.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.Contains(href, linkMarker) || seen[href] {
			return true
		}
		if !parser.MatchesQuery(words, a.Text(), href) {
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

// ParsePhone builds a Phone from a 91mobiles product page.
func ParsePhone(body []byte, pageURL string) (*models.Phone, error) {
	doc, err := parser.NewDocument(body)
	if err != nil {
		return nil, err
	}

	title := parser.MatchClass(doc.Selection, "h1", headingPattern)
	if title.Length() == 0 {
		title = doc.Find("h1")
	}
	brand, model, err := parser.SplitTitle(parser.Text(title))
	if err != nil {
		return nil, err
	}

	phone, err := models.NewPhone(brand, model, pageURL, models.SiteMobiles91)
	if err != nil {
		return nil, err
	}
	phone.Currency = Currency

	extractPrice(doc, phone)
	phone.SetImages(extractImages(doc))
	phone.Specs = extractSpecs(doc)
	extractRating(doc, phone)
	extractHighlights(doc, phone)
	phone.InStock = inStock(doc)

	phone.Normalize()
	return phone, nil
}

func extractPrice(doc *goquery.Document, phone *models.Phone) {
	section := parser.MatchClass(doc.Selection, "div", priceDivPattern).First()
	if section.Length() == 0 {
		return
	}

	current := parser.MatchClass(section, "span", priceSpanPattern)
	if current.Length() == 0 {
		current = section.Find("span")
	}
	if p := rupeePattern.FindString(parser.Text(current)); p != "" {
		phone.Price = &p
	}

	section.Find("span").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return mrpPattern.MatchString(s.Text())
	}).First().Each(func(_ int, s *goquery.Selection) {
		if p := rupeePattern.FindString(parser.CleanText(s.Parent().Text())); p != "" {
			phone.OriginalPrice = &p
		}
	})

	phone.Discounted = phone.Price != nil && phone.OriginalPrice != nil && *phone.Price != *phone.OriginalPrice
}

func extractImages(doc *goquery.Document) []string {
	var images []string
	parser.MatchClass(doc.Selection, "div", galleryPattern).First().Find("img").Each(func(_ int, img *goquery.Selection) {
		if src := parser.ImageSource(img); src != "" {
			images = append(images, parser.Absolute(BaseURL, src))
		}
	})
	return images
}

func extractSpecs(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)

	parser.MatchClass(doc.Selection, "div", specPattern).First().Find("li").Each(func(_ int, li *goquery.Selection) {
		text := parser.CleanText(li.Text())
		if text == "" {
			return
		}
		if key, value, ok := strings.Cut(text, ":"); ok {
			specs[strings.TrimSpace(key)] = strings.TrimSpace(value)
			return
		}
		specs[text] = text
	})

	parser.MatchClass(doc.Selection, "div", specRowPattern).Each(func(_ int, row *goquery.Selection) {
		label := parser.MatchClass(row, "*", labelPattern)
		value := parser.MatchClass(row, "*", valuePattern)
		if label.Length() > 0 && value.Length() > 0 {
			specs[parser.Text(label)] = parser.Text(value)
		}
	})

	return specs
}

func extractRating(doc *goquery.Document, phone *models.Phone) {
	text := parser.Text(parser.MatchClass(doc.Selection, "*", ratingPattern))
	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			phone.Rating = &v
		}
	}
	if m := reviewsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			phone.ReviewsCount = &n
		}
	}
}

func extractHighlights(doc *goquery.Document, phone *models.Phone) {
	section := parser.MatchClass(doc.Selection, "div", featurePattern).First()
	section.Find("li, p, div").Each(func(_ int, item *goquery.Selection) {
		if text := parser.CleanText(item.Text()); len(text) > minHighlight {
			phone.AddHighlight(text)
		}
	})
}

func inStock(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Text())
	for _, marker := range outOfStockMarkers {
		if strings.Contains(text, marker) {
			return false
		}
	}
	return true
}
