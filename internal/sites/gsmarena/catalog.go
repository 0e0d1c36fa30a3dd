package gsmarena

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/phone-spec-scraper/internal/parser"
	"github.com/maltedev/phone-spec-scraper/internal/ratelimit"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
)

var devicesPattern = regexp.MustCompile(`(\d+)\s+devices?`)

// Maker is one brand from the makers index.
type Maker struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Devices int    `json:"devices"`
}

// Category is a device-class listing.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Categories returns the device-class listings in scraping order.
func (s *Scraper) Categories() []Category {
	base := s.opts.BaseURL
	return []Category{
		{Name: "Smartphones", URL: base + "/results.php3?sQuickSearch=yes&mode=allphones"},
		{Name: "Tablets", URL: base + "/results.php3?nTabletYes=1"},
		{Name: "Smart Watches", URL: base + "/results.php3?nSmartWatchesYes=1"},
		{Name: "Feature Phones", URL: base + "/results.php3?nFeaturePhoneYes=1"},
	}
}

// Makers lists every brand on the makers index with its device count.
func (s *Scraper) Makers(ctx context.Context) ([]Maker, error) {
	doc, err := s.document(ctx, s.opts.BaseURL+"/makers.php3")
	if err != nil {
		return nil, fmt.Errorf("failed to load makers page: %w", err)
	}

	var makers []Maker
	doc.Find("table td a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		name := parser.OwnText(a)
		if name == "" {
			name = parser.CleanText(a.Text())
		}
		if href == "" || name == "" {
			return
		}

		maker := Maker{Name: name, URL: parser.Absolute(s.opts.BaseURL, href)}
		if m := devicesPattern.FindStringSubmatch(a.Parent().Text()); m != nil {
			maker.Devices, _ = strconv.Atoi(m[1])
			maker.Name = strings.TrimSpace(strings.TrimSuffix(maker.Name, m[0]))
		}
		makers = append(makers, maker)
	})

	s.logger.Info("found makers", "count", len(makers))
	return makers, nil
}

// ListOptions controls listing pagination.
type ListOptions struct {
	MaxResults   int
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

// ListPhoneURLs walks a paginated listing (&iPage=N) and collects device
// page URLs until the last page or MaxResults is reached.
func (s *Scraper) ListPhoneURLs(ctx context.Context, listingURL string, opts ListOptions) ([]string, error) {
	var urls []string
	pacer := ratelimit.NewPacer(opts.PageDelayMin, opts.PageDelayMax)

	for page := 1; ; page++ {
		if err := pacer.Wait(ctx); err != nil {
			return urls, err
		}

		doc, err := s.document(ctx, pageURL(listingURL, page))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return urls, ctxErr
			}
			s.logger.Warn("failed to load listing page", "page", page, "error", err)
			return urls, nil
		}

		links := doc.Find("div.makers a")
		if links.Length() == 0 {
			s.logger.Info("no more phones", "page", page)
			return urls, nil
		}

		full := false
		links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if !strings.HasSuffix(href, ".php") {
				return true
			}
			urls = append(urls, parser.Absolute(s.opts.BaseURL, href))
			full = sites.Full(len(urls), opts.MaxResults)
			return !full
		})
		s.logger.Info("listing page loaded", "page", page, "links", links.Length(), "total", len(urls))

		if full || doc.Find("a.pages-next").Length() == 0 {
			return urls, nil
		}
	}
}

func pageURL(listingURL string, page int) string {
	if page == 1 {
		return listingURL
	}
	sep := "?"
	if strings.Contains(listingURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%siPage=%d", listingURL, sep, page)
}
