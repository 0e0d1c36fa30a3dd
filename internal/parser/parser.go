// Package parser holds the HTML helpers shared by the site extractors.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// UnknownBrand is used when a title holds a single token.
const UnknownBrand = "Unknown"

var ErrNoTitle = errors.New("no title found on page")

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	numberPattern     = regexp.MustCompile(`(\d+\.?\d*)`)

	// PricePattern matches a symbol-prefixed amount such as "$ 799" or "₹1,29,999".
	PricePattern = regexp.MustCompile(`[€$£₹¥]\s*[\d,]+`)
	// DecimalPricePattern also keeps cents and captures symbol and amount.
	DecimalPricePattern = regexp.MustCompile(`([€$£₹¥])\s*([\d,]+(?:\.\d{2})?)`)
)

var currencies = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"₹": "INR",
	"¥": "JPY",
}

// NewDocument parses a fetched body.
func NewDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// CleanText trims s and collapses runs of whitespace into one space.
func CleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// Text returns the cleaned text of the first element in sel.
func Text(sel *goquery.Selection) string {
	return CleanText(sel.First().Text())
}

// OwnText returns the cleaned text of sel's direct text nodes, skipping
// the text of child elements.
func OwnText(sel *goquery.Selection) string {
	var parts []string
	sel.First().Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := CleanText(c.Text()); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, " ")
}

// SplitTitle splits a "Brand Model ..." title on its first whitespace.
// A single token becomes the model of an Unknown brand.
func SplitTitle(title string) (brand, model string, err error) {
	title = CleanText(title)
	if title == "" {
		return "", "", ErrNoTitle
	}
	parts := strings.SplitN(title, " ", 2)
	if len(parts) == 1 {
		return UnknownBrand, parts[0], nil
	}
	return parts[0], parts[1], nil
}

// SplitBrandElement reads the brand from a distinguished child element of
// title and the model from title's own text. It falls back to SplitTitle
// when either part is missing.
func SplitBrandElement(title *goquery.Selection, brandSelector string) (brand, model string, err error) {
	if title.Length() == 0 {
		return "", "", ErrNoTitle
	}
	brand = Text(title.Find(brandSelector))
	model = OwnText(title)
	if brand != "" && model != "" {
		return brand, model, nil
	}
	return SplitTitle(title.First().Text())
}

// Absolute resolves a scraped href or src against base
// ("https://www.example.com", no trailing slash).
func Absolute(base, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	default:
		return strings.TrimRight(base, "/") + "/" + href
	}
}

// ImageSource returns src, or data-src for lazily loaded images.
func ImageSource(img *goquery.Selection) string {
	if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	src, _ := img.Attr("data-src")
	return strings.TrimSpace(src)
}

// CurrencyFor maps a currency symbol to its ISO code, USD when unknown.
func CurrencyFor(symbol string) string {
	if code, ok := currencies[symbol]; ok {
		return code
	}
	return "USD"
}

// FindPrice extracts the first symbol-prefixed price in text.
func FindPrice(text string) (price, currency string, ok bool) {
	m := DecimalPricePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1] + m[2], CurrencyFor(m[1]), true
}

// FirstNumber parses the first decimal number in text.
func FirstNumber(text string) (float64, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MatchClass selects the elements matching selector whose class attribute
// matches pattern.
func MatchClass(root *goquery.Selection, selector string, pattern *regexp.Regexp) *goquery.Selection {
	return root.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, ok := s.Attr("class")
		return ok && pattern.MatchString(class)
	})
}

// QueryWords lowercases and splits a search query.
func QueryWords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// MatchesQuery reports whether any query word occurs in the link text or
// href. An empty query matches everything.
func MatchesQuery(words []string, linkText, href string) bool {
	if len(words) == 0 {
		return true
	}
	linkText = strings.ToLower(linkText)
	href = strings.ToLower(href)
	for _, w := range words {
		if strings.Contains(linkText, w) || strings.Contains(href, w) {
			return true
		}
	}
	return false
}

// Truncate cuts s to n runes and appends "..." when it was longer.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
