// Package format turns search envelopes into the views handed to users.
package format

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/specs"
)

const (
	DataDir         = "data"
	timestampLayout = "20060102_150405"
)

// ToDetailedView flattens an envelope into display records, sites in
// declared order. Sites that found nothing are skipped. The envelope is
// never mutated.
func ToDetailedView(env *models.Envelope) *models.DetailedEnvelope {
	out := &models.DetailedEnvelope{
		TotalResult: env.TotalFound,
		Query:       env.Query,
		Timestamp:   env.Timestamp,
		Result:      make([]models.DetailedPhone, 0, env.TotalFound),
	}

	for _, site := range env.Sites() {
		result := env.Scrapers[site]
		if result == nil || result.Count == 0 {
			continue
		}
		for _, p := range result.Phones {
			out.Result = append(out.Result, detailed(p, site))
		}
	}
	return out
}

func detailed(p *models.Phone, site models.Site) models.DetailedPhone {
	source := p.Source
	if source == "" {
		source = site
	}

	sellerName := string(site)
	if p.SellerName != nil && *p.SellerName != "" {
		sellerName = *p.SellerName
	}

	var categories []models.SpecCategory
	if len(p.DetailedSpecs) > 0 {
		categories = copyCategories(p.DetailedSpecs)
	} else {
		categories = specs.Categorize(p.Specs)
	}

	thumbnails := p.AllImages
	if len(thumbnails) == 0 {
		thumbnails = p.Images
	}

	return models.DetailedPhone{
		Name:          p.Name(),
		Link:          p.URL,
		CurrentPrice:  copyString(p.Price),
		OriginalPrice: copyString(p.OriginalPrice),
		Discounted:    p.Discounted,
		Thumbnail:     copyString(p.Thumbnail),
		QueryURL:      p.URL,
		Rating:        copyFloat(p.Rating),
		InStock:       p.InStock,
		FAssured:      p.FAssured,
		Source:        source,
		Seller: models.Seller{
			SellerName:   sellerName,
			SellerRating: copyFloat(p.SellerRating),
		},
		Highlights:    copyStrings(p.Highlights),
		Offers:        append(make([]models.Offer, 0, len(p.Offers)), p.Offers...),
		Specs:         categories,
		AllThumbnails: copyStrings(thumbnails),
	}
}

// ToBasicView is the compact listing used by the HTTP basic mode.
func ToBasicView(env *models.Envelope) *models.BasicView {
	phones := env.Phones()
	out := &models.BasicView{
		Query:        env.Query,
		TotalResults: len(phones),
		Phones:       make([]models.BasicPhone, 0, len(phones)),
	}
	for _, p := range phones {
		out.Phones = append(out.Phones, models.BasicPhone{
			Name:     p.Name(),
			Brand:    p.Brand,
			Price:    copyString(p.Price),
			Rating:   copyFloat(p.Rating),
			URL:      p.URL,
			ImageURL: copyString(p.Thumbnail),
			Source:   p.Source,
		})
	}
	return out
}

// SafeFileName replaces every rune that is not a letter or digit with "_".
func SafeFileName(query string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, query)
}

// ResultFileName names the file a search is saved to.
func ResultFileName(query string, detailedView bool, now time.Time) string {
	prefix := "search"
	if detailedView {
		prefix = "detailed"
	}
	return filepath.Join(DataDir, fmt.Sprintf("%s_%s_%s.json", prefix, SafeFileName(query), now.Format(timestampLayout)))
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyStrings(in []string) []string {
	return append(make([]string, 0, len(in)), in...)
}

func copyCategories(in []models.SpecCategory) []models.SpecCategory {
	out := make([]models.SpecCategory, 0, len(in))
	for _, c := range in {
		out = append(out, models.SpecCategory{
			Title:   c.Title,
			Details: append(make([]models.SpecDetail, 0, len(c.Details)), c.Details...),
		})
	}
	return out
}
