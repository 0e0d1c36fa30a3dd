package models

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultCurrency = "USD"
	MaxHighlights   = 10
)

var (
	ErrMissingIdentity = errors.New("phone brand and model are required")
	ErrThumbnailOrphan = errors.New("thumbnail is not one of the phone images")
)

// Phone is the normalized record produced by every site extractor.
// Optional values are pointers so they serialize as null instead of being omitted.
type Phone struct {
	Brand         string            `json:"brand"`
	Model         string            `json:"model"`
	URL           string            `json:"url"`
	Price         *string           `json:"price"`
	OriginalPrice *string           `json:"original_price"`
	Currency      string            `json:"currency"`
	Discounted    bool              `json:"discounted"`
	InStock       bool              `json:"in_stock"`
	Specs         map[string]string `json:"specs"`
	DetailedSpecs []SpecCategory    `json:"detailed_specs"`
	Images        []string          `json:"images"`
	AllImages     []string          `json:"all_images"`
	Thumbnail     *string           `json:"thumbnail"`
	Rating        *float64          `json:"rating"`
	ReviewsCount  *int              `json:"reviews_count"`
	Highlights    []string          `json:"highlights"`
	Description   *string           `json:"description"`

	SellerName     *string  `json:"seller_name"`
	SellerRating   *float64 `json:"seller_rating"`
	FAssured       bool     `json:"f_assured"`
	Offers         []Offer  `json:"offers"`
	BankOffers     []string `json:"bank_offers"`
	ExchangeOffers []string `json:"exchange_offers"`

	LaunchYear      *string           `json:"launch_year"`
	LaunchDate      *string           `json:"launch_date"`
	Dimensions      map[string]string `json:"dimensions"`
	Weight          *string           `json:"weight"`
	Colors          []string          `json:"colors"`
	Variants        []Variant         `json:"variants"`
	Warranty        *string           `json:"warranty"`
	WarrantySummary *string           `json:"warranty_summary"`
	ServiceType     *string           `json:"service_type"`

	Source Site `json:"source"`
}

// SpecCategory is one titled group of specification rows.
type SpecCategory struct {
	Title   string       `json:"title"`
	Details []SpecDetail `json:"details"`
}

type SpecDetail struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type Offer struct {
	OfferType   string `json:"offer_type"`
	Description string `json:"description"`
}

type Variant struct {
	Name       string            `json:"name"`
	Price      *string           `json:"price"`
	Attributes map[string]string `json:"attributes"`
}

// PriceOffer is a single store listing from a price comparison table.
type PriceOffer struct {
	Store string `json:"store"`
	Price string `json:"price"`
	Link  string `json:"link"`
}

// NewPhone validates the identity fields and returns a Phone with every
// collection initialized.
func NewPhone(brand, model, url string, source Site) (*Phone, error) {
	brand = strings.TrimSpace(brand)
	model = strings.TrimSpace(model)
	if brand == "" || model == "" {
		return nil, ErrMissingIdentity
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, source)
	}

	p := &Phone{
		Brand:    brand,
		Model:    model,
		URL:      url,
		Currency: DefaultCurrency,
		InStock:  true,
		Source:   source,
	}
	p.Normalize()
	return p, nil
}

func (p *Phone) Name() string {
	return p.Brand + " " + p.Model
}

// SetImages stores images in source order without duplicates and derives
// all_images and the thumbnail from them.
func (p *Phone) SetImages(images []string) {
	seen := make(map[string]bool, len(images))
	p.Images = make([]string, 0, len(images))
	for _, img := range images {
		if img == "" || seen[img] {
			continue
		}
		seen[img] = true
		p.Images = append(p.Images, img)
	}

	p.AllImages = append([]string(nil), p.Images...)
	p.Thumbnail = nil
	if len(p.Images) > 0 {
		thumb := p.Images[0]
		p.Thumbnail = &thumb
	}
}

// AddHighlight appends a highlight unless it is a duplicate or the cap is reached.
func (p *Phone) AddHighlight(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(p.Highlights) >= MaxHighlights {
		return false
	}
	for _, h := range p.Highlights {
		if h == text {
			return false
		}
	}
	p.Highlights = append(p.Highlights, text)
	return true
}

// Normalize restores non-nil collections, the highlight cap and the
// thumbnail/images relationship.
func (p *Phone) Normalize() {
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Specs == nil {
		p.Specs = make(map[string]string)
	}
	if p.DetailedSpecs == nil {
		p.DetailedSpecs = make([]SpecCategory, 0)
	}
	if p.Images == nil {
		p.Images = make([]string, 0)
	}
	if p.AllImages == nil || len(p.AllImages) != len(p.Images) {
		p.AllImages = append(make([]string, 0, len(p.Images)), p.Images...)
	}
	if p.Thumbnail != nil && !contains(p.Images, *p.Thumbnail) {
		p.Thumbnail = nil
	}
	if p.Thumbnail == nil && len(p.Images) > 0 {
		thumb := p.Images[0]
		p.Thumbnail = &thumb
	}
	if p.Highlights == nil {
		p.Highlights = make([]string, 0)
	}
	if len(p.Highlights) > MaxHighlights {
		p.Highlights = p.Highlights[:MaxHighlights]
	}
	if p.Offers == nil {
		p.Offers = make([]Offer, 0)
	}
	if p.BankOffers == nil {
		p.BankOffers = make([]string, 0)
	}
	if p.ExchangeOffers == nil {
		p.ExchangeOffers = make([]string, 0)
	}
	if p.Dimensions == nil {
		p.Dimensions = make(map[string]string)
	}
	if p.Colors == nil {
		p.Colors = make([]string, 0)
	}
	if p.Variants == nil {
		p.Variants = make([]Variant, 0)
	}
}

func (p *Phone) Validate() error {
	if strings.TrimSpace(p.Brand) == "" || strings.TrimSpace(p.Model) == "" {
		return ErrMissingIdentity
	}
	if !p.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSite, p.Source)
	}
	if p.Thumbnail != nil && !contains(p.Images, *p.Thumbnail) {
		return ErrThumbnailOrphan
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StringPtr returns nil for blank input.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
