package models

import (
	"sort"
	"time"
)

type SiteStatus string

const (
	StatusSuccess SiteStatus = "success"
	StatusError   SiteStatus = "error"
)

// SiteResult is the outcome of searching one site.
type SiteResult struct {
	Status SiteStatus `json:"status"`
	Count  int        `json:"count"`
	Phones []*Phone   `json:"phones"`
	Error  string     `json:"error,omitempty"`
}

func SuccessResult(phones []*Phone) *SiteResult {
	if phones == nil {
		phones = make([]*Phone, 0)
	}
	return &SiteResult{Status: StatusSuccess, Count: len(phones), Phones: phones}
}

func ErrorResult(err error) *SiteResult {
	return &SiteResult{Status: StatusError, Count: 0, Phones: make([]*Phone, 0), Error: err.Error()}
}

// Envelope aggregates the per-site results of one search call.
type Envelope struct {
	Query      string               `json:"query"`
	Timestamp  time.Time            `json:"timestamp"`
	Scrapers   map[Site]*SiteResult `json:"scrapers"`
	TotalFound int                  `json:"total_found"`
}

func NewEnvelope(query string) *Envelope {
	return &Envelope{
		Query:     query,
		Timestamp: time.Now(),
		Scrapers:  make(map[Site]*SiteResult),
	}
}

// Set records a site result and keeps total_found equal to the sum of counts.
func (e *Envelope) Set(site Site, result *SiteResult) {
	if prev, ok := e.Scrapers[site]; ok {
		e.TotalFound -= prev.Count
	}
	e.Scrapers[site] = result
	e.TotalFound += result.Count
}

// Sites returns the sites present in the envelope, known sites in declared
// order first.
func (e *Envelope) Sites() []Site {
	present := make(map[Site]bool, len(e.Scrapers))
	for s := range e.Scrapers {
		present[s] = true
	}
	ordered := OrderSites(present)

	var extra []Site
	for s := range e.Scrapers {
		if !s.Valid() {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ordered, extra...)
}

// Phones returns every phone of every successful site in site order.
func (e *Envelope) Phones() []*Phone {
	var all []*Phone
	for _, s := range e.Sites() {
		r := e.Scrapers[s]
		if r.Status == StatusSuccess {
			all = append(all, r.Phones...)
		}
	}
	return all
}

// HasErrors reports whether any site failed.
func (e *Envelope) HasErrors() bool {
	for _, r := range e.Scrapers {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// ComparedPhone is the summary row of a comparison.
type ComparedPhone struct {
	Name   string   `json:"name"`
	Price  *string  `json:"price"`
	Rating *float64 `json:"rating"`
	Source Site     `json:"source"`
}

type Comparison struct {
	Phones          []ComparedPhone     `json:"phones"`
	SpecsComparison map[string][]string `json:"specs_comparison"`
	Keys            []string            `json:"-"`
}
