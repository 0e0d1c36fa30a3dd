package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnknownSite = errors.New("unknown site")

// Site is the tag identifying a source catalog.
type Site string

const (
	SiteGSMArena  Site = "gsmarena"
	SiteMobiles91 Site = "91mobiles"
	SiteKimovil   Site = "kimovil"
)

// AllSites is the fixed order in which sites are searched and reported.
var AllSites = []Site{SiteGSMArena, SiteMobiles91, SiteKimovil}

func (s Site) Valid() bool {
	for _, known := range AllSites {
		if s == known {
			return true
		}
	}
	return false
}

func (s Site) String() string {
	return string(s)
}

var siteDomains = map[Site]string{
	SiteGSMArena:  "gsmarena.com",
	SiteMobiles91: "91mobiles.com",
	SiteKimovil:   "kimovil.com",
}

// Domain is the registrable domain the site is served from.
func (s Site) Domain() string {
	return siteDomains[s]
}

// SiteForURL returns the site whose domain serves rawURL, subdomains
// included.
func SiteForURL(rawURL string) (Site, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, s := range AllSites {
		d := s.Domain()
		if host == d || strings.HasSuffix(host, "."+d) {
			return s, true
		}
	}
	return "", false
}

func ParseSite(raw string) (Site, error) {
	s := Site(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSite, raw)
	}
	return s, nil
}

// ParseSites validates caller input and returns the sites in declared order
// with duplicates collapsed.
func ParseSites(raw []string) ([]Site, error) {
	requested := make(map[Site]bool, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		s, err := ParseSite(r)
		if err != nil {
			return nil, err
		}
		requested[s] = true
	}
	return OrderSites(requested), nil
}

// OrderSites returns the requested sites in declared order.
func OrderSites(requested map[Site]bool) []Site {
	ordered := make([]Site, 0, len(requested))
	for _, s := range AllSites {
		if requested[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}
