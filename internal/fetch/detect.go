package fetch

import "strings"

// DefaultMarkers are lower-case fragments that identify a bot challenge or
// block page instead of real content. "robot" is not in the default set
// because it matches the robots meta tag of ordinary pages.
func DefaultMarkers() []string {
	return []string{
		"are you a human",
		"captcha",
		"access denied",
		"just a moment",
		"checking your browser",
		"please verify",
		"unusual traffic",
		"cf-browser-verification",
		"ray id",
	}
}

// ChallengePrefixMarkers are checked against the head of a listing page
// before any links are collected.
var ChallengePrefixMarkers = []string{"cloudflare", "captcha"}

const ChallengePrefixBytes = 5000

type Detector struct {
	markers []string
}

func NewDetector(markers []string) *Detector {
	if len(markers) == 0 {
		markers = DefaultMarkers()
	}
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			normalized = append(normalized, m)
		}
	}
	return &Detector{markers: normalized}
}

// Match returns the first marker found in text, case-insensitively.
func (d *Detector) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, m := range d.markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

func (d *Detector) IsBlocked(text string) bool {
	_, ok := d.Match(text)
	return ok
}

// HasChallengePrefix reports whether the first ChallengePrefixBytes of a
// response mention a challenge marker.
func HasChallengePrefix(resp *Response) bool {
	head := strings.ToLower(resp.Prefix(ChallengePrefixBytes))
	for _, m := range ChallengePrefixMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}
