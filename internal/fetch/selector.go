package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Probe tries to build a transport and fails when the capability it needs
// is unavailable in this environment.
type Probe func(ctx context.Context, opts Options) (Fetcher, error)

type Candidate struct {
	Name  string
	Probe Probe
}

func ProbePlain(_ context.Context, opts Options) (Fetcher, error) {
	return NewHTTPTransport(opts), nil
}

// Adaptive is a Fetcher whose underlying transport is chosen once, at
// construction, by probing candidates in order.
type Adaptive struct {
	Fetcher
	chosen string
}

func NewAdaptive(ctx context.Context, candidates []Candidate, opts Options) (*Adaptive, error) {
	logger := opts.logger().With("component", "adaptive_transport")

	var errs []error
	for _, c := range candidates {
		f, err := c.Probe(ctx, opts)
		if err != nil {
			logger.Info("transport unavailable", "transport", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		logger.Info("transport selected", "transport", c.Name)
		return &Adaptive{Fetcher: f, chosen: c.Name}, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoTransport, errors.Join(errs...))
}

func (a *Adaptive) Name() string {
	return "adaptive(" + a.chosen + ")"
}

// Chosen returns the name of the selected transport.
func (a *Adaptive) Chosen() string {
	return a.chosen
}

// ChainConfig carries the settings the browser-based candidates need.
type ChainConfig struct {
	Order        []string
	BrowserProbe Probe
	StealthProbe Probe
}

// DefaultChain is the probe order: TLS-fingerprinting client, challenge-solving
// browsers, then the plain transport.
var DefaultChain = []string{"tls", "browser", "stealth", "plain"}

// Candidates resolves a chain order into probe candidates. Unknown names are
// rejected; the plain transport is appended when missing so selection
// cannot come up empty.
func (c ChainConfig) Candidates() ([]Candidate, error) {
	order := c.Order
	if len(order) == 0 {
		order = DefaultChain
	}

	var candidates []Candidate
	hasPlain := false
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "tls":
			candidates = append(candidates, Candidate{Name: name, Probe: ProbeTLS})
		case "browser":
			if c.BrowserProbe != nil {
				candidates = append(candidates, Candidate{Name: name, Probe: c.BrowserProbe})
			}
		case "stealth":
			if c.StealthProbe != nil {
				candidates = append(candidates, Candidate{Name: name, Probe: c.StealthProbe})
			}
		case "plain":
			hasPlain = true
			candidates = append(candidates, Candidate{Name: name, Probe: ProbePlain})
		case "":
		default:
			return nil, fmt.Errorf("unknown transport %q", raw)
		}
	}
	if !hasPlain {
		candidates = append(candidates, Candidate{Name: "plain", Probe: ProbePlain})
	}
	return candidates, nil
}
