package fetch

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// Proxy maps a URL scheme to a proxy address, e.g. {"http": "http://1.2.3.4:8080"}.
type Proxy map[string]string

// ParseProxy turns "ip:port" or a proxy URL into a Proxy for both schemes.
func ParseProxy(raw string) (Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty proxy", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: proxy %q", ErrInvalidURL, raw)
	}
	return Proxy{"http": raw, "https": raw}, nil
}

// URLFor returns the proxy URL to use for targetURL's scheme.
func (p Proxy) URLFor(targetURL string) (*url.URL, error) {
	if len(p) == 0 {
		return nil, nil
	}
	scheme := "https"
	if u, err := url.Parse(targetURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	addr, ok := p[scheme]
	if !ok {
		for _, v := range p {
			addr = v
			break
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: proxy %q", ErrInvalidURL, addr)
	}
	return u, nil
}

// Key identifies the proxy for client caching.
func (p Proxy) Key() string {
	if len(p) == 0 {
		return ""
	}
	if v, ok := p["https"]; ok {
		return v
	}
	return p["http"]
}

// ProxySource supplies proxy candidates.
type ProxySource interface {
	Proxies(ctx context.Context) ([]Proxy, error)
}

type StaticProxySource struct {
	Entries []string
}

func (s StaticProxySource) Proxies(_ context.Context) ([]Proxy, error) {
	proxies := make([]Proxy, 0, len(s.Entries))
	for _, e := range s.Entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		p, err := ParseProxy(e)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

// FileProxySource reads one proxy per line; blank lines and # comments are skipped.
type FileProxySource struct {
	Path string
}

func (s FileProxySource) Proxies(ctx context.Context) ([]Proxy, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}
	return StaticProxySource{Entries: entries}.Proxies(ctx)
}

// ProxyPool rotates round-robin over proxies that have not been marked failed.
// It is safe for concurrent use.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []Proxy
	idx     int
	failed  map[string]bool
}

func NewProxyPool(proxies []Proxy) *ProxyPool {
	return &ProxyPool{
		proxies: proxies,
		failed:  make(map[string]bool),
	}
}

// LoadProxyPool builds a pool from a source; an empty result yields a nil pool.
func LoadProxyPool(ctx context.Context, src ProxySource) (*ProxyPool, error) {
	proxies, err := src.Proxies(ctx)
	if err != nil {
		return nil, err
	}
	if len(proxies) == 0 {
		return nil, nil
	}
	return NewProxyPool(proxies), nil
}

// Next returns the next healthy proxy, or false when none remain.
func (p *ProxyPool) Next() (Proxy, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.proxies); i++ {
		candidate := p.proxies[p.idx%len(p.proxies)]
		p.idx++
		if !p.failed[candidate.Key()] {
			return candidate, true
		}
	}
	return nil, false
}

func (p *ProxyPool) MarkFailed(proxy Proxy) {
	if p == nil || len(proxy) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[proxy.Key()] = true
}

// Healthy returns the number of proxies not marked failed.
func (p *ProxyPool) Healthy() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	healthy := 0
	for _, proxy := range p.proxies {
		if !p.failed[proxy.Key()] {
			healthy++
		}
	}
	return healthy
}
