// Package fetchtest provides an in-memory fetch.Fetcher for tests.
package fetchtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/maltedev/phone-spec-scraper/internal/fetch"
)

// Fetcher serves canned pages keyed by URL and records every request.
type Fetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	status map[string]int
	calls  []string
}

func New() *Fetcher {
	return &Fetcher{
		pages:  make(map[string]string),
		errs:   make(map[string]error),
		status: make(map[string]int),
	}
}

// Page registers a 200 response for url.
func (f *Fetcher) Page(url, html string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
	return f
}

// Fail makes every fetch of url return err.
func (f *Fetcher) Fail(url string, err error) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
	return f
}

// Status overrides the status code served for url.
func (f *Fetcher) Status(url string, code int) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[url] = code
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req.URL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	html, ok := f.pages[req.URL]
	if !ok {
		return nil, fmt.Errorf("%w: no page registered for %s", fetch.ErrExhausted, req.URL)
	}
	code := 200
	if c, ok := f.status[req.URL]; ok {
		code = c
	}
	return &fetch.Response{URL: req.URL, StatusCode: code, Body: []byte(html)}, nil
}

func (f *Fetcher) Name() string { return "fetchtest" }

func (f *Fetcher) Close() error { return nil }

// Calls returns the requested URLs in order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
