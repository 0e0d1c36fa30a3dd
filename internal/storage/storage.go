// Package storage tracks discovered phone URLs in a JSON progress file so
// an interrupted batch can resume.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type PhoneLink struct {
	URL       string    `json:"url"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

type LinkStorage struct {
	mu       sync.RWMutex
	links    map[string]*PhoneLink
	filename string
}

// NewLinkStorage loads filename if it exists.
func NewLinkStorage(filename string) (*LinkStorage, error) {
	ls := &LinkStorage{
		links:    make(map[string]*PhoneLink),
		filename: filename,
	}

	if err := ls.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load progress file: %w", err)
	}

	return ls, nil
}

// AddBatch records newly discovered URLs as pending. URLs already tracked
// keep their status.
func (ls *LinkStorage) AddBatch(category string, urls []string) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := time.Now()
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := ls.links[u]; ok {
			continue
		}
		ls.links[u] = &PhoneLink{
			URL:       u,
			Category:  category,
			Status:    StatusPending,
			AddedAt:   now.Add(time.Duration(added)),
			UpdatedAt: now,
		}
		added++
	}

	if added == 0 {
		return 0, nil
	}
	return added, ls.save()
}

func (ls *LinkStorage) Get(url string) (*PhoneLink, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	link, ok := ls.links[url]
	if !ok {
		return nil, false
	}
	cp := *link
	return &cp, true
}

// Pending returns the pending URLs of category in discovery order. An empty
// category matches every link.
func (ls *LinkStorage) Pending(category string) []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var pending []*PhoneLink
	for _, link := range ls.links {
		if link.Status == StatusPending && (category == "" || link.Category == category) {
			pending = append(pending, link)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].AddedAt.Equal(pending[j].AddedAt) {
			return pending[i].URL < pending[j].URL
		}
		return pending[i].AddedAt.Before(pending[j].AddedAt)
	})

	urls := make([]string, 0, len(pending))
	for _, link := range pending {
		urls = append(urls, link.URL)
	}
	return urls
}

func (ls *LinkStorage) UpdateStatus(url, status, errorMsg string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	link, ok := ls.links[url]
	if !ok {
		return fmt.Errorf("link not found: %s", url)
	}

	link.Status = status
	link.UpdatedAt = time.Now()
	link.Error = errorMsg

	return ls.save()
}

func (ls *LinkStorage) Stats() map[string]int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	stats := make(map[string]int)
	for _, link := range ls.links {
		stats[link.Status]++
	}
	stats["total"] = len(ls.links)
	return stats
}

// save writes through a temp file and rename; callers hold mu.
func (ls *LinkStorage) save() error {
	data, err := json.MarshalIndent(ls.links, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if dir := filepath.Dir(ls.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create progress directory: %w", err)
		}
	}

	tmpFile := ls.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	return os.Rename(tmpFile, ls.filename)
}

func (ls *LinkStorage) load() error {
	data, err := os.ReadFile(ls.filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ls.links)
}
