package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

var (
	ErrUnsupportedSite   = errors.New("unsupported site")
	ErrSiteNotConfigured = errors.New("site not configured")
	ErrInvalidURL        = errors.New("invalid phone URL")
)

// Site is one catalog extractor. Search returns an empty list, not an
// error, when the site cannot be reached.
type Site interface {
	Name() models.Site
	Domain() string
	Search(ctx context.Context, query string, maxResults int) ([]*models.Phone, error)
	ScrapeDetail(ctx context.Context, url string) (*models.Phone, error)
}

// Recorder persists scraped phones. Implementations must not block the
// caller for long and report their own failures.
type Recorder interface {
	Record(ctx context.Context, query, method string, phone *models.Phone)
}
