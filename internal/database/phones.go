package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

// PhoneDocument is one scraped phone as stored, tagged with the query and
// collection method that produced it.
type PhoneDocument struct {
	ID        uuid.UUID     `json:"id"`
	Query     string        `json:"query"`
	Method    string        `json:"method"`
	Source    models.Site   `json:"source"`
	Brand     string        `json:"brand"`
	Model     string        `json:"model"`
	URL       string        `json:"url"`
	Phone     *models.Phone `json:"phone"`
	ScrapedAt time.Time     `json:"scraped_at"`
}

func NewPhoneDocument(query, method string, phone *models.Phone) *PhoneDocument {
	return &PhoneDocument{
		ID:        uuid.New(),
		Query:     query,
		Method:    method,
		Source:    phone.Source,
		Brand:     phone.Brand,
		Model:     phone.Model,
		URL:       phone.URL,
		Phone:     phone,
		ScrapedAt: time.Now().UTC(),
	}
}

type SourceCount struct {
	Source models.Site `json:"source"`
	Count  int64       `json:"count"`
}

type Stats struct {
	TotalPhones  int64         `json:"total_phones"`
	UniqueBrands int64         `json:"unique_brands"`
	BySource     []SourceCount `json:"by_source"`
	LastScraped  *time.Time    `json:"last_scraped"`
}

type PhoneRepository struct {
	db *DB
}

func NewPhoneRepository(db *DB) *PhoneRepository {
	return &PhoneRepository{db: db}
}

// InsertWithTx stores doc inside tx so it commits together with its outbox event.
func (r *PhoneRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, doc *PhoneDocument) error {
	if doc.Phone == nil {
		return fmt.Errorf("phone document has no phone")
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ScrapedAt.IsZero() {
		doc.ScrapedAt = time.Now().UTC()
	}

	body, err := json.Marshal(doc.Phone)
	if err != nil {
		return fmt.Errorf("failed to marshal phone: %w", err)
	}

	query := `
		INSERT INTO phone_document (id, query, method, source, brand, model, url, document, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.Exec(ctx, query,
		doc.ID, doc.Query, doc.Method, string(doc.Source), doc.Brand, doc.Model, doc.URL, body, doc.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert phone document: %w", err)
	}
	return nil
}

const selectDocument = `
	SELECT id, query, method, source, brand, model, url, document, scraped_at
	FROM phone_document`

// Recent returns the most recently scraped documents, newest first.
func (r *PhoneRepository) Recent(ctx context.Context, limit int) ([]*PhoneDocument, error) {
	rows, err := r.db.pool.Query(ctx, selectDocument+` ORDER BY scraped_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent phones: %w", err)
	}
	return scanDocuments(rows)
}

// Search matches term against query, brand and model, case-insensitively.
func (r *PhoneRepository) Search(ctx context.Context, term string, limit int) ([]*PhoneDocument, error) {
	pattern := "%" + term + "%"
	rows, err := r.db.pool.Query(ctx, selectDocument+`
		WHERE query ILIKE $1 OR brand ILIKE $1 OR model ILIKE $1 OR (brand || ' ' || model) ILIKE $1
		ORDER BY scraped_at DESC
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search phones: %w", err)
	}
	return scanDocuments(rows)
}

func (r *PhoneRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{BySource: []SourceCount{}}

	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT LOWER(brand)), MAX(scraped_at)
		FROM phone_document`).Scan(&stats.TotalPhones, &stats.UniqueBrands, &stats.LastScraped)
	if err != nil {
		return nil, fmt.Errorf("failed to get phone stats: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT source, COUNT(*) FROM phone_document GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to get source stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SourceCount
		var source string
		if err := rows.Scan(&source, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan source stats: %w", err)
		}
		sc.Source = models.Site(source)
		stats.BySource = append(stats.BySource, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

func scanDocuments(rows pgx.Rows) ([]*PhoneDocument, error) {
	defer rows.Close()

	docs := []*PhoneDocument{}
	for rows.Next() {
		doc := &PhoneDocument{}
		var source string
		var body []byte
		if err := rows.Scan(&doc.ID, &doc.Query, &doc.Method, &source, &doc.Brand, &doc.Model, &doc.URL, &body, &doc.ScrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phone document: %w", err)
		}
		doc.Source = models.Site(source)

		var phone models.Phone
		if err := json.Unmarshal(body, &phone); err != nil {
			return nil, fmt.Errorf("failed to decode phone document %s: %w", doc.ID, err)
		}
		phone.Normalize()
		doc.Phone = &phone
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return docs, nil
}
