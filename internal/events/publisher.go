package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/phone-spec-scraper/internal/database"
	"github.com/maltedev/phone-spec-scraper/internal/models"
)

// PhoneScrapedPayload is the body of a PHONE_SCRAPED event.
type PhoneScrapedPayload struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	Timestamp  time.Time   `json:"timestamp"`
	DocumentID string      `json:"document_id"`
	Query      string      `json:"query"`
	Method     string      `json:"method"`
	Source     models.Site `json:"source"`
	Brand      string      `json:"brand"`
	Model      string      `json:"model"`
	URL        string      `json:"url"`
	Price      *string     `json:"price,omitempty"`
	Currency   string      `json:"currency"`
	Rating     *float64    `json:"rating,omitempty"`
}

type txRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type phoneWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, doc *database.PhoneDocument) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores scraped phones and their outbox events atomically.
type Publisher struct {
	db     txRunner
	phones phoneWriter
	outbox outboxWriter
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		phones: database.NewPhoneRepository(db),
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// SavePhone writes the phone document and a PHONE_SCRAPED event in one
// transaction.
func (p *Publisher) SavePhone(ctx context.Context, query, method string, phone *models.Phone) error {
	doc := database.NewPhoneDocument(query, method, phone)

	payload := &PhoneScrapedPayload{
		EventID:    uuid.New().String(),
		EventType:  database.EventPhoneScraped,
		Timestamp:  time.Now().UTC(),
		DocumentID: doc.ID.String(),
		Query:      query,
		Method:     method,
		Source:     phone.Source,
		Brand:      phone.Brand,
		Model:      phone.Model,
		URL:        phone.URL,
		Price:      phone.Price,
		Currency:   phone.Currency,
		Rating:     phone.Rating,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: database.AggregatePhone,
		AggregateID:   doc.ID.String(),
		EventType:     database.EventPhoneScraped,
		Payload:       data,
		TargetStream:  database.PhoneCatalogStream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.phones.InsertWithTx(ctx, tx, doc); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to save phone %s: %w", phone.Name(), err)
	}

	p.logger.Info("phone saved",
		"name", phone.Name(),
		"source", phone.Source,
		"method", method,
		"document_id", doc.ID,
		"outbox_id", event.ID,
	)
	return nil
}
