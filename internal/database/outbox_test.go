package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

func TestOutboxEvent_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event *OutboxEvent
	}{
		{"missing aggregate type", &OutboxEvent{EventType: EventPhoneScraped, Payload: json.RawMessage(`{}`)}},
		{"missing event type", &OutboxEvent{AggregateType: AggregatePhone, Payload: json.RawMessage(`{}`)}},
		{"missing payload", &OutboxEvent{AggregateType: AggregatePhone, EventType: EventPhoneScraped}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.event.validate(), ErrInvalidEvent)
		})
	}

	assert.NoError(t, phoneEvent("ok").validate())
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: AggregatePhone,
		AggregateID:   uuid.NewString(),
		EventType:     EventPhoneScraped,
		Payload:       json.RawMessage(`{"brand":"Google"}`),
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, PhoneCatalogStream, event.TargetStream)

	pending, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
	var status string
	var retries int
	require.NoError(t, db.QueryRow(ctx, "SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).Scan(&status, &retries))
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, retries)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
}

func TestOutboxRepository_RollbackDiscardsEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := phoneEvent(uuid.NewString())

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	pending, err := repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))
}

func TestPhoneRepository_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	phones := NewPhoneRepository(db)
	phone, err := models.NewPhone("Nothing", "Phone (2a) "+uuid.NewString()[:8], "https://www.gsmarena.com/x.php", models.SiteGSMArena)
	require.NoError(t, err)

	doc := NewPhoneDocument("nothing", "search", phone)
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return phones.InsertWithTx(ctx, tx, doc)
	}))

	found, err := phones.Search(ctx, phone.Model, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, doc.ID, found[0].ID)
	assert.Equal(t, phone.Name(), found[0].Phone.Name())

	stats, err := phones.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalPhones, int64(1))
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to TEST_DATABASE_URL and skips when it is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Test database not configured")
	}
	db, err := New(context.Background(), Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}
