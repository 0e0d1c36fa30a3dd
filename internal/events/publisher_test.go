package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/phone-spec-scraper/internal/database"
	"github.com/maltedev/phone-spec-scraper/internal/models"
)

// fakeTx runs the callback without a real transaction and records whether
// it would have committed.
type fakeTx struct {
	committed bool
}

func (f *fakeTx) Transaction(_ context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	f.committed = true
	return nil
}

type MockPhoneWriter struct {
	mock.Mock
}

func (m *MockPhoneWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, doc *database.PhoneDocument) error {
	return m.Called(ctx, tx, doc).Error(0)
}

type MockOutboxWriter struct {
	mock.Mock
}

func (m *MockOutboxWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePhone(t *testing.T) *models.Phone {
	t.Helper()
	p, err := models.NewPhone("Samsung", "Galaxy S24", "https://www.gsmarena.com/samsung_galaxy_s24-12773.php", models.SiteGSMArena)
	require.NoError(t, err)
	price := "$799"
	p.Price = &price
	return p
}

func TestPublisher_SavePhone(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	phones := new(MockPhoneWriter)
	outbox := new(MockOutboxWriter)
	p := &Publisher{db: tx, phones: phones, outbox: outbox, logger: discard()}

	var docID string
	phones.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(doc *database.PhoneDocument) bool {
		docID = doc.ID.String()
		return doc.Query == "galaxy" && doc.Method == "search" && doc.Brand == "Samsung" && doc.Source == models.SiteGSMArena
	})).Return(nil)
	outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		var payload PhoneScrapedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return false
		}
		return e.EventType == database.EventPhoneScraped &&
			e.AggregateType == database.AggregatePhone &&
			e.TargetStream == database.PhoneCatalogStream &&
			e.AggregateID == docID &&
			payload.DocumentID == docID &&
			payload.Model == "Galaxy S24" &&
			payload.Price != nil && *payload.Price == "$799"
	})).Return(nil)

	require.NoError(t, p.SavePhone(ctx, "galaxy", "search", samplePhone(t)))
	assert.True(t, tx.committed)
	phones.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestPublisher_SavePhone_OutboxFailureAborts(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	phones := new(MockPhoneWriter)
	outbox := new(MockOutboxWriter)
	p := &Publisher{db: tx, phones: phones, outbox: outbox, logger: discard()}

	phones.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(nil)
	outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("constraint violation"))

	err := p.SavePhone(ctx, "galaxy", "search", samplePhone(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Samsung Galaxy S24")
	assert.False(t, tx.committed)
}

func TestPublisher_SavePhone_DocumentFailureSkipsOutbox(t *testing.T) {
	ctx := context.Background()
	phones := new(MockPhoneWriter)
	outbox := new(MockOutboxWriter)
	p := &Publisher{db: &fakeTx{}, phones: phones, outbox: outbox, logger: discard()}

	phones.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("db down"))

	assert.Error(t, p.SavePhone(ctx, "galaxy", "search", samplePhone(t)))
	outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
}

type recordingSaver struct {
	mu     sync.Mutex
	saved  []string
	err    error
	ctxErr []error
}

func (s *recordingSaver) SavePhone(ctx context.Context, query, method string, phone *models.Phone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, method+":"+phone.Name())
	s.ctxErr = append(s.ctxErr, ctx.Err())
	return s.err
}

func TestAsyncRecorder(t *testing.T) {
	saver := &recordingSaver{}
	rec := NewAsyncRecorder(saver, discard(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		rec.Record(ctx, "galaxy", "search", samplePhone(t))
	}
	cancel()
	rec.Wait()

	assert.Len(t, saver.saved, 5)
	for _, err := range saver.ctxErr {
		assert.NoError(t, err, "saves outlive the request context")
	}
}

func TestAsyncRecorder_FailureIsContained(t *testing.T) {
	saver := &recordingSaver{err: errors.New("db down")}
	rec := NewAsyncRecorder(saver, discard(), 1)

	phone := samplePhone(t)
	done := make(chan struct{})
	go func() {
		rec.Record(context.Background(), "q", "batch_brands", phone)
		rec.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not finish")
	}
	assert.Equal(t, []string{"batch_brands:Samsung Galaxy S24"}, saver.saved)
}
