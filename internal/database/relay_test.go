package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

// streamValues returns the field map the relay hands to XADD.
func streamValues(args *redis.XAddArgs) map[string]any {
	vals, _ := args.Values.(map[string]any)
	return vals
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func phoneEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregatePhone,
		AggregateID:   aggregateID,
		EventType:     EventPhoneScraped,
		Payload:       json.RawMessage(`{"brand":"Samsung","model":"Galaxy S24","source":"gsmarena"}`),
		TargetStream:  PhoneCatalogStream,
		CreatedAt:     time.Now(),
	}
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{phoneEvent(uuid.NewString()), phoneEvent(uuid.NewString())}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)
		for _, event := range events {
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				vals := streamValues(args)
				return args.Stream == PhoneCatalogStream &&
					vals["type"] == EventPhoneScraped &&
					vals["phone_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		res, err := relay.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, FlushResult{Published: 2}, res)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("marks event failed when redis rejects it", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		event := phoneEvent("p1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: connection refused"
		})).Return(nil)

		res, err := relay.Flush(ctx)
		assert.NoError(t, err)
		assert.Equal(t, FlushResult{Failed: 1}, res)

		mockOutbox.AssertExpectations(t)
		mockOutbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		res, err := relay.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, res)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("repository failure is returned", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), testLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("db down"))

		_, err := relay.Flush(ctx)
		assert.Error(t, err)
	})

	t.Run("malformed payload is marked failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		event := phoneEvent("p2")
		event.Payload = json.RawMessage(`not json`)
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return errors.Is(err, ErrInvalidEvent)
		})).Return(nil)

		_, err := relay.Flush(ctx)
		require.NoError(t, err)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})
}

func TestRelay_StreamEntry(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, testLogger(), RelayConfig{StreamMaxLen: 500})

	event := phoneEvent("p3")
	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		vals := streamValues(args)
		raw, ok := vals["data"].(string)
		if !ok {
			return false
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return false
		}
		return args.Stream == PhoneCatalogStream &&
			args.MaxLen == 500 && args.Approx &&
			vals["phone_id"] == "p3" &&
			vals["source"] == "gsmarena" &&
			vals["brand"] == "Samsung" &&
			vals["model"] == "Galaxy S24" &&
			vals["producer"] == "phone-scraper" &&
			data["model"] == "Galaxy S24"
	})).Return(nil)

	require.NoError(t, relay.publish(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_NonPhoneEventKeepsPayloadOnly(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, testLogger(), RelayConfig{})

	event := phoneEvent("job-1")
	event.AggregateType = "job"
	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		_, hasBrand := streamValues(args)["brand"]
		return !hasBrand && args.MaxLen == defaultStreamMaxLen
	})).Return(nil)

	require.NoError(t, relay.publish(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), testLogger(), RelayConfig{PollInterval: 20 * time.Millisecond, BatchSize: 10})
	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
