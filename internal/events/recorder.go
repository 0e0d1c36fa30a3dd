package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

const defaultSaveTimeout = 10 * time.Second

type PhoneSaver interface {
	SavePhone(ctx context.Context, query, method string, phone *models.Phone) error
}

// AsyncRecorder saves phones in the background so a slow or failing store
// never holds up a search. Wait drains outstanding saves.
type AsyncRecorder struct {
	saver   PhoneSaver
	logger  *slog.Logger
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

func NewAsyncRecorder(saver PhoneSaver, logger *slog.Logger, concurrency int) *AsyncRecorder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &AsyncRecorder{
		saver:   saver,
		logger:  logger.With("component", "phone_recorder"),
		timeout: defaultSaveTimeout,
		sem:     make(chan struct{}, concurrency),
	}
}

func (r *AsyncRecorder) Record(ctx context.Context, query, method string, phone *models.Phone) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		saveCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		if err := r.saver.SavePhone(saveCtx, query, method, phone); err != nil {
			r.logger.Warn("failed to save phone", "name", phone.Name(), "source", phone.Source, "error", err)
		}
	}()
}

func (r *AsyncRecorder) Wait() {
	r.wg.Wait()
}
