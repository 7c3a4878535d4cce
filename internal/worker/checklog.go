package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/repository"
	"go.uber.org/zap"
)

// CheckLogWriter buffers audit rows and flushes them by size or time in one
// multi-row insert.
type CheckLogWriter struct {
	repo      repository.CheckLogRepository
	in        chan model.CheckLog
	BatchSize int
	BatchWait time.Duration
	log       *zap.Logger
}

func NewCheckLogWriter(repo repository.CheckLogRepository, batchSize int, batchWait time.Duration, log *zap.Logger) *CheckLogWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckLogWriter{
		repo:      repo,
		in:        make(chan model.CheckLog, batchSize*4),
		BatchSize: batchSize,
		BatchWait: batchWait,
		log:       log,
	}
}

// Record enqueues a row without blocking; rows are dropped (and logged) when the buffer is full.
func (w *CheckLogWriter) Record(row model.CheckLog) {
	select {
	case w.in <- row:
	default:
		w.log.Warn("check log buffer full, dropping row",
			zap.String("id", row.ID), zap.String("inn", row.INN), zap.String("outcome", row.Outcome.String()))
	}
}

// Run blocks until ctx is cancelled and flushes whatever is buffered before returning.
func (w *CheckLogWriter) Run(ctx context.Context) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.CheckLog, 0, w.BatchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.repo.InsertBatch(ctx, batch); err != nil {
			w.log.Error("check log flush failed", zap.Int("rows", len(batch)), zap.Error(err))
		} else {
			w.log.Debug("check log flushed", zap.Int("rows", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// drain what is already queued
			for {
				select {
				case row := <-w.in:
					batch = append(batch, row)
				default:
					final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					flush(final)
					cancel()
					return
				}
			}

		case row := <-w.in:
			batch = append(batch, row)
			if len(batch) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
