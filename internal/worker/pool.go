package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("update pool closed")

// UpdateHandler processes one update; *bot.Handler in production.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update) error
}

type job struct {
	upd  tgbotapi.Update
	done func()
}

// Pool runs updates on a fixed set of lanes. All updates of one chat land on the
// same lane, so they are handled one at a time and in arrival order.
type Pool struct {
	handler UpdateHandler
	lanes   []chan job
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(handler UpdateHandler, lanes, buffer int, timeout time.Duration, log *zap.Logger) *Pool {
	if lanes <= 0 {
		lanes = 16
	}
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{handler: handler, timeout: timeout, log: log}
	p.lanes = make([]chan job, lanes)
	for i := range p.lanes {
		p.lanes[i] = make(chan job, buffer)
	}
	return p
}

// Start launches one goroutine per lane. Handlers run under ctx plus the update timeout.
func (p *Pool) Start(ctx context.Context) {
	for i, lane := range p.lanes {
		p.wg.Add(1)
		go p.runLane(ctx, i, lane)
	}
}

func (p *Pool) laneOf(chatID int64) int {
	return int(uint64(chatID) % uint64(len(p.lanes)))
}

// Submit queues upd on its chat's lane, waiting while the lane is full. done, if set,
// runs after the handler returns.
func (p *Pool) Submit(ctx context.Context, chatID int64, upd tgbotapi.Update, done func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.lanes[p.laneOf(chatID)] <- job{upd: upd, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, lets the lanes drain and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, lane := range p.lanes {
			close(lane)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) runLane(ctx context.Context, id int, in <-chan job) {
	defer p.wg.Done()
	for j := range in {
		p.process(ctx, id, j)
	}
}

func (p *Pool) process(ctx context.Context, lane int, j job) {
	if j.done != nil {
		defer j.done()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("update lane panic", zap.Int("lane", lane), zap.Int("update_id", j.upd.UpdateID), zap.Any("panic", r))
		}
	}()

	if err := p.handler.HandleUpdate(ctx, j.upd); err != nil {
		p.log.Warn("update failed",
			zap.Int("lane", lane),
			zap.Int("update_id", j.upd.UpdateID),
			zap.Error(fmt.Errorf("handle: %w", err)))
	}
}
