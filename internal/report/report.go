// Package report delivers user-facing progress reports to the account's
// log chat. Reports are fire-and-forget: delivery failures are swallowed
// and only locally logged.
package report

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"blastbot/internal/transport"
	"blastbot/pkg/logx"
)

// ConfigKeyLogChat is the persisted config key holding the report
// destination chat id.
const ConfigKeyLogChat = "log_chat_id"

type Reporter struct {
	adapter transport.Adapter
	log     logx.Logger

	mu      sync.Mutex
	chatID  int64
	limiter *rate.Limiter

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(adapter transport.Adapter, ratePerSec int, log logx.Logger) *Reporter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Reporter{
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		queue:   make(chan string, 256),
	}
}

// SetTarget switches the report destination. Zero disables reporting.
func (r *Reporter) SetTarget(chatID int64) {
	r.mu.Lock()
	r.chatID = chatID
	r.mu.Unlock()
}

func (r *Reporter) Target() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatID
}

func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.worker(rctx)
	}()
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
}

// Report enqueues one report. Never blocks the caller: when the queue is
// full the report is dropped.
func (r *Reporter) Report(text string) {
	if r.Target() == 0 {
		return
	}
	select {
	case r.queue <- text:
	default:
		r.log.Warn("report queue full; dropping report")
	}
}

func (r *Reporter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			chatID := r.Target()
			if chatID == 0 {
				continue
			}
			err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text)
			if err != nil {
				r.log.Warn("report delivery failed",
					logx.String("chat", strconv.FormatInt(chatID, 10)), logx.Err(err))
			}
		}
	}
}
