// Package streaming batches live tool output into throttled replies and
// delivers final results in platform-sized chunks.
package streaming

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

// DefaultThrottle is the minimum spacing between streamed replies.
const DefaultThrottle = time.Second

// ReplyFunc delivers text to the chat that triggered the run.
type ReplyFunc func(ctx context.Context, text string) error

// Handler buffers output chunks and flushes them at most once per throttle
// window. Reply failures are logged and dropped.
type Handler struct {
	ctx      context.Context
	reply    ReplyFunc
	throttle time.Duration
	logger   *logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	buf       []string
	lastFlush time.Time
	timer     *time.Timer
	timerGen  uint64

	// sendMu serializes take-and-reply so batches arrive in order.
	sendMu sync.Mutex
}

// NewHandler creates a stream handler. A non-positive throttle uses DefaultThrottle.
func NewHandler(ctx context.Context, reply ReplyFunc, throttle time.Duration, log *logger.Logger) *Handler {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Handler{
		ctx:      ctx,
		reply:    reply,
		throttle: throttle,
		logger:   log.WithFields(zap.String("component", "stream-handler")),
		now:      time.Now,
	}
}

// OnOutput queues chunk. It flushes right away when the last flush is older
// than the throttle window, otherwise it schedules one flush for the rest of it.
func (h *Handler) OnOutput(chunk string) {
	h.mu.Lock()
	h.buf = append(h.buf, chunk)
	elapsed := h.now().Sub(h.lastFlush)
	if elapsed >= h.throttle {
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.lastFlush = h.now()
		h.mu.Unlock()
		go h.flush()
		return
	}
	if h.timer == nil {
		h.timerGen++
		gen := h.timerGen
		h.timer = time.AfterFunc(h.throttle-elapsed, func() { h.scheduledFlush(gen) })
	}
	h.mu.Unlock()
}

// Complete cancels any scheduled flush and delivers what remains. It blocks
// until the final reply returns.
func (h *Handler) Complete() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()
	h.flush()
}

// scheduledFlush ignores timers that were stopped or replaced after firing.
func (h *Handler) scheduledFlush(gen uint64) {
	h.mu.Lock()
	if h.timer == nil || h.timerGen != gen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.lastFlush = h.now()
	h.mu.Unlock()
	h.flush()
}

func (h *Handler) flush() {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if len(h.buf) == 0 {
		h.mu.Unlock()
		return
	}
	text := strings.Join(h.buf, "\n")
	h.buf = nil
	h.mu.Unlock()

	if err := h.reply(h.ctx, text); err != nil {
		h.logger.Debug("stream reply failed", zap.Error(err))
	}
}
