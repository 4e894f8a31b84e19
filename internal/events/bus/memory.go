package bus

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

// subscriberQueueSize bounds undelivered events per subscriber. Events past
// the bound are dropped with a warning.
const subscriberQueueSize = 256

// MemoryEventBus delivers events in process. Each subscriber has its own
// queue and goroutine, so a subscriber sees events in publish order and a
// slow handler does not hold up the publisher.
type MemoryEventBus struct {
	logger *logger.Logger

	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	wg     sync.WaitGroup
}

var _ EventBus = (*MemoryEventBus)(nil)

type delivery struct {
	ctx   context.Context
	event *Event
}

type memorySubscription struct {
	bus     *MemoryEventBus
	pattern string
	tokens  []string
	handler Handler
	queue   chan delivery
	active  atomic.Bool
}

// NewMemoryEventBus creates an empty in-process bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		logger: log.WithFields(zap.String("component", "memory-event-bus")),
	}
}

// Publish queues event for every matching subscriber. The handler context
// keeps ctx values but not its cancellation.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	tokens, err := splitSubject(subject, false)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	event.Subject = subject
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}
	for _, s := range b.subs {
		if !matchTokens(s.tokens, tokens) {
			continue
		}
		select {
		case s.queue <- d:
		default:
			b.logger.Warn("Subscriber queue full, dropping event",
				zap.String("pattern", s.pattern),
				zap.String("subject", subject))
		}
	}
	return nil
}

// Subscribe registers handler for subjects matching pattern.
func (b *MemoryEventBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	tokens, err := splitSubject(pattern, true)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySubscription{
		bus:     b,
		pattern: pattern,
		tokens:  tokens,
		handler: handler,
		queue:   make(chan delivery, subscriberQueueSize),
	}
	s.active.Store(true)
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go s.loop()
	return s, nil
}

// Close stops accepting events, lets every subscriber drain its queue and
// waits for the handlers to return.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.stop()
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

// IsConnected reports true until Close.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (s *memorySubscription) loop() {
	defer s.bus.wg.Done()
	for d := range s.queue {
		if err := s.handler(d.ctx, d.event); err != nil {
			s.bus.logger.Error("Event handler failed",
				zap.String("pattern", s.pattern),
				zap.String("subject", d.event.Subject),
				zap.Error(err))
		}
	}
}

// stop closes the queue once. Callers hold bus.mu for writing, so no
// Publish is sending concurrently.
func (s *memorySubscription) stop() {
	if s.active.CompareAndSwap(true, false) {
		close(s.queue)
	}
}

// Unsubscribe removes the subscription. Events already queued are still
// delivered.
func (s *memorySubscription) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(o *memorySubscription) bool { return o == s })
	s.stop()
	return nil
}

func (s *memorySubscription) IsValid() bool {
	return s.active.Load()
}
