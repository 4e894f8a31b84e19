// Package bus carries task lifecycle notifications, either in process or
// over NATS. Subjects are dot-separated tokens; subscriptions may use the
// NATS wildcards "*" (one token) and ">" (one or more trailing tokens).
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by Publish and Subscribe after Close.
	ErrClosed = errors.New("event bus is closed")
	// ErrInvalidSubject is returned for empty tokens or a misplaced ">".
	ErrInvalidSubject = errors.New("invalid subject")
)

// Event is one notification. Subject is stamped by Publish.
type Event struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with a fresh id and the current UTC time.
func NewEvent(source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler consumes one event. Errors are logged by the bus.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live registration of a Handler.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes events to subjects and fans them out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(pattern string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}

// splitSubject validates a subject or pattern and returns its tokens.
// Wildcards are only accepted when pattern is true.
func splitSubject(s string, pattern bool) ([]string, error) {
	tokens := strings.Split(s, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, s)
		case !pattern && (tok == "*" || tok == ">"):
			return nil, fmt.Errorf("%w: wildcard in %q", ErrInvalidSubject, s)
		case tok == ">" && i != len(tokens)-1:
			return nil, fmt.Errorf("%w: '>' must be last in %q", ErrInvalidSubject, s)
		}
	}
	return tokens, nil
}

// matchTokens reports whether subject tokens satisfy pattern tokens.
func matchTokens(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(subject) > i
		}
		if i >= len(subject) || (p != "*" && p != subject[i]) {
			return false
		}
	}
	return len(subject) == len(pattern)
}
