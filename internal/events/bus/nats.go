package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

const (
	natsReconnectWait   = 2 * time.Second
	natsReconnectBuffer = 1 << 20
)

// NATSEventBus publishes events as JSON messages on a NATS connection so
// other processes can follow task progress.
type NATSEventBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

var _ EventBus = (*NATSEventBus)(nil)

// NewNATSEventBus connects to cfg.URL.
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	log = log.WithFields(zap.String("component", "nats-event-bus"))
	conn, err := nats.Connect(cfg.URL, natsOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return &NATSEventBus{conn: conn, logger: log}, nil
}

func natsOptions(cfg config.NATSConfig, log *logger.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.ReconnectBufSize(natsReconnectBuffer),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed", zap.Error(nc.LastError()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	}
}

// Publish sends event as JSON. Delivery is fire-and-forget; ctx is not
// propagated over the wire.
func (b *NATSEventBus) Publish(_ context.Context, subject string, event *Event) error {
	if _, err := splitSubject(subject, false); err != nil {
		return err
	}
	event.Subject = subject
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe decodes messages on pattern and hands them to handler. Messages
// that are not events are logged and skipped.
func (b *NATSEventBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	if _, err := splitSubject(pattern, true); err != nil {
		return nil, err
	}
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("Skipping malformed event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if event.Subject == "" {
			event.Subject = msg.Subject
		}
		if err := handler(context.Background(), &event); err != nil {
			b.logger.Error("Event handler failed",
				zap.String("pattern", pattern),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	return sub, nil
}

// Close drains in-flight messages, falling back to a hard close.
func (b *NATSEventBus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("NATS drain failed", zap.Error(err))
		b.conn.Close()
	}
}

// IsConnected reports the live connection state.
func (b *NATSEventBus) IsConnected() bool {
	return b.conn.IsConnected()
}
