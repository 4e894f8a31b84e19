package events

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/events/bus"
)

// Provide returns the NATS bus when nats.url is set and reachable, and the
// in-memory bus otherwise. Task events are informational, so an unreachable
// server degrades to in-process delivery instead of failing startup.
// The returned func closes the bus.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func()) {
	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err == nil {
			return natsBus, natsBus.Close
		}
		log.Warn("NATS unavailable, using in-memory event bus",
			zap.String("url", url),
			zap.Error(err))
	}
	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close
}
