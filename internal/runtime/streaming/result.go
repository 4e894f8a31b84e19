package streaming

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

// Sink is the reply surface of one inbound chat message.
type Sink interface {
	Reply(ctx context.Context, text string) error
	Send(ctx context.Context, title, content string) error
}

// SendResult delivers a final result in chunks split at newlines. The first
// chunk carries a header with tool name and duration.
func SendResult(ctx context.Context, sink Sink, result *tools.ToolResult, cfg config.StreamingConfig, log *logger.Logger) error {
	text := result.Output
	if !result.Success {
		text = result.Error
	}
	if strings.TrimSpace(text) == "" {
		return sink.Reply(ctx, fmt.Sprintf("No output from %s.", result.Tool))
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8000
	}
	chunks := stringutil.SplitAtNewlines(text, chunkSize)
	for i, chunk := range chunks {
		if i == 0 {
			chunk = fmt.Sprintf("📦 *%s Output* (%dms)\n\n", result.Tool, result.Duration.Milliseconds()) + chunk
		}
		log.Debug("sending result chunk",
			zap.String("tool", result.Tool),
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)))
		if err := sink.Reply(ctx, chunk); err != nil {
			return fmt.Errorf("failed to send result chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 {
			if err := sleep(ctx, cfg.ChunkDelayDuration()); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
