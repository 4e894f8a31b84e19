package tools

import (
	"strings"

	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
)

// maxPendingLine bounds the unterminated tail held back between reads.
const maxPendingLine = 64 * 1024

// lineForwarder assembles one stream's chunks into whole lines before
// stripping ANSI sequences, so a sequence or line split across two reads is
// cleaned as a unit. Emitted text is trimmed and never empty.
type lineForwarder struct {
	emit    func(string)
	pending strings.Builder
}

// newLineForwarder returns nil when emit is nil; all methods accept a nil receiver.
func newLineForwarder(emit func(string)) *lineForwarder {
	if emit == nil {
		return nil
	}
	return &lineForwarder{emit: emit}
}

// callback is the executor hook, or nil when there is nothing to forward.
func (f *lineForwarder) callback() func(string) {
	if f == nil {
		return nil
	}
	return f.Write
}

// Write buffers chunk and forwards every complete line.
func (f *lineForwarder) Write(chunk string) {
	f.pending.WriteString(chunk)
	buf := f.pending.String()
	i := strings.LastIndexByte(buf, '\n')
	if i < 0 {
		if len(buf) >= maxPendingLine {
			f.Flush()
		}
		return
	}
	f.pending.Reset()
	f.pending.WriteString(buf[i+1:])
	f.send(buf[:i+1])
}

// Flush forwards the unterminated tail, if any.
func (f *lineForwarder) Flush() {
	if f == nil || f.pending.Len() == 0 {
		return
	}
	buf := f.pending.String()
	f.pending.Reset()
	f.send(buf)
}

func (f *lineForwarder) send(text string) {
	if cleaned := strings.TrimSpace(stringutil.StripANSI(text)); cleaned != "" {
		f.emit(cleaned)
	}
}
