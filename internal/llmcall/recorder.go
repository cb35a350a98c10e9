package llmcall

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/tanjia/internal/providers"
)

// Sink persists recorded calls.
type Sink interface {
	InsertLLMCall(ctx context.Context, call *Call) error
}

// Recorder writes LLM call records through a Sink. Write failures are
// logged and never returned to the caller.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

// NewRecorder creates a new LLM call recorder. A nil sink disables recording.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record captures an LLM call. The write survives cancellation of ctx so a
// client disconnect does not lose the record.
func (r *Recorder) Record(ctx context.Context, result *providers.ChatResult, opts RecordOptions) {
	if r == nil || r.sink == nil || result == nil {
		return
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	r.RecordCall(ctx, FromChatResult(result, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(ctx context.Context, call *Call) {
	if r == nil || r.sink == nil || call == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.sink.InsertLLMCall(writeCtx, call); err != nil {
		r.logger.Warn("failed to record LLM call",
			"error", err,
			"prompt_key", call.PromptKey,
			"model", call.Model)
	}
}
