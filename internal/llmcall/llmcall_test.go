package llmcall

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackzampolin/tanjia/internal/providers"
)

type memorySink struct {
	mu    sync.Mutex
	calls []*Call
	err   error
	ctxOK bool
}

func (m *memorySink) InsertLLMCall(ctx context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxOK = ctx.Err() == nil
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, call)
	return nil
}

func (m *memorySink) GetLLMCall(ctx context.Context, id string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memorySink) ListLLMCalls(ctx context.Context, f QueryFilter) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if f.LeadID != "" && c.LeadID != f.LeadID {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func TestFromChatResult(t *testing.T) {
	if FromChatResult(nil, RecordOptions{}) != nil {
		t.Error("FromChatResult(nil) should return nil")
	}

	temp := 0.2
	result := &providers.ChatResult{
		Content:          "hello",
		Provider:         "openrouter",
		ModelUsed:        "m1",
		PromptTokens:     10,
		CompletionTokens: 3,
		CostUSD:          0.01,
		ExecutionTime:    1500 * time.Millisecond,
		Success:          false,
		ErrorMessage:     "boom",
		ToolCalls:        []providers.ToolCall{providers.MockToolCall("c1", "web_search", "{}")},
	}

	call := FromChatResult(result, RecordOptions{LeadID: "lead-1", Task: "lead_enrichment", PromptKey: "agents.enrichment.system", Temperature: &temp})

	if call.ID == "" {
		t.Error("ID should be generated")
	}
	if call.LatencyMs != 1500 {
		t.Errorf("LatencyMs = %d, want 1500", call.LatencyMs)
	}
	if call.Error != "boom" {
		t.Errorf("Error = %q, want boom", call.Error)
	}
	if call.Temperature == nil || *call.Temperature != 0.2 {
		t.Errorf("Temperature = %v", call.Temperature)
	}
	if len(call.ToolCalls) == 0 {
		t.Error("ToolCalls should be serialized")
	}
	if call.LeadID != "lead-1" || call.Task != "lead_enrichment" {
		t.Errorf("context refs not copied: %+v", call)
	}
}

func TestFromChatResult_TruncatesOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("a", maxResponseLen-1) + "é tail"
	call := FromChatResult(&providers.ChatResult{Content: content, Success: true}, RecordOptions{})

	if len(call.Response) != maxResponseLen-1 {
		t.Errorf("len(Response) = %d, want %d", len(call.Response), maxResponseLen-1)
	}
	if !utf8.ValidString(call.Response) {
		t.Error("Response is not valid UTF-8")
	}
}

func TestRecorder(t *testing.T) {
	t.Run("records through sink after cancellation", func(t *testing.T) {
		sink := &memorySink{}
		r := NewRecorder(sink, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r.Record(ctx, &providers.ChatResult{Content: "x", Success: true}, RecordOptions{PromptKey: "k"})

		if len(sink.calls) != 1 {
			t.Fatalf("recorded %d calls, want 1", len(sink.calls))
		}
		if !sink.ctxOK {
			t.Error("sink should see a live context")
		}
	})

	t.Run("sink errors are swallowed", func(t *testing.T) {
		sink := &memorySink{err: errors.New("db down")}
		r := NewRecorder(sink, nil)
		r.Record(context.Background(), &providers.ChatResult{}, RecordOptions{})
	})

	t.Run("nil recorder and sink are no-ops", func(t *testing.T) {
		var r *Recorder
		r.Record(context.Background(), &providers.ChatResult{}, RecordOptions{})
		NewRecorder(nil, nil).Record(context.Background(), &providers.ChatResult{}, RecordOptions{})
	})
}

func TestStore(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, nil)
	for _, key := range []string{"a", "a", "b"} {
		r.Record(context.Background(), &providers.ChatResult{Success: true}, RecordOptions{LeadID: "l1", PromptKey: key})
	}
	r.Record(context.Background(), &providers.ChatResult{Success: true}, RecordOptions{LeadID: "l2", PromptKey: "a"})

	s := NewStore(sink)
	counts, err := s.CountByPromptKey(context.Background(), "l1")
	if err != nil {
		t.Fatalf("CountByPromptKey() error = %v", err)
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("counts = %v, want a:2 b:1", counts)
	}
}

func TestQueryFilterNormalize(t *testing.T) {
	tests := []struct {
		in, wantLimit, wantOffset int
		offset                    int
	}{
		{in: 0, wantLimit: DefaultListLimit},
		{in: 10, wantLimit: 10},
		{in: MaxListLimit + 1, wantLimit: MaxListLimit},
		{in: 5, offset: -3, wantLimit: 5, wantOffset: 0},
	}
	for _, tt := range tests {
		got := QueryFilter{Limit: tt.in, Offset: tt.offset}.Normalize()
		if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
			t.Errorf("Normalize(limit=%d, offset=%d) = (%d, %d), want (%d, %d)",
				tt.in, tt.offset, got.Limit, got.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}
