package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/youruser/tandem/internal/dispatch"
	"github.com/youruser/tandem/internal/llm"
	"github.com/youruser/tandem/internal/repair"
	"github.com/youruser/tandem/internal/stream"
)

// scriptedCompleter streams one canned response per ChatStream call, split
// into small chunks to exercise incremental parsing.
type scriptedCompleter struct {
	responses []string
	calls     int
	// requests records the message list of every call for transcript checks.
	requests [][]llm.Message
}

func (c *scriptedCompleter) ChatStream(ctx context.Context, model, systemPrompt string, messages []llm.Message, reasoning *llm.ReasoningConfig, callback llm.StreamCallback) error {
	if c.calls >= len(c.responses) {
		return errors.New("no scripted response left")
	}
	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)
	c.requests = append(c.requests, msgs)

	text := c.responses[c.calls]
	c.calls++
	for len(text) > 0 {
		n := 7
		if n > len(text) {
			n = len(text)
		}
		callback(llm.StreamEvent{Type: "content", Content: text[:n]})
		text = text[n:]
	}
	callback(llm.StreamEvent{Type: "done", Usage: &llm.Usage{TotalTokens: 10}})
	return nil
}

type memFS struct {
	files map[string]string
}

func newMemFS() *memFS { return &memFS{files: make(map[string]string)} }

func (m *memFS) Read(path string) (string, error) { return m.files[path], nil }
func (m *memFS) Write(path, content string) error { m.files[path] = content; return nil }

type noRunner struct{}

func (noRunner) Start(ctx context.Context, command string) (dispatch.Process, error) {
	return nil, errors.New("no shell in this test")
}

func newTestSession(responses ...string) (*Session, *scriptedCompleter, *memFS) {
	c := &scriptedCompleter{responses: responses}
	fs := newMemFS()
	s := New(c, fs, noRunner{}, Options{
		Model:             "test-model",
		SystemPrompt:      "system",
		MaxRepairAttempts: 2,
	})
	return s, c, fs
}

func TestRun_AppliesEditsAfterThinking(t *testing.T) {
	s, c, fs := newTestSession(
		`<thinking>add the file</thinking>` +
			`<file path="main.go" type="create">package main
</file>` +
			`<explanation>created main.go</explanation>`,
	)

	result, err := s.Run(context.Background(), "create main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.files["main.go"] != "package main\n" {
		t.Errorf("file = %q", fs.files["main.go"])
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Err != nil {
		t.Errorf("outcomes = %+v", result.Outcomes)
	}
	if result.RepairTurns != 0 {
		t.Errorf("RepairTurns = %d, want 0", result.RepairTurns)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", result.Usage)
	}

	// Transcript: user prompt then assistant raw text.
	h := s.History()
	if len(h) != 2 || h[0].Role != "user" || h[1].Role != "assistant" {
		t.Fatalf("history = %+v", h)
	}
	if !strings.Contains(h[1].Content, "<thinking>") {
		t.Error("assistant transcript should carry the raw wire text")
	}
	if c.calls != 1 {
		t.Errorf("calls = %d, want 1", c.calls)
	}
}

func TestRun_EditBeforeThinkingIsHeld(t *testing.T) {
	s, _, fs := newTestSession(
		`<file path="a.txt" type="create">early
</file>` +
			`<thinking>late plan</thinking>`,
	)

	result, err := s.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.files["a.txt"] != "early\n" {
		t.Errorf("held edit should apply once thinking arrives, file = %q", fs.files["a.txt"])
	}
	if result.Outcomes[0].Err != nil {
		t.Errorf("outcome err = %v", result.Outcomes[0].Err)
	}
}

func TestRun_NoThinkingFailsEdits(t *testing.T) {
	s, _, fs := newTestSession(
		`<file path="a.txt" type="create">content
</file>`,
	)

	result, err := s.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fs.files["a.txt"]; ok {
		t.Error("edit applied despite missing thinking block")
	}
	if len(result.Outcomes) != 1 || !errors.Is(result.Outcomes[0].Err, ErrNoThinking) {
		t.Errorf("outcomes = %+v, want ErrNoThinking", result.Outcomes)
	}
}

func TestRun_RepairSucceedsOnSecondTurn(t *testing.T) {
	s, c, fs := newTestSession(
		// Stale search text: file has "counter", model remembers "count".
		`<thinking>bump</thinking><file path="app.js" type="patch"><search>let count = 0;</search><replace>let count = 1;</replace></file>`,
		`<thinking>use the real text</thinking><file path="app.js" type="patch"><search>let counter = 0;</search><replace>let counter = 1;</replace></file>`,
	)
	fs.files["app.js"] = "let counter = 0;\n"

	result, err := s.Run(context.Background(), "bump the counter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.files["app.js"] != "let counter = 1;\n" {
		t.Errorf("file = %q", fs.files["app.js"])
	}
	if result.RepairTurns != 1 {
		t.Errorf("RepairTurns = %d, want 1", result.RepairTurns)
	}

	// The corrective request must carry the file's real content.
	if len(c.requests) != 2 {
		t.Fatalf("calls = %d, want 2", len(c.requests))
	}
	last := c.requests[1][len(c.requests[1])-1]
	if last.Role != "user" {
		t.Fatalf("last message role = %q", last.Role)
	}
	if !strings.Contains(last.Content, "let counter = 0;") {
		t.Error("repair prompt should quote the current file content")
	}
	if !strings.Contains(last.Content, "app.js") {
		t.Error("repair prompt should name the path")
	}
}

func TestRun_RepairExhausts(t *testing.T) {
	bad := `<thinking>try</thinking><file path="app.js" type="patch"><search>missing</search><replace>x</replace></file>`
	s, c, fs := newTestSession(bad, bad, bad)
	fs.files["app.js"] = "real content\n"

	result, err := s.Run(context.Background(), "edit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want initial + 2 repairs", c.calls)
	}
	if result.RepairTurns != 2 {
		t.Errorf("RepairTurns = %d, want 2", result.RepairTurns)
	}
	last := result.Outcomes[len(result.Outcomes)-1]
	if !errors.Is(last.Err, repair.ErrRepairExhausted) {
		t.Errorf("final err = %v, want ErrRepairExhausted", last.Err)
	}
	if fs.files["app.js"] != "real content\n" {
		t.Error("file must be untouched after exhausted repairs")
	}
}

func TestRun_StreamErrorSurfaces(t *testing.T) {
	s, _, _ := newTestSession() // no scripted responses
	_, err := s.Run(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected stream error")
	}
}

func TestReset(t *testing.T) {
	s, _, _ := newTestSession(`<thinking>a</thinking>`)
	if _, err := s.Run(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if len(s.History()) == 0 {
		t.Fatal("expected transcript before reset")
	}
	s.Reset()
	if len(s.History()) != 0 {
		t.Error("history should be empty after reset")
	}
}

func TestRun_SinkSeesProgress(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		`<thinking>plan</thinking><file path="f.txt" type="create">x
</file>`,
	}}
	fs := newMemFS()

	var outcomes int
	sink := &funcSink{onOutcome: func(dispatch.Outcome) { outcomes++ }}
	s := New(c, fs, noRunner{}, Options{
		Model:             "m",
		MaxRepairAttempts: 2,
		Sink:              sink,
	})
	if _, err := s.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	if outcomes != 1 {
		t.Errorf("outcome events = %d, want 1", outcomes)
	}
}

func TestRun_BlockOpenPrecedesDeltasAndComplete(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		`<thinking></thinking><file path="f.txt" type="create">x
</file>`,
	}}

	var events []string
	sink := &orderSink{events: &events}
	s := New(c, newMemFS(), noRunner{}, Options{
		Model:             "m",
		MaxRepairAttempts: 2,
		Sink:              sink,
	})
	if _, err := s.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	// The empty thinking block must still open before it completes, and the
	// file block's open (with its path) must land before any of its text.
	want := []string{
		"open:thinking:",
		"complete:thinking:",
		"open:file:f.txt",
		"delta",
		"complete:file:f.txt",
	}
	var got []string
	for _, ev := range events {
		if strings.HasPrefix(ev, "delta") {
			if len(got) > 0 && got[len(got)-1] == "delta" {
				continue // collapse consecutive deltas
			}
			ev = "delta"
		}
		got = append(got, ev)
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

type orderSink struct {
	NopSink
	events *[]string
}

func (o *orderSink) OnBlockOpen(b *stream.Block) {
	*o.events = append(*o.events, "open:"+b.Kind.String()+":"+b.Path)
}

func (o *orderSink) OnDelta(blockID, text string) {
	*o.events = append(*o.events, "delta:"+text)
}

func (o *orderSink) OnBlockComplete(b *stream.Block) {
	*o.events = append(*o.events, "complete:"+b.Kind.String()+":"+b.Path)
}

type funcSink struct {
	NopSink
	onOutcome func(dispatch.Outcome)
}

func (f *funcSink) OnOutcome(o dispatch.Outcome) {
	if f.onOutcome != nil {
		f.onOutcome(o)
	}
}
