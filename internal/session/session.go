// Package session owns one conversation with the model: it streams each
// response through the parser, gates edits behind the plan, dispatches
// complete blocks, and drives the bounded repair loop when a patch misses.
// All parser and repair state is scoped to the session; Reset discards it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/youruser/tandem/internal/dispatch"
	"github.com/youruser/tandem/internal/llm"
	"github.com/youruser/tandem/internal/logging"
	"github.com/youruser/tandem/internal/patch"
	"github.com/youruser/tandem/internal/repair"
	"github.com/youruser/tandem/internal/stream"
)

var log = logging.Get()

// ErrNoThinking means a response carried edit blocks but never opened a
// thinking block. Held edits are failed, nothing applies.
var ErrNoThinking = errors.New("response has edit blocks but no thinking block")

// Completer produces one streamed model response. *llm.Client satisfies it.
type Completer interface {
	ChatStream(ctx context.Context, model, systemPrompt string, messages []llm.Message, reasoning *llm.ReasoningConfig, callback llm.StreamCallback) error
}

// Sink observes session progress for a UI projector. Implementations must not
// block; they are called from the streaming goroutine.
type Sink interface {
	OnBlockOpen(b *stream.Block)
	OnDelta(blockID, text string)
	OnBlockComplete(b *stream.Block)
	OnOutcome(o dispatch.Outcome)
	OnRepair(path string, attempt int)
}

// NopSink discards all progress events.
type NopSink struct{}

func (NopSink) OnBlockOpen(*stream.Block)     {}
func (NopSink) OnDelta(string, string)        {}
func (NopSink) OnBlockComplete(*stream.Block) {}
func (NopSink) OnOutcome(dispatch.Outcome)    {}
func (NopSink) OnRepair(string, int)          {}

// Options configures a session.
type Options struct {
	Model        string
	SystemPrompt string
	Reasoning    *llm.ReasoningConfig
	// MaxRepairAttempts bounds corrective turns per path.
	MaxRepairAttempts int
	// AnswerPrompts enables the interactive command guard on shell blocks.
	AnswerPrompts bool
	Sink          Sink
}

// Result collects everything one Run produced, across the initial response
// and any repair turns.
type Result struct {
	Outcomes []dispatch.Outcome
	// RepairTurns is how many corrective requests were sent.
	RepairTurns int
	Usage       *llm.Usage
}

// Session is one conversation. Not safe for concurrent Runs.
type Session struct {
	completer Completer
	fs        dispatch.Filesystem
	runner    dispatch.Runner
	opts      Options
	sink      Sink

	history []llm.Message
	ctrl    *repair.Controller
}

// New creates a session over the given collaborators.
func New(completer Completer, fs dispatch.Filesystem, runner dispatch.Runner, opts Options) *Session {
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Session{
		completer: completer,
		fs:        fs,
		runner:    runner,
		opts:      opts,
		sink:      sink,
		ctrl:      repair.NewController(opts.MaxRepairAttempts),
	}
}

// History returns the conversation transcript so far.
func (s *Session) History() []llm.Message {
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Reset discards the transcript and all repair bookkeeping. The next Run
// starts a fresh conversation.
func (s *Session) Reset() {
	s.history = nil
	s.ctrl.Reset()
	log.Info("session reset")
}

// RunWithSink is Run with a per-request progress sink replacing the session's
// configured one for the duration of the call.
func (s *Session) RunWithSink(ctx context.Context, prompt string, sink Sink) (*Result, error) {
	prev := s.sink
	if sink != nil {
		s.sink = sink
	}
	defer func() { s.sink = prev }()
	return s.Run(ctx, prompt)
}

// Run sends the user prompt, applies the streamed response, and drives repair
// turns until every path settles or its attempt budget is spent. Outcomes for
// every dispatched block are returned in completion order; failed blocks
// carry their error in Outcome.Err.
func (s *Session) Run(ctx context.Context, prompt string) (*Result, error) {
	s.history = append(s.history, llm.Message{Role: "user", Content: prompt})

	result := &Result{}
	for {
		outcomes, raw, usage, err := s.oneTurn(ctx)
		result.Usage = mergeUsage(result.Usage, usage)
		if raw != "" {
			s.history = append(s.history, llm.Message{Role: "assistant", Content: raw})
		}
		if err != nil {
			return result, err
		}
		followUp := s.collectRepairs(outcomes)
		result.Outcomes = append(result.Outcomes, outcomes...)
		if followUp == "" {
			s.ctrl.Settled()
			return result, nil
		}
		result.RepairTurns++
		s.history = append(s.history, llm.Message{Role: "user", Content: followUp})
	}
}

// collectRepairs inspects the turn's outcomes for patch mismatches. Paths
// with budget left contribute a corrective prompt section; exhausted paths
// have their outcome error upgraded to ErrRepairExhausted in place.
func (s *Session) collectRepairs(outcomes []dispatch.Outcome) string {
	var sections []string
	for i, o := range outcomes {
		var m *patch.Mismatch
		if !errors.As(o.Err, &m) {
			continue
		}
		if err := s.ctrl.Begin(m.Path); err != nil {
			outcomes[i].Err = fmt.Errorf("%v: %w", o.Err, repair.ErrRepairExhausted)
			continue
		}
		s.sink.OnRepair(m.Path, s.ctrl.Attempts(m.Path))
		sections = append(sections, repair.BuildPrompt(m))
	}
	return strings.Join(sections, "\n\n")
}

// oneTurn streams one model response and dispatches its blocks. Returns the
// per-block outcomes, the raw assistant text for the transcript, and usage.
func (s *Session) oneTurn(ctx context.Context) ([]dispatch.Outcome, string, *llm.Usage, error) {
	s.ctrl.RequestSent()

	parser := stream.NewParser()
	d := dispatch.New(s.fs, s.runner, s.opts.AnswerPrompts)
	d.OnOutcome = s.sink.OnOutcome

	var (
		raw     strings.Builder
		usage   *llm.Usage
		sawPlan bool
		held    []*stream.Block
	)

	submit := func(b *stream.Block) {
		switch b.Kind {
		case stream.KindThinking:
			sawPlan = true
			for _, h := range held {
				d.Submit(ctx, h)
			}
			held = nil
		case stream.KindFile, stream.KindShell:
			// Edits apply only after the response has stated a plan.
			if !sawPlan {
				held = append(held, b)
				return
			}
			d.Submit(ctx, b)
		}
	}

	streamErr := s.completer.ChatStream(ctx, s.opts.Model, s.opts.SystemPrompt, s.history, s.opts.Reasoning, func(ev llm.StreamEvent) {
		switch ev.Type {
		case "content":
			raw.WriteString(ev.Content)
			update := parser.Consume(ev.Content)
			for _, b := range update.Opened {
				s.sink.OnBlockOpen(b)
			}
			for _, delta := range update.Deltas {
				s.sink.OnDelta(delta.BlockID, delta.Text)
			}
			for _, b := range update.Completed {
				s.sink.OnBlockComplete(b)
				submit(b)
			}
		case "done":
			usage = ev.Usage
		}
	})
	s.ctrl.ResponseComplete()

	if streamErr != nil {
		return nil, raw.String(), usage, streamErr
	}

	// Stream ended without a thinking block: held edits fail structurally.
	for _, h := range held {
		d.Record(dispatch.Outcome{Block: h, Path: h.Path, Command: h.Command, Err: ErrNoThinking})
	}

	outcomes := d.Wait()
	logTurn(outcomes)
	return outcomes, raw.String(), usage, nil
}

func logTurn(outcomes []dispatch.Outcome) {
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			log.Error("block failed (%s): %v", o.Block.Label(), o.Err)
		case o.Path != "":
			log.Info("applied %s", o.Path)
		case o.Command != "":
			log.Info("ran %q (%d lines)", o.Command, len(o.Output))
		}
	}
}

func mergeUsage(base, extra *llm.Usage) *llm.Usage {
	if base == nil {
		if extra == nil {
			return nil
		}
		copied := *extra
		return &copied
	}
	if extra == nil {
		return base
	}
	base.PromptTokens += extra.PromptTokens
	base.CompletionTokens += extra.CompletionTokens
	base.CachedTokens += extra.CachedTokens
	base.TotalTokens += extra.TotalTokens
	return base
}
