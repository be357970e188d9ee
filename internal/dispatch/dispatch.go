// Package dispatch routes completed blocks to their collaborators: file
// blocks to the patch resolver against freshly-read content, shell blocks to
// the guarded command runner. Outcomes are reported per block; one failure
// never halts sibling blocks from the same response.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/youruser/tandem/internal/guard"
	"github.com/youruser/tandem/internal/logging"
	"github.com/youruser/tandem/internal/patch"
	"github.com/youruser/tandem/internal/stream"
)

var log = logging.Get()

// Filesystem is the file collaborator. Read must return the current content
// at call time; the dispatcher never caches file content across blocks.
type Filesystem interface {
	Read(path string) (string, error)
	Write(path, content string) error
}

// Process is one running shell command.
type Process interface {
	Lines() <-chan string
	SendInput(text string) error
	Cancel()
	Wait() error
}

// Runner launches shell commands.
type Runner interface {
	Start(ctx context.Context, command string) (Process, error)
}

// Outcome is the terminal result for one dispatched block.
type Outcome struct {
	Block       *stream.Block
	Path        string // file blocks
	Command     string // shell blocks
	NewContent  string // file blocks, on success
	Output      []string
	Prompts     []guard.Prompt
	Interactive bool // guard classification of the command
	Err         error
}

// Dispatcher consumes complete blocks for one session. File blocks apply
// synchronously in arrival order; shell blocks run in the background while
// parsing continues.
type Dispatcher struct {
	fs            Filesystem
	runner        Runner
	answerPrompts bool

	// OnOutcome, when set, observes every outcome as it lands. Called from
	// the dispatching goroutine for file blocks and from the command's
	// goroutine for shell blocks.
	OnOutcome func(Outcome)

	fileMu  sync.Mutex
	mu      sync.Mutex
	results []Outcome
	shells  sync.WaitGroup
}

// New returns a dispatcher over the given collaborators.
func New(fs Filesystem, runner Runner, answerPrompts bool) *Dispatcher {
	return &Dispatcher{fs: fs, runner: runner, answerPrompts: answerPrompts}
}

// Submit routes one complete block. Thinking and explanation blocks carry no
// side effects and are ignored here.
func (d *Dispatcher) Submit(ctx context.Context, b *stream.Block) {
	switch b.Kind {
	case stream.KindFile:
		d.Record(d.applyFile(b))
	case stream.KindShell:
		d.shells.Add(1)
		go func() {
			defer d.shells.Done()
			d.Record(d.runShell(ctx, b))
		}()
	}
}

// ApplyFile applies a single complete file block and returns its outcome
// without recording it. Used by the repair loop for targeted re-applies.
func (d *Dispatcher) ApplyFile(b *stream.Block) Outcome {
	return d.applyFile(b)
}

// Wait blocks until all in-flight shell commands finish and returns every
// outcome recorded so far, in completion order.
func (d *Dispatcher) Wait() []Outcome {
	d.shells.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Outcome, len(d.results))
	copy(out, d.results)
	return out
}

// Record adds an externally produced outcome (e.g. a structural failure for
// a block that was never applied) to the result set.
func (d *Dispatcher) Record(o Outcome) {
	d.mu.Lock()
	d.results = append(d.results, o)
	d.mu.Unlock()
	if d.OnOutcome != nil {
		d.OnOutcome(o)
	}
}

func (d *Dispatcher) applyFile(b *stream.Block) Outcome {
	o := Outcome{Block: b, Path: b.Path}

	if err := Validate(b); err != nil {
		o.Err = err
		return o
	}

	// Per-path serialization: blocks targeting the same path apply strictly
	// in arrival order, each reading the content the previous one wrote.
	d.fileMu.Lock()
	defer d.fileMu.Unlock()

	current, err := d.fs.Read(b.Path)
	if err != nil {
		o.Err = fmt.Errorf("read %s: %w", b.Path, err)
		return o
	}

	newContent, err := patch.Apply(patch.FromBlock(b), current)
	if err != nil {
		o.Err = err
		return o
	}

	if err := d.fs.Write(b.Path, newContent); err != nil {
		o.Err = fmt.Errorf("write %s: %w", b.Path, err)
		return o
	}

	log.Block("file", fmt.Sprintf("%s %s (%d bytes)", b.Edit, b.Path, len(newContent)))
	o.NewContent = newContent
	return o
}

func (d *Dispatcher) runShell(ctx context.Context, b *stream.Block) Outcome {
	command := strings.TrimSpace(b.Command)
	o := Outcome{Block: b, Command: command, Interactive: guard.LikelyInteractive(command)}

	if command == "" {
		o.Err = &ValidationError{Block: b, Reason: "empty shell command"}
		return o
	}

	proc, err := d.runner.Start(ctx, command)
	if err != nil {
		o.Err = fmt.Errorf("start %q: %w", command, err)
		return o
	}

	var watcher *guard.Watcher
	if d.answerPrompts {
		watcher = guard.NewWatcher(proc)
	}

	var guardErr error
	for line := range proc.Lines() {
		o.Output = append(o.Output, line)
		if watcher == nil || guardErr != nil {
			continue
		}
		if _, err := watcher.Observe(line); err != nil {
			guardErr = fmt.Errorf("command %q: %w", command, err)
			proc.Cancel()
		}
	}

	waitErr := proc.Wait()
	if watcher != nil {
		o.Prompts = watcher.Answered()
	}

	switch {
	case guardErr != nil:
		o.Err = guardErr
	case waitErr != nil:
		o.Err = fmt.Errorf("command %q: %w", command, waitErr)
	}
	return o
}
