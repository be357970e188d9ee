package guard

import (
	"github.com/youruser/tandem/internal/logging"
)

var log = logging.Get()

// Input is the write side of a running command's stdin.
type Input interface {
	SendInput(text string) error
}

// Watcher observes a single command's output lines and answers each detected
// prompt exactly once. It holds no timers; cancellation of the surrounding
// output loop is all that is needed to stop it.
type Watcher struct {
	in       Input
	answered map[string]bool
	prompts  []Prompt
}

// NewWatcher returns a watcher scoped to one command execution.
func NewWatcher(in Input) *Watcher {
	return &Watcher{in: in, answered: make(map[string]bool)}
}

// Observe scans one output line. When a prompt is detected its default
// response is written to the command's stdin. A prompt with no default
// mapping, or one that repeats after being answered, returns an error so the
// caller can fail the command instead of leaving it pending.
func (w *Watcher) Observe(line string) (*Prompt, error) {
	p := ScanLine(line)
	if p == nil {
		return nil, nil
	}

	if !p.Answerable {
		log.Info("Guard: unanswerable prompt: %s", p.Question)
		return p, ErrUnanswerable
	}
	if w.answered[p.Question] {
		log.Info("Guard: prompt repeated after response: %s", p.Question)
		return p, ErrPromptRepeated
	}

	w.answered[p.Question] = true
	w.prompts = append(w.prompts, *p)
	log.Info("Guard: answering %s prompt with %q: %s", p.Kind, p.Response, p.Question)

	if err := w.in.SendInput(p.Response + "\n"); err != nil {
		return p, err
	}
	return p, nil
}

// Answered returns the prompts answered so far, in detection order.
func (w *Watcher) Answered() []Prompt {
	return w.prompts
}
