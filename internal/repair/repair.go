// Package repair drives the corrective loop after a failed patch: it tracks
// attempts per path, builds the follow-up prompt that carries the file's real
// current content, and declares the failure terminal once the attempt budget
// for a path is spent.
package repair

import (
	"errors"
	"fmt"
	"strings"

	"github.com/youruser/tandem/internal/llm"
	"github.com/youruser/tandem/internal/logging"
	"github.com/youruser/tandem/internal/patch"
)

var log = logging.Get()

// ErrRepairExhausted means a path has used up its repair attempts and the
// failure stands.
var ErrRepairExhausted = errors.New("repair attempts exhausted")

// State of the controller.
type State int

const (
	// Idle: no response in flight.
	Idle State = iota
	// AwaitingResponse: a request (initial or repair) has been sent.
	AwaitingResponse
	// Applying: response blocks are being applied.
	Applying
	// BuildingRepairPrompt: a patch failed and the corrective prompt is
	// being assembled.
	BuildingRepairPrompt
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Applying:
		return "applying"
	case BuildingRepairPrompt:
		return "building_repair_prompt"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller tracks repair state for one conversation. Attempt counts are
// per path and survive across responses until Reset.
type Controller struct {
	max      int
	state    State
	attempts map[string]int
}

// NewController returns a controller allowing max repair attempts per path.
func NewController(max int) *Controller {
	return &Controller{max: max, attempts: make(map[string]int)}
}

// State returns the current loop state.
func (c *Controller) State() State {
	return c.state
}

// RequestSent moves the loop into AwaitingResponse.
func (c *Controller) RequestSent() {
	c.state = AwaitingResponse
}

// ResponseComplete moves the loop into Applying.
func (c *Controller) ResponseComplete() {
	c.state = Applying
}

// Settled moves the loop back to Idle after all blocks resolved.
func (c *Controller) Settled() {
	c.state = Idle
}

// Attempts returns how many repair attempts have been spent on a path.
func (c *Controller) Attempts(path string) int {
	return c.attempts[path]
}

// Begin registers a patch failure for the path and transitions into
// BuildingRepairPrompt. Returns ErrRepairExhausted once the path has no
// attempts left; the caller must then surface the failure instead of
// retrying.
func (c *Controller) Begin(path string) error {
	if c.attempts[path] >= c.max {
		log.Debug("repair exhausted for %s after %d attempts", path, c.attempts[path])
		return fmt.Errorf("%s: %w", path, ErrRepairExhausted)
	}
	c.attempts[path]++
	c.state = BuildingRepairPrompt
	log.Debug("repair attempt %d/%d for %s", c.attempts[path], c.max, path)
	return nil
}

// Reset clears all attempt counts and returns to Idle.
func (c *Controller) Reset() {
	c.state = Idle
	c.attempts = make(map[string]int)
}

// BuildPrompt assembles the corrective user message for a failed patch. It
// names the failure, quotes the search text that missed, and includes the
// file's verbatim current content so the next patch can be grounded in
// reality rather than the model's stale memory of the file.
func BuildPrompt(m *patch.Mismatch) string {
	var b strings.Builder

	switch {
	case m.Occurrences == 0:
		fmt.Fprintf(&b, "The patch for %s failed: the search text was not found in the file.\n\n", m.Path)
	default:
		fmt.Fprintf(&b, "The patch for %s failed: the search text appears %d times and a patch must match exactly once.\n\n", m.Path, m.Occurrences)
	}

	b.WriteString("Search text that failed:\n")
	b.WriteString("```\n")
	b.WriteString(m.Search)
	if !strings.HasSuffix(m.Search, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	fmt.Fprintf(&b, "Current content of %s:\n", m.Path)
	b.WriteString("```\n")
	b.WriteString(m.Current)
	if m.Current != "" && !strings.HasSuffix(m.Current, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	fmt.Fprintf(&b, "Send a corrected <file path=%q type=\"patch\"> whose <search> matches the current content exactly once, or a <file path=%q type=\"create\"> with the full rewritten file.", m.Path, m.Path)

	prompt := b.String()
	log.Debug("repair prompt for %s: ~%d tokens", m.Path, llm.EstimateTokensSimple(prompt))
	return prompt
}
