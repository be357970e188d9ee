package repair

import (
	"errors"
	"strings"
	"testing"

	"github.com/youruser/tandem/internal/patch"
)

func TestController_StateTransitions(t *testing.T) {
	c := NewController(2)
	if c.State() != Idle {
		t.Fatalf("initial state = %v, want Idle", c.State())
	}

	c.RequestSent()
	if c.State() != AwaitingResponse {
		t.Errorf("state = %v, want AwaitingResponse", c.State())
	}

	c.ResponseComplete()
	if c.State() != Applying {
		t.Errorf("state = %v, want Applying", c.State())
	}

	if err := c.Begin("a.go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != BuildingRepairPrompt {
		t.Errorf("state = %v, want BuildingRepairPrompt", c.State())
	}

	c.RequestSent()
	c.ResponseComplete()
	c.Settled()
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle", c.State())
	}
}

func TestController_ExhaustsAfterMax(t *testing.T) {
	c := NewController(2)

	if err := c.Begin("a.go"); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	if err := c.Begin("a.go"); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	err := c.Begin("a.go")
	if !errors.Is(err, ErrRepairExhausted) {
		t.Errorf("attempt 3 err = %v, want ErrRepairExhausted", err)
	}
	if c.Attempts("a.go") != 2 {
		t.Errorf("Attempts = %d, want 2", c.Attempts("a.go"))
	}
}

func TestController_AttemptsArePerPath(t *testing.T) {
	c := NewController(1)

	if err := c.Begin("a.go"); err != nil {
		t.Fatal(err)
	}
	if err := c.Begin("b.go"); err != nil {
		t.Errorf("b.go should have its own budget: %v", err)
	}
	if !errors.Is(c.Begin("a.go"), ErrRepairExhausted) {
		t.Error("a.go should be exhausted")
	}
}

func TestController_ResetClearsAttempts(t *testing.T) {
	c := NewController(1)
	if err := c.Begin("a.go"); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle after reset", c.State())
	}
	if err := c.Begin("a.go"); err != nil {
		t.Errorf("budget should be fresh after reset: %v", err)
	}
}

func TestBuildPrompt_NotFound(t *testing.T) {
	m := &patch.Mismatch{
		Path:    "src/App.tsx",
		Search:  "const count = 0",
		Current: "const counter = 0;\nexport default App;\n",
	}
	p := BuildPrompt(m)

	if !strings.Contains(p, "src/App.tsx") {
		t.Error("prompt should name the path")
	}
	if !strings.Contains(p, "was not found") {
		t.Error("prompt should describe the not-found failure")
	}
	if !strings.Contains(p, "const count = 0") {
		t.Error("prompt should quote the failed search text")
	}
	if !strings.Contains(p, "const counter = 0;\nexport default App;\n") {
		t.Error("prompt should carry the verbatim current content")
	}
	if !strings.Contains(p, `type="create"`) {
		t.Error("prompt should offer the full-rewrite fallback")
	}
}

func TestBuildPrompt_Ambiguous(t *testing.T) {
	m := &patch.Mismatch{
		Path:        "util.js",
		Search:      "a = 1;",
		Current:     "a = 1; a = 1;",
		Occurrences: 2,
	}
	p := BuildPrompt(m)
	if !strings.Contains(p, "2 times") {
		t.Errorf("prompt should report the occurrence count:\n%s", p)
	}
	if !strings.Contains(p, "exactly once") {
		t.Error("prompt should state the uniqueness requirement")
	}
}
