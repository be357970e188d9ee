package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/youruser/tandem/internal/patch"
	"github.com/youruser/tandem/internal/stream"
)

type memFS struct {
	files map[string]string
	reads []string
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]string)}
}

func (m *memFS) Read(path string) (string, error) {
	m.reads = append(m.reads, path)
	return m.files[path], nil
}

func (m *memFS) Write(path, content string) error {
	m.files[path] = content
	return nil
}

type fakeProcess struct {
	lines    chan string
	inputs   []string
	waitErr  error
	canceled bool
}

func newFakeProcess(lines ...string) *fakeProcess {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return &fakeProcess{lines: ch}
}

func (p *fakeProcess) Lines() <-chan string { return p.lines }
func (p *fakeProcess) SendInput(text string) error {
	p.inputs = append(p.inputs, text)
	return nil
}
func (p *fakeProcess) Cancel()     { p.canceled = true }
func (p *fakeProcess) Wait() error { return p.waitErr }

type fakeRunner struct {
	proc     *fakeProcess
	startErr error
	commands []string
}

func (r *fakeRunner) Start(ctx context.Context, command string) (Process, error) {
	r.commands = append(r.commands, command)
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.proc, nil
}

func completeFile(path string, edit stream.EditKind) *stream.Block {
	b := &stream.Block{Kind: stream.KindFile, Path: path, Edit: edit, Complete: true}
	if edit == stream.EditPatch {
		b.HasSearch = true
		b.HasReplace = true
	}
	return b
}

func TestDispatcher_CreateWritesFile(t *testing.T) {
	fs := newMemFS()
	d := New(fs, &fakeRunner{}, true)

	b := completeFile("src/new.go", stream.EditCreate)
	b.Content = "package src\n"
	d.Submit(context.Background(), b)

	results := d.Wait()
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if fs.files["src/new.go"] != "package src\n" {
		t.Errorf("file = %q", fs.files["src/new.go"])
	}
}

func TestDispatcher_PatchReadsFreshContent(t *testing.T) {
	fs := newMemFS()
	fs.files["a.go"] = "const x=1;"
	d := New(fs, &fakeRunner{}, true)

	b := completeFile("a.go", stream.EditPatch)
	b.Search = "const x=1"
	b.Replace = "const x=2"
	d.Submit(context.Background(), b)

	results := d.Wait()
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if fs.files["a.go"] != "const x=2;" {
		t.Errorf("file = %q, want %q", fs.files["a.go"], "const x=2;")
	}
	if len(fs.reads) != 1 || fs.reads[0] != "a.go" {
		t.Errorf("reads = %v, want one fresh read", fs.reads)
	}
}

func TestDispatcher_MismatchLeavesFileUntouched(t *testing.T) {
	fs := newMemFS()
	fs.files["a.go"] = "const y=1;"
	d := New(fs, &fakeRunner{}, true)

	b := completeFile("a.go", stream.EditPatch)
	b.Search = "const x=1"
	b.Replace = "const x=2"
	d.Submit(context.Background(), b)

	results := d.Wait()
	var m *patch.Mismatch
	if !errors.As(results[0].Err, &m) {
		t.Fatalf("err = %v, want *patch.Mismatch", results[0].Err)
	}
	if fs.files["a.go"] != "const y=1;" {
		t.Errorf("file mutated to %q", fs.files["a.go"])
	}
	if m.Current != "const y=1;" {
		t.Errorf("Mismatch.Current = %q", m.Current)
	}
}

func TestDispatcher_FailureDoesNotHaltSiblings(t *testing.T) {
	fs := newMemFS()
	fs.files["bad.go"] = "nothing to match"
	d := New(fs, &fakeRunner{}, true)

	bad := completeFile("bad.go", stream.EditPatch)
	bad.Search = "absent"
	bad.Replace = "x"
	good := completeFile("good.go", stream.EditCreate)
	good.Content = "ok\n"

	d.Submit(context.Background(), bad)
	d.Submit(context.Background(), good)

	results := d.Wait()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err == nil {
		t.Error("bad block should fail")
	}
	if results[1].Err != nil {
		t.Errorf("good block failed: %v", results[1].Err)
	}
	if fs.files["good.go"] != "ok\n" {
		t.Error("sibling write did not land")
	}
}

func TestDispatcher_SamePathAppliesInArrivalOrder(t *testing.T) {
	fs := newMemFS()
	fs.files["a.go"] = "v1"
	d := New(fs, &fakeRunner{}, true)

	first := completeFile("a.go", stream.EditPatch)
	first.Search = "v1"
	first.Replace = "v2"
	second := completeFile("a.go", stream.EditPatch)
	second.Search = "v2"
	second.Replace = "v3"

	d.Submit(context.Background(), first)
	d.Submit(context.Background(), second)

	results := d.Wait()
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("block %d failed: %v", i, r.Err)
		}
	}
	// The second patch only matches if it read the first patch's output.
	if fs.files["a.go"] != "v3" {
		t.Errorf("file = %q, want %q", fs.files["a.go"], "v3")
	}
}

func TestDispatcher_ShellOutcome(t *testing.T) {
	proc := newFakeProcess("installing...", "done")
	runner := &fakeRunner{proc: proc}
	d := New(newMemFS(), runner, true)

	b := &stream.Block{Kind: stream.KindShell, Command: "npm install\n", Complete: true}
	d.Submit(context.Background(), b)

	results := d.Wait()
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	o := results[0]
	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}
	if o.Command != "npm install" {
		t.Errorf("Command = %q, want trimmed command", o.Command)
	}
	if !o.Interactive {
		t.Error("npm install should classify as likely interactive")
	}
	if len(o.Output) != 2 {
		t.Errorf("Output = %v", o.Output)
	}
}

func TestDispatcher_ShellPromptAnswered(t *testing.T) {
	proc := newFakeProcess(
		"Resolving packages...",
		"? Do you want to send anonymous usage data? (Y/n)",
		"done",
	)
	runner := &fakeRunner{proc: proc}
	d := New(newMemFS(), runner, true)

	b := &stream.Block{Kind: stream.KindShell, Command: "npm install", Complete: true}
	d.Submit(context.Background(), b)

	results := d.Wait()
	o := results[0]
	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}
	if len(proc.inputs) != 1 || proc.inputs[0] != "Y\n" {
		t.Errorf("inputs = %v, want [\"Y\\n\"]", proc.inputs)
	}
	if len(o.Prompts) != 1 {
		t.Errorf("Prompts = %v, want one answered prompt", o.Prompts)
	}
}

func TestDispatcher_ShellExitErrorReported(t *testing.T) {
	proc := newFakeProcess("boom")
	proc.waitErr = fmt.Errorf("exit status 3")
	runner := &fakeRunner{proc: proc}
	d := New(newMemFS(), runner, true)

	b := &stream.Block{Kind: stream.KindShell, Command: "false", Complete: true}
	d.Submit(context.Background(), b)

	results := d.Wait()
	if results[0].Err == nil {
		t.Error("expected an error for non-zero exit")
	}
}

func TestDispatcher_UnanswerablePromptCancelsCommand(t *testing.T) {
	proc := newFakeProcess("Enter password:")
	runner := &fakeRunner{proc: proc}
	d := New(newMemFS(), runner, true)

	b := &stream.Block{Kind: stream.KindShell, Command: "ssh host", Complete: true}
	d.Submit(context.Background(), b)

	results := d.Wait()
	if results[0].Err == nil {
		t.Fatal("expected a guard error")
	}
	if !proc.canceled {
		t.Error("process should be canceled on unanswerable prompt")
	}
}

func TestValidate(t *testing.T) {
	t.Run("incomplete block rejected", func(t *testing.T) {
		b := &stream.Block{Kind: stream.KindFile, Path: "a"}
		if err := Validate(b); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("create without content rejected", func(t *testing.T) {
		b := completeFile("a.go", stream.EditCreate)
		if err := Validate(b); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("patch without replace rejected", func(t *testing.T) {
		b := completeFile("a.go", stream.EditPatch)
		b.Search = "x"
		b.HasReplace = false
		if err := Validate(b); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("file without path rejected", func(t *testing.T) {
		b := completeFile("", stream.EditCreate)
		b.Content = "x"
		if err := Validate(b); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("valid patch accepted", func(t *testing.T) {
		b := completeFile("a.go", stream.EditPatch)
		b.Search = "x"
		b.Replace = "y"
		if err := Validate(b); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
