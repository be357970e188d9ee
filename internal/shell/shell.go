// Package shell runs commands for the engine and exposes their output as a
// line stream, with a writable stdin for the interactive guard's responses.
package shell

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/youruser/tandem/internal/logging"
)

var log = logging.Get()

// Runner starts commands under a POSIX shell in a fixed working directory.
type Runner struct {
	Dir     string
	Timeout time.Duration // zero means no limit
}

// NewRunner returns a runner rooted at dir.
func NewRunner(dir string, timeout time.Duration) *Runner {
	return &Runner{Dir: dir, Timeout: timeout}
}

// Process is one running command. Lines carries interleaved stdout and
// stderr as output segments: complete lines, plus any unterminated tail the
// moment a read stalls on it. Interactive prompts wait for input without a
// trailing newline, so the tail must be surfaced while the command is still
// alive, not at exit. The channel closes when the command exits.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	cancel context.CancelFunc

	waitOnce sync.Once
	waitErr  error
	readers  sync.WaitGroup
}

// Start launches command and begins streaming its output.
func (r *Runner) Start(ctx context.Context, command string) (*Process, error) {
	timeoutCancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		ctx, timeoutCancel = context.WithTimeout(ctx, r.Timeout)
	}
	ctx, ctxCancel := context.WithCancel(ctx)
	// Release the timeout timer together with the inner context; a
	// short-lived command must not keep its timer alive.
	cancel := func() {
		ctxCancel()
		timeoutCancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	log.Info("Shell: started %q (pid %d)", command, cmd.Process.Pid)

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, 64),
		cancel: cancel,
	}

	p.readers.Add(2)
	go p.readLines(stdout)
	go p.readLines(stderr)
	go func() {
		p.readers.Wait()
		close(p.lines)
	}()

	return p, nil
}

// readLines splits a pipe into output segments. Complete lines are emitted
// without their newline. A tail left over after a read is emitted right away
// rather than buffered: a prompt like "Continue? (Y/n) " never sends a
// newline, and holding it back would hide the prompt until the command dies.
func (p *Process) readLines(r io.Reader) {
	defer p.readers.Done()
	buf := make([]byte, 64*1024)
	var partial []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for {
				i := bytes.IndexByte(chunk, '\n')
				if i < 0 {
					partial = append(partial, chunk...)
					break
				}
				p.lines <- string(append(partial, chunk[:i]...))
				partial = partial[:0]
				chunk = chunk[i+1:]
			}
			if len(partial) > 0 {
				p.lines <- string(partial)
				partial = partial[:0]
			}
		}
		if err != nil {
			return
		}
	}
}

// Lines returns the command's output stream. The channel closes on exit.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// SendInput writes text to the command's stdin.
func (p *Process) SendInput(text string) error {
	_, err := io.WriteString(p.stdin, text)
	return err
}

// Cancel kills the command and stops the output stream.
func (p *Process) Cancel() {
	p.cancel()
}

// Wait blocks until the command exits and returns its error, if any.
// Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.readers.Wait()
		p.stdin.Close()
		p.waitErr = p.cmd.Wait()
		p.cancel()
	})
	return p.waitErr
}
