// Command replay feeds a recorded model response through the engine against a
// workspace directory. Useful for debugging parser and patch behavior on a
// captured transcript without talking to a provider.
//
//	replay --workspace ./proj --chunk-size 16 transcript.txt
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	flag "github.com/spf13/pflag"

	"github.com/youruser/tandem/internal/dispatch"
	"github.com/youruser/tandem/internal/shell"
	"github.com/youruser/tandem/internal/stream"
	"github.com/youruser/tandem/internal/workspace"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func main() {
	var (
		workspaceDir string
		chunkSize    int
		dryRun       bool
		runShell     bool
	)
	flag.StringVarP(&workspaceDir, "workspace", "w", ".", "workspace root to apply edits under")
	flag.IntVar(&chunkSize, "chunk-size", 16, "bytes per parser feed, to exercise chunk boundaries")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and print blocks without applying anything")
	flag.BoolVar(&runShell, "run-shell", false, "execute shell blocks (off by default)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay [flags] <transcript-file>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("read transcript: "+err.Error()))
		os.Exit(1)
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("replaying %s (%d bytes, %d-byte chunks)", flag.Arg(0), len(data), chunkSize)))

	parser := stream.NewParser()
	var blocks []*stream.Block
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		update := parser.Consume(string(data[:n]))
		data = data[n:]
		blocks = append(blocks, update.Completed...)
	}

	for _, b := range parser.Blocks() {
		if !b.Complete {
			fmt.Println(dimStyle.Render("unclosed at stream end: " + b.Label()))
		}
	}

	if len(blocks) == 0 {
		fmt.Println(dimStyle.Render("no complete blocks in transcript"))
		return
	}

	if dryRun {
		for _, b := range blocks {
			printBlock(b)
		}
		return
	}

	ws := workspace.New(workspaceDir)
	runner := shell.NewRunner(workspaceDir, 5*time.Minute)
	d := dispatch.New(ws, runnerAdapter{r: runner}, true)
	d.OnOutcome = printOutcome

	ctx := context.Background()
	for _, b := range blocks {
		printBlock(b)
		if b.Kind == stream.KindShell && !runShell {
			fmt.Println(dimStyle.Render("  skipped (pass --run-shell to execute)"))
			continue
		}
		d.Submit(ctx, b)
	}

	failed := 0
	for _, o := range d.Wait() {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		fmt.Println(errStyle.Render(fmt.Sprintf("%d block(s) failed", failed)))
		os.Exit(1)
	}
	fmt.Println(okStyle.Render("all blocks applied"))
}

func printBlock(b *stream.Block) {
	line := kindStyle.Render(b.Kind.String())
	switch b.Kind {
	case stream.KindFile:
		line += " " + pathStyle.Render(b.Path) + dimStyle.Render(" ("+b.Edit.String()+")")
	case stream.KindShell:
		line += " " + commandStyle.Render(b.Command)
	case stream.KindThinking, stream.KindExplanation:
		line += " " + dimStyle.Render(truncate(b.Text, 60))
	}
	fmt.Println(line)
}

func printOutcome(o dispatch.Outcome) {
	switch {
	case o.Err != nil:
		fmt.Println(errStyle.Render("  ✗ " + o.Err.Error()))
	case o.Path != "":
		fmt.Println(okStyle.Render(fmt.Sprintf("  ✓ wrote %s (%d bytes)", o.Path, len(o.NewContent))))
	case o.Command != "":
		fmt.Println(okStyle.Render(fmt.Sprintf("  ✓ ran %q (%d lines)", o.Command, len(o.Output))))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

type runnerAdapter struct {
	r *shell.Runner
}

func (a runnerAdapter) Start(ctx context.Context, command string) (dispatch.Process, error) {
	return a.r.Start(ctx, command)
}
