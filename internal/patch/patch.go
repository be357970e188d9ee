// Package patch applies completed file-edit blocks to real file content.
// Matching is exact: a search string must occur as a case- and
// whitespace-sensitive contiguous substring exactly once, or the apply fails
// without mutating anything. Approximate matching is rejected by design — a
// stale or hallucinated search string must surface as an error, never be
// guessed around.
package patch

import (
	"fmt"
	"strings"

	"github.com/youruser/tandem/internal/stream"
)

// Op is the normalized instruction derived from a complete file block.
type Op struct {
	Path    string
	Edit    stream.EditKind
	Content string // create payload
	Search  string // patch payload
	Replace string
}

// Mismatch reports a patch whose search text is absent or ambiguous in the
// current file content. It carries the content observed at failure time so a
// corrective prompt can be built from reality rather than the model's memory.
type Mismatch struct {
	Path        string
	Search      string
	Current     string
	Occurrences int
}

func (m *Mismatch) Error() string {
	if m.Occurrences == 0 {
		return fmt.Sprintf("patch %s: search text not found in current content", m.Path)
	}
	return fmt.Sprintf("patch %s: search text is ambiguous (%d occurrences)", m.Path, m.Occurrences)
}

// FromBlock converts a complete file block into an Op.
func FromBlock(b *stream.Block) Op {
	return Op{
		Path:    b.Path,
		Edit:    b.Edit,
		Content: b.Content,
		Search:  b.Search,
		Replace: b.Replace,
	}
}

// Apply resolves op against current content and returns the new content.
// Create ops overwrite unconditionally. Patch ops replace the single exact
// occurrence of op.Search, or return a *Mismatch and leave content untouched.
func Apply(op Op, current string) (string, error) {
	if op.Edit == stream.EditCreate {
		return op.Content, nil
	}

	n := strings.Count(current, op.Search)
	if op.Search == "" || n != 1 {
		if op.Search == "" {
			n = 0
		}
		return "", &Mismatch{
			Path:        op.Path,
			Search:      op.Search,
			Current:     current,
			Occurrences: n,
		}
	}

	idx := strings.Index(current, op.Search)
	return current[:idx] + op.Replace + current[idx+len(op.Search):], nil
}
