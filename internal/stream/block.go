package stream

import "github.com/google/uuid"

// Kind identifies the type of a parsed block.
type Kind int

const (
	KindThinking Kind = iota
	KindShell
	KindFile
	KindExplanation
)

func (k Kind) String() string {
	switch k {
	case KindThinking:
		return "thinking"
	case KindShell:
		return "shell"
	case KindFile:
		return "file"
	case KindExplanation:
		return "explanation"
	}
	return "unknown"
}

// EditKind distinguishes full-content file writes from search/replace patches.
type EditKind int

const (
	EditCreate EditKind = iota
	EditPatch
)

func (e EditKind) String() string {
	if e == EditPatch {
		return "patch"
	}
	return "create"
}

// Block is one typed unit parsed from a model response. A block is incomplete
// from the moment its opening tag is read until its closing tag is read; once
// complete it is immutable and handed downstream exactly once.
type Block struct {
	ID   string
	Kind Kind

	Text    string // thinking and explanation body
	Command string // shell body

	Path    string // file blocks
	Edit    EditKind
	Content string // file create body
	Search  string // file patch children
	Replace string

	// HasSearch/HasReplace record that the child tag appeared, independent of
	// body length (an empty <replace> is a valid deletion).
	HasSearch  bool
	HasReplace bool

	Complete bool
}

func newBlock(kind Kind) *Block {
	return &Block{ID: uuid.NewString(), Kind: kind}
}

// Label returns a short human-readable description for progress display.
func (b *Block) Label() string {
	switch b.Kind {
	case KindShell:
		return "shell: " + firstLine(b.Command)
	case KindFile:
		return b.Edit.String() + ": " + b.Path
	default:
		return b.Kind.String()
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
