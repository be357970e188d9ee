package stream

type section int

const (
	sectionNone section = iota
	sectionSearch
	sectionReplace
)

// Accumulator converts tokenizer events into typed blocks. Partial block
// state may be observed repeatedly through Blocks/Open; each block reaches
// DrainCompleted exactly once, in the order its opening tag appeared.
type Accumulator struct {
	order     []*Block
	current   *Block
	section   section
	opened    []*Block
	completed []*Block
}

// NewAccumulator returns an accumulator scoped to one model response.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply feeds one event into the accumulator. For text events it returns the
// receiving block's ID and the appended delta, for use in progress reporting.
func (a *Accumulator) Apply(ev Event) (blockID, delta string) {
	switch ev.Type {
	case EventOpen:
		a.applyOpen(ev)
	case EventText:
		return a.applyText(ev.Text)
	case EventClose:
		a.applyClose(ev)
	}
	return "", ""
}

func (a *Accumulator) applyOpen(ev Event) {
	switch ev.Name {
	case "search":
		a.section = sectionSearch
		if a.current != nil {
			a.current.HasSearch = true
		}
	case "replace":
		a.section = sectionReplace
		if a.current != nil {
			a.current.HasReplace = true
		}
	case "thinking":
		a.begin(newBlock(KindThinking))
	case "shell":
		a.begin(newBlock(KindShell))
	case "explanation":
		a.begin(newBlock(KindExplanation))
	case "file":
		b := newBlock(KindFile)
		b.Path = ev.Attrs["path"]
		if ev.Attrs["type"] == "patch" {
			b.Edit = EditPatch
		} else {
			b.Edit = EditCreate
		}
		a.begin(b)
	}
}

func (a *Accumulator) begin(b *Block) {
	a.current = b
	a.section = sectionNone
	a.order = append(a.order, b)
	a.opened = append(a.opened, b)
}

func (a *Accumulator) applyText(text string) (string, string) {
	b := a.current
	if b == nil {
		return "", ""
	}
	switch b.Kind {
	case KindThinking, KindExplanation:
		b.Text += text
	case KindShell:
		b.Command += text
	case KindFile:
		if b.Edit == EditCreate {
			b.Content += text
			break
		}
		switch a.section {
		case sectionSearch:
			b.Search += text
		case sectionReplace:
			b.Replace += text
		default:
			// Whitespace between patch children carries no meaning.
			return "", ""
		}
	}
	return b.ID, text
}

func (a *Accumulator) applyClose(ev Event) {
	switch ev.Name {
	case "search", "replace":
		a.section = sectionNone
	default:
		if a.current == nil {
			return
		}
		a.current.Complete = true
		a.completed = append(a.completed, a.current)
		a.current = nil
	}
}

// Open returns the innermost still-open block, or nil. Used to surface
// "currently writing file X" style progress before the block is done.
func (a *Accumulator) Open() *Block {
	return a.current
}

// Blocks returns snapshot copies of all blocks in opening-tag order,
// complete and incomplete alike.
func (a *Accumulator) Blocks() []Block {
	out := make([]Block, len(a.order))
	for i, b := range a.order {
		out[i] = *b
	}
	return out
}

// DrainOpened returns blocks whose opening tag arrived since the previous
// call, so "currently writing file X" can surface before any body text. A
// block is returned at most once.
func (a *Accumulator) DrainOpened() []*Block {
	opened := a.opened
	a.opened = nil
	return opened
}

// DrainCompleted returns blocks completed since the previous call. A block is
// returned at most once across the accumulator's lifetime.
func (a *Accumulator) DrainCompleted() []*Block {
	done := a.completed
	a.completed = nil
	return done
}
