package stream

import (
	"bytes"
	"strings"
)

// EventType classifies tokenizer output.
type EventType int

const (
	EventOpen EventType = iota
	EventText
	EventClose
)

// Event is one tag boundary or text delta produced by the tokenizer.
type Event struct {
	Type  EventType
	Name  string            // tag name for EventOpen/EventClose
	Attrs map[string]string // attributes for EventOpen
	Text  string            // delta for EventText
}

type openElem struct {
	name  string
	attrs map[string]string
}

// Tokenizer advances an explicit parser state over an append-only buffer,
// never reprocessing a resolved region. The recognized vocabulary depends on
// context: at the top level only thinking, shell, file and explanation open
// tags are special; inside an element only its own closing tag is special,
// except inside a file of type=patch, where search and replace open tags are
// also recognized. Any '<' that cannot begin a recognized tag is literal text.
type Tokenizer struct {
	buf   []byte
	pos   int
	stack []openElem
}

// NewTokenizer returns a tokenizer scoped to one model response.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Depth returns the current element nesting depth.
func (t *Tokenizer) Depth() int {
	return len(t.stack)
}

// Buffered returns the total number of bytes consumed so far.
func (t *Tokenizer) Buffered() int {
	return len(t.buf)
}

// Consume appends a chunk and returns all newly resolvable events. A tag
// split across chunk boundaries is held until the chunk that finishes it
// arrives; the split point never changes the event sequence.
func (t *Tokenizer) Consume(chunk string) []Event {
	t.buf = append(t.buf, chunk...)
	var events []Event

	for t.pos < len(t.buf) {
		rel := bytes.IndexByte(t.buf[t.pos:], '<')
		if rel < 0 {
			t.emitText(string(t.buf[t.pos:]), &events)
			t.pos = len(t.buf)
			break
		}
		if rel > 0 {
			t.emitText(string(t.buf[t.pos:t.pos+rel]), &events)
			t.pos += rel
		}

		adv, ev, resolved := t.scanTag()
		if !resolved {
			// Tag possibly split across chunks; wait for more input.
			break
		}
		if ev == nil {
			// Not a recognized tag here: the '<' is literal body text.
			t.emitText("<", &events)
			t.pos++
			continue
		}
		events = append(events, *ev)
		t.pos += adv
	}

	return events
}

func (t *Tokenizer) emitText(text string, events *[]Event) {
	if len(t.stack) == 0 || text == "" {
		// Text between top-level blocks carries no meaning.
		return
	}
	*events = append(*events, Event{Type: EventText, Text: text})
}

// scanTag examines the tag starting at t.pos (which holds '<'). It returns
// the byte advance and event for a recognized tag, (0, nil, true) for a
// literal '<', or resolved=false when more input is needed to decide.
func (t *Tokenizer) scanTag() (int, *Event, bool) {
	end := -1
	inQuote := false
	for i := t.pos + 1; i < len(t.buf); i++ {
		c := t.buf[i]
		if c == '"' {
			inQuote = !inQuote
		} else if c == '>' && !inQuote {
			end = i
			break
		}
	}

	if end < 0 {
		partial := string(t.buf[t.pos+1:])
		if t.couldBeTag(partial) {
			return 0, nil, false
		}
		return 0, nil, true
	}

	ev := t.recognize(string(t.buf[t.pos+1 : end]))
	if ev == nil {
		return 0, nil, true
	}
	return end - t.pos + 1, ev, true
}

// recognize parses tag text (between '<' and '>') and applies it to the
// element stack if it is valid in the current context.
func (t *Tokenizer) recognize(tagText string) *Event {
	if strings.HasPrefix(tagText, "/") {
		name := strings.TrimSpace(tagText[1:])
		if len(t.stack) > 0 && name == t.stack[len(t.stack)-1].name {
			t.stack = t.stack[:len(t.stack)-1]
			return &Event{Type: EventClose, Name: name}
		}
		return nil
	}

	name, attrs, ok := parseOpenTag(tagText)
	if !ok || !t.allowedOpen(name) {
		return nil
	}
	t.stack = append(t.stack, openElem{name: name, attrs: attrs})
	return &Event{Type: EventOpen, Name: name, Attrs: attrs}
}

// allowedOpen reports whether an opening tag is part of the vocabulary at the
// current nesting position.
func (t *Tokenizer) allowedOpen(name string) bool {
	for _, c := range t.openCandidates() {
		if c == name {
			return true
		}
	}
	return false
}

func (t *Tokenizer) openCandidates() []string {
	if len(t.stack) == 0 {
		return []string{"thinking", "shell", "file", "explanation"}
	}
	top := t.stack[len(t.stack)-1]
	if top.name == "file" && top.attrs["type"] == "patch" {
		return []string{"search", "replace"}
	}
	return nil
}

// couldBeTag reports whether the partial text after a '<' at end of buffer
// may still grow into a recognized tag. If not, the '<' is literal.
func (t *Tokenizer) couldBeTag(partial string) bool {
	var candidates []string
	if len(t.stack) > 0 {
		candidates = append(candidates, "/"+t.stack[len(t.stack)-1].name)
	}
	candidates = append(candidates, t.openCandidates()...)

	for _, c := range candidates {
		if strings.HasPrefix(c, partial) {
			return true
		}
		// Full name read; attributes may still be streaming in.
		if !strings.HasPrefix(c, "/") && len(partial) > len(c) &&
			strings.HasPrefix(partial, c) && isSpace(partial[len(c)]) {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z'
}

// parseOpenTag splits tag text into a name and key="value" attributes.
func parseOpenTag(s string) (string, map[string]string, bool) {
	i := 0
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	if i == 0 {
		return "", nil, false
	}
	name := s[:i]

	rest := strings.TrimSpace(s[i:])
	if rest == "" {
		return name, nil, true
	}
	if !isSpace(s[i]) {
		return "", nil, false
	}

	attrs := make(map[string]string)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return "", nil, false
		}
		key := strings.TrimSpace(rest[:eq])
		val := strings.TrimSpace(rest[eq+1:])
		if key == "" || len(val) < 2 || val[0] != '"' {
			return "", nil, false
		}
		endq := strings.IndexByte(val[1:], '"')
		if endq < 0 {
			return "", nil, false
		}
		attrs[key] = val[1 : 1+endq]
		rest = strings.TrimSpace(val[endq+2:])
	}
	return name, attrs, true
}
