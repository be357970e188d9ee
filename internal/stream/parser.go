// Package stream turns a growing model-response text stream into typed
// instruction blocks before the stream is finished. The wire grammar is a
// small fixed tag vocabulary:
//
//	<thinking>...</thinking>
//	<shell>...</shell>
//	<file path="relative/path" type="create">...full content...</file>
//	<file path="relative/path" type="patch">
//	  <search>...exact existing text...</search>
//	  <replace>...new text...</replace>
//	</file>
//	<explanation>...</explanation>
//
// Parsing is incremental: feeding a response in any chunking produces the
// same blocks as feeding it whole, and no complete block is emitted twice.
package stream

// Delta is a text increment appended to a still-open block.
type Delta struct {
	BlockID string
	Text    string
}

// Update is the result of consuming one chunk.
type Update struct {
	Opened    []*Block // blocks whose opening tag arrived in this chunk
	Completed []*Block // blocks whose closing tag arrived in this chunk
	Deltas    []Delta  // body text appended to open blocks
}

// Parser combines the tokenizer and accumulator for one model response.
// A Parser is session-scoped: construct one per response and discard it when
// the response finishes or the session resets.
type Parser struct {
	tok *Tokenizer
	acc *Accumulator
}

// NewParser returns a parser for a single response stream.
func NewParser() *Parser {
	return &Parser{tok: NewTokenizer(), acc: NewAccumulator()}
}

// Consume feeds the next chunk and reports newly completed blocks and text
// deltas. Unclosed tags at the current end of stream simply remain open.
func (p *Parser) Consume(chunk string) Update {
	var up Update
	for _, ev := range p.tok.Consume(chunk) {
		id, delta := p.acc.Apply(ev)
		if delta != "" {
			up.Deltas = append(up.Deltas, Delta{BlockID: id, Text: delta})
		}
	}
	up.Opened = p.acc.DrainOpened()
	up.Completed = p.acc.DrainCompleted()
	return up
}

// Open returns the innermost still-open block, or nil.
func (p *Parser) Open() *Block {
	return p.acc.Open()
}

// Blocks returns snapshot copies of all blocks seen so far, in the order
// their opening tags appeared.
func (p *Parser) Blocks() []Block {
	return p.acc.Blocks()
}
