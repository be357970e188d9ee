package dispatch

import (
	"fmt"
	"strings"

	"github.com/youruser/tandem/internal/stream"
)

// ValidationError reports a complete block missing required fields for its
// kind. Detected before any apply step runs; the block is never applied.
type ValidationError struct {
	Block  *stream.Block
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s block: %s", e.Block.Kind, e.Reason)
}

// Validate checks a complete block's structural requirements.
func Validate(b *stream.Block) error {
	if !b.Complete {
		return &ValidationError{Block: b, Reason: "block is not complete"}
	}

	switch b.Kind {
	case stream.KindFile:
		if b.Path == "" {
			return &ValidationError{Block: b, Reason: "missing path attribute"}
		}
		switch b.Edit {
		case stream.EditCreate:
			if b.Content == "" {
				return &ValidationError{Block: b, Reason: "create block has no content"}
			}
		case stream.EditPatch:
			if !b.HasSearch || b.Search == "" {
				return &ValidationError{Block: b, Reason: "patch block missing search text"}
			}
			if !b.HasReplace {
				return &ValidationError{Block: b, Reason: "patch block missing replace text"}
			}
		}
	case stream.KindShell:
		if strings.TrimSpace(b.Command) == "" {
			return &ValidationError{Block: b, Reason: "empty shell command"}
		}
	}
	return nil
}
