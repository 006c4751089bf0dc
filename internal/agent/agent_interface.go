package agent

import (
	"context"

	"github.com/ciruelos/padelbot/internal/domain"
)

// Extractor turns a conversation into a reply and an optional structured action.
// This interface is implemented by the Gemini client.
type Extractor interface {
	// Extract runs one chat completion over req.History with a system prompt
	// built from req.Context. A malformed action block yields a nil Action
	// and the surrounding text is still returned.
	Extract(ctx context.Context, req Request) (*Reply, error)
}

// Ensure GeminiExtractor implements Extractor.
var _ Extractor = (*GeminiExtractor)(nil)

// Request is the input of one extraction.
type Request struct {
	UserID  string
	History []domain.Turn
	Context PromptContext
}

// Reply is the model's answer with any action block removed from Text.
type Reply struct {
	Text   string
	Action domain.Action
}
