package llm

import (
	"context"
	"time"
)

// Prompt is a single-turn request: a system prompt and one user message.
type Prompt struct {
	System string
	User   string
}

// DeltaFunc receives each streamed fragment. It must not block.
type DeltaFunc func(fragment string)

// Generation is the accumulated output of one model call.
type Generation struct {
	// Raw is the tool input JSON, or the accumulated text if the model never called the tool.
	Raw        string
	ToolUsed   bool
	StopReason string
	Model      string
	Elapsed    time.Duration
}

// Generator produces an analysis report for a prompt, streaming fragments as they arrive.
type Generator interface {
	Generate(ctx context.Context, p Prompt, onDelta DeltaFunc) (*Generation, error)
}

// OrderExtractor turns the text of a historical procedural order into raw extraction JSON.
type OrderExtractor interface {
	ExtractOrder(ctx context.Context, text string) (string, error)
}
