// Package summarize condenses assembled memory context into a short
// digest before it is handed to a caller with a tight prompt budget.
package summarize

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the summarization backend could not be
// reached or refused the request.
var ErrUnavailable = errors.New("summarizer unavailable")

const systemPrompt = "You condense retrieved memory passages. Keep every concrete fact, " +
	"name, and number. Drop repetition and filler. Answer with the condensed text only."

// Summarizer condenses a block of text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
