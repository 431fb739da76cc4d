// Package classifier adapts an external text-classification capability into
// the normalized shape the rest of the moderation pipeline consumes.
//
// The adapter does not interpret scores; thresholds and verdicts live in the
// decision logic. Vendor responses are treated as untrusted and are clamped
// into range at this boundary so downstream code never sees out-of-range
// values.
package classifier

import (
	"context"
	"errors"
	"time"
)

// MaxTextLength is the largest input the adapter will send out for analysis.
const MaxTextLength = 10_000

// ErrInvalidInput indicates empty or oversized text, which no amount of
// retrying will fix.
var ErrInvalidInput = errors.New("classifier: invalid input text")

// ErrUnavailable indicates a transport-level failure (network, timeout, 5xx,
// open circuit breaker). Callers retry these with backoff.
var ErrUnavailable = errors.New("classifier: service unavailable")

type Category struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the normalized output of one analysis call. It is
// ephemeral: either discarded (preview path) or folded into a verdict.
type ClassificationResult struct {
	// SentimentScore is in [-1, 1]; negative is hostile.
	SentimentScore float64    `json:"sentimentScore"`
	Categories     []Category `json:"categories"`
	AnalyzedAt     time.Time  `json:"analyzedAt"`
}

// TopCategory returns the highest-confidence category, or nil when the
// classifier reported none.
func (r *ClassificationResult) TopCategory() *Category {
	var top *Category
	for i := range r.Categories {
		if top == nil || r.Categories[i].Confidence > top.Confidence {
			top = &r.Categories[i]
		}
	}
	return top
}

type Classifier interface {
	Analyze(ctx context.Context, text string) (*ClassificationResult, error)
}

// ValidateText applies the input rules shared by every adapter
// implementation.
func ValidateText(text string) error {
	if len(text) == 0 {
		return ErrInvalidInput
	}
	if len(text) > MaxTextLength {
		return ErrInvalidInput
	}
	return nil
}

func clampScore(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
