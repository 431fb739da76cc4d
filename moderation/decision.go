package moderation

import (
	"fmt"
	"math"

	"github.com/fernwood/warden/moderation/classifier"
)

// Decision thresholds. A category crossing CategoryThreshold flags on its
// own; when sentiment is at or below SentimentThreshold, a category at
// SupportingCategoryThreshold suffices.
const (
	CategoryThreshold           = 0.70
	SentimentThreshold          = -0.60
	SupportingCategoryThreshold = 0.40
)

// Verdict is the moderation decision derived from one classification.
type Verdict struct {
	IsToxic        bool                             `json:"isToxic"`
	Reason         string                           `json:"reason,omitempty"`
	Classification *classifier.ClassificationResult `json:"classification"`
}

// Decide maps a classification to a verdict. Pure and deterministic: the
// synchronous preview path and the worker path both call this, and must
// never disagree for the same input.
func Decide(res *classifier.ClassificationResult) Verdict {
	verdict := Verdict{Classification: res}

	threshold := CategoryThreshold
	if res.SentimentScore <= SentimentThreshold {
		threshold = SupportingCategoryThreshold
	}

	var top *classifier.Category
	for i := range res.Categories {
		cat := &res.Categories[i]
		if cat.Confidence >= threshold && (top == nil || cat.Confidence > top.Confidence) {
			top = cat
		}
	}
	if top == nil {
		return verdict
	}

	verdict.IsToxic = true
	verdict.Reason = fmt.Sprintf("Flagged for: %s (%d%%)", top.Name, int(math.Round(top.Confidence*100)))
	return verdict
}
