package classifier

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// tokenize splits free-form text into lower-case word tokens, stripping
// punctuation, for fast matching against the keyword lists.
func tokenize(text string) []string {
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	return strings.Fields(split)
}

// KeywordClassifier is a deterministic, in-process classifier backed by
// static keyword lists. It exists for local development and tests, where
// calling a real vendor is unwanted; the confidence model is intentionally
// crude.
type KeywordClassifier struct {
	// Categories maps a category name to the tokens that signal it.
	Categories map[string][]string
	// Negative and Positive drive the sentiment score.
	Negative []string
	Positive []string
}

var _ Classifier = (*KeywordClassifier)(nil)

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		Categories: map[string][]string{
			"Insult":    {"idiot", "stupid", "worthless", "loser", "pathetic", "moron"},
			"Threat":    {"kill", "hurt", "destroy", "attack"},
			"Profanity": {"damn", "hell", "crap"},
			"Spam":      {"viagra", "lottery", "winner", "bitcoin", "giveaway"},
		},
		Negative: []string{"hate", "awful", "terrible", "worst", "disgusting", "worthless", "idiot", "stupid", "kill"},
		Positive: []string{"great", "love", "thanks", "wonderful", "excellent", "helpful", "nice"},
	}
}

func (c *KeywordClassifier) Analyze(ctx context.Context, text string) (*ClassificationResult, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	toks := tokenize(text)

	res := &ClassificationResult{
		Categories: []Category{},
		AnalyzedAt: time.Now().UTC(),
	}

	for name, words := range c.Categories {
		hits := 0
		for _, tok := range toks {
			if slices.Contains(words, tok) {
				hits++
			}
		}
		if hits > 0 {
			// one hit is suspicion, each further hit adds certainty
			res.Categories = append(res.Categories, Category{
				Name:       name,
				Confidence: clampScore(0.5+0.25*float64(hits), 0, 0.99),
			})
		}
	}
	slices.SortFunc(res.Categories, func(a, b Category) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})

	neg, pos := 0, 0
	for _, tok := range toks {
		if slices.Contains(c.Negative, tok) {
			neg++
		}
		if slices.Contains(c.Positive, tok) {
			pos++
		}
	}
	if neg+pos > 0 {
		res.SentimentScore = clampScore(float64(pos-neg)/float64(neg+pos), -1, 1)
	}

	return res, nil
}
