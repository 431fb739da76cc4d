package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fernwood/warden/util"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPClassifier calls a vendor text-analysis HTTP API and normalizes its
// response. Calls are bounded by the client timeout, rate-limited, and
// wrapped in a circuit breaker so a struggling vendor degrades to fast
// ErrUnavailable instead of piling up blocked workers.
type HTTPClassifier struct {
	Host   string
	APIKey string

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Classifier = (*HTTPClassifier)(nil)

type HTTPClassifierOptions struct {
	// Timeout bounds a single analysis call end to end.
	Timeout time.Duration
	// RequestsPerSecond limits outbound calls to the vendor.
	RequestsPerSecond int
	Logger            *slog.Logger
}

func DefaultHTTPClassifierOptions() *HTTPClassifierOptions {
	return &HTTPClassifierOptions{
		Timeout:           10 * time.Second,
		RequestsPerSecond: 20,
	}
}

func NewHTTPClassifier(host, apiKey string, opts *HTTPClassifierOptions) *HTTPClassifier {
	if opts == nil {
		opts = DefaultHTTPClassifierOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", "classifier", "host", host)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "classifier",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &HTTPClassifier{
		Host:    host,
		APIKey:  apiKey,
		client:  util.TimeoutHTTPClient(opts.Timeout),
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		logger:  logger,
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// vendor response shape; only the fields we consume
type analyzeResponse struct {
	Sentiment struct {
		Score float64 `json:"score"`
	} `json:"sentiment"`
	Categories []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"categories"`
}

func (c *HTTPClassifier) Analyze(ctx context.Context, text string) (*ClassificationResult, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doAnalyze(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return out.(*ClassificationResult), nil
}

func (c *HTTPClassifier) doAnalyze(ctx context.Context, text string) (*ClassificationResult, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: vendor rejected text", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}

	var vendor analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&vendor); err != nil {
		return nil, fmt.Errorf("%w: malformed vendor response: %s", ErrUnavailable, err)
	}

	return normalize(&vendor), nil
}

// normalize converts the vendor shape into a ClassificationResult, clamping
// scores and dropping unnamed categories.
func normalize(vendor *analyzeResponse) *ClassificationResult {
	res := &ClassificationResult{
		SentimentScore: clampScore(vendor.Sentiment.Score, -1, 1),
		Categories:     []Category{},
		AnalyzedAt:     time.Now().UTC(),
	}
	for _, cat := range vendor.Categories {
		if cat.Name == "" {
			continue
		}
		res.Categories = append(res.Categories, Category{
			Name:       cat.Name,
			Confidence: clampScore(cat.Confidence, 0, 1),
		})
	}
	return res
}
