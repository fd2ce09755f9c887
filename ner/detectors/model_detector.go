package detectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
)

const (
	defaultRemoteTimeout  = 30 * time.Second
	defaultRemoteAttempts = 3
	remoteRetryDelay      = 500 * time.Millisecond
)

// RemoteConfig points at a HuggingFace-style token-classification endpoint.
type RemoteConfig struct {
	BaseURL       string
	APIToken      string
	Timeout       time.Duration
	RetryAttempts int
}

// ModelDetector calls a hosted token-classification pipeline that already
// applies "simple" aggregation, and only reshapes its output.
type ModelDetector struct {
	client   *resty.Client
	url      string
	attempts uint
}

type remoteRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters remoteParameters `json:"parameters"`
}

type remoteParameters struct {
	AggregationStrategy string `json:"aggregation_strategy"`
}

type remoteEntity struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
	Start       *int    `json:"start"`
	End         *int    `json:"end"`
}

type remoteError struct {
	Error string `json:"error"`
}

// statusError carries a non-2xx response from the endpoint.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model endpoint returned %d: %s", e.code, e.msg)
}

func NewModelDetector(cfg RemoteConfig) *ModelDetector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRemoteAttempts
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}

	return &ModelDetector{client: client, url: cfg.BaseURL, attempts: uint(attempts)}
}

// GetName returns the name of this detector
func (m *ModelDetector) GetName() string {
	return DetectorNameModel
}

// Detect posts the text to the endpoint and converts the grouped entities.
func (m *ModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	var result []remoteEntity
	err := retry.Do(
		func() error {
			var err error
			result, err = m.post(ctx, input.Text)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(remoteRetryDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return DetectorOutput{}, err
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: convertRemoteEntities(input.Text, result),
	}, nil
}

func (m *ModelDetector) post(ctx context.Context, text string) ([]remoteEntity, error) {
	var result []remoteEntity
	var failure remoteError
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			Inputs:     text,
			Parameters: remoteParameters{AggregationStrategy: "simple"},
		}).
		SetResult(&result).
		SetError(&failure).
		Post(m.url)
	if err != nil {
		return nil, fmt.Errorf("model endpoint request failed: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return nil, &statusError{code: resp.StatusCode(), msg: msg}
	}
	return result, nil
}

// isTransient reports whether a failed call is worth repeating: rate limits,
// server errors (503 while a hosted model is loading) and network timeouts.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// convertRemoteEntities keeps the endpoint's order. The span is sliced from
// the original text when offsets are present, otherwise the decoded word is used.
// Offsets from the endpoint count characters, not bytes.
func convertRemoteEntities(text string, items []remoteEntity) []Entity {
	runes := []rune(text)
	entities := make([]Entity, 0, len(items))
	for _, item := range items {
		e := Entity{
			Text:       strings.TrimSpace(item.Word),
			Label:      item.EntityGroup,
			Confidence: item.Score,
		}
		if item.Start != nil && item.End != nil {
			e.StartPos, e.EndPos = *item.Start, *item.End
			if span := sliceRunes(runes, e.StartPos, e.EndPos); span != "" {
				e.Text = span
			}
		}
		if e.Text == "" || e.Label == "" {
			continue
		}
		entities = append(entities, e)
	}
	return entities
}

func sliceRunes(runes []rune, start, end int) string {
	if start < 0 || end > len(runes) || start >= end {
		return ""
	}
	return string(runes[start:end])
}

// Close implements the Detector interface
func (m *ModelDetector) Close() error {
	return nil
}
