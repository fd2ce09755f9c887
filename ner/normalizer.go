package ner

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// ParseOutcome tags a ParseResult.
type ParseOutcome int

const (
	// ParseSuccess means a strategy located a JSON payload.
	ParseSuccess ParseOutcome = iota
	// ParseUnrecoverable means no strategy located a usable payload.
	ParseUnrecoverable
)

func (o ParseOutcome) String() string {
	if o == ParseSuccess {
		return "success"
	}
	return "unrecoverable"
}

// ParseResult is either Success (Payload and Strategy set) or Unrecoverable
// (Reason set).
type ParseResult struct {
	Outcome  ParseOutcome
	Strategy string
	Payload  json.RawMessage
	Reason   string
}

// Strategy extracts a JSON payload from raw model text. Extract must be pure.
type Strategy struct {
	Name    string
	Extract func(text string) (json.RawMessage, bool)
}

var reFencedJSON = regexp.MustCompile("(?is)```\\s*json\\s*\\n?(.*?)```")

// BareArray accepts text that is itself a JSON array.
var BareArray = Strategy{
	Name: "bare_array",
	Extract: func(text string) (json.RawMessage, bool) {
		if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
			return nil, false
		}
		if !json.Valid([]byte(text)) {
			return nil, false
		}
		return json.RawMessage(text), true
	},
}

// FencedJSON accepts the interior of the first ```json fenced block.
var FencedJSON = Strategy{
	Name: "fenced_json",
	Extract: func(text string) (json.RawMessage, bool) {
		m := reFencedJSON.FindStringSubmatch(text)
		if m == nil {
			return nil, false
		}
		inner := strings.TrimSpace(m[1])
		if !json.Valid([]byte(inner)) {
			return nil, false
		}
		return json.RawMessage(inner), true
	},
}

// DefaultStrategies is the fixed priority order: bare array, then fenced block.
var DefaultStrategies = []Strategy{BareArray, FencedJSON}

// ParseResponse tries strategies in order and returns the first success.
func ParseResponse(raw string, strategies []Strategy) ParseResult {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParseResult{Outcome: ParseUnrecoverable, Reason: "empty response"}
	}
	for _, s := range strategies {
		if payload, ok := s.Extract(text); ok {
			return ParseResult{Outcome: ParseSuccess, Strategy: s.Name, Payload: payload}
		}
	}
	return ParseResult{Outcome: ParseUnrecoverable, Reason: "no JSON array or ```json block found"}
}

// Normalizer turns raw generative output into validated entities.
type Normalizer struct {
	strategies []Strategy
	dates      *DateNormalizer
	logger     *slog.Logger
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithStrategies replaces the default strategy order.
func WithStrategies(strategies ...Strategy) NormalizerOption {
	return func(n *Normalizer) { n.strategies = strategies }
}

// WithDateNormalizer sets the date canonicalizer.
func WithDateNormalizer(d *DateNormalizer) NormalizerOption {
	return func(n *Normalizer) { n.dates = d }
}

// NewNormalizer creates a Normalizer with DefaultStrategies.
func NewNormalizer(logger *slog.Logger, opts ...NormalizerOption) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Normalizer{
		strategies: DefaultStrategies,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.dates == nil {
		n.dates = NewDateNormalizer(nil)
	}
	return n
}

// Normalize never fails: anything untrustworthy yields an empty result.
func (n *Normalizer) Normalize(raw string) ExtractionResult {
	parsed := ParseResponse(raw, n.strategies)
	if parsed.Outcome != ParseSuccess {
		n.logger.Error("ner.normalize.unrecoverable", "reason", parsed.Reason, "raw", raw)
		return ExtractionResult{}
	}

	if err := validateEntityList(parsed.Payload); err != nil {
		n.logger.Error("ner.normalize.schema_invalid", "strategy", parsed.Strategy, "error", err, "raw", raw)
		return ExtractionResult{}
	}

	var items []Entity
	if err := json.Unmarshal(parsed.Payload, &items); err != nil {
		n.logger.Error("ner.normalize.decode_failed", "strategy", parsed.Strategy, "error", err, "raw", raw)
		return ExtractionResult{}
	}

	out := make(ExtractionResult, 0, len(items))
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.Type), "DATE") {
			item.Entity = n.normalizeDate(item.Entity)
		}
		out = append(out, item)
	}

	n.logger.Debug("ner.normalize.ok", "strategy", parsed.Strategy, "entities", len(out))
	return out
}

func (n *Normalizer) normalizeDate(value string) string {
	canonical, ok := n.dates.Normalize(value)
	if !ok {
		n.logger.Warn("ner.normalize.date_unparsed", "entity", value)
		return value
	}
	return canonical
}
