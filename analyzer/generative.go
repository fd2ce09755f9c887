package analyzer

import (
	"context"
	"log/slog"

	"github.com/hannes/kiji-ner/logging"
	"github.com/hannes/kiji-ner/ner"
	"github.com/hannes/kiji-ner/providers"
)

// GenerativeExtractor asks a chat model for entities and normalizes the
// answer. It never fails: every problem degrades to an empty result.
type GenerativeExtractor struct {
	provider       providers.Provider
	normalizer     *ner.Normalizer
	maxInputTokens int
	reporter       ErrorReporter
	logDocuments   bool
	logger         *slog.Logger
}

// GenerativeOptions tunes a GenerativeExtractor.
type GenerativeOptions struct {
	// MaxInputTokens truncates the document before sending; 0 disables.
	MaxInputTokens int
	Reporter       ErrorReporter
	// LogDocuments includes raw document text in debug logs.
	LogDocuments bool
	Logger       *slog.Logger
}

func NewGenerativeExtractor(provider providers.Provider, normalizer *ner.Normalizer, opts GenerativeOptions) *GenerativeExtractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = ner.NewNormalizer(logger)
	}
	return &GenerativeExtractor{
		provider:       provider,
		normalizer:     normalizer,
		maxInputTokens: opts.MaxInputTokens,
		reporter:       opts.Reporter,
		logDocuments:   opts.LogDocuments,
		logger:         logger,
	}
}

// Extract implements GenerativeBranch.
func (g *GenerativeExtractor) Extract(ctx context.Context, text string) ner.ExtractionResult {
	reqID := logging.RequestID(ctx)

	input := text
	if g.maxInputTokens > 0 {
		truncated, cut, err := providers.TruncateToTokens(text, g.maxInputTokens)
		switch {
		case err != nil:
			g.logger.Warn("llm.extract.truncate_failed", "req_id", reqID, "error", err)
		case cut:
			g.logger.Info("llm.extract.truncated", "req_id", reqID, "max_tokens", g.maxInputTokens)
			input = truncated
		}
	}

	if g.logDocuments {
		g.logger.Debug("llm.extract.start", "req_id", reqID, "provider", g.provider.GetName(), "document", input)
	} else {
		g.logger.Debug("llm.extract.start", "req_id", reqID, "provider", g.provider.GetName(), "chars", len(input))
	}

	raw, err := g.provider.Complete(ctx, providers.SystemInstruction, input)
	if err != nil {
		g.logger.Error("llm.extract.failed", "req_id", reqID, "provider", g.provider.GetName(), "error", err)
		if g.reporter != nil {
			g.reporter.Report(ctx, BranchGenerative, err)
		}
		return ner.ExtractionResult{}
	}

	result := g.normalizer.Normalize(raw)
	g.logger.Info("llm.extract.done", "req_id", reqID, "provider", g.provider.GetName(), "entities", len(result))
	return result
}
