// Package analyzer runs the generative and sequence-labeling branches over
// one document and returns their results side by side.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hannes/kiji-ner/logging"
	"github.com/hannes/kiji-ner/ner"
)

const (
	BranchGenerative = "generative"
	BranchLabeling   = "labeling"
)

// GenerativeBranch extracts entities with a generative model. It must not
// fail; problems yield an empty result.
type GenerativeBranch interface {
	Extract(ctx context.Context, text string) ner.ExtractionResult
}

// LabelingBranch extracts entities with a sequence-labeling model.
type LabelingBranch interface {
	Label(ctx context.Context, text string) (ner.ExtractionResult, error)
}

// ErrorReporter receives branch failures, e.g. for forwarding to Sentry.
type ErrorReporter interface {
	Report(ctx context.Context, branch string, err error)
}

// Options configures an Analyzer.
type Options struct {
	// GenerativeTimeout bounds the generative branch only; 0 means no limit
	// beyond the request context.
	GenerativeTimeout time.Duration
	// StrictLabeling turns a labeling failure into a request failure instead
	// of an empty labeling list.
	StrictLabeling bool
	Reporter       ErrorReporter
	Logger         *slog.Logger
}

// Analyzer is the extraction orchestrator.
type Analyzer struct {
	generative GenerativeBranch
	labeler    LabelingBranch
	opts       Options
	logger     *slog.Logger
}

func New(generative GenerativeBranch, labeler LabelingBranch, opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		generative: generative,
		labeler:    labeler,
		opts:       opts,
		logger:     logger,
	}
}

// Analyze runs both branches concurrently. The two lists are returned as
// produced and are never reconciled. An error is returned only when
// StrictLabeling is set and the labeling branch fails.
func (a *Analyzer) Analyze(ctx context.Context, text string) (ner.AnalysisResponse, error) {
	reqID := logging.RequestID(ctx)
	if strings.TrimSpace(text) == "" {
		a.logger.Info("analyze.skipped_empty", "req_id", reqID)
		return ner.AnalysisResponse{}.WithEmptyLists(), nil
	}

	start := time.Now()
	var resp ner.AnalysisResponse
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		genCtx := gctx
		if a.opts.GenerativeTimeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(gctx, a.opts.GenerativeTimeout)
			defer cancel()
		}
		resp.GenerativeResults = a.generative.Extract(genCtx, text)
		return nil
	})

	g.Go(func() error {
		result, err := a.labeler.Label(gctx, text)
		if err == nil {
			resp.LabelingResults = result
			return nil
		}
		a.logger.Error("analyze.labeling_failed", "req_id", reqID, "error", err, "strict", a.opts.StrictLabeling)
		if a.opts.Reporter != nil {
			a.opts.Reporter.Report(ctx, BranchLabeling, err)
		}
		if a.opts.StrictLabeling {
			return fmt.Errorf("labeling branch failed: %w", err)
		}
		resp.LabelingResults = ner.ExtractionResult{}
		return nil
	})

	if err := g.Wait(); err != nil {
		return ner.AnalysisResponse{}, err
	}

	resp = resp.WithEmptyLists()
	a.logger.Info("analyze.done",
		"req_id", reqID,
		"generative", len(resp.GenerativeResults),
		"labeling", len(resp.LabelingResults),
		"duration", time.Since(start))
	return resp, nil
}
