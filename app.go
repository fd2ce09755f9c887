package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/kiji-ner/analyzer"
	"github.com/hannes/kiji-ner/config"
	"github.com/hannes/kiji-ner/logging"
	"github.com/hannes/kiji-ner/ner"
	"github.com/hannes/kiji-ner/ner/detectors"
	"github.com/hannes/kiji-ner/providers"
)

// app holds the wired pipeline and everything that needs closing.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	analyzer *analyzer.Analyzer
	model    *detectors.ModelManager // nil for the remote detector
	closers  []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			logger.Warn("[App] Sentry initialization failed, error reporting disabled", "error", err)
		} else {
			logger.Info("[App] Sentry error reporting enabled", "environment", cfg.Sentry.Environment)
		}
	}

	provider, err := providers.New(ctx, cfg.Generative.ProviderOptions())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Generative.Provider, err)
	}
	if c, ok := provider.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	logger.Info("[App] Generative provider ready", "provider", provider.GetName(), "retry_attempts", cfg.Generative.RetryAttempts)
	provider = providers.WithRetry(provider, cfg.Generative.RetryAttempts, cfg.Generative.RetryDelay, logger)

	reporter := analyzer.SentryReporter{}
	generative := analyzer.NewGenerativeExtractor(provider, ner.NewNormalizer(logger), analyzer.GenerativeOptions{
		MaxInputTokens: cfg.Generative.MaxInputTokens,
		Reporter:       reporter,
		LogDocuments:   cfg.Logging.LogDocuments,
		Logger:         logger,
	})

	detector, err := a.newDetector()
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("[App] Sequence labeling ready", "detector", detector.GetName())

	a.analyzer = analyzer.New(generative, analyzer.DetectorLabeler{Detector: detector}, analyzer.Options{
		GenerativeTimeout: cfg.Generative.Timeout,
		StrictLabeling:    cfg.Labeling.Strict,
		Reporter:          reporter,
		Logger:            logger,
	})
	return a, nil
}

func (a *app) newDetector() (detectors.Detector, error) {
	lc := a.cfg.Labeling
	switch lc.Detector {
	case detectors.DetectorNameModel:
		d, err := detectors.NewDetector(detectors.DetectorNameModel, map[string]interface{}{
			"base_url":       lc.RemoteURL,
			"api_token":      lc.APIToken,
			"timeout":        lc.Timeout,
			"retry_attempts": lc.RetryAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create model detector: %w", err)
		}
		a.closers = append(a.closers, closerFunc(d.Close))
		return d, nil

	case detectors.DetectorNameONNXModel:
		dir, err := prepareModelDir(lc.ModelDir, a.logger)
		if err != nil {
			return nil, err
		}
		a.model = detectors.NewModelManager(dir, detectors.ONNXLoader(map[string]interface{}{
			"shared_library_path": lc.SharedLibraryPath,
			"input_names":         lc.InputNames,
			"output_name":         lc.OutputName,
			"logger":              a.logger,
		}), a.logger)
		a.closers = append(a.closers, closerFunc(detectors.DestroyRuntime), a.model)
		return a.model, nil
	}
	return nil, fmt.Errorf("unknown detector %q", lc.Detector)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: close failed: %v\n", err)
		}
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
