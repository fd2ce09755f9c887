package analyzer

import (
	"context"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/kiji-ner/logging"
)

// SentryReporter forwards branch failures to Sentry, tagged with the branch
// and request id. It is a no-op until sentry.Init has been called.
type SentryReporter struct{}

func (SentryReporter) Report(ctx context.Context, branch string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("branch", branch)
		if id := logging.RequestID(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		hub.CaptureException(err)
	})
}
