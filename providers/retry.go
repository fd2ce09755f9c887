package providers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
)

// langchaingo reports HTTP failures only in the message text.
var reStatusCode = regexp.MustCompile(`status code: (\d{3})`)

type retryingProvider struct {
	Provider
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// WithRetry wraps p so transient failures are retried with exponential
// backoff. attempts counts the first call; values below 2 disable retries.
func WithRetry(p Provider, attempts uint, delay time.Duration, logger *slog.Logger) Provider {
	if attempts < 2 {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingProvider{Provider: p, attempts: attempts, delay: delay, logger: logger}
}

func (r *retryingProvider) Complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := retry.Do(
		func() error {
			var err error
			out, err = r.Provider.Complete(ctx, system, user)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("provider.retry", "provider", r.GetName(), "attempt", n+1, "error", err)
		}),
	)
	return out, err
}

// IsRetryable reports whether err is a rate limit, a server error or a
// network timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyCompletion) || errors.Is(err, ErrAPIKeyRequired) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}

	if m := reStatusCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return retryableStatus(code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
