package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleOptions builds client options from a credentials file path or
// inline JSON. Empty input falls back to application default credentials.
func GoogleOptions(credentials string) []option.ClientOption {
	credentials = strings.TrimSpace(credentials)
	switch {
	case credentials == "":
		return nil
	case strings.HasPrefix(credentials, "{"):
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credentials))}
	default:
		return []option.ClientOption{option.WithCredentialsFile(credentials)}
	}
}

// retryableCode reports whether a gRPC status is worth another attempt.
func retryableCode(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}

var newCloudBackOff = func(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 750 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 90 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)
}

// withRetry runs fn until it succeeds, fails with a non-retryable status
// or the backoff budget runs out.
func withRetry(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !retryableCode(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("Retrying cloud call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, newCloudBackOff(ctx))
}
