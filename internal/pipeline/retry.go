package pipeline

// #region imports
import (
	"context"
	"errors"
	"time"

	"github.com/kostaslazaros/cpgenius/internal/annotate"
)

// #endregion

// #region constants

const defaultEnrichRetries = 2 // 2 retries = 3 total attempts

// #endregion

// #region should-retry

// shouldRetry reports whether an annotation failure may go away on its own.
// Mapping failures are properties of the table and are never retried.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *annotate.Error
	if errors.As(err, &ae) {
		return ae.Kind == annotate.KindUnavailable
	}
	return true
}

// withRetry calls fn until it succeeds, fails permanently or has been tried
// retries+1 times. The wait doubles after each attempt.
func withRetry(ctx context.Context, retries int, wait time.Duration, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || attempt >= retries || !shouldRetry(err) {
			return err
		}
		t := time.NewTimer(wait << attempt)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

// #endregion
