package source

import (
	"context"
	"errors"
	"time"

	"github.com/syncd-io/syncd/internal/errs"
)

const (
	maxAttempts  = 4
	firstBackoff = 250 * time.Millisecond
)

// withBackoff retries fn with exponential backoff while it keeps
// returning SourceTransient errors. Retries live here, inside the
// adapter; the sync engine itself never retries. The last error
// surfaces after exhaustion.
func withBackoff(ctx context.Context, fn func() error) error {
	backoff := firstBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, errs.SourceTransient) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
