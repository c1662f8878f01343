package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for mail API failures. Transient failures abort a batch
// without mutating job state so the same batch can be retried; permanent
// failures move the job to failed.
var (
	ErrTransient = errors.New("mail api transient failure")
	ErrPermanent = errors.New("mail api permanent failure")
)

// IsTransient reports whether err is safe to retry from the same cursor.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classifyStatus maps an HTTP status to a sentinel error. Rate limits and
// server errors are retryable; auth failures mean the credential is gone.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrPermanent, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, code)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrPermanent, code)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return fmt.Errorf("%w: %v", ErrTransient, err)
}
