package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/muse/pkg/types"
)

type markedError struct {
	err      error
	category types.FailureCategory
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, category: types.FailureTransient}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, category: types.FailurePermanent}
}

// Classify maps an error onto a failure category.
func Classify(err error) types.FailureCategory {
	if err == nil {
		return ""
	}

	var marked *markedError
	if errors.As(err, &marked) {
		return marked.category
	}

	// An open breaker means the backend is known bad; fail fast.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.FailurePermanent
	}
	if errors.Is(err, context.Canceled) {
		return types.FailurePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FailureTimeout
	}
	if pgconn.Timeout(err) {
		return types.FailureTimeout
	}
	if isTransientPostgres(err) || isTransientRedis(err) {
		return types.FailureTransient
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return types.FailureTransient
	}

	return types.FailurePermanent
}

// isTransientPostgres covers connection exceptions (class 08), admin
// shutdown, too many connections and anything pgconn failed before sending.
func isTransientPostgres(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "57P01",
			pgErr.Code == "53300":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func isTransientRedis(err error) bool {
	return errors.Is(err, goredis.ErrPoolTimeout) ||
		goredis.IsLoadingError(err) ||
		goredis.IsReadOnlyError(err) ||
		goredis.IsTryAgainError(err) ||
		goredis.IsClusterDownError(err)
}

// IsRetryable reports whether err belongs to a retryable class.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case types.FailureTransient, types.FailureTimeout:
		return true
	}
	return false
}
