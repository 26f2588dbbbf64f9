package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"gorm.io/gorm"

	"github.com/bull/sinhala-tutor-rag/internal/embedding"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyIndexed = errors.New("resource already has chunks")
	// ErrStoreUnavailable marks retryable store outages.
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrQdrantUnreachable = fmt.Errorf("qdrant server unreachable: %w", ErrStoreUnavailable)
	ErrDimensionMismatch = embedding.ErrDimensionMismatch
)

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
