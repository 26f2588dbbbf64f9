package assistant

import (
	"context"
	"errors"

	"github.com/bull/sinhala-tutor-rag/internal/apperr"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrInvalidGrade = errors.New("unknown grade level")
	ErrNotOwner     = errors.New("resource belongs to another owner")
)

// wrap classifies err into the public taxonomy. Everything unrecognised,
// including dimension and out-of-scope errors, is internal.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.E(apperr.KindNotFound, op, err)
	case errors.Is(err, ErrNotOwner):
		return apperr.E(apperr.KindForbidden, op, err)
	case errors.Is(err, storage.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apperr.E(apperr.KindUpstreamUnavailable, op, err)
	}
	return apperr.E(apperr.KindInternal, op, err)
}
