package services

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// ErrForbidden is returned when a technician touches another technician's
// inspection.
var ErrForbidden = errors.New("inspection belongs to another technician")

// ConflictError reports the sequence the server expects next.
type ConflictError struct {
	Expected int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: expected sequence %d", common.ErrSequenceConflict, e.Expected)
}

func (e *ConflictError) Unwrap() error { return common.ErrSequenceConflict }

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrRejected, fmt.Sprintf(format, args...))
}
