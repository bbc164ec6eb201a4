package repositories

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrAnswerKeyNotFound = errors.New("answer key not found")
	ErrSheetNotFound     = errors.New("answer sheet not found")
	ErrJobNotFound       = errors.New("evaluation job not found")
	ErrResultNotFound    = errors.New("result not found")
	ErrFlagNotFound      = errors.New("illegible flag not found")
	ErrActorNotFound     = errors.New("profile not found")

	// ErrNoClaimableSheet means every unprocessed sheet is currently
	// claimed by another worker, or the exam has none left.
	ErrNoClaimableSheet = errors.New("no claimable sheet")
)

// IsNotFoundError reports whether err is any of the not-found sentinels,
// including gorm's own record-not-found.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrAnswerKeyNotFound) ||
		errors.Is(err, ErrSheetNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrResultNotFound) ||
		errors.Is(err, ErrFlagNotFound) ||
		errors.Is(err, ErrActorNotFound)
}
