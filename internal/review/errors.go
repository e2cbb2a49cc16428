package review

import (
	"errors"
	"fmt"
)

// Kind classifies why a review failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidInput is a caller error: a bad image, a missing path.
	KindInvalidInput
	// KindFetch means the source host could not provide the file.
	KindFetch
	// KindQuotaExhausted means the model provider kept rate limiting us
	// until retries ran out. Callers should try again later.
	KindQuotaExhausted
	// KindReview is any other model failure. A degraded result may
	// accompany it.
	KindReview
	// KindCanceled means the caller's context ended before the review did.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindFetch:
		return "fetch_error"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindReview:
		return "review_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a failed review.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
