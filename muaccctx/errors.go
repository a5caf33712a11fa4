package muaccctx

import "errors"

// Errors returned by context operations (spec §7 error kinds).
var (
	// ErrNullContext covers both "argument invalid: null context" and
	// "context unusable: context pointer empty".
	ErrNullContext = errors.New("muaccctx: nil context")
	// ErrContextBusy means TryLock failed; callers must fall back without
	// mutating the context.
	ErrContextBusy = errors.New("muaccctx: context busy")
	// ErrOptionMissing means an intent-layer lookup found nothing.
	ErrOptionMissing = errors.New("muaccctx: option not present")
)
