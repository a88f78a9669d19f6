package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: the row does not exist
//   - ErrConflict: a guarded write lost to a concurrent writer (stale version,
//     duplicate approval order)
//   - ErrInvalidState: the row exists but not in the state the write expects
//   - ErrUnavailable: the backing store or transport cannot be reached
//
// Input validation never uses these; see pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
