package store

import "errors"

// ErrDigestMismatch is returned when a staged directory's computed
// digest doesn't match the implementation ID it was meant to satisfy.
// Per spec.md §7, this is fatal to the retrieval method attempt (the
// temp directory is removed); the caller may retry another source.
var ErrDigestMismatch = errors.New("store: digest mismatch")

// ErrStoreCommitFailure is returned when the final rename into the
// content store fails after a successful verification.
var ErrStoreCommitFailure = errors.New("store: commit failed")

// ErrMalformedDigest is returned when a digest string doesn't have the
// expected "algorithm=hex" shape.
var ErrMalformedDigest = errors.New("store: malformed digest")
