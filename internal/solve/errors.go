package solve

import "errors"

// ErrNotReady is wrapped into the error Once returns when, even after a
// round of feed downloads, some transitively required interface still
// has no usable candidate implementation.
var ErrNotReady = errors.New("solve: not ready")
