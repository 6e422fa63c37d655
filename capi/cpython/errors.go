package cpython

import "errors"

// ErrUnavailable is returned by New when the binary was built without libpython.
var ErrUnavailable = errors.New("cpython: built without the cpython tag; rebuild with -tags cpython")
