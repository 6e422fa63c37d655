//go:build !cpython

package cpython

import (
	gymbridge "github.com/wippyai/gym-bridge"
)

// New returns ErrUnavailable. Build with -tags cpython to link libpython.
func New() (gymbridge.API, error) {
	return nil, ErrUnavailable
}
