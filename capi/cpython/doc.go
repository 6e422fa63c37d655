// Package cpython binds gymbridge.API to libpython through cgo.
//
// The binding is only compiled with the "cpython" build tag and locates the
// interpreter through pkg-config (python3-embed):
//
//	go build -tags cpython ./cmd/gymbridge
//
// Without the tag New returns ErrUnavailable, so the rest of the module
// builds and tests without a Python toolchain.
package cpython
