// Package space models gymnasium action spaces.
//
// A Kind is detected once from the action space's class name. It builds
// actions from Go values (Get) and adopts sampled actions (Wrap); both yield
// a Value that owns exactly one interpreter reference:
//
//	kind, err := space.Detect(ctx, host, actionSpace)
//	act, err := kind.Get(ctx, host, int64(1))
//	defer act.Close(ctx)
//
// Closing a Value twice is an ownership bug and returns a double-release
// error. KindUnknown rejects every operation.
package space
