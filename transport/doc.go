// Package transport serves an environment session over websocket and
// provides a client that drives it from another process.
//
// Each request is a text frame holding a decimal command code; STEP is
// followed by a text frame with the action as JSON. Replies are JSON text
// frames and, for RESET, STEP and RENDER, one binary frame with the raw
// array bytes. The array's shape, dtype and byte order are sent in a
// metadata frame the first time they are used on a connection and again
// whenever they change:
//
//	srv := transport.NewServer(session)
//	http.Handle("/env", srv)
//
//	c, err := transport.Dial(ctx, transport.Config{URL: "ws://localhost:8765/env"})
//	info, obs, err := c.Reset(ctx)
//	res, err := c.Step(ctx, 1)
//
// Failures are reported as {"error": msg} frames and surface on the client
// as *RemoteError. Lost connections are redialed; every command except
// STEP is retried with exponential backoff up to Config.MaxAttempts.
package transport
