// Package gymbridge embeds a CPython interpreter in a Go process and drives a
// gymnasium environment through it, moving numpy array data across the
// boundary through the buffer protocol.
//
// # Architecture Overview
//
//	gymbridge/           Root package with the low-level API, Ref and View types
//	├── capi/cpython/    cgo binding to libpython (build tag "cpython")
//	├── capi/capitest/   In-memory interpreter used by tests
//	├── python/          Host lifecycle, global lock, marshaling, buffers
//	├── space/           Action space kinds and owned action values
//	├── env/             Environment session: reset, step, render, close
//	├── transport/       Websocket request/reply serving of a session
//	├── resource/        Table of live owned references
//	├── config/          YAML configuration
//	├── errors/          Structured error types
//	└── cmd/gymbridge/   Command line interface
//
// # Quick Start
//
//	api, err := cpython.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	host := python.New(api, python.ConfigFromEnv())
//	if err := host.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Finalize(ctx)
//
//	sess, err := env.Make(ctx, host, "CartPole-v1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx)
//
//	info, state, err := sess.Reset(ctx)
//	res, err := sess.Act(ctx, 1)
//	fmt.Println(res.Reward, res.Done())
//
// # Ownership
//
// Every reference returned by the python package is either an owned
// *python.Object, which must be closed exactly once, or a python.Borrowed,
// which cannot be closed and must be retained to outlive the call that
// produced it.
//
// # Locking
//
// All interpreter access happens under one global lock. Host.InsideLock runs
// a function with the lock held and hands it a context that marks the lock as
// owned, so nested host calls made with that context do not block:
//
//	err := host.InsideLock(ctx, func(ctx context.Context) error {
//	    obj, err := host.Eval(ctx, "1 + 1")
//	    if err != nil {
//	        return err
//	    }
//	    defer obj.Close(ctx)
//	    n, err := host.AsInt64(ctx, obj)
//	    ...
//	})
package gymbridge
