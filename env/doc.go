// Package env drives a gymnasium environment inside the embedded
// interpreter.
//
// Make runs gymnasium.make (plus any observation wrappers) and keeps
// references to the environment, its spaces and its step/reset/render
// callables. Observations and frames cross the boundary through the buffer
// protocol: the first array of each role fixes its Metadata and a reusable
// buffer, and every later array is filled into that buffer and returned as
// a host-owned Array copy.
//
//	s, err := env.Make(ctx, host, "CartPole-v1")
//	defer s.Close(ctx)
//
//	info, obs, err := s.Reset(ctx)
//	for {
//		res, err := s.Act(ctx, 1)
//		if err != nil || res.Done() {
//			break
//		}
//	}
//	frame, err := s.Render(ctx)
//
// Step requires a prior Reset. Close is idempotent.
package env
