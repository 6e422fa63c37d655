package main

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/transport"
)

// driver is what the episode loop and the TUI need from an environment,
// local or remote.
type driver interface {
	Reset(ctx context.Context) (*python.Dict, *env.Array, error)
	Step(ctx context.Context, action any) (*env.StepResult, error)
	Sample(ctx context.Context) (any, error)
	Spaces(ctx context.Context) (action, observation string, err error)
	Render(ctx context.Context) (image.Image, error)
	Close(ctx context.Context) error
}

type localDriver struct {
	s *env.Session
}

func (d localDriver) Reset(ctx context.Context) (*python.Dict, *env.Array, error) {
	return d.s.Reset(ctx)
}

func (d localDriver) Step(ctx context.Context, action any) (*env.StepResult, error) {
	return d.s.Act(ctx, action)
}

func (d localDriver) Sample(ctx context.Context) (any, error) { return d.s.SampleAction(ctx) }

func (d localDriver) Spaces(ctx context.Context) (string, string, error) {
	a, err := d.s.ActionSpaceStr(ctx)
	if err != nil {
		return "", "", err
	}
	o, err := d.s.ObservationSpaceStr(ctx)
	return a, o, err
}

func (d localDriver) Render(ctx context.Context) (image.Image, error) { return d.s.Render(ctx) }

func (d localDriver) Close(ctx context.Context) error { return d.s.Close(ctx) }

type remoteDriver struct {
	c *transport.Client
}

func (d remoteDriver) Reset(ctx context.Context) (*python.Dict, *env.Array, error) {
	return d.c.Reset(ctx)
}

func (d remoteDriver) Step(ctx context.Context, action any) (*env.StepResult, error) {
	return d.c.Step(ctx, action)
}

func (d remoteDriver) Sample(ctx context.Context) (any, error) { return d.c.ActionSpaceSample(ctx) }

func (d remoteDriver) Spaces(ctx context.Context) (string, string, error) {
	a, err := d.c.ActionSpaceStr(ctx)
	if err != nil {
		return "", "", err
	}
	o, err := d.c.ObservationSpaceStr(ctx)
	return a, o, err
}

func (d remoteDriver) Render(ctx context.Context) (image.Image, error) { return d.c.Render(ctx) }

func (d remoteDriver) Close(context.Context) error { return d.c.Close() }

// episode is the outcome of one episode.
type episode struct {
	Return float64
	Steps  int
	Reason string
}

// runEpisodes plays n episodes with uniformly sampled actions. maxSteps
// caps an episode the environment never ends; zero means no cap.
func runEpisodes(ctx context.Context, d driver, n, maxSteps int, log *zap.Logger) ([]episode, error) {
	var out []episode
	for i := range n {
		if _, _, err := d.Reset(ctx); err != nil {
			return out, err
		}
		ep := episode{Reason: "cap"}
		for maxSteps <= 0 || ep.Steps < maxSteps {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			action, err := d.Sample(ctx)
			if err != nil {
				return out, err
			}
			res, err := d.Step(ctx, action)
			if err != nil {
				return out, err
			}
			ep.Steps++
			ep.Return += res.Reward
			if res.Terminated {
				ep.Reason = "terminated"
				break
			}
			if res.Truncated {
				ep.Reason = "truncated"
				break
			}
		}
		log.Info("episode finished",
			zap.Int("episode", i+1),
			zap.Int("steps", ep.Steps),
			zap.Float64("return", ep.Return),
			zap.String("reason", ep.Reason))
		out = append(out, ep)
	}
	return out, nil
}
