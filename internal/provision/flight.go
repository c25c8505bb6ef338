package provision

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/andresmejia3/scribe/internal/types"
)

// flightGroup shares one provisioning run between callers with the same key. The run has its own
// context: a caller that gives up only stops waiting, and the run is cancelled once every caller
// waiting on it has given up.
type flightGroup struct {
	sf singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Do runs fn once per key at a time. shared reports whether the result was also handed to other
// callers. When ctx ends first, Do returns ctx.Err() without waiting for the run.
func (g *flightGroup) Do(ctx context.Context, key string, fn func(context.Context) (types.EnvironmentState, error)) (types.EnvironmentState, bool, error) {
	env, shared, err := g.do(ctx, key, fn)
	// Joined a run whose callers had all given up just before we arrived.
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		env, shared, err = g.do(ctx, key, fn)
	}
	return env, shared, err
}

func (g *flightGroup) do(ctx context.Context, key string, fn func(context.Context) (types.EnvironmentState, error)) (env types.EnvironmentState, shared bool, err error) {
	g.mu.Lock()
	if g.flights == nil {
		g.flights = make(map[string]*flight)
	}
	f, ok := g.flights[key]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: runCtx, cancel: cancel}
		g.flights[key] = f
	}
	f.waiters++
	// DoChan starts fn on its own goroutine, so holding mu here cannot deadlock with forget.
	ch := g.sf.DoChan(key, func() (any, error) {
		defer g.forget(key, f)
		return fn(f.ctx)
	})
	g.mu.Unlock()

	select {
	case res := <-ch:
		g.leave(key, f, false)
		env, _ = res.Val.(types.EnvironmentState)
		return env, res.Shared, res.Err
	case <-ctx.Done():
		g.leave(key, f, true)
		return types.EnvironmentState{}, false, ctx.Err()
	}
}

func (g *flightGroup) leave(key string, f *flight, cancelled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.waiters--
	if cancelled && f.waiters == 0 {
		f.cancel()
		if g.flights[key] == f {
			delete(g.flights, key)
		}
	}
}

func (g *flightGroup) forget(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	f.cancel()
}

// waiting returns how many callers are waiting on key.
func (g *flightGroup) waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return f.waiters
	}
	return 0
}
