package hooks_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/hooks"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

func TestExecuteRunsBlockingHooksInPriorityOrder(t *testing.T) {
	reg := hooks.New(time.Second, nil, obslog.New(obslog.Test))
	var order []string
	var mu sync.Mutex

	reg.Register(hooks.Definition{
		Name: "low", EventType: "tool.call", Priority: 1, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
			return hooks.Result{Verdict: hooks.VerdictContinue}, nil
		},
	})
	reg.Register(hooks.Definition{
		Name: "high", EventType: "tool.call", Priority: 10, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			mu.Lock()
			order = append(order, "high")
			mu.Unlock()
			return hooks.Result{Verdict: hooks.VerdictContinue}, nil
		},
	})

	_, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.Equal(t, []string{"high", "low"}, order)
}

func TestExecuteFirstBlockShortCircuits(t *testing.T) {
	reg := hooks.New(time.Second, nil, obslog.New(obslog.Test))
	ranSecond := false

	reg.Register(hooks.Definition{
		Name: "blocker", EventType: "tool.call", Priority: 10, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			return hooks.Result{Verdict: hooks.VerdictBlock, Reason: "nope"}, nil
		},
	})
	reg.Register(hooks.Definition{
		Name: "never-runs", EventType: "tool.call", Priority: 1, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			ranSecond = true
			return hooks.Result{Verdict: hooks.VerdictContinue}, nil
		},
	})

	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.Equal(t, hooks.VerdictBlock, res.Verdict)
	require.False(t, ranSecond)
}

func TestExecuteMergesModifyPatches(t *testing.T) {
	reg := hooks.New(time.Second, nil, obslog.New(obslog.Test))
	reg.Register(hooks.Definition{
		Name: "a", EventType: "tool.call", Priority: 10, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			return hooks.Result{Verdict: hooks.VerdictModify, Patch: map[string]any{"x": 1}}, nil
		},
	})
	reg.Register(hooks.Definition{
		Name: "b", EventType: "tool.call", Priority: 5, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			return hooks.Result{Verdict: hooks.VerdictModify, Patch: map[string]any{"y": 2}}, nil
		},
	})

	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.Equal(t, hooks.VerdictModify, res.Verdict)
	require.Equal(t, 1, res.Patch["x"])
	require.Equal(t, 2, res.Patch["y"])
}

func TestExecuteBlockingTimeoutFailsOpenByDefault(t *testing.T) {
	reg := hooks.New(10*time.Millisecond, nil, obslog.New(obslog.Test))
	reg.Register(hooks.Definition{
		Name: "slow", EventType: "tool.call", Priority: 1, Blocking: true,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			<-ctx.Done()
			return hooks.Result{}, ctx.Err()
		},
	})

	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.Equal(t, hooks.VerdictContinue, res.Verdict)
}

func TestExecuteBlockingTimeoutFailsClosedWhenForced(t *testing.T) {
	reg := hooks.New(10*time.Millisecond, []string{"tool.call"}, obslog.New(obslog.Test))
	reg.Register(hooks.Definition{
		Name: "slow", EventType: "tool.call", Priority: 1,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			<-ctx.Done()
			return hooks.Result{}, ctx.Err()
		},
	})

	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.Equal(t, hooks.VerdictBlock, res.Verdict)
}

func TestExecuteBackgroundHookDoesNotBlockCaller(t *testing.T) {
	reg := hooks.New(50*time.Millisecond, nil, obslog.New(obslog.Test))
	started := make(chan struct{})
	reg.Register(hooks.Definition{
		Name: "bg", EventType: "agent.turn_complete", Priority: 1, Blocking: false,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			close(started)
			<-ctx.Done()
			return hooks.Result{}, ctx.Err()
		},
	})

	start := time.Now()
	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "agent.turn_complete"})
	require.NoError(t, err)
	require.Equal(t, hooks.VerdictContinue, res.Verdict)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	<-started
}

func TestForcedBlockingTypeOverridesDefinition(t *testing.T) {
	reg := hooks.New(time.Second, []string{"tool.call"}, obslog.New(obslog.Test))
	var ran bool
	reg.Register(hooks.Definition{
		Name: "should-be-blocking", EventType: "tool.call", Priority: 1, Blocking: false,
		Fn: func(ctx context.Context, hc hooks.HookContext) (hooks.Result, error) {
			ran = true
			return hooks.Result{Verdict: hooks.VerdictBlock}, nil
		},
	})

	res, err := reg.Execute(context.Background(), hooks.HookContext{EventType: "tool.call"})
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, hooks.VerdictBlock, res.Verdict, "forced-blocking types must run synchronously, not fire-and-forget")
}
