// Package hooks implements C6: a named, prioritized, typed hook registry
// with blocking and background execution.
//
// Generalized from the reference codebase's internal/supervision/supervisor.go
// (Verdict/Trigger enums, the CONTINUE/REORIENT/PAUSE decision shape) and
// internal/checkpoint/checkpoint.go (background phase tracking), widened from
// the teacher's fixed four-phase COMMIT/EXECUTE/RECONCILE/SUPERVISE flow into
// a generic registry keyed by event type.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilnlabs/sessiond/internal/obslog"
)

// Verdict is a blocking hook's decision, echoing the reference codebase's
// CONTINUE/REORIENT/PAUSE vocabulary generalized to continue/modify/block.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictModify   Verdict = "modify"
	VerdictBlock    Verdict = "block"
)

// HookContext is the payload passed to a hook at execution time.
type HookContext struct {
	SessionID string
	EventType string
	Payload   map[string]any
}

// Result is what a hook returns.
type Result struct {
	Verdict Verdict
	Reason  string
	Patch   map[string]any // fields to merge into the payload when Verdict == VerdictModify
}

// HookFunc is the function a registered hook runs.
type HookFunc func(ctx context.Context, hc HookContext) (Result, error)

// Definition describes one registered hook.
type Definition struct {
	Name       string
	EventType  string
	Priority   int // higher runs first
	Blocking   bool
	Timeout    time.Duration
	Fn         HookFunc
}

// Registry holds every registered hook, grouped by event type.
type Registry struct {
	mu             sync.RWMutex
	byType         map[string][]Definition
	defaultTimeout time.Duration
	forcedBlocking map[string]bool
	log            *obslog.Logger
}

// New builds an empty registry. defaultTimeout applies to any hook that
// doesn't set its own; forcedBlockingTypes names event types whose hooks
// always run blocking regardless of their own Blocking flag.
func New(defaultTimeout time.Duration, forcedBlockingTypes []string, log *obslog.Logger) *Registry {
	forced := make(map[string]bool, len(forcedBlockingTypes))
	for _, t := range forcedBlockingTypes {
		forced[t] = true
	}
	return &Registry{
		byType:         make(map[string][]Definition),
		defaultTimeout: defaultTimeout,
		forcedBlocking: forced,
		log:            log.WithComponent("hooks"),
	}
}

// Register adds a hook definition.
func (r *Registry) Register(def Definition) {
	if def.Timeout == 0 {
		def.Timeout = r.defaultTimeout
	}
	if r.forcedBlocking[def.EventType] {
		def.Blocking = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.byType[def.EventType], def)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	r.byType[def.EventType] = list
}

// Execute runs every hook registered for eventType in priority-descending
// order. Blocking hooks run synchronously and can short-circuit: the first
// block wins and stops further blocking hooks from running; modify verdicts
// accumulate into a single merged patch. Background hooks are launched
// without blocking the caller and fail open (a timeout or error is logged,
// never surfaced to the caller).
//
// A blocking hook that errors or times out fails open (logged, treated as
// continue) unless its event type is on the forced-blocking list, in which
// case it fails closed instead.
func (r *Registry) Execute(ctx context.Context, hc HookContext) (Result, error) {
	r.mu.RLock()
	defs := append([]Definition(nil), r.byType[hc.EventType]...)
	r.mu.RUnlock()

	merged := Result{Verdict: VerdictContinue, Patch: map[string]any{}}
	for _, def := range defs {
		if !def.Blocking {
			r.runBackground(def, hc)
			continue
		}
		res, err := r.runBlocking(ctx, def, hc)
		if err != nil {
			if r.forcedBlocking[hc.EventType] {
				r.log.Error("blocking hook failed, failing closed", "hook", def.Name, "error", err)
				return Result{Verdict: VerdictBlock, Reason: "hook error: " + def.Name}, nil
			}
			r.log.Warn("blocking hook failed, failing open", "hook", def.Name, "error", err)
			continue
		}
		switch res.Verdict {
		case VerdictBlock:
			return res, nil
		case VerdictModify:
			for k, v := range res.Patch {
				merged.Patch[k] = v
			}
			merged.Verdict = VerdictModify
		}
	}
	return merged, nil
}

func (r *Registry) runBlocking(ctx context.Context, def Definition, hc HookContext) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := def.Fn(callCtx, hc)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-callCtx.Done():
		r.log.Warn("blocking hook timed out", "hook", def.Name, "timeout", def.Timeout)
		return Result{}, callCtx.Err()
	}
}

// runBackground launches a hook without making the caller wait; any error or
// timeout is logged and otherwise ignored (fail-open), per spec.
func (r *Registry) runBackground(def Definition, hc HookContext) {
	go func() {
		timeout := def.Timeout
		if timeout == 0 {
			timeout = r.defaultTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		_, err := def.Fn(ctx, hc)
		if err != nil {
			r.log.Warn("background hook failed, continuing (fail-open)", "hook", def.Name, "error", err)
		}
	}()
}
