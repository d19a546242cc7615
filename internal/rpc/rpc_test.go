package rpc_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/rpc"
)

func TestDispatchUnknownMethod(t *testing.T) {
	reg := rpc.NewRegistry()
	resp := reg.Dispatch(context.Background(), rpc.Request{Method: "nope"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
	require.Equal(t, "client_error", resp.Error.Data["category"])
}

func TestDispatchMissingRequiredParam(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register(rpc.Method{
		Name:           "session.get",
		RequiredParams: []string{"sessionId"},
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	resp := reg.Dispatch(context.Background(), rpc.Request{Method: "session.get", Params: json.RawMessage(`{}`)})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32602, resp.Error.Code)
}

func TestDispatchSuccessAndTypedError(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register(rpc.Method{
		Name: "system.ping",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"pong": true}, nil
		},
	})
	reg.Register(rpc.Method{
		Name: "session.get",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, engineerr.NotFound("session", "abc")
		},
	})

	ok := reg.Dispatch(context.Background(), rpc.Request{Method: "system.ping"})
	require.Nil(t, ok.Error)

	failed := reg.Dispatch(context.Background(), rpc.Request{Method: "session.get"})
	require.NotNil(t, failed.Error)
	require.Equal(t, -32000, failed.Error.Code)
	require.Equal(t, false, failed.Error.Data["retryable"])
}

func TestMiddlewareWraps(t *testing.T) {
	var called []string
	mw := func(next rpc.HandlerFunc) rpc.HandlerFunc {
		return func(ctx context.Context, params json.RawMessage) (any, error) {
			called = append(called, "before")
			result, err := next(ctx, params)
			called = append(called, "after")
			return result, err
		}
	}
	reg := rpc.NewRegistry(mw)
	reg.Register(rpc.Method{
		Name: "system.ping",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			called = append(called, "handler")
			return nil, nil
		},
	})
	reg.Dispatch(context.Background(), rpc.Request{Method: "system.ping"})
	require.Equal(t, []string{"before", "handler", "after"}, called)
}
