package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/provider"
)

func drain(t *testing.T, deltas <-chan provider.Delta, errs <-chan error) []provider.Delta {
	t.Helper()
	var out []provider.Delta
	for deltas != nil || errs != nil {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			out = append(out, d)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			require.NoError(t, err)
		}
	}
	return out
}

func TestStubPlaysTextThenToolThenStop(t *testing.T) {
	stub := provider.NewStub("stub", provider.StubResponse{
		Text:       "thinking about it",
		ToolCallID: "tc-1",
		ToolName:   "bash",
		ToolArgs:   `{"command":"ls"}`,
		StopReason: "tool_use",
	})

	deltas, errs := stub.Stream(context.Background(), provider.PromptEnvelope{}, "stub-model")
	events := drain(t, deltas, errs)

	var kinds []provider.DeltaKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, provider.DeltaText)
	require.Contains(t, kinds, provider.DeltaToolStart)
	require.Contains(t, kinds, provider.DeltaToolEnd)
	require.Contains(t, kinds, provider.DeltaStop)
	require.Equal(t, []provider.DeltaKind{
		provider.DeltaText, provider.DeltaToolStart, provider.DeltaToolArgs,
		provider.DeltaToolEnd, provider.DeltaUsage, provider.DeltaStop,
	}, kinds)
}

func TestRegistryResolvesDefaultAndUnknown(t *testing.T) {
	reg := provider.NewRegistry("stub")
	reg.Register(provider.NewStub("stub"))

	p, err := reg.GetProvider("")
	require.NoError(t, err)
	require.Equal(t, "stub", p.Name())

	_, err = reg.GetProvider("nonexistent")
	require.Error(t, err)
}

func TestRegistryBindsProfile(t *testing.T) {
	reg := provider.NewRegistry("stub")
	reg.Register(provider.NewStub("stub"))
	reg.Register(provider.NewStub("fast-stub"))
	reg.BindProfile("fast", "fast-stub")

	p, err := reg.GetProvider("fast")
	require.NoError(t, err)
	require.Equal(t, "fast-stub", p.Name())
}
