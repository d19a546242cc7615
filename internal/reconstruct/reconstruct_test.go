package reconstruct_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/reconstruct"
)

// fakeEvents is an in-memory EventSource keyed by event id; Ancestors walks
// ParentID back to the root, matching eventstore.Store's own semantics.
type fakeEvents struct {
	byID map[string]*model.Event
}

func (f *fakeEvents) Ancestors(_ context.Context, eventID string) ([]*model.Event, error) {
	var chain []*model.Event
	id := eventID
	for id != "" {
		evt := f.byID[id]
		chain = append(chain, evt)
		id = evt.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func newFakeEvents() *fakeEvents { return &fakeEvents{byID: make(map[string]*model.Event)} }

func (f *fakeEvents) add(evt *model.Event) *model.Event {
	f.byID[evt.ID] = evt
	return evt
}

func mustRaw(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestStateAtFoldsMessagesInOrder(t *testing.T) {
	events := newFakeEvents()
	root := events.add(&model.Event{ID: "e1", Type: model.EventSessionStart})
	u1 := events.add(&model.Event{ID: "e2", ParentID: root.ID, Type: model.EventMessageUser,
		Payload: mustRaw(t, model.UserMessagePayload{Content: "hello"})})
	a1 := events.add(&model.Event{ID: "e3", ParentID: u1.ID, Type: model.EventMessageAssistant,
		Payload: mustRaw(t, model.AssistantMessagePayload{Content: []model.ContentBlock{{Type: model.BlockText, Text: "hi"}}})})

	r := reconstruct.New(events)
	state, err := r.StateAt(context.Background(), "sess-1", a1.ID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	require.Equal(t, "user", state.Messages[0].Role)
	require.Equal(t, "assistant", state.Messages[1].Role)
}

func TestStateAtTracksPendingToolCalls(t *testing.T) {
	events := newFakeEvents()
	root := events.add(&model.Event{ID: "e1", Type: model.EventSessionStart})
	call := events.add(&model.Event{ID: "e2", ParentID: root.ID, Type: model.EventToolCall,
		Payload: mustRaw(t, model.ToolCallPayload{ToolCallID: "tc-1", Name: "bash"})})

	r := reconstruct.New(events)
	state, err := r.StateAt(context.Background(), "sess-1", call.ID)
	require.NoError(t, err)
	require.Contains(t, state.PendingTools, "tc-1")

	result := events.add(&model.Event{ID: "e3", ParentID: call.ID, Type: model.EventToolResult,
		Payload: mustRaw(t, model.ToolResultPayload{ToolCallID: "tc-1", Content: "ok"})})
	state, err = r.StateAt(context.Background(), "sess-1", result.ID)
	require.NoError(t, err)
	require.NotContains(t, state.PendingTools, "tc-1")
	require.Empty(t, state.UnmatchedResults)
}

func TestStateAtRecordsUnmatchedToolResult(t *testing.T) {
	events := newFakeEvents()
	root := events.add(&model.Event{ID: "e1", Type: model.EventSessionStart})
	result := events.add(&model.Event{ID: "e2", ParentID: root.ID, Type: model.EventToolResult,
		Payload: mustRaw(t, model.ToolResultPayload{ToolCallID: "orphan", Content: "?"})})

	r := reconstruct.New(events)
	state, err := r.StateAt(context.Background(), "sess-1", result.ID)
	require.NoError(t, err)
	require.Len(t, state.UnmatchedResults, 1)
	require.Equal(t, "orphan", state.UnmatchedResults[0].ToolCallID)
}

func TestStateAtCompactionReplacesPriorMessages(t *testing.T) {
	events := newFakeEvents()
	root := events.add(&model.Event{ID: "e1", Type: model.EventSessionStart})
	u1 := events.add(&model.Event{ID: "e2", ParentID: root.ID, Type: model.EventMessageUser,
		Payload: mustRaw(t, model.UserMessagePayload{Content: "first"})})
	u2 := events.add(&model.Event{ID: "e3", ParentID: u1.ID, Type: model.EventMessageUser,
		Payload: mustRaw(t, model.UserMessagePayload{Content: "second"})})
	compaction := events.add(&model.Event{ID: "e4", ParentID: u2.ID, Type: model.EventContextCompaction,
		Payload: mustRaw(t, model.CompactionPayload{Summary: "summary of above", ReplacedUpToID: u2.ID})})

	r := reconstruct.New(events)
	state, err := r.StateAt(context.Background(), "sess-1", compaction.ID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	require.Equal(t, "summary of above", state.Messages[0].Content[0].Text)
	require.Equal(t, u2.ID, state.CompactedBefore)
}

func TestStateAtMessageDeletedDropsTarget(t *testing.T) {
	events := newFakeEvents()
	root := events.add(&model.Event{ID: "e1", Type: model.EventSessionStart})
	u1 := events.add(&model.Event{ID: "e2", ParentID: root.ID, Type: model.EventMessageUser,
		Payload: mustRaw(t, model.UserMessagePayload{Content: "keep"})})
	u2 := events.add(&model.Event{ID: "e3", ParentID: u1.ID, Type: model.EventMessageUser,
		Payload: mustRaw(t, model.UserMessagePayload{Content: "delete me"})})
	del := events.add(&model.Event{ID: "e4", ParentID: u2.ID, Type: model.EventMessageDeleted,
		Payload: mustRaw(t, model.DeletionPayload{TargetEventID: u2.ID})})

	r := reconstruct.New(events)
	state, err := r.StateAt(context.Background(), "sess-1", del.ID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	require.Equal(t, "keep", state.Messages[0].Content[0].Text)
}
