package contextasm

import (
	"context"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/provider"
)

// SessionLookup is the subset of eventstore.Store the turn adapter needs to
// resolve per-session metadata (the working directory) that BuildInput
// requires but the turn package's narrower interface
// doesn't carry.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// TurnAdapter satisfies turn.PromptBuilder by deriving a BuildInput from
// session metadata and the reconstructed state's latest user message.
type TurnAdapter struct {
	assembler  *Assembler
	sessions   SessionLookup
	globalPath string
}

// NewTurnAdapter builds a turn.PromptBuilder-compatible wrapper around an
// Assembler.
func NewTurnAdapter(assembler *Assembler, sessions SessionLookup, globalSystemPromptPath string) *TurnAdapter {
	return &TurnAdapter{assembler: assembler, sessions: sessions, globalPath: globalSystemPromptPath}
}

// Build implements turn.PromptBuilder.
func (a *TurnAdapter) Build(ctx context.Context, sessionID string, state *model.ReconstructedState) (provider.PromptEnvelope, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return provider.PromptEnvelope{}, err
	}

	var latestContent string
	var attachments []string
	if len(state.Messages) > 0 {
		last := state.Messages[len(state.Messages)-1]
		if last.Role == "user" {
			for _, b := range last.Content {
				if b.Type == model.BlockText {
					latestContent += b.Text
				}
			}
		}
	}

	env, err := a.assembler.Build(ctx, state, BuildInput{
		WorkingDirectory:       sess.WorkingDirectory,
		GlobalSystemPromptPath: a.globalPath,
		LatestUserContent:      latestContent,
		Attachments:            attachments,
	})
	if err != nil {
		return provider.PromptEnvelope{}, engineerr.Internal("assemble prompt envelope", err)
	}
	return env, nil
}
