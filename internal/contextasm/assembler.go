// Package contextasm implements C4: composing the prompt envelope a turn
// hands to the provider adapter from reconstructed session state plus
// system prompt, rules, skills, and attachments.
//
// Grounded on the reference codebase's internal/skills/skills.go (named
// skill lookup, SKILL.md frontmatter format) and
// internal/executor/xmlcontext.go (shaping reconstructed turns into a
// provider-ready envelope).
package contextasm

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/provider"
)

// inlineThreshold caps attachment size inlined directly into the prompt;
// anything larger is blob-backed and referenced by id instead.
const inlineThreshold = 16 * 1024

const builtinSystemPrompt = "You are a helpful coding agent operating inside a user's workspace."

// SystemPromptSource resolves the programmatic-override > project-file >
// global-file > built-in precedence spec requires, as a replacement (never
// a merge).
type SystemPromptSource struct {
	Override         string // highest precedence, set per-request
	WorkingDirectory string
	GlobalPath       string // e.g. ~/.config/sessiond/SYSTEM.md
}

// Resolve returns the active system prompt under the documented precedence.
func (s SystemPromptSource) Resolve() (string, error) {
	if s.Override != "" {
		return s.Override, nil
	}
	if s.WorkingDirectory != "" {
		if content, err := os.ReadFile(filepath.Join(s.WorkingDirectory, "SYSTEM.md")); err == nil {
			return strings.TrimSpace(string(content)), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	if s.GlobalPath != "" {
		if content, err := os.ReadFile(s.GlobalPath); err == nil {
			return strings.TrimSpace(string(content)), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return builtinSystemPrompt, nil
}

// Assembler builds PromptEnvelopes. It is deterministic given the same
// state and inputs, per spec.
type Assembler struct {
	skills *SkillRegistry
	blobs  *blobstore.Store
	tools  []provider.ToolSpec
}

// NewAssembler builds an Assembler over a skill registry, blob store (for
// large-attachment lookups), and the fixed tool specs available this build.
func NewAssembler(skills *SkillRegistry, blobs *blobstore.Store, tools []provider.ToolSpec) *Assembler {
	return &Assembler{skills: skills, blobs: blobs, tools: tools}
}

// BuildInput carries the per-request metadata the assembler needs beyond
// reconstructed state.
type BuildInput struct {
	WorkingDirectory   string
	SystemPromptOverride string
	GlobalSystemPromptPath string
	LatestUserContent  string
	Attachments        []string // blob ids attached to the latest user message
}

// Build composes a PromptEnvelope for one turn.
func (a *Assembler) Build(ctx context.Context, state *model.ReconstructedState, in BuildInput) (provider.PromptEnvelope, error) {
	systemPrompt, err := SystemPromptSource{
		Override:         in.SystemPromptOverride,
		WorkingDirectory: in.WorkingDirectory,
		GlobalPath:       in.GlobalSystemPromptPath,
	}.Resolve()
	if err != nil {
		return provider.PromptEnvelope{}, err
	}

	rules, err := LoadHierarchicalRules(in.WorkingDirectory)
	if err != nil {
		return provider.PromptEnvelope{}, err
	}

	var skillBlocks []string
	if a.skills != nil {
		seen := map[string]bool{}
		for _, s := range a.skills.ResolveTokens(in.LatestUserContent) {
			if !seen[s.Name] {
				skillBlocks = append(skillBlocks, "## Skill: "+s.Name+"\n"+s.Instructions)
				seen[s.Name] = true
			}
		}
		for _, s := range a.skills.AutoInjected() {
			if !seen[s.Name] {
				skillBlocks = append(skillBlocks, "## Skill: "+s.Name+"\n"+s.Instructions)
				seen[s.Name] = true
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if rules != "" {
		sb.WriteString("\n\n# Rules\n")
		sb.WriteString(rules)
	}
	for _, block := range skillBlocks {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}

	messages := append([]model.ReconstructedMessage(nil), state.Messages...)
	if len(in.Attachments) > 0 && len(messages) > 0 {
		last := &messages[len(messages)-1]
		for _, blobID := range in.Attachments {
			blob, err := a.blobs.Get(ctx, blobID)
			if err != nil {
				return provider.PromptEnvelope{}, err
			}
			if int64(len(blob.Content)) <= inlineThreshold {
				last.Content = append(last.Content, model.ContentBlock{Type: model.BlockText, Text: string(blob.Content)})
			} else {
				last.Content = append(last.Content, model.ContentBlock{Type: model.BlockText, Text: "[attachment " + blobID + ", " + blob.MimeType + ", blob-backed]"})
			}
		}
	}

	return provider.PromptEnvelope{
		SystemPrompt: sb.String(),
		Messages:     messages,
		Tools:        a.tools,
	}, nil
}
