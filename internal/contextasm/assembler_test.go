package contextasm_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/contextasm"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

func TestSystemPromptPrecedence(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(t.TempDir(), "GLOBAL.md")
	require.NoError(t, os.WriteFile(global, []byte("global prompt"), 0o644))

	src := contextasm.SystemPromptSource{WorkingDirectory: dir, GlobalPath: global}
	got, err := src.Resolve()
	require.NoError(t, err)
	require.Equal(t, "global prompt", got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SYSTEM.md"), []byte("project prompt"), 0o644))
	got, err = src.Resolve()
	require.NoError(t, err)
	require.Equal(t, "project prompt", got)

	src.Override = "override prompt"
	got, err = src.Resolve()
	require.NoError(t, err)
	require.Equal(t, "override prompt", got)
}

func TestSkillRegistryResolvesTokens(t *testing.T) {
	root := t.TempDir()
	skillDir := filepath.Join(root, "reviewer")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte("---\nname: reviewer\ndescription: reviews code\n---\nLook for bugs."), 0o644))

	reg, err := contextasm.NewSkillRegistry(root, obslog.New(obslog.Test))
	require.NoError(t, err)
	defer reg.Close()

	skills := reg.ResolveTokens("please use @reviewer on this diff")
	require.Len(t, skills, 1)
	require.Equal(t, "reviewer", skills[0].Name)
}

func TestAssemblerBuildsEnvelopeWithRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS_RULES.md"), []byte("never delete files without confirmation"), 0o644))

	asm := contextasm.NewAssembler(nil, nil, nil)
	env, err := asm.Build(context.Background(), &model.ReconstructedState{}, contextasm.BuildInput{WorkingDirectory: dir})
	require.NoError(t, err)
	require.Contains(t, env.SystemPrompt, "never delete files without confirmation")
}
