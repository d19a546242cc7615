package contextasm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a loaded named skill, grounded on the reference codebase's
// internal/skills/skills.go Agent Skills (agentskills.io) format: a
// directory with a SKILL.md whose YAML frontmatter names the skill.
type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	AutoInject   bool   `yaml:"auto-inject,omitempty"`
	Instructions string `yaml:"-"`
	Path         string `yaml:"-"`
}

// LoadSkill reads one skill directory's SKILL.md.
func LoadSkill(skillDir string) (*Skill, error) {
	content, err := os.ReadFile(filepath.Join(skillDir, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("read SKILL.md: %w", err)
	}
	skill, err := parseSkill(string(content))
	if err != nil {
		return nil, err
	}
	skill.Path = skillDir
	return skill, nil
}

func parseSkill(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}
	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("invalid skill frontmatter: %w", err)
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	skill.Instructions = body
	return skill, nil
}

func splitFrontmatter(content string) (frontmatter, body string, err error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	var fm, rest strings.Builder
	inFrontmatter := true
	for scanner.Scan() {
		line := scanner.Text()
		if inFrontmatter && strings.TrimSpace(line) == "---" {
			inFrontmatter = false
			continue
		}
		if inFrontmatter {
			fm.WriteString(line)
			fm.WriteString("\n")
		} else {
			rest.WriteString(line)
			rest.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return fm.String(), strings.TrimSpace(rest.String()), nil
}
