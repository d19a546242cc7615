package contextasm

import (
	"os"
	"path/filepath"
	"strings"
)

// rulesFileName is the well-known rules file name looked up at each
// directory level, analogous to a linter's per-directory config file.
const rulesFileName = "AGENTS_RULES.md"

// LoadHierarchicalRules walks from workingDirectory up to root, collecting
// any rules file found at each level, root-most first so closer-scoped
// rules can refine rather than be overridden by farther ones.
func LoadHierarchicalRules(workingDirectory string) (string, error) {
	var levels []string
	dir := workingDirectory
	for {
		path := filepath.Join(dir, rulesFileName)
		if content, err := os.ReadFile(path); err == nil {
			levels = append(levels, strings.TrimSpace(string(content)))
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	reverse(levels)
	return strings.Join(levels, "\n\n"), nil
}

func reverse(ss []string) {
	for i, j := 0, len(ss)-1; i < j; i, j = i+1, j-1 {
		ss[i], ss[j] = ss[j], ss[i]
	}
}
