package contextasm

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

var skillTokenPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// skillDoc is the bleve-indexed shape of one skill, grounded on the full-text
// search concern internal/memory/bleve_store.go models for a different
// (memory) domain; here it backs relevance search over skill documents.
// Rules files are not indexed.
type skillDoc struct {
	Name        string
	Description string
	Body        string
}

// SkillRegistry holds every skill discovered under a skills root, kept fresh
// by an fsnotify watch, and searchable via bleve (Search). Auto-injection
// is driven by each skill's auto-inject frontmatter flag, not by search.
type SkillRegistry struct {
	mu      sync.RWMutex
	byName  map[string]*Skill
	index   bleve.Index
	watcher *fsnotify.Watcher
	log     *obslog.Logger
}

// NewSkillRegistry scans skillsRoot (one subdirectory per skill) and starts
// watching it for changes. Call Close to stop watching.
func NewSkillRegistry(skillsRoot string, log *obslog.Logger) (*SkillRegistry, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, engineerr.Internal("build skill search index", err)
	}

	r := &SkillRegistry{
		byName: make(map[string]*Skill),
		index:  index,
		log:    log.WithComponent("contextasm"),
	}
	if err := r.reload(skillsRoot); err != nil {
		return nil, err
	}

	if skillsRoot != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, engineerr.Internal("start skill file watcher", err)
		}
		if err := watcher.Add(skillsRoot); err != nil {
			watcher.Close()
			return nil, engineerr.Internal("watch skills root", err)
		}
		r.watcher = watcher
		go r.watchLoop(skillsRoot)
	}
	return r, nil
}

func (r *SkillRegistry) watchLoop(skillsRoot string) {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := r.reload(skillsRoot); err != nil {
					r.log.Error("skill reload failed after fs event", "error", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error("skill watcher error", "error", err)
		}
	}
}

func (r *SkillRegistry) reload(skillsRoot string) error {
	if skillsRoot == "" {
		return nil
	}
	entries, err := os.ReadDir(skillsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return engineerr.Internal("list skills root", err)
	}

	loaded := make(map[string]*Skill)
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return engineerr.Internal("rebuild skill search index", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(skillsRoot, entry.Name())
		skill, err := LoadSkill(dir)
		if err != nil {
			r.log.Warn("skipping unreadable skill", "dir", dir, "error", err)
			continue
		}
		loaded[skill.Name] = skill
		_ = index.Index(skill.Name, skillDoc{Name: skill.Name, Description: skill.Description, Body: skill.Instructions})
	}

	r.mu.Lock()
	r.byName = loaded
	r.index = index
	r.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (r *SkillRegistry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Get returns a named skill, if loaded.
func (r *SkillRegistry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// ResolveTokens extracts every @name token from content and resolves it
// against loaded skills; unknown tokens are silently skipped (they may be
// ordinary text, e.g. an email-like mention).
func (r *SkillRegistry) ResolveTokens(content string) []*Skill {
	var out []*Skill
	seen := map[string]bool{}
	for _, match := range skillTokenPattern.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if seen[name] {
			continue
		}
		if s, ok := r.Get(name); ok {
			out = append(out, s)
			seen[name] = true
		}
	}
	return out
}

// AutoInjected returns every skill flagged auto-inject in its frontmatter.
func (r *SkillRegistry) AutoInjected() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Skill
	for _, s := range r.byName {
		if s.AutoInject {
			out = append(out, s)
		}
	}
	return out
}

// Search runs a relevance query over skill descriptions/bodies, returning
// matching skill names ordered by score.
func (r *SkillRegistry) Search(query string) ([]string, error) {
	r.mu.RLock()
	index := r.index
	r.mu.RUnlock()
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	result, err := index.Search(req)
	if err != nil {
		return nil, engineerr.Internal("skill search", err)
	}
	names := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		names = append(names, hit.ID)
	}
	return names, nil
}
