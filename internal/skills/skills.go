// Package skills loads "skill" definitions from .claude/skills/*.md. Only
// the YAML front-matter is ever parsed; the Markdown body is opaque
// configuration payload, never interpreted by the core (spec §9 "Dynamic
// Markdown skill definitions").
package skills

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskrunner/runner/internal/queue"
)

// RiskLevel is a skill's declared risk tier, used to gate write permission.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Definition is one skill's parsed front-matter (spec §9 fields exactly).
type Definition struct {
	Skill     string           `yaml:"skill"`
	Category  string           `yaml:"category"`
	RiskLevel RiskLevel        `yaml:"risk_level"`
	ColorTag  string           `yaml:"color_tag"`
	TaskTypes []queue.TaskType `yaml:"task_types"`

	SourcePath string `yaml:"-"`
	Body       string `yaml:"-"`
}

// Registry is a TTL-cached, filesystem-backed set of skill Definitions,
// grounded on the teacher's staticRegistry (internal/app/context/static_registry.go):
// a directory walk plus YAML unmarshal per file, cached behind a TTL so
// repeated dispatcher lookups don't re-walk the filesystem on every task.
type Registry struct {
	dir string
	ttl time.Duration

	mu      sync.RWMutex
	byName  map[string]Definition
	expires time.Time
}

// NewRegistry constructs a Registry rooted at dir (typically
// <project>/.claude/skills). ttl <= 0 uses a 30s default.
func NewRegistry(dir string, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{dir: dir, ttl: ttl, byName: make(map[string]Definition)}
}

// All returns every loaded skill definition, refreshing from disk if the
// TTL has expired.
func (r *Registry) All() ([]Definition, error) {
	if err := r.ensure(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill < out[j].Skill })
	return out, nil
}

// ForTaskType returns every skill whose task_types include t.
func (r *Registry) ForTaskType(t queue.TaskType) ([]Definition, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var out []Definition
	for _, d := range all {
		for _, tt := range d.TaskTypes {
			if tt == t {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

func (r *Registry) ensure() error {
	r.mu.RLock()
	fresh := time.Now().Before(r.expires)
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	loaded, err := r.load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.byName = loaded
	r.expires = time.Now().Add(r.ttl)
	r.mu.Unlock()
	return nil
}

func (r *Registry) load() (map[string]Definition, error) {
	out := make(map[string]Definition)
	if r.dir == "" {
		return out, nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return out, nil
	}
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read skill %s: %w", path, err)
		}
		def, err := Parse(data)
		if err != nil {
			return fmt.Errorf("parse skill %s: %w", path, err)
		}
		def.SourcePath = path
		if def.Skill == "" {
			def.Skill = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		out[def.Skill] = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Parse splits a skill Markdown file into YAML front-matter and body.
// Front-matter is delimited by a leading "---" line and a matching
// trailing "---" line; a file with no front-matter parses to a
// zero-value Definition whose Body is the whole file.
func Parse(data []byte) (Definition, error) {
	text := string(data)
	var def Definition
	if !strings.HasPrefix(text, "---") {
		def.Body = text
		return def, nil
	}
	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		def.Body = text
		return def, nil
	}
	front := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(front), &def); err != nil {
		return Definition{}, err
	}
	def.Body = body
	return def, nil
}
