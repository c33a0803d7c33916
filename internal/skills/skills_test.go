package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taskrunner/runner/internal/queue"
)

const sampleSkill = `---
skill: code-review
category: quality
risk_level: low
color_tag: blue
task_types:
  - READ_INFO
  - REPORT
---
# Code Review

Review the diff for correctness.
`

func TestParseExtractsFrontMatterAndBody(t *testing.T) {
	def, err := Parse([]byte(sampleSkill))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Skill != "code-review" || def.Category != "quality" || def.RiskLevel != RiskLow {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.TaskTypes) != 2 || def.TaskTypes[0] != queue.TaskTypeReadInfo {
		t.Fatalf("unexpected task types: %v", def.TaskTypes)
	}
	if def.Body == "" || def.Body[0] != '#' {
		t.Fatalf("expected body to start with heading, got %q", def.Body)
	}
}

func TestParseWithoutFrontMatterKeepsWholeBody(t *testing.T) {
	def, err := Parse([]byte("no front matter here"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Skill != "" {
		t.Fatalf("expected empty skill name, got %q", def.Skill)
	}
	if def.Body != "no front matter here" {
		t.Fatalf("unexpected body: %q", def.Body)
	}
}

func TestRegistryLoadsAndFiltersByTaskType(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "code-review.md"), []byte(sampleSkill), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := NewRegistry(dir, 0)
	all, err := reg.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].Skill != "code-review" {
		t.Fatalf("unexpected definitions: %+v", all)
	}

	matches, err := reg.ForTaskType(queue.TaskTypeReport)
	if err != nil {
		t.Fatalf("for task type: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match for REPORT, got %d", len(matches))
	}

	noMatches, err := reg.ForTaskType(queue.TaskTypeImplementation)
	if err != nil {
		t.Fatalf("for task type: %v", err)
	}
	if len(noMatches) != 0 {
		t.Fatalf("expected no matches for IMPLEMENTATION, got %d", len(noMatches))
	}
}

func TestRegistryMissingDirectoryIsEmptyNotError(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist"), 0)
	all, err := reg.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no definitions, got %d", len(all))
	}
}
