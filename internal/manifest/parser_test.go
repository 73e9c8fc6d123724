package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validSkillMD = `---
name: code-review
version: 1.2.0
description: Reviews pull requests
author: alice
tags: [review, git]
license: MIT
dependencies:
  - lint-rules@^1.0.0
  - name: style-guide
    version: 2.0.0
  - formatter
---
# Code review

Body text is ignored by the parser.
`

func TestParse_Valid(t *testing.T) {
	s, err := Parse([]byte(validSkillMD))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if s.Name != "code-review" {
		t.Errorf("Name = %q, want %q", s.Name, "code-review")
	}
	if s.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", s.Version, "1.2.0")
	}
	if len(s.Tags) != 2 || s.Tags[0] != "review" {
		t.Errorf("Tags = %v, want [review git]", s.Tags)
	}

	want := []Dependency{
		{Name: "lint-rules", Version: "^1.0.0"},
		{Name: "style-guide", Version: "2.0.0"},
		{Name: "formatter"},
	}
	if len(s.Dependencies) != len(want) {
		t.Fatalf("Dependencies = %v, want %v", s.Dependencies, want)
	}
	for i, d := range want {
		if s.Dependencies[i] != d {
			t.Errorf("Dependencies[%d] = %+v, want %+v", i, s.Dependencies[i], d)
		}
	}
}

func TestParse_NoFrontMatter(t *testing.T) {
	_, err := Parse([]byte("# just markdown\n"))
	if !errors.Is(err, ErrNoFrontMatter) {
		t.Fatalf("err = %v, want ErrNoFrontMatter", err)
	}
}

func TestParse_UnclosedFrontMatter(t *testing.T) {
	_, err := Parse([]byte("---\nname: x\n"))
	if err == nil {
		t.Fatal("expected error for missing closing delimiter")
	}
}

func TestFrontMatter_TooLarge(t *testing.T) {
	big := make([]byte, maxFrontMatterSize+10)
	for i := range big {
		big[i] = 'a'
	}
	content := "---\nx: " + string(big) + "\n---\n"
	if _, err := FrontMatter([]byte(content)); err == nil {
		t.Fatal("expected size error")
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(validSkillMD), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if got := s.Ref().String(); got != "code-review@1.2.0" {
		t.Errorf("Ref = %q, want %q", got, "code-review@1.2.0")
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDependency_UnmarshalJSON(t *testing.T) {
	var s Skill
	data := `{"name":"a","version":"1.0.0","dependencies":["b@~1.2.0",{"name":"c"}]}`
	if err := jsonUnmarshal([]byte(data), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := s.DependencyRefs()
	if len(got) != 2 || got[0] != "b@~1.2.0" || got[1] != "c" {
		t.Errorf("DependencyRefs = %v, want [b@~1.2.0 c]", got)
	}
}
