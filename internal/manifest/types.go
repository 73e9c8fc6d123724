package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

// FileName is the manifest file every bundle carries at its root.
const FileName = "SKILL.md"

// Skill is the declared metadata of one published version of a package.
// The same shape is used for SKILL.md front matter and for registry payloads;
// registry-only fields are empty when parsed from a local directory.
type Skill struct {
	Name         string       `yaml:"name" json:"name"`
	Version      string       `yaml:"version" json:"version"`
	Description  string       `yaml:"description" json:"description"`
	Author       string       `yaml:"author,omitempty" json:"author,omitempty"`
	Tags         []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	License      string       `yaml:"license,omitempty" json:"license,omitempty"`

	// Registry-assigned fields.
	Owner       string   `yaml:"-" json:"owner,omitempty"`
	ContentID   string   `yaml:"-" json:"arweaveTxId,omitempty"`
	PublishedAt int64    `yaml:"-" json:"publishedAt,omitempty"`
	UpdatedAt   int64    `yaml:"-" json:"updatedAt,omitempty"`
	Versions    []string `yaml:"-" json:"versions,omitempty"`
}

// Ref returns the exact identity of this manifest.
func (s *Skill) Ref() Ref {
	return Ref{Name: s.Name, Version: s.Version}
}

// DependencyRefs returns the dependencies formatted as "name" or
// "name@constraint" strings, in declaration order.
func (s *Skill) DependencyRefs() []string {
	refs := make([]string, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		refs = append(refs, d.String())
	}
	return refs
}

// Dependency declares another package this one needs. An empty Version
// means "latest"; otherwise it is an exact version or a semver constraint.
type Dependency struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// String formats the dependency as "name" or "name@version".
func (d Dependency) String() string {
	return Ref{Name: d.Name, Version: d.Version}.String()
}

// UnmarshalYAML accepts either a "name@version" scalar or a mapping.
func (d *Dependency) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		ref, err := ParseRef(value.Value)
		if err != nil {
			return err
		}
		*d = Dependency{Name: ref.Name, Version: ref.Version}
		return nil
	case yaml.MappingNode:
		type plain Dependency
		var p plain
		if err := value.Decode(&p); err != nil {
			return fmt.Errorf("decoding dependency: %w", err)
		}
		*d = Dependency(p)
		return nil
	case yaml.DocumentNode, yaml.SequenceNode, yaml.AliasNode:
		return fmt.Errorf("dependency: expected string or mapping")
	}
	return fmt.Errorf("dependency: unexpected YAML node kind %d", value.Kind)
}

// UnmarshalJSON accepts either a "name@version" string or an object.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ref, err := ParseRef(s)
		if err != nil {
			return err
		}
		*d = Dependency{Name: ref.Name, Version: ref.Version}
		return nil
	}
	type plain Dependency
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding dependency: %w", err)
	}
	*d = Dependency(p)
	return nil
}
