package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// namePattern mirrors the name pattern in schema/skill.schema.json.
var namePattern = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*$`)

// ValidName reports whether name is a well-formed package name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Ref addresses a package by name, optionally pinned to a version or
// constrained by a semver range.
type Ref struct {
	Name    string
	Version string
}

// ParseRef parses "name" or "name@version". A leading "@" is treated as part
// of the name so scoped names ("@team/tool@1.0.0") keep working.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty package reference")
	}

	idx := strings.LastIndex(s, "@")
	if idx <= 0 {
		return Ref{Name: s}, nil
	}

	name, version := s[:idx], strings.TrimSpace(s[idx+1:])
	if version == "" {
		return Ref{}, fmt.Errorf("package reference %q has an empty version", s)
	}
	if version != "latest" {
		if _, err := semver.NewConstraint(version); err != nil {
			return Ref{}, fmt.Errorf("package reference %q: invalid version %q: %w", s, version, err)
		}
	} else {
		version = ""
	}
	return Ref{Name: name, Version: version}, nil
}

// String formats the reference as "name" or "name@version".
func (r Ref) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// IsLatest reports whether the reference resolves to the newest version.
func (r Ref) IsLatest() bool {
	return r.Version == ""
}

// IsExact reports whether Version names a single version rather than a range.
func (r Ref) IsExact() bool {
	if r.Version == "" {
		return false
	}
	_, err := semver.StrictNewVersion(strings.TrimPrefix(r.Version, "v"))
	return err == nil
}

// Allows reports whether version satisfies the reference's constraint.
// A latest reference allows every version.
func (r Ref) Allows(version string) (bool, error) {
	if r.Version == "" {
		return true, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parsing version %q: %w", version, err)
	}
	if r.IsExact() {
		want, _ := semver.NewVersion(r.Version)
		return v.Equal(want), nil
	}
	c, err := semver.NewConstraint(r.Version)
	if err != nil {
		return false, fmt.Errorf("parsing constraint %q: %w", r.Version, err)
	}
	return c.Check(v), nil
}

// Highest returns the highest entry of versions that the reference allows.
// Entries that are not valid semver are ignored.
func (r Ref) Highest(versions []string) (string, bool) {
	var best *semver.Version
	var bestRaw string
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		ok, err := r.Allows(raw)
		if err != nil || !ok {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	return bestRaw, best != nil
}
