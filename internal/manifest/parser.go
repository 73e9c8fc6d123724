package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// maxFrontMatterSize limits front matter to keep YAML parsing bounded.
const maxFrontMatterSize = 64 * 1024

// ErrNoFrontMatter is returned when SKILL.md does not start with a
// "---" delimited YAML block.
var ErrNoFrontMatter = errors.New("SKILL.md must start with YAML front matter (---)")

// FrontMatter extracts the raw YAML between the leading "---" delimiters.
func FrontMatter(content []byte) ([]byte, error) {
	content = bytes.TrimSpace(content)

	delimiter := []byte("---")
	if !bytes.HasPrefix(content, delimiter) {
		return nil, ErrNoFrontMatter
	}

	rest := content[len(delimiter):]
	rest = bytes.TrimPrefix(rest, []byte("\r"))
	rest = bytes.TrimPrefix(rest, []byte("\n"))

	end := bytes.Index(rest, append([]byte("\n"), delimiter...))
	if end == -1 {
		if bytes.HasPrefix(rest, delimiter) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("SKILL.md front matter missing closing delimiter (---)")
	}

	fm := rest[:end]
	if len(fm) > maxFrontMatterSize {
		return nil, fmt.Errorf("front matter exceeds maximum size of %d bytes", maxFrontMatterSize)
	}
	return fm, nil
}

// Parse reads the front matter of SKILL.md content into a Skill without
// schema validation. Missing fields are left empty.
func Parse(content []byte) (*Skill, error) {
	fm, err := FrontMatter(content)
	if err != nil {
		return nil, err
	}
	return parseYAML(fm)
}

// ParseFile reads and parses a SKILL.md file.
func ParseFile(path string) (*Skill, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return skill, nil
}

func parseYAML(data []byte) (*Skill, error) {
	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing front matter YAML: %w", err)
	}
	return &s, nil
}

// readFile reads the contents of a file at the given path.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}
