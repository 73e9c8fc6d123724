package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/permaskills/skills/internal/branding"
	"github.com/permaskills/skills/internal/manifest"
)

//go:embed templates
var templateFS embed.FS

const templatesDir = "templates/skill"

// funcs quotes values that land in YAML front matter.
var funcs = template.FuncMap{"quote": strconv.Quote}

// Data holds all template variables available to scaffold templates.
type Data struct {
	Name        string // e.g., "commit-analyzer"
	Version     string // Semver, e.g., "0.1.0"
	Description string
	Author      string
	License     string
	Tags        []string
	CLIName     string // Derived from branding
	Year        int
}

// Result holds the outcome of a scaffold generation.
type Result struct {
	OutputDir string
	Files     []string
	Warnings  []string
}

// NewData creates Data with defaults for every optional field.
func NewData(name, description, author string, tags []string) *Data {
	if description == "" {
		description = fmt.Sprintf("%s skill: %s", branding.DisplayName(), name)
	}
	return &Data{
		Name:        name,
		Version:     "0.1.0",
		Description: description,
		Author:      author,
		License:     "MIT",
		Tags:        tags,
		CLIName:     branding.CLIName(),
		Year:        time.Now().Year(),
	}
}

// Generate writes a new skill into outputDir, which must be empty or absent.
// The generated SKILL.md is validated and any problems are returned as
// warnings rather than errors.
func Generate(data *Data, outputDir string) (*Result, error) {
	entries, err := fs.ReadDir(templateFS, templatesDir)
	if err != nil {
		return nil, fmt.Errorf("reading skill templates: %w", err)
	}

	if existing, err := os.ReadDir(outputDir); err == nil && len(existing) > 0 {
		return nil, fmt.Errorf("output directory %s is not empty; remove existing files first", outputDir)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	result := &Result{OutputDir: outputDir}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		tmplBytes, err := fs.ReadFile(templateFS, path.Join(templatesDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(entry.Name()).Funcs(funcs).Parse(string(tmplBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("executing template %s: %w", entry.Name(), err)
		}

		outName := strings.TrimSuffix(entry.Name(), ".tmpl")
		if err := os.WriteFile(filepath.Join(outputDir, outName), buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", outName, err)
		}
		result.Files = append(result.Files, outName)
	}

	content, err := os.ReadFile(filepath.Join(outputDir, manifest.FileName))
	if err != nil {
		return nil, fmt.Errorf("reading generated manifest: %w", err)
	}
	_, validation, err := manifest.Load(content)
	switch {
	case err != nil:
		result.Warnings = append(result.Warnings, fmt.Sprintf("Could not validate manifest: %v", err))
	case !validation.Valid:
		for _, issue := range validation.Issues {
			result.Warnings = append(result.Warnings, issue.String())
		}
	}

	return result, nil
}
