package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/manifest"
)

// DefaultSoftLimit is the archive size above which PackResult.SizeExceeded
// is set.
const DefaultSoftLimit = 10 * 1024 * 1024

// excludedNames lists entries never packed, in addition to dotfiles.
var excludedNames = map[string]bool{
	"node_modules": true,
}

// ProgressFunc is called once per packed file with its archive path and
// the running file count.
type ProgressFunc func(path string, count int)

// PackOptions configures Pack.
type PackOptions struct {
	Progress  ProgressFunc
	SoftLimit int64
}

// PackResult is the outcome of packing a directory.
type PackResult struct {
	Data         []byte
	FileCount    int
	TotalSize    int64
	SizeExceeded bool
	Manifest     *manifest.Skill
}

// Pack builds a reproducible tar.gz of dir. The directory must contain a
// SKILL.md whose front matter names the package.
func Pack(dir string, opts PackOptions) (*PackResult, error) {
	if opts.SoftLimit <= 0 {
		opts.SoftLimit = DefaultSoftLimit
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("cannot read skill directory %s", dir), "")
	}
	if !info.IsDir() {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("%s is not a directory", dir), "")
	}

	skill, err := manifest.ParseFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeManifestMissing,
				fmt.Sprintf("%s not found in %s", manifest.FileName, dir),
				"every skill directory needs a SKILL.md with YAML front matter")
		}
		return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidManifest,
			"reading manifest", "")
	}
	if skill.Name == "" {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeManifestNameMissing,
			fmt.Sprintf("%s has no name field", manifest.FileName), "")
	}

	files, total, err := collectFiles(dir, opts.Progress)
	if err != nil {
		return nil, err
	}

	tarData, err := createTar(files)
	if err != nil {
		return nil, fmt.Errorf("creating tar: %w", err)
	}
	data, err := compress(tarData)
	if err != nil {
		return nil, fmt.Errorf("compressing tar: %w", err)
	}

	return &PackResult{
		Data:         data,
		FileCount:    len(files),
		TotalSize:    total,
		SizeExceeded: int64(len(data)) > opts.SoftLimit,
		Manifest:     skill,
	}, nil
}

// collectFiles walks dir in lexical order. Hidden entries and excludedNames
// are skipped; symlinks and special files fail the pack.
func collectFiles(dir string, progress ProgressFunc) ([]entry, int64, error) {
	var files []entry
	var total int64

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		base := d.Name()
		if strings.HasPrefix(base, ".") || excludedNames[base] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
				fmt.Sprintf("symlinks not allowed in skill directory: %s", rel), "")
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
				fmt.Sprintf("unsupported file type in skill directory: %s", rel), "")
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}

		mode := int64(0o644)
		if info.Mode().Perm()&0o111 != 0 {
			mode = 0o755
		}
		files = append(files, entry{Path: rel, Content: content, Mode: mode})
		total += int64(len(content))
		if progress != nil {
			progress(rel, len(files))
		}
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, 0, err
		}
		return nil, 0, apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO,
			"walking skill directory", "")
	}
	return files, total, nil
}
