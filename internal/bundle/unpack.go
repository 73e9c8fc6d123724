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
	"github.com/permaskills/skills/internal/platform"
)

// ConfirmFunc is asked whether an existing install at target may be replaced.
type ConfirmFunc func(target string) bool

// UnpackOptions configures Unpack.
type UnpackOptions struct {
	// Root is the install root; the package lands in Root/<name>.
	Root    string
	Force   bool
	Confirm ConfirmFunc

	// ExpectedName, when set, must equal the name in the bundle's SKILL.md.
	ExpectedName string

	// FreeSpace overrides the disk space check. Nil uses platform.FreeSpace.
	FreeSpace func(path string) (uint64, error)
}

// UnpackResult describes an extracted package.
type UnpackResult struct {
	Name      string
	Path      string
	FileCount int
	Size      int64
	Replaced  bool
	Manifest  *manifest.Skill
}

// Unpack validates and extracts a tar.gz archive. Nothing is written under
// Root until the archive has been fully read and checked; the final move
// happens only after every check passes. The staging directory is always
// removed.
func Unpack(data []byte, opts UnpackOptions) (*UnpackResult, error) {
	if !IsGzip(data) {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
			"bundle is not a gzip archive", "the content may be corrupt or not a skill bundle")
	}
	if opts.Root == "" {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
			"no install root given", "")
	}

	tarData, err := decompress(data, MaxDecompressedSize)
	if err != nil {
		return nil, invalidBundle(err)
	}
	files, err := readTar(tarData, MaxFileSize)
	if err != nil {
		return nil, invalidBundle(err)
	}
	files = stripSingleRoot(files)

	skill, err := findManifest(files)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedName != "" && skill.Name != opts.ExpectedName {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
			fmt.Sprintf("bundle contains %q, expected %q", skill.Name, opts.ExpectedName),
			"the registry entry points at another package's content")
	}

	var size int64
	for _, f := range files {
		size += int64(len(f.Content))
	}

	target := filepath.Join(opts.Root, skill.Name)
	replacing := false
	if _, err := os.Lstat(target); err == nil {
		replacing = true
		if !opts.Force && (opts.Confirm == nil || !opts.Confirm(target)) {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeTargetExists,
				fmt.Sprintf("%s is already installed at %s", skill.Name, target),
				"use --force to overwrite")
		}
	}

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fsError(err, fmt.Sprintf("creating install root %s", opts.Root))
	}

	freeSpace := opts.FreeSpace
	if freeSpace == nil {
		freeSpace = platform.FreeSpace
	}
	if free, err := freeSpace(opts.Root); err == nil && free < uint64(size) {
		return nil, apperr.New(apperr.KindFileSystem, apperr.CodeInsufficientDiskSpace,
			fmt.Sprintf("need %d bytes in %s, %d available", size, opts.Root, free),
			"free up disk space and retry")
	}

	staging, err := os.MkdirTemp(opts.Root, ".extract-")
	if err != nil {
		return nil, fsError(err, "creating staging directory")
	}
	defer os.RemoveAll(staging)

	staged := filepath.Join(staging, "package")
	if err := writeEntries(staged, files); err != nil {
		return nil, err
	}
	if err := swapInto(staged, target, filepath.Join(staging, "previous"), replacing); err != nil {
		return nil, err
	}

	return &UnpackResult{
		Name:      skill.Name,
		Path:      target,
		FileCount: len(files),
		Size:      size,
		Replaced:  replacing,
		Manifest:  skill,
	}, nil
}

func findManifest(files []entry) (*manifest.Skill, error) {
	for _, f := range files {
		if f.Path != manifest.FileName {
			continue
		}
		skill, err := manifest.Parse(f.Content)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidManifest,
				"bundle manifest is unreadable", "")
		}
		if skill.Name == "" {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeManifestNameMissing,
				"bundle manifest has no name field", "")
		}
		if skill.Name != filepath.Base(skill.Name) || skill.Name == "." || skill.Name == ".." ||
			strings.ContainsAny(skill.Name, `/\`) {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidManifest,
				fmt.Sprintf("bundle name %q is not a valid directory name", skill.Name), "")
		}
		return skill, nil
	}
	return nil, apperr.New(apperr.KindValidation, apperr.CodeManifestMissing,
		fmt.Sprintf("bundle has no %s", manifest.FileName), "")
}

func writeEntries(dir string, files []entry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fsError(err, "creating staging directory")
	}
	for _, f := range files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
			return invalidBundle(fmt.Errorf("entry %s escapes the package directory", f.Path))
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fsError(err, fmt.Sprintf("creating directory for %s", f.Path))
		}
		mode := os.FileMode(0o644)
		if f.Mode&0o111 != 0 {
			mode = 0o755
		}
		if err := os.WriteFile(dest, f.Content, mode); err != nil {
			return fsError(err, fmt.Sprintf("writing %s", f.Path))
		}
		if err := platform.Chmod(dest, mode); err != nil {
			return fsError(err, fmt.Sprintf("setting mode on %s", f.Path))
		}
	}
	return nil
}

// swapInto moves staged to target. An existing target is moved to backup
// first and restored if the final rename fails.
func swapInto(staged, target, backup string, replacing bool) error {
	if replacing {
		if err := os.Rename(target, backup); err != nil {
			return fsError(err, fmt.Sprintf("moving existing %s aside", target))
		}
	}
	if err := os.Rename(staged, target); err != nil {
		if replacing {
			_ = os.Rename(backup, target)
		}
		return fsError(err, fmt.Sprintf("installing into %s", target))
	}
	return nil
}

func invalidBundle(err error) error {
	return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidBundle,
		"bundle is malformed", "the content may be corrupt or not a skill bundle")
}

func fsError(err error, message string) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodePermissionDenied, message,
			"check write permissions on the install root, or use --local")
	default:
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, message, "")
	}
}
