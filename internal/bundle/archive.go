package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// gzipOSUnknown is the OS value for "unknown" in gzip headers (RFC 1952).
const gzipOSUnknown = 255

// Limits applied while reading untrusted archives.
const (
	MaxFileSize         = 100 * 1024 * 1024
	MaxDecompressedSize = 512 * 1024 * 1024
)

// epoch is the timestamp written for every entry.
var epoch = time.Unix(0, 0).UTC()

// entry is one regular file inside an archive.
type entry struct {
	Path    string
	Content []byte
	Mode    int64
}

// createTar writes entries sorted by path with normalized headers.
func createTar(files []entry) ([]byte, error) {
	sorted := make([]entry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range sorted {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     f.Path,
			Size:     int64(len(f.Content)),
			Mode:     mode,
			ModTime:  epoch,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("writing tar content for %s: %w", f.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	return buf.Bytes(), nil
}

// compress gzips data with fixed header fields so output is reproducible.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	gw.ModTime = epoch
	gw.Name = ""
	gw.Comment = ""
	gw.OS = gzipOSUnknown

	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("writing gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress gunzips data, failing once more than maxSize bytes come out.
func decompress(data []byte, maxSize int64) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	result, err := io.ReadAll(io.LimitReader(gr, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading gzip data: %w", err)
	}
	if int64(len(result)) > maxSize {
		return nil, fmt.Errorf("decompressed data exceeds maximum size of %d bytes", maxSize)
	}
	return result, nil
}

// readTar scans a tar stream in memory. It rejects links, device entries and
// paths that escape the archive root.
func readTar(data []byte, maxFileSize int64) ([]entry, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var files []entry

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar header: %w", err)
		}

		if err := validateTarPath(hdr.Name); err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeXGlobalHeader:
			continue
		case tar.TypeSymlink, tar.TypeLink:
			return nil, fmt.Errorf("archive contains disallowed link type: %s", hdr.Name)
		case tar.TypeReg:
		default:
			return nil, fmt.Errorf("archive contains disallowed entry type %d: %s", hdr.Typeflag, hdr.Name)
		}

		if hdr.Size > maxFileSize {
			return nil, fmt.Errorf("file %s exceeds maximum size of %d bytes", hdr.Name, maxFileSize)
		}
		content, err := io.ReadAll(io.LimitReader(tr, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("reading tar content for %s: %w", hdr.Name, err)
		}
		if int64(len(content)) > maxFileSize {
			return nil, fmt.Errorf("file %s exceeds maximum size of %d bytes", hdr.Name, maxFileSize)
		}

		files = append(files, entry{
			Path:    path.Clean(strings.TrimPrefix(hdr.Name, "./")),
			Content: content,
			Mode:    hdr.Mode,
		})
	}
	return files, nil
}

// validateTarPath checks that a tar entry path is safe.
func validateTarPath(p string) error {
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path traversal detected in archive: %s", p)
	}
	if path.IsAbs(cleaned) || strings.Contains(p, `\`) {
		return fmt.Errorf("absolute or non-portable path not allowed in archive: %s", p)
	}
	return nil
}

// stripSingleRoot removes a directory prefix shared by every entry, so both
// "SKILL.md" and "my-skill/SKILL.md" layouts unpack the same way.
func stripSingleRoot(files []entry) []entry {
	if len(files) == 0 {
		return files
	}
	var prefix string
	for _, f := range files {
		i := strings.IndexByte(f.Path, '/')
		if i <= 0 {
			return files
		}
		dir := f.Path[:i+1]
		if prefix == "" {
			prefix = dir
		} else if dir != prefix {
			return files
		}
	}
	out := make([]entry, len(files))
	for i, f := range files {
		out[i] = f
		out[i].Path = strings.TrimPrefix(f.Path, prefix)
	}
	return out
}

// IsGzip reports whether data starts with the gzip magic header.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
