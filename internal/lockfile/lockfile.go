package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/clock"
	"github.com/permaskills/skills/internal/platform"
)

const (
	// FileName is the ledger file kept in every install root.
	FileName = "skills-lock.json"
	// Version is the lockfileVersion written by this package.
	Version = 1

	lockSuffix = ".lock"
)

// Record describes one installed package.
type Record struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	ContentID    string    `json:"arweaveTxId"`
	InstalledAt  time.Time `json:"installedAt"`
	Path         string    `json:"path"`
	Dependencies []string  `json:"dependencies"`
	Direct       bool      `json:"direct"`
	Checksum     string    `json:"checksum,omitempty"`
}

// Verify reports whether data matches the recorded checksum. Records
// without a checksum never verify.
func (r *Record) Verify(data []byte) bool {
	if r.Checksum == "" {
		return false
	}
	d, err := digest.Parse(r.Checksum)
	if err != nil || !d.Algorithm().Available() {
		return false
	}
	return d.Algorithm().FromBytes(data) == d
}

// Checksum returns the sha256 digest of an archive in "sha256:<hex>" form.
func Checksum(data []byte) string {
	return digest.FromBytes(data).String()
}

type file struct {
	LockfileVersion int               `json:"lockfileVersion"`
	UpdatedAt       string            `json:"updatedAt"`
	Skills          map[string]Record `json:"skills"`
}

// Reserved reports whether name collides with the ledger's own files in an
// install root.
func Reserved(name string) bool {
	return name == FileName || name == FileName+lockSuffix
}

// ResolveLedgerPath returns the ledger location for an install root.
func ResolveLedgerPath(root string) string {
	return filepath.Join(root, FileName)
}

// Ledger reads and writes one skills-lock.json.
type Ledger struct {
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for updatedAt.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// New returns a ledger stored at path.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{path: path, clock: clock.Real()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ForRoot returns the ledger of an install root.
func ForRoot(root string, opts ...Option) *Ledger {
	return New(ResolveLedgerPath(root), opts...)
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Load returns all records keyed by name. A missing file yields an empty map.
func (l *Ledger) Load() (map[string]Record, error) {
	f, err := l.read()
	if err != nil {
		return nil, err
	}
	return f.Skills, nil
}

// Get returns the record for name.
func (l *Ledger) Get(name string) (Record, bool, error) {
	skills, err := l.Load()
	if err != nil {
		return Record{}, false, err
	}
	r, ok := skills[name]
	return r, ok, nil
}

// List returns all records sorted by name.
func (l *Ledger) List() ([]Record, error) {
	skills, err := l.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(skills))
	for _, r := range skills {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update inserts or replaces the record with the same name.
func (l *Ledger) Update(rec Record) error {
	if rec.Name == "" {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidInput, "ledger record has no name", "")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fsError(err, "creating ledger directory")
	}
	lock, err := platform.Lock(l.path + lockSuffix)
	if err != nil {
		return fsError(err, "locking ledger")
	}
	defer lock.Unlock()

	f, err := l.read()
	if err != nil {
		return err
	}
	if rec.Dependencies == nil {
		rec.Dependencies = []string{}
	}
	f.Skills[rec.Name] = rec
	f.LockfileVersion = Version
	f.UpdatedAt = l.clock.Now().UTC().Format(time.RFC3339)
	return l.write(f)
}

// Remove deletes the record for name. Removing an absent name is a no-op.
func (l *Ledger) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := platform.Lock(l.path + lockSuffix)
	if err != nil {
		return fsError(err, "locking ledger")
	}
	defer lock.Unlock()

	f, err := l.read()
	if err != nil {
		return err
	}
	if _, ok := f.Skills[name]; !ok {
		return nil
	}
	delete(f.Skills, name)
	f.UpdatedAt = l.clock.Now().UTC().Format(time.RFC3339)
	return l.write(f)
}

func (l *Ledger) read() (*file, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &file{LockfileVersion: Version, Skills: map[string]Record{}}, nil
	}
	if err != nil {
		return nil, fsError(err, "reading ledger")
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO,
			fmt.Sprintf("ledger %s is corrupt", l.path),
			"delete the file and reinstall to rebuild it")
	}
	if f.Skills == nil {
		f.Skills = map[string]Record{}
	}
	return &f, nil
}

func (l *Ledger) write(f *file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+FileName+"-*")
	if err != nil {
		return fsError(err, "writing ledger")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fsError(err, "writing ledger")
	}
	if err := tmp.Close(); err != nil {
		return fsError(err, "writing ledger")
	}
	if err := platform.Chmod(tmpName, 0o644); err != nil {
		return fsError(err, "writing ledger")
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fsError(err, "replacing ledger")
	}
	return nil
}

func fsError(err error, action string) error {
	code := apperr.CodeIO
	if errors.Is(err, fs.ErrPermission) {
		code = apperr.CodePermissionDenied
	}
	return apperr.Wrap(err, apperr.KindFileSystem, code, action, "")
}
