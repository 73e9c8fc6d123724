package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/bundle"
	"github.com/permaskills/skills/internal/clock"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/resolver"
	"github.com/permaskills/skills/internal/transport"
)

// DefaultParallel is the number of packages installed at once within a level.
const DefaultParallel = 4

// Downloader fetches bundle bytes by content id.
type Downloader interface {
	Download(ctx context.Context, id string, progress transport.ProgressFunc) ([]byte, error)
}

// EventKind identifies a progress event.
type EventKind int

const (
	EventResolved EventKind = iota
	EventDownloading
	EventInstalled
	EventSkipped
)

// Event reports install progress. Received and Total are set for
// EventDownloading.
type Event struct {
	Kind     EventKind
	Name     string
	Version  string
	Received int64
	Total    int64
}

// Options configures one Install call. Progress and Confirm may be invoked
// from several goroutines, but never concurrently with each other.
type Options struct {
	Root     string
	Force    bool
	Confirm  bundle.ConfirmFunc
	SkipLock bool
	Parallel int
	MaxDepth int
	Progress func(Event)
}

// Installed is one package written to disk.
type Installed struct {
	Name      string
	Version   string
	ContentID string
	Path      string
	FileCount int
	Replaced  bool
	Direct    bool
}

// Result summarizes an install.
type Result struct {
	Plan      *resolver.Plan
	Installed []Installed
	Skipped   int
}

// PackageError names the package whose install failed. Packages installed
// before the failure stay installed.
type PackageError struct {
	Name    string
	Version string
	Err     error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("installing %s@%s: %v", e.Name, e.Version, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// Installer runs installs against one registry and one storage gateway.
type Installer struct {
	source     resolver.Source
	downloader Downloader
	cache      *BundleCache
	clock      clock.Clock
	logger     *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Installer) { i.logger = l }
}

// WithClock sets the clock used for installedAt timestamps.
func WithClock(c clock.Clock) Option {
	return func(i *Installer) { i.clock = c }
}

// WithBundleCache keeps downloaded archives for reuse.
func WithBundleCache(c *BundleCache) Option {
	return func(i *Installer) { i.cache = c }
}

// New creates an Installer.
func New(source resolver.Source, downloader Downloader, opts ...Option) *Installer {
	i := &Installer{
		source:     source,
		downloader: downloader,
		clock:      clock.Real(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Install resolves ref and installs the plan level by level, dependencies
// first. Nodes within one level run in parallel.
func (i *Installer) Install(ctx context.Context, ref string, opts Options) (*Result, error) {
	if opts.Root == "" {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting, "no install root given", "")
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	opts.Progress, opts.Confirm = serialized(opts.Progress, opts.Confirm)

	var ledger *lockfile.Ledger
	locked := map[string]string{}
	if !opts.SkipLock {
		ledger = lockfile.ForRoot(opts.Root, lockfile.WithClock(i.clock))
		records, err := ledger.Load()
		if err != nil {
			i.logger.Warn("ignoring unreadable lock ledger", "path", ledger.Path(), "error", err)
		}
		for name, r := range records {
			locked[name] = r.Version
		}
	}

	plan, err := resolver.Resolve(ctx, i.source, ref, resolver.Options{
		MaxDepth:      opts.MaxDepth,
		SkipInstalled: !opts.SkipLock && !opts.Force,
		Locked:        locked,
	})
	if err != nil {
		return nil, err
	}
	i.logger.Debug("resolved plan", "root", ref, "packages", plan.Len(), "cached", plan.CachedCount())
	emit(opts.Progress, Event{Kind: EventResolved, Name: plan.Nodes[plan.Root].Name, Version: plan.Nodes[plan.Root].Version})

	res := &Result{Plan: plan}
	var mu sync.Mutex
	done := make(map[int]Installed)

	for _, level := range plan.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallel)
		for _, idx := range level {
			node := &plan.Nodes[idx]
			if node.Cached {
				res.Skipped++
				emit(opts.Progress, Event{Kind: EventSkipped, Name: node.Name, Version: node.Version})
				continue
			}
			g.Go(func() error {
				inst, err := i.installNode(gctx, plan, node, ledger, opts)
				if err != nil {
					return &PackageError{Name: node.Name, Version: node.Version, Err: err}
				}
				mu.Lock()
				done[idx] = inst
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			res.Installed = collect(plan, done)
			return res, err
		}
	}
	res.Installed = collect(plan, done)
	return res, nil
}

func (i *Installer) installNode(ctx context.Context, plan *resolver.Plan, node *resolver.Node, ledger *lockfile.Ledger, opts Options) (Installed, error) {
	if node.ContentID == "" {
		return Installed{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("%s@%s has no content id in the registry", node.Name, node.Version),
			"the package may not have finished publishing")
	}

	data, err := i.fetch(ctx, node, opts.Progress)
	if err != nil {
		return Installed{}, err
	}

	out, err := bundle.Unpack(data, bundle.UnpackOptions{
		Root:         opts.Root,
		Force:        opts.Force,
		Confirm:      opts.Confirm,
		ExpectedName: node.Name,
	})
	if err != nil {
		return Installed{}, err
	}
	emit(opts.Progress, Event{Kind: EventInstalled, Name: node.Name, Version: node.Version})

	if ledger != nil {
		deps := make([]string, 0, len(node.Children))
		for _, c := range node.Children {
			deps = append(deps, plan.Nodes[c].Ref().String())
		}
		rec := lockfile.Record{
			Name:         node.Name,
			Version:      node.Version,
			ContentID:    node.ContentID,
			InstalledAt:  i.clock.Now().UTC(),
			Path:         out.Path,
			Dependencies: deps,
			Direct:       node.Direct,
			Checksum:     lockfile.Checksum(data),
		}
		if err := ledger.Update(rec); err != nil {
			i.logger.Warn("failed to record install in lock ledger", "package", node.Name, "error", err)
		}
	}

	return Installed{
		Name:      node.Name,
		Version:   node.Version,
		ContentID: node.ContentID,
		Path:      out.Path,
		FileCount: out.FileCount,
		Replaced:  out.Replaced,
		Direct:    node.Direct,
	}, nil
}

// fetch returns the archive for node, from the bundle cache when possible.
func (i *Installer) fetch(ctx context.Context, node *resolver.Node, progress func(Event)) ([]byte, error) {
	if i.cache != nil {
		data, err := i.cache.Get(node.ContentID)
		switch {
		case err == nil:
			i.logger.Debug("bundle cache hit", "package", node.Name, "id", node.ContentID)
			return data, nil
		case !errors.Is(err, ErrCacheMiss):
			i.logger.Warn("discarding cached bundle", "id", node.ContentID, "error", err)
		}
	}

	data, err := i.downloader.Download(ctx, node.ContentID, func(received, total int64) {
		emit(progress, Event{Kind: EventDownloading, Name: node.Name, Version: node.Version, Received: received, Total: total})
	})
	if err != nil {
		return nil, err
	}
	if i.cache != nil {
		if err := i.cache.Put(node.ContentID, data); err != nil {
			i.logger.Warn("failed to cache bundle", "id", node.ContentID, "error", err)
		}
	}
	return data, nil
}

func collect(plan *resolver.Plan, done map[int]Installed) []Installed {
	pos := make(map[int]int, len(plan.Order))
	for p, idx := range plan.Order {
		pos[idx] = p
	}
	keys := make([]int, 0, len(done))
	for idx := range done {
		keys = append(keys, idx)
	}
	sort.Slice(keys, func(a, b int) bool { return pos[keys[a]] < pos[keys[b]] })

	out := make([]Installed, 0, len(keys))
	for _, idx := range keys {
		out = append(out, done[idx])
	}
	return out
}

// serialized wraps the caller's callbacks behind one mutex so output and
// prompts from parallel installs never interleave.
func serialized(progress func(Event), confirm bundle.ConfirmFunc) (func(Event), bundle.ConfirmFunc) {
	var mu sync.Mutex
	if progress != nil {
		inner := progress
		progress = func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			inner(e)
		}
	}
	if confirm != nil {
		inner := confirm
		confirm = func(target string) bool {
			mu.Lock()
			defer mu.Unlock()
			return inner(target)
		}
	}
	return progress, confirm
}

func emit(fn func(Event), e Event) {
	if fn != nil {
		fn(e)
	}
}
