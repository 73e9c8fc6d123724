package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/manifest"
)

// DefaultMaxDepth bounds dependency chains.
const DefaultMaxDepth = 10

// Source fetches manifests. An empty version means the latest.
type Source interface {
	GetSkill(ctx context.Context, name, version string) (*manifest.Skill, error)
}

// Options configures Resolve.
type Options struct {
	MaxDepth      int
	SkipInstalled bool
	// Locked maps an installed name to its installed version.
	Locked map[string]string
}

// Resolve expands root ("name" or "name@version") depth-first. Dependencies
// of a node precede it in Plan.Order, siblings keep declaration order.
func Resolve(ctx context.Context, src Source, root string, opts Options) (*Plan, error) {
	ref, err := manifest.ParseRef(root)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("invalid package reference %q", root), "use name or name@version")
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	r := &resolution{
		src:        src,
		opts:       opts,
		plan:       &Plan{},
		byName:     make(map[string]int),
		inProgress: make(map[string]bool),
	}
	idx, err := r.visit(ctx, ref, 0)
	if err != nil {
		return nil, err
	}
	r.plan.Root = idx
	return r.plan, nil
}

type resolution struct {
	src        Source
	opts       Options
	plan       *Plan
	byName     map[string]int
	inProgress map[string]bool
	path       []string
}

func (r *resolution) visit(ctx context.Context, ref manifest.Ref, depth int) (int, error) {
	if r.inProgress[ref.Name] {
		return 0, r.cycleError(ref.Name)
	}
	if idx, ok := r.byName[ref.Name]; ok {
		return r.reuse(idx, ref)
	}
	if depth > r.opts.MaxDepth {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeMaxDepthExceeded,
			fmt.Sprintf("dependency depth exceeds %d at %s", r.opts.MaxDepth, r.chain(ref.Name)),
			"check for an unexpectedly deep or misconfigured dependency graph")
	}

	r.inProgress[ref.Name] = true
	r.path = append(r.path, ref.Name)
	defer func() {
		delete(r.inProgress, ref.Name)
		r.path = r.path[:len(r.path)-1]
	}()

	skill, err := r.fetch(ctx, ref)
	if err != nil {
		if len(r.path) > 1 {
			return 0, fmt.Errorf("resolving %s: %w", strings.Join(r.path, " -> "), err)
		}
		return 0, err
	}

	children := make([]int, 0, len(skill.Dependencies))
	for _, dep := range skill.Dependencies {
		if dep.Name == "" {
			continue
		}
		child, err := r.visit(ctx, manifest.Ref{Name: dep.Name, Version: dep.Version}, depth+1)
		if err != nil {
			return 0, err
		}
		children = append(children, child)
	}

	node := Node{
		Name:       skill.Name,
		Version:    skill.Version,
		ContentID:  skill.ContentID,
		Constraint: ref.Version,
		Depth:      depth,
		Children:   children,
		Direct:     depth == 0,
		Manifest:   skill,
	}
	if node.Name == "" {
		node.Name = ref.Name
	}
	if r.opts.SkipInstalled {
		if v, ok := r.opts.Locked[node.Name]; ok && v == node.Version {
			node.Cached = true
		}
	}

	idx := len(r.plan.Nodes)
	r.plan.Nodes = append(r.plan.Nodes, node)
	r.plan.Order = append(r.plan.Order, idx)
	r.byName[ref.Name] = idx
	return idx, nil
}

// reuse returns an already resolved node when its version satisfies ref.
func (r *resolution) reuse(idx int, ref manifest.Ref) (int, error) {
	existing := r.plan.Nodes[idx]
	ok, err := ref.Allows(existing.Version)
	if err != nil || !ok {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeVersionConflict,
			fmt.Sprintf("%s requires %s but %s@%s is already selected",
				r.chain(ref.Name), ref, existing.Name, existing.Version),
			"align the version constraints of the packages that depend on it")
	}
	return idx, nil
}

// fetch picks the manifest for ref: latest, an exact version, or the highest
// published version satisfying a range.
func (r *resolution) fetch(ctx context.Context, ref manifest.Ref) (*manifest.Skill, error) {
	if ref.IsLatest() || ref.IsExact() {
		return r.src.GetSkill(ctx, ref.Name, ref.Version)
	}

	latest, err := r.src.GetSkill(ctx, ref.Name, "")
	if err != nil {
		return nil, err
	}
	if ok, err := ref.Allows(latest.Version); err == nil && ok {
		return latest, nil
	}
	version, ok := ref.Highest(latest.Versions)
	if !ok {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeNoMatchingVersion,
			fmt.Sprintf("no published version of %s satisfies %s", ref.Name, ref.Version),
			fmt.Sprintf("latest is %s", latest.Version))
	}
	return r.src.GetSkill(ctx, ref.Name, version)
}

func (r *resolution) cycleError(name string) error {
	start := 0
	for i, n := range r.path {
		if n == name {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, r.path[start:]...), name)
	return apperr.New(apperr.KindValidation, apperr.CodeCircularDependency,
		fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> ")),
		"remove one of the dependencies in the cycle")
}

func (r *resolution) chain(name string) string {
	return strings.Join(append(append([]string{}, r.path...), name), " -> ")
}
