package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/config"
	"github.com/permaskills/skills/internal/install"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/resolver"
)

var (
	installGlobal   bool
	installLocal    bool
	installForce    bool
	installSkipLock bool
	installYes      bool
	installDryRun   bool
	installNoCache  bool
	installParallel int
	installMaxDepth int
)

var installCmd = &cobra.Command{
	Use:   "install <name[@version]>",
	Short: "Install a skill and its dependencies",
	Long: `Install a skill and every package it depends on. Dependencies are installed
before the packages that need them, and each package is recorded in
skills-lock.json as soon as it has been extracted.

Skills install globally (~/.claude/skills) unless --local is given, in which
case they go to ./.claude/skills. Packages already recorded at the resolved
version are skipped; --force reinstalls them and overwrites existing
directories without asking.`,
	Args: argsExactly(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installGlobal, "global", "g", false, "Install into the global skills directory (default)")
	installCmd.Flags().BoolVarP(&installLocal, "local", "l", false, "Install into ./.claude/skills")
	installCmd.Flags().BoolVarP(&installForce, "force", "f", false, "Reinstall and overwrite existing packages")
	installCmd.Flags().BoolVar(&installSkipLock, "skip-lock", false, "Neither read nor write the lock ledger")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Overwrite existing directories without asking")
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "Resolve and print the dependency tree without installing")
	installCmd.Flags().BoolVar(&installNoCache, "no-cache", false, "Always download bundles, ignoring the local bundle cache")
	installCmd.Flags().IntVar(&installParallel, "parallel", 0, "Packages installed at once (default install.parallel)")
	installCmd.Flags().IntVar(&installMaxDepth, "max-depth", 0, "Maximum dependency depth (default install.max_depth)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ref := args[0]
	out := cmd.OutOrStdout()

	root, err := installRoot(installGlobal, installLocal)
	if err != nil {
		return err
	}

	parallel := installParallel
	if parallel <= 0 {
		parallel = cfg.Int(config.KeyInstallParallel)
	}
	maxDepth := installMaxDepth
	if maxDepth <= 0 {
		maxDepth = cfg.Int(config.KeyInstallMaxDepth)
	}

	if installDryRun {
		return printInstallPlan(cmd, ref, root, maxDepth)
	}

	installer, err := newInstaller(!installNoCache)
	if err != nil {
		return err
	}

	prompt := newConfirmer(cmd)
	opts := install.Options{
		Root:     root,
		Force:    installForce || installYes,
		SkipLock: installSkipLock,
		Parallel: parallel,
		MaxDepth: maxDepth,
		Confirm: func(target string) bool {
			return prompt.ask(fmt.Sprintf("%s already exists. Overwrite?", target), false)
		},
		Progress: installProgress(out),
	}

	fmt.Fprintf(out, "Installing %s into %s\n", ref, root)
	res, err := installer.Install(cmd.Context(), ref, opts)
	if err != nil {
		reportPartialInstall(out, res, err)
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Installed %d of %d packages.", len(res.Installed), res.Plan.Len())
	if res.Skipped > 0 {
		fmt.Fprintf(out, " %d already installed (skipped).", res.Skipped)
	}
	fmt.Fprintln(out)
	return nil
}

func installProgress(out io.Writer) func(install.Event) {
	return func(e install.Event) {
		switch e.Kind {
		case install.EventResolved:
			fmt.Fprintf(out, "Resolved %s@%s\n", e.Name, e.Version)
		case install.EventDownloading:
			if e.Total > 0 && e.Received == e.Total {
				logger.Debug("downloaded bundle", "package", e.Name, "bytes", e.Total)
			}
		case install.EventInstalled:
			fmt.Fprintf(out, "  ✓ %s@%s\n", e.Name, e.Version)
		case install.EventSkipped:
			fmt.Fprintf(out, "  - %s@%s (already installed)\n", e.Name, e.Version)
		}
	}
}

// reportPartialInstall lists what stayed installed when a multi-package
// install fails part way.
func reportPartialInstall(out io.Writer, res *install.Result, err error) {
	var pkgErr *install.PackageError
	if !errors.As(err, &pkgErr) {
		return
	}
	fmt.Fprintf(out, "  ✗ %s@%s\n", pkgErr.Name, pkgErr.Version)
	if res == nil || len(res.Installed) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%d packages were installed before the failure and remain in place.\n", len(res.Installed))
	fmt.Fprintln(out, "Re-running the same command skips them and retries the rest.")
	if apperr.HasCode(err, apperr.CodeNotFound) {
		fmt.Fprintln(out, "Recently published bundles can take a few minutes to propagate.")
	}
}

func printInstallPlan(cmd *cobra.Command, ref, root string, maxDepth int) error {
	reg, err := newRegistry(nil)
	if err != nil {
		return err
	}

	locked := map[string]string{}
	if !installSkipLock {
		records, err := lockfile.ForRoot(root).Load()
		if err != nil {
			logger.Warn("ignoring unreadable lock ledger", "root", root, "error", err)
		}
		for name, r := range records {
			locked[name] = r.Version
		}
	}

	plan, err := resolver.Resolve(cmd.Context(), reg, ref, resolver.Options{
		MaxDepth:      maxDepth,
		SkipInstalled: !installSkipLock && !installForce,
		Locked:        locked,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Dependency tree:")
	plan.PrintTree(out)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Install order:")
	for i, node := range plan.Ordered() {
		fmt.Fprintf(out, "  %d. %s\n", i+1, node.Ref())
	}
	fmt.Fprintf(out, "\n%d packages, %d already installed.\n", plan.Len(), plan.CachedCount())
	return nil
}
