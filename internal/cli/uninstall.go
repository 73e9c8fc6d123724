package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/manifest"
)

var (
	uninstallGlobal bool
	uninstallLocal  bool
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Remove an installed skill",
	Long: `Remove an installed skill's directory and its skills-lock.json record.
Dependencies are left in place; skills that still depend on the removed one
are listed as a warning.`,
	Args: argsExactly(1),
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().BoolVarP(&uninstallGlobal, "global", "g", false, "Remove from the global install root (default)")
	uninstallCmd.Flags().BoolVarP(&uninstallLocal, "local", "l", false, "Remove from ./.claude/skills")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !manifest.ValidName(name) || lockfile.Reserved(name) {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("invalid skill name %q", name), "")
	}

	root, err := installRoot(uninstallGlobal, uninstallLocal)
	if err != nil {
		return err
	}
	ledger := lockfile.ForRoot(root)
	records, err := ledger.Load()
	if err != nil {
		return err
	}

	target := filepath.Join(root, name)
	rec, recorded := records[name]
	if recorded && within(root, rec.Path) {
		target = rec.Path
	}
	if _, err := os.Stat(target); os.IsNotExist(err) && !recorded {
		return apperr.New(apperr.KindValidation, apperr.CodeNotFound,
			fmt.Sprintf("%s is not installed in %s", name, root),
			fmt.Sprintf("run '%s list' to see installed skills", rootCmd.Name()))
	}

	if err := os.RemoveAll(target); err != nil {
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, "removing "+target, "")
	}
	if err := ledger.Remove(name); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Removed %s from %s\n", name, root)
	if dependents := dependentsOf(records, name); len(dependents) > 0 {
		fmt.Fprintf(out, "  ⚠ Still required by: %s\n", strings.Join(dependents, ", "))
	}
	return nil
}

// dependentsOf returns the recorded packages that list name as a dependency.
func dependentsOf(records map[string]lockfile.Record, name string) []string {
	var out []string
	for _, r := range records {
		if r.Name == name {
			continue
		}
		for _, dep := range r.Dependencies {
			ref, err := manifest.ParseRef(dep)
			if err == nil && ref.Name == name {
				out = append(out, r.Name)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// within reports whether path is a directory strictly inside root.
func within(root, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
