package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/config"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/userdata"
)

var (
	doctorFix     bool
	doctorOffline bool
	checkManifest string
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Create missing directories and tighten wallet permissions")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the registry connectivity check")
	doctorCmd.Flags().StringVar(&checkManifest, "check-manifest", "", "Validate the SKILL.md at the given path")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local installation and registry settings",
	Long: `Run diagnostic checks: install roots, home directory and wallet
permissions, lock ledgers, required settings and registry reachability.`,
	Args: argsExactly(0),
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if checkManifest != "" {
		return runManifestCheck(out, checkManifest)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	loc := userdata.DefaultLocations(cwd)
	loc.Wallet = cfg.WalletPath()

	problems := userdata.Check(out, loc, doctorFix)
	problems += checkLedgers(out, loc.GlobalRoot, loc.LocalRoot)
	problems += checkSettings(out)
	if !doctorOffline {
		problems += checkRegistry(cmd, out)
	}

	fmt.Fprintln(out)
	if problems > 0 {
		return apperr.New(apperr.KindConfiguration, apperr.CodeInvalidInput,
			fmt.Sprintf("%d problem(s) found", problems), "run with --fix to repair local directories")
	}
	fmt.Fprintln(out, "No problems found.")
	return nil
}

func checkLedgers(out io.Writer, roots ...string) int {
	fmt.Fprintln(out, "Lock ledgers:")
	problems := 0
	for _, root := range roots {
		ledger := lockfile.ForRoot(root)
		records, err := ledger.List()
		if err != nil {
			fmt.Fprintf(out, "  [FAIL] %s: %v\n", ledger.Path(), err)
			problems++
			continue
		}
		if len(records) == 0 {
			fmt.Fprintf(out, "  [ -- ] %s has no records\n", ledger.Path())
			continue
		}
		missing := 0
		for _, r := range records {
			if r.Path == "" {
				continue
			}
			if _, err := os.Stat(r.Path); err != nil {
				fmt.Fprintf(out, "  [WARN] %s@%s recorded but %s is missing\n", r.Name, r.Version, r.Path)
				missing++
			}
		}
		if missing == 0 {
			fmt.Fprintf(out, "  [ OK ] %s (%d packages)\n", ledger.Path(), len(records))
		}
		problems += missing
	}
	return problems
}

func checkSettings(out io.Writer) int {
	fmt.Fprintln(out, "Settings:")
	problems := 0
	for _, key := range []string{config.KeyRegistryCU, config.KeyRegistryMU, config.KeyRegistryProcess, config.KeyGatewayURL, config.KeyBundlerURL} {
		if _, err := cfg.Require(key); err != nil {
			fmt.Fprintf(out, "  [MISS] %v\n", err)
			if hint := apperr.HintOf(err); hint != "" {
				fmt.Fprintf(out, "         %s\n", hint)
			}
			problems++
			continue
		}
		fmt.Fprintf(out, "  [ OK ] %s = %s\n", key, cfg.Get(key))
	}
	return problems
}

func checkRegistry(cmd *cobra.Command, out io.Writer) int {
	fmt.Fprintln(out, "Registry:")
	if cfg.Get(config.KeyRegistryProcess) == "" {
		fmt.Fprintln(out, "  [ -- ] skipped (registry.process_id not set)")
		return 0
	}
	reg, err := newRegistry(nil)
	if err != nil {
		fmt.Fprintf(out, "  [FAIL] %v\n", err)
		return 1
	}
	info, err := reg.Info(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "  [FAIL] %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "  [ OK ] %s %s (%d skills)\n", info.Name, info.Version, info.SkillCount)
	return 0
}

func runManifestCheck(out io.Writer, path string) error {
	fmt.Fprintf(out, "Manifest validation: %s\n", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, "reading "+path, "")
	}
	skill, result, err := manifest.Load(content)
	if err != nil {
		fmt.Fprintf(out, "  [FAIL] %v\n", err)
		return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidManifest, "manifest validation failed", "")
	}
	if result.Valid {
		fmt.Fprintf(out, "  [ OK ] Valid manifest: %s (v%s)\n", skill.Name, skill.Version)
		return nil
	}

	fmt.Fprintf(out, "  [FAIL] %d validation issue(s):\n", len(result.Issues))
	for _, issue := range result.Issues {
		fmt.Fprintf(out, "    - %s\n", issue)
	}
	return apperr.New(apperr.KindValidation, apperr.CodeInvalidManifest,
		fmt.Sprintf("manifest %s has %d validation issue(s)", path, len(result.Issues)), "")
}
