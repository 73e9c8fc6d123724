package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/lockfile"
)

var (
	listGlobal bool
	listLocal  bool
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed skills",
	Long: `List the skills recorded in skills-lock.json of the global install root
(~/.claude/skills) or, with --local, of ./.claude/skills.`,
	Args: argsExactly(0),
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listGlobal, "global", "g", false, "List the global install root (default)")
	listCmd.Flags().BoolVarP(&listLocal, "local", "l", false, "List ./.claude/skills")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	root, err := installRoot(listGlobal, listLocal)
	if err != nil {
		return err
	}
	records, err := lockfile.ForRoot(root).List()
	if err != nil {
		return err
	}

	if listJSON {
		return printJSON(cmd, records)
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No skills installed in %s.\n", root)
		return nil
	}
	return printListTable(cmd, records)
}

func printListTable(cmd *cobra.Command, records []lockfile.Record) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tINSTALLED\tCONTENT ID")
	for _, r := range records {
		kind := "dependency"
		if r.Direct {
			kind = "direct"
		}
		installed := "-"
		if !r.InstalledAt.IsZero() {
			installed = r.InstalledAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Version, kind, installed, r.ContentID)
	}
	return w.Flush()
}
