package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/scaffold"
)

var (
	initName        string
	initDescription string
	initAuthor      string
	initTags        []string
)

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "Skill name (default: directory name)")
	initCmd.Flags().StringVar(&initDescription, "description", "", "One-line description")
	initCmd.Flags().StringVar(&initAuthor, "author", "", "Author shown in the registry")
	initCmd.Flags().StringSliceVarP(&initTags, "tag", "t", nil, "Tag for search (repeatable)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Create a new skill directory",
	Long: `Create a skill directory containing a SKILL.md manifest and a README,
ready to edit and publish. The directory must be empty or absent; it defaults
to the current directory.`,
	Args: argsAtMost(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	name := initName
	if name == "" {
		name = filepath.Base(dir)
	}

	out := cmd.OutOrStdout()
	res, err := scaffold.Generate(scaffold.NewData(name, initDescription, initAuthor, initTags), dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Created %s in %s\n", name, res.OutputDir)
	for _, f := range res.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  ⚠ %s\n", w)
	}
	fmt.Fprintf(out, "\nEdit SKILL.md, then run '%s publish %s'.\n", rootCmd.Name(), dir)
	return nil
}
