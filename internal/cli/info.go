package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/registry"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info [name[@version]]",
	Short: "Show a skill's registry entry",
	Long: `Show the registry entry for a skill: versions, author, dependencies and
the content id of its bundle. Without a version the latest is shown.

Without arguments, show information about the registry itself.`,
	Args: argsAtMost(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	reg, err := newRegistry(nil)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		info, err := reg.Info(cmd.Context())
		if err != nil {
			return err
		}
		if infoJSON {
			return printJSON(cmd, info)
		}
		printRegistryInfo(cmd.OutOrStdout(), info, reg.ProcessID())
		return nil
	}

	ref, err := manifest.ParseRef(args[0])
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput, "", "")
	}
	skill, err := reg.Get(cmd.Context(), ref.Name, ref.Version)
	if err != nil {
		return err
	}
	if infoJSON {
		return printJSON(cmd, skill)
	}
	printSkillInfo(cmd.OutOrStdout(), skill)
	return nil
}

func printRegistryInfo(out io.Writer, info *registry.Info, processID string) {
	fmt.Fprintf(out, "Registry:  %s %s\n", info.Name, info.Version)
	fmt.Fprintf(out, "Process:   %s\n", processID)
	fmt.Fprintf(out, "Skills:    %d\n", info.SkillCount)
	if len(info.Handlers) > 0 {
		fmt.Fprintf(out, "Handlers:  %s\n", strings.Join(info.Handlers, ", "))
	}
}

func printSkillInfo(out io.Writer, s *manifest.Skill) {
	fmt.Fprintf(out, "%s@%s\n", s.Name, s.Version)
	if s.Description != "" {
		fmt.Fprintf(out, "  %s\n", s.Description)
	}
	fmt.Fprintln(out)
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "  %-13s %s\n", label+":", value)
		}
	}
	field("Author", s.Author)
	field("Owner", s.Owner)
	field("License", s.License)
	field("Content id", s.ContentID)
	field("Published", registry.PublishedAt(s))
	if len(s.Tags) > 0 {
		field("Tags", strings.Join(s.Tags, ", "))
	}
	if len(s.Versions) > 0 {
		field("Versions", strings.Join(s.Versions, ", "))
	}
	if len(s.Dependencies) == 0 {
		return
	}
	fmt.Fprintln(out, "  Dependencies:")
	for _, d := range s.Dependencies {
		fmt.Fprintf(out, "    %s\n", d)
	}
}
