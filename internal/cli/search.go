package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/manifest"
)

var (
	searchTags   []string
	searchAuthor string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the registry for skills",
	Long: `Search the registry for skills whose name or description contains the query.

Use --tag to keep only skills carrying at least one of the given tags
(repeatable or comma-separated) and --author to filter by author.`,
	Args: argsExactly(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVarP(&searchTags, "tag", "t", nil, "Filter by tag (matches any)")
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "Filter by author")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(searchCmd)
}

// searchEntry is one search hit as displayed.
type searchEntry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ContentID   string   `json:"arweaveTxId,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	reg, err := newRegistry(nil)
	if err != nil {
		return err
	}

	skills, err := reg.Search(cmd.Context(), query)
	if err != nil {
		return err
	}

	entries := []searchEntry{}
	for _, s := range skills {
		if !matchesSearch(s, searchTags, searchAuthor) {
			continue
		}
		entries = append(entries, searchEntry{
			Name:        s.Name,
			Version:     s.Version,
			Description: s.Description,
			Author:      s.Author,
			Tags:        s.Tags,
			ContentID:   s.ContentID,
		})
	}

	if searchJSON {
		return printJSON(cmd, entries)
	}
	if len(entries) == 0 {
		msg := fmt.Sprintf("No skills found matching %q", query)
		if len(searchTags) > 0 {
			msg += fmt.Sprintf(" with --tag=%s", strings.Join(searchTags, ","))
		}
		if searchAuthor != "" {
			msg += fmt.Sprintf(" with --author=%s", searchAuthor)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}
	return printSearchTable(cmd, entries)
}

// matchesSearch applies the client-side filters. Filters are AND-combined;
// empty filters match everything.
func matchesSearch(s manifest.Skill, filterTags []string, author string) bool {
	if len(filterTags) > 0 && !matchesAnyTag(s.Tags, filterTags) {
		return false
	}
	if author != "" && !strings.EqualFold(s.Author, author) {
		return false
	}
	return true
}

// matchesAnyTag returns true if any of the skill's tags match any of the
// filter tags. Comparison is case-insensitive.
func matchesAnyTag(skillTags []string, filterTags []string) bool {
	for _, ft := range filterTags {
		ft = strings.TrimSpace(ft)
		for _, st := range skillTags {
			if strings.EqualFold(st, ft) {
				return true
			}
		}
	}
	return false
}

func printSearchTable(cmd *cobra.Command, entries []searchEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tAUTHOR\tDESCRIPTION")
	for _, e := range entries {
		author := e.Author
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Version, author, truncate(e.Description, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
