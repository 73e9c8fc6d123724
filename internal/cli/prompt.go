package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

// confirmer asks yes/no questions on the command's stdin. It is safe for
// concurrent use so parallel installs never interleave prompts.
type confirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConfirmer(cmd *cobra.Command) *confirmer {
	return &confirmer{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
}

// ask prints question and reports whether the answer was yes. An empty
// answer takes the default.
func (c *confirmer) ask(question string, defaultYes bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	choices := "(y/N)"
	if defaultYes {
		choices = "(Y/n)"
	}
	fmt.Fprintf(c.out, "? %s %s ", question, choices)

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(c.out)
		return false
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}
