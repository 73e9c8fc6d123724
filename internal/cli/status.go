package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/transport"
)

var (
	statusWait    bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <content-id>",
	Short: "Show the confirmation state of an uploaded bundle",
	Long: `Show whether an uploaded bundle is pending, confirming or confirmed on the
storage network. With --wait, poll until it is confirmed or the timeout
elapses.`,
	Args: argsExactly(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "Poll until the bundle is confirmed")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 0, "How long --wait polls (default publish.durability_timeout)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	storage, err := newTransport("")
	if err != nil {
		return err
	}

	var status *transport.DurabilityStatus
	if statusWait {
		timeout := statusTimeout
		if timeout <= 0 {
			timeout = durabilityTimeout()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Waiting up to %s for %s...\n", timeout, id)
		status, err = storage.PollDurability(cmd.Context(), id, timeout)
	} else {
		status, err = storage.Status(cmd.Context(), id)
	}
	if status != nil {
		printStatus(cmd.OutOrStdout(), status)
	}
	return err
}

func printStatus(out io.Writer, s *transport.DurabilityStatus) {
	fmt.Fprintf(out, "Content id:    %s\n", s.ID)
	fmt.Fprintf(out, "State:         %s\n", s.State)
	fmt.Fprintf(out, "Confirmations: %d\n", s.Confirmations)
	if s.BlockHeight > 0 {
		fmt.Fprintf(out, "Block height:  %d\n", s.BlockHeight)
	}
}
