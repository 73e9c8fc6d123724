package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/permaskills/skills/internal/config"
	"github.com/permaskills/skills/internal/publish"
	"github.com/permaskills/skills/internal/transport"
)

var (
	publishWallet            string
	publishGateway           string
	publishSkipConfirmation  bool
	publishWait              bool
	publishDurabilityTimeout time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish <directory>",
	Short: "Publish a skill directory",
	Long: `Validate SKILL.md, pack the directory into a bundle, upload it to the
storage network and register the version in the registry.

Bundles under the free tier are uploaded through the bundler at no cost;
larger bundles are priced by the gateway and paid from the wallet. A version
that is already registered is refused before anything is uploaded.`,
	Args: argsExactly(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishWallet, "wallet", "", "Wallet key file (default wallet.path)")
	publishCmd.Flags().StringVar(&publishGateway, "gateway", "", "Gateway URL (default gateway.url)")
	publishCmd.Flags().BoolVarP(&publishSkipConfirmation, "skip-confirmation", "y", false, "Publish without asking")
	publishCmd.Flags().BoolVar(&publishWait, "wait", false, "Wait until the bundle is confirmed on the network")
	publishCmd.Flags().DurationVar(&publishDurabilityTimeout, "durability-timeout", 0, "How long --wait polls (default publish.durability_timeout)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	w, err := loadWallet(publishWallet)
	if err != nil {
		return err
	}
	reg, err := newRegistry(w)
	if err != nil {
		return err
	}
	storage, err := newTransport(publishGateway)
	if err != nil {
		return err
	}

	timeout := publishDurabilityTimeout
	if timeout <= 0 {
		timeout = durabilityTimeout()
	}

	opts := publish.Options{
		Wallet:            w,
		SoftLimit:         int64(cfg.Int(config.KeySoftLimitBytes)),
		Wait:              publishWait,
		DurabilityTimeout: timeout,
		Progress: func(path string, count int) {
			logger.Debug("packed file", "path", path, "count", count)
		},
	}
	if !publishSkipConfirmation {
		prompt := newConfirmer(cmd)
		opts.Confirm = func(s publish.Summary) bool {
			printSummary(out, s, w.Address())
			return prompt.ask("Publish?", true)
		}
	}

	fmt.Fprintf(out, "Publishing %s\n", dir)
	res, err := publish.New(reg, storage, logger).Publish(cmd.Context(), dir, opts)
	if res != nil {
		printPublishResult(out, res)
	}
	return err
}

func printSummary(out io.Writer, s publish.Summary, owner string) {
	action := "new package"
	if s.Update {
		action = "new version of an existing package"
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Package: %s@%s (%s)\n", s.Name, s.Version, action)
	fmt.Fprintf(out, "  Files:   %d\n", s.FileCount)
	fmt.Fprintf(out, "  Size:    %s\n", formatBytes(int64(s.Size)))
	fmt.Fprintf(out, "  Owner:   %s\n", owner)
	if s.Free {
		fmt.Fprintln(out, "  Cost:    free")
	} else {
		fmt.Fprintf(out, "  Cost:    ~%s\n", transport.FormatWinston(s.EstimatedCost))
	}
	if s.SizeExceeded {
		fmt.Fprintln(out, "  ⚠ The bundle is larger than the recommended size; installs will be slower.")
	}
	fmt.Fprintln(out)
}

func printPublishResult(out io.Writer, res *publish.Result) {
	cost := "free"
	if !res.Free {
		cost = transport.FormatWinston(res.Cost)
	}
	verb := "Published"
	if res.Updated {
		verb = "Published new version"
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ %s %s@%s\n", verb, res.Skill.Name, res.Skill.Version)
	fmt.Fprintf(out, "  Content id: %s\n", res.ContentID)
	fmt.Fprintf(out, "  Message id: %s\n", res.MessageID)
	fmt.Fprintf(out, "  Files:      %d (%s)\n", res.FileCount, formatBytes(int64(res.Size)))
	fmt.Fprintf(out, "  Cost:       %s\n", cost)
	if res.SizeExceeded {
		fmt.Fprintln(out, "  ⚠ Bundle exceeds the recommended size.")
	}
	if res.Durability != nil {
		fmt.Fprintf(out, "  Durability: %s (%d confirmations)\n", res.Durability.State, res.Durability.Confirmations)
	} else {
		fmt.Fprintf(out, "  Run '%s status %s --wait' to follow confirmation.\n", rootCmd.Name(), res.ContentID)
	}
}

// formatBytes prints sizes with digit grouping, e.g. "1,234,567 bytes".
func formatBytes(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d bytes", n)
}
