package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jgalley/cpapsync/internal/config"
	"github.com/jgalley/cpapsync/internal/ledger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain transfer ledgers",
	Long: `Work with the per-destination transfer ledgers. The daemon should not
be mid-session while compacting or forgetting; stop it or wait for
cooldown first.`,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <destination>",
	Short: "Show a destination's ledger counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerCompactCmd = &cobra.Command{
	Use:   "compact <destination>",
	Short: "Fold a destination's journal into its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerCompact,
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget <destination> <day>",
	Short: "Drop a day folder's completed mark to force re-verification",
	Long: `Remove a day key (YYYYMMDD) from a destination's completed set. The
next session re-uploads any of the folder's files whose fingerprints no
longer match.`,
	Args: cobra.ExactArgs(2),
	RunE: runLedgerForget,
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerCompactCmd)
	ledgerCmd.AddCommand(ledgerForgetCmd)
}

func openLedger(dest string) (*ledger.Ledger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(logLevel, "text")
	l := ledger.New(cfg.Ledger.Dir, dest, logger)
	if err := l.Load(); err != nil {
		return nil, fmt.Errorf("loading ledger for %s: %w", dest, err)
	}
	return l, nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	l, err := openLedger(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Completed folders:\t%d\n", l.CompletedCount())
	fmt.Fprintf(w, "Pending folders:\t%d\n", l.PendingCount())
	fmt.Fprintf(w, "Tracked files:\t%d\n", l.TrackedFileCount())
	if l.RetryFolder() != "" {
		fmt.Fprintf(w, "Retrying:\t%s (attempt %d)\n", l.RetryFolder(), l.RetryCount())
	}
	if !l.LastUpload().IsZero() {
		fmt.Fprintf(w, "Last upload:\t%s\n", l.LastUpload().Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runLedgerCompact(cmd *cobra.Command, args []string) error {
	l, err := openLedger(args[0])
	if err != nil {
		return err
	}
	if err := l.Compact(); err != nil {
		return fmt.Errorf("compacting ledger: %w", err)
	}
	fmt.Printf("ledger for %s compacted\n", args[0])
	return nil
}

func runLedgerForget(cmd *cobra.Command, args []string) error {
	dest, day := args[0], args[1]

	l, err := openLedger(dest)
	if err != nil {
		return err
	}
	if !l.IsFolderCompleted(day) {
		return fmt.Errorf("folder %s is not marked completed for %s", day, dest)
	}
	l.RemoveFolderFromCompleted(day)
	if err := l.Save(); err != nil {
		return fmt.Errorf("saving ledger: %w", err)
	}
	fmt.Printf("folder %s forgotten for %s\n", day, dest)
	return nil
}
