package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jgalley/cpapsync/internal/config"
	"github.com/jgalley/cpapsync/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	statusAddr   string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's state",
	Long: `Query the daemon's status endpoint and print the machine state,
per-destination progress, and timing estimates.

Examples:
  cpapsync status
  cpapsync status --format json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status server address (default: from config)")
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format (text, json)")
}

// statusBaseURL resolves the daemon address from the flag or the config.
func statusBaseURL() (string, error) {
	if statusAddr != "" {
		return "http://" + statusAddr, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Status.Listen == "" {
		return "", fmt.Errorf("status server disabled in config; pass --addr")
	}
	return "http://" + cfg.Status.Listen, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	base, err := statusBaseURL()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/status")
	if err != nil {
		return fmt.Errorf("querying daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon replied %s", resp.Status)
	}

	var st orchestrator.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	if statusFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("State:         %s (for %s)\n", st.State, (time.Duration(st.TimeInStateSec * float64(time.Second))).Round(time.Second))
	if st.AccessRemaining > 0 {
		fmt.Printf("Access left:   %s\n", (time.Duration(st.AccessRemaining * float64(time.Second))).Round(time.Second))
	}
	if st.CooldownRemaining > 0 {
		fmt.Printf("Cooldown left: %s\n", (time.Duration(st.CooldownRemaining * float64(time.Second))).Round(time.Second))
	}
	fmt.Printf("Next eligible: %s\n", st.NextEligible.Local().Format("2006-01-02 15:04"))
	fmt.Printf("Day completed: %v\n", st.DayCompleted)
	if st.LastResult != "" {
		fmt.Printf("Last session:  %s\n", st.LastResult)
	}
	fmt.Printf("Transfer rate: %s/s\n", formatSize(st.TransferRate))

	if len(st.Destinations) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DESTINATION\tDONE\tTOTAL\tEMPTY\tINCOMPLETE\tLAST SESSION")
		for _, d := range st.Destinations {
			last := "-"
			if !d.LastSession.IsZero() && d.LastSession.Unix() != 0 {
				last = d.LastSession.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
				d.Name, d.FoldersDone, d.FoldersTotal, d.FoldersEmpty, d.Incomplete, last)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
