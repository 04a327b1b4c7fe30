package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jgalley/cpapsync/internal/config"
	"github.com/jgalley/cpapsync/internal/history"
	"github.com/spf13/cobra"
)

var (
	historyDest   string
	historyDays   int
	historySince  string
	historyResult string
	historyFormat string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query past upload sessions",
	Long: `Query the session history recorded by the daemon.

Examples:
  cpapsync history
  cpapsync history --destination nas --days 7
  cpapsync history --result timeout
  cpapsync history --format json`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDest, "destination", "", "filter by destination name")
	historyCmd.Flags().IntVar(&historyDays, "days", 0, "show sessions from the last N days")
	historyCmd.Flags().StringVar(&historySince, "since", "", "show sessions since date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyResult, "result", "", "filter by result (complete, partial, timeout, error, nothing-to-do)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "output format (text, json)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of sessions to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	opts := history.QueryOptions{
		Destination: historyDest,
		Result:      historyResult,
		Limit:       historyLimit,
	}

	if historyDays > 0 {
		since := time.Now().AddDate(0, 0, -historyDays)
		opts.Since = &since
	} else if historySince != "" {
		since, err := time.Parse("2006-01-02", historySince)
		if err != nil {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}
		opts.Since = &since
	}

	sessions, err := store.QuerySessions(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	switch historyFormat {
	case "json":
		return outputHistoryJSON(sessions)
	default:
		return outputHistoryText(sessions)
	}
}

func outputHistoryText(sessions []history.Session) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDESTINATION\tRESULT\tFOLDERS\tFILES\tBYTES\tDURATION")
	fmt.Fprintln(w, "-------\t-----------\t------\t-------\t-----\t-----\t--------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Destination,
			s.Result,
			s.FoldersDone, s.FoldersTotal,
			s.Files,
			formatSize(s.Bytes),
			s.CompletedAt.Sub(s.StartedAt).Round(time.Second),
		)
	}
	return w.Flush()
}

type historyJSONRecord struct {
	Started      string `json:"started"`
	Completed    string `json:"completed"`
	Destination  string `json:"destination"`
	Result       string `json:"result"`
	FoldersDone  int    `json:"folders_done"`
	FoldersTotal int    `json:"folders_total"`
	FoldersEmpty int    `json:"folders_empty"`
	Files        int    `json:"files"`
	Bytes        int64  `json:"bytes"`
	BytesHuman   string `json:"bytes_human"`
}

func outputHistoryJSON(sessions []history.Session) error {
	records := make([]historyJSONRecord, len(sessions))
	for i, s := range sessions {
		records[i] = historyJSONRecord{
			Started:      s.StartedAt.Format(time.RFC3339),
			Completed:    s.CompletedAt.Format(time.RFC3339),
			Destination:  s.Destination,
			Result:       s.Result,
			FoldersDone:  s.FoldersDone,
			FoldersTotal: s.FoldersTotal,
			FoldersEmpty: s.FoldersEmpty,
			Files:        s.Files,
			Bytes:        s.Bytes,
			BytesHuman:   formatSize(s.Bytes),
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	switch {
	case bytes >= TiB:
		return fmt.Sprintf("%.2f TiB", float64(bytes)/float64(TiB))
	case bytes >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
