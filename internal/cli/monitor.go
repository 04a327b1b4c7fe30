package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Control the daemon's manual monitoring hold",
	Long: `Park the daemon in the monitoring state for bus calibration. A running
upload session finishes its current file and the mandatory files first.`,
}

var monitorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Request the monitoring hold",
	RunE:  func(cmd *cobra.Command, args []string) error { return postMonitor("start") },
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Release the monitoring hold",
	RunE:  func(cmd *cobra.Command, args []string) error { return postMonitor("stop") },
}

func init() {
	monitorCmd.PersistentFlags().StringVar(&statusAddr, "addr", "", "status server address (default: from config)")
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
}

func postMonitor(action string) error {
	base, err := statusBaseURL()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(base+"/monitor/"+action, "application/json", nil)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon replied %s", resp.Status)
	}

	fmt.Printf("monitoring %s requested\n", action)
	return nil
}
