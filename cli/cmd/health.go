// ABOUTME: Health command for the watcherctl CLI
// ABOUTME: Checks control plane connectivity and worker pool status

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openstack/watcher-sub000/cli/internal/client"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check control plane connectivity",
	Long:  `Check connectivity to the watcher control plane and report worker pool status.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		exitCode := runHealth(ctx, os.Stdout)
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// runHealth executes the health check and returns exit code
func runHealth(ctx context.Context, w io.Writer) int {
	url := GetAPIURL()
	c := client.New(url)

	resp, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	if IsJSONOutput() {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(w, string(data))
		return 0
	}

	fmt.Fprintf(w, "Control plane: %s\n", url)
	fmt.Fprintf(w, "Status:        %s\n", resp.Status)
	fmt.Fprintf(w, "Uptime:        %s\n", resp.Uptime)
	for _, p := range resp.Workers {
		fmt.Fprintf(w, "Pool %-16s size=%d active=%d submitted=%d completed=%d failed=%d\n",
			p.Name, p.Size, p.Active, p.Submitted, p.Completed, p.Failed)
	}
	return 0
}
