// ABOUTME: Data model command for the watcherctl CLI
// ABOUTME: Dumps the control plane's current cluster data model snapshot

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openstack/watcher-sub000/cli/internal/client"
)

var dataModelType string

var dataModelCmd = &cobra.Command{
	Use:   "datamodel",
	Short: "Show the current cluster data model",
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runDataModel(ctx, os.Stdout) })
	},
}

func init() {
	dataModelCmd.Flags().StringVar(&dataModelType, "type", "", "Model type (compute or storage, default compute)")
	rootCmd.AddCommand(dataModelCmd)
}

func runDataModel(ctx context.Context, w io.Writer) int {
	c := client.New(GetAPIURL())
	raw, err := c.GetDataModel(ctx, dataModelType)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	// The snapshot shape depends on the model type, so it is always
	// rendered as JSON.
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintf(w, "Error: invalid snapshot: %v\n", err)
		return 2
	}
	printJSON(w, pretty)
	return 0
}
