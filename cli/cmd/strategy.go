// ABOUTME: Strategy commands for the watcherctl CLI
// ABOUTME: List strategies and show their parameter schemas

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openstack/watcher-sub000/cli/internal/client"
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Inspect available strategies",
}

var strategyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List strategies",
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runStrategyList(ctx, os.Stdout) })
	},
}

var strategyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one strategy's schema",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runStrategyShow(ctx, os.Stdout, args[0]) })
	},
}

func init() {
	strategyCmd.AddCommand(strategyListCmd, strategyShowCmd)
	rootCmd.AddCommand(strategyCmd)
}

func runStrategyList(ctx context.Context, w io.Writer) int {
	c := client.New(GetAPIURL())
	strategies, err := c.ListStrategies(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, strategies)
		return 0
	}
	fmt.Fprintf(w, "%-32s  %s\n", "NAME", "DISPLAY NAME")
	for _, s := range strategies {
		fmt.Fprintf(w, "%-32s  %s\n", s.Name, s.DisplayName)
	}
	return 0
}

func runStrategyShow(ctx context.Context, w io.Writer, name string) int {
	c := client.New(GetAPIURL())
	info, err := c.GetStrategy(ctx, name)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, info)
		return 0
	}
	fmt.Fprintf(w, "Name:         %s\n", info.Name)
	fmt.Fprintf(w, "Display name: %s\n", info.DisplayName)
	fmt.Fprintf(w, "Metrics:      %s\n", strings.Join(info.RequiredMetrics, ", "))
	if len(info.DatasourcePreference) > 0 {
		fmt.Fprintf(w, "Datasources:  %s\n", strings.Join(info.DatasourcePreference, ", "))
	}
	if len(info.Parameters) > 0 {
		fmt.Fprintln(w, "Parameters:")
		names := make([]string, 0, len(info.Parameters))
		for name := range info.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := info.Parameters[name]
			fmt.Fprintf(w, "  %-20s  %-8s  %s\n", name, p.Type, p.Description)
		}
	}
	return 0
}
