// ABOUTME: Action plan commands for the watcherctl CLI
// ABOUTME: List, inspect, launch, and cancel recommended action plans

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openstack/watcher-sub000/cli/internal/client"
)

var planAuditFilter string

var planCmd = &cobra.Command{
	Use:     "actionplan",
	Aliases: []string{"plan"},
	Short:   "Manage action plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List action plans",
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runPlanList(ctx, os.Stdout) })
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show one action plan with its actions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runPlanShow(ctx, os.Stdout, args[0]) })
	},
}

var planLaunchCmd = &cobra.Command{
	Use:   "launch <uuid>",
	Short: "Launch an action plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runPlanLaunch(ctx, os.Stdout, args[0]) })
	},
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel <uuid>",
	Short: "Cancel an action plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runPlanCancel(ctx, os.Stdout, args[0]) })
	},
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete an action plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runPlanDelete(ctx, os.Stdout, args[0]) })
	},
}

func init() {
	planListCmd.Flags().StringVar(&planAuditFilter, "audit", "", "Only plans produced by this audit UUID")
	planCmd.AddCommand(planListCmd, planShowCmd, planLaunchCmd, planCancelCmd, planDeleteCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanList(ctx context.Context, w io.Writer) int {
	c := client.New(GetAPIURL())
	plans, err := c.ListActionPlans(ctx, planAuditFilter)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, plans)
		return 0
	}
	fmt.Fprintf(w, "%-36s  %-11s  %-24s  %-9s  %s\n", "UUID", "STATE", "STRATEGY", "EFFICACY", "AUDIT")
	for _, p := range plans {
		fmt.Fprintf(w, "%-36s  %-11s  %-24s  %-9.2f  %s\n",
			p.UUID, p.State, p.StrategyName, p.GlobalEfficacy, p.AuditUUID)
	}
	return 0
}

func runPlanShow(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	detail, err := c.GetActionPlan(ctx, uuid)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, detail)
		return 0
	}
	fmt.Fprintf(w, "UUID:      %s\n", detail.UUID)
	fmt.Fprintf(w, "State:     %s\n", detail.State)
	fmt.Fprintf(w, "Strategy:  %s\n", detail.StrategyName)
	fmt.Fprintf(w, "Audit:     %s\n", detail.AuditUUID)
	if detail.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", detail.Message)
	}
	for _, ind := range detail.Indicators {
		fmt.Fprintf(w, "Indicator: %s = %.2f %s\n", ind.Name, ind.Value, ind.Unit)
	}
	fmt.Fprintln(w, "Actions:")
	for _, a := range detail.Actions {
		parents := "-"
		if len(a.Parents) > 0 {
			parents = strings.Join(a.Parents, ",")
		}
		fmt.Fprintf(w, "  %-36s  %-10s  %-26s  parents=%s\n", a.UUID, a.State, a.Type, parents)
		if a.Message != "" {
			fmt.Fprintf(w, "    %s\n", a.Message)
		}
	}
	return 0
}

func runPlanLaunch(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	if err := c.LaunchActionPlan(ctx, uuid); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Action plan %s launched\n", uuid)
	return 0
}

func runPlanCancel(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	if err := c.CancelActionPlan(ctx, uuid); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Action plan %s cancelling\n", uuid)
	return 0
}

func runPlanDelete(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	if err := c.DeleteActionPlan(ctx, uuid); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Action plan %s deleted\n", uuid)
	return 0
}
