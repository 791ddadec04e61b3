// ABOUTME: Audit commands for the watcherctl CLI
// ABOUTME: Create, trigger, list, and show optimization audits

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openstack/watcher-sub000/cli/internal/client"
	"github.com/openstack/watcher-sub000/models"
)

var (
	auditName        string
	auditType        string
	auditStrategy    string
	auditParams      []string
	auditAggregates  []string
	auditZones       []string
	auditInterval    int
	auditAutoTrigger bool
	auditTriggerNow  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Manage optimization audits",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audits",
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runAuditList(ctx, os.Stdout) })
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show one audit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runAuditShow(ctx, os.Stdout, args[0]) })
	},
}

var auditCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an audit",
	Long: `Create an audit for the given strategy. Parameters are passed as
repeatable key=value pairs; numeric values are converted automatically.

Example:
  watcherctl audit create --strategy basic_consolidation \
      --param threshold=0.6 --aggregate general --trigger`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runAuditCreate(ctx, os.Stdout) })
	},
}

var auditTriggerCmd = &cobra.Command{
	Use:   "trigger <uuid>",
	Short: "Trigger an existing audit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runAuditTrigger(ctx, os.Stdout, args[0]) })
	},
}

var auditDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete an audit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runAuditDelete(ctx, os.Stdout, args[0]) })
	},
}

func init() {
	auditCreateCmd.Flags().StringVar(&auditName, "name", "", "Audit name")
	auditCreateCmd.Flags().StringVar(&auditType, "type", "oneshot", "Audit type (oneshot or continuous)")
	auditCreateCmd.Flags().StringVar(&auditStrategy, "strategy", "", "Strategy name (required)")
	auditCreateCmd.Flags().StringArrayVar(&auditParams, "param", nil, "Strategy parameter as key=value (repeatable)")
	auditCreateCmd.Flags().StringArrayVar(&auditAggregates, "aggregate", nil, "Scope to a host aggregate (repeatable, * for any)")
	auditCreateCmd.Flags().StringArrayVar(&auditZones, "zone", nil, "Scope to an availability zone (repeatable, * for any)")
	auditCreateCmd.Flags().IntVar(&auditInterval, "interval", 0, "Re-run interval in seconds (continuous audits)")
	auditCreateCmd.Flags().BoolVar(&auditAutoTrigger, "auto-trigger", false, "Launch the recommended plan automatically")
	auditCreateCmd.Flags().BoolVar(&auditTriggerNow, "trigger", false, "Trigger the audit immediately after creation")
	auditCreateCmd.MarkFlagRequired("strategy")

	auditCmd.AddCommand(auditListCmd, auditShowCmd, auditCreateCmd, auditTriggerCmd, auditDeleteCmd)
	rootCmd.AddCommand(auditCmd)
}

// runWithSignals runs fn under a SIGINT/SIGTERM-cancelled context and
// exits the process with fn's code when non-zero.
func runWithSignals(fn func(ctx context.Context) int) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if code := fn(ctx); code != 0 {
		os.Exit(code)
	}
}

func runAuditList(ctx context.Context, w io.Writer) int {
	c := client.New(GetAPIURL())
	audits, err := c.ListAudits(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, audits)
		return 0
	}
	fmt.Fprintf(w, "%-36s  %-10s  %-24s  %-9s  %s\n", "UUID", "STATE", "STRATEGY", "TYPE", "NAME")
	for _, a := range audits {
		fmt.Fprintf(w, "%-36s  %-10s  %-24s  %-9s  %s\n", a.UUID, a.State, a.StrategyName, a.Type, a.Name)
	}
	return 0
}

func runAuditShow(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	audit, err := c.GetAudit(ctx, uuid)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, audit)
		return 0
	}
	fmt.Fprintf(w, "UUID:      %s\n", audit.UUID)
	fmt.Fprintf(w, "Name:      %s\n", audit.Name)
	fmt.Fprintf(w, "Type:      %s\n", audit.Type)
	fmt.Fprintf(w, "State:     %s\n", audit.State)
	fmt.Fprintf(w, "Strategy:  %s\n", audit.StrategyName)
	if len(audit.Parameters) > 0 {
		fmt.Fprintf(w, "Params:    %v\n", audit.Parameters)
	}
	if audit.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", audit.Message)
	}
	if !audit.LastRunAt.IsZero() {
		fmt.Fprintf(w, "Last run:  %s\n", audit.LastRunAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runAuditCreate(ctx context.Context, w io.Writer) int {
	params, err := parseParams(auditParams)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	c := client.New(GetAPIURL())
	audit, err := c.CreateAudit(ctx, &client.CreateAuditInput{
		Name:       auditName,
		Type:       models.AuditType(auditType),
		Strategy:   auditStrategy,
		Parameters: params,
		Scope: models.AuditScope{
			HostAggregates:    auditAggregates,
			AvailabilityZones: auditZones,
		},
		IntervalSeconds: auditInterval,
		AutoTrigger:     auditAutoTrigger,
		Trigger:         auditTriggerNow,
	})
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if IsJSONOutput() {
		printJSON(w, audit)
		return 0
	}
	fmt.Fprintf(w, "Audit %s created (%s)\n", audit.UUID, audit.State)
	return 0
}

func runAuditTrigger(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	if err := c.TriggerAudit(ctx, uuid); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Audit %s triggered\n", uuid)
	return 0
}

func runAuditDelete(ctx context.Context, w io.Writer, uuid string) int {
	c := client.New(GetAPIURL())
	if err := c.DeleteAudit(ctx, uuid); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Audit %s deleted\n", uuid)
	return 0
}

// parseParams converts key=value pairs, preferring numeric and boolean
// interpretations so strategies receive typed values.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			params[key] = typed
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}
