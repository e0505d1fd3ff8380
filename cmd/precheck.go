package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cstlee/RooBench/internal/render"
	"github.com/cstlee/RooBench/internal/service/precheck"
)

var precheckFormat string

var precheckCmd = &cobra.Command{
	Use:   "precheck",
	Short: "Check that every host is reachable and its agent answers",
	Long: `Provision a scratch directory on every configured host and send the agent a
terminate command. Exits non-zero when any host fails.`,
	RunE: runPrecheck,
}

func init() {
	precheckCmd.Flags().StringVar(&precheckFormat, "format", render.FormatTable, "output format (table, json)")
}

func runPrecheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	transport, err := newTransport(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	checker := precheck.New(transport, cfg.RemoteLogBase, cfg.Timing.CommandTimeout())
	results := checker.Check(cmd.Context(), cfg.ClusterHosts())

	out := cmd.OutOrStdout()
	switch precheckFormat {
	case render.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	case render.FormatTable:
		precheck.Table(out, results)
	default:
		return fmt.Errorf("unknown format %q", precheckFormat)
	}

	if failed := precheck.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d hosts failed precheck", len(failed), len(results))
	}
	return nil
}
