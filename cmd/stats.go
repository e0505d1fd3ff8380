package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cstlee/RooBench/config"
	"github.com/cstlee/RooBench/internal/render"
	"github.com/cstlee/RooBench/internal/service/analyze"
	"github.com/cstlee/RooBench/internal/snapshot"
)

var (
	statsClients []string
	statsBefore  int
	statsAfter   int
	statsFormat  string
)

var statsCmd = &cobra.Command{
	Use:   "stats <run-dir>",
	Short: "Compute the report from an existing run directory",
	Long: `Read the snapshot files of a finished run and print the cluster report
without contacting any host. Hosts are discovered from the file names. Roles
come from --clients when given, otherwise from the config file; any other
host counts as a client when it completed operations.

Example:
  roobench stats logs/2024-03-09-14-05-06 --clients server-1,server-4 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringSliceVar(&statsClients, "clients", nil, "host names that generated load")
	statsCmd.Flags().IntVar(&statsBefore, "before", 0, "snapshot index opening the window")
	statsCmd.Flags().IntVar(&statsAfter, "after", 1, "snapshot index closing the window")
	statsCmd.Flags().StringVar(&statsFormat, "format", "", "report format (table, json)")
}

func runStats(cmd *cobra.Command, args []string) error {
	// The config is optional here: it only contributes roles and defaults.
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		cfg = config.NewDefaultConfig()
		cfg.Hosts = nil
	}

	dir := args[0]
	before, after := cfg.Analysis.BeforeIndex, cfg.Analysis.AfterIndex
	if cmd.Flags().Changed("before") {
		before = statsBefore
	}
	if cmd.Flags().Changed("after") {
		after = statsAfter
	}
	if statsFormat != "" {
		cfg.Report.Format = statsFormat
	}

	var known []snapshot.Host
	if len(statsClients) == 0 {
		known = cfg.ClusterHosts()
	}
	hosts, err := analyze.DiscoverHosts(dir, after, known, statsClients)
	if err != nil {
		return err
	}

	report, err := analyze.New(analyze.Options{
		Dir:             dir,
		BeforeIndex:     before,
		AfterIndex:      after,
		LatencyCapacity: cfg.Analysis.LatencyBufferCapacity,
	}).Analyze(hosts, nil)
	if err != nil {
		return err
	}
	return render.Write(cmd.OutOrStdout(), report, cfg.Report.Format)
}
