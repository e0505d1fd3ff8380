package cmd

import (
	"context"
	"path"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

var stopRun string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate the benchmark process on every configured host",
	Long: `Send terminate to every host in the config. Without --name the most
recent run ("latest" under remote_log_base) is targeted.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopRun, "name", "latest", "run name to stop")
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	transport, err := newTransport(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	dir := path.Join(cfg.RemoteLogBase, stopRun)
	hosts := cfg.ClusterHosts()
	log := logger.WithComponent("STOP")
	log.Info("Terminating hosts", "hosts", len(hosts), "dir", dir)

	var g errgroup.Group
	for _, h := range hosts {
		h := h // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timing.CommandTimeout())
			defer cancel()
			ack, err := transport.Send(ctx, h, agent.NewCommand(agent.KindTerminate, h.Name, dir))
			if err == nil {
				err = ack.Err()
			}
			if err != nil {
				log.Error("Terminate failed", "host", h.Name, "error", err)
				return err
			}
			log.Info("Terminated", "host", h.Name)
			return nil
		})
	}
	return g.Wait()
}
