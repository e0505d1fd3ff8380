package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/agentd"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/server"
)

var agentFlags struct {
	host            string
	dir             string
	id              string
	binary          string
	benchType       string
	role            string
	threads         int
	benchConfig     string
	snapshotTimeout time.Duration
}

var serveFlags struct {
	port       int
	noHTTP     bool
	broker     string
	prefix     string
	qos        int
	clientName string
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Host-side agent that drives the local benchmark process",
	Long: `Commands run on each cluster host. The coordinator calls the one-shot
subcommands over ssh, or talks to "agent serve" over HTTP or MQTT.

Every one-shot subcommand prints its JSON acknowledgment as the last line of
stdout and exits non-zero when the command was rejected.`,
}

var agentServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent commands over HTTP and/or MQTT",
	Long: `Run the agent daemon. The HTTP API listens on --port unless --no-http is
set; with --mqtt-broker the agent also answers commands published for --host.

Example:
  roobench agent serve --port 7070
  roobench agent serve --no-http --host server-2 --mqtt-broker tcp://broker:1883`,
	RunE: runAgentServe,
}

func init() {
	agentCmd.PersistentFlags().DurationVar(&agentFlags.snapshotTimeout, "snapshot-timeout", agentd.DefaultSnapshotTimeout, "time to wait for snapshot files")

	for _, kind := range agent.Kinds() {
		agentCmd.AddCommand(newAgentCommand(kind))
	}

	agentServeCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 7070, "HTTP API port")
	agentServeCmd.Flags().BoolVar(&serveFlags.noHTTP, "no-http", false, "disable the HTTP API")
	agentServeCmd.Flags().StringVar(&serveFlags.clientName, "host", "", "this host's cluster name (required for MQTT)")
	agentServeCmd.Flags().StringVar(&serveFlags.broker, "mqtt-broker", "", "MQTT broker URL")
	agentServeCmd.Flags().StringVar(&serveFlags.prefix, "mqtt-prefix", "roobench", "MQTT topic prefix")
	agentServeCmd.Flags().IntVar(&serveFlags.qos, "mqtt-qos", 1, "MQTT quality of service")
	agentCmd.AddCommand(agentServeCmd)
}

func newAgentCommand(kind agent.Kind) *cobra.Command {
	c := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Execute %s against the local benchmark process", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentCommand(cmd, kind)
		},
	}
	c.Flags().StringVar(&agentFlags.host, "host", "", "cluster host name")
	c.Flags().StringVar(&agentFlags.dir, "dir", "", "run log directory")
	c.Flags().StringVar(&agentFlags.id, "id", "", "command correlation id")
	_ = c.MarkFlagRequired("host")
	_ = c.MarkFlagRequired("dir")
	if kind == agent.KindLaunch {
		c.Flags().StringVar(&agentFlags.binary, "binary", "", "benchmark binary")
		c.Flags().StringVar(&agentFlags.benchType, "bench-type", "DPC", "benchmark type")
		c.Flags().StringVar(&agentFlags.role, "role", string(snapshot.RoleServer), "host role (client, server)")
		c.Flags().IntVar(&agentFlags.threads, "threads", 1, "worker threads")
		c.Flags().StringVar(&agentFlags.benchConfig, "bench-config", "", "benchmark config file")
		_ = c.MarkFlagRequired("binary")
	}
	return c
}

func runAgentCommand(cmd *cobra.Command, kind agent.Kind) error {
	command := agent.Command{
		ID:     agentFlags.id,
		Kind:   kind,
		Host:   agentFlags.host,
		LogDir: agentFlags.dir,
	}
	if kind == agent.KindLaunch {
		command.Launch = &agent.LaunchSpec{
			Binary:      agentFlags.binary,
			BenchType:   agentFlags.benchType,
			Role:        snapshot.Role(agentFlags.role),
			Threads:     agentFlags.threads,
			BenchConfig: agentFlags.benchConfig,
		}
	}

	ctrl := agentd.NewController(agentd.Options{SnapshotTimeout: agentFlags.snapshotTimeout})
	ack := ctrl.Handle(cmd.Context(), command)

	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	if !ack.OK {
		return errors.New(ack.Message)
	}
	return nil
}

func runAgentServe(cmd *cobra.Command, args []string) error {
	if serveFlags.noHTTP && serveFlags.broker == "" {
		return errors.New("nothing to serve: --no-http without --mqtt-broker")
	}
	if serveFlags.broker != "" && serveFlags.clientName == "" {
		return errors.New("--host is required with --mqtt-broker")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := agentd.NewController(agentd.Options{SnapshotTimeout: agentFlags.snapshotTimeout})
	g, ctx := errgroup.WithContext(ctx)

	if !serveFlags.noHTTP {
		srv := server.NewServer(serveFlags.port, ctrl)
		g.Go(func() error { return srv.Run(ctx) })
	}
	if serveFlags.broker != "" {
		client, err := agent.DialMQTT(serveFlags.broker, "roobench-agent-"+serveFlags.clientName, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		g.Go(func() error {
			return agentd.ServeMQTT(ctx, client, serveFlags.prefix, serveFlags.clientName, byte(serveFlags.qos), ctrl)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
