package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/internal/tools"
	sshtools "github.com/cstlee/RooBench/pkg/tools"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

type SSHOptions struct {
	User       string
	PrivateKey string
	// RemoteCLI is this program's path on the hosts.
	RemoteCLI string
	Sudo      bool
	// Rate and Burst pace new ssh sessions across all hosts.
	Rate  float64
	Burst int
}

// SSHTransport runs "roobench agent <cmd>" on each host over ssh and reads
// the JSON acknowledgment it prints. Files are collected with scp.
type SSHTransport struct {
	opts    SSHOptions
	limiter *rate.Limiter
	logger  *slog.Logger
	exec    func(cmd *exec.Cmd) (stdout, stderr []byte, err error)
}

func NewSSHTransport(opts SSHOptions) *SSHTransport {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if opts.RemoteCLI == "" {
		opts.RemoteCLI = "roobench"
	}
	return &SSHTransport{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.WithComponent("SSH"),
		exec:    runCommand,
	}
}

func runCommand(cmd *exec.Cmd) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (t *SSHTransport) run(ctx context.Context, host snapshot.Host, cmd *exec.Cmd) ([]byte, []byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	t.logger.Debug("Executing", "host", host.Name, "cmd", strings.Join(cmd.Args, " "))
	return t.exec(cmd)
}

func (t *SSHTransport) Provision(ctx context.Context, host snapshot.Host, dir string) error {
	remote := tools.ProvisionCommand(dir, path.Dir(dir))
	_, stderr, err := t.run(ctx, host, sshtools.BuildSSHCommand(ctx, host.Address, remote, t.opts.PrivateKey, t.opts.User))
	if err != nil {
		return deliveryError(ctx, host, err, "provision %s: %s", dir, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// AgentCommandLine renders cmd as the remote agent invocation.
func (t *SSHTransport) AgentCommandLine(cmd Command) string {
	b := tools.NewAgentCommand(t.opts.RemoteCLI, string(cmd.Kind)).
		Sudo(t.opts.Sudo).
		Flag("host", cmd.Host).
		Flag("dir", cmd.LogDir).
		Flag("id", cmd.ID)
	if cmd.Launch != nil {
		b.Flag("binary", cmd.Launch.Binary).
			Flag("bench-type", cmd.Launch.BenchType).
			Flag("role", string(cmd.Launch.Role)).
			IntFlag("threads", cmd.Launch.Threads).
			Flag("bench-config", cmd.Launch.BenchConfig)
	}
	return b.Build()
}

func (t *SSHTransport) Send(ctx context.Context, host snapshot.Host, cmd Command) (Ack, error) {
	if err := checkCommand(host, cmd); err != nil {
		return Ack{}, err
	}
	remote := t.AgentCommandLine(cmd)
	stdout, stderr, err := t.run(ctx, host, sshtools.BuildSSHCommand(ctx, host.Address, remote, t.opts.PrivateKey, t.opts.User))

	// The agent exits non-zero on a negative ack but still prints it.
	if ack, perr := ParseAck(stdout); perr == nil {
		return fillAck(ack, host, cmd), nil
	}
	if err != nil {
		return Ack{}, deliveryError(ctx, host, err, "%s: %s", describe(host, cmd), strings.TrimSpace(string(stderr)))
	}
	return Ack{}, faults.New(faults.Connectivity, "%s: no acknowledgment in agent output", describe(host, cmd)).ForHost(host.Name)
}

func (t *SSHTransport) Collect(ctx context.Context, host snapshot.Host, remoteDir, localDir string) ([]string, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local directory '%s': %w", localDir, err)
	}
	pattern := path.Join(remoteDir, host.Name+"[._]*")
	_, stderr, err := t.run(ctx, host, sshtools.BuildSCPCommand(ctx, host.Address, pattern, localDir, t.opts.PrivateKey, t.opts.User))
	if err != nil {
		return nil, deliveryError(ctx, host, err, "scp %s: %s", pattern, strings.TrimSpace(string(stderr)))
	}
	files, err := filepath.Glob(filepath.Join(localDir, host.Name+"[._]*"))
	if err != nil {
		return nil, err
	}
	t.logger.Info("Collected files", "host", host.Name, "count", len(files))
	return files, nil
}

func (t *SSHTransport) Close() error { return nil }

// ParseAck decodes the last non-empty line of out as an Ack.
func ParseAck(out []byte) (Ack, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return Ack{}, errors.New("empty agent output")
	}
	var ack Ack
	if err := json.Unmarshal(last, &ack); err != nil {
		return Ack{}, fmt.Errorf("failed to decode ack: %w", err)
	}
	if ack.Kind == "" {
		return Ack{}, errors.New("ack has no command kind")
	}
	return ack, nil
}

func fillAck(ack Ack, host snapshot.Host, cmd Command) Ack {
	if ack.ID == "" {
		ack.ID = cmd.ID
	}
	if ack.Host == "" {
		ack.Host = host.Name
	}
	return ack
}
