package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

const (
	TransportSSH  string = "ssh"
	TransportHTTP string = "http"
	TransportMQTT string = "mqtt"
)

const (
	FormatTable string = "table"
	FormatJSON  string = "json"
)

// Config holds the entire configuration from the YAML file.
type Config struct {
	RunName       string         `yaml:"run_name" json:"run_name"`
	LocalLogDir   string         `yaml:"local_log_dir" json:"local_log_dir"`
	RemoteLogBase string         `yaml:"remote_log_base" json:"remote_log_base"`
	Hosts         []HostConfig   `yaml:"hosts" json:"hosts"`
	Agent         AgentConfig    `yaml:"agent" json:"agent"`
	SSH           SSHConfig      `yaml:"ssh" json:"ssh"`
	HTTP          HTTPConfig     `yaml:"http" json:"http"`
	MQTT          MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Timing        TimingConfig   `yaml:"timing" json:"timing"`
	Analysis      AnalysisConfig `yaml:"analysis" json:"analysis"`
	Report        Report         `yaml:"report" json:"report"`
	Log           LogConfig      `yaml:"log" json:"log"`
	Metrics       MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// HostConfig is one cluster member. Name defaults to server-<n> and address
// to the name.
type HostConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Role    string `yaml:"role" json:"role"`
}

// AgentConfig describes the benchmark binary and how to reach its agent.
type AgentConfig struct {
	Transport   string `yaml:"transport" json:"transport"`
	Binary      string `yaml:"binary" json:"binary"`
	BenchType   string `yaml:"bench_type" json:"bench_type"`
	Threads     int    `yaml:"threads" json:"threads"`
	BenchConfig string `yaml:"bench_config" json:"bench_config"`
	// RemoteCLI is the path of this tool on the hosts, invoked over SSH.
	RemoteCLI string `yaml:"remote_cli" json:"remote_cli"`
	Sudo      bool   `yaml:"sudo" json:"sudo"`
}

type SSHConfig struct {
	User       string `yaml:"user" json:"user"`
	PrivateKey string `yaml:"private_key" json:"private_key"`
	// DispatchRate caps new ssh sessions per second across all hosts.
	DispatchRate  float64 `yaml:"dispatch_rate" json:"dispatch_rate"`
	DispatchBurst int     `yaml:"dispatch_burst" json:"dispatch_burst"`
}

type HTTPConfig struct {
	Port   int    `yaml:"port" json:"port"`
	Scheme string `yaml:"scheme" json:"scheme"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker" json:"broker"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         int    `yaml:"qos" json:"qos"`
	// FileTransport moves directories and snapshot files while commands go
	// over the broker: "ssh" or "http".
	FileTransport string `yaml:"file_transport" json:"file_transport"`
}

// TimingConfig holds the per-command deadline and the pauses between phases.
// Warmup is waited after launch, Measure after begin and Settle between the
// two closing snapshot passes.
type TimingConfig struct {
	CommandTimeoutSeconds   int `yaml:"command_timeout_seconds" json:"command_timeout_seconds"`
	WarmupSeconds           int `yaml:"warmup_seconds" json:"warmup_seconds"`
	MeasureSeconds          int `yaml:"measure_seconds" json:"measure_seconds"`
	SettleSeconds           int `yaml:"settle_seconds" json:"settle_seconds"`
	SnapshotRetrySeconds    int `yaml:"snapshot_retry_seconds" json:"snapshot_retry_seconds"`
	SnapshotRetryIntervalMs int `yaml:"snapshot_retry_interval_ms" json:"snapshot_retry_interval_ms"`
	Parallelism             int `yaml:"parallelism" json:"parallelism"`
}

type AnalysisConfig struct {
	LatencyBufferCapacity uint64 `yaml:"latency_buffer_capacity" json:"latency_buffer_capacity"`
	BeforeIndex           int    `yaml:"before_index" json:"before_index"`
	AfterIndex            int    `yaml:"after_index" json:"after_index"`
}

type Report struct {
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type MetricsConfig struct {
	// Listen serves /metrics during a run when set, e.g. ":9102".
	Listen string `yaml:"listen" json:"listen"`
}

func (t TimingConfig) CommandTimeout() time.Duration {
	return time.Duration(t.CommandTimeoutSeconds) * time.Second
}

func (t TimingConfig) Warmup() time.Duration {
	return time.Duration(t.WarmupSeconds) * time.Second
}

func (t TimingConfig) Measure() time.Duration {
	return time.Duration(t.MeasureSeconds) * time.Second
}

func (t TimingConfig) Settle() time.Duration {
	return time.Duration(t.SettleSeconds) * time.Second
}

func (t TimingConfig) SnapshotRetry() time.Duration {
	return time.Duration(t.SnapshotRetrySeconds) * time.Second
}

func (t TimingConfig) SnapshotRetryInterval() time.Duration {
	return time.Duration(t.SnapshotRetryIntervalMs) * time.Millisecond
}

// ClusterHosts resolves the host list with ids assigned in config order.
func (c *Config) ClusterHosts() []snapshot.Host {
	hosts := make([]snapshot.Host, 0, len(c.Hosts))
	for i, h := range c.Hosts {
		id := i + 1
		name := h.Name
		if name == "" {
			name = fmt.Sprintf("server-%d", id)
		}
		addr := h.Address
		if addr == "" {
			addr = name
		}
		hosts = append(hosts, snapshot.Host{ID: id, Name: name, Address: addr, Role: snapshot.Role(h.Role)})
	}
	return hosts
}

// RemoteRunDir is the per-run log directory on every host.
func (c *Config) RemoteRunDir() string {
	return path.Join(c.RemoteLogBase, c.RunName)
}

// LocalRunDir is where the coordinator stores collected files.
func (c *Config) LocalRunDir() string {
	return filepath.Join(c.LocalLogDir, c.RunName)
}

// EnsureRunName sets a timestamped run name when none is configured.
func (c *Config) EnsureRunName(now time.Time) {
	if c.RunName == "" {
		c.RunName = now.Format("2006-01-02-15-04-05")
	}
}

func LoadConfig(filePath string) (*Config, error) {
	var cfg Config
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}
	err = yaml.Unmarshal(yamlFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML content from '%s': %w", filePath, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// SaveConfig writes cfg as YAML to filePath.
func SaveConfig(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory '%s': %w", dir, err)
		}
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file '%s': %w", filePath, err)
	}
	return nil
}

// EnsureConfigFile creates a default config at filePath if none exists and
// reports whether it did.
func EnsureConfigFile(filePath string) (bool, error) {
	if _, err := os.Stat(filePath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file '%s': %w", filePath, err)
	}
	if err := SaveConfig(filePath, NewDefaultConfig()); err != nil {
		return false, err
	}
	return true, nil
}

// NewDefaultConfig creates a new config with default values
func NewDefaultConfig() *Config {
	cfg := &Config{
		Hosts: []HostConfig{
			{Name: "server-1", Address: "node1", Role: string(snapshot.RoleClient)},
			{Name: "server-2", Address: "node2", Role: string(snapshot.RoleServer)},
			{Name: "server-3", Address: "node3", Role: string(snapshot.RoleServer)},
		},
		Agent: AgentConfig{
			Binary:      "/shome/RooBench/bin/server",
			BenchType:   "DPC",
			Threads:     1,
			BenchConfig: "/shome/RooConfig/BenchConfig.json",
			Sudo:        true,
		},
		Report: Report{Format: FormatTable},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults applies default values to missing fields in the config
func (c *Config) ApplyDefaults() {
	if c.LocalLogDir == "" {
		c.LocalLogDir = "./logs"
	}
	if c.RemoteLogBase == "" {
		c.RemoteLogBase = "~/logs"
	}
	if c.Agent.Transport == "" {
		c.Agent.Transport = TransportSSH
	}
	if c.Agent.BenchType == "" {
		c.Agent.BenchType = "DPC"
	}
	if c.Agent.Threads == 0 {
		c.Agent.Threads = 1
	}
	if c.Agent.RemoteCLI == "" {
		c.Agent.RemoteCLI = "roobench"
	}
	// SSH defaults
	if c.SSH.PrivateKey == "" {
		c.SSH.PrivateKey = "~/.ssh/id_rsa"
	}
	if c.SSH.DispatchRate == 0 {
		c.SSH.DispatchRate = 20
	}
	if c.SSH.DispatchBurst == 0 {
		c.SSH.DispatchBurst = 10
	}
	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 7070
	}
	if c.HTTP.Scheme == "" {
		c.HTTP.Scheme = "http"
	}
	// MQTT defaults
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "roobench"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.FileTransport == "" {
		c.MQTT.FileTransport = TransportSSH
	}
	if c.Timing.CommandTimeoutSeconds == 0 {
		c.Timing.CommandTimeoutSeconds = 30
	}
	if c.Timing.WarmupSeconds == 0 {
		c.Timing.WarmupSeconds = 1
	}
	if c.Timing.MeasureSeconds == 0 {
		c.Timing.MeasureSeconds = 30
	}
	if c.Timing.SettleSeconds == 0 {
		c.Timing.SettleSeconds = 1
	}
	if c.Timing.SnapshotRetrySeconds == 0 {
		c.Timing.SnapshotRetrySeconds = 10
	}
	if c.Timing.SnapshotRetryIntervalMs == 0 {
		c.Timing.SnapshotRetryIntervalMs = 200
	}
	// Analysis defaults
	if c.Analysis.LatencyBufferCapacity == 0 {
		c.Analysis.LatencyBufferCapacity = 1 << 20
	}
	if c.Analysis.AfterIndex == 0 && c.Analysis.BeforeIndex == 0 {
		c.Analysis.AfterIndex = 1
	}
	// Report defaults
	if c.Report.Format == "" {
		c.Report.Format = FormatTable
	}
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects configurations the coordinator cannot run.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return faults.New(faults.InvalidConfig, "no hosts configured")
	}
	seen := make(map[string]bool)
	clients := 0
	for _, h := range c.ClusterHosts() {
		if !h.Role.Valid() {
			return faults.New(faults.InvalidConfig, "host %s has role %q, want client or server", h.Name, h.Role).ForHost(h.Name)
		}
		if seen[h.Name] {
			return faults.New(faults.InvalidConfig, "duplicate host name %s", h.Name).ForHost(h.Name)
		}
		seen[h.Name] = true
		if h.IsClient() {
			clients++
		}
	}
	if clients == 0 {
		return faults.New(faults.InvalidConfig, "at least one host must have role client")
	}
	switch c.Agent.Transport {
	case TransportSSH, TransportHTTP:
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return faults.New(faults.InvalidConfig, "mqtt transport needs mqtt.broker")
		}
		if c.MQTT.FileTransport != TransportSSH && c.MQTT.FileTransport != TransportHTTP {
			return faults.New(faults.InvalidConfig, "mqtt.file_transport must be ssh or http, got %q", c.MQTT.FileTransport)
		}
	default:
		return faults.New(faults.InvalidConfig, "unknown agent transport %q", c.Agent.Transport)
	}
	if c.Agent.Binary == "" {
		return faults.New(faults.InvalidConfig, "agent.binary is required")
	}
	if c.Analysis.AfterIndex <= c.Analysis.BeforeIndex {
		return faults.New(faults.InvalidConfig, "analysis.after_index (%d) must exceed before_index (%d)",
			c.Analysis.AfterIndex, c.Analysis.BeforeIndex)
	}
	if c.Report.Format != FormatTable && c.Report.Format != FormatJSON {
		return faults.New(faults.InvalidConfig, "report.format must be table or json, got %q", c.Report.Format)
	}
	return nil
}
