package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(t *testing.T, c Config)
	}{
		{
			name:  "empty config should get all defaults",
			input: Config{},
			check: func(t *testing.T, c Config) {
				if c.Agent.Transport != TransportSSH {
					t.Errorf("Agent.Transport = %q, want %q", c.Agent.Transport, TransportSSH)
				}
				if c.Timing.CommandTimeoutSeconds != 30 {
					t.Errorf("CommandTimeoutSeconds = %d, want 30", c.Timing.CommandTimeoutSeconds)
				}
				if c.Timing.MeasureSeconds != 30 {
					t.Errorf("MeasureSeconds = %d, want 30", c.Timing.MeasureSeconds)
				}
				if c.Analysis.LatencyBufferCapacity != 1<<20 {
					t.Errorf("LatencyBufferCapacity = %d, want %d", c.Analysis.LatencyBufferCapacity, 1<<20)
				}
				if c.Analysis.BeforeIndex != 0 || c.Analysis.AfterIndex != 1 {
					t.Errorf("analysis indices = %d/%d, want 0/1", c.Analysis.BeforeIndex, c.Analysis.AfterIndex)
				}
				if c.Report.Format != FormatTable {
					t.Errorf("Report.Format = %q, want %q", c.Report.Format, FormatTable)
				}
				if c.RemoteLogBase != "~/logs" {
					t.Errorf("RemoteLogBase = %q, want ~/logs", c.RemoteLogBase)
				}
			},
		},
		{
			name: "partial config should only fill missing fields",
			input: Config{
				Agent:    AgentConfig{Transport: TransportHTTP, Threads: 4},
				Timing:   TimingConfig{MeasureSeconds: 5},
				Analysis: AnalysisConfig{BeforeIndex: 1, AfterIndex: 2},
			},
			check: func(t *testing.T, c Config) {
				if c.Agent.Transport != TransportHTTP {
					t.Errorf("Agent.Transport = %q, want user value", c.Agent.Transport)
				}
				if c.Agent.Threads != 4 {
					t.Errorf("Agent.Threads = %d, want 4", c.Agent.Threads)
				}
				if c.Timing.MeasureSeconds != 5 {
					t.Errorf("MeasureSeconds = %d, want 5", c.Timing.MeasureSeconds)
				}
				if c.Timing.WarmupSeconds != 1 {
					t.Errorf("WarmupSeconds = %d, want default 1", c.Timing.WarmupSeconds)
				}
				if c.Analysis.BeforeIndex != 1 || c.Analysis.AfterIndex != 2 {
					t.Errorf("analysis indices = %d/%d, want 1/2", c.Analysis.BeforeIndex, c.Analysis.AfterIndex)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			cfg.ApplyDefaults()
			tt.check(t, cfg)
		})
	}
}

func TestTimingDurations(t *testing.T) {
	tm := TimingConfig{CommandTimeoutSeconds: 3, WarmupSeconds: 2, SnapshotRetryIntervalMs: 50}
	if tm.CommandTimeout() != 3*time.Second {
		t.Errorf("CommandTimeout() = %v", tm.CommandTimeout())
	}
	if tm.Warmup() != 2*time.Second {
		t.Errorf("Warmup() = %v", tm.Warmup())
	}
	if tm.SnapshotRetryInterval() != 50*time.Millisecond {
		t.Errorf("SnapshotRetryInterval() = %v", tm.SnapshotRetryInterval())
	}
}

func TestClusterHosts(t *testing.T) {
	cfg := Config{Hosts: []HostConfig{
		{Name: "alpha", Address: "10.0.0.1", Role: "client"},
		{Role: "server"},
	}}
	hosts := cfg.ClusterHosts()
	if len(hosts) != 2 {
		t.Fatalf("got %d hosts, want 2", len(hosts))
	}
	want := []snapshot.Host{
		{ID: 1, Name: "alpha", Address: "10.0.0.1", Role: snapshot.RoleClient},
		{ID: 2, Name: "server-2", Address: "server-2", Role: snapshot.RoleServer},
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("hosts[%d] = %+v, want %+v", i, hosts[i], want[i])
		}
	}
}

func TestRunDirs(t *testing.T) {
	cfg := Config{LocalLogDir: "out", RemoteLogBase: "~/logs"}
	cfg.EnsureRunName(time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC))
	if cfg.RunName != "2024-03-09-14-05-06" {
		t.Errorf("RunName = %q", cfg.RunName)
	}
	if cfg.RemoteRunDir() != "~/logs/2024-03-09-14-05-06" {
		t.Errorf("RemoteRunDir() = %q", cfg.RemoteRunDir())
	}
	if cfg.LocalRunDir() != filepath.Join("out", "2024-03-09-14-05-06") {
		t.Errorf("LocalRunDir() = %q", cfg.LocalRunDir())
	}

	cfg.EnsureRunName(time.Now())
	if cfg.RunName != "2024-03-09-14-05-06" {
		t.Errorf("EnsureRunName overwrote an existing name: %q", cfg.RunName)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(c *Config) {}},
		{name: "no hosts", mutate: func(c *Config) { c.Hosts = nil }, wantErr: true},
		{name: "no client", mutate: func(c *Config) { c.Hosts[0].Role = "server" }, wantErr: true},
		{name: "bad role", mutate: func(c *Config) { c.Hosts[1].Role = "observer" }, wantErr: true},
		{name: "duplicate name", mutate: func(c *Config) { c.Hosts[2].Name = "server-2" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Agent.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "mqtt without broker", mutate: func(c *Config) { c.Agent.Transport = TransportMQTT }, wantErr: true},
		{name: "mqtt with broker", mutate: func(c *Config) {
			c.Agent.Transport = TransportMQTT
			c.MQTT.Broker = "tcp://broker:1883"
		}},
		{name: "missing binary", mutate: func(c *Config) { c.Agent.Binary = "" }, wantErr: true},
		{name: "after not after before", mutate: func(c *Config) { c.Analysis.BeforeIndex = 1 }, wantErr: true},
		{name: "bad report format", mutate: func(c *Config) { c.Report.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && faults.CodeOf(err) != faults.InvalidConfig {
				t.Errorf("Validate() code = %s, want %s", faults.CodeOf(err), faults.InvalidConfig)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := NewDefaultConfig()
	cfg.RunName = "smoke"
	cfg.Agent.Transport = TransportHTTP
	cfg.Hosts = append(cfg.Hosts, HostConfig{Name: "server-4", Address: "node4", Role: "client"})

	if err := SaveConfig(configPath, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.RunName != "smoke" {
		t.Errorf("RunName = %q, want smoke", loaded.RunName)
	}
	if loaded.Agent.Transport != TransportHTTP {
		t.Errorf("Agent.Transport = %q, want %q", loaded.Agent.Transport, TransportHTTP)
	}
	if len(loaded.Hosts) != 4 || loaded.Hosts[3].Name != "server-4" {
		t.Errorf("Hosts = %+v", loaded.Hosts)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("saved config does not validate: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("hosts: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnsureConfigFile_CreatesNewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	created, err := EnsureConfigFile(configPath)
	if err != nil {
		t.Fatalf("EnsureConfigFile failed: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if _, err := LoadConfig(configPath); err != nil {
		t.Errorf("created file does not load: %v", err)
	}

	created, err = EnsureConfigFile(configPath)
	if err != nil {
		t.Fatalf("second EnsureConfigFile failed: %v", err)
	}
	if created {
		t.Error("existing file must not be overwritten")
	}
}
