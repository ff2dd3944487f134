package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.MaxHops != 64 || cfg.QueueCapacity != 64 || cfg.EntryExpireTime != 100*time.Second ||
		cfg.HostRecentPeriod != 10*time.Second || cfg.BeaconInterval != time.Second || cfg.BeaconJitterMs != 100 ||
		cfg.EnergyThresholdLow != 0.2 || cfg.EnergyThresholdCrit != 0.1 || cfg.FloodingFactor != 0.5 ||
		cfg.CompressionRatio != 0.8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	body := `
node_id: rescuer-7
max_hops: 8
queue_capacity: 16
beacon_interval: 500ms
entry_expire_time: 2m
energy_threshold_low: 0.3
etcd_endpoints: ["http://etcd:2379"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "rescuer-7" || cfg.MaxHops != 8 || cfg.QueueCapacity != 16 {
		t.Fatalf("Load = %+v", cfg)
	}
	if cfg.BeaconInterval != 500*time.Millisecond || cfg.EntryExpireTime != 2*time.Minute {
		t.Fatalf("durations = %s %s", cfg.BeaconInterval, cfg.EntryExpireTime)
	}
	if cfg.EnergyThresholdLow != 0.3 || cfg.EnergyThresholdCrit != 0.1 {
		t.Fatalf("thresholds = %v %v", cfg.EnergyThresholdLow, cfg.EnergyThresholdCrit)
	}
	if len(cfg.EtcdEndpoints) != 1 || cfg.EtcdEndpoints[0] != "http://etcd:2379" {
		t.Fatalf("endpoints = %v", cfg.EtcdEndpoints)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
	cfg, err := Load("")
	if err != nil || cfg.MaxHops != 64 {
		t.Fatalf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SELF_ID":        "n3",
		"SELF_ADDR":      ":5000",
		"ETCD_ENDPOINTS": "http://a:2379,http://b:2379",
		"MAX_HOPS":       "12",
		"QUEUE_CAPACITY": "32",
		"INITIAL_ENERGY": "1000",
	}
	cfg := Default()
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.NodeID != "n3" || cfg.ListenAddr != ":5000" || cfg.MaxHops != 12 ||
		cfg.QueueCapacity != 32 || cfg.InitialEnergy != 1000 || len(cfg.EtcdEndpoints) != 2 {
		t.Fatalf("applyEnv = %+v", cfg)
	}

	bad := map[string]string{"MAX_HOPS": "many", "INITIAL_ENERGY": "lots"}
	cfg = Default()
	err := cfg.applyEnv(func(k string) string { return bad[k] })
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("applyEnv errors = %d (%v), want 2", got, err)
	}
}

func TestValidateCollectsEverything(t *testing.T) {
	cfg := Default()
	cfg.MaxHops = 0
	cfg.FloodingFactor = 0.05
	cfg.CompressionRatio = 1.5
	cfg.EnergyThresholdCrit = 0.5 // above low
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate = %v, want ErrInvalid", err)
	}
	for _, want := range []string{"max_hops", "flooding_factor", "compression_ratio", "energy_threshold_critical"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate error %q does not mention %s", err, want)
		}
	}
}
