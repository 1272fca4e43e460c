package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/D2dProtocol/d2d-program/native/treasury"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "treasury.toml")
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if params != treasury.DefaultParams() {
		t.Fatalf("expected defaults, got %+v", params)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	reloaded, err := LoadParams(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != params {
		t.Fatalf("round trip mismatch: %+v vs %+v", reloaded, params)
	}
}

func TestLoadOverridesOnlyPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasury.toml")
	contents := `[Fees]
RewardFeeBps = 250

[Curve]
MidpointMultiplierBps = 12000

[Distribution]
MaxBatch = 5000
MinIntervalSeconds = 60
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defaults := treasury.DefaultParams()
	if params.RewardFeeBps != 250 || params.MidpointMultiplierBps != 12_000 {
		t.Fatalf("overrides not applied: %+v", params)
	}
	if params.MaxDistributionBatch != 5_000 || params.MinDistributionInterval != 60 {
		t.Fatalf("distribution overrides not applied: %+v", params)
	}
	if params.PlatformFeeBps != defaults.PlatformFeeBps || params.MaxUtilizationBps != defaults.MaxUtilizationBps {
		t.Fatalf("absent keys should keep defaults: %+v", params)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"ceiling":  "[Limits]\nMaxUtilizationBps = 12000\n",
		"interval": "[Distribution]\nMinIntervalSeconds = 9999999\n",
	}
	for name, contents := range cases {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	path := filepath.Join(dir, "bps.toml")
	if err := os.WriteFile(path, []byte("[Fees]\nRewardFeeBps = 20000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, treasury.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasury.toml")
	if err := os.WriteFile(path, []byte("[Fees]\nRewardFee = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
