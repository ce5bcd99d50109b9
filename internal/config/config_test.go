package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testYAML = `
environment: dev
debug: false
exchanges:
  mexc_spot:
    base_url: https://api.mexc.com
    ws_url: wss://wbs.mexc.com/ws
    enabled: true
    rate_limit:
      requests_per_second: 20
      order_requests_per_second: 5
    network:
      request_timeout: 8s
    ws:
      ping_interval: 15s
  gateio_spot:
    base_url: https://api.gateio.ws
    ws_url: wss://api.gateio.ws/ws/v4/
    enabled: true
  gateio_futures:
    base_url: https://api.gateio.ws
    ws_url: wss://fx-ws.gateio.ws/v4/ws/usdt
    enabled: true
arbitrage:
  enabled_venues: [mexc_spot, gateio_spot]
  symbols: [BTC_USDT]
  scan_interval: 200ms
  min_profit_margin_bps: 15
  max_position_size_usd: 1000
  risk:
    max_position_per_task: 1000
    max_global_exposure: 5000
    max_tasks_active: 3
store:
  data_dir: ./data
logging:
  level: info
  format: json
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadParsesNestedStructure(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	mexc, ok := cfg.Exchanges[VenueMexcSpot]
	if !ok {
		t.Fatal("expected mexc_spot in Exchanges")
	}
	if mexc.Network.RequestTimeout != 8*time.Second {
		t.Errorf("mexc_spot.network.request_timeout = %v, want 8s", mexc.Network.RequestTimeout)
	}
	if mexc.RateLimit.RequestsPerSecond != 20 {
		t.Errorf("mexc_spot.rate_limit.requests_per_second = %v, want 20", mexc.RateLimit.RequestsPerSecond)
	}
	if cfg.Arbitrage.ScanInterval != 200*time.Millisecond {
		t.Errorf("arbitrage.scan_interval = %v, want 200ms", cfg.Arbitrage.ScanInterval)
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("MEXC_API_KEY", "env-key")
	t.Setenv("MEXC_SECRET_KEY", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	mexc := cfg.Exchanges[VenueMexcSpot]
	if mexc.APIKey != "env-key" || mexc.SecretKey != "env-secret" {
		t.Errorf("expected env-sourced credentials, got %+v", mexc)
	}

	gateio := cfg.Exchanges[VenueGateioSpot]
	if gateio.APIKey != "" {
		t.Errorf("gateio_spot credentials should not be touched by MEXC_* env vars, got %+v", gateio)
	}
}

func TestValidateRequiresCredentialsForEnabledVenues(t *testing.T) {
	path := writeTestConfig(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to fail: mexc_spot is enabled but has no credentials")
	}

	t.Setenv("MEXC_API_KEY", "k")
	t.Setenv("MEXC_SECRET_KEY", "s")
	t.Setenv("GATEIO_API_KEY", "k")
	t.Setenv("GATEIO_SECRET_KEY", "s")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v after setting credentials", err)
	}
}

func TestValidateRejectsUnknownEnabledVenue(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("MEXC_API_KEY", "k")
	t.Setenv("MEXC_SECRET_KEY", "s")
	t.Setenv("GATEIO_API_KEY", "k")
	t.Setenv("GATEIO_SECRET_KEY", "s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Arbitrage.EnabledVenues = append(cfg.Arbitrage.EnabledVenues, "binance_spot")

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject an enabled_venues entry with no matching exchanges config")
	}
}
