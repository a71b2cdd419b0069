package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
auction:
  self: "0x80C7DD17B01855a6D2347444a0FCC36136a314de"
  owner: "0x00000000000000000000000000000000000000f0"
  receiver: "0x00000000000000000000000000000000000000f5"
  bid_token: "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2"
  factory: "0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac"
store:
  data_dir: "/tmp/auction"
settler:
  enabled: true
  interval: 30s
api:
  enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Auction.BidTokenDecimals != 18 {
		t.Errorf("BidTokenDecimals = %d, want 18", cfg.Auction.BidTokenDecimals)
	}
	if cfg.Settler.Interval != 30*time.Second {
		t.Errorf("Settler.Interval = %v, want 30s", cfg.Settler.Interval)
	}
	if cfg.API.Port != 8545 {
		t.Errorf("API.Port = %d, want 8545", cfg.API.Port)
	}
	if cfg.API.RateBurst != 20 {
		t.Errorf("API.RateBurst = %d, want 20", cfg.API.RateBurst)
	}
	if !cfg.API.RequireSignatures || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API signatures/host = %v/%q, want true/127.0.0.1", cfg.API.RequireSignatures, cfg.API.Host)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUCTION_API_PORT", "9999")
	t.Setenv("AUCTION_OWNER_KEY", "0xabc")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
	if cfg.Auction.OwnerKey != "0xabc" {
		t.Errorf("OwnerKey = %q, want 0xabc", cfg.Auction.OwnerKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Auction: AuctionConfig{
				Self:     "0x80C7DD17B01855a6D2347444a0FCC36136a314de",
				Owner:    "0x00000000000000000000000000000000000000f0",
				Receiver: "0x00000000000000000000000000000000000000f5",
				BidToken: "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2",
				Factory:  "0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac",
			},
			Store:   StoreConfig{DataDir: "data"},
			Settler: SettlerConfig{Enabled: true, Interval: time.Minute},
			API:     APIConfig{Enabled: true, Host: "127.0.0.1", Port: 8545, RateLimit: 10, RateBurst: 20},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing receiver", func(c *Config) { c.Auction.Receiver = "" }, "auction.receiver is required"},
		{"bad bid token", func(c *Config) { c.Auction.BidToken = "sushi" }, "auction.bid_token is not a valid address"},
		{"zero self", func(c *Config) { c.Auction.Self = "0x0000000000000000000000000000000000000000" }, "zero address"},
		{"owner key replaces owner", func(c *Config) { c.Auction.Owner = ""; c.Auction.OwnerKey = "0x01" }, ""},
		{"bad whitelist entry", func(c *Config) { c.Auction.Whitelist = []string{"nope"} }, "auction.whitelist[0]"},
		{"short code hash", func(c *Config) { c.Auction.PairCodeHash = "0x1234" }, "pair_code_hash"},
		{"settler interval", func(c *Config) { c.Settler.Interval = 0 }, "settler.interval"},
		{"api port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"journal path", func(c *Config) { c.Journal.Enabled = true }, "journal.path"},
		{"unsigned on all interfaces", func(c *Config) { c.API.Host = "" }, "api.require_signatures"},
		{"unsigned on public address", func(c *Config) { c.API.Host = "10.0.0.5" }, "api.require_signatures"},
		{"unsigned on ipv6 loopback", func(c *Config) { c.API.Host = "::1" }, ""},
		{"signed on all interfaces", func(c *Config) { c.API.Host = ""; c.API.RequireSignatures = true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
