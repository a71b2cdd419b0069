// Package config defines all configuration for the auction daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// any field overridable via AUCTION_* environment variables, e.g.
// AUCTION_AUCTION_RECEIVER or AUCTION_API_PORT.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Auction AuctionConfig `mapstructure:"auction"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Store   StoreConfig   `mapstructure:"store"`
	Journal JournalConfig `mapstructure:"journal"`
	Settler SettlerConfig `mapstructure:"settler"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AuctionConfig holds the engine's construction parameters.
//
//   - Self: the address that holds escrow and unwound fee tokens.
//   - Owner / OwnerKey: the admin. If OwnerKey is set, Owner is derived from it.
//   - Receiver: where auction proceeds and skimmed surplus go.
//   - BidToken / BidTokenDecimals: the token bids are paid in.
//   - Factory / PairCodeHash: used to derive pair addresses with CREATE2.
//   - Whitelist: if non-empty, only these tokens may be auctioned.
type AuctionConfig struct {
	Self             string   `mapstructure:"self"`
	Owner            string   `mapstructure:"owner"`
	OwnerKey         string   `mapstructure:"owner_key"`
	Receiver         string   `mapstructure:"receiver"`
	BidToken         string   `mapstructure:"bid_token"`
	BidTokenDecimals int32    `mapstructure:"bid_token_decimals"`
	Factory          string   `mapstructure:"factory"`
	PairCodeHash     string   `mapstructure:"pair_code_hash"`
	Whitelist        []string `mapstructure:"whitelist"`
}

// ChainConfig seeds the in-process ledger on first start. It is ignored once
// a snapshot exists in the store.
type ChainConfig struct {
	Balances  []Allocation `mapstructure:"balances"`
	Approvals []Approval   `mapstructure:"approvals"`
	Pairs     []PairSeed   `mapstructure:"pairs"`
}

type Allocation struct {
	Token  string `mapstructure:"token"`
	Holder string `mapstructure:"holder"`
	Amount string `mapstructure:"amount"` // raw units
}

type Approval struct {
	Token   string `mapstructure:"token"`
	Owner   string `mapstructure:"owner"`
	Spender string `mapstructure:"spender"`
	Amount  string `mapstructure:"amount"`
}

// PairSeed creates a pair and deposits liquidity from Provider, who must
// hold both amounts via Balances.
type PairSeed struct {
	TokenA   string `mapstructure:"token_a"`
	TokenB   string `mapstructure:"token_b"`
	AmountA  string `mapstructure:"amount_a"`
	AmountB  string `mapstructure:"amount_b"`
	Provider string `mapstructure:"provider"`
}

// StoreConfig sets where engine and ledger state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// JournalConfig controls the sqlite event history.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SettlerConfig controls the keeper that ends auctions whose window closed.
type SettlerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// APIConfig controls the HTTP/WebSocket server.
//
//   - Host: listen address. Unsigned mode is only allowed on loopback.
//   - RequireSignatures: callers must sign requests; the recovered signer
//     replaces any caller field in the body. Without it the body's caller is
//     trusted, so the server only accepts such requests from loopback peers.
//   - RateLimit / RateBurst: per-client requests per second and burst.
type APIConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	RequireSignatures bool     `mapstructure:"require_signatures"`
	ChainID           int64    `mapstructure:"chain_id"`
	RateLimit         float64  `mapstructure:"rate_limit"`
	RateBurst         int      `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// AUCTION_OWNER_KEY is accepted as a shorthand for the owner's private key.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("auction.bid_token_decimals", 18)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("journal.path", "data/journal.db")
	v.SetDefault("settler.interval", time.Minute)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8545)
	v.SetDefault("api.require_signatures", true)
	v.SetDefault("api.chain_id", 1)
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.rate_burst", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AUCTION_OWNER_KEY"); key != "" {
		cfg.Auction.OwnerKey = key
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	addrs := []struct {
		name, val string
	}{
		{"auction.self", c.Auction.Self},
		{"auction.receiver", c.Auction.Receiver},
		{"auction.bid_token", c.Auction.BidToken},
		{"auction.factory", c.Auction.Factory},
	}
	if c.Auction.OwnerKey == "" {
		addrs = append(addrs, struct{ name, val string }{"auction.owner", c.Auction.Owner})
	}
	for _, a := range addrs {
		if err := checkAddress(a.name, a.val); err != nil {
			return err
		}
	}
	for i, tok := range c.Auction.Whitelist {
		if err := checkAddress(fmt.Sprintf("auction.whitelist[%d]", i), tok); err != nil {
			return err
		}
	}
	if c.Auction.PairCodeHash != "" && len(common.FromHex(c.Auction.PairCodeHash)) != common.HashLength {
		return fmt.Errorf("auction.pair_code_hash must be 32 bytes of hex")
	}
	if c.Auction.BidTokenDecimals < 0 || c.Auction.BidTokenDecimals > 77 {
		return fmt.Errorf("auction.bid_token_decimals must be between 0 and 77")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if c.Settler.Enabled && c.Settler.Interval <= 0 {
		return fmt.Errorf("settler.interval must be > 0")
	}
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("api.port must be between 1 and 65535")
		}
		if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
			return fmt.Errorf("api.rate_limit and api.rate_burst must be > 0")
		}
		if !c.API.RequireSignatures && !IsLoopbackHost(c.API.Host) {
			return fmt.Errorf("api.require_signatures must be true when api.host %q is not loopback", c.API.Host)
		}
	}
	return nil
}

// IsLoopbackHost reports whether host names only the local machine. An empty
// host listens on every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkAddress(name, val string) error {
	if val == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(val) {
		return fmt.Errorf("%s is not a valid address: %q", name, val)
	}
	if common.HexToAddress(val) == (common.Address{}) {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}
