// Package config loads gateway configuration from a YAML file and PAYGATE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
	"github.com/siddimore/bsv-paygate/pkg/paygate/redisreplay"
)

// Config is the gateway configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	Backend string `yaml:"backend"`

	Network          string            `yaml:"network"`
	RecipientAddress string            `yaml:"recipient_address"`
	Price            uint64            `yaml:"price"`
	Routes           map[string]uint64 `yaml:"routes"`
	ExemptPaths      []string          `yaml:"exempt_paths"`

	Fee *paygate.ProtocolFee `yaml:"fee"`

	Wallet   WalletConfig   `yaml:"wallet"`
	Replay   ReplayConfig   `yaml:"replay"`
	Receipts ReceiptsConfig `yaml:"receipts"`
	Log      LogConfig      `yaml:"log"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WalletConfig enables delegated verification when Endpoint is set.
type WalletConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Originator string        `yaml:"originator"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ReplayConfig selects the replay guard backend.
type ReplayConfig struct {
	// Backend is "memory" or "redis".
	Backend  string             `yaml:"backend"`
	Capacity int                `yaml:"capacity"`
	Prune    int                `yaml:"prune"`
	Redis    redisreplay.Config `yaml:"redis"`
}

type ReceiptsConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxSize int  `yaml:"max_size"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Listen:      ":8402",
		Network:     "mainnet",
		Price:       100,
		ExemptPaths: []string{"/health", "/metrics", "/favicon.ico"},
		Wallet: WalletConfig{
			Timeout: paygate.DefaultDelegateTimeout,
		},
		Replay: ReplayConfig{
			Backend:  "memory",
			Capacity: paygate.DefaultReplayCapacity,
			Prune:    paygate.DefaultReplayPrune,
		},
		Receipts: ReceiptsConfig{
			Enabled: true,
			MaxSize: 100000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Load reads path over the defaults, if path is not empty, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from PAYGATE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PAYGATE_LISTEN_ADDR", &c.Listen)
	str("PAYGATE_BACKEND_URL", &c.Backend)
	str("PAYGATE_NETWORK", &c.Network)
	str("PAYGATE_RECIPIENT_ADDRESS", &c.RecipientAddress)
	str("PAYGATE_WALLET_ENDPOINT", &c.Wallet.Endpoint)
	str("PAYGATE_REPLAY_BACKEND", &c.Replay.Backend)
	str("PAYGATE_REDIS_ADDR", &c.Replay.Redis.Addr)
	str("PAYGATE_REDIS_PASSWORD", &c.Replay.Redis.Password)
	str("PAYGATE_LOG_LEVEL", &c.Log.Level)
	str("PAYGATE_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("PAYGATE_PRICE"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PAYGATE_PRICE: %w", err)
		}
		c.Price = n
	}
	if v, ok := lookup("PAYGATE_EXEMPT_PATHS"); ok {
		c.ExemptPaths = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.RecipientAddress == "" {
		return errors.New("recipient_address is required")
	}
	params, err := paygate.NetworkParams(c.Network)
	if err != nil {
		return err
	}
	if c.Wallet.Endpoint == "" {
		if _, err := paygate.LockingScript(c.RecipientAddress, params); err != nil {
			return fmt.Errorf("recipient_address: %w", err)
		}
	}
	if c.Fee != nil {
		if _, err := paygate.NewFeeChecker(c.Fee, params); err != nil {
			return err
		}
	}
	switch c.Replay.Backend {
	case "", "memory":
	case "redis":
		if c.Replay.Redis.Addr == "" {
			return errors.New("replay.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown replay backend %q", c.Replay.Backend)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Pricing builds the pricing policy: route prices when routes are set,
// otherwise a fixed price.
func (c *Config) Pricing() paygate.PricingPolicy {
	if len(c.Routes) > 0 {
		return paygate.NewRoutePricing(c.Routes, c.Price)
	}
	return paygate.FixedPrice(c.Price)
}

// NewLogger builds the slog logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
