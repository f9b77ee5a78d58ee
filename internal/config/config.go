// Package config defines the top-level configuration for the prediction
// market agent and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTAGENT_* environment variables.
type Config struct {
	Venue       string            `toml:"venue"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	Wallet      WalletConfig      `toml:"wallet"`
	Chain       ChainConfig       `toml:"chain"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Agent       AgentConfig       `toml:"agent"`
	Limitless   LimitlessConfig   `toml:"limitless"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	PredictBase PredictBaseConfig `toml:"predictbase"`
	Opinion     OpinionConfig     `toml:"opinion"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	NFT         NFTConfig         `toml:"nft"`
	Store       StoreConfig       `toml:"store"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
}

// WalletConfig holds the agent's signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the EVM RPC endpoint used for balances, allowances and
// contract reads.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// CatalogConfig controls market catalog fetching and id resolution.
type CatalogConfig struct {
	// ResolvePolicy is "warn" (fall back to the supplied id) or "strict".
	ResolvePolicy string   `toml:"resolve_policy"`
	CacheTTL      duration `toml:"cache_ttl"`
	MarketLimit   int      `toml:"market_limit"`
}

// AgentConfig holds the iteration's risk rules and pacing.
type AgentConfig struct {
	LoopInterval     duration `toml:"loop_interval"`
	MaxPositionSize  float64  `toml:"max_position_size"`
	MinEthBalance    float64  `toml:"min_eth_balance"`
	StopLossBps      int      `toml:"stop_loss_bps"`
	TakeProfitBps    int      `toml:"take_profit_bps"`
	EthUsdPrice      float64  `toml:"eth_usd_price"`
	TradeTimeout     duration `toml:"trade_timeout"`
	DedupWindow      duration `toml:"dedup_window"`
	MaxOpenPositions int      `toml:"max_open_positions"`
	PriceConcurrency int      `toml:"price_concurrency"`
}

// LimitlessConfig holds Limitless API and exchange parameters.
type LimitlessConfig struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	APIKeyHeader    string  `toml:"api_key_header"`
	APIKeyPrefix    string  `toml:"api_key_prefix"`
	CategoryID      string  `toml:"category_id"`
	MarketsURL      string  `toml:"markets_url"`
	TradingEnabled  bool    `toml:"trading_enabled"`
	OrderType       string  `toml:"order_type"`
	FeeRateBps      int64   `toml:"fee_rate_bps"`
	USDCAddress     string  `toml:"usdc_address"`
	ExchangeAddress string  `toml:"exchange_address"`
	OwnerID         int64   `toml:"owner_id"`
	RequestsPerSec  float64 `toml:"requests_per_sec"`
}

// PolymarketConfig holds Gamma/CLOB endpoints and optional L2 credentials.
type PolymarketConfig struct {
	GammaURL        string  `toml:"gamma_url"`
	ClobURL         string  `toml:"clob_url"`
	ChainID         int64   `toml:"chain_id"`
	ExchangeAddress string  `toml:"exchange_address"`
	TradingEnabled  bool    `toml:"trading_enabled"`
	OrderType       string  `toml:"order_type"`
	FeeRateBps      int64   `toml:"fee_rate_bps"`
	APIKey          string  `toml:"api_key"`
	APISecret       string  `toml:"api_secret"`
	APIPassphrase   string  `toml:"api_passphrase"`
	RequestsPerSec  float64 `toml:"requests_per_sec"`
}

// PredictBaseConfig holds PredictBase API parameters.
type PredictBaseConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TradingEnabled bool    `toml:"trading_enabled"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// OpinionConfig holds Opinion Lab API parameters.
type OpinionConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// OpenAIConfig configures the LLM decision generator. With an empty APIKey
// the agent uses the static no-trade generator.
type OpenAIConfig struct {
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	Timeout     duration `toml:"timeout"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature float32  `toml:"temperature"`
}

// NFTConfig configures the notable-trade check.
type NFTConfig struct {
	ContractAddress string `toml:"contract_address"`
	ThresholdBps    int    `toml:"threshold_bps"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the trade lock is in-process and the catalog is not mirrored.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters for serve mode.
type ServerConfig struct {
	Port int `toml:"port"`
	// APIKey guards every endpoint except /api/health. Empty disables auth.
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RequestsPerMin int      `toml:"requests_per_min"`
	// RunOnStart runs one iteration when the server starts.
	RunOnStart bool `toml:"run_on_start"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue:    "limitless",
		Mode:     "loop",
		LogLevel: "info",
		Chain: ChainConfig{
			RPCURL:  "https://mainnet.base.org",
			ChainID: 8453,
		},
		Catalog: CatalogConfig{
			ResolvePolicy: "warn",
			CacheTTL:      duration{5 * time.Minute},
			MarketLimit:   20,
		},
		Agent: AgentConfig{
			LoopInterval:     duration{3 * time.Minute},
			MaxPositionSize:  0.1,
			MinEthBalance:    0.01,
			StopLossBps:      1500,
			TakeProfitBps:    3000,
			EthUsdPrice:      3000,
			TradeTimeout:     duration{2 * time.Minute},
			DedupWindow:      duration{2 * time.Minute},
			MaxOpenPositions: 0,
			PriceConcurrency: 4,
		},
		Limitless: LimitlessConfig{
			BaseURL:      "https://api.limitless.exchange",
			APIKeyHeader: "X-API-Key",
			OrderType:    "GTC",
		},
		Polymarket: PolymarketConfig{
			GammaURL:        "https://gamma-api.polymarket.com",
			ClobURL:         "https://clob.polymarket.com",
			ChainID:         137,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			OrderType:       "GTC",
		},
		PredictBase: PredictBaseConfig{
			BaseURL: "https://api.predictbase.app",
		},
		Opinion: OpinionConfig{
			BaseURL: "https://openapi.opinion.trade/openapi",
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			Timeout:     duration{60 * time.Second},
			MaxTokens:   2000,
			Temperature: 0.7,
		},
		NFT: NFTConfig{
			ThresholdBps: 2000,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "predictagent.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "predictagent",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictagent-ledger",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:           8000,
			RequestsPerMin: 60,
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Events:         []string{"trade_opened", "trade_closed", "trade_rejected", "nft_eligible", "agent_error"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"loop":   true,
	"once":   true,
	"report": true,
	"serve":  true,
}

// validVenues enumerates the accepted values for Config.Venue.
var validVenues = map[string]bool{
	"limitless":   true,
	"polymarket":  true,
	"predictbase": true,
	"opinion":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the configured mode trades.
func (c *Config) NeedsWallet() bool {
	return c.Mode != "report"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: loop, once, report, serve)", c.Mode))
	}
	if !validVenues[strings.ToLower(c.Venue)] {
		errs = append(errs, fmt.Sprintf("unknown venue %q (valid: limitless, polymarket, predictbase, opinion)", c.Venue))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
	}

	// Catalog
	switch c.Catalog.ResolvePolicy {
	case "warn", "strict":
	default:
		errs = append(errs, fmt.Sprintf("catalog: resolve_policy must be warn or strict, got %q", c.Catalog.ResolvePolicy))
	}

	// Agent
	if c.Agent.LoopInterval.Duration <= 0 {
		errs = append(errs, "agent: loop_interval must be > 0")
	}
	if c.Agent.MaxPositionSize <= 0 || c.Agent.MaxPositionSize > 1 {
		errs = append(errs, fmt.Sprintf("agent: max_position_size must be in (0, 1], got %g", c.Agent.MaxPositionSize))
	}
	if c.Agent.MinEthBalance < 0 {
		errs = append(errs, "agent: min_eth_balance must be >= 0")
	}
	if c.Agent.StopLossBps < 0 || c.Agent.TakeProfitBps < 0 {
		errs = append(errs, "agent: stop_loss_bps and take_profit_bps must be >= 0")
	}
	if c.Agent.EthUsdPrice <= 0 {
		errs = append(errs, "agent: eth_usd_price must be > 0")
	}
	if c.Agent.MaxOpenPositions < 0 {
		errs = append(errs, "agent: max_open_positions must be >= 0")
	}

	// Venue specifics
	switch strings.ToLower(c.Venue) {
	case "limitless":
		if c.Limitless.TradingEnabled {
			if !isAddress(c.Limitless.USDCAddress) {
				errs = append(errs, "limitless: usdc_address must be a hex address when trading_enabled")
			}
			if c.Limitless.ExchangeAddress != "" && !isAddress(c.Limitless.ExchangeAddress) {
				errs = append(errs, "limitless: exchange_address is not a hex address")
			}
		}
	case "polymarket":
		if !isAddress(c.Polymarket.ExchangeAddress) {
			errs = append(errs, "polymarket: exchange_address is not a hex address")
		}
		pk := c.Polymarket.APIKey != ""
		ps := c.Polymarket.APISecret != ""
		pp := c.Polymarket.APIPassphrase != ""
		if (pk || ps || pp) && !(pk && ps && pp) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	case "predictbase":
		if c.PredictBase.APIKey == "" {
			errs = append(errs, "predictbase: api_key is required")
		}
	}

	// NFT
	if c.NFT.ContractAddress != "" && !isAddress(c.NFT.ContractAddress) {
		errs = append(errs, "nft: contract_address is not a hex address")
	}

	// Store
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: backend must be sqlite or postgres, got %q", c.Store.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerMin < 0 {
			errs = append(errs, "server: requests_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(s)
}
