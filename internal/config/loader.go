package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTAGENT_* environment variable overrides,
// and returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTAGENT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Venue, "PREDICTAGENT_VENUE")
	setStr(&cfg.Mode, "PREDICTAGENT_MODE")
	setStr(&cfg.LogLevel, "PREDICTAGENT_LOG_LEVEL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PREDICTAGENT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PREDICTAGENT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PREDICTAGENT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PREDICTAGENT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PREDICTAGENT_CHAIN_ID")

	// ── Catalog ──
	setStr(&cfg.Catalog.ResolvePolicy, "PREDICTAGENT_CATALOG_RESOLVE_POLICY")
	setDuration(&cfg.Catalog.CacheTTL, "PREDICTAGENT_CATALOG_CACHE_TTL")
	setInt(&cfg.Catalog.MarketLimit, "PREDICTAGENT_CATALOG_MARKET_LIMIT")

	// ── Agent ──
	setDuration(&cfg.Agent.LoopInterval, "PREDICTAGENT_AGENT_LOOP_INTERVAL")
	setFloat64(&cfg.Agent.MaxPositionSize, "PREDICTAGENT_AGENT_MAX_POSITION_SIZE")
	setFloat64(&cfg.Agent.MinEthBalance, "PREDICTAGENT_AGENT_MIN_ETH_BALANCE")
	setInt(&cfg.Agent.StopLossBps, "PREDICTAGENT_AGENT_STOP_LOSS_BPS")
	setInt(&cfg.Agent.TakeProfitBps, "PREDICTAGENT_AGENT_TAKE_PROFIT_BPS")
	setFloat64(&cfg.Agent.EthUsdPrice, "PREDICTAGENT_AGENT_ETH_USD_PRICE")
	setDuration(&cfg.Agent.TradeTimeout, "PREDICTAGENT_AGENT_TRADE_TIMEOUT")
	setDuration(&cfg.Agent.DedupWindow, "PREDICTAGENT_AGENT_DEDUP_WINDOW")
	setInt(&cfg.Agent.MaxOpenPositions, "PREDICTAGENT_AGENT_MAX_OPEN_POSITIONS")
	setInt(&cfg.Agent.PriceConcurrency, "PREDICTAGENT_AGENT_PRICE_CONCURRENCY")

	// ── Limitless ──
	setStr(&cfg.Limitless.BaseURL, "PREDICTAGENT_LIMITLESS_BASE_URL")
	setStr(&cfg.Limitless.APIKey, "PREDICTAGENT_LIMITLESS_API_KEY")
	setStr(&cfg.Limitless.APIKeyHeader, "PREDICTAGENT_LIMITLESS_API_KEY_HEADER")
	setStr(&cfg.Limitless.APIKeyPrefix, "PREDICTAGENT_LIMITLESS_API_KEY_PREFIX")
	setStr(&cfg.Limitless.CategoryID, "PREDICTAGENT_LIMITLESS_CATEGORY_ID")
	setStr(&cfg.Limitless.MarketsURL, "PREDICTAGENT_LIMITLESS_MARKETS_URL")
	setBool(&cfg.Limitless.TradingEnabled, "PREDICTAGENT_LIMITLESS_TRADING_ENABLED")
	setStr(&cfg.Limitless.OrderType, "PREDICTAGENT_LIMITLESS_ORDER_TYPE")
	setInt64(&cfg.Limitless.FeeRateBps, "PREDICTAGENT_LIMITLESS_FEE_RATE_BPS")
	setStr(&cfg.Limitless.USDCAddress, "PREDICTAGENT_LIMITLESS_USDC_ADDRESS")
	setStr(&cfg.Limitless.ExchangeAddress, "PREDICTAGENT_LIMITLESS_EXCHANGE_ADDRESS")
	setInt64(&cfg.Limitless.OwnerID, "PREDICTAGENT_LIMITLESS_OWNER_ID")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaURL, "PREDICTAGENT_POLYMARKET_GAMMA_URL")
	setStr(&cfg.Polymarket.ClobURL, "PREDICTAGENT_POLYMARKET_CLOB_URL")
	setInt64(&cfg.Polymarket.ChainID, "PREDICTAGENT_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.ExchangeAddress, "PREDICTAGENT_POLYMARKET_EXCHANGE_ADDRESS")
	setBool(&cfg.Polymarket.TradingEnabled, "PREDICTAGENT_POLYMARKET_TRADING_ENABLED")
	setStr(&cfg.Polymarket.APIKey, "PREDICTAGENT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.APISecret, "PREDICTAGENT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.APIPassphrase, "PREDICTAGENT_POLYMARKET_API_PASSPHRASE")

	// ── PredictBase ──
	setStr(&cfg.PredictBase.BaseURL, "PREDICTAGENT_PREDICTBASE_BASE_URL")
	setStr(&cfg.PredictBase.APIKey, "PREDICTAGENT_PREDICTBASE_API_KEY")
	setBool(&cfg.PredictBase.TradingEnabled, "PREDICTAGENT_PREDICTBASE_TRADING_ENABLED")

	// ── Opinion ──
	setStr(&cfg.Opinion.BaseURL, "PREDICTAGENT_OPINION_BASE_URL")
	setStr(&cfg.Opinion.APIKey, "PREDICTAGENT_OPINION_API_KEY")

	// ── OpenAI ──
	setStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.OpenAI.APIKey, "PREDICTAGENT_OPENAI_API_KEY")
	setStr(&cfg.OpenAI.BaseURL, "PREDICTAGENT_OPENAI_BASE_URL")
	setStr(&cfg.OpenAI.Model, "PREDICTAGENT_OPENAI_MODEL")
	setDuration(&cfg.OpenAI.Timeout, "PREDICTAGENT_OPENAI_TIMEOUT")
	setInt(&cfg.OpenAI.MaxTokens, "PREDICTAGENT_OPENAI_MAX_TOKENS")

	// ── NFT ──
	setStr(&cfg.NFT.ContractAddress, "PREDICTAGENT_NFT_CONTRACT_ADDRESS")
	setInt(&cfg.NFT.ThresholdBps, "PREDICTAGENT_NFT_THRESHOLD_BPS")

	// ── Store ──
	setStr(&cfg.Store.Backend, "PREDICTAGENT_STORE_BACKEND")
	setStr(&cfg.Store.SQLitePath, "PREDICTAGENT_STORE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "PREDICTAGENT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDICTAGENT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTAGENT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTAGENT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTAGENT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTAGENT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTAGENT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTAGENT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTAGENT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTAGENT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTAGENT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTAGENT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTAGENT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTAGENT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTAGENT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTAGENT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICTAGENT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTAGENT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTAGENT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTAGENT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTAGENT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTAGENT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTAGENT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTAGENT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTAGENT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTAGENT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CRON_SECRET") // compatibility alias
	setStr(&cfg.Server.APIKey, "PREDICTAGENT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTAGENT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMin, "PREDICTAGENT_SERVER_REQUESTS_PER_MIN")
	setBool(&cfg.Server.RunOnStart, "PREDICTAGENT_SERVER_RUN_ON_START")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIURL, "PREDICTAGENT_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.TelegramToken, "PREDICTAGENT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTAGENT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTAGENT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTAGENT_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
