package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = testKey
	return cfg
}

func TestDefaults_Valid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Minute, cfg.Agent.LoopInterval.Duration)
	assert.Equal(t, 0.1, cfg.Agent.MaxPositionSize)
	assert.Equal(t, 0.01, cfg.Agent.MinEthBalance)
	assert.Equal(t, 1500, cfg.Agent.StopLossBps)
	assert.Equal(t, 3000, cfg.Agent.TakeProfitBps)
	assert.Equal(t, 2000, cfg.NFT.ThresholdBps)
	assert.Equal(t, "warn", cfg.Catalog.ResolvePolicy)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Venue = "kalshi"
	cfg.Catalog.ResolvePolicy = "lenient"
	cfg.Agent.MaxPositionSize = 2
	cfg.Store.Backend = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "backtest"`,
		`unknown venue "kalshi"`,
		"resolve_policy",
		"max_position_size",
		"store: backend",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_WalletRequiredOutsideReport(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate())

	cfg.Mode = "report"
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "once"
	cfg.Wallet.EncryptedKeyPath = "key.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidate_VenueSpecifics(t *testing.T) {
	cfg := validConfig()
	cfg.Limitless.TradingEnabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usdc_address")

	cfg.Limitless.USDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Venue = "polymarket"
	cfg.Polymarket.APIKey = "k"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be set together")

	cfg = validConfig()
	cfg.Venue = "predictbase"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predictbase: api_key")
}

func TestLoad_TomlThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
venue = "opinion"
mode = "once"

[agent]
loop_interval = "90s"
max_open_positions = 3

[store]
backend = "postgres"

[notify]
events = ["trade_opened"]
`), 0o600))

	t.Setenv("PREDICTAGENT_AGENT_STOP_LOSS_BPS", "900")
	t.Setenv("PREDICTAGENT_NOTIFY_EVENTS", "trade_closed, agent_error ,")
	t.Setenv("CRON_SECRET", "cron")
	t.Setenv("PREDICTAGENT_SERVER_API_KEY", "explicit")
	t.Setenv("PREDICTAGENT_AGENT_TRADE_TIMEOUT", "45s")
	t.Setenv("PREDICTAGENT_LIMITLESS_OWNER_ID", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "opinion", cfg.Venue)
	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, 90*time.Second, cfg.Agent.LoopInterval.Duration)
	assert.Equal(t, 3, cfg.Agent.MaxOpenPositions)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 900, cfg.Agent.StopLossBps)
	assert.Equal(t, 45*time.Second, cfg.Agent.TradeTimeout.Duration)
	assert.Equal(t, []string{"trade_closed", "agent_error"}, cfg.Notify.Events)
	assert.Equal(t, "explicit", cfg.Server.APIKey)
	assert.Zero(t, cfg.Limitless.OwnerID)
	// untouched defaults survive
	assert.Equal(t, 3000, cfg.Agent.TakeProfitBps)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.Events = []string{"trade_opened"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.OpenAI.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "trade_opened", cfg.Notify.Events[0])
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
}

func TestLoad_ExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)

	def := Defaults()
	assert.Equal(t, def.Agent, cfg.Agent)
	assert.Equal(t, def.Catalog, cfg.Catalog)
	assert.Equal(t, def.Store, cfg.Store)
	assert.Equal(t, def.Redis.KeyPrefix, cfg.Redis.KeyPrefix)
	assert.Equal(t, def.Polymarket.ExchangeAddress, cfg.Polymarket.ExchangeAddress)
	assert.Equal(t, def.Notify.Events, cfg.Notify.Events)

	cfg.Wallet.PrivateKey = testKey
	assert.NoError(t, cfg.Validate())
}
