package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/agent"
	s3blob "github.com/alanyoungcy/predictagent/internal/blob/s3"
	"github.com/alanyoungcy/predictagent/internal/cache/redis"
	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/chain"
	"github.com/alanyoungcy/predictagent/internal/config"
	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/decision"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/executor"
	"github.com/alanyoungcy/predictagent/internal/nft"
	"github.com/alanyoungcy/predictagent/internal/notify"
	"github.com/alanyoungcy/predictagent/internal/platform/limitless"
	"github.com/alanyoungcy/predictagent/internal/platform/opinion"
	"github.com/alanyoungcy/predictagent/internal/platform/polymarket"
	"github.com/alanyoungcy/predictagent/internal/platform/predictbase"
	"github.com/alanyoungcy/predictagent/internal/store/postgres"
	"github.com/alanyoungcy/predictagent/internal/store/sqlite"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Outside report mode every field except Archiver is set.
type Dependencies struct {
	// Ledger
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Trading
	Venue    domain.Venue
	Resolver *catalog.Resolver
	Executor *executor.Executor
	Agent    *agent.Agent

	Archiver domain.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	default:
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.TradeStore = sqlite.NewTradeStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
	}

	if !cfg.NeedsWallet() {
		return deps, cleanup, nil
	}

	// --- Signing key and chain ---
	keyHex, err := crypto.LoadKey(crypto.KeySource{
		RawHex:        cfg.Wallet.PrivateKey,
		EncryptedPath: cfg.Wallet.EncryptedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}

	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, signer.PrivateKey(), cfg.Chain.ChainID, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	closers = append(closers, chainClient.Close)

	// --- Redis (optional) ---
	var (
		locks  domain.LockManager
		mirror domain.SnapshotCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		locks = redis.NewLockManager(redisClient)
		mirror = redis.NewSnapshotCache(redisClient)
	}

	// --- S3 ledger archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venue and catalog ---
	policy, err := catalog.ParsePolicy(cfg.Catalog.ResolvePolicy)
	if err != nil {
		return fail(fmt.Errorf("wire: catalog: %w", err))
	}
	cache := catalog.NewCache(cfg.Catalog.CacheTTL.Duration, mirror, logger)
	deps.Venue, err = newVenue(cfg, signer, chainClient, cache, logger)
	if err != nil {
		return fail(err)
	}
	deps.Resolver = catalog.NewResolver(deps.Venue, cache, policy, logger)

	// --- Executor ---
	deps.Executor = executor.New(executor.Config{
		MaxPositionSize: cfg.Agent.MaxPositionSize,
		EthUsdPrice:     cfg.Agent.EthUsdPrice,
		StopLossBps:     cfg.Agent.StopLossBps,
		TakeProfitBps:   cfg.Agent.TakeProfitBps,
		TradeTimeout:    cfg.Agent.TradeTimeout.Duration,
		DedupWindow:     cfg.Agent.DedupWindow.Duration,
		LockKey:         "trade:" + strings.ToLower(signer.Address().Hex()),
	}, executor.Deps{
		Venue:    deps.Venue,
		Resolver: deps.Resolver,
		Wallet:   chainClient,
		Trades:   deps.TradeStore,
		Audit:    deps.AuditStore,
		Locks:    locks,
		Logger:   logger,
	})

	// --- Decision generator ---
	var generator decision.Generator = decision.Static{}
	if cfg.OpenAI.APIKey != "" {
		gen, err := decision.NewOpenAIGenerator(decision.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Timeout:     cfg.OpenAI.Timeout.Duration,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: openai: %w", err))
		}
		generator = gen
	} else {
		logger.WarnContext(ctx, "no openai api key configured, agent will hold every iteration")
	}

	// --- NFT check ---
	var contract common.Address
	if cfg.NFT.ContractAddress != "" {
		contract = common.HexToAddress(cfg.NFT.ContractAddress)
	}
	checker := nft.NewChecker(chainClient, contract, cfg.NFT.ThresholdBps, logger)

	deps.Agent = agent.New(agent.Config{
		LoopInterval:     cfg.Agent.LoopInterval.Duration,
		MarketLimit:      cfg.Catalog.MarketLimit,
		MaxPositionPct:   cfg.Agent.MaxPositionSize,
		StopLossBps:      cfg.Agent.StopLossBps,
		TakeProfitBps:    cfg.Agent.TakeProfitBps,
		MinEthBalance:    cfg.Agent.MinEthBalance,
		MaxOpenPositions: cfg.Agent.MaxOpenPositions,
		PriceConcurrency: cfg.Agent.PriceConcurrency,
	}, agent.Deps{
		Venue:     deps.Venue,
		Markets:   deps.Resolver,
		Executor:  deps.Executor,
		Wallet:    chainClient,
		Trades:    deps.TradeStore,
		Generator: generator,
		NFT:       checker,
		Notifier:  deps.Notifier,
		Archiver:  deps.Archiver,
		Logger:    logger,
	})

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("venue", deps.Venue.Name()),
		slog.Bool("live", deps.Venue.Live()),
		slog.String("wallet", signer.Address().Hex()),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
	)
	return deps, cleanup, nil
}

// newVenue builds the adapter for cfg.Venue.
func newVenue(cfg *config.Config, signer *crypto.Signer, chainClient *chain.Client, cache *catalog.Cache, logger *slog.Logger) (domain.Venue, error) {
	switch strings.ToLower(cfg.Venue) {
	case domain.VenueLimitless:
		lc := cfg.Limitless
		return limitless.NewAdapter(limitless.Config{
			BaseURL:          lc.BaseURL,
			APIKey:           lc.APIKey,
			APIKeyHeader:     lc.APIKeyHeader,
			APIKeyPrefix:     lc.APIKeyPrefix,
			CategoryID:       lc.CategoryID,
			MarketsURL:       lc.MarketsURL,
			TradingEnabled:   lc.TradingEnabled,
			OrderType:        lc.OrderType,
			FeeRateBps:       lc.FeeRateBps,
			USDCAddress:      optionalAddress(lc.USDCAddress),
			ExchangeOverride: optionalAddress(lc.ExchangeAddress),
			OwnerID:          lc.OwnerID,
			RatePerSec:       lc.RequestsPerSec,
		}, signer, chainClient, cache, logger), nil
	case domain.VenuePolymarket:
		pc := cfg.Polymarket
		return polymarket.NewAdapter(polymarket.Config{
			GammaURL:       pc.GammaURL,
			ClobURL:        pc.ClobURL,
			ChainID:        pc.ChainID,
			Exchange:       optionalAddress(pc.ExchangeAddress),
			TradingEnabled: pc.TradingEnabled,
			Creds: crypto.APICreds{
				Key:        pc.APIKey,
				Secret:     pc.APISecret,
				Passphrase: pc.APIPassphrase,
			},
			OrderType:  pc.OrderType,
			FeeRateBps: pc.FeeRateBps,
			RatePerSec: pc.RequestsPerSec,
		}, signer, catalog.NewTokenIndex(), logger), nil
	case domain.VenuePredictBase:
		pb := cfg.PredictBase
		return predictbase.NewAdapter(predictbase.Config{
			BaseURL:        pb.BaseURL,
			APIKey:         pb.APIKey,
			TradingEnabled: pb.TradingEnabled,
			UserID:         signer.Address().Hex(),
			RatePerSec:     pb.RequestsPerSec,
		}, logger), nil
	case domain.VenueOpinion:
		oc := cfg.Opinion
		return opinion.NewAdapter(opinion.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     oc.APIKey,
			RatePerSec: oc.RequestsPerSec,
		}, catalog.NewTokenIndex(), logger), nil
	default:
		return nil, fmt.Errorf("wire: unknown venue %q", cfg.Venue)
	}
}

func optionalAddress(s string) common.Address {
	if strings.TrimSpace(s) == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
