package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablecore/core/events"
	"stablecore/core/pricing"
	nativecommon "stablecore/native/common"
	"stablecore/native/stable"
	"stablecore/native/token"
	"stablecore/observability"
	"stablecore/services/stabled/config"
	"stablecore/services/stabled/middleware"
	"stablecore/services/stabled/server"
	"stablecore/storage"
)

const defaultFeedDecimals = 8

// daemon holds the wired components behind the HTTP API.
type daemon struct {
	engine *stable.Engine
	tokens *token.Registry
	feeds  map[common.Address]*pricing.StaticFeed
	server *server.Server
}

func openStore(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "leveldb":
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return db, nil
	default:
		return storage.NewMemDB(), nil
	}
}

// build wires the token ledgers, feeds, engine and HTTP server from the
// daemon and market configuration.
func build(cfg config.Config, market *stable.Config, db storage.Database, logger *slog.Logger) (*daemon, error) {
	engineAddr := common.HexToAddress(cfg.EngineAddress)
	issuer := common.HexToAddress(cfg.Issuer)
	stableAddr := common.HexToAddress(cfg.StableToken)

	tokens := token.NewRegistry()
	stableLedger, err := token.New(market.Stable.Symbol, market.Stable.Decimals, engineAddr, db)
	if err != nil {
		return nil, err
	}
	if err := tokens.Register(stableAddr, stableLedger); err != nil {
		return nil, err
	}

	collateral := make(stable.CollateralMap, len(market.Assets))
	feedRegistry := pricing.NewRegistry()
	feeds := make(map[common.Address]*pricing.StaticFeed, len(market.Assets))
	symbols := map[string]common.Address{strings.ToUpper(market.Stable.Symbol): stableAddr}
	for _, asset := range market.Assets {
		if _, dup := symbols[asset.Symbol]; dup {
			return nil, fmt.Errorf("market: duplicate token symbol %s", asset.Symbol)
		}
		tokenAddr := common.HexToAddress(asset.Token)
		ledger, err := token.New(asset.Symbol, asset.Decimals, issuer, db)
		if err != nil {
			return nil, err
		}
		if err := tokens.Register(tokenAddr, ledger); err != nil {
			return nil, err
		}
		collateral[tokenAddr] = ledger.Bind(engineAddr)
		symbols[asset.Symbol] = tokenAddr

		answer, err := asset.Answer()
		if err != nil {
			return nil, err
		}
		decimals := asset.FeedDecimals
		if decimals == 0 {
			decimals = defaultFeedDecimals
		}
		feedAddr := common.HexToAddress(asset.Feed)
		feed := pricing.NewStaticFeed(decimals, answer)
		feedRegistry.Register(feedAddr, feed)
		feeds[feedAddr] = feed
	}

	if err := seedAllocations(cfg.Allocations, tokens, symbols, stableAddr, issuer, logger); err != nil {
		return nil, err
	}

	params, err := market.EngineParams()
	if err != nil {
		return nil, err
	}
	tokenAddrs, feedAddrs := market.Addresses()
	engine, err := stable.NewEngine(params, tokenAddrs, feedAddrs, stable.Deps{
		Self:       engineAddr,
		Stable:     stableLedger.Bind(engineAddr),
		Collateral: collateral,
		Feeds:      feedRegistry,
		Store:      db,
		Emitter:    events.Fanout{events.LogEmitter{Logger: logger.With("component", "events")}, observability.Events()},
		Logger:     logger.With("module", "stable"),
		Metrics:    observability.StableEngine(),
		Pauses:     nativecommon.NewStaticPauses(cfg.Pauses...),
	})
	if err != nil {
		return nil, fmt.Errorf("construct engine: %w", err)
	}

	api := observability.API()
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.Key] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	limiter := middleware.NewRateLimiter(limits, logger)
	limiter.OnThrottle(api.RecordThrottle)

	publishers := make(map[common.Address]server.FeedPublisher, len(feeds))
	for addr, feed := range feeds {
		publishers[addr] = feed
	}
	srv := server.New(server.Config{
		Engine:      engine,
		Tokens:      tokens,
		StableToken: stableAddr,
		Feeds:       publishers,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter:   limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "stabled", LogRequests: true}, api, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		Metrics:          promhttp.Handler(),
		OperatorScope:    cfg.Auth.OperatorScope,
		AllowFeedUpdates: cfg.Feeds.AllowUpdates,
		RequestTimeout:   cfg.RequestTimeout,
		OnFeedUpdate:     func(feed common.Address) { api.RecordFeedUpdate(feed.Hex()) },
		Logger:           logger,
	})
	return &daemon{engine: engine, tokens: tokens, feeds: feeds, server: srv}, nil
}

// seedAllocations mints configured balances into collateral ledgers that have
// no supply yet, so restarts against a persistent store do not re-mint.
func seedAllocations(allocs []config.Allocation, tokens *token.Registry, symbols map[string]common.Address, stableAddr, issuer common.Address, logger *slog.Logger) error {
	fresh := make(map[common.Address]bool)
	for _, addr := range tokens.Addresses() {
		ledger, _ := tokens.Ledger(addr)
		fresh[addr] = ledger.TotalSupply().IsZero()
	}
	for i, alloc := range allocs {
		tokenAddr, ok := symbols[strings.ToUpper(alloc.Token)]
		if !ok {
			if !common.IsHexAddress(alloc.Token) {
				return fmt.Errorf("allocations[%d]: unknown token %q", i, alloc.Token)
			}
			tokenAddr = common.HexToAddress(alloc.Token)
		}
		if tokenAddr == stableAddr {
			return fmt.Errorf("allocations[%d]: stable supply is only issued against collateral", i)
		}
		ledger, ok := tokens.Ledger(tokenAddr)
		if !ok {
			return fmt.Errorf("allocations[%d]: unknown token %q", i, alloc.Token)
		}
		if !fresh[tokenAddr] {
			continue
		}
		account := common.HexToAddress(alloc.Account)
		if err := ledger.Mint(issuer, account, alloc.Quantity()); err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		logger.Info("seeded allocation", "token", ledger.Symbol(), "account", account.Hex(), "amount", alloc.Quantity().Dec())
	}
	return nil
}
