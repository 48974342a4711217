package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"stablecore/native/stable"
	"stablecore/native/token"
	"stablecore/services/stabled/middleware"
)

const requestLimit = 1 << 20 // 1 MiB

// Engine is the collateral engine surface exposed over HTTP.
type Engine interface {
	Self() common.Address
	Params() stable.Params
	CollateralTokens() []common.Address
	AssetOf(token common.Address) (stable.Asset, bool)
	TotalDebt(ctx context.Context) *uint256.Int
	Position(ctx context.Context, user common.Address) (stable.Position, error)
	ValueFromTokenAmount(ctx context.Context, token common.Address, amount *uint256.Int) (*uint256.Int, error)
	TokenAmountFromValue(ctx context.Context, token common.Address, value *uint256.Int) (*uint256.Int, error)

	DepositCollateral(ctx context.Context, user, token common.Address, amount *uint256.Int) error
	MintDebt(ctx context.Context, user common.Address, amount *uint256.Int) error
	DepositAndMint(ctx context.Context, user, token common.Address, collateral, debt *uint256.Int) error
	RedeemCollateral(ctx context.Context, user, token common.Address, amount *uint256.Int) error
	BurnDebt(ctx context.Context, user common.Address, amount *uint256.Int) error
	RedeemCollateralForDebt(ctx context.Context, user, token common.Address, collateral, debt *uint256.Int) error
	Liquidate(ctx context.Context, liquidator, user, token common.Address, debtToCover *uint256.Int) (*stable.LiquidationResult, error)
}

// TokenDirectory resolves the in-process token ledgers.
type TokenDirectory interface {
	Ledger(addr common.Address) (*token.Ledger, bool)
	Addresses() []common.Address
}

// FeedPublisher accepts operator-pushed answers.
type FeedPublisher interface {
	SetAnswer(answer *big.Int)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine      Engine
	Tokens      TokenDirectory
	StableToken common.Address
	Feeds       map[common.Address]FeedPublisher

	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Metrics       http.Handler

	OperatorScope    string
	AllowFeedUpdates bool
	RequestTimeout   time.Duration
	OnFeedUpdate     func(feed common.Address)
	Logger           *slog.Logger
}

// Server encapsulates the HTTP API of the stable engine daemon.
type Server struct {
	engine      Engine
	tokens      TokenDirectory
	stableToken common.Address
	feeds       map[common.Address]FeedPublisher

	auth          *middleware.Authenticator
	operatorScope string
	allowFeeds    bool
	timeout       time.Duration
	onFeedUpdate  func(common.Address)
	logger        *slog.Logger

	router http.Handler
}

// New constructs the router. Engine and Tokens are required.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.OperatorScope == "" {
		cfg.OperatorScope = "stable:operator"
	}
	if cfg.Auth == nil {
		cfg.Auth = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	srv := &Server{
		engine:        cfg.Engine,
		tokens:        cfg.Tokens,
		stableToken:   cfg.StableToken,
		feeds:         cfg.Feeds,
		auth:          cfg.Auth,
		operatorScope: cfg.OperatorScope,
		allowFeeds:    cfg.AllowFeedUpdates,
		timeout:       cfg.RequestTimeout,
		onFeedUpdate:  cfg.OnFeedUpdate,
		logger:        cfg.Logger.With("component", "api"),
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(limit("read"))
			read.Get("/config", s.getConfig)
			read.Get("/accounts/{address}", s.getPosition)
			read.Get("/accounts/{address}/health", s.getHealth)
			read.Get("/assets/{token}/value", s.getValue)
			read.Get("/assets/{token}/quantity", s.getQuantity)
			read.Get("/tokens", s.listTokens)
			read.Get("/tokens/{token}/balances/{address}", s.getBalance)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware())
			write.Use(limit("write"))
			write.Post("/collateral/deposit", s.depositCollateral)
			write.Post("/collateral/redeem", s.redeemCollateral)
			write.Post("/debt/mint", s.mintDebt)
			write.Post("/debt/burn", s.burnDebt)
			write.Post("/positions/deposit-and-mint", s.depositAndMint)
			write.Post("/positions/redeem-for-debt", s.redeemForDebt)
			write.Post("/liquidations", s.liquidate)
			write.Post("/tokens/{token}/approve", s.approve)
			write.Post("/tokens/{token}/transfer", s.transfer)
		})
		api.Group(func(ops chi.Router) {
			ops.Use(s.auth.Middleware(s.operatorScope))
			ops.Use(limit("write"))
			ops.Post("/operator/feeds/{feed}", s.publishFeed)
		})
	})
	return r
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// actor returns the account a write request acts as: the token subject, or
// the account header when authentication is disabled.
func (s *Server) actor(r *http.Request) (common.Address, error) {
	if subject, ok := middleware.SubjectFromContext(r.Context()); ok {
		return subject, nil
	}
	if s.auth.Enabled() {
		return common.Address{}, errUnauthenticated
	}
	raw := r.Header.Get(middleware.AccountHeader)
	if raw == "" {
		return common.Address{}, errUnauthenticated
	}
	return parseAddress("account", raw)
}
