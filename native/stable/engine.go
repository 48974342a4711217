package stable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"stablecore/core/events"
	"stablecore/core/pricing"
	nativecommon "stablecore/native/common"
	"stablecore/storage"
)

// maxAssetDecimals keeps 10^decimals inside 256 bits.
const maxAssetDecimals = 77

// Metrics receives engine telemetry. observability.StableEngineMetrics
// satisfies it; a nil Metrics disables reporting.
type Metrics interface {
	ObserveOperation(kind, outcome string, duration time.Duration)
	RecordLiquidation(asset common.Address, repaid, seized *uint256.Int)
	SetTotalDebt(total *uint256.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration)               {}
func (noopMetrics) RecordLiquidation(common.Address, *uint256.Int, *uint256.Int) {}
func (noopMetrics) SetTotalDebt(*uint256.Int)                                    {}

// Deps wires the engine to its external collaborators.
type Deps struct {
	// Self is the engine's own account on the token ledgers. Collateral is
	// custodied there and repaid stable is pulled there before burning.
	Self       common.Address
	Stable     StableAsset
	Collateral CollateralSource
	Feeds      pricing.FeedSource

	// Optional.
	Store   storage.Database
	Emitter events.Emitter
	Logger  *slog.Logger
	Metrics Metrics
	Pauses  nativecommon.PauseView
}

// Engine is the collateral accounting and liquidation engine. It exclusively
// owns the collateral and debt ledgers; every mutation goes through its
// operation methods, which run one at a time.
type Engine struct {
	mu sync.RWMutex

	self       common.Address
	params     Params
	assets     *assetTable
	stable     StableAsset
	collateral *CollateralLedger
	debts      *DebtLedger
	valuation  *Valuation
	health     *HealthCalculator

	store   storage.Database
	emitter events.Emitter
	logger  *slog.Logger
	metrics Metrics
	pauses  nativecommon.PauseView
	newID   func() string
}

// NewEngine admits tokenAddresses[i] as collateral priced by
// priceFeedAddresses[i]. The admission list cannot change afterwards. When
// deps.Store is set, previously committed ledgers are restored from it.
func NewEngine(params Params, tokenAddresses, priceFeedAddresses []common.Address, deps Deps) (*Engine, error) {
	if len(tokenAddresses) != len(priceFeedAddresses) {
		return nil, fmt.Errorf("%w: %d tokens, %d feeds",
			ErrTokenAndFeedLengthMismatch, len(tokenAddresses), len(priceFeedAddresses))
	}
	params = params.Clone()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Self == (common.Address{}) {
		return nil, fmt.Errorf("%w: engine address", ErrZeroAddress)
	}
	if deps.Stable == nil {
		return nil, fmt.Errorf("stable engine: stable asset required")
	}
	if deps.Collateral == nil {
		return nil, fmt.Errorf("stable engine: collateral source required")
	}
	adapter, err := pricing.NewAdapter(deps.Feeds)
	if err != nil {
		return nil, err
	}

	table := &assetTable{
		order:   make([]common.Address, 0, len(tokenAddresses)),
		byToken: make(map[common.Address]*Asset, len(tokenAddresses)),
	}
	for i, token := range tokenAddresses {
		feed := priceFeedAddresses[i]
		if token == (common.Address{}) || feed == (common.Address{}) {
			return nil, fmt.Errorf("%w: asset %d", ErrZeroAddress, i)
		}
		if _, dup := table.byToken[token]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, token.Hex())
		}
		handle, ok := deps.Collateral.Collateral(token)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollateralAsset, token.Hex())
		}
		decimals := handle.Decimals()
		if decimals > maxAssetDecimals {
			return nil, fmt.Errorf("%w: %s reports %d decimals", ErrInvalidParams, token.Hex(), decimals)
		}
		table.order = append(table.order, token)
		table.byToken[token] = &Asset{
			Token:    token,
			Feed:     feed,
			Decimals: decimals,
			unit:     pow10(decimals),
			handle:   handle,
		}
	}

	collateral := newCollateralLedger()
	debts := newDebtLedger()
	valuation := &Valuation{adapter: adapter, assets: table, ledger: collateral}
	e := &Engine{
		self:       deps.Self,
		params:     params,
		assets:     table,
		stable:     deps.Stable,
		collateral: collateral,
		debts:      debts,
		valuation:  valuation,
		health:     &HealthCalculator{params: params, debts: debts, valuation: valuation},
		store:      deps.Store,
		emitter:    deps.Emitter,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		pauses:     deps.Pauses,
		newID:      uuid.NewString,
	}
	if e.emitter == nil {
		e.emitter = events.NoopEmitter{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("module", moduleName))
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.store != nil {
		if err := e.restore(); err != nil {
			return nil, err
		}
	}
	e.metrics.SetTotalDebt(e.debts.Total())
	return e, nil
}

// SetPauses replaces the pause view consulted by deposit, mint and redeem.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, moduleName)
}

type operationKey struct{}

// inOperation reports whether ctx was handed out by one of e's operations to
// an external effect.
func (e *Engine) inOperation(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(operationKey{}).(*Engine)
	return owner == e
}

// readLock takes the read lock unless the caller is re-entering from an
// effect of the operation that already holds the write lock, in which case it
// reads the staged state directly. Only the ctx handed to the effect marks
// re-entry; a fresh context waits for the operation like any other reader.
func (e *Engine) readLock(ctx context.Context) func() {
	if e.inOperation(ctx) {
		return func() {}
	}
	e.mu.RLock()
	return e.mu.RUnlock
}

// Self returns the engine's custody address.
func (e *Engine) Self() common.Address { return e.self }

// Params returns a copy of the construction parameters.
func (e *Engine) Params() Params { return e.params.Clone() }

func (e *Engine) LiquidationThreshold() uint64    { return e.params.LiquidationThreshold }
func (e *Engine) LiquidationPrecision() uint64    { return e.params.LiquidationPrecision }
func (e *Engine) LiquidationBonusDivisor() uint64 { return e.params.LiquidationBonusDivisor }
func (e *Engine) MinHealthFactor() *uint256.Int   { return e.params.MinHealthFactor.Clone() }

// CollateralTokens lists the admitted tokens in configuration order.
func (e *Engine) CollateralTokens() []common.Address {
	return append([]common.Address(nil), e.assets.order...)
}

// PriceFeedOf returns the feed of token, or the zero address when token is not
// admitted.
func (e *Engine) PriceFeedOf(token common.Address) common.Address {
	if asset, ok := e.assets.byToken[token]; ok {
		return asset.Feed
	}
	return common.Address{}
}

// AssetOf returns the admission entry for token.
func (e *Engine) AssetOf(token common.Address) (Asset, bool) {
	asset, ok := e.assets.byToken[token]
	if !ok {
		return Asset{}, false
	}
	return *asset, true
}

// CollateralBalanceOf returns user's deposited quantity of token.
func (e *Engine) CollateralBalanceOf(ctx context.Context, user, token common.Address) *uint256.Int {
	defer e.readLock(ctx)()
	return e.collateral.BalanceOf(user, token)
}

// DebtOf returns user's minted debt.
func (e *Engine) DebtOf(ctx context.Context, user common.Address) *uint256.Int {
	defer e.readLock(ctx)()
	return e.debts.DebtOf(user)
}

// TotalDebt returns the aggregate debt across all positions.
func (e *Engine) TotalDebt(ctx context.Context) *uint256.Int {
	defer e.readLock(ctx)()
	return e.debts.Total()
}

// CollateralValue returns the common-currency value of user's collateral.
func (e *Engine) CollateralValue(ctx context.Context, user common.Address) (*uint256.Int, error) {
	defer e.readLock(ctx)()
	return e.valuation.TotalValueOf(ctx, user)
}

// AccountInformation returns user's debt and total collateral value.
func (e *Engine) AccountInformation(ctx context.Context, user common.Address) (AccountInformation, error) {
	defer e.readLock(ctx)()
	value, err := e.valuation.TotalValueOf(ctx, user)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{TotalDebt: e.debts.DebtOf(user), CollateralValue: value}, nil
}

// Position returns the full aggregate view of user's position.
func (e *Engine) Position(ctx context.Context, user common.Address) (Position, error) {
	defer e.readLock(ctx)()
	value, err := e.valuation.TotalValueOf(ctx, user)
	if err != nil {
		return Position{}, err
	}
	debt := e.debts.DebtOf(user)
	hf, err := e.health.CalculateHealthFactor(debt, value)
	if err != nil {
		return Position{}, err
	}
	return Position{
		User:            user,
		Debt:            debt,
		Collateral:      e.collateral.Assets(user),
		CollateralValue: value,
		HealthFactor:    hf,
	}, nil
}

// ValueFromTokenAmount converts amount of token into common-currency value.
func (e *Engine) ValueFromTokenAmount(ctx context.Context, token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return e.valuation.ValueOf(ctx, token, amount)
}

// TokenAmountFromValue converts a common-currency value into a floored
// quantity of token.
func (e *Engine) TokenAmountFromValue(ctx context.Context, token common.Address, value *uint256.Int) (*uint256.Int, error) {
	return e.valuation.QuantityOf(ctx, token, value)
}

// CalculateHealthFactor exposes the pure health-factor formula.
func (e *Engine) CalculateHealthFactor(debt, collateralValue *uint256.Int) (*uint256.Int, error) {
	return e.health.CalculateHealthFactor(debt, collateralValue)
}

// HealthFactorOf returns user's current health factor.
func (e *Engine) HealthFactorOf(ctx context.Context, user common.Address) (*uint256.Int, error) {
	defer e.readLock(ctx)()
	return e.health.HealthFactorOf(ctx, user)
}

// IsHealthy reports whether user's health factor meets the minimum.
func (e *Engine) IsHealthy(ctx context.Context, user common.Address) (bool, error) {
	defer e.readLock(ctx)()
	healthy, _, err := e.health.IsHealthy(ctx, user)
	return healthy, err
}

// RevertIfHealthFactorIsBroken fails with a *BreaksHealthFactorError when user
// is below the minimum health factor.
func (e *Engine) RevertIfHealthFactorIsBroken(ctx context.Context, user common.Address) error {
	defer e.readLock(ctx)()
	return e.health.revertIfBroken(ctx, user)
}
