package stable

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/events"
	"stablecore/core/pricing"
	"stablecore/native/token"
	"stablecore/storage"
)

var (
	engineAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	issuerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	wethAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	wbtcAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	ethFeedAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	btcFeedAddr = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	user        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	liquidator  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// ether returns n whole units at 18 decimals.
func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), wad)
}

func usd(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000)) }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}

type recordingMetrics struct {
	mu           sync.Mutex
	outcomes     map[string]int
	liquidations int
	totalDebt    *uint256.Int
}

func (m *recordingMetrics) ObserveOperation(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[kind+"/"+outcome]++
}

func (m *recordingMetrics) RecordLiquidation(common.Address, *uint256.Int, *uint256.Int) {
	m.mu.Lock()
	m.liquidations++
	m.mu.Unlock()
}

func (m *recordingMetrics) SetTotalDebt(total *uint256.Int) {
	m.mu.Lock()
	m.totalDebt = total.Clone()
	m.mu.Unlock()
}

type harness struct {
	t       *testing.T
	engine  *Engine
	weth    *token.Ledger
	wbtc    *token.Ledger
	dsc     *token.Ledger
	ethFeed *pricing.StaticFeed
	btcFeed *pricing.StaticFeed
	feeds   *pricing.Registry
	store   *storage.MemDB
	emitter *recordingEmitter
	metrics *recordingMetrics
	deps    Deps
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ethFeed: pricing.NewStaticFeed(8, usd(2000)),
		btcFeed: pricing.NewStaticFeed(8, usd(30000)),
		feeds:   pricing.NewRegistry(),
		store:   storage.NewMemDB(),
		emitter: &recordingEmitter{},
		metrics: &recordingMetrics{},
	}
	var err error
	if h.weth, err = token.New("WETH", 18, issuerAddr, nil); err != nil {
		t.Fatalf("weth: %v", err)
	}
	if h.wbtc, err = token.New("WBTC", 8, issuerAddr, nil); err != nil {
		t.Fatalf("wbtc: %v", err)
	}
	if h.dsc, err = token.New("DSC", 18, engineAddr, nil); err != nil {
		t.Fatalf("dsc: %v", err)
	}
	h.feeds.Register(ethFeedAddr, h.ethFeed)
	h.feeds.Register(btcFeedAddr, h.btcFeed)
	h.deps = Deps{
		Self:   engineAddr,
		Stable: h.dsc.Bind(engineAddr),
		Collateral: CollateralMap{
			wethAddr: h.weth.Bind(engineAddr),
			wbtcAddr: h.wbtc.Bind(engineAddr),
		},
		Feeds:   h.feeds,
		Store:   h.store,
		Emitter: h.emitter,
		Metrics: h.metrics,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.engine = h.build()
	return h
}

func (h *harness) build() *Engine {
	h.t.Helper()
	engine, err := NewEngine(DefaultParams(),
		[]common.Address{wethAddr, wbtcAddr},
		[]common.Address{ethFeedAddr, btcFeedAddr},
		h.deps)
	if err != nil {
		h.t.Fatalf("new engine: %v", err)
	}
	return engine
}

// fund mints collateral to who and approves the engine to pull it.
func (h *harness) fund(ledger *token.Ledger, who common.Address, amount *uint256.Int) {
	h.t.Helper()
	if err := ledger.Mint(issuerAddr, who, amount); err != nil {
		h.t.Fatalf("fund %s: %v", ledger.Symbol(), err)
	}
	if err := ledger.Approve(who, engineAddr, ledger.BalanceOf(who)); err != nil {
		h.t.Fatalf("approve %s: %v", ledger.Symbol(), err)
	}
}

// open deposits collateral WETH for who and mints debt against it.
func (h *harness) open(who common.Address, collateral, debt *uint256.Int) {
	h.t.Helper()
	h.fund(h.weth, who, collateral)
	if err := h.engine.DepositAndMint(context.Background(), who, wethAddr, collateral, debt); err != nil {
		h.t.Fatalf("deposit and mint: %v", err)
	}
}

func (h *harness) setEthPrice(dollars int64) {
	h.ethFeed.SetAnswer(usd(dollars))
}

func (h *harness) requireCollateral(who common.Address, want *uint256.Int) {
	h.t.Helper()
	if got := h.engine.CollateralBalanceOf(context.Background(), who, wethAddr); !got.Eq(want) {
		h.t.Fatalf("collateral of %s = %s, want %s", who.Hex(), got.Dec(), want.Dec())
	}
}

func (h *harness) requireDebt(who common.Address, want *uint256.Int) {
	h.t.Helper()
	if got := h.engine.DebtOf(context.Background(), who); !got.Eq(want) {
		h.t.Fatalf("debt of %s = %s, want %s", who.Hex(), got.Dec(), want.Dec())
	}
}

func TestNewEngineRejectsMismatchedLists(t *testing.T) {
	_, err := NewEngine(DefaultParams(),
		[]common.Address{wethAddr, wbtcAddr},
		[]common.Address{ethFeedAddr},
		Deps{})
	if !errors.Is(err, ErrTokenAndFeedLengthMismatch) {
		t.Fatalf("expected ErrTokenAndFeedLengthMismatch, got %v", err)
	}
}

func TestNewEngineValidatesAdmissions(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name   string
		tokens []common.Address
		feeds  []common.Address
		want   error
	}{
		{"duplicate", []common.Address{wethAddr, wethAddr}, []common.Address{ethFeedAddr, btcFeedAddr}, ErrDuplicateToken},
		{"zero token", []common.Address{{}}, []common.Address{ethFeedAddr}, ErrZeroAddress},
		{"zero feed", []common.Address{wethAddr}, []common.Address{{}}, ErrZeroAddress},
		{"no handle", []common.Address{common.HexToAddress("0xdead")}, []common.Address{ethFeedAddr}, ErrUnknownCollateralAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(DefaultParams(), tc.tokens, tc.feeds, h.deps)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	bad := DefaultParams()
	bad.LiquidationBonusDivisor = 0
	if _, err := NewEngine(bad, []common.Address{wethAddr}, []common.Address{ethFeedAddr}, h.deps); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	noSelf := h.deps
	noSelf.Self = common.Address{}
	if _, err := NewEngine(DefaultParams(), nil, nil, noSelf); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestAccessorsReportConfiguration(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	tokens := e.CollateralTokens()
	if len(tokens) != 2 || tokens[0] != wethAddr || tokens[1] != wbtcAddr {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if e.PriceFeedOf(wbtcAddr) != btcFeedAddr {
		t.Fatalf("unexpected feed for wbtc")
	}
	if e.PriceFeedOf(common.HexToAddress("0x1234")) != (common.Address{}) {
		t.Fatalf("unknown token should map to the zero feed")
	}
	asset, ok := e.AssetOf(wbtcAddr)
	if !ok || asset.Decimals != 8 || !asset.Unit().Eq(uint256.NewInt(100_000_000)) {
		t.Fatalf("unexpected wbtc asset %+v", asset)
	}
	if e.LiquidationThreshold() != 50 || e.LiquidationPrecision() != 100 || e.LiquidationBonusDivisor() != 10 {
		t.Fatalf("unexpected params %+v", e.Params())
	}
	if !e.MinHealthFactor().Eq(wad) {
		t.Fatalf("unexpected min health factor %s", e.MinHealthFactor().Dec())
	}
	stranger := common.HexToAddress("0x9999")
	if got := e.CollateralBalanceOf(context.Background(), stranger, wethAddr); !got.IsZero() {
		t.Fatalf("unknown user should read zero collateral")
	}
	info, err := e.AccountInformation(context.Background(), stranger)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if !info.TotalDebt.IsZero() || !info.CollateralValue.IsZero() {
		t.Fatalf("unknown user should read zero position")
	}
}

func TestCollateralValueMatchesPriceTimesQuantity(t *testing.T) {
	h := newHarness(t)
	h.fund(h.weth, user, ether(15))
	if err := h.engine.DepositCollateral(context.Background(), user, wethAddr, ether(15)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	value, err := h.engine.CollateralValue(context.Background(), user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if !value.Eq(ether(30_000)) {
		t.Fatalf("collateral value = %s, want 30000e18", value.Dec())
	}
	if got := h.weth.BalanceOf(engineAddr); !got.Eq(ether(15)) {
		t.Fatalf("engine custody = %s", got.Dec())
	}
}

func TestCollateralValueSumOverflowIsRejected(t *testing.T) {
	h := newHarness(t)
	// Each asset alone is worth about three quarters of 2^256.
	target := new(uint256.Int).Lsh(uint256.NewInt(3), 254)
	wethQty := new(uint256.Int).Div(target, uint256.NewInt(2000))
	wbtcQty := new(uint256.Int).Div(target, uint256.NewInt(300_000_000_000_000))
	h.fund(h.weth, user, wethQty)
	h.fund(h.wbtc, user, wbtcQty)
	ctx := context.Background()
	if err := h.engine.DepositCollateral(ctx, user, wethAddr, wethQty); err != nil {
		t.Fatalf("deposit weth: %v", err)
	}
	if err := h.engine.DepositCollateral(ctx, user, wbtcAddr, wbtcQty); err != nil {
		t.Fatalf("deposit wbtc: %v", err)
	}
	for token, qty := range map[common.Address]*uint256.Int{wethAddr: wethQty, wbtcAddr: wbtcQty} {
		if _, err := h.engine.ValueFromTokenAmount(ctx, token, qty); err != nil {
			t.Fatalf("value of %s alone: %v", token.Hex(), err)
		}
	}

	_, err := h.engine.CollateralValue(ctx, user)
	if !errors.Is(err, ErrValuationOverflow) {
		t.Fatalf("expected ErrValuationOverflow, got %v", err)
	}
	if !strings.Contains(err.Error(), "total collateral value") {
		t.Fatalf("expected the sum to overflow, got %v", err)
	}
	if _, err := h.engine.Position(ctx, user); !errors.Is(err, ErrValuationOverflow) {
		t.Fatalf("position: expected ErrValuationOverflow, got %v", err)
	}
}

func TestHealthFactorOfOvercollateralizedPosition(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	hf, err := h.engine.HealthFactorOf(context.Background(), user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if !hf.Eq(ether(100)) {
		t.Fatalf("health factor = %s, want 100", FormatWad(hf))
	}
	if got := h.dsc.BalanceOf(user); !got.Eq(ether(100)) {
		t.Fatalf("minted balance = %s", got.Dec())
	}
	pos, err := h.engine.Position(context.Background(), user)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.Debt.Eq(ether(100)) || !pos.Collateral[wethAddr].Eq(ether(10)) || !pos.CollateralValue.Eq(ether(20_000)) {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestPriceDropBreaksHealthFactor(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.setEthPrice(18)

	hf, err := h.engine.HealthFactorOf(context.Background(), user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if FormatWad(hf) != "0.9" {
		t.Fatalf("health factor = %s, want 0.9", FormatWad(hf))
	}
	healthy, err := h.engine.IsHealthy(context.Background(), user)
	if err != nil || healthy {
		t.Fatalf("expected unhealthy position, got healthy=%v err=%v", healthy, err)
	}
	var broken *BreaksHealthFactorError
	err = h.engine.RevertIfHealthFactorIsBroken(context.Background(), user)
	if !errors.As(err, &broken) || !broken.HealthFactor.Eq(hf) {
		t.Fatalf("expected BreaksHealthFactorError(0.9), got %v", err)
	}

	if err := h.engine.MintDebt(context.Background(), user, ether(1)); !errors.As(err, &broken) {
		t.Fatalf("mint: expected BreaksHealthFactorError, got %v", err)
	}
	if err := h.engine.RedeemCollateral(context.Background(), user, wethAddr, uint256.NewInt(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("redeem: expected ErrBreaksHealthFactor, got %v", err)
	}
	h.requireDebt(user, ether(100))
	h.requireCollateral(user, ether(10))
	if got := h.dsc.BalanceOf(user); !got.Eq(ether(100)) {
		t.Fatalf("failed mint changed balance: %s", got.Dec())
	}
}

func TestZeroDebtHasMaxHealthFactor(t *testing.T) {
	h := newHarness(t)
	h.fund(h.weth, user, ether(1))
	if err := h.engine.DepositCollateral(context.Background(), user, wethAddr, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.setEthPrice(1)
	hf, err := h.engine.HealthFactorOf(context.Background(), user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if !hf.Eq(MaxHealthFactor()) {
		t.Fatalf("health factor = %s, want max", hf.Dec())
	}
	_, err = h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(1))
	var ok *HealthFactorOkError
	if !errors.As(err, &ok) || !ok.HealthFactor.Eq(MaxHealthFactor()) {
		t.Fatalf("expected HealthFactorOkError, got %v", err)
	}
}

func TestConversionsFloorAndRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.btcFeed.SetAnswer(big.NewInt(3_012_345_678_901))
	ctx := context.Background()

	quantities := []*uint256.Int{
		uint256.NewInt(1),
		uint256.NewInt(7),
		uint256.NewInt(123_456_789),
		uint256.NewInt(100_000_000),
		new(uint256.Int).Mul(uint256.NewInt(21_000_000), uint256.NewInt(100_000_000)),
	}
	for _, qty := range quantities {
		value, err := h.engine.ValueFromTokenAmount(ctx, wbtcAddr, qty)
		if err != nil {
			t.Fatalf("value of %s: %v", qty.Dec(), err)
		}
		back, err := h.engine.TokenAmountFromValue(ctx, wbtcAddr, value)
		if err != nil {
			t.Fatalf("quantity of %s: %v", value.Dec(), err)
		}
		if back.Gt(qty) {
			t.Fatalf("round trip of %s returned %s", qty.Dec(), back.Dec())
		}
	}

	// 100 dollars at $18 is 5.555... units, floored.
	h.setEthPrice(18)
	qty, err := h.engine.TokenAmountFromValue(ctx, wethAddr, ether(100))
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if qty.Dec() != "5555555555555555555" {
		t.Fatalf("quantity = %s", qty.Dec())
	}

	if _, err := h.engine.ValueFromTokenAmount(ctx, common.HexToAddress("0x77"), ether(1)); !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected ErrNotAllowedToken, got %v", err)
	}
}

func TestFeedFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.ethFeed.SetFailure(errors.New("stale round"))
	if _, err := h.engine.HealthFactorOf(context.Background(), user); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
	if err := h.engine.MintDebt(context.Background(), user, ether(1)); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected mint to fail with ErrFeedUnavailable, got %v", err)
	}
	h.requireDebt(user, ether(100))
}
