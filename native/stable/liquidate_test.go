package stable

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/events"
)

func mustDecimal(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// prepareLiquidator gives the liquidator stable to repay with and approves the
// engine to pull it.
func (h *harness) prepareLiquidator(collateral, debt *uint256.Int) {
	h.t.Helper()
	h.open(liquidator, collateral, debt)
	if err := h.dsc.Approve(liquidator, engineAddr, debt); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func TestLiquidateFullDebtSeizesBonus(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(20), ether(100))
	h.setEthPrice(18)
	ctx := context.Background()

	before, err := h.engine.CollateralValue(ctx, user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	result, err := h.engine.Liquidate(ctx, liquidator, user, wethAddr, ether(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 100/18 = 5.555555555555555555 WETH plus a tenth of that.
	wantSeized := mustDecimal(t, "6111111111111111110")
	if !result.CollateralSeized.Eq(wantSeized) {
		t.Fatalf("seized %s, want %s", result.CollateralSeized.Dec(), wantSeized.Dec())
	}
	if !result.Bonus.Eq(mustDecimal(t, "555555555555555555")) {
		t.Fatalf("bonus %s", result.Bonus.Dec())
	}
	if FormatWad(result.StartingHealthFactor) != "0.9" || !result.EndingHealthFactor.Eq(MaxHealthFactor()) {
		t.Fatalf("unexpected health factors %s -> %s",
			FormatWad(result.StartingHealthFactor), FormatWad(result.EndingHealthFactor))
	}
	if result.OperationID == "" {
		t.Fatalf("missing operation id")
	}

	h.requireDebt(user, new(uint256.Int))
	h.requireCollateral(user, new(uint256.Int).Sub(ether(10), wantSeized))
	after, err := h.engine.CollateralValue(ctx, user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	seizedValue, err := h.engine.ValueFromTokenAmount(ctx, wethAddr, wantSeized)
	if err != nil {
		t.Fatalf("seized value: %v", err)
	}
	if !new(uint256.Int).Sub(before, seizedValue).Eq(after) {
		t.Fatalf("value after %s, want %s - %s", after.Dec(), before.Dec(), seizedValue.Dec())
	}

	if got := h.weth.BalanceOf(liquidator); !got.Eq(wantSeized) {
		t.Fatalf("liquidator received %s", got.Dec())
	}
	if got := h.dsc.BalanceOf(liquidator); !got.IsZero() {
		t.Fatalf("liquidator still holds %s stable", got.Dec())
	}
	h.requireDebt(liquidator, ether(100))
	if got := h.dsc.TotalSupply(); !got.Eq(ether(100)) {
		t.Fatalf("stable supply = %s", got.Dec())
	}

	last := h.emitter.events[len(h.emitter.events)-1]
	liquidated, ok := last.(events.PositionLiquidated)
	if !ok || liquidated.OperationID != result.OperationID || !liquidated.CollateralSeized.Eq(wantSeized) {
		t.Fatalf("unexpected final event %#v", last)
	}
	if h.metrics.liquidations != 1 {
		t.Fatalf("liquidations recorded = %d", h.metrics.liquidations)
	}
}

func TestLiquidatePartialCover(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(20), ether(100))
	h.setEthPrice(18)

	result, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(50))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.EndingHealthFactor.Gt(result.StartingHealthFactor) {
		t.Fatalf("health factor did not improve")
	}
	h.requireDebt(user, ether(50))
}

func TestLiquidateRequiresImprovement(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(30), ether(50))
	// At $10 the position is worth exactly its debt, so the bonus makes any
	// partial liquidation worse for the user.
	h.setEthPrice(10)

	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(50))
	if !errors.Is(err, ErrHealthFactorNotImproved) {
		t.Fatalf("expected ErrHealthFactorNotImproved, got %v", err)
	}
	h.requireDebt(user, ether(100))
	h.requireCollateral(user, ether(10))
	if got := h.dsc.BalanceOf(liquidator); !got.Eq(ether(50)) {
		t.Fatalf("liquidator stable moved: %s", got.Dec())
	}
	if got := h.weth.BalanceOf(liquidator); !got.IsZero() {
		t.Fatalf("liquidator received collateral: %s", got.Dec())
	}
}

func TestLiquidateCannotSeizeMoreThanDeposited(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(30), ether(100))
	h.setEthPrice(10)

	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(100))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	h.requireDebt(user, ether(100))
}

func TestLiquidateHealthyPosition(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(10))
	var ok *HealthFactorOkError
	if !errors.As(err, &ok) || ok.User != user || !ok.HealthFactor.Eq(ether(100)) {
		t.Fatalf("expected HealthFactorOkError(100), got %v", err)
	}
}

func TestLiquidateUnknownToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Liquidate(context.Background(), liquidator, user, common.HexToAddress("0xabc"), ether(1))
	if !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected ErrNotAllowedToken, got %v", err)
	}
}

func TestLiquidatorMustStayHealthy(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(11), ether(100))
	// The liquidator ends at 11*18*0.5/100 = 0.99.
	h.setEthPrice(18)

	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(50))
	var broken *BreaksHealthFactorError
	if !errors.As(err, &broken) || broken.User != liquidator {
		t.Fatalf("expected BreaksHealthFactorError for the liquidator, got %v", err)
	}
	h.requireDebt(user, ether(100))
	h.requireCollateral(user, ether(10))
}

func TestLiquidateWithoutStableRollsBack(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.open(liquidator, ether(20), ether(100))
	h.setEthPrice(18)

	// The liquidator never approved the engine to pull its stable.
	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	h.requireDebt(user, ether(100))
	h.requireCollateral(user, ether(10))
	if got := h.weth.BalanceOf(liquidator); !got.IsZero() {
		t.Fatalf("liquidator received collateral: %s", got.Dec())
	}
}

func TestLiquidateCollateralTransferFailureUndoesBurn(t *testing.T) {
	fc := &faultyCollateral{}
	h := newHarness(t, withFaultyWeth(fc))
	h.open(user, ether(10), ether(100))
	h.prepareLiquidator(ether(20), ether(100))
	h.setEthPrice(18)
	fc.failTransfer = true

	_, err := h.engine.Liquidate(context.Background(), liquidator, user, wethAddr, ether(100))
	if !errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrRollbackIncomplete) {
		t.Fatalf("expected clean transfer failure, got %v", err)
	}
	h.requireDebt(user, ether(100))
	if got := h.dsc.BalanceOf(liquidator); !got.Eq(ether(100)) {
		t.Fatalf("liquidator stable = %s", got.Dec())
	}
	if got := h.dsc.TotalSupply(); !got.Eq(ether(200)) {
		t.Fatalf("stable supply = %s", got.Dec())
	}
}
