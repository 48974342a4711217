package stable

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/storage"
)

func TestLedgersSurviveRestart(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	h.open(liquidator, ether(4), ether(1000))
	if err := h.engine.RedeemCollateral(context.Background(), user, wethAddr, ether(3)); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	restarted := h.build()
	ctx := context.Background()
	if got := restarted.CollateralBalanceOf(ctx, user, wethAddr); !got.Eq(ether(7)) {
		t.Fatalf("restored collateral = %s", got.Dec())
	}
	if got := restarted.DebtOf(ctx, liquidator); !got.Eq(ether(1000)) {
		t.Fatalf("restored debt = %s", got.Dec())
	}
	if got := restarted.TotalDebt(ctx); !got.Eq(ether(1100)) {
		t.Fatalf("restored total debt = %s", got.Dec())
	}
}

func TestRepaidPositionIsRemovedFromStore(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(1), ether(10))
	if err := h.dsc.Approve(user, engineAddr, ether(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := h.engine.RedeemCollateralForDebt(context.Background(), user, wethAddr, ether(1), ether(10)); err != nil {
		t.Fatalf("redeem for debt: %v", err)
	}
	if _, err := h.store.Get(debtStorageKey(user)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected debt entry to be deleted, got %v", err)
	}
	if _, err := h.store.Get(collateralStorageKey(user, wethAddr)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected collateral entry to be deleted, got %v", err)
	}
}

// brokenStore fails every batch write.
type brokenStore struct {
	*storage.MemDB
}

func (brokenStore) Write(*storage.Batch) error { return errors.New("write stalled") }

func TestPersistFailureStopsBeforeEffects(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.deps.Store = brokenStore{MemDB: storage.NewMemDB()}
	})
	h.fund(h.weth, user, ether(2))
	err := h.engine.DepositCollateral(context.Background(), user, wethAddr, ether(2))
	if err == nil {
		t.Fatalf("expected persist failure")
	}
	h.requireCollateral(user, new(uint256.Int))
	if got := h.weth.BalanceOf(user); !got.Eq(ether(2)) {
		t.Fatalf("collateral left the user despite failed persist: %s", got.Dec())
	}
}

func TestFailedOperationRewritesPersistedEntries(t *testing.T) {
	h := newHarness(t)
	h.open(user, ether(10), ether(100))
	// Stable pull fails after the ledger entries were written.
	if err := h.engine.BurnDebt(context.Background(), user, ether(50)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	raw, err := h.store.Get(debtStorageKey(user))
	if err != nil {
		t.Fatalf("debt entry: %v", err)
	}
	if got := new(uint256.Int).SetBytes(raw); !got.Eq(ether(100)) {
		t.Fatalf("persisted debt = %s, want restored 100", got.Dec())
	}
}

func TestRestoreRejectsUnadmittedCollateral(t *testing.T) {
	h := newHarness(t)
	stray := common.HexToAddress("0x00000000000000000000000000000000000000c9")
	value := ether(1).Bytes32()
	if err := h.store.Put(collateralStorageKey(user, stray), value[:]); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := NewEngine(DefaultParams(),
		[]common.Address{wethAddr, wbtcAddr},
		[]common.Address{ethFeedAddr, btcFeedAddr},
		h.deps)
	if !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected ErrNotAllowedToken, got %v", err)
	}
}

func TestLevelDBBackedEngine(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	h := newHarness(t, func(h *harness) { h.deps.Store = db })
	h.open(user, ether(5), ether(50))

	restarted := h.build()
	if got := restarted.DebtOf(context.Background(), user); !got.Eq(ether(50)) {
		t.Fatalf("restored debt = %s", got.Dec())
	}
}
