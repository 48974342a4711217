package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TargetDecimals is the fixed-point precision every normalized price uses.
const TargetDecimals = 18

// maxFeedDecimals bounds the scaling exponent so 10^d stays inside 256 bits.
const maxFeedDecimals = 76

// ErrFeedUnavailable reports that a price could not be obtained or was not usable.
var ErrFeedUnavailable = errors.New("pricing: feed unavailable")

// RoundData is a single answer reported by a price feed.
type RoundData struct {
	RoundID   uint64
	Answer    *big.Int
	UpdatedAt time.Time
}

// PriceFeed is the external source of prices for one asset.
type PriceFeed interface {
	// Decimals reports the number of fractional digits in Answer. The value is
	// read once per feed and trusted afterwards.
	Decimals(ctx context.Context) (uint8, error)
	// LatestRoundData returns the most recent answer.
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// FeedSource resolves feed identifiers to feeds.
type FeedSource interface {
	Feed(addr common.Address) (PriceFeed, bool)
}

// Quote is a normalized price observation. It is never persisted.
type Quote struct {
	Asset        common.Address
	Feed         common.Address
	Raw          *big.Int
	FeedDecimals uint8
	// Price carries TargetDecimals fractional digits.
	Price     *uint256.Int
	RoundID   uint64
	UpdatedAt time.Time
}

// Adapter converts raw feed answers into TargetDecimals fixed point. Prices are
// fetched on every call; only the feed decimals are memoized.
type Adapter struct {
	source FeedSource

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewAdapter wraps the supplied feed source.
func NewAdapter(source FeedSource) (*Adapter, error) {
	if source == nil {
		return nil, fmt.Errorf("pricing: feed source required")
	}
	return &Adapter{source: source, decimals: make(map[common.Address]uint8)}, nil
}

// Quote fetches the current price for asset from feed and normalizes it.
func (a *Adapter) Quote(ctx context.Context, asset, feedAddr common.Address) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("%w: adapter not initialised", ErrFeedUnavailable)
	}
	feed, ok := a.source.Feed(feedAddr)
	if !ok || feed == nil {
		return Quote{}, fmt.Errorf("%w: no feed registered at %s", ErrFeedUnavailable, feedAddr.Hex())
	}
	decimals, err := a.feedDecimals(ctx, feedAddr, feed)
	if err != nil {
		return Quote{}, err
	}
	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: feed %s: %w", ErrFeedUnavailable, feedAddr.Hex(), err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: feed %s returned non-positive price", ErrFeedUnavailable, feedAddr.Hex())
	}
	price, err := Normalize(round.Answer, decimals)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: feed %s: %w", ErrFeedUnavailable, feedAddr.Hex(), err)
	}
	return Quote{
		Asset:        asset,
		Feed:         feedAddr,
		Raw:          new(big.Int).Set(round.Answer),
		FeedDecimals: decimals,
		Price:        price,
		RoundID:      round.RoundID,
		UpdatedAt:    round.UpdatedAt,
	}, nil
}

func (a *Adapter) feedDecimals(ctx context.Context, addr common.Address, feed PriceFeed) (uint8, error) {
	a.mu.RLock()
	decimals, ok := a.decimals[addr]
	a.mu.RUnlock()
	if ok {
		return decimals, nil
	}
	decimals, err := feed.Decimals(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: feed %s decimals: %w", ErrFeedUnavailable, addr.Hex(), err)
	}
	if decimals > maxFeedDecimals {
		return 0, fmt.Errorf("%w: feed %s reports %d decimals", ErrFeedUnavailable, addr.Hex(), decimals)
	}
	a.mu.Lock()
	a.decimals[addr] = decimals
	a.mu.Unlock()
	return decimals, nil
}

// Normalize rescales answer from decimals fractional digits to TargetDecimals.
// Scaling down floors; a result of zero is rejected as unusable.
func Normalize(answer *big.Int, decimals uint8) (*uint256.Int, error) {
	if answer == nil || answer.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive price")
	}
	scaled := new(big.Int).Set(answer)
	switch {
	case decimals < TargetDecimals:
		scaled.Mul(scaled, pow10(TargetDecimals-decimals))
	case decimals > TargetDecimals:
		scaled.Quo(scaled, pow10(decimals-TargetDecimals))
	}
	if scaled.Sign() == 0 {
		return nil, fmt.Errorf("price below %d-decimal resolution", TargetDecimals)
	}
	price, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("price exceeds 256 bits")
	}
	return price, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Registry is an in-process FeedSource keyed by feed address.
type Registry struct {
	mu    sync.RWMutex
	feeds map[common.Address]PriceFeed
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[common.Address]PriceFeed)}
}

// Register adds or replaces the feed stored under addr.
func (r *Registry) Register(addr common.Address, feed PriceFeed) {
	if r == nil || feed == nil {
		return
	}
	r.mu.Lock()
	r.feeds[addr] = feed
	r.mu.Unlock()
}

// Feed implements FeedSource.
func (r *Registry) Feed(addr common.Address) (PriceFeed, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[addr]
	return feed, ok
}
