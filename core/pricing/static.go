package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// StaticFeed is an operator-driven PriceFeed. Answers only change through
// SetAnswer, which makes it suitable for tests and for deployments where prices
// are pushed by an external publisher.
type StaticFeed struct {
	mu        sync.RWMutex
	decimals  uint8
	answer    *big.Int
	round     uint64
	updatedAt time.Time
	failure   error
	now       func() time.Time
}

// NewStaticFeed creates a feed reporting answer with the given decimals.
func NewStaticFeed(decimals uint8, answer *big.Int) *StaticFeed {
	f := &StaticFeed{decimals: decimals, now: time.Now}
	f.SetAnswer(answer)
	return f
}

// SetAnswer publishes a new answer and advances the round.
func (f *StaticFeed) SetAnswer(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if answer == nil {
		f.answer = nil
	} else {
		f.answer = new(big.Int).Set(answer)
	}
	f.round++
	f.updatedAt = f.now().UTC()
}

// SetFailure makes subsequent reads fail with err until cleared with nil.
func (f *StaticFeed) SetFailure(err error) {
	f.mu.Lock()
	f.failure = err
	f.mu.Unlock()
}

// Decimals implements PriceFeed.
func (f *StaticFeed) Decimals(context.Context) (uint8, error) {
	return f.decimals, nil
}

// LatestRoundData implements PriceFeed.
func (f *StaticFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	if err := ctx.Err(); err != nil {
		return RoundData{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failure != nil {
		return RoundData{}, f.failure
	}
	if f.answer == nil {
		return RoundData{}, fmt.Errorf("pricing: no answer published")
	}
	return RoundData{
		RoundID:   f.round,
		Answer:    new(big.Int).Set(f.answer),
		UpdatedAt: f.updatedAt,
	}, nil
}
