package pricing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type countingFeed struct {
	*StaticFeed
	decimalCalls int
}

func (c *countingFeed) Decimals(ctx context.Context) (uint8, error) {
	c.decimalCalls++
	return c.StaticFeed.Decimals(ctx)
}

var (
	wethToken = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	wethFeed  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func TestAdapterScalesUpEightDecimalFeed(t *testing.T) {
	registry := NewRegistry()
	registry.Register(wethFeed, NewStaticFeed(8, big.NewInt(2000_00000000)))
	adapter, err := NewAdapter(registry)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	quote, err := adapter.Quote(context.Background(), wethToken, wethFeed)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := uint256.MustFromDecimal("2000000000000000000000")
	if !quote.Price.Eq(want) {
		t.Fatalf("unexpected normalized price: %s", quote.Price.Dec())
	}
	if quote.FeedDecimals != 8 || quote.RoundID != 1 || quote.Asset != wethToken {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}
}

func TestAdapterScalesDownWideFeed(t *testing.T) {
	registry := NewRegistry()
	answer, _ := new(big.Int).SetString("1500000000000000000000", 10)
	registry.Register(wethFeed, NewStaticFeed(20, answer))
	adapter, _ := NewAdapter(registry)

	quote, err := adapter.Quote(context.Background(), wethToken, wethFeed)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	expected, _ := uint256.FromBig(new(big.Int).Quo(answer, big.NewInt(100)))
	if !quote.Price.Eq(expected) {
		t.Fatalf("unexpected normalized price: %s", quote.Price.Dec())
	}
}

func TestAdapterRejectsUnusablePrices(t *testing.T) {
	cases := map[string]*big.Int{
		"zero":     big.NewInt(0),
		"negative": big.NewInt(-5),
		"nil":      nil,
	}
	for name, answer := range cases {
		t.Run(name, func(t *testing.T) {
			registry := NewRegistry()
			registry.Register(wethFeed, NewStaticFeed(8, answer))
			adapter, _ := NewAdapter(registry)
			if _, err := adapter.Quote(context.Background(), wethToken, wethFeed); !errors.Is(err, ErrFeedUnavailable) {
				t.Fatalf("expected ErrFeedUnavailable, got %v", err)
			}
		})
	}
}

func TestAdapterRejectsUnknownAndFailingFeeds(t *testing.T) {
	registry := NewRegistry()
	adapter, _ := NewAdapter(registry)
	if _, err := adapter.Quote(context.Background(), wethToken, wethFeed); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable for unknown feed, got %v", err)
	}

	feed := NewStaticFeed(8, big.NewInt(1))
	outage := errors.New("rpc unreachable")
	feed.SetFailure(outage)
	registry.Register(wethFeed, feed)
	_, err := adapter.Quote(context.Background(), wethToken, wethFeed)
	if !errors.Is(err, ErrFeedUnavailable) || !errors.Is(err, outage) {
		t.Fatalf("expected wrapped outage, got %v", err)
	}
}

func TestAdapterReadsDecimalsOnceButPriceEveryCall(t *testing.T) {
	registry := NewRegistry()
	feed := &countingFeed{StaticFeed: NewStaticFeed(8, big.NewInt(100_00000000))}
	registry.Register(wethFeed, feed)
	adapter, _ := NewAdapter(registry)

	first, err := adapter.Quote(context.Background(), wethToken, wethFeed)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	feed.SetAnswer(big.NewInt(50_00000000))
	second, err := adapter.Quote(context.Background(), wethToken, wethFeed)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if feed.decimalCalls != 1 {
		t.Fatalf("expected decimals to be read once, got %d", feed.decimalCalls)
	}
	if first.Price.Eq(second.Price) {
		t.Fatalf("expected fresh price on second quote")
	}
	if second.RoundID != 2 {
		t.Fatalf("expected round 2, got %d", second.RoundID)
	}
}

func TestNormalizeRejectsDustBelowResolution(t *testing.T) {
	if _, err := Normalize(big.NewInt(9), 19); err == nil {
		t.Fatalf("expected error for price that floors to zero")
	}
}
