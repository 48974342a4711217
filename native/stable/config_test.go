package stable

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const sampleMarket = `
[params]
LiquidationThreshold = 50
LiquidationPrecision = 100
LiquidationBonusDivisor = 10
MinHealthFactor = "1000000000000000000"

[stable]
Symbol = "dsc"
Decimals = 18

[[assets]]
Symbol = "weth"
Token = "0x00000000000000000000000000000000000000c1"
Feed = "0x00000000000000000000000000000000000000f1"
Decimals = 18
FeedDecimals = 8
InitialAnswer = "200000000000"

[[assets]]
Symbol = "WBTC"
Token = "0x00000000000000000000000000000000000000c2"
Feed = "0x00000000000000000000000000000000000000f2"
Decimals = 8
FeedDecimals = 8
`

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(sampleMarket)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Stable.Symbol != "DSC" || cfg.Assets[0].Symbol != "WETH" {
		t.Fatalf("symbols not normalised: %+v", cfg)
	}
	params, err := cfg.EngineParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.LiquidationBonusDivisor != 10 || !params.MinHealthFactor.Eq(wad) {
		t.Fatalf("unexpected params %+v", params)
	}
	tokens, feeds := cfg.Addresses()
	if tokens[1] != wbtcAddr || feeds[0] != ethFeedAddr {
		t.Fatalf("unexpected addresses %v %v", tokens, feeds)
	}
	answer, err := cfg.Assets[0].Answer()
	if err != nil || answer.String() != "200000000000" {
		t.Fatalf("answer = %v, err %v", answer, err)
	}
	if answer, err := cfg.Assets[1].Answer(); err != nil || answer != nil {
		t.Fatalf("unset answer should be nil, got %v %v", answer, err)
	}
}

func TestDecodeConfigDefaults(t *testing.T) {
	cfg, err := DecodeConfig(`
[[assets]]
Symbol = "WETH"
Token = "0x00000000000000000000000000000000000000c1"
Feed = "0x00000000000000000000000000000000000000f1"
`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	params, err := cfg.EngineParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	defaults := DefaultParams()
	if params.LiquidationThreshold != defaults.LiquidationThreshold || !params.MinHealthFactor.Eq(defaults.MinHealthFactor) {
		t.Fatalf("defaults not applied: %+v", params)
	}
	if cfg.Stable.Symbol != "DSC" || cfg.Stable.Decimals != 18 {
		t.Fatalf("stable defaults not applied: %+v", cfg.Stable)
	}
}

func TestDecodeConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no assets":     `[params]` + "\nLiquidationThreshold = 50\n",
		"bad token":     "[[assets]]\nSymbol = \"X\"\nToken = \"nope\"\nFeed = \"0x00000000000000000000000000000000000000f1\"\n",
		"unknown key":   "Extra = 1\n[[assets]]\nSymbol = \"X\"\nToken = \"0x00000000000000000000000000000000000000c1\"\nFeed = \"0x00000000000000000000000000000000000000f1\"\n",
		"threshold":     "[params]\nLiquidationThreshold = 101\n[[assets]]\nSymbol = \"X\"\nToken = \"0x00000000000000000000000000000000000000c1\"\nFeed = \"0x00000000000000000000000000000000000000f1\"\n",
		"min health hf": "[params]\nMinHealthFactor = \"1.5\"\n[[assets]]\nSymbol = \"X\"\nToken = \"0x00000000000000000000000000000000000000c1\"\nFeed = \"0x00000000000000000000000000000000000000f1\"\n",
	}
	for name, data := range cases {
		if _, err := DecodeConfig(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := DecodeConfig("[params]\nLiquidationThreshold = 101\n[[assets]]\nSymbol = \"X\"\nToken = \"0x00000000000000000000000000000000000000c1\"\nFeed = \"0x00000000000000000000000000000000000000f1\"\n")
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.toml")
	if err := os.WriteFile(path, []byte(sampleMarket), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Assets) != 2 || common.HexToAddress(cfg.Assets[1].Feed) != btcFeedAddr {
		t.Fatalf("unexpected assets %+v", cfg.Assets)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "missing.toml") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}
