package stable

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the market table: engine constants, the stable asset, and the
// admitted collateral with its feeds.
type Config struct {
	Params ParamsConfig  `toml:"params"`
	Stable StableConfig  `toml:"stable"`
	Assets []AssetConfig `toml:"assets"`
}

type ParamsConfig struct {
	LiquidationThreshold    uint64 `toml:"LiquidationThreshold"`
	LiquidationPrecision    uint64 `toml:"LiquidationPrecision"`
	LiquidationBonusDivisor uint64 `toml:"LiquidationBonusDivisor"`
	// MinHealthFactor is an 18-decimal fixed-point integer string.
	MinHealthFactor string `toml:"MinHealthFactor"`
}

type StableConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// AssetConfig admits one collateral token. FeedDecimals and InitialAnswer
// seed an in-process feed when the deployment has no external oracle.
type AssetConfig struct {
	Symbol        string `toml:"Symbol"`
	Token         string `toml:"Token"`
	Feed          string `toml:"Feed"`
	Decimals      uint8  `toml:"Decimals"`
	FeedDecimals  uint8  `toml:"FeedDecimals"`
	InitialAnswer string `toml:"InitialAnswer"`
}

// LoadConfig reads a market table from path.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("stable config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("stable config %s: unknown key %s", path, undecoded[0])
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("stable config %s: %w", path, err)
	}
	return cfg, nil
}

// DecodeConfig parses a market table from TOML text.
func DecodeConfig(data string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	defaults := DefaultParams()
	if c.Params.LiquidationThreshold == 0 {
		c.Params.LiquidationThreshold = defaults.LiquidationThreshold
	}
	if c.Params.LiquidationPrecision == 0 {
		c.Params.LiquidationPrecision = defaults.LiquidationPrecision
	}
	if c.Params.LiquidationBonusDivisor == 0 {
		c.Params.LiquidationBonusDivisor = defaults.LiquidationBonusDivisor
	}
	c.Params.MinHealthFactor = strings.TrimSpace(c.Params.MinHealthFactor)
	if c.Params.MinHealthFactor == "" {
		c.Params.MinHealthFactor = defaults.MinHealthFactor.Dec()
	}
	c.Stable.Symbol = strings.ToUpper(strings.TrimSpace(c.Stable.Symbol))
	if c.Stable.Symbol == "" {
		c.Stable.Symbol = "DSC"
	}
	if c.Stable.Decimals == 0 {
		c.Stable.Decimals = 18
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one collateral asset required")
	}
	for i := range c.Assets {
		asset := &c.Assets[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		asset.Token = strings.TrimSpace(asset.Token)
		asset.Feed = strings.TrimSpace(asset.Feed)
		asset.InitialAnswer = strings.TrimSpace(asset.InitialAnswer)
		if asset.Symbol == "" {
			return fmt.Errorf("assets[%d]: symbol required", i)
		}
		if !common.IsHexAddress(asset.Token) {
			return fmt.Errorf("assets[%d] %s: invalid token address %q", i, asset.Symbol, asset.Token)
		}
		if !common.IsHexAddress(asset.Feed) {
			return fmt.Errorf("assets[%d] %s: invalid feed address %q", i, asset.Symbol, asset.Feed)
		}
	}
	_, err := c.EngineParams()
	return err
}

// EngineParams converts the [params] table into validated Params.
func (c *Config) EngineParams() (Params, error) {
	minHF, err := uint256.FromDecimal(c.Params.MinHealthFactor)
	if err != nil {
		return Params{}, fmt.Errorf("%w: MinHealthFactor %q: %v", ErrInvalidParams, c.Params.MinHealthFactor, err)
	}
	params := Params{
		LiquidationThreshold:    c.Params.LiquidationThreshold,
		LiquidationPrecision:    c.Params.LiquidationPrecision,
		LiquidationBonusDivisor: c.Params.LiquidationBonusDivisor,
		MinHealthFactor:         minHF,
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// Addresses returns the parallel token and feed lists in table order.
func (c *Config) Addresses() (tokens, feeds []common.Address) {
	tokens = make([]common.Address, len(c.Assets))
	feeds = make([]common.Address, len(c.Assets))
	for i, asset := range c.Assets {
		tokens[i] = common.HexToAddress(asset.Token)
		feeds[i] = common.HexToAddress(asset.Feed)
	}
	return tokens, feeds
}

// Answer parses InitialAnswer, returning nil when it is unset.
func (a AssetConfig) Answer() (*big.Int, error) {
	if a.InitialAnswer == "" {
		return nil, nil
	}
	answer, ok := new(big.Int).SetString(a.InitialAnswer, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid initial answer %q", a.Symbol, a.InitialAnswer)
	}
	return answer, nil
}
