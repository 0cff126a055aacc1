package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/internal/ledger"
	"github.com/sarna320/scalp/pkg/quant"
)

// Default flat extrinsic fees in rao, charged per submission whether or
// not the order fills.
const (
	DefaultFlatFeeBuyRao  = 136_963
	DefaultFlatFeeSellRao = 135_688
)

// MarketConfig drives one subnet's trading loop. Money and ratio fields
// arrive as decimal strings and are parsed into settlement integers by
// LoadConfig; the integer fields are the only ones trading code reads.
type MarketConfig struct {
	NetUID          uint16 `yaml:"netuid"`
	ValidatorHotkey string `yaml:"validator_hotkey"`

	ProfitMultiplier   string `yaml:"profit_multiplier"`    // e.g. "1.10"
	SlippageSell       string `yaml:"slippage_sell"`        // e.g. "0.02"
	ActivationPriceBuy string `yaml:"activation_price_buy"` // TAO per alpha
	LimitPriceBuy      string `yaml:"limit_price_buy"`      // TAO per alpha
	StakeAmount        string `yaml:"stake_amount"`         // TAO per buy
	MinSellFraction    string `yaml:"min_sell_fraction"`    // of position, e.g. "0.05"
	MaxSellFraction    string `yaml:"max_sell_fraction"`    // "" or "1" sells whole position

	ProfitMultiplierPPM   int64          `yaml:"-"`
	SlippageSellPPM       int64          `yaml:"-"`
	ActivationPriceBuyRao quant.PriceRao `yaml:"-"`
	LimitPriceBuyRao      quant.PriceRao `yaml:"-"`
	StakeAmountRao        int64          `yaml:"-"`
	MinSellFractionPPM    int64          `yaml:"-"`
	MaxSellFractionPPM    int64          `yaml:"-"`
}

// Config holds every application setting. LoadConfig reads the YAML
// file, applies environment overrides for secrets, parses the decimal
// fields, and validates.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode string `yaml:"mode"` // "paper" or "live"
	} `yaml:"trading"`

	Chain struct {
		WSURL           string `yaml:"ws_url"`
		WalletSeed      string `yaml:"wallet_seed"`
		SubmitTimeoutMS int    `yaml:"submit_timeout_ms"`
		QueryTimeoutMS  int    `yaml:"query_timeout_ms"`
	} `yaml:"chain"`

	Fees struct {
		AlphaFee    string `yaml:"alpha_fee"`     // pool fee ratio, e.g. "0.0005"
		FlatFeeBuy  string `yaml:"flat_fee_buy"`  // TAO, "" uses the default
		FlatFeeSell string `yaml:"flat_fee_sell"` // TAO, "" uses the default

		AlphaFeePPM    int64 `yaml:"-"`
		FlatFeeBuyRao  int64 `yaml:"-"`
		FlatFeeSellRao int64 `yaml:"-"`
	} `yaml:"fees"`

	Ledger struct {
		DustAlpha    string `yaml:"dust_alpha"` // TAO, "" uses 1 rao
		DustAlphaRao int64  `yaml:"-"`
	} `yaml:"ledger"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Markets []MarketConfig `yaml:"markets"`
}

// LoadConfig reads and parses the configuration file. Environment
// variables override file values for secrets.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv lets environment variables take precedence over the
// file for sensitive values.
func overrideWithEnv(cfg *Config) {
	if cfg.Chain.WalletSeed != "" {
		fmt.Println("⚠️  SECURITY WARNING: wallet seed found in config file.")
		fmt.Println("   Recommendation: use the SCALP_WALLET_SEED environment variable instead.")
	}

	if seed := os.Getenv("SCALP_WALLET_SEED"); seed != "" {
		cfg.Chain.WalletSeed = seed
	}
	if url := os.Getenv("SCALP_CHAIN_WS_URL"); url != "" {
		cfg.Chain.WSURL = url
	}
	if mode := os.Getenv("SCALP_TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}

// parse converts the decimal string fields into settlement integers and
// fills defaults for fields left empty.
func (c *Config) parse() error {
	var err error

	if c.Fees.AlphaFee == "" {
		c.Fees.AlphaFeePPM = amm.DefaultAlphaFeePPM
	} else if c.Fees.AlphaFeePPM, err = quant.ParsePPM(c.Fees.AlphaFee); err != nil {
		return fmt.Errorf("fees.alpha_fee: %w", err)
	}

	if c.Fees.FlatFeeBuy == "" {
		c.Fees.FlatFeeBuyRao = DefaultFlatFeeBuyRao
	} else if c.Fees.FlatFeeBuyRao, err = quant.ParseTaoToRao(c.Fees.FlatFeeBuy); err != nil {
		return fmt.Errorf("fees.flat_fee_buy: %w", err)
	}

	if c.Fees.FlatFeeSell == "" {
		c.Fees.FlatFeeSellRao = DefaultFlatFeeSellRao
	} else if c.Fees.FlatFeeSellRao, err = quant.ParseTaoToRao(c.Fees.FlatFeeSell); err != nil {
		return fmt.Errorf("fees.flat_fee_sell: %w", err)
	}

	if c.Ledger.DustAlpha == "" {
		c.Ledger.DustAlphaRao = ledger.DefaultDustAlphaRao
	} else if c.Ledger.DustAlphaRao, err = quant.ParseTaoToRao(c.Ledger.DustAlpha); err != nil {
		return fmt.Errorf("ledger.dust_alpha: %w", err)
	}

	for i := range c.Markets {
		if err := c.Markets[i].parse(); err != nil {
			return fmt.Errorf("markets[%d] (netuid %d): %w", i, c.Markets[i].NetUID, err)
		}
	}
	return nil
}

func (m *MarketConfig) parse() error {
	var err error

	if m.ProfitMultiplierPPM, err = quant.ParsePPM(m.ProfitMultiplier); err != nil {
		return fmt.Errorf("profit_multiplier: %w", err)
	}
	if m.SlippageSellPPM, err = quant.ParsePPM(m.SlippageSell); err != nil {
		return fmt.Errorf("slippage_sell: %w", err)
	}

	var v int64
	if v, err = quant.ParseTaoToRao(m.ActivationPriceBuy); err != nil {
		return fmt.Errorf("activation_price_buy: %w", err)
	}
	m.ActivationPriceBuyRao = quant.PriceRao(v)
	if v, err = quant.ParseTaoToRao(m.LimitPriceBuy); err != nil {
		return fmt.Errorf("limit_price_buy: %w", err)
	}
	m.LimitPriceBuyRao = quant.PriceRao(v)

	if m.StakeAmountRao, err = quant.ParseTaoToRao(m.StakeAmount); err != nil {
		return fmt.Errorf("stake_amount: %w", err)
	}

	if m.MinSellFraction == "" {
		m.MinSellFractionPPM = 0
	} else if m.MinSellFractionPPM, err = quant.ParsePPM(m.MinSellFraction); err != nil {
		return fmt.Errorf("min_sell_fraction: %w", err)
	}

	if m.MaxSellFraction == "" {
		m.MaxSellFractionPPM = quant.PPMDen
	} else if m.MaxSellFractionPPM, err = quant.ParsePPM(m.MaxSellFraction); err != nil {
		return fmt.Errorf("max_sell_fraction: %w", err)
	}

	return nil
}

// Validate checks configuration validity. Parameter combinations that
// can never produce a profitable sell are rejected at startup rather
// than discovered as a silent no-trade loop at runtime.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "paper", "live":
	case "":
		c.Trading.Mode = "paper"
	default:
		return fmt.Errorf("trading.mode must be \"paper\" or \"live\", got %q", c.Trading.Mode)
	}

	if c.Trading.Mode == "live" {
		if c.Chain.WSURL == "" || (!strings.HasPrefix(c.Chain.WSURL, "ws://") && !strings.HasPrefix(c.Chain.WSURL, "wss://")) {
			return fmt.Errorf("invalid chain WS URL: %s", c.Chain.WSURL)
		}
		if c.Chain.WalletSeed == "" {
			return fmt.Errorf("chain.wallet_seed is required in live mode")
		}
	}

	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}

	seen := make(map[uint16]bool, len(c.Markets))
	for i := range c.Markets {
		m := &c.Markets[i]
		if seen[m.NetUID] {
			return fmt.Errorf("duplicate market netuid %d", m.NetUID)
		}
		seen[m.NetUID] = true

		if err := m.validate(); err != nil {
			return fmt.Errorf("markets[%d] (netuid %d): %w", i, m.NetUID, err)
		}
	}

	return nil
}

func (m *MarketConfig) validate() error {
	if m.ValidatorHotkey == "" {
		return fmt.Errorf("validator_hotkey is required")
	}
	if m.StakeAmountRao <= 0 {
		return fmt.Errorf("stake_amount must be positive, got %d rao", m.StakeAmountRao)
	}
	if m.ActivationPriceBuyRao <= 0 {
		return fmt.Errorf("activation_price_buy must be positive")
	}
	if m.LimitPriceBuyRao <= m.ActivationPriceBuyRao {
		return fmt.Errorf("limit_price_buy %s must exceed activation_price_buy %s",
			m.LimitPriceBuyRao, m.ActivationPriceBuyRao)
	}
	if m.SlippageSellPPM < 0 || m.SlippageSellPPM >= quant.PPMDen {
		return fmt.Errorf("slippage_sell %d ppm outside [0, 1)", m.SlippageSellPPM)
	}
	if m.ProfitMultiplierPPM <= quant.PPMDen {
		return fmt.Errorf("profit_multiplier %d ppm must exceed 1.0", m.ProfitMultiplierPPM)
	}

	// A sell can activate at a price as low as limit*(1-slippage) of the
	// target. Unless profit_multiplier*(1-slippage) clears 1.0 with room
	// for the pool fee, the worst tolerated fill locks in a loss.
	headroom := m.ProfitMultiplierPPM * (quant.PPMDen - m.SlippageSellPPM)
	if headroom <= quant.PPMDen*quant.PPMDen {
		return fmt.Errorf(
			"profit_multiplier %d ppm cannot absorb slippage_sell %d ppm: %d * %d = %d <= 10^12; the worst tolerated fill would lose money",
			m.ProfitMultiplierPPM, m.SlippageSellPPM,
			m.ProfitMultiplierPPM, quant.PPMDen-m.SlippageSellPPM, headroom)
	}

	if m.MinSellFractionPPM < 0 || m.MinSellFractionPPM > quant.PPMDen {
		return fmt.Errorf("min_sell_fraction %d ppm outside [0, 1]", m.MinSellFractionPPM)
	}
	if m.MaxSellFractionPPM <= 0 || m.MaxSellFractionPPM > quant.PPMDen {
		return fmt.Errorf("max_sell_fraction %d ppm outside (0, 1]", m.MaxSellFractionPPM)
	}
	if m.MinSellFractionPPM > m.MaxSellFractionPPM {
		return fmt.Errorf("min_sell_fraction %d ppm exceeds max_sell_fraction %d ppm",
			m.MinSellFractionPPM, m.MaxSellFractionPPM)
	}

	return nil
}
