package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/orderbook"
	"fmt"
	"strings"
)

// ClockID is the shared clock object.
var ClockID = codec.MustParseAddress("0x6")

// Venue is one DeepBook pool the coordinator serves.
type Venue struct {
	ID      string        `yaml:"id" json:"id"`
	Name    string        `yaml:"name" json:"name"`
	Wrapper codec.Address `yaml:"wrapper" json:"wrapper"`
	// Inner is the versioned UID holding PoolInner as a u64-keyed child.
	Inner codec.Address `yaml:"inner" json:"inner"`
	Asks  codec.Address `yaml:"asks" json:"asks"`
	Bids  codec.Address `yaml:"bids" json:"bids"`
	// Accounts and HistoricVolumes are the table ids under which
	// synthesized indices are written. Zero skips synthesis.
	Accounts        codec.Address `yaml:"accounts" json:"accounts"`
	HistoricVolumes codec.Address `yaml:"historic_volumes" json:"historic_volumes"`
	BaseType        string        `yaml:"base_type" json:"base_type"`
	QuoteType       string        `yaml:"quote_type" json:"quote_type"`
	BaseSymbol      string        `yaml:"base_symbol" json:"base_symbol"`
	QuoteSymbol     string        `yaml:"quote_symbol" json:"quote_symbol"`
	BaseDecimals    uint8         `yaml:"base_decimals" json:"base_decimals"`
	QuoteDecimals   uint8         `yaml:"quote_decimals" json:"quote_decimals"`
	ExportFile      string        `yaml:"export_file" json:"export_file,omitempty"`
}

// TypeArgs returns the pool's <Base, Quote> type arguments.
func (v *Venue) TypeArgs() []string {
	return []string{v.BaseType, v.QuoteType}
}

// PoolType is pkg::pool::Pool<Base, Quote>.
func (v *Venue) PoolType(pkg codec.Address) string {
	return fmt.Sprintf("%s::pool::Pool<%s, %s>", pkg, v.BaseType, v.QuoteType)
}

// InputAsset is the symbol a swap in dir spends.
func (v *Venue) InputAsset(dir orderbook.Direction) string {
	if dir == orderbook.SellBase {
		return v.BaseSymbol
	}
	return v.QuoteSymbol
}

// OutputAsset is the symbol a swap in dir receives.
func (v *Venue) OutputAsset(dir orderbook.Direction) string {
	if dir == orderbook.SellBase {
		return v.QuoteSymbol
	}
	return v.BaseSymbol
}

// Reserve is a process-wide asset holding used as the source and sink of
// simulated swaps.
type Reserve struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	CoinType string `yaml:"coin_type" json:"coin_type"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
	Amount   uint64 `yaml:"amount" json:"amount"`
}

// CoinTag is 0x2::coin::Coin<CoinType>.
func (r *Reserve) CoinTag() string {
	return "0x2::coin::Coin<" + r.CoinType + ">"
}

// Config is everything the coordinator needs besides its collaborators.
type Config struct {
	DeepBookPackage codec.Address
	RouterPackage   codec.Address
	Registry        codec.Address
	// Sender owns the reserve coins and signs every program.
	Sender codec.Address
	// SessionBoundary receives minted coins.
	SessionBoundary   codec.Address
	ClockTimestampMs  uint64
	ReferencePackages []codec.Address
	Venues            []Venue
	Reserves          []Reserve
	// DeepSymbol is the fee asset.
	DeepSymbol string
	// DefaultBaseType is the coin type of the provisioned default venue.
	DefaultBaseType string
	QueueSize       int
}

// DefaultQueueSize is the request queue length when none is configured.
const DefaultQueueSize = 256

// DefaultVenueConfig describes the configurable venue created on demand
// with one resting bid and one resting ask.
type DefaultVenueConfig struct {
	Symbol         string `yaml:"symbol" json:"symbol"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description"`
	IconURL        string `yaml:"icon_url" json:"icon_url"`
	Decimals       uint8  `yaml:"decimals" json:"decimals"`
	QuoteSymbol    string `yaml:"quote_symbol" json:"quote_symbol"`
	TickSize       uint64 `yaml:"tick_size" json:"tick_size"`
	LotSize        uint64 `yaml:"lot_size" json:"lot_size"`
	MinSize        uint64 `yaml:"min_size" json:"min_size"`
	BidPrice       uint64 `yaml:"bid_price" json:"bid_price"`
	AskPrice       uint64 `yaml:"ask_price" json:"ask_price"`
	BidQuantity    uint64 `yaml:"bid_quantity" json:"bid_quantity"`
	AskQuantity    uint64 `yaml:"ask_quantity" json:"ask_quantity"`
	BaseLiquidity  uint64 `yaml:"base_liquidity" json:"base_liquidity"`
	QuoteLiquidity uint64 `yaml:"quote_liquidity" json:"quote_liquidity"`
	DeepFeeBudget  uint64 `yaml:"deep_fee_budget" json:"deep_fee_budget"`
	Whitelisted    bool   `yaml:"whitelisted" json:"whitelisted"`
	PayWithDeep    bool   `yaml:"pay_with_deep" json:"pay_with_deep"`
}

// DefaultVenueDefaults returns the built-in default venue configuration:
// a 9 decimal token quoted in USDC around 1.00.
func DefaultVenueDefaults() DefaultVenueConfig {
	return DefaultVenueConfig{
		Symbol:         "DBG",
		Name:           "Debug Token",
		Description:    "Replay test asset",
		Decimals:       9,
		QuoteSymbol:    "USDC",
		TickSize:       1_000,
		LotSize:        1_000_000,
		MinSize:        10_000_000,
		BidPrice:       990_000,
		AskPrice:       1_010_000,
		BidQuantity:    1_000_000_000_000,
		AskQuantity:    1_000_000_000_000,
		BaseLiquidity:  10_000_000_000_000,
		QuoteLiquidity: 10_000_000_000,
		DeepFeeBudget:  1_000_000_000,
		Whitelisted:    true,
	}
}

// Normalize trims text fields and upper-cases symbols.
func (c DefaultVenueConfig) Normalize() DefaultVenueConfig {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.QuoteSymbol = strings.ToUpper(strings.TrimSpace(c.QuoteSymbol))
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	c.IconURL = strings.TrimSpace(c.IconURL)
	return c
}

// VenueID is the id the provisioned venue is served under.
func (c DefaultVenueConfig) VenueID() string {
	return strings.ToLower(c.Symbol) + "_" + strings.ToLower(c.QuoteSymbol)
}

// Validate checks a normalized config.
func (c DefaultVenueConfig) Validate() error {
	if len(c.Symbol) < 2 || len(c.Symbol) > 12 {
		return fmt.Errorf("%w: symbol must be 2-12 characters", ErrInvalidConfig)
	}
	for _, r := range c.Symbol {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("%w: symbol may only contain A-Z, 0-9 and _", ErrInvalidConfig)
		}
	}
	if c.QuoteSymbol == "" {
		return fmt.Errorf("%w: quote symbol is required", ErrInvalidConfig)
	}
	if c.Decimals > 18 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidConfig, c.Decimals)
	}
	if c.TickSize == 0 || c.LotSize == 0 {
		return fmt.Errorf("%w: tick and lot size must be positive", ErrInvalidConfig)
	}
	if c.MinSize < c.LotSize || c.MinSize%c.LotSize != 0 {
		return fmt.Errorf("%w: min size must be a multiple of lot size", ErrInvalidConfig)
	}
	if c.BidPrice == 0 || c.BidPrice >= c.AskPrice {
		return fmt.Errorf("%w: bid price must be positive and below ask price", ErrInvalidConfig)
	}
	if c.BidPrice%c.TickSize != 0 || c.AskPrice%c.TickSize != 0 {
		return fmt.Errorf("%w: prices must be multiples of tick size", ErrInvalidConfig)
	}
	for _, q := range []uint64{c.BidQuantity, c.AskQuantity} {
		if q < c.MinSize || q%c.LotSize != 0 {
			return fmt.Errorf("%w: order quantity %d must be at least min size and a multiple of lot size", ErrInvalidConfig, q)
		}
	}
	if c.BaseLiquidity < c.AskQuantity {
		return fmt.Errorf("%w: base liquidity below ask quantity", ErrInvalidConfig)
	}
	return nil
}

// VenueInfo is the read-only view of a served venue.
type VenueInfo struct {
	Venue
	Default    bool   `json:"default"`
	Checkpoint uint64 `json:"checkpoint"`
	Objects    int    `json:"objects"`
}
