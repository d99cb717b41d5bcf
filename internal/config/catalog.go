package config

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/coordinator"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog lists the venues and reserves a replay serves, plus the chain
// constants the coordinator needs.
type Catalog struct {
	DeepBookPackage   codec.Address                   `yaml:"deepbook_package"`
	RouterPackage     codec.Address                   `yaml:"router_package"`
	Registry          codec.Address                   `yaml:"registry"`
	Sender            codec.Address                   `yaml:"sender"`
	SessionBoundary   codec.Address                   `yaml:"session_boundary"`
	ClockTimestampMs  uint64                          `yaml:"clock_timestamp_ms"`
	DeepSymbol        string                          `yaml:"deep_symbol"`
	DefaultBaseType   string                          `yaml:"default_base_type"`
	ReferencePackages []codec.Address                 `yaml:"reference_packages"`
	Venues            []coordinator.Venue             `yaml:"venues"`
	Reserves          []coordinator.Reserve           `yaml:"reserves"`
	DefaultVenue      *coordinator.DefaultVenueConfig `yaml:"default_venue"`
}

// DefaultCatalog returns the built-in SUI/USDC, WAL/USDC and DEEP/USDC
// catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog reads path, or returns the default catalog when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	c, err := ParseCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if c.DeepSymbol == "" {
		c.DeepSymbol = "DEEP"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that venue ids are unique, every venue has its object
// ids and coin types, and every venue asset and the fee asset has a
// reserve.
func (c *Catalog) Validate() error {
	if c.DeepBookPackage.IsZero() {
		return fmt.Errorf("catalog: deepbook_package is required")
	}
	if c.Sender.IsZero() {
		return fmt.Errorf("catalog: sender is required")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("catalog: no venues")
	}

	reserves := make(map[string]bool, len(c.Reserves))
	for _, r := range c.Reserves {
		sym := strings.ToUpper(r.Symbol)
		if sym == "" || r.CoinType == "" {
			return fmt.Errorf("catalog: reserve needs symbol and coin_type")
		}
		if reserves[sym] {
			return fmt.Errorf("catalog: duplicate reserve %s", sym)
		}
		reserves[sym] = true
	}
	if !reserves[strings.ToUpper(c.DeepSymbol)] {
		return fmt.Errorf("catalog: no reserve for fee asset %s", c.DeepSymbol)
	}

	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("catalog: venue without id")
		}
		if seen[v.ID] {
			return fmt.Errorf("catalog: duplicate venue %s", v.ID)
		}
		seen[v.ID] = true
		if v.Wrapper.IsZero() || v.Inner.IsZero() || v.Asks.IsZero() || v.Bids.IsZero() {
			return fmt.Errorf("catalog: venue %s: wrapper, inner, asks and bids are required", v.ID)
		}
		if v.BaseType == "" || v.QuoteType == "" {
			return fmt.Errorf("catalog: venue %s: base_type and quote_type are required", v.ID)
		}
		for _, sym := range []string{v.BaseSymbol, v.QuoteSymbol} {
			if !reserves[strings.ToUpper(sym)] {
				return fmt.Errorf("catalog: venue %s: no reserve for %q", v.ID, sym)
			}
		}
	}

	if c.DefaultVenue != nil {
		if err := c.DefaultVenue.Normalize().Validate(); err != nil {
			return fmt.Errorf("catalog: default_venue: %w", err)
		}
	}
	return nil
}

// Venue returns the catalog entry for id.
func (c *Catalog) Venue(id string) (coordinator.Venue, bool) {
	for _, v := range c.Venues {
		if v.ID == id {
			return v, true
		}
	}
	return coordinator.Venue{}, false
}

// CoordinatorConfig turns the catalog into coordinator settings.
func (c *Catalog) CoordinatorConfig(queueSize int) coordinator.Config {
	return coordinator.Config{
		DeepBookPackage:   c.DeepBookPackage,
		RouterPackage:     c.RouterPackage,
		Registry:          c.Registry,
		Sender:            c.Sender,
		SessionBoundary:   c.SessionBoundary,
		ClockTimestampMs:  c.ClockTimestampMs,
		ReferencePackages: append([]codec.Address(nil), c.ReferencePackages...),
		Venues:            append([]coordinator.Venue(nil), c.Venues...),
		Reserves:          append([]coordinator.Reserve(nil), c.Reserves...),
		DeepSymbol:        strings.ToUpper(c.DeepSymbol),
		DefaultBaseType:   c.DefaultBaseType,
		QueueSize:         queueSize,
	}
}

// DefaultVenueConfig returns the catalog's default venue, or the built-in
// one when the catalog has none.
func (c *Catalog) DefaultVenueConfig() coordinator.DefaultVenueConfig {
	if c.DefaultVenue != nil {
		return c.DefaultVenue.Normalize()
	}
	return coordinator.DefaultVenueDefaults()
}
