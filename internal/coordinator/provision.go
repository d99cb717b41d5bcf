package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"context"
	"fmt"
)

// ProvisionedVenue is the default venue created on demand. Created is
// true only on the call that provisioned it.
type ProvisionedVenue struct {
	Venue   Venue              `json:"venue"`
	Config  DefaultVenueConfig `json:"config"`
	Created bool               `json:"created"`
	Digest  string             `json:"digest"`
}

// ensureDefaultVenue provisions the default venue once. A second call
// with the same configuration returns the cached venue without touching
// the engine; a different configuration is rejected.
func (c *Coordinator) ensureDefaultVenue(ctx context.Context, cfg DefaultVenueConfig) (*ProvisionedVenue, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.defaultVenue != nil {
		if c.defaultVenue.Config != cfg {
			return nil, fmt.Errorf("%w: %s is provisioned as %s", ErrVenueConfigConflict,
				c.defaultVenue.Venue.ID, describeDefault(c.defaultVenue.Config))
		}
		existing := *c.defaultVenue
		existing.Created = false
		return &existing, nil
	}
	if _, taken := c.venues[cfg.VenueID()]; taken {
		return nil, fmt.Errorf("%w: venue id %s is already served", ErrVenueConfigConflict, cfg.VenueID())
	}
	if c.cfg.DefaultBaseType == "" {
		return nil, fmt.Errorf("%w: no default base coin type configured", ErrInvalidConfig)
	}
	if c.cfg.RouterPackage.IsZero() || c.cfg.Registry.IsZero() {
		return nil, fmt.Errorf("%w: router package and registry are required", ErrInvalidConfig)
	}

	quote, err := c.reserveBySymbol(cfg.QuoteSymbol)
	if err != nil {
		return nil, err
	}
	deep, err := c.reserveBySymbol(c.cfg.DeepSymbol)
	if err != nil {
		return nil, err
	}
	if err := c.ensureReserve(ctx, quote, cfg.QuoteLiquidity); err != nil {
		return nil, err
	}
	if err := c.ensureReserve(ctx, deep, cfg.DeepFeeBudget); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(c.cfg.Sender)
	deepCoin := b.SplitCoins(b.Object(deep.ID, true), b.PureU64(cfg.DeepFeeBudget))
	quoteCoin := b.SplitCoins(b.Object(quote.ID, true), b.PureU64(cfg.QuoteLiquidity))
	call := b.MoveCall(c.cfg.RouterPackage, "router", "provision_pool",
		[]string{c.cfg.DefaultBaseType, quote.CoinType},
		b.Object(c.cfg.Registry, true),
		engine.Nested(deepCoin, 0),
		engine.Nested(quoteCoin, 0),
		b.PureU64(cfg.TickSize),
		b.PureU64(cfg.LotSize),
		b.PureU64(cfg.MinSize),
		b.PureU64(cfg.BidPrice),
		b.PureU64(cfg.AskPrice),
		b.PureU64(cfg.BidQuantity),
		b.PureU64(cfg.AskQuantity),
		b.PureU64(cfg.BaseLiquidity),
		b.PureBool(cfg.Whitelisted),
		b.PureBool(cfg.PayWithDeep),
		b.PureString(cfg.Symbol),
		b.PureString(cfg.Name),
		b.PureString(cfg.Description),
		b.PureString(cfg.IconURL),
		b.PureU8(cfg.Decimals),
		b.Object(ClockID, false),
	)
	res, err := c.execute(ctx, b.Program())
	if err != nil {
		return nil, err
	}
	raw, err := res.Return(int(call.Index), 0)
	if err != nil {
		return nil, err
	}
	if len(raw) != codec.AddressLength {
		return nil, fmt.Errorf("provision_pool returned %d bytes, want a pool id", len(raw))
	}
	var poolID codec.Address
	copy(poolID[:], raw)

	v := Venue{
		ID:            cfg.VenueID(),
		Name:          cfg.Name,
		Wrapper:       poolID,
		BaseType:      c.cfg.DefaultBaseType,
		QuoteType:     quote.CoinType,
		BaseSymbol:    cfg.Symbol,
		QuoteSymbol:   quote.Symbol,
		BaseDecimals:  cfg.Decimals,
		QuoteDecimals: quote.Decimals,
	}
	if err := locatePool(res.Effects, &v); err != nil {
		return nil, err
	}
	digest, err := c.commit(ctx, res.Effects)
	if err != nil {
		return nil, err
	}

	c.venues[v.ID] = &loadedVenue{Venue: v, isDefault: true}
	c.defaultVenue = &ProvisionedVenue{Venue: v, Config: cfg, Digest: digest}
	c.logger.Info().
		Str("venue", v.ID).
		Str("pool", poolID.String()).
		Uint64("bid", cfg.BidPrice).
		Uint64("ask", cfg.AskPrice).
		Msg("default venue provisioned")

	created := *c.defaultVenue
	created.Created = true
	return &created, nil
}

// locatePool fills the inner uid and big-vector ids of a freshly created
// pool from the program's effects.
func locatePool(fx *engine.Effects, v *Venue) error {
	if fx == nil {
		return fmt.Errorf("provision_pool reported no effects")
	}
	var wrapper *engine.Object
	for i := range fx.Created {
		if fx.Created[i].ID == v.Wrapper {
			wrapper = &fx.Created[i]
			break
		}
	}
	if wrapper == nil || len(wrapper.Contents) < wrapperMinLength {
		return fmt.Errorf("pool %s missing from effects", v.Wrapper)
	}
	copy(v.Inner[:], wrapper.Contents[wrapperInnerOffset:wrapperVersionOffset])
	for _, f := range fx.ChildFields {
		if f.Parent != v.Inner {
			continue
		}
		bids, asks, err := poolBookIDs(f.Contents)
		if err != nil {
			return fmt.Errorf("pool inner %s: %w", f.ID, err)
		}
		v.Bids, v.Asks = bids, asks
		return nil
	}
	return nil
}

// poolBookIDs reads the bids and asks big-vector ids from a
// Field<u64, PoolInner> payload.
func poolBookIDs(b []byte) (bids, asks codec.Address, err error) {
	r := codec.NewReader(b)
	if _, err = r.ReadAddress(); err != nil { // field id
		return
	}
	if _, err = r.ReadU64(); err != nil { // version key
		return
	}
	n, err := r.ReadLen() // allowed_versions
	if err != nil {
		return
	}
	if _, err = r.ReadFixed(8 * n); err != nil {
		return
	}
	if _, err = r.ReadAddress(); err != nil { // pool_id
		return
	}
	if _, err = r.ReadFixed(3 * 8); err != nil { // tick, lot, min size
		return
	}
	if bids, err = r.ReadAddress(); err != nil {
		return
	}
	// depth u8, then length, max_slice_size, max_fan_out, root_id, last_id
	if _, err = r.ReadFixed(1 + 5*8); err != nil {
		return
	}
	asks, err = r.ReadAddress()
	return
}

func describeDefault(c DefaultVenueConfig) string {
	return fmt.Sprintf("%s/%s tick=%d lot=%d min=%d bid=%d ask=%d", c.Symbol, c.QuoteSymbol,
		c.TickSize, c.LotSize, c.MinSize, c.BidPrice, c.AskPrice)
}
