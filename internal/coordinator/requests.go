package coordinator

import (
	"DeepReplay/internal/engine"
	"DeepReplay/internal/orderbook"
	"context"
	"fmt"
	"sort"
)

// QuoteSingleHop prices amount on one venue without changing its state.
func (c *Coordinator) QuoteSingleHop(ctx context.Context, venue string, amount uint64, dir orderbook.Direction) (*QuoteResult, error) {
	return call(ctx, c, "quote_single_hop", func(ctx context.Context) (*QuoteResult, error) {
		return c.quoteSingleHop(ctx, venue, amount, dir)
	})
}

// QuoteTwoHop prices selling amount of venueA's base for venueB's base
// through their shared quote asset.
func (c *Coordinator) QuoteTwoHop(ctx context.Context, venueA, venueB string, amount uint64) (*TwoHopQuote, error) {
	return call(ctx, c, "quote_two_hop", func(ctx context.Context) (*TwoHopQuote, error) {
		return c.quoteTwoHop(ctx, venueA, venueB, amount)
	})
}

// ExecuteSingleHop swaps amount on venue using reserve holdings. fee is
// the DEEP budget; the unused part is returned in the result.
func (c *Coordinator) ExecuteSingleHop(ctx context.Context, venue string, amount, fee uint64, dir orderbook.Direction) (*SwapResult, error) {
	return call(ctx, c, "execute_single_hop", func(ctx context.Context) (*SwapResult, error) {
		return c.executeSingleHop(ctx, venue, amount, fee, dir)
	})
}

// ExecuteTwoHop routes amount of venueA's base into venueB's base.
func (c *Coordinator) ExecuteTwoHop(ctx context.Context, venueA, venueB string, amount, fee uint64) (*TwoHopResult, error) {
	return call(ctx, c, "execute_two_hop", func(ctx context.Context) (*TwoHopResult, error) {
		return c.executeTwoHop(ctx, venueA, venueB, amount, fee)
	})
}

// EnsureDefaultVenue provisions the default venue, or returns it when it
// already exists with the same configuration.
func (c *Coordinator) EnsureDefaultVenue(ctx context.Context, cfg DefaultVenueConfig) (*ProvisionedVenue, error) {
	return call(ctx, c, "ensure_default_venue", func(ctx context.Context) (*ProvisionedVenue, error) {
		return c.ensureDefaultVenue(ctx, cfg)
	})
}

// IterOrders returns one page of resting orders. It satisfies
// orderbook.OrderPager.
func (c *Coordinator) IterOrders(ctx context.Context, venue string, bids bool, start *orderbook.OrderID, limit uint64) (orderbook.OrderPage, error) {
	page, err := call(ctx, c, "iter_orders", func(ctx context.Context) (*orderbook.OrderPage, error) {
		v, err := c.venue(venue)
		if err != nil {
			return nil, err
		}
		b := engine.NewBuilder(c.cfg.Sender)
		cmd := iterOrdersCall(b, c.cfg.DeepBookPackage, &v.Venue, b.Object(v.Wrapper, false), bids, start, limit)
		res, err := c.executeOn(ctx, b.Program(), venue, 0)
		if err != nil {
			return nil, err
		}
		raw, err := res.Return(int(cmd.Index), 0)
		if err != nil {
			return nil, err
		}
		p, err := decodePage(raw)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", venue, err)
		}
		return &p, nil
	})
	if err != nil {
		return orderbook.OrderPage{}, err
	}
	return *page, nil
}

// Venues lists the served venues sorted by id.
func (c *Coordinator) Venues(ctx context.Context) ([]VenueInfo, error) {
	return call(ctx, c, "venues", func(context.Context) ([]VenueInfo, error) {
		out := make([]VenueInfo, 0, len(c.venues))
		for _, id := range c.venueIDs() {
			v := c.venues[id]
			out = append(out, VenueInfo{Venue: v.Venue, Default: v.isDefault, Checkpoint: v.checkpoint, Objects: v.objects})
		}
		return out, nil
	})
}

// Sources returns the materializer inputs for every served venue.
func (c *Coordinator) Sources(ctx context.Context) ([]orderbook.Source, error) {
	venues, err := c.Venues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]orderbook.Source, len(venues))
	for i, v := range venues {
		out[i] = orderbook.Source{
			Venue:         v.ID,
			BaseDecimals:  v.BaseDecimals,
			QuoteDecimals: v.QuoteDecimals,
			Checkpoint:    v.Checkpoint,
		}
	}
	return out, nil
}

// venueIDs returns loaded venue ids in sorted order. Worker only.
func (c *Coordinator) venueIDs() []string {
	ids := make([]string, 0, len(c.venues))
	for id := range c.venues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
