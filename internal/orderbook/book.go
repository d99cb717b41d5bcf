package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FloatScaling is the fixed-point scale of on-chain prices.
const FloatScaling = 1_000_000_000

// PriceLevel aggregates the remaining quantity of all orders at one price.
type PriceLevel struct {
	Price         uint64 `json:"price"`
	TotalQuantity uint64 `json:"total_quantity"`
	OrderCount    int    `json:"order_count"`
}

// Aggregate groups orders by price, summing remaining quantity. Orders with
// nothing left are skipped. Bids sort descending and asks ascending.
func Aggregate(orders []Order, side Side) []PriceLevel {
	byPrice := make(map[uint64]*PriceLevel)
	for _, o := range orders {
		rem := o.Remaining()
		if rem == 0 {
			continue
		}
		lvl, ok := byPrice[o.Price()]
		if !ok {
			lvl = &PriceLevel{Price: o.Price()}
			byPrice[o.Price()] = lvl
		}
		lvl.TotalQuantity += rem
		lvl.OrderCount++
	}

	levels := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if side == Bid {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// Book is the aggregated order book of one venue at the export checkpoint.
type Book struct {
	Venue         string       `json:"venue"`
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	Checkpoint    uint64       `json:"checkpoint"`
	BaseDecimals  uint8        `json:"base_decimals"`
	QuoteDecimals uint8        `json:"quote_decimals"`
}

// Clone returns a deep copy.
func (b *Book) Clone() *Book {
	c := *b
	c.Bids = append([]PriceLevel(nil), b.Bids...)
	c.Asks = append([]PriceLevel(nil), b.Asks...)
	return &c
}

// Levels returns the levels of one side.
func (b *Book) Levels(side Side) []PriceLevel {
	if side == Bid {
		return b.Bids
	}
	return b.Asks
}

func (b *Book) BestBid() (uint64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

func (b *Book) BestAsk() (uint64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Crossed reports best bid >= best ask. A one-sided book is never crossed.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid >= ask
}

// PriceDivisor converts on-chain prices to quote units per whole base unit:
// 10^(9 + quote decimals - base decimals).
func (b *Book) PriceDivisor() decimal.Decimal {
	return decimal.New(1, 9+int32(b.QuoteDecimals)-int32(b.BaseDecimals))
}

// HumanPrice converts an on-chain price.
func (b *Book) HumanPrice(price uint64) decimal.Decimal {
	return decimal.NewFromUint64(price).Div(b.PriceDivisor())
}

// HumanBase converts a base quantity in smallest units.
func (b *Book) HumanBase(qty uint64) decimal.Decimal {
	return decimal.NewFromUint64(qty).Shift(-int32(b.BaseDecimals))
}

// HumanQuote converts a quote quantity in smallest units.
func (b *Book) HumanQuote(qty uint64) decimal.Decimal {
	return decimal.NewFromUint64(qty).Shift(-int32(b.QuoteDecimals))
}

// MidPrice is the human mid price. ok is false when either side is empty.
func (b *Book) MidPrice() (mid decimal.Decimal, ok bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	sum := decimal.NewFromUint64(bid).Add(decimal.NewFromUint64(ask))
	return sum.Div(decimal.NewFromInt(2)).Div(b.PriceDivisor()), true
}

// SpreadBps is |ask - bid| / mid in basis points, absent when either side
// is empty or a best price is zero.
func (b *Book) SpreadBps() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA || bid == 0 || ask == 0 {
		return decimal.Zero, false
	}
	bidD, askD := decimal.NewFromUint64(bid), decimal.NewFromUint64(ask)
	mid := bidD.Add(askD).Div(decimal.NewFromInt(2))
	return askD.Sub(bidD).Abs().Div(mid).Mul(decimal.NewFromInt(10_000)), true
}

// Stats summarizes the top of book.
type Stats struct {
	Venue     string              `json:"venue"`
	BidLevels int                 `json:"bid_levels"`
	AskLevels int                 `json:"ask_levels"`
	BestBid   decimal.NullDecimal `json:"best_bid"`
	BestAsk   decimal.NullDecimal `json:"best_ask"`
	MidPrice  decimal.NullDecimal `json:"mid_price"`
	SpreadBps decimal.NullDecimal `json:"spread_bps"`
	Crossed   bool                `json:"crossed"`
	BidDepth  decimal.Decimal     `json:"total_bid_depth"`
	AskDepth  decimal.Decimal     `json:"total_ask_depth"`
}

func (b *Book) Stats() Stats {
	s := Stats{
		Venue:     b.Venue,
		BidLevels: len(b.Bids),
		AskLevels: len(b.Asks),
		Crossed:   b.Crossed(),
		BidDepth:  b.HumanBase(totalQuantity(b.Bids)),
		AskDepth:  b.HumanBase(totalQuantity(b.Asks)),
	}
	if p, ok := b.BestBid(); ok {
		s.BestBid = decimal.NewNullDecimal(b.HumanPrice(p))
	}
	if p, ok := b.BestAsk(); ok {
		s.BestAsk = decimal.NewNullDecimal(b.HumanPrice(p))
	}
	if mid, ok := b.MidPrice(); ok {
		s.MidPrice = decimal.NewNullDecimal(mid)
	}
	if bps, ok := b.SpreadBps(); ok {
		s.SpreadBps = decimal.NewNullDecimal(bps)
	}
	return s
}

func totalQuantity(levels []PriceLevel) uint64 {
	var total uint64
	for _, l := range levels {
		total += l.TotalQuantity
	}
	return total
}

// DepthLevel is one row of a human-readable depth view.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
	Orders   int             `json:"orders"`
}

// Depth returns up to n levels per side with cumulative base totals.
// n <= 0 means every level.
func (b *Book) Depth(n int) (bids, asks []DepthLevel) {
	return b.depthSide(b.Bids, n), b.depthSide(b.Asks, n)
}

func (b *Book) depthSide(levels []PriceLevel, n int) []DepthLevel {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	out := make([]DepthLevel, 0, n)
	var cum uint64
	for _, l := range levels[:n] {
		cum += l.TotalQuantity
		out = append(out, DepthLevel{
			Price:    b.HumanPrice(l.Price),
			Quantity: b.HumanBase(l.TotalQuantity),
			Total:    b.HumanBase(cum),
			Orders:   l.OrderCount,
		})
	}
	return out
}

// Snapshot is the serializable view of a book.
type Snapshot struct {
	Stats
	Checkpoint uint64       `json:"checkpoint"`
	Bids       []DepthLevel `json:"bids"`
	Asks       []DepthLevel `json:"asks"`
}

// Snapshot returns the full depth with summary stats.
func (b *Book) Snapshot() Snapshot {
	bids, asks := b.Depth(0)
	return Snapshot{Stats: b.Stats(), Checkpoint: b.Checkpoint, Bids: bids, Asks: asks}
}
