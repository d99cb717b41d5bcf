package orderbook

import (
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var floatScaling = uint256.NewInt(FloatScaling)

// mulDiv computes a*b/c without intermediate overflow, saturating at
// MaxUint64.
func mulDiv(a, b uint64, c *uint256.Int) uint64 {
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, c)
	if !x.IsUint64() {
		return math.MaxUint64
	}
	return x.Uint64()
}

// QuoteOut is the quote amount a base quantity fetches at price.
func QuoteOut(base, price uint64) uint64 {
	return mulDiv(base, price, floatScaling)
}

// BaseFor is the base quantity a quote amount buys at price.
func BaseFor(quote, price uint64) uint64 {
	if price == 0 {
		return 0
	}
	return mulDiv(quote, FloatScaling, uint256.NewInt(price))
}

// Fill is the outcome of taking from one level.
type Fill struct {
	InputUsed uint64
	BaseTaken uint64
	Output    uint64
	// Whole is set when the level was exhausted.
	Whole bool
}

// FillLevel takes up to remaining input from one level. For SellBase the
// input is base and the output quote; for BuyBase the reverse.
func FillLevel(level PriceLevel, remaining uint64, dir Direction) Fill {
	if dir == SellBase {
		take := min(level.TotalQuantity, remaining)
		return Fill{
			InputUsed: take,
			BaseTaken: take,
			Output:    QuoteOut(take, level.Price),
			Whole:     take == level.TotalQuantity,
		}
	}
	cost := QuoteOut(level.TotalQuantity, level.Price)
	if cost <= remaining {
		return Fill{InputUsed: cost, BaseTaken: level.TotalQuantity, Output: level.TotalQuantity, Whole: true}
	}
	base := BaseFor(remaining, level.Price)
	return Fill{InputUsed: remaining, BaseTaken: base, Output: base}
}

// QuoteResult is a walk of the book for one input amount.
type QuoteResult struct {
	Input          uint64          `json:"input"`
	Output         uint64          `json:"output"`
	LevelsConsumed int             `json:"levels_consumed"`
	OrdersMatched  int             `json:"orders_matched"`
	FullyFilled    bool            `json:"fully_filled"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	PriceImpactBps decimal.Decimal `json:"price_impact_bps"`
}

// Walk consumes levels best-first until amount is exhausted. A partially
// taken ask level counts as one matched order.
func Walk(levels []PriceLevel, amount uint64, dir Direction) QuoteResult {
	res := QuoteResult{Input: amount}
	remaining := amount
	for _, lvl := range levels {
		if remaining == 0 {
			break
		}
		f := FillLevel(lvl, remaining, dir)
		if f.InputUsed == 0 && f.Output == 0 {
			continue
		}
		remaining -= f.InputUsed
		res.Output += f.Output
		res.LevelsConsumed++
		if dir == BuyBase && !f.Whole {
			res.OrdersMatched++
		} else {
			res.OrdersMatched += lvl.OrderCount
		}
	}
	res.FullyFilled = remaining == 0
	return res
}

// Quote walks the side of b that dir consumes and prices the result in
// human units. Impact is measured against the mid price when both sides
// are present.
func Quote(b *Book, amount uint64, dir Direction) QuoteResult {
	res := Walk(b.Levels(dir.ConsumedSide()), amount, dir)
	if res.Output == 0 {
		return res
	}
	if dir == SellBase {
		res.EffectivePrice = b.HumanQuote(res.Output).Div(b.HumanBase(amount))
	} else {
		res.EffectivePrice = b.HumanQuote(amount).Div(b.HumanBase(res.Output))
	}
	if mid, ok := b.MidPrice(); ok && mid.IsPositive() {
		res.PriceImpactBps = res.EffectivePrice.Sub(mid).Abs().Div(mid).Mul(decimal.NewFromInt(10_000))
	}
	return res
}
