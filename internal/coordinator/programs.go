package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/orderbook"
	"context"
	"fmt"
)

// Return value positions of the DeepBook calls the coordinator issues.
const (
	// get_quote_quantity_out / get_base_quantity_out: (base_out, quote_out, deep_required)
	quoteBaseOut  = 0
	quoteQuoteOut = 1
	quoteDeepReq  = 2

	// swap_exact_*: (Coin<Base>, Coin<Quote>, Coin<DEEP>)
	swapBaseCoin  = 0
	swapQuoteCoin = 1
	swapDeepCoin  = 2
)

// quoteCall appends the read-only pricing call for dir. The output amount
// is at quoteQuoteOut when selling base and quoteBaseOut when buying.
func quoteCall(b *engine.Builder, pkg codec.Address, v *Venue, pool, amount, clock engine.Argument, dir orderbook.Direction) engine.Argument {
	fn := "get_quote_quantity_out"
	if dir == orderbook.BuyBase {
		fn = "get_base_quantity_out"
	}
	return b.MoveCall(pkg, "pool", fn, v.TypeArgs(), pool, amount, clock)
}

func quoteOutputIndex(dir orderbook.Direction) int {
	if dir == orderbook.SellBase {
		return quoteQuoteOut
	}
	return quoteBaseOut
}

// swapCall appends swap_exact_base_for_quote or swap_exact_quote_for_base
// with no minimum output.
func swapCall(b *engine.Builder, pkg codec.Address, v *Venue, pool, coin, deep, clock engine.Argument, dir orderbook.Direction) engine.Argument {
	fn := "swap_exact_base_for_quote"
	if dir == orderbook.BuyBase {
		fn = "swap_exact_quote_for_base"
	}
	return b.MoveCall(pkg, "pool", fn, v.TypeArgs(), pool, coin, deep, b.PureU64(0), clock)
}

// swapCoins maps a swap's returned coins to input refund and output.
func swapCoins(dir orderbook.Direction) (refund, output uint16) {
	if dir == orderbook.SellBase {
		return swapBaseCoin, swapQuoteCoin
	}
	return swapQuoteCoin, swapBaseCoin
}

// iterOrdersCall appends order_query::iter_orders with no end bound and no
// expiry filter.
func iterOrdersCall(b *engine.Builder, pkg codec.Address, v *Venue, pool engine.Argument, bids bool, start *orderbook.OrderID, limit uint64) engine.Argument {
	var from engine.Argument
	if start != nil {
		from = b.PureOptionU128(start.Uint256())
	} else {
		from = b.PureOptionU128(nil)
	}
	return b.MoveCall(pkg, "order_query", "iter_orders", v.TypeArgs(),
		pool, from, b.PureOptionU128(nil), b.PureOptionU64(nil), b.PureU64(limit), b.PureBool(bids))
}

func decodePage(raw []byte) (orderbook.OrderPage, error) {
	return orderbook.DecodeOrderPage(raw)
}

// execute runs p and converts an abort into ExecutionFailedError.
func (c *Coordinator) execute(ctx context.Context, p *engine.Program) (*engine.Result, error) {
	res, err := c.eng.Execute(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if !res.Success {
		c.logger.Debug().Strs("commands", p.Describe()).Str("error", res.Error).Msg("program aborted")
		return nil, &ExecutionFailedError{Message: res.Error}
	}
	return res, nil
}

// executeOn is execute for a program trading amount on venue; minimum size
// aborts become AmountTooSmallError.
func (c *Coordinator) executeOn(ctx context.Context, p *engine.Program, venue string, amount uint64) (*engine.Result, error) {
	res, err := c.eng.Execute(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if !res.Success {
		c.logger.Debug().Str("venue", venue).Strs("commands", p.Describe()).Str("error", res.Error).Msg("program aborted")
		return nil, classifyAbort(venue, amount, res.Error)
	}
	return res, nil
}

func coinReturn(res *engine.Result, cmd engine.Argument, i uint16) (uint64, error) {
	raw, err := res.Return(int(cmd.Index), int(i))
	if err != nil {
		return 0, err
	}
	return engine.CoinValue(raw)
}
