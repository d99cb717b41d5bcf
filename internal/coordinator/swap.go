package coordinator

import (
	"DeepReplay/internal/engine"
	"DeepReplay/internal/orderbook"
	"context"
	"errors"
	"fmt"
	"math/bits"
)

// QuoteResult is the engine's answer to a read-only pricing call.
type QuoteResult struct {
	Venue        string              `json:"venue"`
	Direction    orderbook.Direction `json:"direction"`
	Input        uint64              `json:"input"`
	Output       uint64              `json:"output"`
	DeepRequired uint64              `json:"deep_required"`
}

// TwoHopQuote prices selling the base of venue A and buying the base of
// venue B with the shared quote asset.
type TwoHopQuote struct {
	VenueA       string `json:"venue_a"`
	VenueB       string `json:"venue_b"`
	Input        uint64 `json:"input"`
	Intermediate uint64 `json:"intermediate"`
	Output       uint64 `json:"output"`
}

// SwapResult is the outcome of one executed swap leg.
type SwapResult struct {
	Venue       string              `json:"venue"`
	Direction   orderbook.Direction `json:"direction"`
	InputAsset  string              `json:"input_asset"`
	OutputAsset string              `json:"output_asset"`
	Input       uint64              `json:"input"`
	Output      uint64              `json:"output"`
	InputRefund uint64              `json:"input_refund"`
	FeeIn       uint64              `json:"fee_in"`
	FeeRefund   uint64              `json:"fee_refund"`
	GasUsed     uint64              `json:"gas_used"`
	Commands    []string            `json:"commands"`
	Events      []engine.Event      `json:"events"`
	Digest      string              `json:"digest"`
}

// TwoHopResult is the outcome of a routed swap. Atomic reports whether
// both legs ran in one program; otherwise Legs holds the two sequential
// executions.
type TwoHopResult struct {
	VenueA             string         `json:"venue_a"`
	VenueB             string         `json:"venue_b"`
	InputAsset         string         `json:"input_asset"`
	IntermediateAsset  string         `json:"intermediate_asset"`
	OutputAsset        string         `json:"output_asset"`
	Input              uint64         `json:"input"`
	Intermediate       uint64         `json:"intermediate"`
	Output             uint64         `json:"output"`
	InputRefund        uint64         `json:"input_refund"`
	IntermediateRefund uint64         `json:"intermediate_refund"`
	FeeIn              uint64         `json:"fee_in"`
	FeeRefund          uint64         `json:"fee_refund"`
	GasUsed            uint64         `json:"gas_used"`
	Atomic             bool           `json:"atomic"`
	Legs               []SwapResult   `json:"legs,omitempty"`
	Commands           []string       `json:"commands"`
	Events             []engine.Event `json:"events"`
	Digest             string         `json:"digest"`
}

func (c *Coordinator) quoteSingleHop(ctx context.Context, venue string, amount uint64, dir orderbook.Direction) (*QuoteResult, error) {
	v, err := c.venue(venue)
	if err != nil {
		return nil, err
	}
	b := engine.NewBuilder(c.cfg.Sender)
	pool := b.Object(v.Wrapper, false)
	q := quoteCall(b, c.cfg.DeepBookPackage, &v.Venue, pool, b.PureU64(amount), b.Object(ClockID, false), dir)

	res, err := c.executeOn(ctx, b.Program(), venue, amount)
	if err != nil {
		return nil, err
	}
	out, err := res.ReturnU64(int(q.Index), quoteOutputIndex(dir))
	if err != nil {
		return nil, err
	}
	deep, err := res.ReturnU64(int(q.Index), quoteDeepReq)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{Venue: venue, Direction: dir, Input: amount, Output: out, DeepRequired: deep}, nil
}

// sharedQuote checks that a and b can be chained through their quote asset.
func sharedQuote(a, b *loadedVenue) error {
	if a.QuoteType != b.QuoteType {
		return fmt.Errorf("venues %s and %s do not share a quote asset (%s vs %s)", a.ID, b.ID, a.QuoteSymbol, b.QuoteSymbol)
	}
	return nil
}

// quoteTwoHop chains both pricing calls in one program: the quote output
// of selling on a feeds the buy on b.
func (c *Coordinator) quoteTwoHop(ctx context.Context, venueA, venueB string, amount uint64) (*TwoHopQuote, error) {
	a, err := c.venue(venueA)
	if err != nil {
		return nil, err
	}
	bv, err := c.venue(venueB)
	if err != nil {
		return nil, err
	}
	if err := sharedQuote(a, bv); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(c.cfg.Sender)
	clock := b.Object(ClockID, false)
	leg1 := quoteCall(b, c.cfg.DeepBookPackage, &a.Venue, b.Object(a.Wrapper, false), b.PureU64(amount), clock, orderbook.SellBase)
	leg2 := quoteCall(b, c.cfg.DeepBookPackage, &bv.Venue, b.Object(bv.Wrapper, false), engine.Nested(leg1, quoteQuoteOut), clock, orderbook.BuyBase)

	res, err := c.executeOn(ctx, b.Program(), venueA, amount)
	if err != nil {
		return nil, err
	}
	mid, err := res.ReturnU64(int(leg1.Index), quoteQuoteOut)
	if err != nil {
		return nil, err
	}
	out, err := res.ReturnU64(int(leg2.Index), quoteBaseOut)
	if err != nil {
		return nil, err
	}
	return &TwoHopQuote{VenueA: venueA, VenueB: venueB, Input: amount, Intermediate: mid, Output: out}, nil
}

// executeSingleHop splits amount and fee off the reserves, swaps, and
// merges every returned coin back into its reserve.
func (c *Coordinator) executeSingleHop(ctx context.Context, venue string, amount, fee uint64, dir orderbook.Direction) (*SwapResult, error) {
	v, err := c.venue(venue)
	if err != nil {
		return nil, err
	}
	inType, outType := v.BaseType, v.QuoteType
	if dir == orderbook.BuyBase {
		inType, outType = outType, inType
	}
	in, err := c.reserveFor(inType)
	if err != nil {
		return nil, err
	}
	out, err := c.reserveFor(outType)
	if err != nil {
		return nil, err
	}
	deep, err := c.reserveBySymbol(c.cfg.DeepSymbol)
	if err != nil {
		return nil, err
	}
	if err := c.ensureReserve(ctx, in, amount); err != nil {
		return nil, err
	}
	need := fee
	if deep == in {
		if need, err = addAmounts(fee, amount); err != nil {
			return nil, err
		}
	}
	if err := c.ensureReserve(ctx, deep, need); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(c.cfg.Sender)
	inObj := b.Object(in.ID, true)
	outObj := b.Object(out.ID, true)
	deepObj := b.Object(deep.ID, true)
	coinIn := b.SplitCoins(inObj, b.PureU64(amount))
	deepIn := b.SplitCoins(deepObj, b.PureU64(fee))
	swap := swapCall(b, c.cfg.DeepBookPackage, &v.Venue, b.Object(v.Wrapper, true),
		engine.Nested(coinIn, 0), engine.Nested(deepIn, 0), b.Object(ClockID, false), dir)
	refundIdx, outIdx := swapCoins(dir)
	b.MergeCoins(inObj, engine.Nested(swap, refundIdx))
	b.MergeCoins(outObj, engine.Nested(swap, outIdx))
	b.MergeCoins(deepObj, engine.Nested(swap, swapDeepCoin))
	prog := b.Program()

	res, err := c.executeOn(ctx, prog, venue, amount)
	if err != nil {
		c.metrics.RecordSwap(venue, "failed")
		return nil, err
	}
	// The engine has applied the program; the cache follows it even when
	// the returned coins turn out to be unusable.
	digest, err := c.commit(ctx, res.Effects)
	if err != nil {
		return nil, err
	}
	r := &SwapResult{
		Venue:       venue,
		Direction:   dir,
		InputAsset:  v.InputAsset(dir),
		OutputAsset: v.OutputAsset(dir),
		Input:       amount,
		FeeIn:       fee,
		Commands:    prog.Describe(),
		Digest:      digest,
	}
	if r.InputRefund, err = coinReturn(res, swap, refundIdx); err != nil {
		return nil, err
	}
	if r.Output, err = coinReturn(res, swap, outIdx); err != nil {
		return nil, err
	}
	if r.FeeRefund, err = coinReturn(res, swap, swapDeepCoin); err != nil {
		return nil, err
	}
	if r.InputRefund > r.Input || r.FeeRefund > r.FeeIn {
		c.logger.Error().Str("venue", venue).Interface("result", r).Msg("engine refunded more than was paid")
		return nil, fmt.Errorf("venue %s: refund exceeds input (input %d refund %d, fee %d refund %d)",
			venue, r.Input, r.InputRefund, r.FeeIn, r.FeeRefund)
	}
	if res.Effects != nil {
		r.GasUsed = res.Effects.GasUsed
		r.Events = res.Effects.Events
	}
	c.metrics.RecordSwap(venue, "ok")
	return r, nil
}

// executeTwoHop sells the base of venue A and buys the base of venue B in
// one program. When that fails and neither venue is the provisioned
// default, the route runs as two single-hop swaps: leg 1 output becomes
// leg 2 input and leg 1's unused fee budget pays leg 2.
func (c *Coordinator) executeTwoHop(ctx context.Context, venueA, venueB string, amount, fee uint64) (*TwoHopResult, error) {
	a, err := c.venue(venueA)
	if err != nil {
		return nil, err
	}
	bv, err := c.venue(venueB)
	if err != nil {
		return nil, err
	}
	if err := sharedQuote(a, bv); err != nil {
		return nil, err
	}

	res, atomicErr := c.executeTwoHopAtomic(ctx, a, bv, amount, fee)
	if atomicErr == nil {
		return res, nil
	}
	if a.isDefault || bv.isDefault || !errors.Is(atomicErr, ErrEngineExecutionFailed) {
		return nil, atomicErr
	}
	c.metrics.RecordSwap(venueA+">"+venueB, "fallback")
	c.logger.Warn().Err(atomicErr).Str("venue_a", venueA).Str("venue_b", venueB).Msg("atomic two-hop failed, running legs separately")

	leg1, err := c.executeSingleHop(ctx, venueA, amount, fee, orderbook.SellBase)
	if err != nil {
		return nil, fmt.Errorf("leg 1: %w", err)
	}
	leg2, err := c.executeSingleHop(ctx, venueB, leg1.Output, leg1.FeeRefund, orderbook.BuyBase)
	if err != nil {
		return nil, fmt.Errorf("leg 2 (leg 1 committed): %w", err)
	}
	events := append(append([]engine.Event(nil), leg1.Events...), leg2.Events...)
	commands := append(append([]string(nil), leg1.Commands...), leg2.Commands...)
	return &TwoHopResult{
		VenueA:             venueA,
		VenueB:             venueB,
		InputAsset:         a.BaseSymbol,
		IntermediateAsset:  a.QuoteSymbol,
		OutputAsset:        bv.BaseSymbol,
		Input:              amount,
		Intermediate:       leg1.Output,
		Output:             leg2.Output,
		InputRefund:        leg1.InputRefund,
		IntermediateRefund: leg2.InputRefund,
		FeeIn:              fee,
		FeeRefund:          leg2.FeeRefund,
		GasUsed:            leg1.GasUsed + leg2.GasUsed,
		Legs:               []SwapResult{*leg1, *leg2},
		Commands:           commands,
		Events:             events,
		Digest:             leg2.Digest,
	}, nil
}

func (c *Coordinator) executeTwoHopAtomic(ctx context.Context, a, bv *loadedVenue, amount, fee uint64) (*TwoHopResult, error) {
	in, err := c.reserveFor(a.BaseType)
	if err != nil {
		return nil, err
	}
	mid, err := c.reserveFor(a.QuoteType)
	if err != nil {
		return nil, err
	}
	out, err := c.reserveFor(bv.BaseType)
	if err != nil {
		return nil, err
	}
	deep, err := c.reserveBySymbol(c.cfg.DeepSymbol)
	if err != nil {
		return nil, err
	}
	if err := c.ensureReserve(ctx, in, amount); err != nil {
		return nil, err
	}
	need := fee
	if deep == in {
		if need, err = addAmounts(fee, amount); err != nil {
			return nil, err
		}
	}
	if err := c.ensureReserve(ctx, deep, need); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(c.cfg.Sender)
	clock := b.Object(ClockID, false)
	inObj := b.Object(in.ID, true)
	midObj := b.Object(mid.ID, true)
	outObj := b.Object(out.ID, true)
	deepObj := b.Object(deep.ID, true)
	coinIn := b.SplitCoins(inObj, b.PureU64(amount))
	deepIn := b.SplitCoins(deepObj, b.PureU64(fee))
	leg1 := swapCall(b, c.cfg.DeepBookPackage, &a.Venue, b.Object(a.Wrapper, true),
		engine.Nested(coinIn, 0), engine.Nested(deepIn, 0), clock, orderbook.SellBase)
	leg2 := swapCall(b, c.cfg.DeepBookPackage, &bv.Venue, b.Object(bv.Wrapper, true),
		engine.Nested(leg1, swapQuoteCoin), engine.Nested(leg1, swapDeepCoin), clock, orderbook.BuyBase)
	b.MergeCoins(inObj, engine.Nested(leg1, swapBaseCoin))
	b.MergeCoins(midObj, engine.Nested(leg2, swapQuoteCoin))
	b.MergeCoins(outObj, engine.Nested(leg2, swapBaseCoin))
	b.MergeCoins(deepObj, engine.Nested(leg2, swapDeepCoin))
	prog := b.Program()

	res, err := c.executeOn(ctx, prog, a.ID, amount)
	if err != nil {
		return nil, err
	}
	digest, err := c.commit(ctx, res.Effects)
	if err != nil {
		return nil, err
	}
	r := &TwoHopResult{
		VenueA:            a.ID,
		VenueB:            bv.ID,
		InputAsset:        a.BaseSymbol,
		IntermediateAsset: a.QuoteSymbol,
		OutputAsset:       bv.BaseSymbol,
		Input:             amount,
		FeeIn:             fee,
		Atomic:            true,
		Commands:          prog.Describe(),
		Digest:            digest,
	}
	if r.InputRefund, err = coinReturn(res, leg1, swapBaseCoin); err != nil {
		return nil, err
	}
	if r.Intermediate, err = coinReturn(res, leg1, swapQuoteCoin); err != nil {
		return nil, err
	}
	if r.IntermediateRefund, err = coinReturn(res, leg2, swapQuoteCoin); err != nil {
		return nil, err
	}
	if r.Output, err = coinReturn(res, leg2, swapBaseCoin); err != nil {
		return nil, err
	}
	if r.FeeRefund, err = coinReturn(res, leg2, swapDeepCoin); err != nil {
		return nil, err
	}
	if r.InputRefund > r.Input || r.IntermediateRefund > r.Intermediate || r.FeeRefund > r.FeeIn {
		c.logger.Error().Str("venue_a", a.ID).Str("venue_b", bv.ID).Interface("result", r).Msg("engine refunded more than was paid")
		return nil, fmt.Errorf("route %s>%s: refund exceeds input (input %d refund %d, intermediate %d refund %d, fee %d refund %d)",
			a.ID, bv.ID, r.Input, r.InputRefund, r.Intermediate, r.IntermediateRefund, r.FeeIn, r.FeeRefund)
	}
	if res.Effects != nil {
		r.GasUsed = res.Effects.GasUsed
		r.Events = res.Effects.Events
	}
	c.metrics.RecordSwap(a.ID, "ok")
	c.metrics.RecordSwap(bv.ID, "ok")
	return r, nil
}

// addAmounts is a + b, rejecting sums that do not fit in a u64.
func addAmounts(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return sum, nil
}
