package session

import (
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/orderbook"
	"context"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const feeAsset = "DEEP"

// Session is one sandbox user. All methods are safe for concurrent use;
// operations on the same session run one at a time.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	manager *Manager

	mu       sync.Mutex
	balances Balances
	history  []SwapRecord
	books    map[string]*Book
}

// SwapRecord is one applied swap in a session's history.
type SwapRecord struct {
	ID                 string              `json:"id"`
	SessionID          string              `json:"session_id"`
	Route              []string            `json:"route"`
	Direction          orderbook.Direction `json:"direction"`
	InputAsset         string              `json:"input_asset"`
	OutputAsset        string              `json:"output_asset"`
	IntermediateAsset  string              `json:"intermediate_asset,omitempty"`
	Input              uint64              `json:"input"`
	InputRefund        uint64              `json:"input_refund"`
	Output             uint64              `json:"output"`
	IntermediateRefund uint64              `json:"intermediate_refund,omitempty"`
	FeeIn              uint64              `json:"fee_in"`
	FeeRefund          uint64              `json:"fee_refund"`
	EffectivePrice     decimal.Decimal     `json:"effective_price"`
	GasUsed            uint64              `json:"gas_used"`
	Atomic             bool                `json:"atomic"`
	Commands           []string            `json:"commands"`
	Digest             string              `json:"digest"`
	ExecutedAt         time.Time           `json:"executed_at"`
	BalancesAfter      Balances            `json:"balances_after"`
}

// Venue is the first venue of the route.
func (r SwapRecord) Venue() string {
	if len(r.Route) == 0 {
		return ""
	}
	return r.Route[0]
}

// ExecutedSwap is what the engine reported for a swap, in the terms the
// session needs to settle it.
type ExecutedSwap struct {
	Route              []string
	Direction          orderbook.Direction
	InputAsset         string
	OutputAsset        string
	IntermediateAsset  string
	Input              uint64
	InputRefund        uint64
	FeeIn              uint64
	FeeRefund          uint64
	Output             uint64
	IntermediateRefund uint64
	EffectivePrice     decimal.Decimal
	GasUsed            uint64
	Atomic             bool
	Commands           []string
	Digest             string
}

// SwapOutcome is the caller-facing result of a swap request. A balance
// shortfall is reported here with Success false, not as an error.
type SwapOutcome struct {
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Err         error       `json:"-"`
	InputAsset  string      `json:"input_asset"`
	OutputAsset string      `json:"output_asset"`
	Input       uint64      `json:"input"`
	Fee         uint64      `json:"fee"`
	Output      uint64      `json:"output"`
	Record      *SwapRecord `json:"record,omitempty"`
	Balances    Balances    `json:"balances_after"`
}

func (s *Session) Balances() Balances {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances.Clone()
}

func (s *Session) History() []SwapRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SwapRecord(nil), s.history...)
}

// Book returns the session's view of venue.
func (s *Session) Book(venue string) (*orderbook.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return b.View(), nil
}

// Quote walks the session's private book, so it reflects liquidity the
// session already consumed.
func (s *Session) Quote(venue string, amount uint64, dir orderbook.Direction) (orderbook.QuoteResult, error) {
	book, err := s.Book(venue)
	if err != nil {
		return orderbook.QuoteResult{}, err
	}
	return orderbook.Quote(book, amount, dir), nil
}

// Mint delivers amount of asset from the reserves into the session.
func (s *Session) Mint(ctx context.Context, asset string, amount uint64) (*coordinator.MintResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.manager.exec.MintReserve(ctx, asset, amount)
	if err != nil {
		return nil, err
	}
	s.balances.Add(res.Asset, res.Amount)
	return res, nil
}

// checkFunds reports the first shortfall for spending amount of asset plus
// fee of DEEP.
func (s *Session) checkFunds(asset string, amount, fee uint64) error {
	asset = strings.ToUpper(asset)
	if asset == feeAsset {
		need, carry := bits.Add64(amount, fee, 0)
		if carry != 0 {
			need = math.MaxUint64
		}
		if have := s.balances.Get(feeAsset); carry != 0 || have < need {
			return &InsufficientBalanceError{Asset: feeAsset, Have: have, Need: need}
		}
		return nil
	}
	if have := s.balances.Get(asset); have < amount {
		return &InsufficientBalanceError{Asset: asset, Have: have, Need: amount}
	}
	if have := s.balances.Get(feeAsset); have < fee {
		return &InsufficientBalanceError{Asset: feeAsset, Have: have, Need: fee}
	}
	return nil
}

func (s *Session) shortfall(route string, in, out string, amount, fee uint64, err error) *SwapOutcome {
	s.manager.metrics.RecordSwap(route, "insufficient")
	return &SwapOutcome{
		Error:       err.Error(),
		Err:         err,
		InputAsset:  in,
		OutputAsset: out,
		Input:       amount,
		Fee:         fee,
		Balances:    s.balances.Clone(),
	}
}

// ExecuteSwap swaps amount on venue through the engine, settles the
// result into the session and depletes the session's book.
func (s *Session) ExecuteSwap(ctx context.Context, venue string, amount, fee uint64, dir orderbook.Direction) (*SwapOutcome, error) {
	mk, err := s.manager.market(venue)
	if err != nil {
		return nil, err
	}
	in, out := mk.Venue.InputAsset(dir), mk.Venue.OutputAsset(dir)

	s.mu.Lock()
	if err := s.checkFunds(in, amount, fee); err != nil {
		defer s.mu.Unlock()
		return s.shortfall(venue, in, out, amount, fee, err), nil
	}
	res, err := s.manager.exec.ExecuteSingleHop(ctx, venue, amount, fee, dir)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	consumed := res.Input - min(res.InputRefund, res.Input)
	rec, err := s.applyLocked(ExecutedSwap{
		Route:          []string{venue},
		Direction:      dir,
		InputAsset:     res.InputAsset,
		OutputAsset:    res.OutputAsset,
		Input:          res.Input,
		InputRefund:    res.InputRefund,
		FeeIn:          res.FeeIn,
		FeeRefund:      res.FeeRefund,
		Output:         res.Output,
		EffectivePrice: effectivePrice(mk.Book, dir, consumed, res.Output),
		GasUsed:        res.GasUsed,
		Commands:       res.Commands,
		Digest:         res.Digest,
		Atomic:         true,
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if b, ok := s.books[venue]; ok {
		b.Consume(consumed, dir)
	}
	outcome := s.outcome(rec)
	s.mu.Unlock()

	s.manager.notify(*rec)
	return outcome, nil
}

// ExecuteTwoHopSwap sells amount of venueA's base and buys venueB's base
// with the proceeds.
func (s *Session) ExecuteTwoHopSwap(ctx context.Context, venueA, venueB string, amount, fee uint64) (*SwapOutcome, error) {
	a, err := s.manager.market(venueA)
	if err != nil {
		return nil, err
	}
	b, err := s.manager.market(venueB)
	if err != nil {
		return nil, err
	}
	route := venueA + ">" + venueB

	s.mu.Lock()
	if err := s.checkFunds(a.Venue.BaseSymbol, amount, fee); err != nil {
		defer s.mu.Unlock()
		return s.shortfall(route, a.Venue.BaseSymbol, b.Venue.BaseSymbol, amount, fee, err), nil
	}
	res, err := s.manager.exec.ExecuteTwoHop(ctx, venueA, venueB, amount, fee)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	consumedA := res.Input - min(res.InputRefund, res.Input)
	consumedB := res.Intermediate - min(res.IntermediateRefund, res.Intermediate)
	price := decimal.Zero
	if consumedA > 0 {
		price = b.Book.HumanBase(res.Output).Div(a.Book.HumanBase(consumedA))
	}
	rec, err := s.applyLocked(ExecutedSwap{
		Route:              []string{venueA, venueB},
		Direction:          orderbook.SellBase,
		InputAsset:         res.InputAsset,
		OutputAsset:        res.OutputAsset,
		IntermediateAsset:  res.IntermediateAsset,
		Input:              res.Input,
		InputRefund:        res.InputRefund,
		FeeIn:              res.FeeIn,
		FeeRefund:          res.FeeRefund,
		Output:             res.Output,
		IntermediateRefund: res.IntermediateRefund,
		EffectivePrice:     price,
		GasUsed:            res.GasUsed,
		Atomic:             res.Atomic,
		Commands:           res.Commands,
		Digest:             res.Digest,
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if bk, ok := s.books[venueA]; ok {
		bk.Consume(consumedA, orderbook.SellBase)
	}
	if bk, ok := s.books[venueB]; ok {
		bk.Consume(consumedB, orderbook.BuyBase)
	}
	outcome := s.outcome(rec)
	s.mu.Unlock()

	s.manager.notify(*rec)
	return outcome, nil
}

func (s *Session) outcome(rec *SwapRecord) *SwapOutcome {
	return &SwapOutcome{
		Success:     true,
		InputAsset:  rec.InputAsset,
		OutputAsset: rec.OutputAsset,
		Input:       rec.Input,
		Fee:         rec.FeeIn,
		Output:      rec.Output,
		Record:      rec,
		Balances:    s.balances.Clone(),
	}
}

// ApplyExecutedSwap settles an engine result: it debits the consumed input
// and fee and credits the output. Balances are untouched on error.
func (s *Session) ApplyExecutedSwap(x ExecutedSwap) (*SwapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(x)
}

func (s *Session) applyLocked(x ExecutedSwap) (*SwapRecord, error) {
	if x.InputRefund > x.Input {
		err := fmt.Errorf("%w: input refund %d > input %d", ErrRefundExceedsInput, x.InputRefund, x.Input)
		s.manager.logger.Error().Err(err).Str("session", s.ID).Msg("engine result rejected")
		return nil, err
	}
	if x.FeeRefund > x.FeeIn {
		err := fmt.Errorf("%w: fee refund %d > fee %d", ErrRefundExceedsInput, x.FeeRefund, x.FeeIn)
		s.manager.logger.Error().Err(err).Str("session", s.ID).Msg("engine result rejected")
		return nil, err
	}
	consumedInput := x.Input - x.InputRefund
	consumedFee := x.FeeIn - x.FeeRefund

	next := s.balances.Clone()
	if err := next.Sub(x.InputAsset, consumedInput); err != nil {
		return nil, err
	}
	if err := next.Sub(feeAsset, consumedFee); err != nil {
		return nil, err
	}
	next.Add(x.OutputAsset, x.Output)
	if x.IntermediateRefund > 0 {
		next.Add(x.IntermediateAsset, x.IntermediateRefund)
	}
	s.balances = next

	rec := SwapRecord{
		ID:                 uuid.NewString(),
		SessionID:          s.ID,
		Route:              append([]string(nil), x.Route...),
		Direction:          x.Direction,
		InputAsset:         strings.ToUpper(x.InputAsset),
		OutputAsset:        strings.ToUpper(x.OutputAsset),
		IntermediateAsset:  strings.ToUpper(x.IntermediateAsset),
		Input:              x.Input,
		InputRefund:        x.InputRefund,
		Output:             x.Output,
		IntermediateRefund: x.IntermediateRefund,
		FeeIn:              x.FeeIn,
		FeeRefund:          x.FeeRefund,
		EffectivePrice:     x.EffectivePrice,
		GasUsed:            x.GasUsed,
		Atomic:             x.Atomic,
		Commands:           x.Commands,
		Digest:             x.Digest,
		ExecutedAt:         s.manager.now().UTC(),
		BalancesAfter:      next.Clone(),
	}
	s.history = append(s.history, rec)
	return &rec, nil
}

// ConsumeLiquidity depletes the session's copy of venue as a swap of
// amount in dir would. It returns the input the book could absorb.
func (s *Session) ConsumeLiquidity(venue string, amount uint64, dir orderbook.Direction) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[venue]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return b.Consume(amount, dir), nil
}

// Reset zeroes balances and history and re-clones the current global
// books. Other sessions are unaffected.
func (s *Session) Reset() {
	books := s.manager.privateBooks()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = Balances{}
	s.history = nil
	s.books = books
}

// effectivePrice is quote per whole base in human units.
func effectivePrice(b *orderbook.Book, dir orderbook.Direction, input, output uint64) decimal.Decimal {
	if input == 0 || output == 0 {
		return decimal.Zero
	}
	if dir == orderbook.SellBase {
		return b.HumanQuote(output).Div(b.HumanBase(input))
	}
	return b.HumanQuote(input).Div(b.HumanBase(output))
}
