package session_test

import (
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/orderbook"
	"DeepReplay/internal/session"
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// fakeExecutor prices swaps off fixed levels without an engine.
type fakeExecutor struct {
	mu        sync.Mutex
	swaps     int
	single    func(venue string, amount, fee uint64, dir orderbook.Direction) (*coordinator.SwapResult, error)
	twoHop    func(venueA, venueB string, amount, fee uint64) (*coordinator.TwoHopResult, error)
	mintError error
}

func (f *fakeExecutor) ExecuteSingleHop(_ context.Context, venue string, amount, fee uint64, dir orderbook.Direction) (*coordinator.SwapResult, error) {
	f.mu.Lock()
	f.swaps++
	f.mu.Unlock()
	if f.single != nil {
		return f.single(venue, amount, fee, dir)
	}
	return fullFill(venue, amount, fee, dir), nil
}

func (f *fakeExecutor) ExecuteTwoHop(_ context.Context, venueA, venueB string, amount, fee uint64) (*coordinator.TwoHopResult, error) {
	f.mu.Lock()
	f.swaps++
	f.mu.Unlock()
	return f.twoHop(venueA, venueB, amount, fee)
}

func (f *fakeExecutor) MintReserve(_ context.Context, asset string, amount uint64) (*coordinator.MintResult, error) {
	if f.mintError != nil {
		return nil, f.mintError
	}
	return &coordinator.MintResult{Asset: strings.ToUpper(asset), Amount: amount}, nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swaps
}

// fullFill fills sui_usdc at its best level with no refunds.
func fullFill(venue string, amount, fee uint64, dir orderbook.Direction) *coordinator.SwapResult {
	res := &coordinator.SwapResult{
		Venue:     venue,
		Direction: dir,
		Input:     amount,
		FeeIn:     fee,
		Commands:  []string{"MoveCall"},
		Digest:    "digest",
	}
	if dir == orderbook.SellBase {
		res.InputAsset, res.OutputAsset = "SUI", "USDC"
		res.Output = orderbook.QuoteOut(amount, 3_000_000)
	} else {
		res.InputAsset, res.OutputAsset = "USDC", "SUI"
		res.Output = orderbook.BaseFor(amount, 3_100_000)
	}
	return res
}

func suiMarket() session.Market {
	return session.Market{
		Venue: coordinator.Venue{ID: "sui_usdc", BaseSymbol: "SUI", QuoteSymbol: "USDC", BaseDecimals: 9, QuoteDecimals: 6},
		Book: &orderbook.Book{
			Venue:         "sui_usdc",
			Bids:          []orderbook.PriceLevel{{Price: 3_000_000, TotalQuantity: 5_000_000_000, OrderCount: 2}},
			Asks:          []orderbook.PriceLevel{{Price: 3_100_000, TotalQuantity: 5_000_000_000, OrderCount: 1}},
			Checkpoint:    100,
			BaseDecimals:  9,
			QuoteDecimals: 6,
		},
	}
}

func walMarket() session.Market {
	return session.Market{
		Venue: coordinator.Venue{ID: "wal_usdc", BaseSymbol: "WAL", QuoteSymbol: "USDC", BaseDecimals: 9, QuoteDecimals: 6},
		Book: &orderbook.Book{
			Venue:         "wal_usdc",
			Bids:          []orderbook.PriceLevel{{Price: 400_000, TotalQuantity: 50_000_000_000, OrderCount: 1}},
			Asks:          []orderbook.PriceLevel{{Price: 420_000, TotalQuantity: 100_000_000_000, OrderCount: 1}},
			Checkpoint:    100,
			BaseDecimals:  9,
			QuoteDecimals: 6,
		},
	}
}

func deepMarket() session.Market {
	return session.Market{
		Venue: coordinator.Venue{ID: "deep_usdc", BaseSymbol: "DEEP", QuoteSymbol: "USDC", BaseDecimals: 6, QuoteDecimals: 6},
		Book:  &orderbook.Book{Venue: "deep_usdc", BaseDecimals: 6, QuoteDecimals: 6},
	}
}

func newManager(t *testing.T, exec *fakeExecutor, opts ...session.Option) *session.Manager {
	t.Helper()
	m := session.NewManager(exec, zerolog.Nop(), nil, opts...)
	m.ReplaceGlobalBooks([]session.Market{suiMarket(), walMarket(), deepMarket()})
	return m
}

func fund(t *testing.T, s *session.Session, asset string, amount uint64) {
	t.Helper()
	if _, err := s.Mint(context.Background(), asset, amount); err != nil {
		t.Fatalf("mint %s: %v", asset, err)
	}
}

func bidDepth(t *testing.T, s *session.Session, venue string) uint64 {
	t.Helper()
	b, err := s.Book(venue)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var total uint64
	for _, l := range b.Bids {
		total += l.TotalQuantity
	}
	return total
}

// ===== Test: balances =====

func TestBalances_CaseInsensitive(t *testing.T) {
	var b session.Balances
	b.Set("sui", 5)
	b.Add("Sui", 2)
	if got := b.Get("SUI"); got != 7 {
		t.Errorf("SUI = %d, want 7", got)
	}
	if b.SUI != 7 {
		t.Errorf("fixed slot = %d, want 7", b.SUI)
	}
}

func TestBalances_CustomZeroIsRemoved(t *testing.T) {
	var b session.Balances
	b.Set("dbg", 10)
	if got := b.Get("DBG"); got != 10 {
		t.Fatalf("DBG = %d, want 10", got)
	}
	if err := b.Sub("DBG", 10); err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if _, ok := b.Custom["DBG"]; ok {
		t.Error("zero custom balance still present")
	}
	if got := len(b.Symbols()); got != 4 {
		t.Errorf("symbols = %d, want 4", got)
	}
}

func TestBalances_SubShortLeavesBalance(t *testing.T) {
	var b session.Balances
	b.Set("USDC", 100)
	err := b.Sub("usdc", 101)
	if !errors.Is(err, session.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	var ib *session.InsufficientBalanceError
	if !errors.As(err, &ib) || ib.Asset != "USDC" || ib.Have != 100 || ib.Need != 101 {
		t.Errorf("detail = %+v", ib)
	}
	if b.USDC != 100 {
		t.Errorf("USDC = %d, want 100", b.USDC)
	}
}

func TestBalances_CloneIsIndependent(t *testing.T) {
	var b session.Balances
	b.Set("DBG", 1)
	c := b.Clone()
	c.Set("DBG", 9)
	if got := b.Get("DBG"); got != 1 {
		t.Errorf("original DBG = %d, want 1", got)
	}
}

// ===== Test: private book =====

func TestBook_ConsumeBuyAcrossLevels(t *testing.T) {
	b := session.NewBook(&orderbook.Book{
		Venue: "x",
		Asks: []orderbook.PriceLevel{
			{Price: 100_000_000, TotalQuantity: 1_000_000_000, OrderCount: 1},
			{Price: 200_000_000, TotalQuantity: 1_000_000_000, OrderCount: 1},
		},
	})

	used := b.Consume(200_000_000, orderbook.BuyBase)
	if used != 200_000_000 {
		t.Errorf("used = %d, want 200000000", used)
	}
	asks := b.Levels(orderbook.Ask)
	if len(asks) != 1 {
		t.Fatalf("ask levels = %d, want 1", len(asks))
	}
	if asks[0].Price != 200_000_000 || asks[0].TotalQuantity != 500_000_000 {
		t.Errorf("remaining level = %+v", asks[0])
	}
}

func TestBook_ConsumeSellBeyondDepth(t *testing.T) {
	b := session.NewBook(suiMarket().Book)
	used := b.Consume(7_000_000_000, orderbook.SellBase)
	if used != 5_000_000_000 {
		t.Errorf("used = %d, want 5000000000", used)
	}
	if got := b.Depth(orderbook.Bid); got != 0 {
		t.Errorf("bid depth = %d, want 0", got)
	}
	if got := b.Depth(orderbook.Ask); got != 5_000_000_000 {
		t.Errorf("ask depth = %d, want untouched", got)
	}
}

func TestBook_ConsumeMatchesWalkOnZeroCostLevel(t *testing.T) {
	asks := []orderbook.PriceLevel{
		{Price: 1_000, TotalQuantity: 1, OrderCount: 1},
		{Price: 2_000_000_000, TotalQuantity: 10, OrderCount: 1},
	}
	want := orderbook.Walk(asks, 20, orderbook.BuyBase)
	if want.LevelsConsumed != 2 || want.Output != 11 || !want.FullyFilled {
		t.Fatalf("walk = %+v, want 2 levels and output 11", want)
	}

	b := session.NewBook(&orderbook.Book{Venue: "x", Asks: asks})
	if used := b.Consume(20, orderbook.BuyBase); used != 20 {
		t.Errorf("used = %d, want 20", used)
	}
	if left := b.Levels(orderbook.Ask); len(left) != 0 {
		t.Errorf("ask levels left = %+v, want none", left)
	}
}

func TestBook_LevelsBestFirst(t *testing.T) {
	b := session.NewBook(&orderbook.Book{
		Bids: []orderbook.PriceLevel{{Price: 1, TotalQuantity: 1}, {Price: 3, TotalQuantity: 1}, {Price: 2, TotalQuantity: 1}},
		Asks: []orderbook.PriceLevel{{Price: 9, TotalQuantity: 1}, {Price: 7, TotalQuantity: 1}},
	})
	bids := b.Levels(orderbook.Bid)
	if bids[0].Price != 3 || bids[2].Price != 1 {
		t.Errorf("bids = %+v, want descending", bids)
	}
	asks := b.Levels(orderbook.Ask)
	if asks[0].Price != 7 {
		t.Errorf("asks = %+v, want ascending", asks)
	}
}

// ===== Test: manager =====

func TestManager_CreateGetDelete(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newManager(t, &fakeExecutor{}, session.WithClock(func() time.Time { return now }))

	s := m.Create()
	if s.ID == "" {
		t.Fatal("empty session id")
	}
	if !s.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", s.CreatedAt, now)
	}
	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("second delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_NewSessionIsUnfunded(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	b := s.Balances()
	for _, sym := range b.Symbols() {
		if got := b.Get(sym); got != 0 {
			t.Errorf("%s = %d, want 0", sym, got)
		}
	}
	if len(s.History()) != 0 {
		t.Error("new session has history")
	}
}

func TestManager_IDsSorted(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	for i := 0; i < 5; i++ {
		m.Create()
	}
	ids := m.IDs()
	if len(ids) != 5 {
		t.Fatalf("ids = %d, want 5", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("ids not sorted: %v", ids)
		}
	}
}

// ===== Test: single-hop swaps =====

func TestExecuteSwap_SettlesBalances(t *testing.T) {
	exec := &fakeExecutor{}
	m := newManager(t, exec)
	s := m.Create()
	fund(t, s, "SUI", 10_000_000_000)
	fund(t, s, "DEEP", 5_000)

	out, err := s.ExecuteSwap(context.Background(), "sui_usdc", 2_000_000_000, 1_000, orderbook.SellBase)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if out.Output != 6_000_000 {
		t.Errorf("output = %d, want 6000000", out.Output)
	}

	b := s.Balances()
	if b.SUI != 8_000_000_000 || b.USDC != 6_000_000 || b.DEEP != 4_000 {
		t.Errorf("balances = %+v", b)
	}
	if !reflect.DeepEqual(out.Balances, b) {
		t.Errorf("outcome balances = %+v, want %+v", out.Balances, b)
	}

	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("history = %d, want 1", len(hist))
	}
	rec := hist[0]
	if rec.Venue() != "sui_usdc" || rec.SessionID != s.ID || rec.InputAsset != "SUI" || rec.OutputAsset != "USDC" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.EffectivePrice.Equal(decimal.NewFromInt(3)) {
		t.Errorf("effective price = %s, want 3", rec.EffectivePrice)
	}
}

func TestExecuteSwap_ConsumesPrivateBookOnly(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s1, s2 := m.Create(), m.Create()
	fund(t, s1, "SUI", 10_000_000_000)
	fund(t, s1, "DEEP", 1_000)

	if _, err := s1.ExecuteSwap(context.Background(), "sui_usdc", 2_000_000_000, 1_000, orderbook.SellBase); err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}

	if got := bidDepth(t, s1, "sui_usdc"); got != 3_000_000_000 {
		t.Errorf("s1 bid depth = %d, want 3000000000", got)
	}
	if got := bidDepth(t, s2, "sui_usdc"); got != 5_000_000_000 {
		t.Errorf("s2 bid depth = %d, want 5000000000", got)
	}
	global, ok := m.GlobalBook("sui_usdc")
	if !ok {
		t.Fatal("global book missing")
	}
	if global.Bids[0].TotalQuantity != 5_000_000_000 {
		t.Errorf("global bid = %d, want 5000000000", global.Bids[0].TotalQuantity)
	}

	q, err := s1.Quote("sui_usdc", 4_000_000_000, orderbook.SellBase)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.FullyFilled {
		t.Error("quote against depleted book should not fill fully")
	}
	if s2.Balances().SUI != 0 {
		t.Error("s2 balances changed")
	}
}

func TestExecuteSwap_InsufficientInput(t *testing.T) {
	exec := &fakeExecutor{}
	m := newManager(t, exec)
	s := m.Create()
	fund(t, s, "DEEP", 1_000)

	out, err := s.ExecuteSwap(context.Background(), "sui_usdc", 1_000_000_000, 1_000, orderbook.SellBase)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if out.Success {
		t.Fatal("outcome succeeded without funds")
	}
	if !errors.Is(out.Err, session.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", out.Err)
	}
	if out.Output != 0 || out.Record != nil {
		t.Errorf("outcome = %+v", out)
	}
	if out.Balances.DEEP != 1_000 {
		t.Errorf("balances = %+v", out.Balances)
	}
	if exec.calls() != 0 {
		t.Errorf("executor calls = %d, want 0", exec.calls())
	}
	if len(s.History()) != 0 {
		t.Error("failed swap recorded in history")
	}
}

func TestExecuteSwap_InsufficientFee(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "SUI", 1_000_000_000)

	out, err := s.ExecuteSwap(context.Background(), "sui_usdc", 1_000_000_000, 1_000, orderbook.SellBase)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	var ib *session.InsufficientBalanceError
	if !errors.As(out.Err, &ib) || ib.Asset != "DEEP" || ib.Need != 1_000 {
		t.Errorf("err = %v, want DEEP shortfall", out.Err)
	}
}

func TestExecuteSwap_DeepInputCoversFee(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "DEEP", 1_000)

	out, err := s.ExecuteSwap(context.Background(), "deep_usdc", 1_000, 1, orderbook.SellBase)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	var ib *session.InsufficientBalanceError
	if !errors.As(out.Err, &ib) || ib.Need != 1_001 || ib.Have != 1_000 {
		t.Errorf("err = %v, want need 1001", out.Err)
	}
}

func TestExecuteSwap_DeepInputPlusFeeOverflow(t *testing.T) {
	exec := &fakeExecutor{}
	m := newManager(t, exec)
	s := m.Create()
	fund(t, s, "DEEP", 10)

	out, err := s.ExecuteSwap(context.Background(), "deep_usdc", math.MaxUint64, 2, orderbook.SellBase)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if out.Success {
		t.Fatal("swap succeeded")
	}
	var ib *session.InsufficientBalanceError
	if !errors.As(out.Err, &ib) || ib.Asset != "DEEP" || ib.Have != 10 || ib.Need != math.MaxUint64 {
		t.Errorf("err = %v, want DEEP shortfall", out.Err)
	}
	if exec.calls() != 0 {
		t.Errorf("executor calls = %d, want 0", exec.calls())
	}
	if bal := s.Balances(); bal.Get("DEEP") != 10 {
		t.Errorf("DEEP = %d, want 10", bal.Get("DEEP"))
	}
}

func TestExecuteSwap_ExecutorErrorLeavesState(t *testing.T) {
	boom := errors.New("engine down")
	exec := &fakeExecutor{
		single: func(string, uint64, uint64, orderbook.Direction) (*coordinator.SwapResult, error) {
			return nil, boom
		},
	}
	m := newManager(t, exec)
	s := m.Create()
	fund(t, s, "SUI", 2_000_000_000)
	fund(t, s, "DEEP", 1_000)

	_, err := s.ExecuteSwap(context.Background(), "sui_usdc", 1_000_000_000, 1_000, orderbook.SellBase)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if b := s.Balances(); b.SUI != 2_000_000_000 || b.DEEP != 1_000 {
		t.Errorf("balances = %+v", b)
	}
	if got := bidDepth(t, s, "sui_usdc"); got != 5_000_000_000 {
		t.Errorf("bid depth = %d, want untouched", got)
	}
}

func TestExecuteSwap_UnknownVenue(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	_, err := s.ExecuteSwap(context.Background(), "nope", 1, 1, orderbook.SellBase)
	if !errors.Is(err, session.ErrUnknownVenue) {
		t.Errorf("err = %v, want ErrUnknownVenue", err)
	}
}

func TestExecuteSwap_NotifiesHook(t *testing.T) {
	var got []session.SwapRecord
	m := newManager(t, &fakeExecutor{}, session.WithSwapHook(func(r session.SwapRecord) { got = append(got, r) }))
	s := m.Create()
	fund(t, s, "USDC", 3_100_000)
	fund(t, s, "DEEP", 1_000)

	out, err := s.ExecuteSwap(context.Background(), "sui_usdc", 3_100_000, 1_000, orderbook.BuyBase)
	if err != nil || !out.Success {
		t.Fatalf("ExecuteSwap = %+v, %v", out, err)
	}
	if len(got) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(got))
	}
	if got[0].Output != 1_000_000_000 || got[0].Direction != orderbook.BuyBase {
		t.Errorf("record = %+v", got[0])
	}
}

// ===== Test: applying engine results =====

func TestApplyExecutedSwap_PartialFill(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "SUI", 2_000_000_000)
	fund(t, s, "DEEP", 1_000)

	rec, err := s.ApplyExecutedSwap(session.ExecutedSwap{
		Route:       []string{"sui_usdc"},
		InputAsset:  "SUI",
		OutputAsset: "USDC",
		Input:       2_000_000_000,
		InputRefund: 500_000_000,
		FeeIn:       1_000,
		FeeRefund:   250,
		Output:      4_500_000,
	})
	if err != nil {
		t.Fatalf("ApplyExecutedSwap: %v", err)
	}
	b := s.Balances()
	if b.SUI != 500_000_000 || b.USDC != 4_500_000 || b.DEEP != 250 {
		t.Errorf("balances = %+v", b)
	}
	if !reflect.DeepEqual(rec.BalancesAfter, b) {
		t.Errorf("record balances = %+v, want %+v", rec.BalancesAfter, b)
	}
}

func TestApplyExecutedSwap_RefundExceedsInput(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "SUI", 2_000_000_000)

	tests := []struct {
		name string
		swap session.ExecutedSwap
	}{
		{"input", session.ExecutedSwap{InputAsset: "SUI", OutputAsset: "USDC", Input: 10, InputRefund: 11}},
		{"fee", session.ExecutedSwap{InputAsset: "SUI", OutputAsset: "USDC", Input: 10, FeeIn: 1, FeeRefund: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ApplyExecutedSwap(tt.swap)
			if !errors.Is(err, session.ErrRefundExceedsInput) {
				t.Errorf("err = %v, want ErrRefundExceedsInput", err)
			}
		})
	}
	if b := s.Balances(); b.SUI != 2_000_000_000 || b.USDC != 0 {
		t.Errorf("balances = %+v", b)
	}
	if len(s.History()) != 0 {
		t.Error("rejected swap recorded")
	}
}

func TestApplyExecutedSwap_ConservesSupply(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "SUI", 1_000)
	fund(t, s, "DEEP", 10)

	if _, err := s.ApplyExecutedSwap(session.ExecutedSwap{
		InputAsset: "SUI", OutputAsset: "USDC",
		Input: 1_000, InputRefund: 1_000, FeeIn: 10, FeeRefund: 10,
	}); err != nil {
		t.Fatalf("ApplyExecutedSwap: %v", err)
	}
	if b := s.Balances(); b.SUI != 1_000 || b.DEEP != 10 || b.USDC != 0 {
		t.Errorf("full refund changed balances: %+v", b)
	}
}

// ===== Test: two-hop swaps =====

func TestExecuteTwoHopSwap_Settles(t *testing.T) {
	exec := &fakeExecutor{
		twoHop: func(a, b string, amount, fee uint64) (*coordinator.TwoHopResult, error) {
			return &coordinator.TwoHopResult{
				VenueA: a, VenueB: b,
				InputAsset: "SUI", IntermediateAsset: "USDC", OutputAsset: "WAL",
				Input:              amount,
				Intermediate:       3_000_000,
				IntermediateRefund: 1,
				Output:             7_142_857_142,
				FeeIn:              fee,
				Atomic:             true,
			}, nil
		},
	}
	m := newManager(t, exec)
	s := m.Create()
	fund(t, s, "SUI", 1_000_000_000)
	fund(t, s, "DEEP", 2_000)

	out, err := s.ExecuteTwoHopSwap(context.Background(), "sui_usdc", "wal_usdc", 1_000_000_000, 2_000)
	if err != nil {
		t.Fatalf("ExecuteTwoHopSwap: %v", err)
	}
	if !out.Success || out.OutputAsset != "WAL" {
		t.Fatalf("outcome = %+v", out)
	}
	b := s.Balances()
	if b.SUI != 0 || b.USDC != 1 || b.WAL != 7_142_857_142 || b.DEEP != 0 {
		t.Errorf("balances = %+v", b)
	}
	if got := bidDepth(t, s, "sui_usdc"); got != 4_000_000_000 {
		t.Errorf("sui bid depth = %d, want 4000000000", got)
	}
	wal, err := s.Book("wal_usdc")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if got := wal.Asks[0].TotalQuantity; got != 100_000_000_000-orderbook.BaseFor(2_999_999, 420_000) {
		t.Errorf("wal ask = %d", got)
	}
	rec := out.Record
	if rec == nil || len(rec.Route) != 2 || !rec.Atomic {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteTwoHopSwap_Insufficient(t *testing.T) {
	exec := &fakeExecutor{}
	m := newManager(t, exec)
	s := m.Create()

	out, err := s.ExecuteTwoHopSwap(context.Background(), "sui_usdc", "wal_usdc", 1, 0)
	if err != nil {
		t.Fatalf("ExecuteTwoHopSwap: %v", err)
	}
	if out.Success || !errors.Is(out.Err, session.ErrInsufficientBalance) {
		t.Errorf("outcome = %+v", out)
	}
	if exec.calls() != 0 {
		t.Errorf("executor calls = %d, want 0", exec.calls())
	}
}

// ===== Test: reset and mint =====

func TestReset_RestoresBooksAndClears(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "SUI", 5_000_000_000)
	fund(t, s, "DEEP", 1_000)
	if _, err := s.ExecuteSwap(context.Background(), "sui_usdc", 5_000_000_000, 1_000, orderbook.SellBase); err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if got := bidDepth(t, s, "sui_usdc"); got != 0 {
		t.Fatalf("bid depth = %d, want 0", got)
	}

	s.Reset()

	if b := s.Balances(); b.USDC != 0 || b.SUI != 0 || b.DEEP != 0 {
		t.Errorf("balances = %+v, want zero", b)
	}
	if len(s.History()) != 0 {
		t.Error("history not cleared")
	}
	if got := bidDepth(t, s, "sui_usdc"); got != 5_000_000_000 {
		t.Errorf("bid depth = %d, want 5000000000", got)
	}
}

func TestMint_FailureLeavesBalance(t *testing.T) {
	boom := errors.New("reserve exhausted")
	m := newManager(t, &fakeExecutor{mintError: boom})
	s := m.Create()
	if _, err := s.Mint(context.Background(), "SUI", 1); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if s.Balances().SUI != 0 {
		t.Error("failed mint credited balance")
	}
}

func TestMint_CustomAsset(t *testing.T) {
	m := newManager(t, &fakeExecutor{})
	s := m.Create()
	fund(t, s, "dbg", 42)
	b := s.Balances()
	if got := b.Get("DBG"); got != 42 {
		t.Errorf("DBG = %d, want 42", got)
	}
}
