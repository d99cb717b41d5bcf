package session

import (
	"DeepReplay/internal/orderbook"

	"github.com/huandu/skiplist"
)

// levelOrder sorts price levels best first: bids descending, asks
// ascending. Keys are prices.
type levelOrder int

const (
	bidsOrder levelOrder = iota
	asksOrder
)

var _ skiplist.Comparable = levelOrder(0)

func (o levelOrder) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(uint64), rhs.(uint64)
	var c int
	switch {
	case l < r:
		c = -1
	case l > r:
		c = 1
	}
	if o == bidsOrder {
		c = -c
	}
	return c
}

func (o levelOrder) CalcScore(key interface{}) float64 {
	if o == bidsOrder {
		return -float64(key.(uint64))
	}
	return float64(key.(uint64))
}

// Book is a session's private copy of one venue's aggregated book. Swaps
// made by the session deplete it; the global book never changes.
type Book struct {
	venue         string
	checkpoint    uint64
	baseDecimals  uint8
	quoteDecimals uint8

	bids *skiplist.SkipList
	asks *skiplist.SkipList
}

// NewBook copies the levels of b.
func NewBook(b *orderbook.Book) *Book {
	pb := &Book{
		venue:         b.Venue,
		checkpoint:    b.Checkpoint,
		baseDecimals:  b.BaseDecimals,
		quoteDecimals: b.QuoteDecimals,
		bids:          skiplist.New(bidsOrder),
		asks:          skiplist.New(asksOrder),
	}
	for _, l := range b.Bids {
		lvl := l
		pb.bids.Set(l.Price, &lvl)
	}
	for _, l := range b.Asks {
		lvl := l
		pb.asks.Set(l.Price, &lvl)
	}
	return pb
}

func (b *Book) list(side orderbook.Side) *skiplist.SkipList {
	if side == orderbook.Bid {
		return b.bids
	}
	return b.asks
}

// Levels returns one side best first.
func (b *Book) Levels(side orderbook.Side) []orderbook.PriceLevel {
	list := b.list(side)
	out := make([]orderbook.PriceLevel, 0, list.Len())
	for e := list.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*orderbook.PriceLevel))
	}
	return out
}

// View materializes the book in its aggregated form.
func (b *Book) View() *orderbook.Book {
	return &orderbook.Book{
		Venue:         b.venue,
		Bids:          b.Levels(orderbook.Bid),
		Asks:          b.Levels(orderbook.Ask),
		Checkpoint:    b.checkpoint,
		BaseDecimals:  b.baseDecimals,
		QuoteDecimals: b.quoteDecimals,
	}
}

// Depth is the total base quantity resting on one side.
func (b *Book) Depth(side orderbook.Side) uint64 {
	var total uint64
	list := b.list(side)
	for e := list.Front(); e != nil; e = e.Next() {
		total += e.Value.(*orderbook.PriceLevel).TotalQuantity
	}
	return total
}

// Consume walks the side dir takes from, removing exhausted levels and
// shrinking a partially taken one. It returns the input actually used.
// Levels are taken exactly as orderbook.Walk takes them, so a level whose
// cost rounds to zero is still removed.
func (b *Book) Consume(amount uint64, dir orderbook.Direction) uint64 {
	list := b.list(dir.ConsumedSide())
	remaining := amount
	for e := list.Front(); e != nil && remaining > 0; {
		next := e.Next()
		lvl := e.Value.(*orderbook.PriceLevel)
		f := orderbook.FillLevel(*lvl, remaining, dir)
		if f.InputUsed == 0 && f.Output == 0 {
			e = next
			continue
		}
		remaining -= f.InputUsed
		if f.Whole || f.BaseTaken >= lvl.TotalQuantity {
			list.Remove(lvl.Price)
		} else {
			lvl.TotalQuantity -= f.BaseTaken
		}
		e = next
	}
	return amount - remaining
}
