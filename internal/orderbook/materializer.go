package orderbook

import (
	"DeepReplay/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPageLimit is the iter_orders page size when none is configured.
const DefaultPageLimit = 1000

// ErrNoProgress is returned when a page claims more results but does not
// advance the cursor.
var ErrNoProgress = errors.New("order query made no progress")

// OrderPager runs one read-only order query. start is inclusive; nil
// starts from the best price of the side.
type OrderPager interface {
	IterOrders(ctx context.Context, venue string, bids bool, start *OrderID, limit uint64) (OrderPage, error)
}

// Source identifies a venue to materialize.
type Source struct {
	Venue         string
	BaseDecimals  uint8
	QuoteDecimals uint8
	Checkpoint    uint64
}

// Materializer builds aggregated books from paginated order queries.
type Materializer struct {
	pager     OrderPager
	pageLimit uint64
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewMaterializer(pager OrderPager, pageLimit uint64, logger zerolog.Logger, metrics *observability.Metrics) *Materializer {
	if pageLimit == 0 {
		pageLimit = DefaultPageLimit
	}
	return &Materializer{pager: pager, pageLimit: pageLimit, logger: logger, metrics: metrics}
}

// Orders returns every resting order on one side of a venue.
func (m *Materializer) Orders(ctx context.Context, venue string, side Side) ([]Order, error) {
	var (
		all   []Order
		start *OrderID
		pages int
	)
	for {
		page, err := m.pager.IterOrders(ctx, venue, side == Bid, start, m.pageLimit)
		if err != nil {
			return nil, fmt.Errorf("iter_orders %s %s page %d: %w", venue, side, pages, err)
		}
		pages++
		all = append(all, page.Orders...)
		if !page.HasNextPage {
			break
		}
		if len(page.Orders) == 0 {
			return nil, fmt.Errorf("%s %s page %d: %w", venue, side, pages, ErrNoProgress)
		}
		next, ok := page.Orders[len(page.Orders)-1].OrderID.Next(side)
		if !ok || (start != nil && next == *start) {
			return nil, fmt.Errorf("%s %s page %d: %w", venue, side, pages, ErrNoProgress)
		}
		start = &next
	}
	m.logger.Debug().
		Str("venue", venue).
		Str("side", side.String()).
		Int("orders", len(all)).
		Int("pages", pages).
		Msg("orders fetched")
	return all, nil
}

// Materialize fetches both sides and aggregates them into a book. A crossed
// result is logged and reported in metrics, not rejected.
func (m *Materializer) Materialize(ctx context.Context, src Source) (*Book, error) {
	start := time.Now()
	bids, err := m.Orders(ctx, src.Venue, Bid)
	if err != nil {
		return nil, err
	}
	asks, err := m.Orders(ctx, src.Venue, Ask)
	if err != nil {
		return nil, err
	}

	book := &Book{
		Venue:         src.Venue,
		Bids:          Aggregate(bids, Bid),
		Asks:          Aggregate(asks, Ask),
		Checkpoint:    src.Checkpoint,
		BaseDecimals:  src.BaseDecimals,
		QuoteDecimals: src.QuoteDecimals,
	}

	spread, _ := book.SpreadBps()
	spreadF, _ := spread.Float64()
	m.metrics.SetBookStats(src.Venue, len(book.Bids), len(book.Asks), spreadF, book.Crossed())
	if book.Crossed() {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		m.logger.Warn().
			Str("venue", src.Venue).
			Uint64("best_bid", bid).
			Uint64("best_ask", ask).
			Msg("materialized book is crossed")
	}
	m.logger.Info().
		Str("venue", src.Venue).
		Int("bid_orders", len(bids)).
		Int("ask_orders", len(asks)).
		Int("bid_levels", len(book.Bids)).
		Int("ask_levels", len(book.Asks)).
		Dur("took", time.Since(start)).
		Msg("book materialized")
	return book, nil
}

// MaterializeAll builds one book per source, stopping at the first error.
func (m *Materializer) MaterializeAll(ctx context.Context, sources []Source) (map[string]*Book, error) {
	books := make(map[string]*Book, len(sources))
	for _, src := range sources {
		b, err := m.Materialize(ctx, src)
		if err != nil {
			return nil, err
		}
		books[src.Venue] = b
	}
	return books, nil
}
