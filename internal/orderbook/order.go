package orderbook

import (
	"DeepReplay/internal/codec"
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

// Direction is the side of a swap relative to the venue's base asset.
type Direction uint8

const (
	// SellBase sells base for quote and consumes bids.
	SellBase Direction = iota
	// BuyBase spends quote for base and consumes asks.
	BuyBase
)

func (d Direction) String() string {
	if d == BuyBase {
		return "buy_base"
	}
	return "sell_base"
}

// ParseDirection accepts "sell", "sell_base", "buy" and "buy_base".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "sell", "sell_base":
		return SellBase, nil
	case "buy", "buy_base":
		return BuyBase, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// ConsumedSide is the book side a swap in direction d takes liquidity from.
func (d Direction) ConsumedSide() Side {
	if d == BuyBase {
		return Ask
	}
	return Bid
}

// Side of the book.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "asks"
	}
	return "bids"
}

const priceMask = math.MaxUint64 >> 1

// OrderID is the 128-bit order id. Bit 127 is the side (0 for bids), bits
// 64 through 126 the price and bits 0 through 63 the sequence number.
type OrderID struct {
	Hi, Lo uint64
}

func NewOrderID(side Side, price, sequence uint64) OrderID {
	hi := price & priceMask
	if side == Ask {
		hi |= 1 << 63
	}
	return OrderID{Hi: hi, Lo: sequence}
}

func (id OrderID) IsBid() bool      { return id.Hi>>63 == 0 }
func (id OrderID) Price() uint64    { return id.Hi & priceMask }
func (id OrderID) Sequence() uint64 { return id.Lo }

// Uint256 widens the id for u128 encoding.
func (id OrderID) Uint256() *uint256.Int {
	v := new(uint256.Int).SetUint64(id.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(uint256.Int).SetUint64(id.Lo))
}

// Next is the id immediately after id in iteration order: descending for
// bids, ascending for asks. ok is false at the end of the id space.
func (id OrderID) Next(side Side) (next OrderID, ok bool) {
	if side == Bid {
		if id.Lo > 0 {
			return OrderID{Hi: id.Hi, Lo: id.Lo - 1}, true
		}
		if id.Hi == 0 {
			return id, false
		}
		return OrderID{Hi: id.Hi - 1, Lo: math.MaxUint64}, true
	}
	if id.Lo < math.MaxUint64 {
		return OrderID{Hi: id.Hi, Lo: id.Lo + 1}, true
	}
	if id.Hi == math.MaxUint64 {
		return id, false
	}
	return OrderID{Hi: id.Hi + 1}, true
}

func (id OrderID) String() string { return id.Uint256().Dec() }

// Order is one resting order as returned by the order query.
type Order struct {
	BalanceManagerID codec.Address `json:"balance_manager_id"`
	OrderID          OrderID       `json:"-"`
	ClientOrderID    uint64        `json:"client_order_id"`
	Quantity         uint64        `json:"quantity"`
	FilledQuantity   uint64        `json:"filled_quantity"`
	FeeIsDeep        bool          `json:"fee_is_deep"`
	AssetIsBase      bool          `json:"asset_is_base"`
	DeepPerAsset     uint64        `json:"deep_per_asset"`
	Epoch            uint64        `json:"epoch"`
	Status           uint8         `json:"status"`
	ExpireTimestamp  uint64        `json:"expire_timestamp"`
}

func (o Order) Price() uint64 { return o.OrderID.Price() }
func (o Order) IsBid() bool   { return o.OrderID.IsBid() }

// Remaining is quantity minus filled, floored at zero.
func (o Order) Remaining() uint64 {
	if o.FilledQuantity >= o.Quantity {
		return 0
	}
	return o.Quantity - o.FilledQuantity
}

// DecodeOrder reads one order in declared field order.
func DecodeOrder(r *codec.Reader) (Order, error) {
	var o Order
	var err error
	if o.BalanceManagerID, err = r.ReadAddress(); err != nil {
		return o, fmt.Errorf("balance_manager_id: %w", err)
	}
	if o.OrderID.Hi, o.OrderID.Lo, err = r.ReadU128Parts(); err != nil {
		return o, fmt.Errorf("order_id: %w", err)
	}
	u64s := []*uint64{&o.ClientOrderID, &o.Quantity, &o.FilledQuantity}
	for _, p := range u64s {
		if *p, err = r.ReadU64(); err != nil {
			return o, err
		}
	}
	if o.FeeIsDeep, err = r.ReadBool(); err != nil {
		return o, err
	}
	if o.AssetIsBase, err = r.ReadBool(); err != nil {
		return o, err
	}
	if o.DeepPerAsset, err = r.ReadU64(); err != nil {
		return o, err
	}
	if o.Epoch, err = r.ReadU64(); err != nil {
		return o, err
	}
	if o.Status, err = r.ReadU8(); err != nil {
		return o, err
	}
	if o.ExpireTimestamp, err = r.ReadU64(); err != nil {
		return o, err
	}
	return o, nil
}

// EncodeOrder is the inverse of DecodeOrder.
func EncodeOrder(w *codec.Writer, o Order) {
	w.WriteAddress(o.BalanceManagerID)
	w.WriteU128(o.OrderID.Uint256())
	w.WriteU64(o.ClientOrderID)
	w.WriteU64(o.Quantity)
	w.WriteU64(o.FilledQuantity)
	w.WriteBool(o.FeeIsDeep)
	w.WriteBool(o.AssetIsBase)
	w.WriteU64(o.DeepPerAsset)
	w.WriteU64(o.Epoch)
	w.WriteU8(o.Status)
	w.WriteU64(o.ExpireTimestamp)
}

// OrderPage is one page of the order query.
type OrderPage struct {
	Orders      []Order
	HasNextPage bool
}

// DecodeOrderPage decodes an OrderPage return value.
func DecodeOrderPage(b []byte) (OrderPage, error) {
	var page OrderPage
	r := codec.NewReader(b)
	n, err := r.ReadLen()
	if err != nil {
		return page, fmt.Errorf("order page length: %w", err)
	}
	page.Orders = make([]Order, 0, n)
	for i := 0; i < n; i++ {
		o, err := DecodeOrder(r)
		if err != nil {
			return page, fmt.Errorf("order %d: %w", i, err)
		}
		page.Orders = append(page.Orders, o)
	}
	if page.HasNextPage, err = r.ReadBool(); err != nil {
		return page, fmt.Errorf("has_next_page: %w", err)
	}
	if r.Remaining() != 0 {
		return page, fmt.Errorf("order page: %d trailing bytes", r.Remaining())
	}
	return page, nil
}

// EncodeOrderPage is the inverse of DecodeOrderPage.
func EncodeOrderPage(page OrderPage) []byte {
	w := codec.NewWriter()
	w.WriteLen(len(page.Orders))
	for _, o := range page.Orders {
		EncodeOrder(w, o)
	}
	w.WriteBool(page.HasNextPage)
	return w.Bytes()
}
