package testutil

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/orderbook"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// SimPool is one pool served by PoolSim.
type SimPool struct {
	Wrapper   codec.Address
	Inner     codec.Address
	Bids      codec.Address
	Asks      codec.Address
	BaseType  string
	QuoteType string
	MinSize   uint64

	bids []orderbook.Order
	asks []orderbook.Order
}

// SetOrders replaces the resting orders of the pool.
func (p *SimPool) SetOrders(orders []orderbook.Order) {
	p.bids, p.asks = nil, nil
	for _, o := range orders {
		if o.IsBid() {
			p.bids = append(p.bids, o)
		} else {
			p.asks = append(p.asks, o)
		}
	}
	sortSide(p.bids, true)
	sortSide(p.asks, false)
}

func sortSide(orders []orderbook.Order, bids bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i].OrderID, orders[j].OrderID
		less := a.Hi < b.Hi || a.Hi == b.Hi && a.Lo < b.Lo
		if bids {
			return !less && a != b
		}
		return less
	})
}

// Orders returns the resting orders on one side, best first.
func (p *SimPool) Orders(bids bool) []orderbook.Order {
	if bids {
		return append([]orderbook.Order(nil), p.bids...)
	}
	return append([]orderbook.Order(nil), p.asks...)
}

// PoolSim models DeepBook pools on a ScriptedEngine: the two pricing
// calls, the two swaps (which fill resting orders), the paged order query
// and the router's pool provisioning.
type PoolSim struct {
	mu       sync.Mutex
	pkg      codec.Address
	deepType string
	pools    map[codec.Address]*SimPool

	// DeepFee is the DEEP charged by every swap and reported as
	// deep_required by the pricing calls.
	DeepFee uint64
}

// NewPoolSim registers the DeepBook handlers on e. deepType is the fee
// coin type.
func NewPoolSim(e *ScriptedEngine, pkg codec.Address, deepType string) *PoolSim {
	s := &PoolSim{pkg: pkg, deepType: deepType, pools: make(map[codec.Address]*SimPool)}
	e.Handle("pool", "get_quote_quantity_out", s.quoteQuantityOut)
	e.Handle("pool", "get_base_quantity_out", s.baseQuantityOut)
	e.Handle("pool", "swap_exact_base_for_quote", s.swapBaseForQuote)
	e.Handle("pool", "swap_exact_quote_for_base", s.swapQuoteForBase)
	e.Handle("order_query", "iter_orders", s.iterOrders)
	e.Handle("router", "provision_pool", s.provisionPool)
	return s
}

// AddPool serves p with the given resting orders.
func (s *PoolSim) AddPool(p *SimPool, orders []orderbook.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.SetOrders(orders)
	s.pools[p.Wrapper] = p
}

// Pool returns the pool served under wrapper.
func (s *PoolSim) Pool(wrapper codec.Address) (*SimPool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[wrapper]
	return p, ok
}

func (s *PoolSim) pool(c *Call) (*SimPool, *engine.Object, error) {
	obj, err := c.Object(0)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[obj.ID]
	if !ok {
		return nil, nil, fmt.Errorf("pool %s is not simulated", obj.ID)
	}
	return p, obj, nil
}

// MinSizeAbort is the abort message DeepBook raises for an order below
// the pool's minimum size.
func MinSizeAbort(pkg codec.Address) string {
	return fmt.Sprintf(`MoveAbort(MoveLocation { module: ModuleId { address: %s, name: Identifier("order_info") }, function: 9, instruction: 22, function_name: Some("validate_inputs") }, 2)`, pkg)
}

// sell walks bids with base in. It returns unfilled base and quote out.
func sell(bids []orderbook.Order, qty uint64, apply bool) (left, out uint64, rest []orderbook.Order) {
	left = qty
	for i, o := range bids {
		if left == 0 {
			rest = append(rest, bids[i:]...)
			break
		}
		take := min(o.Remaining(), left)
		left -= take
		out += orderbook.QuoteOut(take, o.Price())
		if apply && take < o.Remaining() {
			o.FilledQuantity += take
			rest = append(rest, o)
		}
	}
	return left, out, rest
}

// buy walks asks with quote in. It returns base out and unspent quote.
func buy(asks []orderbook.Order, quote uint64) (out, left uint64, rest []orderbook.Order) {
	left = quote
	for i, o := range asks {
		if left == 0 {
			rest = append(rest, asks[i:]...)
			break
		}
		cost := orderbook.QuoteOut(o.Remaining(), o.Price())
		if cost <= left {
			out += o.Remaining()
			left -= cost
			continue
		}
		take := orderbook.BaseFor(left, o.Price())
		out += take
		left -= orderbook.QuoteOut(take, o.Price())
		if take < o.Remaining() {
			o.FilledQuantity += take
			rest = append(rest, o)
		}
		rest = append(rest, asks[i+1:]...)
		break
	}
	return out, left, rest
}

func (s *PoolSim) quoteQuantityOut(c *Call) ([]Value, error) {
	p, _, err := s.pool(c)
	if err != nil {
		return nil, err
	}
	qty, err := c.U64(1)
	if err != nil {
		return nil, err
	}
	if qty < p.MinSize {
		return []Value{U64Value(qty), U64Value(0), U64Value(0)}, nil
	}
	left, out, _ := sell(p.bids, qty, false)
	return []Value{U64Value(left), U64Value(out), U64Value(s.DeepFee)}, nil
}

func (s *PoolSim) baseQuantityOut(c *Call) ([]Value, error) {
	p, _, err := s.pool(c)
	if err != nil {
		return nil, err
	}
	qty, err := c.U64(1)
	if err != nil {
		return nil, err
	}
	out, left, _ := buy(p.asks, qty)
	if out < p.MinSize {
		return []Value{U64Value(0), U64Value(qty), U64Value(0)}, nil
	}
	return []Value{U64Value(out), U64Value(left), U64Value(s.DeepFee)}, nil
}

func (s *PoolSim) takeFee(c *Call) (uint64, error) {
	deepIn, err := c.TakeCoin(2)
	if err != nil {
		return 0, err
	}
	if deepIn < s.DeepFee {
		return 0, fmt.Errorf("MoveAbort(MoveLocation { module: ModuleId { address: %s, name: Identifier(\"balance_manager\") }, function: 11, instruction: 38, function_name: Some(\"withdraw_with_proof\") }, 3)", s.pkg)
	}
	return deepIn - s.DeepFee, nil
}

func (s *PoolSim) swapBaseForQuote(c *Call) ([]Value, error) {
	p, wrapper, err := s.pool(c)
	if err != nil {
		return nil, err
	}
	baseIn, err := c.TakeCoin(1)
	if err != nil {
		return nil, err
	}
	if baseIn < p.MinSize {
		return nil, fmt.Errorf("%s", MinSizeAbort(s.pkg))
	}
	deepLeft, err := s.takeFee(c)
	if err != nil {
		return nil, err
	}
	left, out, rest := sell(p.bids, baseIn, true)
	p.bids = rest
	s.touch(c, p, wrapper, baseIn-left)
	return []Value{c.NewCoin(p.BaseType, left), c.NewCoin(p.QuoteType, out), c.NewCoin(s.deepType, deepLeft)}, nil
}

func (s *PoolSim) swapQuoteForBase(c *Call) ([]Value, error) {
	p, wrapper, err := s.pool(c)
	if err != nil {
		return nil, err
	}
	quoteIn, err := c.TakeCoin(1)
	if err != nil {
		return nil, err
	}
	out, left, rest := buy(p.asks, quoteIn)
	if out < p.MinSize {
		return nil, fmt.Errorf("%s", MinSizeAbort(s.pkg))
	}
	deepLeft, err := s.takeFee(c)
	if err != nil {
		return nil, err
	}
	p.asks = rest
	s.touch(c, p, wrapper, out)
	return []Value{c.NewCoin(p.BaseType, out), c.NewCoin(p.QuoteType, left), c.NewCoin(s.deepType, deepLeft)}, nil
}

// touch writes the next PoolInner version under the inner uid without
// updating the wrapper, the way some effect streams report it.
func (s *PoolSim) touch(c *Call, p *SimPool, wrapper *engine.Object, filled uint64) {
	version := binary.LittleEndian.Uint64(wrapper.Contents[2*codec.AddressLength:])
	c.SetChild(*PoolInnerField(s.pkg, p, version+1))
	c.Emit(s.pkg.String()+"::order_info::OrderFilled", engine.U64Key(filled))
}

func (s *PoolSim) iterOrders(c *Call) ([]Value, error) {
	p, _, err := s.pool(c)
	if err != nil {
		return nil, err
	}
	raw, err := c.Bytes(1)
	if err != nil {
		return nil, err
	}
	limit, err := c.U64(4)
	if err != nil {
		return nil, err
	}
	bids, err := c.Bool(5)
	if err != nil {
		return nil, err
	}
	var start *orderbook.OrderID
	if len(raw) == 17 && raw[0] == 1 {
		start = &orderbook.OrderID{
			Lo: binary.LittleEndian.Uint64(raw[1:9]),
			Hi: binary.LittleEndian.Uint64(raw[9:17]),
		}
	}
	side := p.asks
	if bids {
		side = p.bids
	}
	var page orderbook.OrderPage
	for _, o := range side {
		if start != nil && !reached(o.OrderID, *start, bids) {
			continue
		}
		if uint64(len(page.Orders)) == limit {
			page.HasNextPage = true
			break
		}
		page.Orders = append(page.Orders, o)
	}
	return []Value{{Type: s.pkg.String() + "::order_query::OrderPage", Bytes: orderbook.EncodeOrderPage(page)}}, nil
}

// reached reports whether id is at or past start in iteration order.
func reached(id, start orderbook.OrderID, bids bool) bool {
	if id == start {
		return true
	}
	less := id.Hi < start.Hi || id.Hi == start.Hi && id.Lo < start.Lo
	if bids {
		return less
	}
	return !less
}

func (s *PoolSim) provisionPool(c *Call) ([]Value, error) {
	if len(c.TypeArgs) != 2 {
		return nil, fmt.Errorf("provision_pool takes <Base, Quote>")
	}
	if _, err := c.Object(0); err != nil {
		return nil, err
	}
	if _, err := c.TakeCoin(1); err != nil {
		return nil, err
	}
	if _, err := c.TakeCoin(2); err != nil {
		return nil, err
	}
	var nums [7]uint64 // tick, lot, min, bid, ask, bid qty, ask qty
	for i := range nums {
		n, err := c.U64(3 + i)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}
	symbol, err := c.Text(13)
	if err != nil {
		return nil, err
	}
	minSize, bidPrice, askPrice, bidQty, askQty := nums[2], nums[3], nums[4], nums[5], nums[6]

	p := &SimPool{
		Wrapper:   HashAddress("pool:" + symbol),
		Inner:     HashAddress("inner:" + symbol),
		Bids:      HashAddress("bids:" + symbol),
		Asks:      HashAddress("asks:" + symbol),
		BaseType:  c.TypeArgs[0],
		QuoteType: c.TypeArgs[1],
		MinSize:   minSize,
	}
	p.SetOrders([]orderbook.Order{
		{OrderID: orderbook.NewOrderID(orderbook.Bid, bidPrice, 1), Quantity: bidQty},
		{OrderID: orderbook.NewOrderID(orderbook.Ask, askPrice, 1), Quantity: askQty},
	})

	c.Create(engine.Object{
		ID:       p.Wrapper,
		Type:     fmt.Sprintf("%s::pool::Pool<%s, %s>", s.pkg, p.BaseType, p.QuoteType),
		Version:  1,
		Contents: WrapperBytes(p.Wrapper, p.Inner, 1),
		Shared:   true,
	})
	c.SetChild(*PoolInnerField(s.pkg, p, 1))

	s.mu.Lock()
	s.pools[p.Wrapper] = p
	s.mu.Unlock()
	return []Value{{Type: "0x2::object::ID", Bytes: append([]byte(nil), p.Wrapper[:]...)}}, nil
}

// HashAddress derives a stable test address from a label.
func HashAddress(label string) codec.Address {
	return codec.Address(sha256.Sum256([]byte(label)))
}

// WrapperBytes is a Pool wrapper payload: UID, then Versioned{UID, u64}.
func WrapperBytes(wrapper, inner codec.Address, version uint64) []byte {
	w := codec.NewWriter()
	w.WriteAddress(wrapper)
	w.WriteAddress(inner)
	w.WriteU64(version)
	return w.Bytes()
}

// PoolInnerField builds the Field<u64, PoolInner> child holding version of
// p. Only the prefix up to the book's asks id is populated.
func PoolInnerField(pkg codec.Address, p *SimPool, version uint64) *engine.ChildField {
	w := codec.NewWriter()
	w.WriteLen(1) // allowed_versions
	w.WriteU64(1)
	w.WriteAddress(p.Wrapper)
	w.WriteU64(1)         // tick
	w.WriteU64(1)         // lot
	w.WriteU64(p.MinSize) // min
	for _, id := range []codec.Address{p.Bids, p.Asks} {
		w.WriteAddress(id)
		w.WriteU8(0)
		for i := 0; i < 5; i++ {
			w.WriteU64(0)
		}
	}
	innerType := codec.StructTag(pkg, "pool", "PoolInner",
		codec.MustParseTypeTag(p.BaseType), codec.MustParseTypeTag(p.QuoteType))
	f, err := engine.NewChildField(p.Inner, codec.Primitive(codec.KindU64), engine.U64Key(version), innerType, w.Bytes())
	if err != nil {
		panic(err)
	}
	f.Version = version
	return f
}
