package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/state"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// restingOrder is the part of an exported order the indices are built from.
type restingOrder struct {
	manager codec.Address
	id      *uint256.Int
	epoch   uint64
}

// synthesize writes the open-order index of every balance manager with
// resting orders, and an empty volume record for every epoch those orders
// were placed in. Neither is part of the export. Existing children are
// left alone. It returns the number of children written.
func (c *Coordinator) synthesize(ctx context.Context, v *loadedVenue) (int, error) {
	if v.Accounts.IsZero() && v.HistoricVolumes.IsZero() {
		return 0, nil
	}
	orders, err := c.restingOrders(&v.Venue)
	if err != nil {
		return 0, err
	}

	written := 0
	if !v.Accounts.IsZero() {
		n, err := c.synthesizeAccounts(ctx, v, orders)
		if err != nil {
			return written, fmt.Errorf("accounts: %w", err)
		}
		written += n
	}
	if !v.HistoricVolumes.IsZero() {
		n, err := c.synthesizeVolumes(ctx, v, orders)
		if err != nil {
			return written, fmt.Errorf("volumes: %w", err)
		}
		written += n
	}
	c.logger.Info().Str("venue", v.ID).Int("orders", len(orders)).Int("written", written).Msg("indices synthesized")
	return written, nil
}

// restingOrders reads every order held in the venue's leaf slices.
func (c *Coordinator) restingOrders(v *Venue) ([]restingOrder, error) {
	l, ok := c.loaders.Get(v.ID)
	if !ok {
		return nil, nil
	}
	var out []restingOrder
	for _, side := range []codec.Address{v.Bids, v.Asks} {
		if side.IsZero() {
			continue
		}
		for _, rec := range l.ByOwner(side) {
			value, err := rec.Value()
			if err != nil {
				return nil, err
			}
			if codec.ClassifySlice(value) != codec.SliceLeaf {
				continue
			}
			vals := sliceVals(value)
			for i, raw := range vals {
				o, err := parseRestingOrder(raw)
				if err != nil {
					return nil, fmt.Errorf("slice %s order %d: %w", rec.ObjectID, i, err)
				}
				out = append(out, o)
			}
		}
	}
	return out, nil
}

func sliceVals(v any) []any {
	obj, _ := v.(map[string]any)
	value, _ := obj["value"].(map[string]any)
	vals, _ := value["vals"].([]any)
	return vals
}

func parseRestingOrder(v any) (restingOrder, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return restingOrder{}, fmt.Errorf("order is %T", v)
	}
	manager, err := codec.ParseAddress(fmt.Sprint(obj["balance_manager_id"]))
	if err != nil {
		return restingOrder{}, fmt.Errorf("balance_manager_id: %w", err)
	}
	id, err := uint256.FromDecimal(fmt.Sprint(obj["order_id"]))
	if err != nil {
		return restingOrder{}, fmt.Errorf("order_id: %w", err)
	}
	var epoch uint64
	if e, ok := obj["epoch"]; ok {
		n, err := uint256.FromDecimal(fmt.Sprint(e))
		if err != nil || !n.IsUint64() {
			return restingOrder{}, fmt.Errorf("epoch %v", e)
		}
		epoch = n.Uint64()
	}
	return restingOrder{manager: manager, id: id, epoch: epoch}, nil
}

func (c *Coordinator) synthesizeAccounts(ctx context.Context, v *loadedVenue, orders []restingOrder) (int, error) {
	type account struct {
		epoch uint64
		ids   []*uint256.Int
	}
	byManager := make(map[codec.Address]*account)
	for _, o := range orders {
		a := byManager[o.manager]
		if a == nil {
			a = &account{}
			byManager[o.manager] = a
		}
		a.ids = append(a.ids, o.id)
		a.epoch = max(a.epoch, o.epoch)
	}
	managers := make([]codec.Address, 0, len(byManager))
	for m := range byManager {
		managers = append(managers, m)
	}
	sort.Slice(managers, func(i, j int) bool { return managers[i].String() < managers[j].String() })

	keyType := codec.StructTag(codec.FrameworkAddress, "object", "ID")
	valueType := codec.StructTag(c.cfg.DeepBookPackage, "account", "Account")
	written := 0
	for _, m := range managers {
		a := byManager[m]
		sort.Slice(a.ids, func(i, j int) bool { return a.ids[i].Lt(a.ids[j]) })
		open := make([]any, 0, len(a.ids))
		for i, id := range a.ids {
			if i > 0 && id.Eq(a.ids[i-1]) {
				continue
			}
			open = append(open, id.Dec())
		}
		emptyBalances := map[string]any{"base": "0", "quote": "0", "deep": "0"}
		value := map[string]any{
			"epoch":             fmt.Sprint(a.epoch),
			"open_orders":       map[string]any{"contents": open},
			"taker_volume":      "0",
			"maker_volume":      "0",
			"active_stake":      "0",
			"inactive_stake":    "0",
			"created_proposal":  false,
			"voted_proposal":    nil,
			"unclaimed_rebates": emptyBalances,
			"settled_balances":  emptyBalances,
			"owed_balances":     emptyBalances,
		}
		ok, err := c.writeSynthesized(ctx, v.Accounts, keyType, m[:], valueType, value)
		if err != nil {
			return written, fmt.Errorf("manager %s: %w", m, err)
		}
		if ok {
			written++
		}
	}
	return written, nil
}

func (c *Coordinator) synthesizeVolumes(ctx context.Context, v *loadedVenue, orders []restingOrder) (int, error) {
	seen := make(map[uint64]bool)
	var epochs []uint64
	for _, o := range orders {
		if !seen[o.epoch] {
			seen[o.epoch] = true
			epochs = append(epochs, o.epoch)
		}
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	keyType := codec.Primitive(codec.KindU64)
	valueType := codec.StructTag(c.cfg.DeepBookPackage, "history", "Volumes")
	written := 0
	for _, epoch := range epochs {
		value := map[string]any{
			"total_volume":         "0",
			"total_staked_volume":  "0",
			"total_fees_collected": map[string]any{"base": "0", "quote": "0", "deep": "0"},
			"historic_median":      "0",
			"trade_params":         map[string]any{"taker_fee": "0", "maker_fee": "0", "stake_required": "0"},
		}
		ok, err := c.writeSynthesized(ctx, v.HistoricVolumes, keyType, engine.U64Key(epoch), valueType, value)
		if err != nil {
			return written, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if ok {
			written++
		}
	}
	return written, nil
}

// writeSynthesized converts value and stores it as a child of parent
// unless a child with the same key already exists.
func (c *Coordinator) writeSynthesized(ctx context.Context, parent codec.Address, keyType codec.TypeTag, key []byte, valueType codec.TypeTag, value any) (bool, error) {
	id, err := engine.DeriveChildID(parent, keyType, key)
	if err != nil {
		return false, err
	}
	if _, err := c.store.GetChild(parent, id); err == nil {
		return false, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return false, err
	}
	contents, err := c.converter.ConvertValue(valueType.String(), value)
	if err != nil {
		return false, err
	}
	f, err := engine.NewChildField(parent, keyType, key, valueType, contents)
	if err != nil {
		return false, err
	}
	f.Version = 1
	return true, c.putChild(ctx, f)
}
