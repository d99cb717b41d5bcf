package testutil

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/orderbook"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Address returns the address whose last byte is n.
func Address(n byte) codec.Address {
	var a codec.Address
	a[codec.AddressLength-1] = n
	return a
}

// Record is one export line.
type Record struct {
	ObjectID     codec.Address
	Type         string
	Version      uint64
	Owner        string
	OwnerAddress *codec.Address
	Checkpoint   uint64
	JSON         any
}

// MarshalJSON renders the warehouse export shape.
func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"object_id":   r.ObjectID.String(),
		"object_type": r.Type,
		"version":     strconv.FormatUint(r.Version, 10),
		"object_json": r.JSON,
		"owner_type":  r.Owner,
		"checkpoint":  strconv.FormatUint(r.Checkpoint, 10),
	}
	if r.OwnerAddress != nil {
		out["owner_address"] = r.OwnerAddress.String()
	}
	return json.Marshal(out)
}

// JSONL renders records one per line.
func JSONL(records ...Record) string {
	var sb strings.Builder
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			panic(err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// OrderJSON renders an order the way the export does.
func OrderJSON(o orderbook.Order) map[string]any {
	return map[string]any{
		"balance_manager_id": o.BalanceManagerID.String(),
		"order_id":           o.OrderID.String(),
		"client_order_id":    strconv.FormatUint(o.ClientOrderID, 10),
		"quantity":           strconv.FormatUint(o.Quantity, 10),
		"filled_quantity":    strconv.FormatUint(o.FilledQuantity, 10),
		"fee_is_deep":        o.FeeIsDeep,
		"order_deep_price": map[string]any{
			"asset_is_base":  o.AssetIsBase,
			"deep_per_asset": strconv.FormatUint(o.DeepPerAsset, 10),
		},
		"epoch":            strconv.FormatUint(o.Epoch, 10),
		"status":           o.Status,
		"expire_timestamp": strconv.FormatUint(o.ExpireTimestamp, 10),
	}
}

// SliceRecord is a leaf big-vector slice named name under parent holding
// orders.
func SliceRecord(pkg, id, parent codec.Address, name uint64, orders []orderbook.Order) Record {
	keys := make([]any, len(orders))
	vals := make([]any, len(orders))
	for i, o := range orders {
		keys[i] = o.OrderID.String()
		vals[i] = OrderJSON(o)
	}
	return Record{
		ObjectID: id,
		Type: fmt.Sprintf("0x2::dynamic_field::Field<u64, %s::big_vector::Slice<%s::order::Order>>",
			pkg, pkg),
		Version:      1,
		Owner:        "ObjectOwner",
		OwnerAddress: &parent,
		Checkpoint:   1,
		JSON: map[string]any{
			"id":   map[string]any{"id": id.String()},
			"name": strconv.FormatUint(name, 10),
			"value": map[string]any{
				"prev": "0",
				"next": "0",
				"keys": keys,
				"vals": vals,
			},
		},
	}
}

// PoolRecord is a shared Pool wrapper whose versioned inner is at version.
func PoolRecord(pkg, wrapper, inner codec.Address, baseType, quoteType string, version uint64) Record {
	return Record{
		ObjectID:   wrapper,
		Type:       fmt.Sprintf("%s::pool::Pool<%s, %s>", pkg, baseType, quoteType),
		Version:    version,
		Owner:      "Shared",
		Checkpoint: 1,
		JSON: map[string]any{
			"id": map[string]any{"id": wrapper.String()},
			"inner": map[string]any{
				"id":      map[string]any{"id": inner.String()},
				"version": strconv.FormatUint(version, 10),
			},
		},
	}
}
