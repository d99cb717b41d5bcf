package session

import (
	"sort"
	"strings"
)

// Balances holds a session's token amounts in smallest units. The four
// venue assets have fixed slots; anything else lives in Custom, where a
// zero balance is removed.
type Balances struct {
	SUI    uint64            `json:"sui"`
	USDC   uint64            `json:"usdc"`
	DEEP   uint64            `json:"deep"`
	WAL    uint64            `json:"wal"`
	Custom map[string]uint64 `json:"custom,omitempty"`
}

// Get returns the balance of symbol, case-insensitively.
func (b *Balances) Get(symbol string) uint64 {
	switch sym := strings.ToUpper(symbol); sym {
	case "SUI":
		return b.SUI
	case "USDC":
		return b.USDC
	case "DEEP":
		return b.DEEP
	case "WAL":
		return b.WAL
	default:
		return b.Custom[sym]
	}
}

func (b *Balances) Set(symbol string, amount uint64) {
	switch sym := strings.ToUpper(symbol); sym {
	case "SUI":
		b.SUI = amount
	case "USDC":
		b.USDC = amount
	case "DEEP":
		b.DEEP = amount
	case "WAL":
		b.WAL = amount
	default:
		if amount == 0 {
			delete(b.Custom, sym)
			return
		}
		if b.Custom == nil {
			b.Custom = make(map[string]uint64)
		}
		b.Custom[sym] = amount
	}
}

func (b *Balances) Add(symbol string, amount uint64) {
	b.Set(symbol, b.Get(symbol)+amount)
}

// Sub debits amount, leaving the balance untouched when it is short.
func (b *Balances) Sub(symbol string, amount uint64) error {
	have := b.Get(symbol)
	if have < amount {
		return &InsufficientBalanceError{Asset: strings.ToUpper(symbol), Have: have, Need: amount}
	}
	b.Set(symbol, have-amount)
	return nil
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	c := b
	if len(b.Custom) > 0 {
		c.Custom = make(map[string]uint64, len(b.Custom))
		for k, v := range b.Custom {
			c.Custom[k] = v
		}
	} else {
		c.Custom = nil
	}
	return c
}

// Symbols lists every symbol with a slot or a custom balance, sorted.
func (b *Balances) Symbols() []string {
	out := []string{"DEEP", "SUI", "USDC", "WAL"}
	for sym := range b.Custom {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
