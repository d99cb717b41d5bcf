package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// reserveCoin is the engine coin backing one reserve holding. Value
// mirrors the coin's balance after every reconciliation.
type reserveCoin struct {
	Reserve
	ID      codec.Address
	Value   uint64
	Version uint64
}

// ReserveCoinID is the deterministic identity of the reserve coin for
// coinType.
func ReserveCoinID(coinType string) codec.Address {
	return codec.Address(blake2b.Sum256([]byte("reserve::" + coinType)))
}

func (c *Coordinator) seedReserves(ctx context.Context) error {
	for _, r := range c.cfg.Reserves {
		sym := strings.ToUpper(r.Symbol)
		if _, dup := c.reserves[sym]; dup {
			return fmt.Errorf("duplicate reserve %s", sym)
		}
		rc := &reserveCoin{Reserve: r, ID: ReserveCoinID(r.CoinType), Value: r.Amount, Version: 1}
		rc.Symbol = sym
		if err := c.writeReserve(ctx, rc); err != nil {
			return err
		}
		c.reserves[sym] = rc
		c.logger.Info().Str("asset", sym).Uint64("amount", r.Amount).Msg("reserve seeded")
	}
	return nil
}

func (c *Coordinator) writeReserve(ctx context.Context, rc *reserveCoin) error {
	return c.putObject(ctx, &engine.Object{
		ID:       rc.ID,
		Type:     rc.CoinTag(),
		Version:  rc.Version,
		Contents: engine.CoinBytes(rc.ID, rc.Value),
		Owner:    c.cfg.Sender,
	})
}

// reserveFor returns the reserve holding coinType.
func (c *Coordinator) reserveFor(coinType string) (*reserveCoin, error) {
	for _, rc := range c.reserves {
		if rc.CoinType == coinType {
			return rc, nil
		}
	}
	return nil, fmt.Errorf("%w: no reserve for %s", ErrMissingReserve, coinType)
}

func (c *Coordinator) reserveBySymbol(symbol string) (*reserveCoin, error) {
	rc, ok := c.reserves[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingReserve, symbol)
	}
	return rc, nil
}

// ensureReserve tops the reserve up when it holds less than need. The
// top-up adds the larger of need and the seeded amount.
func (c *Coordinator) ensureReserve(ctx context.Context, rc *reserveCoin, need uint64) error {
	if rc.Value >= need {
		return nil
	}
	add := max(need, rc.Amount)
	value, err := addAmounts(rc.Value, add)
	if err != nil {
		return fmt.Errorf("top up %s: %w", rc.Symbol, err)
	}
	rc.Value = value
	rc.Version++
	if err := c.writeReserve(ctx, rc); err != nil {
		return err
	}
	c.logger.Info().Str("asset", rc.Symbol).Uint64("added", add).Uint64("balance", rc.Value).Msg("reserve topped up")
	return nil
}

// refreshReserves re-reads every reserve coin from the cache after effects
// were reconciled.
func (c *Coordinator) refreshReserves() error {
	for sym, rc := range c.reserves {
		obj, err := c.store.GetObject(rc.ID)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", sym, err)
		}
		value, err := engine.CoinValue(obj.Contents)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", sym, err)
		}
		rc.Value = value
		rc.Version = obj.Version
	}
	return nil
}

// ReserveBalance is one reserve holding.
type ReserveBalance struct {
	Symbol   string        `json:"symbol"`
	CoinType string        `json:"coin_type"`
	CoinID   codec.Address `json:"coin_id"`
	Balance  uint64        `json:"balance"`
}

// Reserves lists the reserve holdings sorted by symbol.
func (c *Coordinator) Reserves(ctx context.Context) ([]ReserveBalance, error) {
	return call(ctx, c, "reserves", func(context.Context) ([]ReserveBalance, error) {
		out := make([]ReserveBalance, 0, len(c.reserves))
		for _, rc := range c.reserves {
			out = append(out, ReserveBalance{Symbol: rc.Symbol, CoinType: rc.CoinType, CoinID: rc.ID, Balance: rc.Value})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
		return out, nil
	})
}

// MintResult describes a coin split off a reserve and handed to the
// session boundary.
type MintResult struct {
	Asset     string        `json:"asset"`
	Amount    uint64        `json:"amount"`
	CoinID    codec.Address `json:"coin_id"`
	Recipient codec.Address `json:"recipient"`
	Remaining uint64        `json:"reserve_remaining"`
	Digest    string        `json:"digest"`
}

// MintReserve splits amount of asset off its reserve and transfers the new
// coin to the session boundary. The minted coin must hold exactly amount.
func (c *Coordinator) MintReserve(ctx context.Context, asset string, amount uint64) (*MintResult, error) {
	return call(ctx, c, "mint", func(ctx context.Context) (*MintResult, error) {
		return c.mint(ctx, asset, amount)
	})
}

func (c *Coordinator) mint(ctx context.Context, asset string, amount uint64) (*MintResult, error) {
	if amount == 0 {
		return nil, fmt.Errorf("mint %s: amount must be positive", asset)
	}
	rc, err := c.reserveBySymbol(asset)
	if err != nil {
		return nil, err
	}
	if err := c.ensureReserve(ctx, rc, amount); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(c.cfg.Sender)
	split := b.SplitCoins(b.Object(rc.ID, true), b.PureU64(amount))
	b.TransferObjects([]engine.Argument{engine.Nested(split, 0)}, b.PureAddress(c.cfg.SessionBoundary))

	res, err := c.execute(ctx, b.Program())
	if err != nil {
		return nil, err
	}
	digest, err := c.commit(ctx, res.Effects)
	if err != nil {
		return nil, err
	}
	coin, ok := findCreatedCoin(res.Effects, rc.CoinTag(), c.cfg.SessionBoundary)
	if !ok {
		return nil, fmt.Errorf("%w: no %s coin created", ErrMintMismatch, rc.Symbol)
	}
	got, err := engine.CoinValue(coin.Contents)
	if err != nil {
		return nil, err
	}
	if got != amount {
		return nil, fmt.Errorf("%w: minted %d %s, requested %d", ErrMintMismatch, got, rc.Symbol, amount)
	}
	c.metrics.RecordMint(rc.Symbol)
	return &MintResult{
		Asset:     rc.Symbol,
		Amount:    amount,
		CoinID:    coin.ID,
		Recipient: c.cfg.SessionBoundary,
		Remaining: rc.Value,
		Digest:    digest,
	}, nil
}

func findCreatedCoin(fx *engine.Effects, coinTag string, owner codec.Address) (*engine.Object, bool) {
	if fx == nil {
		return nil, false
	}
	for i := range fx.Created {
		o := &fx.Created[i]
		if o.Type == coinTag && o.Owner == owner {
			return o, true
		}
	}
	return nil, false
}
