package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/loader"
	"DeepReplay/internal/orderbook"
	"DeepReplay/internal/transport"
	"context"
	"fmt"
	"time"
)

// bootstrap brings the engine from empty to ready. Steps run strictly in
// order; any error aborts.
func (c *Coordinator) bootstrap(ctx context.Context) error {
	start := time.Now()

	// Step 1: reference packages and objects
	if err := c.fetchReferenceData(ctx); err != nil {
		return fmt.Errorf("step 1 reference data: %w", err)
	}

	// Step 2: clock
	if err := c.createClock(ctx); err != nil {
		return fmt.Errorf("step 2 clock: %w", err)
	}

	// Step 3: venue state
	objects, children := 0, 0
	for i := range c.cfg.Venues {
		v := &c.cfg.Venues[i]
		o, ch, err := c.loadVenue(ctx, v)
		if err != nil {
			return fmt.Errorf("step 3 load %s: %w", v.ID, err)
		}
		objects += o
		children += ch
	}
	c.metrics.RecordChildFields(children)
	if err := c.repairWrappers(ctx); err != nil {
		return fmt.Errorf("step 3 wrapper repair: %w", err)
	}

	// Step 4: auxiliary indices
	synthesized := 0
	for _, id := range c.venueIDs() {
		n, err := c.synthesize(ctx, c.venues[id])
		if err != nil {
			return fmt.Errorf("step 4 synthesize %s: %w", id, err)
		}
		synthesized += n
	}

	// Step 5: reserves
	if err := c.seedReserves(ctx); err != nil {
		return fmt.Errorf("step 5 reserves: %w", err)
	}

	// Step 6: self-check
	report, err := c.selfCheck(ctx)
	if err != nil {
		return fmt.Errorf("step 6: %w", err)
	}
	report.Objects = objects
	report.ChildFields = children
	report.Synthesized = synthesized
	report.Duration = time.Since(start)
	report.CompletedAt = time.Now().UTC()

	// Step 7: ready
	c.startup.Store(report)
	c.logger.Info().
		Int("objects", objects).
		Int("child_fields", children).
		Int("synthesized", synthesized).
		Int("reserves", len(c.reserves)).
		Msg("bootstrap complete")
	return nil
}

func (c *Coordinator) fetchReferenceData(ctx context.Context) error {
	if c.transport == nil {
		c.logger.Info().Msg("no transport configured, skipping reference fetch")
		return nil
	}
	info, err := c.transport.ServiceInfo(ctx)
	if err != nil {
		return fmt.Errorf("service info: %w", err)
	}
	c.logger.Info().Str("chain", info.ChainID).Uint64("latest_height", info.LatestHeight).Msg("reference node")

	for _, id := range c.cfg.ReferencePackages {
		raw, err := c.transport.GetObject(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", id, err)
		}
		if raw == nil {
			c.logger.Warn().Str("id", id.String()).Msg("reference object not found")
			continue
		}
		if raw.IsPackage() {
			pkg := &engine.Package{ID: raw.ID, Version: raw.Version, Modules: raw.Modules}
			if err := c.eng.DeployPackage(ctx, pkg); err != nil {
				return fmt.Errorf("deploy %s: %w", id, err)
			}
			c.logger.Info().Str("id", id.String()).Int("modules", len(raw.Modules)).Msg("package deployed")
			continue
		}
		obj := &engine.Object{
			ID:        raw.ID,
			Type:      raw.Type,
			Version:   raw.Version,
			Contents:  raw.BCS,
			Shared:    raw.OwnerKind == transport.OwnerShared,
			Immutable: raw.OwnerKind == transport.OwnerImmutable,
			Owner:     raw.Owner,
		}
		if err := c.putObject(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) createClock(ctx context.Context) error {
	w := codec.NewWriter()
	w.WriteAddress(ClockID)
	w.WriteU64(c.cfg.ClockTimestampMs)
	return c.putObject(ctx, &engine.Object{
		ID:       ClockID,
		Type:     "0x2::clock::Clock",
		Version:  1,
		Contents: w.Bytes(),
		Shared:   true,
	})
}

// putObject writes an object to the engine and the cache.
func (c *Coordinator) putObject(ctx context.Context, obj *engine.Object) error {
	if err := c.eng.SetObject(ctx, obj); err != nil {
		return fmt.Errorf("set object %s: %w", obj.ID, err)
	}
	return c.store.PutObject(obj)
}

func (c *Coordinator) putChild(ctx context.Context, f *engine.ChildField) error {
	if err := c.eng.SetChildField(ctx, f); err != nil {
		return fmt.Errorf("set child %s under %s: %w", f.ID, f.Parent, err)
	}
	return c.store.PutChild(f)
}

// loadVenue converts every exported record of v into the engine. A venue
// without an export or without its pool wrapper is skipped, not fatal.
func (c *Coordinator) loadVenue(ctx context.Context, v *Venue) (objects, children int, err error) {
	l, ok := c.loaders.Get(v.ID)
	if !ok || !l.Loaded() {
		c.logger.Warn().Str("venue", v.ID).Msg("no export loaded, venue disabled")
		return 0, 0, nil
	}
	if _, ok := l.ByIdentity(v.Wrapper); !ok {
		c.logger.Warn().Str("venue", v.ID).Str("wrapper", v.Wrapper.String()).Msg("pool wrapper missing from export, venue disabled")
		return 0, 0, nil
	}

	placeholders := 0
	for _, rec := range l.All() {
		placeholder, err := c.loadRecord(ctx, rec)
		if err != nil {
			return objects, children, fmt.Errorf("record %s (%s): %w", rec.ObjectID, rec.Type, err)
		}
		if placeholder {
			placeholders++
		}
		if rec.IsChildField() {
			children++
		} else {
			objects++
		}
	}

	stats := l.Stats()
	missing := l.MissingSlices()
	c.metrics.SetLoaderStats(v.ID, stats.TotalObjects, len(missing))
	c.venues[v.ID] = &loadedVenue{Venue: *v, checkpoint: stats.MaxCheckpoint, objects: stats.TotalObjects}
	c.logger.Info().
		Str("venue", v.ID).
		Int("objects", objects).
		Int("child_fields", children).
		Int("placeholders", placeholders).
		Int("missing_slices", len(missing)).
		Uint64("checkpoint", stats.MaxCheckpoint).
		Msg("venue loaded")
	return objects, children, nil
}

func (c *Coordinator) loadRecord(ctx context.Context, rec *loader.Record) (bool, error) {
	value, err := rec.Value()
	if err != nil {
		return false, err
	}
	if rec.IsChildField() {
		typeName, err := codec.CorrectSliceTypeName(rec.Type, value, c.converter.SlicePackage())
		if err != nil {
			return false, err
		}
		contents, placeholder, err := c.converter.ConvertOrPlaceholder(rec.ObjectID.String(), typeName, value)
		if err != nil {
			return false, err
		}
		return placeholder, c.putChild(ctx, &engine.ChildField{
			Parent:   *rec.OwnerAddress,
			ID:       rec.ObjectID,
			Type:     typeName,
			Contents: contents,
			Version:  rec.Version,
		})
	}

	contents, placeholder, err := c.converter.ConvertOrPlaceholder(rec.ObjectID.String(), rec.Type, value)
	if err != nil {
		return false, err
	}
	obj := &engine.Object{
		ID:        rec.ObjectID,
		Type:      rec.Type,
		Version:   rec.Version,
		Contents:  contents,
		Shared:    rec.Owner == loader.OwnerShared,
		Immutable: rec.Owner == loader.OwnerImmutable,
	}
	if rec.Owner == loader.OwnerAddress && rec.OwnerAddress != nil {
		obj.Owner = *rec.OwnerAddress
	}
	return placeholder, c.putObject(ctx, obj)
}

// selfCheck runs one read-only program that quotes and pages every loaded
// venue. Any failure is fatal to bootstrapping.
func (c *Coordinator) selfCheck(ctx context.Context) (*StartupReport, error) {
	ids := c.venueIDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no venues loaded", ErrSelfCheckFailed)
	}

	b := engine.NewBuilder(c.cfg.Sender)
	clock := b.Object(ClockID, false)
	checks := make([]VenueCheck, len(ids))
	quoteCmd := make([]int, len(ids))
	pageCmd := make([]int, len(ids))
	for i, id := range ids {
		v := c.venues[id]
		amount := pow10(v.BaseDecimals)
		checks[i] = VenueCheck{Venue: id, CheckAmount: amount}
		pool := b.Object(v.Wrapper, false)
		quoteCmd[i] = int(quoteCall(b, c.cfg.DeepBookPackage, &v.Venue, pool, b.PureU64(amount), clock, orderbook.SellBase).Index)
		pageCmd[i] = int(iterOrdersCall(b, c.cfg.DeepBookPackage, &v.Venue, pool, true, nil, 1).Index)
	}
	prog := b.Program()
	res, err := c.eng.Execute(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSelfCheckFailed, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrSelfCheckFailed, res.Error)
	}

	for i := range checks {
		if checks[i].QuoteOut, err = res.ReturnU64(quoteCmd[i], quoteQuoteOut); err != nil {
			return nil, fmt.Errorf("%w: %s quote: %w", ErrSelfCheckFailed, checks[i].Venue, err)
		}
		if checks[i].DeepRequired, err = res.ReturnU64(quoteCmd[i], quoteDeepReq); err != nil {
			return nil, fmt.Errorf("%w: %s quote: %w", ErrSelfCheckFailed, checks[i].Venue, err)
		}
		raw, err := res.Return(pageCmd[i], 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %s orders: %w", ErrSelfCheckFailed, checks[i].Venue, err)
		}
		page, err := decodePage(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s orders: %w", ErrSelfCheckFailed, checks[i].Venue, err)
		}
		checks[i].BestBidOrders = len(page.Orders)
	}

	reserves := make(map[string]uint64, len(c.reserves))
	for sym, rc := range c.reserves {
		obj, err := c.eng.GetObject(ctx, rc.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: reserve %s: %w", ErrSelfCheckFailed, sym, err)
		}
		value, err := engine.CoinValue(obj.Contents)
		if err != nil || value != rc.Value {
			return nil, fmt.Errorf("%w: reserve %s holds %d, want %d", ErrSelfCheckFailed, sym, value, rc.Value)
		}
		reserves[sym] = value
	}

	_, tip := c.digest.Tip()
	return &StartupReport{
		Passed:   true,
		Venues:   checks,
		Reserves: reserves,
		Commands: prog.Describe(),
		Digest:   tip,
	}, nil
}

// StartupReport is the cached result of the bootstrap self-check.
type StartupReport struct {
	Passed      bool              `json:"passed"`
	Venues      []VenueCheck      `json:"venues"`
	Reserves    map[string]uint64 `json:"reserves"`
	Commands    []string          `json:"commands"`
	Objects     int               `json:"objects"`
	ChildFields int               `json:"child_fields"`
	Synthesized int               `json:"synthesized"`
	Digest      string            `json:"digest"`
	Duration    time.Duration     `json:"duration_ns"`
	CompletedAt time.Time         `json:"completed_at"`
}

// VenueCheck is the self-check outcome of one venue.
type VenueCheck struct {
	Venue         string `json:"venue"`
	CheckAmount   uint64 `json:"check_amount"`
	QuoteOut      uint64 `json:"quote_out"`
	DeepRequired  uint64 `json:"deep_required"`
	BestBidOrders int    `json:"best_bid_orders"`
}

// StartupCheck returns the cached self-check report. The check is never
// re-run.
func (c *Coordinator) StartupCheck() (*StartupReport, error) {
	r := c.startup.Load()
	if r == nil {
		if c.State() == StateShuttingDown {
			return nil, ErrChannelClosed
		}
		return nil, ErrNotReady
	}
	return r, nil
}

func pow10(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}
