package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/state"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Offsets inside a Pool wrapper payload: UID, then Versioned{UID, u64}.
const (
	wrapperInnerOffset   = codec.AddressLength
	wrapperVersionOffset = 2 * codec.AddressLength
	wrapperMinLength     = wrapperVersionOffset + 8
)

// commit folds a successful program's effects into the cache and returns
// the new digest tip. It is idempotent: running it twice on the same
// effects leaves the cache unchanged apart from the digest.
func (c *Coordinator) commit(ctx context.Context, fx *engine.Effects) (string, error) {
	if err := c.reconcile(ctx, fx); err != nil {
		return "", err
	}
	sum := c.digest.Append(fx)
	return fmt.Sprintf("%x", sum), nil
}

func (c *Coordinator) reconcile(ctx context.Context, fx *engine.Effects) error {
	if fx == nil {
		return nil
	}
	for i := range fx.Created {
		if err := c.store.PutObject(&fx.Created[i]); err != nil {
			return fmt.Errorf("cache created %s: %w", fx.Created[i].ID, err)
		}
	}
	for i := range fx.Mutated {
		if err := c.store.PutObject(&fx.Mutated[i]); err != nil {
			return fmt.Errorf("cache mutated %s: %w", fx.Mutated[i].ID, err)
		}
	}
	for _, id := range fx.Deleted {
		if err := c.store.DeleteObject(id); err != nil && !errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("cache deleted %s: %w", id, err)
		}
	}
	for i := range fx.ChildFields {
		f := fx.ChildFields[i]
		if err := c.registerChild(&f); err != nil {
			return err
		}
	}
	if err := c.repairWrappers(ctx); err != nil {
		return err
	}
	return c.refreshReserves()
}

// registerChild caches a child field under the identity derived from its
// key. Keys of variable width keep the identity the engine reported.
func (c *Coordinator) registerChild(f *engine.ChildField) error {
	tag, err := codec.ParseTypeTag(f.Type)
	if err != nil {
		return fmt.Errorf("child %s: %w", f.ID, err)
	}
	if len(tag.Params) == 2 {
		if n, ok := fixedKeyWidth(tag.Params[0]); ok && len(f.Contents) >= codec.AddressLength+n {
			key := f.Contents[codec.AddressLength : codec.AddressLength+n]
			id, err := engine.DeriveChildID(f.Parent, tag.Params[0], key)
			if err != nil {
				return err
			}
			if id != f.ID {
				c.logger.Warn().
					Str("parent", f.Parent.String()).
					Str("reported", f.ID.String()).
					Str("derived", id.String()).
					Msg("child id disagrees with key, using derived id")
				contents := append([]byte(nil), f.Contents...)
				copy(contents, id[:])
				f.ID, f.Contents = id, contents
			}
		}
	}
	return c.store.PutChild(f)
}

// fixedKeyWidth returns the encoded width of key types whose size does not
// depend on the value.
func fixedKeyWidth(t codec.TypeTag) (int, bool) {
	switch t.Kind {
	case codec.KindBool, codec.KindU8:
		return 1, true
	case codec.KindU16:
		return 2, true
	case codec.KindU32:
		return 4, true
	case codec.KindU64:
		return 8, true
	case codec.KindU128:
		return 16, true
	case codec.KindU256:
		return 32, true
	case codec.KindAddress:
		return codec.AddressLength, true
	case codec.KindStruct:
		if t.Address == codec.FrameworkAddress && t.Module == "object" && t.Name == "ID" {
			return codec.AddressLength, true
		}
	}
	return 0, false
}

func (c *Coordinator) repairWrappers(ctx context.Context) error {
	for _, id := range c.venueIDs() {
		v := c.venues[id]
		if _, err := c.repairWrapper(ctx, &v.Venue); err != nil {
			return fmt.Errorf("repair %s: %w", id, err)
		}
	}
	return nil
}

// repairWrapper advances the wrapper's versioned counter to the highest
// child key under Inner when the two disagree. Some effect streams update
// the inner child without touching the wrapper; left alone, later reads
// address a stale child.
func (c *Coordinator) repairWrapper(ctx context.Context, v *Venue) (bool, error) {
	obj, err := c.store.GetObject(v.Wrapper)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(obj.Contents) < wrapperMinLength {
		return false, fmt.Errorf("wrapper %s: %d bytes", v.Wrapper, len(obj.Contents))
	}
	if !bytes.Equal(obj.Contents[wrapperInnerOffset:wrapperVersionOffset], v.Inner[:]) {
		c.logger.Warn().Str("venue", v.ID).Msg("wrapper does not reference configured inner uid, skipping repair")
		return false, nil
	}

	children, err := c.store.Children(v.Inner)
	if err != nil {
		return false, err
	}
	var (
		highest uint64
		found   bool
	)
	for i := range children {
		k, err := children[i].KeyU64()
		if err != nil {
			continue
		}
		if !found || k > highest {
			highest, found = k, true
		}
	}
	if !found {
		return false, nil
	}
	current := binary.LittleEndian.Uint64(obj.Contents[wrapperVersionOffset:wrapperMinLength])
	if current == highest {
		return false, nil
	}

	repaired := *obj
	repaired.Contents = append([]byte(nil), obj.Contents...)
	binary.LittleEndian.PutUint64(repaired.Contents[wrapperVersionOffset:], highest)
	repaired.Version++
	if err := c.putObject(ctx, &repaired); err != nil {
		return false, err
	}
	c.metrics.RecordRepair(v.ID)
	c.logger.Info().
		Str("venue", v.ID).
		Uint64("from", current).
		Uint64("to", highest).
		Msg("wrapper version repaired")
	return true, nil
}
