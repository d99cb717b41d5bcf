package state

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned for absent objects and children.
var ErrNotFound = errors.New("state: not found")

var (
	objectPrefix = []byte("obj/")
	childPrefix  = []byte("child/")
)

// ObjectStore is the coordinator's cache of canonical objects and child
// fields. It lives on an in-memory filesystem and is rebuilt on every start.
type ObjectStore struct {
	db *pebble.DB
}

// Open creates an empty store.
func Open() (*ObjectStore, error) {
	db, err := pebble.Open("", &pebble.Options{
		FS:         vfs.NewMem(),
		DisableWAL: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return &ObjectStore{db: db}, nil
}

func (s *ObjectStore) Close() error {
	return s.db.Close()
}

func objectKey(id codec.Address) []byte {
	return append(append([]byte{}, objectPrefix...), id[:]...)
}

func childKey(parent, id codec.Address) []byte {
	k := append(append([]byte{}, childPrefix...), parent[:]...)
	return append(k, id[:]...)
}

func childRange(parent codec.Address) (lower, upper []byte) {
	lower = append(append([]byte{}, childPrefix...), parent[:]...)
	return lower, prefixEnd(lower)
}

// prefixEnd is the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// record layout: [version u64][flags u8][owner 32][type][contents]
func encodeObject(o *engine.Object) []byte {
	w := codec.NewWriter()
	w.WriteU64(o.Version)
	var flags uint8
	if o.Shared {
		flags |= 1
	}
	if o.Immutable {
		flags |= 2
	}
	w.WriteU8(flags)
	w.WriteAddress(o.Owner)
	w.WriteString(o.Type)
	w.WriteBytes(o.Contents)
	return w.Bytes()
}

func decodeObject(id codec.Address, b []byte) (*engine.Object, error) {
	r := codec.NewReader(b)
	o := &engine.Object{ID: id}
	var err error
	if o.Version, err = r.ReadU64(); err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	o.Shared, o.Immutable = flags&1 != 0, flags&2 != 0
	if o.Owner, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	typ, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	o.Type = string(typ)
	if o.Contents, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	return o, nil
}

// record layout: [version u64][type][contents]
func encodeChild(f *engine.ChildField) []byte {
	w := codec.NewWriter()
	w.WriteU64(f.Version)
	w.WriteString(f.Type)
	w.WriteBytes(f.Contents)
	return w.Bytes()
}

func decodeChild(parent, id codec.Address, b []byte) (*engine.ChildField, error) {
	r := codec.NewReader(b)
	f := &engine.ChildField{Parent: parent, ID: id}
	var err error
	if f.Version, err = r.ReadU64(); err != nil {
		return nil, err
	}
	typ, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	f.Type = string(typ)
	if f.Contents, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	return f, nil
}

// PutObject inserts or overwrites a top-level object.
func (s *ObjectStore) PutObject(o *engine.Object) error {
	return s.db.Set(objectKey(o.ID), encodeObject(o), pebble.NoSync)
}

func (s *ObjectStore) GetObject(id codec.Address) (*engine.Object, error) {
	val, closer, err := s.db.Get(objectKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: object %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeObject(id, val)
}

func (s *ObjectStore) DeleteObject(id codec.Address) error {
	return s.db.Delete(objectKey(id), pebble.NoSync)
}

// PutChild inserts or overwrites a child field under its parent.
func (s *ObjectStore) PutChild(f *engine.ChildField) error {
	return s.db.Set(childKey(f.Parent, f.ID), encodeChild(f), pebble.NoSync)
}

func (s *ObjectStore) GetChild(parent, id codec.Address) (*engine.ChildField, error) {
	val, closer, err := s.db.Get(childKey(parent, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: child %s of %s", ErrNotFound, id, parent)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeChild(parent, id, val)
}

// DeleteChild removes a child field. Deleting an absent child is a no-op.
func (s *ObjectStore) DeleteChild(parent, id codec.Address) error {
	return s.db.Delete(childKey(parent, id), pebble.NoSync)
}

// Children returns every child field of parent ordered by child id.
func (s *ObjectStore) Children(parent codec.Address) ([]engine.ChildField, error) {
	lower, upper := childRange(parent)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []engine.ChildField
	for iter.First(); iter.Valid(); iter.Next() {
		var id codec.Address
		copy(id[:], iter.Key()[len(lower):])
		f, err := decodeChild(parent, id, iter.Value())
		if err != nil {
			return nil, fmt.Errorf("child %s of %s: %w", id, parent, err)
		}
		out = append(out, *f)
	}
	return out, iter.Error()
}

// ForEachObject visits top-level objects in id order.
func (s *ObjectStore) ForEachObject(fn func(o *engine.Object) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: objectPrefix,
		UpperBound: prefixEnd(objectPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var id codec.Address
		copy(id[:], iter.Key()[len(objectPrefix):])
		o, err := decodeObject(id, iter.Value())
		if err != nil {
			return fmt.Errorf("object %s: %w", id, err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Stats counts objects and child fields.
func (s *ObjectStore) Stats() (objects, children int, err error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		switch iter.Key()[0] {
		case 'o':
			objects++
		case 'c':
			children++
		}
	}
	return objects, children, iter.Error()
}
