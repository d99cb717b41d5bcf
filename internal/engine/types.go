package engine

import (
	"DeepReplay/internal/codec"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned by GetObject for unknown identities.
var ErrObjectNotFound = errors.New("engine: object not found")

// Object is a typed, versioned object in canonical binary form.
type Object struct {
	ID        codec.Address `json:"id"`
	Type      string        `json:"type"`
	Version   uint64        `json:"version"`
	Contents  []byte        `json:"contents"`
	Shared    bool          `json:"shared"`
	Immutable bool          `json:"immutable"`
	Owner     codec.Address `json:"owner"` // zero for shared and immutable objects
}

// ChildField is a dynamic field stored under a parent object. Contents is
// the full Field<K, V> payload: id, then key, then value.
type ChildField struct {
	Parent   codec.Address `json:"parent"`
	ID       codec.Address `json:"id"`
	Type     string        `json:"type"`
	Contents []byte        `json:"contents"`
	Version  uint64        `json:"version"`
}

// KeyU64 returns the key of a Field<u64, _>, which sits right after the
// 32 byte id.
func (f *ChildField) KeyU64() (uint64, error) {
	tag, err := codec.ParseTypeTag(f.Type)
	if err != nil {
		return 0, err
	}
	if len(tag.Params) != 2 || tag.Params[0].Kind != codec.KindU64 {
		return 0, fmt.Errorf("child %s: key is not u64 (%s)", f.ID, f.Type)
	}
	if len(f.Contents) < codec.AddressLength+8 {
		return 0, fmt.Errorf("child %s: contents too short", f.ID)
	}
	return binary.LittleEndian.Uint64(f.Contents[codec.AddressLength:]), nil
}

// Package is a set of compiled Move modules keyed by module name.
type Package struct {
	ID      codec.Address     `json:"id"`
	Version uint64            `json:"version"`
	Modules map[string][]byte `json:"modules"`
}

// Event is a Move event emitted during execution.
type Event struct {
	Type     string `json:"type"`
	Contents []byte `json:"contents"`
}

// Effects lists everything a successful program changed.
type Effects struct {
	Created     []Object        `json:"created"`
	Mutated     []Object        `json:"mutated"`
	Deleted     []codec.Address `json:"deleted"`
	ChildFields []ChildField    `json:"child_fields"`
	Events      []Event         `json:"events"`
	GasUsed     uint64          `json:"gas_used"`
}

// Result is the outcome of Execute. Returns holds, per command, the
// binary return values of that command.
type Result struct {
	Success bool       `json:"success"`
	Returns [][][]byte `json:"returns"`
	Effects *Effects   `json:"effects,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Return returns the i-th value of command cmd.
func (r *Result) Return(cmd, i int) ([]byte, error) {
	if cmd >= len(r.Returns) {
		return nil, fmt.Errorf("no return values for command %d", cmd)
	}
	if i >= len(r.Returns[cmd]) {
		return nil, fmt.Errorf("command %d returned %d values, want index %d", cmd, len(r.Returns[cmd]), i)
	}
	return r.Returns[cmd][i], nil
}

// ReturnU64 decodes the i-th return value of command cmd as u64.
func (r *Result) ReturnU64(cmd, i int) (uint64, error) {
	b, err := r.Return(cmd, i)
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, fmt.Errorf("command %d value %d: %d bytes, want 8", cmd, i, len(b))
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}

// CoinValue reads the balance of a Coin<T> payload (UID, then u64).
func CoinValue(b []byte) (uint64, error) {
	if len(b) < codec.AddressLength+8 {
		return 0, fmt.Errorf("coin payload: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint64(b[codec.AddressLength : codec.AddressLength+8]), nil
}

// CoinBytes builds a Coin<T> payload.
func CoinBytes(id codec.Address, value uint64) []byte {
	w := codec.NewWriter()
	w.WriteAddress(id)
	w.WriteU64(value)
	return w.Bytes()
}
