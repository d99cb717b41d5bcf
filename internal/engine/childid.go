package engine

import (
	"DeepReplay/internal/codec"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// childIDScope is the hashing intent prefix for dynamic field identities.
const childIDScope byte = 0xf0

// DeriveChildID computes the identity of the dynamic field stored under
// parent for key (canonical bytes) of type keyType:
//
//	blake2b-256(0xf0 || parent || len(key) as u64 LE || key || bcs(keyType))
func DeriveChildID(parent codec.Address, keyType codec.TypeTag, key []byte) (codec.Address, error) {
	tagWriter := codec.NewWriter()
	if err := codec.EncodeTypeTag(tagWriter, keyType); err != nil {
		return codec.Address{}, fmt.Errorf("derive child id: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return codec.Address{}, err
	}
	h.Write([]byte{childIDScope})
	h.Write(parent[:])
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(key)))
	h.Write(n[:])
	h.Write(key)
	h.Write(tagWriter.Bytes())

	var id codec.Address
	copy(id[:], h.Sum(nil))
	return id, nil
}

// FieldType returns 0x2::dynamic_field::Field<key, value>.
func FieldType(key, value codec.TypeTag) codec.TypeTag {
	return codec.StructTag(codec.FrameworkAddress, "dynamic_field", "Field", key, value)
}

// NewChildField builds the Field<K, V> child stored under parent, deriving
// its identity from the key.
func NewChildField(parent codec.Address, keyType codec.TypeTag, key []byte, valueType codec.TypeTag, value []byte) (*ChildField, error) {
	id, err := DeriveChildID(parent, keyType, key)
	if err != nil {
		return nil, err
	}
	contents := make([]byte, 0, codec.AddressLength+len(key)+len(value))
	contents = append(contents, id[:]...)
	contents = append(contents, key...)
	contents = append(contents, value...)
	return &ChildField{
		Parent:   parent,
		ID:       id,
		Type:     FieldType(keyType, valueType).String(),
		Contents: contents,
	}, nil
}

// U64Key encodes a u64 dynamic field key.
func U64Key(k uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return b[:]
}
