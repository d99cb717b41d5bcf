package loader

import (
	"DeepReplay/internal/codec"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OwnerKind is the ownership of an exported object.
type OwnerKind string

const (
	OwnerAddress   OwnerKind = "AddressOwner"
	OwnerShared    OwnerKind = "Shared"
	OwnerObject    OwnerKind = "ObjectOwner"
	OwnerImmutable OwnerKind = "Immutable"
)

// ParseOwnerKind accepts the warehouse spellings. Empty means AddressOwner.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "addressowner", "address":
		return OwnerAddress, nil
	case "shared":
		return OwnerShared, nil
	case "objectowner", "object":
		return OwnerObject, nil
	case "immutable":
		return OwnerImmutable, nil
	}
	return "", fmt.Errorf("unknown owner type %q", s)
}

// Record is one exported object: a human readable snapshot of a typed,
// versioned object together with its ownership.
type Record struct {
	ObjectID             codec.Address
	Type                 string
	Version              uint64
	JSON                 json.RawMessage
	InitialSharedVersion *uint64
	Owner                OwnerKind
	OwnerAddress         *codec.Address
	Checkpoint           uint64
}

// flexUint accepts a JSON number or a decimal string.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUint(n)
	return nil
}

type recordJSON struct {
	ObjectID             string          `json:"object_id"`
	ObjectType           string          `json:"object_type"`
	Type                 string          `json:"type"`
	Version              flexUint        `json:"version"`
	ObjectJSON           json.RawMessage `json:"object_json"`
	InitialSharedVersion *flexUint       `json:"initial_shared_version"`
	OwnerType            *string         `json:"owner_type"`
	OwnerAddress         *string         `json:"owner_address"`
	Checkpoint           flexUint        `json:"checkpoint"`
}

// ParseRecord decodes one export line.
func ParseRecord(line []byte) (*Record, error) {
	var raw recordJSON
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	typ := raw.ObjectType
	if typ == "" {
		typ = raw.Type
	}
	var owner, ownerAddr string
	if raw.OwnerType != nil {
		owner = *raw.OwnerType
	}
	if raw.OwnerAddress != nil {
		ownerAddr = *raw.OwnerAddress
	}
	var isv *uint64
	if raw.InitialSharedVersion != nil {
		v := uint64(*raw.InitialSharedVersion)
		isv = &v
	}
	return newRecord(raw.ObjectID, typ, uint64(raw.Version), raw.ObjectJSON, owner, ownerAddr, uint64(raw.Checkpoint), isv)
}

func newRecord(id, typ string, version uint64, payload []byte, owner, ownerAddr string, checkpoint uint64, isv *uint64) (*Record, error) {
	if id == "" {
		return nil, errors.New("missing object_id")
	}
	objectID, err := codec.ParseAddress(id)
	if err != nil {
		return nil, fmt.Errorf("object_id: %w", err)
	}
	if typ == "" {
		return nil, errors.New("missing object_type")
	}
	if len(payload) == 0 || string(payload) == "null" {
		return nil, errors.New("missing object_json")
	}
	kind, err := ParseOwnerKind(owner)
	if err != nil {
		return nil, err
	}
	r := &Record{
		ObjectID:             objectID,
		Type:                 typ,
		Version:              version,
		JSON:                 json.RawMessage(payload),
		InitialSharedVersion: isv,
		Owner:                kind,
		Checkpoint:           checkpoint,
	}
	if ownerAddr != "" {
		a, err := codec.ParseAddress(ownerAddr)
		if err != nil {
			return nil, fmt.Errorf("owner_address: %w", err)
		}
		r.OwnerAddress = &a
	}
	return r, nil
}

// Value decodes the object payload with numbers preserved as json.Number.
func (r *Record) Value() (any, error) {
	return codec.DecodeJSON(r.JSON)
}

// IsChildField reports whether the record is a dynamic field stored under
// another object.
func (r *Record) IsChildField() bool {
	return r.OwnerAddress != nil && r.Owner != OwnerShared &&
		strings.Contains(r.Type, "::dynamic_field::Field<")
}

// OwnedBy reports whether the record's owner address is owner.
func (r *Record) OwnedBy(owner codec.Address) bool {
	return r.OwnerAddress != nil && *r.OwnerAddress == owner
}
