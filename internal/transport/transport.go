// Package transport fetches reference data (packages, framework objects,
// checkpoint metadata) from a full node.
package transport

import (
	"DeepReplay/internal/codec"
	"context"
)

// OwnerKind mirrors the ownership variants a node reports.
type OwnerKind uint8

const (
	OwnerAddress OwnerKind = iota
	OwnerObject
	OwnerShared
	OwnerImmutable
)

// RawObject is an object as returned by the node. Exactly one of BCS and
// Modules is set.
type RawObject struct {
	ID                   codec.Address
	Version              uint64
	Type                 string
	OwnerKind            OwnerKind
	Owner                codec.Address
	InitialSharedVersion uint64
	BCS                  []byte
	Modules              map[string][]byte
}

// IsPackage reports whether the object is a Move package.
func (o *RawObject) IsPackage() bool { return o.Modules != nil }

// Checkpoint is the header of one checkpoint and the transactions in it.
type Checkpoint struct {
	Height       uint64
	Digest       string
	TimestampMs  uint64
	Transactions []string
}

// ServiceInfo describes the node.
type ServiceInfo struct {
	ChainID      string
	LatestHeight uint64
}

// Transport is the reference-data boundary. GetObject and GetCheckpoint
// return nil without error when the node has no such entry.
type Transport interface {
	GetObject(ctx context.Context, id codec.Address) (*RawObject, error)
	GetCheckpoint(ctx context.Context, height uint64) (*Checkpoint, error)
	ServiceInfo(ctx context.Context) (*ServiceInfo, error)
	Close()
}
