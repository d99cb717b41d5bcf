package engine

import (
	"DeepReplay/internal/codec"
	"context"
)

// Engine is the deterministic execution environment. Implementations are
// not safe for concurrent use; exactly one goroutine may own an Engine.
type Engine interface {
	// Execute runs a program atomically. A Move abort is reported through
	// Result.Success and Result.Error; the error return is reserved for
	// transport and protocol failures.
	Execute(ctx context.Context, p *Program) (*Result, error)

	GetObject(ctx context.Context, id codec.Address) (*Object, error)
	SetObject(ctx context.Context, obj *Object) error

	// DeployPackage publishes compiled modules at a fixed address.
	DeployPackage(ctx context.Context, pkg *Package) error

	SetChildField(ctx context.Context, f *ChildField) error
	ChildFields(ctx context.Context, parent codec.Address) ([]ChildField, error)

	Close() error
}
