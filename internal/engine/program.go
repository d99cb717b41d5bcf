package engine

import (
	"DeepReplay/internal/codec"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

type ArgKind uint8

const (
	ArgInput ArgKind = iota
	ArgResult
	ArgNestedResult
)

// Argument refers to a program input, a command result, or one value of
// a multi-value command result.
type Argument struct {
	Kind   ArgKind `json:"kind"`
	Index  uint16  `json:"index"`
	Nested uint16  `json:"nested,omitempty"`
}

// Nested selects the i-th value of a command result.
func Nested(result Argument, i uint16) Argument {
	return Argument{Kind: ArgNestedResult, Index: result.Index, Nested: i}
}

// ObjectRef is an object input. Shared objects are passed by reference.
type ObjectRef struct {
	ID      codec.Address `json:"id"`
	Mutable bool          `json:"mutable"`
}

// Input is either an object reference or a pure BCS value.
type Input struct {
	Object *ObjectRef `json:"object,omitempty"`
	Pure   []byte     `json:"pure,omitempty"`
}

type CommandKind uint8

const (
	CmdMoveCall CommandKind = iota
	CmdSplitCoins
	CmdMergeCoins
	CmdTransferObjects
)

func (k CommandKind) String() string {
	switch k {
	case CmdMoveCall:
		return "MoveCall"
	case CmdSplitCoins:
		return "SplitCoins"
	case CmdMergeCoins:
		return "MergeCoins"
	case CmdTransferObjects:
		return "TransferObjects"
	}
	return "Unknown"
}

// Command is one step of a program. For SplitCoins Args[0] is the coin and
// the rest are amounts; for MergeCoins Args[0] is the destination; for
// TransferObjects the last argument is the recipient.
type Command struct {
	Kind     CommandKind   `json:"kind"`
	Package  codec.Address `json:"package,omitempty"`
	Module   string        `json:"module,omitempty"`
	Function string        `json:"function,omitempty"`
	TypeArgs []string      `json:"type_args,omitempty"`
	Args     []Argument    `json:"args"`
}

func (c Command) String() string {
	if c.Kind != CmdMoveCall {
		return fmt.Sprintf("%s(%d args)", c.Kind, len(c.Args))
	}
	s := c.Package.String() + "::" + c.Module + "::" + c.Function
	if len(c.TypeArgs) > 0 {
		s += "<" + strings.Join(c.TypeArgs, ", ") + ">"
	}
	return s
}

// Program is an ordered list of commands executed atomically.
type Program struct {
	Sender   codec.Address `json:"sender"`
	Inputs   []Input       `json:"inputs"`
	Commands []Command     `json:"commands"`
}

// Describe renders one line per command.
func (p *Program) Describe() []string {
	out := make([]string, len(p.Commands))
	for i, c := range p.Commands {
		out[i] = c.String()
	}
	return out
}

// Builder assembles a program. Object inputs are de-duplicated; asking for
// an object mutably after it was added immutably upgrades the reference.
type Builder struct {
	p       Program
	objects map[codec.Address]uint16
}

func NewBuilder(sender codec.Address) *Builder {
	return &Builder{
		p:       Program{Sender: sender},
		objects: make(map[codec.Address]uint16),
	}
}

func (b *Builder) input(in Input) Argument {
	b.p.Inputs = append(b.p.Inputs, in)
	return Argument{Kind: ArgInput, Index: uint16(len(b.p.Inputs) - 1)}
}

// Object adds an object input.
func (b *Builder) Object(id codec.Address, mutable bool) Argument {
	if idx, ok := b.objects[id]; ok {
		if mutable {
			b.p.Inputs[idx].Object.Mutable = true
		}
		return Argument{Kind: ArgInput, Index: idx}
	}
	arg := b.input(Input{Object: &ObjectRef{ID: id, Mutable: mutable}})
	b.objects[id] = arg.Index
	return arg
}

func (b *Builder) Pure(v []byte) Argument { return b.input(Input{Pure: v}) }

func (b *Builder) PureU64(v uint64) Argument {
	w := codec.NewWriter()
	w.WriteU64(v)
	return b.Pure(w.Bytes())
}

func (b *Builder) PureU8(v uint8) Argument { return b.Pure([]byte{v}) }

func (b *Builder) PureBool(v bool) Argument {
	w := codec.NewWriter()
	w.WriteBool(v)
	return b.Pure(w.Bytes())
}

func (b *Builder) PureAddress(a codec.Address) Argument {
	return b.Pure(append([]byte{}, a[:]...))
}

// PureString passes a UTF-8 string (vector<u8>).
func (b *Builder) PureString(s string) Argument {
	w := codec.NewWriter()
	w.WriteString(s)
	return b.Pure(w.Bytes())
}

// PureOptionU128 passes Option<u128>; nil is none.
func (b *Builder) PureOptionU128(v *uint256.Int) Argument {
	w := codec.NewWriter()
	if v == nil {
		w.WriteLen(0)
	} else {
		w.WriteLen(1)
		w.WriteU128(v)
	}
	return b.Pure(w.Bytes())
}

// PureOptionU64 passes Option<u64>; nil is none.
func (b *Builder) PureOptionU64(v *uint64) Argument {
	w := codec.NewWriter()
	if v == nil {
		w.WriteLen(0)
	} else {
		w.WriteLen(1)
		w.WriteU64(*v)
	}
	return b.Pure(w.Bytes())
}

func (b *Builder) command(c Command) Argument {
	b.p.Commands = append(b.p.Commands, c)
	return Argument{Kind: ArgResult, Index: uint16(len(b.p.Commands) - 1)}
}

// MoveCall appends pkg::module::function<typeArgs>(args).
func (b *Builder) MoveCall(pkg codec.Address, module, function string, typeArgs []string, args ...Argument) Argument {
	return b.command(Command{
		Kind:     CmdMoveCall,
		Package:  pkg,
		Module:   module,
		Function: function,
		TypeArgs: typeArgs,
		Args:     args,
	})
}

// SplitCoins splits amounts off coin. Each amount becomes a nested result.
func (b *Builder) SplitCoins(coin Argument, amounts ...Argument) Argument {
	return b.command(Command{Kind: CmdSplitCoins, Args: append([]Argument{coin}, amounts...)})
}

func (b *Builder) MergeCoins(dest Argument, sources ...Argument) Argument {
	return b.command(Command{Kind: CmdMergeCoins, Args: append([]Argument{dest}, sources...)})
}

func (b *Builder) TransferObjects(objects []Argument, recipient Argument) Argument {
	args := append(append([]Argument{}, objects...), recipient)
	return b.command(Command{Kind: CmdTransferObjects, Args: args})
}

// Len returns the number of commands so far.
func (b *Builder) Len() int { return len(b.p.Commands) }

// Program returns the assembled program.
func (b *Builder) Program() *Program {
	p := b.p
	return &p
}
