package testutil

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GasPerCommand is the cost the scripted engine charges per command.
const GasPerCommand = 1_000

// Value is one value returned by a Move call handler.
type Value struct {
	Type  string
	Bytes []byte
}

// U64Value wraps a u64 return value.
func U64Value(n uint64) Value { return Value{Type: "u64", Bytes: engine.U64Key(n)} }

// Handler implements one Move function. A returned error aborts the whole
// program with the error text as the abort message.
type Handler func(call *Call) ([]Value, error)

// ScriptedEngine is an in-memory engine.Engine. It stores objects and
// child fields, runs the native coin commands itself, and dispatches Move
// calls to handlers registered by module and function name. Programs are
// atomic: nothing a failed program did is kept.
type ScriptedEngine struct {
	mu       sync.Mutex
	objects  map[codec.Address]*engine.Object
	children map[codec.Address]map[codec.Address]*engine.ChildField
	packages map[codec.Address]*engine.Package
	handlers map[string]Handler
	calls    map[string]int
	programs []*engine.Program
	reject   func(*engine.Program) string
	seq      uint64
	closed   bool
}

func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{
		objects:  make(map[codec.Address]*engine.Object),
		children: make(map[codec.Address]map[codec.Address]*engine.ChildField),
		packages: make(map[codec.Address]*engine.Package),
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
}

// Handle registers h for module::function.
func (e *ScriptedEngine) Handle(module, function string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[module+"::"+function] = h
}

// Reject makes Execute abort every program for which fn returns a
// non-empty message, before any command runs.
func (e *ScriptedEngine) Reject(fn func(*engine.Program) string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject = fn
}

// Calls returns how many committed programs called module::function.
func (e *ScriptedEngine) Calls(module, function string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[module+"::"+function]
}

// Programs returns every program submitted, committed or not.
func (e *ScriptedEngine) Programs() []*engine.Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.Program(nil), e.programs...)
}

// Package returns a deployed package.
func (e *ScriptedEngine) Package(id codec.Address) (*engine.Package, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.packages[id]
	return p, ok
}

func (e *ScriptedEngine) GetObject(_ context.Context, id codec.Address) (*engine.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrObjectNotFound, id)
	}
	return cloneObject(o), nil
}

func (e *ScriptedEngine) SetObject(_ context.Context, obj *engine.Object) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objects[obj.ID] = cloneObject(obj)
	return nil
}

func (e *ScriptedEngine) DeployPackage(_ context.Context, pkg *engine.Package) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packages[pkg.ID] = pkg
	return nil
}

func (e *ScriptedEngine) SetChildField(_ context.Context, f *engine.ChildField) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setChild(f)
	return nil
}

func (e *ScriptedEngine) setChild(f *engine.ChildField) {
	m := e.children[f.Parent]
	if m == nil {
		m = make(map[codec.Address]*engine.ChildField)
		e.children[f.Parent] = m
	}
	c := *f
	c.Contents = append([]byte(nil), f.Contents...)
	m[f.ID] = &c
}

func (e *ScriptedEngine) ChildFields(_ context.Context, parent codec.Address) ([]engine.ChildField, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.childList(parent), nil
}

func (e *ScriptedEngine) childList(parent codec.Address) []engine.ChildField {
	out := make([]engine.ChildField, 0, len(e.children[parent]))
	for _, f := range e.children[parent] {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

func (e *ScriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func cloneObject(o *engine.Object) *engine.Object {
	c := *o
	c.Contents = append([]byte(nil), o.Contents...)
	return &c
}

// slot is one value live during a program: an object input, a pure input
// or a command result.
type slot struct {
	typ      string
	bytes    []byte
	object   *codec.Address
	consumed bool
}

// txn is the working set of one program.
type txn struct {
	e        *ScriptedEngine
	objects  map[codec.Address]*engine.Object
	original map[codec.Address]*engine.Object
	created  map[codec.Address]bool
	deleted  map[codec.Address]bool
	children []engine.ChildField
	events   []engine.Event
	calls    []string
}

func (t *txn) object(id codec.Address) (*engine.Object, error) {
	if t.deleted[id] {
		return nil, fmt.Errorf("object %s was deleted", id)
	}
	if o, ok := t.objects[id]; ok {
		return o, nil
	}
	o, ok := t.e.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	t.original[id] = o
	t.objects[id] = cloneObject(o)
	return t.objects[id], nil
}

func (t *txn) newID() codec.Address {
	t.e.seq++
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], t.e.seq)
	return codec.Address(sha256.Sum256(append([]byte("scripted:"), n[:]...)))
}

func (t *txn) valueOf(s *slot) ([]byte, string, error) {
	if s.object != nil {
		o, err := t.object(*s.object)
		if err != nil {
			return nil, "", err
		}
		return o.Contents, o.Type, nil
	}
	return s.bytes, s.typ, nil
}

func (t *txn) coinValue(s *slot) (uint64, string, error) {
	b, typ, err := t.valueOf(s)
	if err != nil {
		return 0, "", err
	}
	if !strings.Contains(typ, "::coin::Coin<") {
		return 0, "", fmt.Errorf("value of type %q is not a coin", typ)
	}
	v, err := engine.CoinValue(b)
	return v, typ, err
}

func (t *txn) setCoinValue(s *slot, v uint64) error {
	if s.object != nil {
		o, err := t.object(*s.object)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(o.Contents[codec.AddressLength:], v)
		return nil
	}
	s.bytes = append([]byte(nil), s.bytes...)
	binary.LittleEndian.PutUint64(s.bytes[codec.AddressLength:], v)
	return nil
}

// consume removes a coin from play: object coins are deleted.
func (t *txn) consume(s *slot) {
	s.consumed = true
	if s.object != nil {
		t.deleted[*s.object] = true
	}
}

// Execute runs p atomically.
func (e *ScriptedEngine) Execute(_ context.Context, p *engine.Program) (*engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("scripted engine closed")
	}
	e.programs = append(e.programs, p)
	if e.reject != nil {
		if msg := e.reject(p); msg != "" {
			return failed(msg), nil
		}
	}

	t := &txn{
		e:        e,
		objects:  make(map[codec.Address]*engine.Object),
		original: make(map[codec.Address]*engine.Object),
		created:  make(map[codec.Address]bool),
		deleted:  make(map[codec.Address]bool),
	}
	inputs := make([]*slot, len(p.Inputs))
	for i, in := range p.Inputs {
		if in.Object != nil {
			id := in.Object.ID
			if _, err := t.object(id); err != nil {
				return failed(fmt.Sprintf("input %d: %v", i, err)), nil
			}
			inputs[i] = &slot{object: &id}
			continue
		}
		inputs[i] = &slot{bytes: in.Pure}
	}

	results := make([][]*slot, len(p.Commands))
	returns := make([][][]byte, len(p.Commands))
	for ci, cmd := range p.Commands {
		args := make([]*slot, len(cmd.Args))
		for ai, a := range cmd.Args {
			s, err := resolve(a, inputs, results)
			if err != nil {
				return failed(fmt.Sprintf("command %d arg %d: %v", ci, ai, err)), nil
			}
			args[ai] = s
		}
		out, err := e.run(t, cmd, args)
		if err != nil {
			return failed(fmt.Sprintf("%v in command %d", err, ci)), nil
		}
		results[ci] = out
		for _, s := range out {
			returns[ci] = append(returns[ci], s.bytes)
		}
	}

	fx := e.commit(t)
	fx.GasUsed = uint64(len(p.Commands)) * GasPerCommand
	return &engine.Result{Success: true, Returns: returns, Effects: fx}, nil
}

func failed(msg string) *engine.Result {
	return &engine.Result{Success: false, Error: msg}
}

func resolve(a engine.Argument, inputs []*slot, results [][]*slot) (*slot, error) {
	switch a.Kind {
	case engine.ArgInput:
		if int(a.Index) >= len(inputs) {
			return nil, fmt.Errorf("input %d out of range", a.Index)
		}
		return inputs[a.Index], nil
	case engine.ArgResult:
		if int(a.Index) >= len(results) || len(results[a.Index]) != 1 {
			return nil, fmt.Errorf("result %d is not a single value", a.Index)
		}
		return results[a.Index][0], nil
	case engine.ArgNestedResult:
		if int(a.Index) >= len(results) || int(a.Nested) >= len(results[a.Index]) {
			return nil, fmt.Errorf("nested result %d.%d out of range", a.Index, a.Nested)
		}
		return results[a.Index][a.Nested], nil
	}
	return nil, fmt.Errorf("unknown argument kind %d", a.Kind)
}

func (e *ScriptedEngine) run(t *txn, cmd engine.Command, args []*slot) ([]*slot, error) {
	for i, s := range args {
		if s.consumed {
			return nil, fmt.Errorf("argument %d already consumed", i)
		}
	}
	switch cmd.Kind {
	case engine.CmdSplitCoins:
		return t.splitCoins(args)
	case engine.CmdMergeCoins:
		return nil, t.mergeCoins(args)
	case engine.CmdTransferObjects:
		return nil, t.transferObjects(args)
	case engine.CmdMoveCall:
		key := cmd.Module + "::" + cmd.Function
		h, ok := e.handlers[key]
		if !ok {
			return nil, fmt.Errorf("no handler for %s", key)
		}
		call := &Call{Module: cmd.Module, Function: cmd.Function, TypeArgs: cmd.TypeArgs, args: args, t: t}
		vals, err := h(call)
		if err != nil {
			return nil, err
		}
		t.calls = append(t.calls, key)
		out := make([]*slot, len(vals))
		for i, v := range vals {
			out[i] = &slot{typ: v.Type, bytes: v.Bytes}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown command kind %d", cmd.Kind)
}

func (t *txn) splitCoins(args []*slot) ([]*slot, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("SplitCoins needs a coin and amounts")
	}
	value, typ, err := t.coinValue(args[0])
	if err != nil {
		return nil, err
	}
	out := make([]*slot, 0, len(args)-1)
	for _, a := range args[1:] {
		if len(a.bytes) != 8 {
			return nil, fmt.Errorf("SplitCoins amount must be u64")
		}
		amt := binary.LittleEndian.Uint64(a.bytes)
		if amt > value {
			return nil, fmt.Errorf("SplitCoins: insufficient balance %d for %d", value, amt)
		}
		value -= amt
		out = append(out, &slot{typ: typ, bytes: engine.CoinBytes(t.newID(), amt)})
	}
	return out, t.setCoinValue(args[0], value)
}

func (t *txn) mergeCoins(args []*slot) error {
	if len(args) < 1 {
		return fmt.Errorf("MergeCoins needs a destination")
	}
	total, typ, err := t.coinValue(args[0])
	if err != nil {
		return err
	}
	for _, src := range args[1:] {
		v, srcType, err := t.coinValue(src)
		if err != nil {
			return err
		}
		if srcType != typ {
			return fmt.Errorf("MergeCoins: %s into %s", srcType, typ)
		}
		total += v
		t.consume(src)
	}
	return t.setCoinValue(args[0], total)
}

func (t *txn) transferObjects(args []*slot) error {
	if len(args) < 2 {
		return fmt.Errorf("TransferObjects needs objects and a recipient")
	}
	rb := args[len(args)-1].bytes
	if len(rb) != codec.AddressLength {
		return fmt.Errorf("recipient must be an address")
	}
	var recipient codec.Address
	copy(recipient[:], rb)
	for _, s := range args[:len(args)-1] {
		if s.object != nil {
			o, err := t.object(*s.object)
			if err != nil {
				return err
			}
			o.Owner, o.Shared = recipient, false
			continue
		}
		if len(s.bytes) < codec.AddressLength {
			return fmt.Errorf("cannot transfer a value of type %q", s.typ)
		}
		var id codec.Address
		copy(id[:], s.bytes)
		t.objects[id] = &engine.Object{ID: id, Type: s.typ, Version: 1, Contents: s.bytes, Owner: recipient}
		t.created[id] = true
		s.consumed = true
	}
	return nil
}

func (e *ScriptedEngine) commit(t *txn) *engine.Effects {
	fx := &engine.Effects{}
	ids := make([]codec.Address, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	for _, id := range ids {
		o := t.objects[id]
		switch {
		case t.deleted[id]:
			if !t.created[id] {
				delete(e.objects, id)
				fx.Deleted = append(fx.Deleted, id)
			}
		case t.created[id]:
			e.objects[id] = o
			fx.Created = append(fx.Created, *cloneObject(o))
		default:
			orig := t.original[id]
			if bytes.Equal(orig.Contents, o.Contents) && orig.Owner == o.Owner && orig.Shared == o.Shared {
				continue
			}
			o.Version = orig.Version + 1
			e.objects[id] = o
			fx.Mutated = append(fx.Mutated, *cloneObject(o))
		}
	}
	for i := range t.children {
		e.setChild(&t.children[i])
	}
	fx.ChildFields = t.children
	fx.Events = t.events
	for _, k := range t.calls {
		e.calls[k]++
	}
	return fx
}

// Call is the view a handler has of one Move call.
type Call struct {
	Module   string
	Function string
	TypeArgs []string
	args     []*slot
	t        *txn
}

func (c *Call) NumArgs() int { return len(c.args) }

// Bytes returns the raw value of argument i.
func (c *Call) Bytes(i int) ([]byte, error) {
	if i >= len(c.args) {
		return nil, fmt.Errorf("%s::%s: missing argument %d", c.Module, c.Function, i)
	}
	b, _, err := c.t.valueOf(c.args[i])
	return b, err
}

func (c *Call) U64(i int) (uint64, error) {
	b, err := c.Bytes(i)
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, fmt.Errorf("%s::%s: argument %d is not a u64", c.Module, c.Function, i)
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Call) Bool(i int) (bool, error) {
	b, err := c.Bytes(i)
	if err != nil {
		return false, err
	}
	if len(b) != 1 {
		return false, fmt.Errorf("%s::%s: argument %d is not a bool", c.Module, c.Function, i)
	}
	return b[0] == 1, nil
}

// Text decodes a vector<u8> argument as a string.
func (c *Call) Text(i int) (string, error) {
	b, err := c.Bytes(i)
	if err != nil {
		return "", err
	}
	s, err := codec.NewReader(b).ReadBytes()
	return string(s), err
}

// Object returns the working copy of an object argument. Changes to it
// are committed with the program.
func (c *Call) Object(i int) (*engine.Object, error) {
	if i >= len(c.args) || c.args[i].object == nil {
		return nil, fmt.Errorf("%s::%s: argument %d is not an object", c.Module, c.Function, i)
	}
	return c.t.object(*c.args[i].object)
}

// Coin returns the value of a coin argument.
func (c *Call) Coin(i int) (uint64, error) {
	if i >= len(c.args) {
		return 0, fmt.Errorf("%s::%s: missing argument %d", c.Module, c.Function, i)
	}
	v, _, err := c.t.coinValue(c.args[i])
	return v, err
}

// TakeCoin returns a coin argument's value and consumes the coin.
func (c *Call) TakeCoin(i int) (uint64, error) {
	v, err := c.Coin(i)
	if err != nil {
		return 0, err
	}
	c.t.consume(c.args[i])
	return v, nil
}

// NewCoin mints a fresh Coin<coinType> value.
func (c *Call) NewCoin(coinType string, value uint64) Value {
	return Value{Type: "0x2::coin::Coin<" + coinType + ">", Bytes: engine.CoinBytes(c.t.newID(), value)}
}

// Create adds a new object.
func (c *Call) Create(obj engine.Object) {
	c.t.objects[obj.ID] = cloneObject(&obj)
	c.t.created[obj.ID] = true
}

// SetChild writes a child field.
func (c *Call) SetChild(f engine.ChildField) {
	c.t.children = append(c.t.children, f)
}

// Children lists the committed children of parent.
func (c *Call) Children(parent codec.Address) []engine.ChildField {
	return c.t.e.childList(parent)
}

func (c *Call) Emit(typ string, contents []byte) {
	c.t.events = append(c.t.events, engine.Event{Type: typ, Contents: contents})
}
