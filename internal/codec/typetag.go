package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates Move type shapes.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindAddress
	KindSigner
	KindVector
	KindStruct
	KindParam // unresolved generic parameter T<n>, only inside layouts
)

var primitiveNames = map[string]Kind{
	"bool":    KindBool,
	"u8":      KindU8,
	"u16":     KindU16,
	"u32":     KindU32,
	"u64":     KindU64,
	"u128":    KindU128,
	"u256":    KindU256,
	"address": KindAddress,
	"signer":  KindSigner,
}

// TypeTag is a parsed Move type.
type TypeTag struct {
	Kind    Kind
	Elem    *TypeTag  // KindVector
	Address Address   // KindStruct
	Module  string    // KindStruct
	Name    string    // KindStruct
	Params  []TypeTag // KindStruct
	Index   int       // KindParam
}

// Primitive returns the tag of a primitive kind.
func Primitive(k Kind) TypeTag { return TypeTag{Kind: k} }

// VectorOf returns vector<elem>.
func VectorOf(elem TypeTag) TypeTag {
	e := elem
	return TypeTag{Kind: KindVector, Elem: &e}
}

// StructTag returns addr::module::name<params>.
func StructTag(addr Address, module, name string, params ...TypeTag) TypeTag {
	return TypeTag{Kind: KindStruct, Address: addr, Module: module, Name: name, Params: params}
}

// ParseTypeTag parses strings such as
// "0x2::dynamic_field::Field<u64, vector<0xdee9::order::Order>>".
// Generic parameters in layout files are written T0, T1, ...
func ParseTypeTag(s string) (TypeTag, error) {
	p := &typeParser{src: s}
	tag, err := p.parse()
	if err != nil {
		return TypeTag{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return TypeTag{}, fmt.Errorf("parse type %q: trailing input at %d", s, p.pos)
	}
	return tag, nil
}

// MustParseTypeTag panics on malformed input. For constants and tests.
func MustParseTypeTag(s string) TypeTag {
	t, err := ParseTypeTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == 'x' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeParser) expect(tok string) error {
	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], tok) {
		return fmt.Errorf("parse type %q: expected %q at %d", p.src, tok, p.pos)
	}
	p.pos += len(tok)
	return nil
}

func (p *typeParser) peek(tok string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.src[p.pos:], tok)
}

func (p *typeParser) parse() (TypeTag, error) {
	word := p.ident()
	if word == "" {
		return TypeTag{}, fmt.Errorf("parse type %q: expected identifier at %d", p.src, p.pos)
	}
	if k, ok := primitiveNames[word]; ok {
		return TypeTag{Kind: k}, nil
	}
	if word == "vector" {
		if err := p.expect("<"); err != nil {
			return TypeTag{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
		return VectorOf(elem), nil
	}
	if !p.peek("::") {
		if len(word) > 1 && word[0] == 'T' {
			if idx, err := strconv.Atoi(word[1:]); err == nil {
				return TypeTag{Kind: KindParam, Index: idx}, nil
			}
		}
		return TypeTag{}, fmt.Errorf("parse type %q: unknown type %q", p.src, word)
	}

	addr, err := ParseAddress(word)
	if err != nil {
		return TypeTag{}, fmt.Errorf("parse type %q: %w", p.src, err)
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	module := p.ident()
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	name := p.ident()
	if module == "" || name == "" {
		return TypeTag{}, fmt.Errorf("parse type %q: incomplete struct tag", p.src)
	}
	tag := StructTag(addr, module, name)
	if p.peek("<") {
		p.pos++
		for {
			param, err := p.parse()
			if err != nil {
				return TypeTag{}, err
			}
			tag.Params = append(tag.Params, param)
			if p.peek(",") {
				p.pos++
				continue
			}
			if err := p.expect(">"); err != nil {
				return TypeTag{}, err
			}
			break
		}
	}
	return tag, nil
}

// String renders the tag with full-width addresses.
func (t TypeTag) String() string {
	switch t.Kind {
	case KindVector:
		return "vector<" + t.Elem.String() + ">"
	case KindStruct:
		base := t.BaseName()
		if len(t.Params) == 0 {
			return base
		}
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		return base + "<" + strings.Join(parts, ", ") + ">"
	case KindParam:
		return "T" + strconv.Itoa(t.Index)
	}
	for name, k := range primitiveNames {
		if k == t.Kind {
			return name
		}
	}
	return "unknown"
}

// BaseName is addr::module::name without type arguments.
func (t TypeTag) BaseName() string {
	return t.Address.String() + "::" + t.Module + "::" + t.Name
}

// Is reports whether t is the struct module::name at any address.
func (t TypeTag) Is(module, name string) bool {
	return t.Kind == KindStruct && t.Module == module && t.Name == name
}

// Substitute replaces generic parameters with args.
func (t TypeTag) Substitute(args []TypeTag) TypeTag {
	switch t.Kind {
	case KindParam:
		if t.Index < len(args) {
			return args[t.Index]
		}
		return t
	case KindVector:
		return VectorOf(t.Elem.Substitute(args))
	case KindStruct:
		if len(t.Params) == 0 {
			return t
		}
		out := t
		out.Params = make([]TypeTag, len(t.Params))
		for i, p := range t.Params {
			out.Params[i] = p.Substitute(args)
		}
		return out
	}
	return t
}

// Equal compares two tags structurally.
func (t TypeTag) Equal(o TypeTag) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindVector:
		return t.Elem.Equal(*o.Elem)
	case KindStruct:
		if t.Address != o.Address || t.Module != o.Module || t.Name != o.Name || len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
	case KindParam:
		return t.Index == o.Index
	}
	return true
}

// EncodeTypeTag writes the canonical binary form of a type tag, the
// enum encoding the engine hashes when deriving child identities.
func EncodeTypeTag(w *Writer, t TypeTag) error {
	switch t.Kind {
	case KindBool:
		w.WriteLen(0)
	case KindU8:
		w.WriteLen(1)
	case KindU64:
		w.WriteLen(2)
	case KindU128:
		w.WriteLen(3)
	case KindAddress:
		w.WriteLen(4)
	case KindSigner:
		w.WriteLen(5)
	case KindVector:
		w.WriteLen(6)
		return EncodeTypeTag(w, *t.Elem)
	case KindStruct:
		w.WriteLen(7)
		w.WriteAddress(t.Address)
		w.WriteString(t.Module)
		w.WriteString(t.Name)
		w.WriteLen(len(t.Params))
		for _, p := range t.Params {
			if err := EncodeTypeTag(w, p); err != nil {
				return err
			}
		}
	case KindU16:
		w.WriteLen(8)
	case KindU32:
		w.WriteLen(9)
	case KindU256:
		w.WriteLen(10)
	default:
		return fmt.Errorf("cannot encode unresolved type %s", t)
	}
	return nil
}
