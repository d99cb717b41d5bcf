package codec

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// FieldLayout is one declared struct field. Type may reference generic
// parameters as T0, T1, ...
type FieldLayout struct {
	Name string
	Type TypeTag
}

// StructLayout is the declared field order of one Move struct.
type StructLayout struct {
	Address    Address
	Module     string
	Name       string
	TypeParams int
	Fields     []FieldLayout
}

// BaseName is addr::module::name.
func (l *StructLayout) BaseName() string {
	return l.Address.String() + "::" + l.Module + "::" + l.Name
}

// LayoutOracle resolves a fully qualified type name to its declared field
// order and the type arguments bound in the name.
type LayoutOracle interface {
	Resolve(typeName string) (*StructLayout, []TypeTag, error)
}

// StaticOracle serves layouts registered up front, keyed by base name.
type StaticOracle struct {
	mu      sync.RWMutex
	layouts map[string]*StructLayout
}

// NewStaticOracle returns an empty oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{layouts: make(map[string]*StructLayout)}
}

// Register adds or replaces a layout.
func (o *StaticOracle) Register(l *StructLayout) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.layouts[l.BaseName()] = l
}

// Len returns the number of registered layouts.
func (o *StaticOracle) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.layouts)
}

// Resolve implements LayoutOracle.
func (o *StaticOracle) Resolve(typeName string) (*StructLayout, []TypeTag, error) {
	tag, err := ParseTypeTag(typeName)
	if err != nil {
		return nil, nil, err
	}
	return o.ResolveTag(tag)
}

// ResolveTag resolves an already parsed struct tag.
func (o *StaticOracle) ResolveTag(tag TypeTag) (*StructLayout, []TypeTag, error) {
	if tag.Kind != KindStruct {
		return nil, nil, &UnknownTypeError{Type: tag.String()}
	}
	o.mu.RLock()
	l, ok := o.layouts[tag.BaseName()]
	o.mu.RUnlock()
	if !ok {
		return nil, nil, &UnknownTypeError{Type: tag.String()}
	}
	if len(tag.Params) != l.TypeParams {
		return nil, nil, fmt.Errorf("%w: %s expects %d type arguments, got %d",
			ErrMalformedField, l.BaseName(), l.TypeParams, len(tag.Params))
	}
	return l, tag.Params, nil
}

// layoutFile is the YAML shape of a layout set.
type layoutFile struct {
	Aliases map[string]string `yaml:"aliases"`
	Structs []struct {
		Type       string `yaml:"type"`
		TypeParams int    `yaml:"type_params"`
		Fields     []struct {
			Name string `yaml:"name"`
			Type string `yaml:"type"`
		} `yaml:"fields"`
	} `yaml:"structs"`
}

// LoadLayouts parses a YAML layout set into the oracle. Aliases map short
// names such as "deepbook" to package addresses and may be used as
// "@deepbook::pool::Pool" in type strings.
func (o *StaticOracle) LoadLayouts(r io.Reader) error {
	var f layoutFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode layouts: %w", err)
	}
	expand := func(s string) string {
		for alias, addr := range f.Aliases {
			s = replaceAlias(s, alias, addr)
		}
		return s
	}
	for _, st := range f.Structs {
		tag, err := ParseTypeTag(expand(st.Type))
		if err != nil {
			return fmt.Errorf("layout %s: %w", st.Type, err)
		}
		if tag.Kind != KindStruct {
			return fmt.Errorf("layout %s: not a struct", st.Type)
		}
		l := &StructLayout{
			Address:    tag.Address,
			Module:     tag.Module,
			Name:       tag.Name,
			TypeParams: st.TypeParams,
		}
		for _, fl := range st.Fields {
			ft, err := ParseTypeTag(expand(fl.Type))
			if err != nil {
				return fmt.Errorf("layout %s field %s: %w", st.Type, fl.Name, err)
			}
			l.Fields = append(l.Fields, FieldLayout{Name: fl.Name, Type: ft})
		}
		o.Register(l)
	}
	return nil
}

// LoadLayoutFile reads a YAML layout file from disk.
func (o *StaticOracle) LoadLayoutFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return o.LoadLayouts(f)
}

func replaceAlias(s, alias, addr string) string {
	return strings.ReplaceAll(s, "@"+alias+"::", addr+"::")
}

//go:embed layouts/deepbook.yaml
var deepbookLayouts string

// DefaultOracle returns an oracle preloaded with the framework and
// DeepBook layouts this replay needs.
func DefaultOracle() *StaticOracle {
	o := NewStaticOracle()
	if err := o.LoadLayouts(strings.NewReader(deepbookLayouts)); err != nil {
		panic(fmt.Sprintf("embedded layouts: %v", err))
	}
	return o
}
