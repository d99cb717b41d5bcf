package codec

import (
	"DeepReplay/internal/observability"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	StdAddress       = MustParseAddress("0x1")
	FrameworkAddress = MustParseAddress("0x2")

	// DeepBookPackage is the package whose big-vector slices get their
	// exported type corrected before conversion.
	DeepBookPackage = MustParseAddress("0x2c8d603bc51326b8c13cef9dd07031a408a48dddb541963357661df5d3204809")
)

type wrapper uint8

const (
	wrapNone wrapper = iota
	wrapUID
	wrapID
	wrapBalance
	wrapOption
	wrapVecSet
	wrapVecMap
	wrapTable
	wrapString
	wrapTypeName
	wrapField
)

var wrapperNames = map[string]wrapper{
	"object::UID":               wrapUID,
	"object::ID":                wrapID,
	"balance::Balance":          wrapBalance,
	"vec_set::VecSet":           wrapVecSet,
	"vec_map::VecMap":           wrapVecMap,
	"table::Table":              wrapTable,
	"bag::Bag":                  wrapTable,
	"object_table::ObjectTable": wrapTable,
	"object_bag::ObjectBag":     wrapTable,
	"dynamic_field::Field":      wrapField,
}

var stdWrapperNames = map[string]wrapper{
	"option::Option":      wrapOption,
	"string::String":      wrapString,
	"ascii::String":       wrapString,
	"type_name::TypeName": wrapTypeName,
}

func wrapperOf(t TypeTag) wrapper {
	if t.Kind != KindStruct {
		return wrapNone
	}
	key := t.Module + "::" + t.Name
	switch t.Address {
	case FrameworkAddress:
		return wrapperNames[key]
	case StdAddress:
		return stdWrapperNames[key]
	}
	return wrapNone
}

// tagResolver is implemented by oracles that can skip re-parsing type strings.
type tagResolver interface {
	ResolveTag(tag TypeTag) (*StructLayout, []TypeTag, error)
}

// Converter turns exported JSON payloads into canonical binary payloads.
// Struct fields are always written in the order the layout oracle declares.
type Converter struct {
	oracle       LayoutOracle
	logger       zerolog.Logger
	metrics      *observability.Metrics
	slicePackage Address
}

type ConverterOption func(*Converter)

func WithMetrics(m *observability.Metrics) ConverterOption {
	return func(c *Converter) { c.metrics = m }
}

// WithSlicePackage overrides the package whose slices are corrected.
func WithSlicePackage(pkg Address) ConverterOption {
	return func(c *Converter) { c.slicePackage = pkg }
}

func NewConverter(oracle LayoutOracle, logger zerolog.Logger, opts ...ConverterOption) *Converter {
	c := &Converter{
		oracle:       oracle,
		logger:       logger,
		slicePackage: DeepBookPackage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SlicePackage returns the package used for slice correction.
func (c *Converter) SlicePackage() Address { return c.slicePackage }

// DecodeJSON parses a payload keeping numbers as json.Number so that u64
// and wider values survive without float rounding.
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
	return v, nil
}

// Convert encodes a raw JSON payload as typeName.
func (c *Converter) Convert(typeName string, payload []byte) ([]byte, error) {
	v, err := DecodeJSON(payload)
	if err != nil {
		return nil, err
	}
	return c.ConvertValue(typeName, v)
}

// ConvertValue encodes an already decoded JSON value. Big-vector slice
// fields are reclassified from their content before encoding; a failure in
// that family wraps ErrSliceMisclassified.
func (c *Converter) ConvertValue(typeName string, v any) ([]byte, error) {
	tag, err := ParseTypeTag(typeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}
	slice := IsSliceField(tag, c.slicePackage)
	if slice {
		corrected, err := CorrectSliceType(tag, v, c.slicePackage)
		if err != nil {
			return nil, err
		}
		tag = corrected
	}
	w := NewWriter()
	if err := c.encode(w, tag, v); err != nil {
		if slice {
			return nil, fmt.Errorf("%w: %s: %w", ErrSliceMisclassified, tag, err)
		}
		return nil, err
	}
	return w.Bytes(), nil
}

// ConvertOrPlaceholder converts v and, for anything outside the slice
// family, falls back to a lossy placeholder instead of failing. The
// placeholder is the object's UID when the payload carries one.
func (c *Converter) ConvertOrPlaceholder(objectID, typeName string, v any) ([]byte, bool, error) {
	b, err := c.ConvertValue(typeName, v)
	if err == nil {
		c.metrics.RecordConversion("ok")
		return b, false, nil
	}
	if errors.Is(err, ErrSliceMisclassified) {
		c.metrics.RecordConversion("failed")
		return nil, false, err
	}
	c.metrics.RecordConversion("placeholder")
	c.metrics.RecordFallback(moduleOf(typeName))
	c.logger.Warn().
		Err(err).
		Str("object_id", objectID).
		Str("type", typeName).
		Msg("conversion failed, using placeholder")
	return Placeholder(v), true, nil
}

// Placeholder returns the UID bytes of an object payload, or nothing.
func Placeholder(v any) []byte {
	obj, ok := v.(map[string]any)
	if !ok {
		return []byte{}
	}
	id, ok := obj["id"]
	if !ok {
		return []byte{}
	}
	addr, err := addressValue(id)
	if err != nil {
		return []byte{}
	}
	return append([]byte{}, addr[:]...)
}

func moduleOf(typeName string) string {
	parts := strings.SplitN(typeName, "::", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

func (c *Converter) resolve(tag TypeTag) (*StructLayout, []TypeTag, error) {
	if r, ok := c.oracle.(tagResolver); ok {
		return r.ResolveTag(tag)
	}
	return c.oracle.Resolve(tag.String())
}

func (c *Converter) encode(w *Writer, t TypeTag, v any) error {
	switch t.Kind {
	case KindBool:
		b, err := boolValue(v)
		if err != nil {
			return err
		}
		w.WriteBool(b)
	case KindU8:
		n, err := uintValue(v, 8)
		if err != nil {
			return err
		}
		w.WriteU8(uint8(n))
	case KindU16:
		n, err := uintValue(v, 16)
		if err != nil {
			return err
		}
		w.WriteU16(uint16(n))
	case KindU32:
		n, err := uintValue(v, 32)
		if err != nil {
			return err
		}
		w.WriteU32(uint32(n))
	case KindU64:
		n, err := uintValue(v, 64)
		if err != nil {
			return err
		}
		w.WriteU64(n)
	case KindU128:
		n, err := bigValue(v, 128)
		if err != nil {
			return err
		}
		w.WriteU128(n)
	case KindU256:
		n, err := bigValue(v, 256)
		if err != nil {
			return err
		}
		w.WriteU256(n)
	case KindAddress, KindSigner:
		a, err := addressValue(v)
		if err != nil {
			return err
		}
		w.WriteAddress(a)
	case KindVector:
		return c.encodeVector(w, *t.Elem, v)
	case KindStruct:
		return c.encodeStruct(w, t, v)
	default:
		return malformed("unresolved type parameter %s", t)
	}
	return nil
}

func (c *Converter) encodeVector(w *Writer, elem TypeTag, v any) error {
	if elem.Kind == KindU8 {
		if s, ok := v.(string); ok {
			b, err := byteString(s)
			if err != nil {
				return err
			}
			w.WriteBytes(b)
			return nil
		}
	}
	arr, ok := v.([]any)
	if !ok {
		return malformed("expected array for vector<%s>, got %T", elem, v)
	}
	w.WriteLen(len(arr))
	for i, item := range arr {
		if err := c.encode(w, elem, item); err != nil {
			return withPath("["+strconv.Itoa(i)+"]", err)
		}
	}
	return nil
}

func (c *Converter) encodeStruct(w *Writer, t TypeTag, v any) error {
	switch wrapperOf(t) {
	case wrapUID:
		return encodeUID(w, v)
	case wrapID:
		a, err := addressValue(v)
		if err != nil {
			return err
		}
		w.WriteAddress(a)
		return nil
	case wrapBalance:
		if obj, ok := v.(map[string]any); ok {
			v = obj["value"]
		}
		n, err := uintValue(v, 64)
		if err != nil {
			return err
		}
		w.WriteU64(n)
		return nil
	case wrapOption:
		if v == nil {
			w.WriteLen(0)
			return nil
		}
		w.WriteLen(1)
		return c.encode(w, param(t, 0), v)
	case wrapVecSet:
		return c.encodeVector(w, param(t, 0), contents(v))
	case wrapVecMap:
		arr, ok := contents(v).([]any)
		if !ok {
			return malformed("expected contents array for VecMap, got %T", v)
		}
		w.WriteLen(len(arr))
		for i, item := range arr {
			entry, ok := item.(map[string]any)
			if !ok {
				return withPath("["+strconv.Itoa(i)+"]", malformed("expected key/value entry"))
			}
			if err := c.encode(w, param(t, 0), entry["key"]); err != nil {
				return withPath("["+strconv.Itoa(i)+"].key", err)
			}
			if err := c.encode(w, param(t, 1), entry["value"]); err != nil {
				return withPath("["+strconv.Itoa(i)+"].value", err)
			}
		}
		return nil
	case wrapTable:
		obj, ok := v.(map[string]any)
		if !ok {
			return malformed("expected object for %s, got %T", t.Name, v)
		}
		if err := encodeUID(w, obj["id"]); err != nil {
			return withPath("id", err)
		}
		n, err := uintValue(obj["size"], 64)
		if err != nil {
			return withPath("size", err)
		}
		w.WriteU64(n)
		return nil
	case wrapString:
		s, ok := v.(string)
		if !ok {
			return malformed("expected string, got %T", v)
		}
		w.WriteString(s)
		return nil
	case wrapTypeName:
		if obj, ok := v.(map[string]any); ok {
			v = obj["name"]
		}
		s, ok := v.(string)
		if !ok {
			return malformed("expected type name string, got %T", v)
		}
		w.WriteString(s)
		return nil
	case wrapField:
		obj, ok := v.(map[string]any)
		if !ok {
			return malformed("expected object for dynamic field, got %T", v)
		}
		if err := encodeUID(w, obj["id"]); err != nil {
			return withPath("id", err)
		}
		if err := c.encode(w, param(t, 0), obj["name"]); err != nil {
			return withPath("name", err)
		}
		if err := c.encode(w, param(t, 1), obj["value"]); err != nil {
			return withPath("value", err)
		}
		return nil
	}

	layout, args, err := c.resolve(t)
	if err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return malformed("expected object for %s, got %T", layout.Name, v)
	}
	for _, f := range layout.Fields {
		ft := f.Type.Substitute(args)
		fv, present := obj[f.Name]
		if !present && wrapperOf(ft) != wrapOption {
			return withPath(f.Name, malformed("missing field"))
		}
		if err := c.encode(w, ft, fv); err != nil {
			return withPath(f.Name, err)
		}
	}
	return nil
}

func param(t TypeTag, i int) TypeTag {
	if i < len(t.Params) {
		return t.Params[i]
	}
	return TypeTag{Kind: KindParam, Index: i}
}

func contents(v any) any {
	if obj, ok := v.(map[string]any); ok {
		return obj["contents"]
	}
	return v
}

func encodeUID(w *Writer, v any) error {
	a, err := addressValue(v)
	if err != nil {
		return err
	}
	w.WriteAddress(a)
	return nil
}

// addressValue accepts "0x..", {"id": "0x.."} and {"id": {"id": "0x.."}}.
func addressValue(v any) (Address, error) {
	switch x := v.(type) {
	case string:
		a, err := ParseAddress(x)
		if err != nil {
			return Address{}, malformed("%v", err)
		}
		return a, nil
	case map[string]any:
		if inner, ok := x["id"]; ok {
			return addressValue(inner)
		}
		if inner, ok := x["bytes"]; ok {
			return addressValue(inner)
		}
	}
	return Address{}, malformed("expected address, got %T", v)
}

func boolValue(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, malformed("invalid bool %q", x)
		}
		return b, nil
	}
	return false, malformed("expected bool, got %T", v)
}

func uintValue(v any, bits int) (uint64, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	case float64:
		if x < 0 || x != math.Trunc(x) || x > 1<<53 {
			return 0, malformed("inexact integer %v", x)
		}
		s = strconv.FormatUint(uint64(x), 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case int:
		if x < 0 {
			return 0, malformed("negative integer %d", x)
		}
		s = strconv.Itoa(x)
	default:
		return 0, malformed("expected u%d, got %T", bits, v)
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, malformed("invalid u%d %q", bits, s)
	}
	return n, nil
}

func bigValue(v any, bits int) (*uint256.Int, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	case uint64:
		return uint256.NewInt(x), nil
	case float64:
		n, err := uintValue(x, 64)
		if err != nil {
			return nil, err
		}
		return uint256.NewInt(n), nil
	default:
		return nil, malformed("expected u%d, got %T", bits, v)
	}
	n, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, malformed("invalid u%d %q", bits, s)
	}
	if n.BitLen() > bits {
		return nil, malformed("value %s overflows u%d", s, bits)
	}
	return n, nil
}

// byteString decodes a vector<u8> exported as 0x-hex or standard base64.
func byteString(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, malformed("invalid hex bytes %q", s)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, malformed("invalid base64 bytes %q", s)
	}
	return b, nil
}
