package codec_test

import (
	"DeepReplay/internal/codec"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const deepbook = "0x2c8d603bc51326b8c13cef9dd07031a408a48dddb541963357661df5d3204809"

const orderType = deepbook + "::order::Order"

const orderJSON = `{
	"balance_manager_id": "0x00000000000000000000000000000000000000000000000000000000000000aa",
	"order_id": "12345678901234567890123",
	"client_order_id": "7",
	"quantity": "1000000000",
	"filled_quantity": "250000000",
	"fee_is_deep": true,
	"order_deep_price": {"asset_is_base": false, "deep_per_asset": "100"},
	"epoch": "42",
	"status": 1,
	"expire_timestamp": "18446744073709551615"
}`

// same fields, different key order
const orderJSONPermuted = `{
	"expire_timestamp": "18446744073709551615",
	"status": 1,
	"order_deep_price": {"deep_per_asset": "100", "asset_is_base": false},
	"epoch": "42",
	"fee_is_deep": true,
	"filled_quantity": "250000000",
	"quantity": "1000000000",
	"client_order_id": "7",
	"order_id": "12345678901234567890123",
	"balance_manager_id": "0xaa"
}`

func newConverter(t *testing.T) *codec.Converter {
	t.Helper()
	return codec.NewConverter(codec.DefaultOracle(), zerolog.Nop())
}

func mustJSON(t *testing.T, s string) any {
	t.Helper()
	v, err := codec.DecodeJSON([]byte(s))
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return v
}

// ===== Test: BCS primitives =====

func TestWriter_ULEB128(t *testing.T) {
	cases := map[int][]byte{
		0:     {0x00},
		127:   {0x7f},
		128:   {0x80, 0x01},
		300:   {0xac, 0x02},
		16384: {0x80, 0x80, 0x01},
	}
	for n, want := range cases {
		w := codec.NewWriter()
		w.WriteLen(n)
		if !bytes.Equal(w.Bytes(), want) {
			t.Errorf("WriteLen(%d): got %x, want %x", n, w.Bytes(), want)
		}
		got, err := codec.NewReader(w.Bytes()).ReadLen()
		if err != nil || got != n {
			t.Errorf("ReadLen(%x): got %d, %v", want, got, err)
		}
	}
}

func TestReader_ShortBuffer(t *testing.T) {
	_, err := codec.NewReader([]byte{1, 2, 3}).ReadU64()
	if !errors.Is(err, codec.ErrShortBuffer) {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
}

func TestU128_LittleEndian(t *testing.T) {
	w := codec.NewWriter()
	w.WriteU128(uint256.NewInt(0x0102))
	want := make([]byte, 16)
	want[0], want[1] = 0x02, 0x01
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %x, want %x", w.Bytes(), want)
	}
	hi, lo, err := codec.NewReader(w.Bytes()).ReadU128Parts()
	if err != nil || hi != 0 || lo != 0x0102 {
		t.Errorf("parts: got %d %d %v", hi, lo, err)
	}
}

// ===== Test: type tags =====

func TestParseTypeTag_Normalizes(t *testing.T) {
	tag, err := codec.ParseTypeTag("0x2::coin::Coin<0x2::sui::SUI>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	two := strings.Repeat("0", 63) + "2"
	want := "0x" + two + "::coin::Coin<0x" + two + "::sui::SUI>"
	if tag.String() != want {
		t.Errorf("got %s, want %s", tag.String(), want)
	}
	if !tag.Is("coin", "Coin") || len(tag.Params) != 1 {
		t.Errorf("unexpected tag shape: %+v", tag)
	}
}

func TestParseTypeTag_Nested(t *testing.T) {
	s := "0x2::dynamic_field::Field<u64, vector<" + orderType + ">>"
	tag, err := codec.ParseTypeTag(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tag.Params[0].Kind != codec.KindU64 {
		t.Errorf("key kind: got %v, want u64", tag.Params[0].Kind)
	}
	if tag.Params[1].Kind != codec.KindVector || !tag.Params[1].Elem.Is("order", "Order") {
		t.Errorf("value: got %s", tag.Params[1])
	}
	again, err := codec.ParseTypeTag(tag.String())
	if err != nil || !again.Equal(tag) {
		t.Errorf("re-parse of %s failed: %v", tag, err)
	}
}

func TestParseTypeTag_Rejects(t *testing.T) {
	for _, s := range []string{"", "vector<u64", "0x2::coin", "u64 u64", "Foo"} {
		if _, err := codec.ParseTypeTag(s); err == nil {
			t.Errorf("ParseTypeTag(%q): expected error", s)
		}
	}
}

// ===== Test: conversion =====

func TestConvert_OrderRoundTrip(t *testing.T) {
	c := newConverter(t)
	b, err := c.Convert(orderType, []byte(orderJSON))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// id 32 + u128 16 + 3*u64 + bool + (bool + u64) + u64 + u8 + u64
	if len(b) != 99 {
		t.Errorf("encoded length: got %d, want 99", len(b))
	}

	decoded, err := c.Decode(orderType, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := decoded.(map[string]any)
	if m["order_id"] != "12345678901234567890123" {
		t.Errorf("order_id: got %v", m["order_id"])
	}
	if m["filled_quantity"] != "250000000" {
		t.Errorf("filled_quantity: got %v", m["filled_quantity"])
	}
	if m["expire_timestamp"] != "18446744073709551615" {
		t.Errorf("expire_timestamp: got %v", m["expire_timestamp"])
	}
	if fmt.Sprint(m["status"]) != "1" {
		t.Errorf("status: got %v", m["status"])
	}
	if m["balance_manager_id"] != "0x"+strings.Repeat("0", 62)+"aa" {
		t.Errorf("balance_manager_id: got %v", m["balance_manager_id"])
	}
	dp := m["order_deep_price"].(map[string]any)
	if dp["asset_is_base"] != false || dp["deep_per_asset"] != "100" {
		t.Errorf("order_deep_price: got %v", dp)
	}

	again, err := c.ConvertValue(orderType, decoded)
	if err != nil {
		t.Fatalf("re-convert: %v", err)
	}
	if !bytes.Equal(again, b) {
		t.Errorf("decode/convert not idempotent:\n got %x\nwant %x", again, b)
	}
}

func TestConvert_FieldOrderInvariant(t *testing.T) {
	c := newConverter(t)
	a, err := c.Convert(orderType, []byte(orderJSON))
	if err != nil {
		t.Fatalf("convert a: %v", err)
	}
	b, err := c.Convert(orderType, []byte(orderJSONPermuted))
	if err != nil {
		t.Fatalf("convert b: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("permuted keys changed encoding:\n a %x\n b %x", a, b)
	}
}

const kitLayouts = `
aliases:
  kit: "0xabc"
structs:
  - type: "@kit::kit::Everything"
    type_params: 1
    fields:
      - {name: flag, type: bool}
      - {name: small, type: u16}
      - {name: big, type: u256}
      - {name: blob, type: "vector<u8>"}
      - {name: maybe, type: "0x1::option::Option<u64>"}
      - {name: nothing, type: "0x1::option::Option<u64>"}
      - {name: label, type: "0x1::string::String"}
      - {name: kind, type: "0x1::type_name::TypeName"}
      - {name: set, type: "0x2::vec_set::VecSet<address>"}
      - {name: map, type: "0x2::vec_map::VecMap<u64, T0>"}
      - {name: table, type: "0x2::table::Table<u64, u64>"}
      - {name: funds, type: "0x2::balance::Balance<T0>"}
`

func kitConverter(t *testing.T) *codec.Converter {
	t.Helper()
	o := codec.NewStaticOracle()
	if err := o.LoadLayouts(strings.NewReader(kitLayouts)); err != nil {
		t.Fatalf("load layouts: %v", err)
	}
	return codec.NewConverter(o, zerolog.Nop())
}

const kitType = "0xabc::kit::Everything<u64>"

func kitJSON(blob string) string {
	return `{
		"flag": true,
		"small": 513,
		"big": "340282366920938463463374607431768211456",
		"blob": "` + blob + `",
		"maybe": "7",
		"nothing": null,
		"label": "hi",
		"kind": {"name": "0x2::sui::SUI"},
		"set": {"contents": ["0x1", "0x2"]},
		"map": {"contents": [{"key": "1", "value": "10"}]},
		"table": {"id": {"id": "0x5"}, "size": "3"},
		"funds": {"value": "42"}
	}`
}

func TestConvert_WrappersRoundTrip(t *testing.T) {
	c := kitConverter(t)
	b, err := c.Convert(kitType, []byte(kitJSON("0x0102ff")))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	decoded, err := c.Decode(kitType, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := decoded.(map[string]any)

	if m["blob"] != "0x0102ff" {
		t.Errorf("blob: got %v", m["blob"])
	}
	if m["big"] != "340282366920938463463374607431768211456" {
		t.Errorf("big: got %v", m["big"])
	}
	if m["maybe"] != "7" || m["nothing"] != nil {
		t.Errorf("options: got %v / %v", m["maybe"], m["nothing"])
	}
	if m["label"] != "hi" {
		t.Errorf("label: got %v", m["label"])
	}
	if m["funds"] != "42" {
		t.Errorf("funds: got %v", m["funds"])
	}
	table := m["table"].(map[string]any)
	if table["size"] != "3" {
		t.Errorf("table size: got %v", table["size"])
	}
	entries := m["map"].(map[string]any)["contents"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["value"] != "10" {
		t.Errorf("map: got %v", entries)
	}

	again, err := c.ConvertValue(kitType, decoded)
	if err != nil {
		t.Fatalf("re-convert: %v", err)
	}
	if !bytes.Equal(again, b) {
		t.Errorf("round trip changed bytes")
	}
}

func TestConvert_ByteVectorBase64(t *testing.T) {
	c := kitConverter(t)
	hexForm, err := c.Convert(kitType, []byte(kitJSON("0x0102ff")))
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	b64Form, err := c.Convert(kitType, []byte(kitJSON("AQL/")))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	if !bytes.Equal(hexForm, b64Form) {
		t.Errorf("hex and base64 encodings differ")
	}
}

func TestConvert_UnknownType(t *testing.T) {
	c := newConverter(t)
	_, err := c.Convert("0x99::nope::Nope", []byte(`{}`))
	if !errors.Is(err, codec.ErrUnknownType) {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
	var ute *codec.UnknownTypeError
	if !errors.As(err, &ute) {
		t.Errorf("expected *UnknownTypeError, got %T", err)
	}
}

func TestConvert_MissingFieldPath(t *testing.T) {
	c := newConverter(t)
	var m map[string]any
	if err := json.Unmarshal([]byte(orderJSON), &m); err != nil {
		t.Fatal(err)
	}
	m["order_deep_price"] = map[string]any{"asset_is_base": true}

	_, err := c.ConvertValue(orderType, m)
	if !errors.Is(err, codec.ErrMalformedField) {
		t.Fatalf("got %v, want ErrMalformedField", err)
	}
	var fe *codec.FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FieldError, got %T", err)
	}
	if fe.Path != "order_deep_price.deep_per_asset" {
		t.Errorf("path: got %s", fe.Path)
	}
}

func TestConvert_Overflow(t *testing.T) {
	c := kitConverter(t)
	s := strings.Replace(kitJSON("0x00"), `"small": 513`, `"small": 70000`, 1)
	if _, err := c.Convert(kitType, []byte(s)); !errors.Is(err, codec.ErrMalformedField) {
		t.Errorf("u16 overflow: got %v", err)
	}
}

// ===== Test: big-vector slice disambiguation =====

const exportedSliceType = "0x2::dynamic_field::Field<u64, vector<" + orderType + ">>"

func innerSliceJSON() string {
	return `{"id": {"id": "0x11"}, "name": "3",
		"value": {"prev": "0", "next": "0", "keys": ["5", "9"], "vals": ["1", "2"]}}`
}

func leafSliceJSON(order string) string {
	return `{"id": {"id": "0x12"}, "name": "1",
		"value": {"prev": "0", "next": "0", "keys": ["12345678901234567890123"], "vals": [` + order + `]}}`
}

func TestClassifySlice(t *testing.T) {
	cases := []struct {
		name string
		json string
		want codec.SliceNode
	}{
		{"string first element", innerSliceJSON(), codec.SliceInner},
		{"object first element", leafSliceJSON(orderJSON), codec.SliceLeaf},
		{"empty vals", `{"value": {"vals": []}}`, codec.SliceInner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := codec.ClassifySlice(mustJSON(t, tc.json)); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCorrectSliceType(t *testing.T) {
	pkg := codec.DeepBookPackage

	inner, err := codec.CorrectSliceTypeName(exportedSliceType, mustJSON(t, innerSliceJSON()), pkg)
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	want := "0x" + strings.Repeat("0", 63) + "2::dynamic_field::Field<u64, " + deepbook + "::big_vector::Slice<u64>>"
	if inner != want {
		t.Errorf("inner: got %s, want %s", inner, want)
	}

	leaf, err := codec.CorrectSliceTypeName(exportedSliceType, mustJSON(t, leafSliceJSON(orderJSON)), pkg)
	if err != nil {
		t.Fatalf("leaf: %v", err)
	}
	if !strings.HasSuffix(leaf, "::big_vector::Slice<"+orderType+">>") {
		t.Errorf("leaf: got %s", leaf)
	}

	other := "0x2::dynamic_field::Field<u64, vector<u64>>"
	unchanged, err := codec.CorrectSliceTypeName(other, mustJSON(t, innerSliceJSON()), pkg)
	if err != nil || unchanged != other {
		t.Errorf("non-family type rewritten: %s, %v", unchanged, err)
	}
}

func TestConvert_InnerSlice(t *testing.T) {
	c := newConverter(t)
	b, err := c.Convert(exportedSliceType, []byte(innerSliceJSON()))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// uid 32 + name 8 + prev/next 16 + keys (1 + 2*16) + vals (1 + 2*8)
	if len(b) != 106 {
		t.Errorf("length: got %d, want 106", len(b))
	}
	corrected, _ := codec.CorrectSliceTypeName(exportedSliceType, mustJSON(t, innerSliceJSON()), codec.DeepBookPackage)
	decoded, err := c.Decode(corrected, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	vals := decoded.(map[string]any)["value"].(map[string]any)["vals"].([]any)
	if len(vals) != 2 || vals[0] != "1" || vals[1] != "2" {
		t.Errorf("vals: got %v", vals)
	}
}

func TestConvert_LeafSlice(t *testing.T) {
	c := newConverter(t)
	b, err := c.Convert(exportedSliceType, []byte(leafSliceJSON(orderJSON)))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// uid 32 + name 8 + prev/next 16 + keys (1 + 16) + vals (1 + 99)
	if len(b) != 173 {
		t.Errorf("length: got %d, want 173", len(b))
	}
}

// ===== Test: failure policy =====

func TestConvertOrPlaceholder_NonCriticalFallsBack(t *testing.T) {
	c := newConverter(t)
	v := mustJSON(t, `{"id": {"id": "0x77"}, "whatever": 1}`)
	b, placeholder, err := c.ConvertOrPlaceholder("0x77", "0x99::unknown::Thing", v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !placeholder {
		t.Error("expected placeholder flag")
	}
	want := codec.MustParseAddress("0x77")
	if !bytes.Equal(b, want[:]) {
		t.Errorf("placeholder: got %x, want %x", b, want[:])
	}
}

func TestConvertOrPlaceholder_SliceIsFatal(t *testing.T) {
	c := newConverter(t)
	broken := leafSliceJSON(`{"order_id": "1"}`)
	_, _, err := c.ConvertOrPlaceholder("0x12", exportedSliceType, mustJSON(t, broken))
	if !errors.Is(err, codec.ErrSliceMisclassified) {
		t.Fatalf("got %v, want ErrSliceMisclassified", err)
	}
}

func TestDefaultOracle_Loaded(t *testing.T) {
	o := codec.DefaultOracle()
	if o.Len() < 20 {
		t.Errorf("layouts: got %d, want at least 20", o.Len())
	}
	l, args, err := o.Resolve(deepbook + "::big_vector::Slice<u64>")
	if err != nil {
		t.Fatalf("resolve slice: %v", err)
	}
	if len(args) != 1 || len(l.Fields) != 4 || l.Fields[2].Name != "keys" {
		t.Errorf("slice layout: %+v", l)
	}
	if _, _, err := o.Resolve(deepbook + "::big_vector::Slice"); !errors.Is(err, codec.ErrMalformedField) {
		t.Errorf("missing type arg: got %v", err)
	}
}
