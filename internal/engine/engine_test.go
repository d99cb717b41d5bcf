package engine_test

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"bytes"
	"testing"
)

var parent = codec.MustParseAddress("0x50997b5f1f6401674d3d881a61e09a71776ee19cd8b83114a0a21b3a82f130b5")

// ===== Test: child identity derivation =====

func TestDeriveChildID_Deterministic(t *testing.T) {
	u64 := codec.Primitive(codec.KindU64)
	a, err := engine.DeriveChildID(parent, u64, engine.U64Key(7))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := engine.DeriveChildID(parent, u64, engine.U64Key(7))
	if a != b {
		t.Errorf("same inputs gave %s and %s", a, b)
	}
	if a.IsZero() {
		t.Error("derived id is zero")
	}
}

func TestDeriveChildID_SensitiveToInputs(t *testing.T) {
	u64 := codec.Primitive(codec.KindU64)
	base, _ := engine.DeriveChildID(parent, u64, engine.U64Key(7))

	otherKey, _ := engine.DeriveChildID(parent, u64, engine.U64Key(8))
	if otherKey == base {
		t.Error("different key produced the same id")
	}

	w := codec.NewWriter()
	w.WriteU64(7)
	// same bytes, different key type
	otherType, _ := engine.DeriveChildID(parent, codec.Primitive(codec.KindU128), append(w.Bytes(), make([]byte, 8)...))
	if otherType == base {
		t.Error("different key type produced the same id")
	}
	sameBytesOtherType, _ := engine.DeriveChildID(parent, codec.Primitive(codec.KindAddress), engine.U64Key(7))
	if sameBytesOtherType == base {
		t.Error("key type is not part of the derivation")
	}

	otherParent, _ := engine.DeriveChildID(codec.MustParseAddress("0x1"), u64, engine.U64Key(7))
	if otherParent == base {
		t.Error("different parent produced the same id")
	}
}

func TestDeriveChildID_RejectsUnresolvedType(t *testing.T) {
	if _, err := engine.DeriveChildID(parent, codec.TypeTag{Kind: codec.KindParam}, nil); err == nil {
		t.Error("expected error for generic parameter key type")
	}
}

func TestNewChildField_Layout(t *testing.T) {
	u64 := codec.Primitive(codec.KindU64)
	value := []byte{1, 2, 3}
	f, err := engine.NewChildField(parent, u64, engine.U64Key(42), codec.Primitive(codec.KindU8), value)
	if err != nil {
		t.Fatalf("new child: %v", err)
	}
	if !bytes.Equal(f.Contents[:32], f.ID[:]) {
		t.Error("contents must start with the child id")
	}
	if !bytes.Equal(f.Contents[40:], value) {
		t.Errorf("value: got %x", f.Contents[40:])
	}
	key, err := f.KeyU64()
	if err != nil || key != 42 {
		t.Errorf("KeyU64: got %d, %v", key, err)
	}
	if f.Parent != parent {
		t.Errorf("parent: got %s", f.Parent)
	}
}

// ===== Test: program builder =====

func TestBuilder_ObjectDedup(t *testing.T) {
	b := engine.NewBuilder(codec.Address{})
	pool := codec.MustParseAddress("0xe05dafb5133bcffb8d59f4e12465dc0e9faeaa05e3e342a08fe135800e3e4407")

	first := b.Object(pool, false)
	amt := b.PureU64(10)
	second := b.Object(pool, true)

	if first != second {
		t.Errorf("object not de-duplicated: %+v vs %+v", first, second)
	}
	p := b.Program()
	if len(p.Inputs) != 2 {
		t.Fatalf("inputs: got %d, want 2", len(p.Inputs))
	}
	if !p.Inputs[first.Index].Object.Mutable {
		t.Error("mutable request should upgrade the reference")
	}
	if !bytes.Equal(p.Inputs[amt.Index].Pure, engine.U64Key(10)) {
		t.Errorf("pure u64: got %x", p.Inputs[amt.Index].Pure)
	}
}

func TestBuilder_ResultsAndDescribe(t *testing.T) {
	b := engine.NewBuilder(codec.Address{})
	coin := b.Object(codec.MustParseAddress("0x99"), true)
	split := b.SplitCoins(coin, b.PureU64(5))
	call := b.MoveCall(codec.DeepBookPackage, "pool", "mid_price", []string{"0x2::sui::SUI"}, engine.Nested(split, 0))

	if split.Kind != engine.ArgResult || split.Index != 0 || call.Index != 1 {
		t.Errorf("result indices: split %+v call %+v", split, call)
	}
	lines := b.Program().Describe()
	if len(lines) != 2 || lines[0] != "SplitCoins(2 args)" {
		t.Errorf("describe: %v", lines)
	}
	want := codec.DeepBookPackage.String() + "::pool::mid_price<0x2::sui::SUI>"
	if lines[1] != want {
		t.Errorf("describe call: got %s, want %s", lines[1], want)
	}
}

func TestCoinValue(t *testing.T) {
	id := codec.MustParseAddress("0xc0")
	v, err := engine.CoinValue(engine.CoinBytes(id, 123456))
	if err != nil || v != 123456 {
		t.Errorf("got %d, %v", v, err)
	}
	if _, err := engine.CoinValue([]byte{1}); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestResult_ReturnU64(t *testing.T) {
	r := &engine.Result{Success: true, Returns: [][][]byte{{engine.U64Key(9), {1}}}}
	if v, err := r.ReturnU64(0, 0); err != nil || v != 9 {
		t.Errorf("got %d, %v", v, err)
	}
	if _, err := r.ReturnU64(0, 1); err == nil {
		t.Error("expected error for short value")
	}
	if _, err := r.ReturnU64(1, 0); err == nil {
		t.Error("expected error for missing command")
	}
}
