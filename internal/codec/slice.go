package codec

import (
	"fmt"
)

// SliceNode classifies a big-vector slice.
type SliceNode uint8

const (
	// SliceLeaf holds the domain records themselves.
	SliceLeaf SliceNode = iota
	// SliceInner holds u64 names of child slices.
	SliceInner
)

func (n SliceNode) String() string {
	if n == SliceInner {
		return "inner"
	}
	return "leaf"
}

// ClassifySlice inspects value.vals of an exported slice field. A string
// first element or an empty vals array marks an inner node; anything else
// is a leaf.
func ClassifySlice(v any) SliceNode {
	obj, ok := v.(map[string]any)
	if !ok {
		return SliceLeaf
	}
	value, ok := obj["value"].(map[string]any)
	if !ok {
		return SliceLeaf
	}
	vals, ok := value["vals"].([]any)
	if !ok {
		return SliceLeaf
	}
	if len(vals) == 0 {
		return SliceInner
	}
	if _, isString := vals[0].(string); isString {
		return SliceInner
	}
	return SliceLeaf
}

// IsSliceField reports whether tag is a dynamic field holding a slice of
// pkg's big vector, either in the imprecise exported form
// Field<u64, vector<E>> or already as Field<u64, big_vector::Slice<E>>.
func IsSliceField(tag TypeTag, pkg Address) bool {
	if wrapperOf(tag) != wrapField || len(tag.Params) != 2 || tag.Params[0].Kind != KindU64 {
		return false
	}
	v := tag.Params[1]
	switch v.Kind {
	case KindVector:
		return mentions(*v.Elem, pkg)
	case KindStruct:
		return v.Address == pkg && v.Is("big_vector", "Slice")
	}
	return false
}

func mentions(t TypeTag, pkg Address) bool {
	switch t.Kind {
	case KindVector:
		return mentions(*t.Elem, pkg)
	case KindStruct:
		if t.Address == pkg {
			return true
		}
		for _, p := range t.Params {
			if mentions(p, pkg) {
				return true
			}
		}
	}
	return false
}

// SliceTag returns pkg::big_vector::Slice<elem>.
func SliceTag(pkg Address, elem TypeTag) TypeTag {
	return StructTag(pkg, "big_vector", "Slice", elem)
}

// CorrectSliceType rewrites a slice field type from its content. Inner
// nodes become Field<u64, Slice<u64>>, leaves Field<u64, Slice<E>> where E
// is the exported element type. Tags outside the family are returned as is.
func CorrectSliceType(tag TypeTag, v any, pkg Address) (TypeTag, error) {
	if !IsSliceField(tag, pkg) {
		return tag, nil
	}
	declared := tag.Params[1]
	var leafElem TypeTag
	if declared.Kind == KindVector {
		leafElem = *declared.Elem
	} else {
		leafElem = param(declared, 0)
	}

	elem := leafElem
	if ClassifySlice(v) == SliceInner {
		elem = Primitive(KindU64)
	} else if leafElem.Kind == KindU64 {
		return tag, fmt.Errorf("%w: leaf content under inner type %s", ErrSliceMisclassified, tag)
	}
	out := tag
	out.Params = []TypeTag{tag.Params[0], SliceTag(pkg, elem)}
	return out, nil
}

// CorrectSliceTypeName is CorrectSliceType over type strings.
func CorrectSliceTypeName(typeName string, v any, pkg Address) (string, error) {
	tag, err := ParseTypeTag(typeName)
	if err != nil {
		return typeName, nil
	}
	corrected, err := CorrectSliceType(tag, v, pkg)
	if err != nil {
		return typeName, err
	}
	if !IsSliceField(tag, pkg) {
		return typeName, nil
	}
	return corrected.String(), nil
}
