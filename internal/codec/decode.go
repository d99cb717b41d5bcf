package codec

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// Decode is the inverse of Convert. It renders binary payloads in the
// canonical export shape: integers of 64 bits and wider as decimal strings,
// addresses as full 0x hex, vector<u8> as 0x hex.
func (c *Converter) Decode(typeName string, b []byte) (any, error) {
	tag, err := ParseTypeTag(typeName)
	if err != nil {
		return nil, &UnknownTypeError{Type: typeName}
	}
	return c.DecodeTag(tag, b)
}

// DecodeTag decodes b as tag and requires every byte to be consumed.
func (c *Converter) DecodeTag(tag TypeTag, b []byte) (any, error) {
	r := NewReader(b)
	v, err := c.decode(r, tag)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, malformed("%d trailing bytes after %s", r.Remaining(), tag)
	}
	return v, nil
}

func (c *Converter) decode(r *Reader, t TypeTag) (any, error) {
	switch t.Kind {
	case KindBool:
		return r.ReadBool()
	case KindU8:
		n, err := r.ReadU8()
		return json.Number(strconv.FormatUint(uint64(n), 10)), err
	case KindU16:
		n, err := r.ReadU16()
		return json.Number(strconv.FormatUint(uint64(n), 10)), err
	case KindU32:
		n, err := r.ReadU32()
		return json.Number(strconv.FormatUint(uint64(n), 10)), err
	case KindU64:
		n, err := r.ReadU64()
		return strconv.FormatUint(n, 10), err
	case KindU128:
		n, err := r.ReadU128()
		if err != nil {
			return nil, err
		}
		return n.Dec(), nil
	case KindU256:
		n, err := r.ReadU256()
		if err != nil {
			return nil, err
		}
		return n.Dec(), nil
	case KindAddress, KindSigner:
		a, err := r.ReadAddress()
		return a.String(), err
	case KindVector:
		return c.decodeVector(r, *t.Elem)
	case KindStruct:
		return c.decodeStruct(r, t)
	}
	return nil, malformed("unresolved type parameter %s", t)
}

func (c *Converter) decodeVector(r *Reader, elem TypeTag) (any, error) {
	if elem.Kind == KindU8 {
		b, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		return "0x" + hex.EncodeToString(b), nil
	}
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := c.decode(r, elem)
		if err != nil {
			return nil, withPath("["+strconv.Itoa(i)+"]", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Converter) decodeStruct(r *Reader, t TypeTag) (any, error) {
	switch wrapperOf(t) {
	case wrapUID:
		a, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": a.String()}, nil
	case wrapID:
		a, err := r.ReadAddress()
		return a.String(), err
	case wrapBalance:
		n, err := r.ReadU64()
		return strconv.FormatUint(n, 10), err
	case wrapOption:
		n, err := r.ReadLen()
		if err != nil {
			return nil, err
		}
		switch n {
		case 0:
			return nil, nil
		case 1:
			return c.decode(r, param(t, 0))
		}
		return nil, malformed("option with %d elements", n)
	case wrapVecSet:
		v, err := c.decodeVector(r, param(t, 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"contents": v}, nil
	case wrapVecMap:
		n, err := r.ReadLen()
		if err != nil {
			return nil, err
		}
		entries := make([]any, 0, n)
		for i := 0; i < n; i++ {
			k, err := c.decode(r, param(t, 0))
			if err != nil {
				return nil, withPath("["+strconv.Itoa(i)+"].key", err)
			}
			v, err := c.decode(r, param(t, 1))
			if err != nil {
				return nil, withPath("["+strconv.Itoa(i)+"].value", err)
			}
			entries = append(entries, map[string]any{"key": k, "value": v})
		}
		return map[string]any{"contents": entries}, nil
	case wrapTable:
		a, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":   map[string]any{"id": a.String()},
			"size": strconv.FormatUint(size, 10),
		}, nil
	case wrapString:
		b, err := r.ReadBytes()
		return string(b), err
	case wrapTypeName:
		b, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": string(b)}, nil
	case wrapField:
		a, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		name, err := c.decode(r, param(t, 0))
		if err != nil {
			return nil, withPath("name", err)
		}
		value, err := c.decode(r, param(t, 1))
		if err != nil {
			return nil, withPath("value", err)
		}
		return map[string]any{
			"id":    map[string]any{"id": a.String()},
			"name":  name,
			"value": value,
		}, nil
	}

	layout, args, err := c.resolve(t)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(layout.Fields))
	for _, f := range layout.Fields {
		v, err := c.decode(r, f.Type.Substitute(args))
		if err != nil {
			return nil, withPath(f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}
