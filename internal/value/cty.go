package value

import (
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// ConvertCty converts a cty value, as produced by HCL variable files, into
// a Value. Null becomes none; unknown and capsule values are rejected.
func ConvertCty(v cty.Value, path Path) (Value, error) {
	c := converter{}
	return c.convertCty(v, path, 0)
}

func (c converter) convertCty(v cty.Value, path Path, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, reject(path, "cty.Value", "nesting exceeds maximum depth")
	}
	v, _ = v.UnmarkDeep()
	if v.IsNull() {
		return None(), nil
	}
	if !v.IsWhollyKnown() {
		return Value{}, reject(path, "cty."+v.Type().FriendlyName(), "value is unknown")
	}

	ty := v.Type()
	switch {
	case ty.Equals(cty.Bool):
		return Bool(v.True()), nil
	case ty.Equals(cty.String):
		return Str(v.AsString()), nil
	case ty.Equals(cty.Number):
		return ctyNumber(v.AsBigFloat()), nil
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		items := make([]Value, 0, v.LengthInt())
		i := 0
		for it := v.ElementIterator(); it.Next(); i++ {
			_, elem := it.Element()
			item, err := c.convertCty(elem, path.Append(Index(i)), depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindArray, arr: items}, nil
	case ty.IsMapType() || ty.IsObjectType():
		dict := make(map[string]Value, v.LengthInt())
		// ElementIterator yields map and object keys in lexical order.
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			k := key.AsString()
			item, err := c.convertCty(elem, path.Append(Key(k)), depth+1)
			if err != nil {
				return Value{}, err
			}
			dict[k] = item
		}
		return Value{kind: KindDict, dict: dict}, nil
	}

	return Value{}, reject(path, "cty."+ty.FriendlyName(), "")
}

// ctyNumber maps whole numbers that fit in int64 to Int and everything else
// to Float.
func ctyNumber(f *big.Float) Value {
	if f.IsInt() {
		if i, acc := f.Int64(); acc == big.Exact {
			return Int(i)
		}
	}
	out, _ := f.Float64()
	return Float(out)
}
