package config

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ctyToNative recursively converts a cty.Value to its natural Go
// counterpart, the shape the engine and providers work with.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		// Preserve integers where possible; JSON round-trips them the same.
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0)
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported value type: %s", ty.FriendlyName())
	}
}

// stringList converts a cty list/tuple of strings to a Go slice.
func stringList(v cty.Value) ([]string, error) {
	native, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	items, ok := native.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %T", native)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
