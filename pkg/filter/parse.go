package filter

import (
	"fmt"
	"strings"
)

// Parse normalizes a filter specification into a Filter:
//   - nil stays nil, the pass-all filter;
//   - an existing Filter is returned as is;
//   - a bare func(Record) bool becomes a FunctionFilter with the default key;
//   - a slice becomes an AND compound of its parsed elements;
//   - a map becomes the concrete filter its properties identify: "field"/"op"/"value" a
//     FieldFilter (op defaults to "="), "key"/"testFn" a FunctionFilter, "filters"/"op" a
//     CompoundFilter (op defaults to AND).
//
// Compounds collapse like NewAnd: zero children to nil, a single child to itself.
func Parse(spec any) (Filter, error) {
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case Filter:
		return s, nil
	case func(Record) bool:
		return NewFunctionFilter("", s), nil
	case []Filter:
		specs := make([]any, len(s))
		for i, it := range s {
			specs[i] = it
		}
		return parseCompound(And, specs)
	case []any:
		return parseCompound(And, s)
	case map[string]any:
		return parseMap(s)
	}
	return nil, fmt.Errorf("cannot parse a filter from %T", spec)
}

// MustParse is a Parse variant for statically known-good specs.
func MustParse(spec any) Filter {
	f, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return f
}

func parseMap(s map[string]any) (Filter, error) {
	if fieldName, ok := s["field"].(string); ok {
		op := OpEquals
		if o, ok := s["op"].(string); ok {
			op = Op(o)
		}
		return NewFieldFilter(fieldName, op, asValueList(s["value"])...)
	}

	if key, ok := s["key"].(string); ok {
		fn, ok := s["testFn"].(func(Record) bool)
		if !ok {
			return nil, fmt.Errorf("function filter spec %q requires a testFn", key)
		}
		return NewFunctionFilter(key, fn), nil
	}

	if raw, ok := s["filters"]; ok {
		op := And
		if o, ok := s["op"].(string); ok {
			op = CompoundOp(strings.ToUpper(o))
		}
		if op != And && op != Or {
			return nil, fmt.Errorf("compound filter operator %q not recognized", op)
		}
		specs, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("compound filter spec requires a filter list, got %T", raw)
		}
		return parseCompound(op, specs)
	}

	return nil, fmt.Errorf("cannot identify the filter type of spec %v", s)
}

func parseCompound(op CompoundOp, specs []any) (Filter, error) {
	filters := make([]Filter, 0, len(specs))
	for _, spec := range specs {
		f, err := Parse(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return newCompound(op, filters), nil
}

// asValueList spreads a slice-valued filter spec value into candidate values.
func asValueList(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		ret := make([]any, len(val))
		for i, s := range val {
			ret[i] = s
		}
		return ret
	}
	return []any{v}
}
