package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/util"
)

// Op is a field filter comparison operator.
type Op string

const (
	OpEquals    Op = "="
	OpNotEquals Op = "!="
	OpGt        Op = ">"
	OpGte       Op = ">="
	OpLt        Op = "<"
	OpLte       Op = "<="
	OpLike      Op = "like"
	OpNotLike   Op = "not like"
	OpBegins    Op = "begins"
	OpEnds      Op = "ends"
	OpIncludes  Op = "includes"
	OpExcludes  Op = "excludes"
)

var operators = []Op{
	OpEquals, OpNotEquals, OpGt, OpGte, OpLt, OpLte,
	OpLike, OpNotLike, OpBegins, OpEnds, OpIncludes, OpExcludes,
}

// arrayOperators are the operators supporting multiple candidate values.
var arrayOperators = []Op{
	OpEquals, OpNotEquals, OpLike, OpNotLike, OpBegins, OpEnds, OpIncludes, OpExcludes,
}

func opIn(op Op, ops []Op) bool {
	for _, it := range ops {
		if it == op {
			return true
		}
	}
	return false
}

// FieldFilter compares the value of a given field to one or more candidate values. Note that the
// comparison operators [<,<=,>,>=] always return false for nil values, favoring the behavior of
// Excel over implicit conversion of nil to 0.
type FieldFilter struct {
	Field  string
	Op     Op
	Values []any
}

// NewFieldFilter creates a FieldFilter. Multiple values are only supported by the array
// operators; invalid operators are configuration errors.
func NewFieldFilter(fieldName string, op Op, values ...any) (*FieldFilter, error) {
	if fieldName == "" {
		return nil, fmt.Errorf("field filter requires a field")
	}
	if !opIn(op, operators) {
		return nil, fmt.Errorf("field filter operator %q not recognized", op)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("field filter requires a value")
	}
	if len(values) > 1 && !opIn(op, arrayOperators) {
		return nil, fmt.Errorf("operator %q does not support multiple values, use a compound filter", op)
	}
	return &FieldFilter{Field: fieldName, Op: op, Values: dedupValues(values)}, nil
}

// MustFieldFilter is a NewFieldFilter variant for statically known-good filters.
func MustFieldFilter(fieldName string, op Op, values ...any) *FieldFilter {
	f, err := NewFieldFilter(fieldName, op, values...)
	if err != nil {
		panic(err)
	}
	return f
}

// TestFn compiles the filter into a predicate. If the field is not known to flds the filter
// passes every record rather than filtering all of them out.
func (f *FieldFilter) TestFn(flds Fields) TestFn {
	values := f.Values
	if flds != nil {
		ft, ok := flds.FieldType(f.Field)
		if !ok {
			return func(Record) bool { return true }
		}
		if ft == field.TypeTags {
			ft = field.TypeString
		}
		parsed := make([]any, len(values))
		for i, v := range values {
			parsed[i] = field.Parse(v, ft, nil)
		}
		values = parsed
	}

	opFn := f.compileOp(values)

	if flds == nil {
		return func(r Record) bool { return opFn(r.Get(f.Field)) }
	}

	return func(r Record) bool {
		val := r.Get(f.Field)
		if opFn(val) {
			return true
		}

		// Maximize chances of matching: always pass adds ...
		if r.IsAdd() {
			return true
		}

		// ... and check any differing committed value as well.
		committed, ok := r.CommittedGet(f.Field)
		return ok && !util.DeepEqualValues(committed, val) && opFn(committed)
	}
}

// Equals compares by field, operator, and (order-insensitively) value set.
func (f *FieldFilter) Equals(other Filter) bool {
	o, ok := other.(*FieldFilter)
	if !ok {
		return false
	}
	if f.Field != o.Field || f.Op != o.Op || len(f.Values) != len(o.Values) {
		return false
	}
	return valueKeySet(f.Values) == valueKeySet(o.Values)
}

func (f *FieldFilter) String() string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Op, util.Stringify(f.Values))
}

//------------------------
// Implementation
//------------------------

func (f *FieldFilter) compileOp(values []any) func(any) bool {
	switch f.Op {
	case OpEquals:
		return func(v any) bool { return anyValueEquals(values, normalizeNil(v)) }
	case OpNotEquals:
		return func(v any) bool { return !anyValueEquals(values, normalizeNil(v)) }
	case OpGt:
		return compareFn(values[0], func(c int) bool { return c > 0 })
	case OpGte:
		return compareFn(values[0], func(c int) bool { return c >= 0 })
	case OpLt:
		return compareFn(values[0], func(c int) bool { return c < 0 })
	case OpLte:
		return compareFn(values[0], func(c int) bool { return c <= 0 })
	case OpLike:
		res := regexps(values, "", "")
		return func(v any) bool { return anyMatch(res, v) }
	case OpNotLike:
		res := regexps(values, "", "")
		return func(v any) bool { return v != nil && !anyMatch(res, v) }
	case OpBegins:
		res := regexps(values, "^", "")
		return func(v any) bool { return anyMatch(res, v) }
	case OpEnds:
		res := regexps(values, "", "$")
		return func(v any) bool { return anyMatch(res, v) }
	case OpIncludes:
		return func(v any) bool { return tagsIntersect(v, values) }
	case OpExcludes:
		return func(v any) bool { return v == nil || !tagsIntersect(v, values) }
	}
	// Operators are validated at construction.
	return func(any) bool { return false }
}

// normalizeNil folds empty strings and empty slices into nil for equality tests.
func normalizeNil(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
	case []any:
		if len(val) == 0 {
			return nil
		}
	case []string:
		if len(val) == 0 {
			return nil
		}
	}
	return v
}

func anyValueEquals(values []any, v any) bool {
	for _, it := range values {
		if util.DeepEqualValues(normalizeNil(it), v) {
			return true
		}
	}
	return false
}

func compareFn(bound any, pass func(int) bool) func(any) bool {
	return func(v any) bool {
		if v == nil {
			return false
		}
		c, ok := compareValues(v, bound)
		return ok && pass(c)
	}
}

// compareValues orders two scalars: numerically when both coerce to numbers, lexically when both
// are strings.
func compareValues(a, b any) (int, bool) {
	af, aok := field.Parse(a, field.TypeNumber, nil).(float64)
	bf, bok := field.Parse(b, field.TypeNumber, nil).(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func regexps(values []any, prefix, suffix string) []*regexp.Regexp {
	ret := make([]*regexp.Regexp, 0, len(values))
	for _, v := range values {
		s, _ := field.Parse(v, field.TypeString, nil).(string)
		ret = append(ret, regexp.MustCompile("(?i)"+prefix+regexp.QuoteMeta(s)+suffix))
	}
	return ret
}

func anyMatch(res []*regexp.Regexp, v any) bool {
	if v == nil {
		return false
	}
	s, ok := field.Parse(v, field.TypeString, nil).(string)
	if !ok {
		return false
	}
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func tagsIntersect(v any, values []any) bool {
	var tags []string
	switch val := v.(type) {
	case []string:
		tags = val
	case []any:
		for _, it := range val {
			if s, ok := field.Parse(it, field.TypeString, nil).(string); ok {
				tags = append(tags, s)
			}
		}
	case nil:
		return false
	default:
		if s, ok := field.Parse(v, field.TypeString, nil).(string); ok {
			tags = []string{s}
		}
	}
	for _, tag := range tags {
		for _, want := range values {
			if util.DeepEqualValues(tag, want) {
				return true
			}
		}
	}
	return false
}

func dedupValues(values []any) []any {
	seen := map[string]bool{}
	ret := make([]any, 0, len(values))
	for _, v := range values {
		key, err := util.CanonicalKey(v)
		if err != nil {
			ret = append(ret, v)
			continue
		}
		if !seen[key] {
			seen[key] = true
			ret = append(ret, v)
		}
	}
	return ret
}

func valueKeySet(values []any) string {
	keys := make([]string, 0, len(values))
	for _, v := range values {
		key, err := util.CanonicalKey(v)
		if err != nil {
			key = fmt.Sprintf("%#v", v)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x1f")
}
