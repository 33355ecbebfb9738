package filter

import (
	"fmt"
)

// CompoundOp combines the results of child filters.
type CompoundOp string

const (
	And CompoundOp = "AND"
	Or  CompoundOp = "OR"
)

// CompoundFilter combines multiple filters with AND or OR.
type CompoundFilter struct {
	Op      CompoundOp
	Filters []Filter
}

// NewAnd combines filters with AND semantics, dropping nils. Zero remaining filters collapse to
// nil (pass-all), a single filter is returned directly.
func NewAnd(filters ...Filter) Filter {
	return newCompound(And, filters)
}

// NewOr combines filters with OR semantics, dropping nils.
func NewOr(filters ...Filter) Filter {
	return newCompound(Or, filters)
}

func newCompound(op CompoundOp, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &CompoundFilter{Op: op, Filters: kept}
}

// TestFn compiles every child once and combines the predicates.
func (f *CompoundFilter) TestFn(flds Fields) TestFn {
	tests := make([]TestFn, len(f.Filters))
	for i, child := range f.Filters {
		tests[i] = child.TestFn(flds)
	}
	if f.Op == Or {
		return func(r Record) bool {
			for _, test := range tests {
				if test(r) {
					return true
				}
			}
			return false
		}
	}
	return func(r Record) bool {
		for _, test := range tests {
			if !test(r) {
				return false
			}
		}
		return true
	}
}

// Equals compares by operator and order-insensitive child equality.
func (f *CompoundFilter) Equals(other Filter) bool {
	o, ok := other.(*CompoundFilter)
	if !ok || f.Op != o.Op || len(f.Filters) != len(o.Filters) {
		return false
	}
	matched := make([]bool, len(o.Filters))
outer:
	for _, mine := range f.Filters {
		for i, theirs := range o.Filters {
			if !matched[i] && mine.Equals(theirs) {
				matched[i] = true
				continue outer
			}
		}
		return false
	}
	return true
}

func (f *CompoundFilter) String() string {
	return fmt.Sprintf("%s(%d filters)", f.Op, len(f.Filters))
}

// Flatten recursively collects all non-compound filters nested under f.
func Flatten(f Filter) []Filter {
	if f == nil {
		return nil
	}
	c, ok := f.(*CompoundFilter)
	if !ok {
		return []Filter{f}
	}
	var ret []Filter
	for _, child := range c.Filters {
		ret = append(ret, Flatten(child)...)
	}
	return ret
}
