// Package filter implements composable record predicates: field-comparison filters, ad-hoc
// function filters, and AND/OR compounds. Filters are immutable and value-comparable so that
// queries can classify filter changes cheaply.
package filter

import (
	"github.com/l7mp/dcube/pkg/field"
)

// Record is the view of a store record a filter tests. Filters favor visibility: locally edited
// records pass if either their current or their committed value matches, and uncommitted adds
// always pass.
type Record interface {
	// Get returns the record's current value for the named field.
	Get(name string) any
	// CommittedGet returns the committed value for the named field; ok is false if the record
	// has no committed data.
	CommittedGet(name string) (any, bool)
	// IsAdd reports whether the record has never been committed.
	IsAdd() bool
}

// Fields resolves field types for value parsing when compiling a filter against a store.
type Fields interface {
	FieldType(name string) (field.Type, bool)
}

// TestFn is a compiled filter predicate.
type TestFn func(Record) bool

// Filter is an immutable predicate over records.
type Filter interface {
	// TestFn compiles the filter into a predicate closure. A nil Fields compiles against
	// untyped values.
	TestFn(flds Fields) TestFn
	// Equals compares two filters by value.
	Equals(other Filter) bool
}

// Equal is a nil-safe filter comparison.
func Equal(a, b Filter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// Test is a nil-safe filter application; a nil filter passes every record.
func Test(f Filter, flds Fields, r Record) bool {
	if f == nil {
		return true
	}
	return f.TestFn(flds)(r)
}
