package cube

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/filter"
	"github.com/l7mp/dcube/pkg/util"
)

// QueryConfig describes a Query against a cube.
type QueryConfig struct {
	// Fields to include in the results by name; nil includes every cube field.
	Fields []string

	// Dimensions to group by, ordered from the top of the hierarchy down. Each must name a
	// dimension field included in Fields.
	Dimensions []string

	// Filter restricts the leaf records feeding the aggregation.
	Filter filter.Filter

	// IncludeRoot wraps the results in a synthetic grand-total root row.
	IncludeRoot bool

	// IncludeLeaves exposes leaf rows in the visible results.
	IncludeLeaves bool

	// OmitRedundantNodes collapses single-child rows whose child repeats the parent's grouping
	// value via a declared parent-dimension relationship.
	OmitRedundantNodes bool

	// LockFn, BucketSpecFn and OmitFn override the cube-level defaults for this query.
	LockFn       LockFn
	BucketSpecFn BucketSpecFn
	OmitFn       OmitFn
}

// Query is an immutable, value-comparable specification of a read against a cube: which fields,
// which dimensions in which grouping order, a filter, and the structural shaping options.
type Query struct {
	cube *Cube
	cfg  QueryConfig

	fields     []*field.CubeField
	dimensions []*field.CubeField
	fieldMap   map[string]*field.CubeField

	lockFn       LockFn
	bucketSpecFn BucketSpecFn
	omitFn       OmitFn

	testFn filter.TestFn
}

func newQuery(c *Cube, cfg QueryConfig) (*Query, error) {
	q := &Query{
		cube:         c,
		cfg:          cfg,
		fieldMap:     map[string]*field.CubeField{},
		lockFn:       cfg.LockFn,
		bucketSpecFn: cfg.BucketSpecFn,
		omitFn:       cfg.OmitFn,
	}

	if cfg.Fields == nil {
		q.fields = c.fields
	} else {
		for _, name := range cfg.Fields {
			f := c.fieldMap[name]
			if f == nil {
				return nil, fmt.Errorf("unknown field %q in query", name)
			}
			q.fields = append(q.fields, f)
		}
	}
	for _, f := range q.fields {
		q.fieldMap[f.Name] = f
	}

	for _, name := range cfg.Dimensions {
		f := q.fieldMap[name]
		if f == nil {
			return nil, fmt.Errorf("dimension %q is not a field of the query", name)
		}
		if !f.IsDimension {
			return nil, fmt.Errorf("field %q is not a dimension", name)
		}
		q.dimensions = append(q.dimensions, f)
	}

	if q.lockFn == nil {
		q.lockFn = c.lockFn
	}
	if q.bucketSpecFn == nil {
		q.bucketSpecFn = c.bucketSpecFn
	}
	if q.omitFn == nil {
		q.omitFn = c.omitFn
	}

	if cfg.Filter != nil {
		q.testFn = cfg.Filter.TestFn(c.store)
	}
	return q, nil
}

// Cube returns the cube this query is bound to.
func (q *Query) Cube() *Cube { return q.cube }

// Fields returns the resolved query fields.
func (q *Query) Fields() []*field.CubeField { return q.fields }

// Dimensions returns the resolved grouping dimensions, in order.
func (q *Query) Dimensions() []*field.CubeField { return q.dimensions }

// GetField returns the query field with the given name, or nil.
func (q *Query) GetField(name string) *field.CubeField { return q.fieldMap[name] }

// Filter returns the query filter, nil if none.
func (q *Query) Filter() filter.Filter { return q.cfg.Filter }

// Test applies the compiled filter predicate to a record; a nil filter passes everything.
func (q *Query) Test(r filter.Record) bool {
	return q.testFn == nil || q.testFn(r)
}

// Config returns a copy of the query's config, suitable for modification and resubmission via
// View.UpdateQuery.
func (q *Query) Config() QueryConfig {
	cfg := q.cfg
	cfg.Fields = append([]string(nil), q.cfg.Fields...)
	cfg.Dimensions = append([]string(nil), q.cfg.Dimensions...)
	return cfg
}

// Equals compares two queries by value.
func (q *Query) Equals(other *Query) bool {
	return filter.Equal(q.cfg.Filter, other.cfg.Filter) && q.EqualsExcludingFilter(other)
}

// EqualsExcludingFilter compares everything but the filter, letting views classify a query
// change as filter-only (row cache survives) versus structural (row cache must be dropped).
func (q *Query) EqualsExcludingFilter(other *Query) bool {
	if q.cube != other.cube ||
		q.cfg.IncludeRoot != other.cfg.IncludeRoot ||
		q.cfg.IncludeLeaves != other.cfg.IncludeLeaves ||
		q.cfg.OmitRedundantNodes != other.cfg.OmitRedundantNodes {
		return false
	}
	if !sameNameSet(fieldNames(q.fields), fieldNames(other.fields)) {
		return false
	}
	// Dimension order defines the hierarchy, so it is significant.
	dims, otherDims := fieldNames(q.dimensions), fieldNames(other.dimensions)
	if len(dims) != len(otherDims) {
		return false
	}
	for i := range dims {
		if dims[i] != otherDims[i] {
			return false
		}
	}
	return sameFn(q.lockFn, other.lockFn) &&
		sameFn(q.bucketSpecFn, other.bucketSpecFn) &&
		sameFn(q.omitFn, other.omitFn)
}

func fieldNames(fields []*field.CubeField) []string {
	return util.Map(func(f *field.CubeField) string { return f.Name }, fields)
}

func sameNameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// sameFn compares two functions by identity; it cannot see through distinct closures with equal
// behavior.
func sameFn(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsNil() || vb.IsNil() {
		return va.IsNil() == vb.IsNil()
	}
	return va.Pointer() == vb.Pointer()
}
