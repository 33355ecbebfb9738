// Package aggregate implements the per-field reduction strategies used by cube views. Each
// aggregator supports both a from-scratch reduction over a node's children and an optional
// incremental fast path that adjusts an existing aggregate for a single changed child value.
package aggregate

import (
	"fmt"
	"strings"
)

// Node is the view of a row tree node an aggregator operates on. Leaf nodes mirror source
// records; non-leaf nodes carry previously computed aggregate values.
type Node interface {
	// IsLeaf reports whether the node corresponds 1:1 to a source record.
	IsLeaf() bool
	// Children returns the direct children of the node, nil for leaves.
	Children() []Node
	// Value returns the node's current value for the named field.
	Value(field string) any
}

// Update describes the change of exactly one field value on one child node.
type Update struct {
	Field    string
	OldValue any
	NewValue any
}

// Aggregator reduces a set of sibling nodes to a single value for one field.
type Aggregator interface {
	// Aggregate computes the value from scratch over the direct children. Aggregators that
	// must be correct under re-bucketing (e.g. Average) recurse to leaf granularity instead.
	Aggregate(nodes []Node, field string, ctx *Context) any

	// Replace computes the new aggregate given the old aggregate value and a single-field
	// change on one child, without rescanning all children where possible.
	Replace(nodes []Node, current any, upd Update, ctx *Context) any

	// DependsOnChildrenOnly reports whether the aggregate is a pure function of the node's
	// children. Aggregators returning false (e.g. percent-of-total) disable the incremental
	// update path entirely.
	DependsOnChildrenOnly() bool
}

// Record is the minimal surface of a filtered source record reachable through the Context, for
// aggregators that depend on the whole leaf population rather than the node's children alone
// (e.g. a percent-of-total).
type Record interface {
	Get(name string) any
}

// Context is the mutable per-pass scratch space shared by all aggregators during a single view
// build or patch. It carries the filtered leaf records feeding the pass, and aggregators may
// cache derived values in it keyed by arbitrary strings.
type Context struct {
	records []Record
	values  map[string]any
}

// NewContext creates an aggregation context over the filtered leaf records of a pass.
func NewContext(records []Record) *Context {
	return &Context{records: records, values: map[string]any{}}
}

// Records returns the filtered leaf records feeding the current pass.
func (c *Context) Records() []Record {
	if c == nil {
		return nil
	}
	return c.records
}

// Get returns a cached value, or nil.
func (c *Context) Get(key string) any {
	if c == nil {
		return nil
	}
	return c.values[key]
}

// Set caches a value for the duration of the pass.
func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

// ForToken resolves an aggregator from its config token. Unknown tokens are configuration
// errors.
func ForToken(token string) (Aggregator, error) {
	switch strings.ToUpper(token) {
	case "SUM":
		return Sum{}, nil
	case "SUM_STRICT":
		return Sum{Strict: true}, nil
	case "AVG":
		return Average{}, nil
	case "AVG_STRICT":
		return Average{Strict: true}, nil
	case "MIN":
		return Min{}, nil
	case "MAX":
		return Max{}, nil
	case "UNIQUE":
		return Unique{}, nil
	case "SINGLE":
		return Single{}, nil
	case "COUNT", "CHILD_COUNT":
		return ChildCount{}, nil
	case "LEAF_COUNT":
		return LeafCount{}, nil
	case "NULL":
		return Null{}, nil
	}
	return nil, fmt.Errorf("unknown aggregator token %q", token)
}

// childrenOnly provides the common DependsOnChildrenOnly default.
type childrenOnly struct{}

func (childrenOnly) DependsOnChildrenOnly() bool { return true }

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// forEachLeaf walks nodes recursively, calling fn for every leaf.
func forEachLeaf(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		if n.IsLeaf() {
			fn(n)
			continue
		}
		forEachLeaf(n.Children(), fn)
	}
}
