package aggregate

import (
	"github.com/l7mp/dcube/pkg/util"
)

// Sum totals the values of the direct children, skipping nils. The strict variant propagates nil
// if any leaf under the node is nil.
type Sum struct {
	Strict bool
}

func (a Sum) DependsOnChildrenOnly() bool { return true }

func (a Sum) Aggregate(nodes []Node, field string, ctx *Context) any {
	if a.Strict {
		var total float64
		sawNil, sawVal := false, false
		forEachLeaf(nodes, func(n Node) {
			v := n.Value(field)
			if v == nil {
				sawNil = true
				return
			}
			if f, ok := asFloat(v); ok {
				total += f
				sawVal = true
			}
		})
		if sawNil || !sawVal {
			return nil
		}
		return total
	}

	var total float64
	sawVal := false
	for _, n := range nodes {
		if f, ok := asFloat(n.Value(field)); ok {
			total += f
			sawVal = true
		}
	}
	if !sawVal {
		return nil
	}
	return total
}

func (a Sum) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	cur, okC := asFloat(current)
	oldV, okO := asFloat(upd.OldValue)
	newV, okN := asFloat(upd.NewValue)
	if a.Strict || !okC || !okO || !okN {
		// Nil transitions can change the aggregate shape, rescan.
		return a.Aggregate(nodes, upd.Field, ctx)
	}
	return cur - oldV + newV
}

// Average computes the mean over leaf values in two passes (sum, count). Recursing to leaves
// keeps the result correct under re-bucketing, where direct children may themselves be
// aggregates over unevenly sized groups. The strict variant short-circuits to nil on the first
// nil leaf.
type Average struct {
	Strict bool
}

func (a Average) DependsOnChildrenOnly() bool { return true }

func (a Average) Aggregate(nodes []Node, field string, ctx *Context) any {
	var total float64
	count := 0
	sawNil := false
	forEachLeaf(nodes, func(n Node) {
		v := n.Value(field)
		if v == nil {
			sawNil = true
			return
		}
		if f, ok := asFloat(v); ok {
			total += f
			count++
		}
	})
	if (a.Strict && sawNil) || count == 0 {
		return nil
	}
	return total / float64(count)
}

func (a Average) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	return a.Aggregate(nodes, upd.Field, ctx)
}

// Min tracks the smallest non-nil child value.
type Min struct {
	childrenOnly
}

func (a Min) Aggregate(nodes []Node, field string, ctx *Context) any {
	var best float64
	sawVal := false
	for _, n := range nodes {
		if f, ok := asFloat(n.Value(field)); ok {
			if !sawVal || f < best {
				best = f
			}
			sawVal = true
		}
	}
	if !sawVal {
		return nil
	}
	return best
}

func (a Min) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	cur, okC := asFloat(current)
	newV, okN := asFloat(upd.NewValue)
	oldV, okO := asFloat(upd.OldValue)
	if !okC {
		return a.Aggregate(nodes, upd.Field, ctx)
	}
	if okN && newV <= cur {
		return newV
	}
	// Only rescan when the old value could have been the extremum.
	if !okO || oldV == cur {
		return a.Aggregate(nodes, upd.Field, ctx)
	}
	return current
}

// Max tracks the largest non-nil child value.
type Max struct {
	childrenOnly
}

func (a Max) Aggregate(nodes []Node, field string, ctx *Context) any {
	var best float64
	sawVal := false
	for _, n := range nodes {
		if f, ok := asFloat(n.Value(field)); ok {
			if !sawVal || f > best {
				best = f
			}
			sawVal = true
		}
	}
	if !sawVal {
		return nil
	}
	return best
}

func (a Max) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	cur, okC := asFloat(current)
	newV, okN := asFloat(upd.NewValue)
	oldV, okO := asFloat(upd.OldValue)
	if !okC {
		return a.Aggregate(nodes, upd.Field, ctx)
	}
	if okN && newV >= cur {
		return newV
	}
	if !okO || oldV == cur {
		return a.Aggregate(nodes, upd.Field, ctx)
	}
	return current
}

// Unique returns the common value if all direct children agree, nil otherwise.
type Unique struct {
	childrenOnly
}

func (a Unique) Aggregate(nodes []Node, field string, ctx *Context) any {
	if len(nodes) == 0 {
		return nil
	}
	val := nodes[0].Value(field)
	for _, n := range nodes[1:] {
		if !util.DeepEqualValues(val, n.Value(field)) {
			return nil
		}
	}
	return val
}

func (a Unique) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	if len(nodes) == 1 {
		return upd.NewValue
	}
	if current != nil {
		// All children agreed on current; the changed one either still does or breaks it.
		if util.DeepEqualValues(current, upd.NewValue) {
			return current
		}
		return nil
	}
	// Previously non-unique children may now all agree, rescan.
	return a.Aggregate(nodes, upd.Field, ctx)
}

// Single returns the child value when there is exactly one child, nil otherwise.
type Single struct {
	childrenOnly
}

func (a Single) Aggregate(nodes []Node, field string, ctx *Context) any {
	if len(nodes) == 1 {
		return nodes[0].Value(field)
	}
	return nil
}

func (a Single) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	if len(nodes) == 1 {
		return upd.NewValue
	}
	return nil
}

// ChildCount counts the direct children.
type ChildCount struct {
	childrenOnly
}

func (a ChildCount) Aggregate(nodes []Node, field string, ctx *Context) any {
	return len(nodes)
}

func (a ChildCount) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	// Data-only updates never change the child population.
	return current
}

// LeafCount counts leaves recursively.
type LeafCount struct {
	childrenOnly
}

func (a LeafCount) Aggregate(nodes []Node, field string, ctx *Context) any {
	count := 0
	forEachLeaf(nodes, func(Node) { count++ })
	return count
}

func (a LeafCount) Replace(nodes []Node, current any, upd Update, ctx *Context) any {
	return current
}

// Null suppresses aggregation: the value is always nil. Used for fields that are only
// meaningful at the leaf level.
type Null struct {
	childrenOnly
}

func (a Null) Aggregate(nodes []Node, field string, ctx *Context) any { return nil }

func (a Null) Replace(nodes []Node, current any, upd Update, ctx *Context) any { return nil }
