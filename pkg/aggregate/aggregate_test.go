package aggregate

import (
	"testing"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAggregate(t *testing.T) {
	RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Aggregate")
}

// testNode is a minimal Node for driving aggregators directly.
type testNode struct {
	leaf     bool
	children []Node
	values   map[string]any
}

func (n *testNode) IsLeaf() bool { return n.leaf }

func (n *testNode) Children() []Node { return n.children }

func (n *testNode) Value(field string) any { return n.values[field] }

func (n *testNode) Get(name string) any { return n.values[name] }

func leaves(vals ...any) []Node {
	ret := make([]Node, len(vals))
	for i, v := range vals {
		ret[i] = &testNode{leaf: true, values: map[string]any{"x": v}}
	}
	return ret
}

var _ = ginkgo.Describe("Aggregators", func() {
	var ctx *Context

	ginkgo.BeforeEach(func() {
		ctx = NewContext(nil)
	})

	ginkgo.Describe("token resolution", func() {
		ginkgo.It("should resolve known tokens case-insensitively", func() {
			for _, token := range []string{"SUM", "sum", "AVG", "MIN", "MAX", "UNIQUE",
				"SINGLE", "COUNT", "LEAF_COUNT", "NULL"} {
				agg, err := ForToken(token)
				Expect(err).NotTo(HaveOccurred(), "token %s", token)
				Expect(agg).NotTo(BeNil())
			}
		})

		ginkgo.It("should reject unknown tokens", func() {
			_, err := ForToken("MEDIAN")
			Expect(err).To(HaveOccurred())
		})
	})

	ginkgo.Describe("Sum", func() {
		ginkgo.It("should total child values, skipping nils", func() {
			Expect(Sum{}.Aggregate(leaves(1, 2.5, nil), "x", ctx)).To(Equal(3.5))
			Expect(Sum{}.Aggregate(leaves(nil, nil), "x", ctx)).To(BeNil())
		})

		ginkgo.It("should propagate nil leaves in strict mode", func() {
			Expect(Sum{Strict: true}.Aggregate(leaves(1, nil), "x", ctx)).To(BeNil())
			Expect(Sum{Strict: true}.Aggregate(leaves(1, 2), "x", ctx)).To(Equal(3.0))
		})

		ginkgo.It("should adjust incrementally", func() {
			nodes := leaves(10, 5)
			upd := Update{Field: "x", OldValue: 10, NewValue: 20}
			Expect(Sum{}.Replace(nodes, 15.0, upd, ctx)).To(Equal(25.0))
		})

		ginkgo.It("should rescan on nil transitions", func() {
			nodes := leaves(20, 5)
			upd := Update{Field: "x", OldValue: nil, NewValue: 20}
			Expect(Sum{}.Replace(nodes, 5.0, upd, ctx)).To(Equal(25.0))
		})
	})

	ginkgo.Describe("Average", func() {
		ginkgo.It("should recurse to leaf granularity", func() {
			inner := &testNode{
				children: leaves(1, 2, 3),
				values:   map[string]any{"x": 2.0},
			}
			nodes := []Node{inner, &testNode{leaf: true, values: map[string]any{"x": 10}}}
			// (1+2+3+10)/4, not (2+10)/2.
			Expect(Average{}.Aggregate(nodes, "x", ctx)).To(Equal(4.0))
		})

		ginkgo.It("should short-circuit to nil on nil leaves in strict mode", func() {
			Expect(Average{Strict: true}.Aggregate(leaves(1, nil), "x", ctx)).To(BeNil())
			Expect(Average{}.Aggregate(leaves(1, nil), "x", ctx)).To(Equal(1.0))
		})
	})

	ginkgo.Describe("Min and Max", func() {
		ginkgo.It("should track extrema", func() {
			Expect(Min{}.Aggregate(leaves(3, 1, 2), "x", ctx)).To(Equal(1.0))
			Expect(Max{}.Aggregate(leaves(3, 1, 2), "x", ctx)).To(Equal(3.0))
			Expect(Min{}.Aggregate(leaves(nil, nil), "x", ctx)).To(BeNil())
		})

		ginkgo.It("should take a new extremum without rescanning", func() {
			nodes := leaves(0.5, 2, 3)
			upd := Update{Field: "x", OldValue: 1, NewValue: 0.5}
			Expect(Min{}.Replace(nodes, 1.0, upd, ctx)).To(Equal(0.5))
		})

		ginkgo.It("should rescan when the old extremum moves away", func() {
			nodes := leaves(5, 2, 3)
			upd := Update{Field: "x", OldValue: 1, NewValue: 5}
			Expect(Min{}.Replace(nodes, 1.0, upd, ctx)).To(Equal(2.0))
		})

		ginkgo.It("should keep the current value for irrelevant changes", func() {
			nodes := leaves(1, 4, 3)
			upd := Update{Field: "x", OldValue: 2, NewValue: 4}
			Expect(Min{}.Replace(nodes, 1.0, upd, ctx)).To(Equal(1.0))
		})
	})

	ginkgo.Describe("Unique", func() {
		ginkgo.It("should return the value when all children agree", func() {
			Expect(Unique{}.Aggregate(leaves("a", "a"), "x", ctx)).To(Equal("a"))
			Expect(Unique{}.Aggregate(leaves("a", "b"), "x", ctx)).To(BeNil())
			Expect(Unique{}.Aggregate(nil, "x", ctx)).To(BeNil())
		})

		ginkgo.It("should replace in O(1) while agreement holds", func() {
			nodes := leaves("a", "a")
			upd := Update{Field: "x", OldValue: "a", NewValue: "b"}
			Expect(Unique{}.Replace(nodes, "a", upd, ctx)).To(BeNil())

			upd = Update{Field: "x", OldValue: "a", NewValue: "a"}
			Expect(Unique{}.Replace(nodes, "a", upd, ctx)).To(Equal("a"))
		})

		ginkgo.It("should rescan when children may converge", func() {
			nodes := leaves("b", "b")
			upd := Update{Field: "x", OldValue: "a", NewValue: "b"}
			Expect(Unique{}.Replace(nodes, nil, upd, ctx)).To(Equal("b"))
		})
	})

	ginkgo.Describe("counts and friends", func() {
		ginkgo.It("should count direct children and leaves", func() {
			inner := &testNode{children: leaves(1, 2, 3)}
			nodes := []Node{inner, &testNode{leaf: true, values: map[string]any{}}}
			Expect(ChildCount{}.Aggregate(nodes, "x", ctx)).To(Equal(2))
			Expect(LeafCount{}.Aggregate(nodes, "x", ctx)).To(Equal(4))
		})

		ginkgo.It("should return the sole child for single", func() {
			Expect(Single{}.Aggregate(leaves(7), "x", ctx)).To(Equal(7))
			Expect(Single{}.Aggregate(leaves(7, 8), "x", ctx)).To(BeNil())
		})

		ginkgo.It("should always suppress for null", func() {
			Expect(Null{}.Aggregate(leaves(1), "x", ctx)).To(BeNil())
			Expect(Null{}.Replace(leaves(1), 1, Update{}, ctx)).To(BeNil())
		})
	})

	ginkgo.Describe("context", func() {
		ginkgo.It("should expose the leaf population of the pass", func() {
			recs := []Record{
				&testNode{leaf: true, values: map[string]any{"x": 1.0}},
				&testNode{leaf: true, values: map[string]any{"x": 2.0}},
			}
			ctx := NewContext(recs)
			Expect(ctx.Records()).To(HaveLen(2))
			Expect(ctx.Records()[1].Get("x")).To(Equal(2.0))

			var nilCtx *Context
			Expect(nilCtx.Records()).To(BeEmpty())
		})

		ginkgo.It("should cache values for the duration of the pass", func() {
			Expect(ctx.Get("total")).To(BeNil())
			ctx.Set("total", 42.0)
			Expect(ctx.Get("total")).To(Equal(42.0))

			var nilCtx *Context
			Expect(nilCtx.Get("total")).To(BeNil())
		})
	})

	ginkgo.Describe("incremental equivalence", func() {
		ginkgo.It("should fold replace to the same value as a fresh aggregate", func() {
			vals := []any{1.0, 2.0, 3.0, 4.0}
			nodes := leaves(vals...)
			edits := []struct {
				idx int
				val float64
			}{{0, 10}, {2, -1}, {0, 4}, {3, 0}}

			for _, agg := range []Aggregator{Sum{}, Min{}, Max{}} {
				cur := agg.Aggregate(nodes, "x", ctx)
				for _, e := range edits {
					n := nodes[e.idx].(*testNode)
					old := n.values["x"]
					n.values["x"] = e.val
					cur = agg.Replace(nodes, cur,
						Update{Field: "x", OldValue: old, NewValue: e.val}, ctx)
				}
				Expect(cur).To(Equal(agg.Aggregate(nodes, "x", ctx)),
					"aggregator %T diverged", agg)
			}
		})
	})
})
