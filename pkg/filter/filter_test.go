package filter

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	gomega "github.com/onsi/gomega"

	"github.com/l7mp/dcube/pkg/field"
)

func TestFilter(t *testing.T) {
	gomega.RegisterFailHandler(Fail)
	RunSpecs(t, "Filter")
}

// testFields resolves field types from a plain map.
type testFields map[string]field.Type

func (f testFields) FieldType(name string) (field.Type, bool) {
	t, ok := f[name]
	return t, ok
}

// testRecord is a minimal filterable record.
type testRecord struct {
	data      map[string]any
	committed map[string]any
	add       bool
}

func (r *testRecord) Get(name string) any { return r.data[name] }

func (r *testRecord) CommittedGet(name string) (any, bool) {
	if r.committed == nil {
		return nil, false
	}
	return r.committed[name], true
}

func (r *testRecord) IsAdd() bool { return r.add }

func rec(data map[string]any) *testRecord {
	return &testRecord{data: data, committed: data}
}

var _ = Describe("FieldFilter", func() {
	flds := testFields{
		"region": field.TypeString,
		"amount": field.TypeNumber,
		"tags":   field.TypeTags,
	}

	Describe("construction", func() {
		It("should reject unknown operators", func() {
			_, err := NewFieldFilter("x", "===", 1)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		It("should reject multiple values on scalar operators", func() {
			_, err := NewFieldFilter("x", OpGt, 1, 2)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		It("should require a field and a value", func() {
			_, err := NewFieldFilter("", OpEquals, 1)
			gomega.Expect(err).To(gomega.HaveOccurred())
			_, err = NewFieldFilter("x", OpEquals)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	Describe("equality operators", func() {
		It("should match any of the candidate values", func() {
			f := MustFieldFilter("region", OpEquals, "east", "west")
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"region": "east"}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"region": "north"}))).To(gomega.BeFalse())
		})

		It("should parse candidate values by field type", func() {
			f := MustFieldFilter("amount", OpEquals, "10")
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"amount": 10.0}))).To(gomega.BeTrue())
		})

		It("should fold empty values into nil", func() {
			f := MustFieldFilter("region", OpEquals, nil)
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"region": ""}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"region": "east"}))).To(gomega.BeFalse())
		})

		It("should negate with not equals", func() {
			f := MustFieldFilter("region", OpNotEquals, "east")
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"region": "west"}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"region": "east"}))).To(gomega.BeFalse())
		})
	})

	Describe("comparison operators", func() {
		It("should compare numerically", func() {
			f := MustFieldFilter("amount", OpGte, 10)
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"amount": 10.0}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"amount": 9.5}))).To(gomega.BeFalse())
		})

		It("should never match nil values", func() {
			f := MustFieldFilter("amount", OpLt, 10)
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{}))).To(gomega.BeFalse())
		})
	})

	Describe("string operators", func() {
		It("should match like case-insensitively", func() {
			f := MustFieldFilter("region", OpLike, "EAST")
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"region": "northeast"}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"region": "west"}))).To(gomega.BeFalse())
		})

		It("should anchor begins and ends", func() {
			begins := MustFieldFilter("region", OpBegins, "north").TestFn(flds)
			gomega.Expect(begins(rec(map[string]any{"region": "northeast"}))).To(gomega.BeTrue())
			gomega.Expect(begins(rec(map[string]any{"region": "due north"}))).To(gomega.BeFalse())

			ends := MustFieldFilter("region", OpEnds, "east").TestFn(flds)
			gomega.Expect(ends(rec(map[string]any{"region": "northeast"}))).To(gomega.BeTrue())
			gomega.Expect(ends(rec(map[string]any{"region": "eastern"}))).To(gomega.BeFalse())
		})
	})

	Describe("tag operators", func() {
		It("should test tag membership", func() {
			f := MustFieldFilter("tags", OpIncludes, "red")
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{"tags": []string{"red", "blue"}}))).To(gomega.BeTrue())
			gomega.Expect(test(rec(map[string]any{"tags": []string{"blue"}}))).To(gomega.BeFalse())

			not := MustFieldFilter("tags", OpExcludes, "red").TestFn(flds)
			gomega.Expect(not(rec(map[string]any{"tags": []string{"blue"}}))).To(gomega.BeTrue())
			gomega.Expect(not(rec(map[string]any{}))).To(gomega.BeTrue())
		})
	})

	Describe("visibility maximization", func() {
		It("should pass uncommitted adds", func() {
			f := MustFieldFilter("region", OpEquals, "east")
			test := f.TestFn(flds)
			r := &testRecord{data: map[string]any{"region": "west"}, add: true}
			gomega.Expect(test(r)).To(gomega.BeTrue())
		})

		It("should pass records whose committed value matches", func() {
			f := MustFieldFilter("region", OpEquals, "east")
			test := f.TestFn(flds)
			r := &testRecord{
				data:      map[string]any{"region": "west"},
				committed: map[string]any{"region": "east"},
			}
			gomega.Expect(test(r)).To(gomega.BeTrue())
		})
	})

	Describe("unknown fields", func() {
		It("should pass everything rather than filter everything out", func() {
			f := MustFieldFilter("bogus", OpEquals, 1)
			test := f.TestFn(flds)
			gomega.Expect(test(rec(map[string]any{}))).To(gomega.BeTrue())
		})
	})

	Describe("equality", func() {
		It("should compare order-insensitively by value set", func() {
			a := MustFieldFilter("region", OpEquals, "east", "west")
			b := MustFieldFilter("region", OpEquals, "west", "east")
			c := MustFieldFilter("region", OpEquals, "east")
			gomega.Expect(a.Equals(b)).To(gomega.BeTrue())
			gomega.Expect(a.Equals(c)).To(gomega.BeFalse())
		})
	})
})

var _ = Describe("CompoundFilter", func() {
	flds := testFields{"region": field.TypeString, "amount": field.TypeNumber}

	It("should combine with AND and OR", func() {
		east := MustFieldFilter("region", OpEquals, "east")
		big := MustFieldFilter("amount", OpGt, 10)

		and := NewAnd(east, big).TestFn(flds)
		gomega.Expect(and(rec(map[string]any{"region": "east", "amount": 20.0}))).To(gomega.BeTrue())
		gomega.Expect(and(rec(map[string]any{"region": "east", "amount": 5.0}))).To(gomega.BeFalse())

		or := NewOr(east, big).TestFn(flds)
		gomega.Expect(or(rec(map[string]any{"region": "west", "amount": 20.0}))).To(gomega.BeTrue())
		gomega.Expect(or(rec(map[string]any{"region": "west", "amount": 5.0}))).To(gomega.BeFalse())
	})

	It("should collapse trivial compounds", func() {
		east := MustFieldFilter("region", OpEquals, "east")
		gomega.Expect(NewAnd()).To(gomega.BeNil())
		gomega.Expect(NewAnd(nil, east)).To(gomega.BeIdenticalTo(Filter(east)))
	})

	It("should compare order-insensitively", func() {
		east := MustFieldFilter("region", OpEquals, "east")
		big := MustFieldFilter("amount", OpGt, 10)
		a := NewAnd(east, big)
		b := NewAnd(big, east)
		gomega.Expect(a.Equals(b)).To(gomega.BeTrue())
		gomega.Expect(a.Equals(NewOr(east, big))).To(gomega.BeFalse())
	})

	It("should flatten nested compounds", func() {
		east := MustFieldFilter("region", OpEquals, "east")
		big := MustFieldFilter("amount", OpGt, 10)
		small := MustFieldFilter("amount", OpLt, 1)
		f := NewAnd(east, NewOr(big, small))
		gomega.Expect(Flatten(f)).To(gomega.HaveLen(3))
	})
})

var _ = Describe("Parse", func() {
	flds := testFields{"region": field.TypeString, "amount": field.TypeNumber}

	It("should pass nil and Filter instances through as is", func() {
		f, err := Parse(nil)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f).To(gomega.BeNil())

		east := MustFieldFilter("region", OpEquals, "east")
		f, err = Parse(east)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f).To(gomega.BeIdenticalTo(Filter(east)))
	})

	It("should wrap a bare function with the default key", func() {
		f, err := Parse(func(r Record) bool { return r.Get("region") == "east" })
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f).To(gomega.BeAssignableToTypeOf(&FunctionFilter{}))
		gomega.Expect(f.(*FunctionFilter).Key).To(gomega.Equal("default"))
		gomega.Expect(f.TestFn(flds)(rec(map[string]any{"region": "east"}))).To(gomega.BeTrue())
	})

	It("should build field filters from spec maps", func() {
		f, err := Parse(map[string]any{
			"field": "region",
			"op":    "!=",
			"value": []any{"east", "west"},
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f.Equals(MustFieldFilter("region", OpNotEquals, "east", "west"))).To(gomega.BeTrue())

		// The operator defaults to equality.
		f, err = Parse(map[string]any{"field": "amount", "value": 10})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f.Equals(MustFieldFilter("amount", OpEquals, 10))).To(gomega.BeTrue())
	})

	It("should build function filters from spec maps", func() {
		f, err := Parse(map[string]any{
			"key":    "big",
			"testFn": func(r Record) bool { return true },
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f.Equals(NewFunctionFilter("big", nil))).To(gomega.BeTrue())

		_, err = Parse(map[string]any{"key": "broken"})
		gomega.Expect(err).To(gomega.HaveOccurred())
	})

	It("should build compounds from spec maps and slices", func() {
		east := map[string]any{"field": "region", "value": "east"}
		big := map[string]any{"field": "amount", "op": ">", "value": 10}

		f, err := Parse(map[string]any{"op": "or", "filters": []any{east, big}})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f.Equals(NewOr(
			MustFieldFilter("region", OpEquals, "east"),
			MustFieldFilter("amount", OpGt, 10),
		))).To(gomega.BeTrue())

		// A bare slice combines with AND.
		f, err = Parse([]any{east, big})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f.Equals(NewAnd(
			MustFieldFilter("region", OpEquals, "east"),
			MustFieldFilter("amount", OpGt, 10),
		))).To(gomega.BeTrue())
	})

	It("should collapse trivial compound specs", func() {
		f, err := Parse(map[string]any{"filters": []any{}})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f).To(gomega.BeNil())

		f, err = Parse([]any{map[string]any{"field": "region", "value": "east"}})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(f).To(gomega.BeAssignableToTypeOf(&FieldFilter{}))
	})

	It("should reject unidentifiable specs", func() {
		_, err := Parse(42)
		gomega.Expect(err).To(gomega.HaveOccurred())

		_, err = Parse(map[string]any{"bogus": true})
		gomega.Expect(err).To(gomega.HaveOccurred())

		_, err = Parse(map[string]any{"field": "x", "op": "===", "value": 1})
		gomega.Expect(err).To(gomega.HaveOccurred())

		_, err = Parse(map[string]any{"op": "xor", "filters": []any{}})
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})

var _ = Describe("FunctionFilter", func() {
	It("should wrap a predicate and compare by key", func() {
		f := NewFunctionFilter("big", func(r Record) bool {
			amount, _ := r.Get("amount").(float64)
			return amount > 10
		})
		gomega.Expect(f.TestFn(nil)(rec(map[string]any{"amount": 20.0}))).To(gomega.BeTrue())
		gomega.Expect(f.Equals(NewFunctionFilter("big", nil))).To(gomega.BeTrue())
		gomega.Expect(f.Equals(NewFunctionFilter("small", nil))).To(gomega.BeFalse())
	})
})

var _ = Describe("nil-safe helpers", func() {
	It("should treat a nil filter as pass-all", func() {
		gomega.Expect(Test(nil, nil, rec(map[string]any{}))).To(gomega.BeTrue())
		gomega.Expect(Equal(nil, nil)).To(gomega.BeTrue())
		gomega.Expect(Equal(nil, MustFieldFilter("x", OpEquals, 1))).To(gomega.BeFalse())
	})
})
