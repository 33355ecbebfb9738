package cube

import (
	"github.com/l7mp/dcube/pkg/aggregate"
	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/store"
	"github.com/l7mp/dcube/pkg/util"
)

// RowKind discriminates the row variants of a generated view tree.
type RowKind int

const (
	// RowLeaf mirrors one source record 1:1.
	RowLeaf RowKind = iota
	// RowAggregate groups its children by one dimension value; the synthetic grand-total root
	// is an aggregate row with a nil dimension.
	RowAggregate
	// RowBucket groups by a dynamically computed bucket value rather than a static dimension.
	RowBucket
)

func (k RowKind) String() string {
	switch k {
	case RowLeaf:
		return "leaf"
	case RowAggregate:
		return "aggregate"
	case RowBucket:
		return "bucket"
	}
	return "unknown"
}

// RowData is the plain public snapshot of one row, carrying the requested field values plus the
// cubeLabel, cubeDimension, cubeRowType and children bookkeeping properties.
type RowData = map[string]any

// metaKey links a published RowData back to its Row; consumers must treat it as opaque.
const metaKey = "_meta"

// Row is one node of the computed aggregation tree. Leaves mirror filtered source records;
// aggregate and bucket rows carry values reduced over their children. The tree behind the
// published row datas is retained in full so that leaf updates can flow up through it.
type Row struct {
	view *View
	kind RowKind
	id   string
	data RowData

	parent   *Row
	children []*Row
	nodes    []aggregate.Node

	dim          *field.CubeField
	bucketSpec   *BucketSpec
	bucketVal    any
	canAggregate map[string]bool
	locked       bool

	record *store.Record
}

func newRow(v *View, kind RowKind, id string) *Row {
	r := &Row{view: v, kind: kind, id: id}
	r.data = RowData{"id": id, metaKey: r, "cubeRowType": kind.String()}
	return r
}

func newLeafRow(v *View, id string, rec *store.Record) *Row {
	r := newRow(v, RowLeaf, id)
	r.record = rec
	r.data["cubeLabel"] = rec.ID()
	for _, f := range v.query.fields {
		r.data[f.Name] = rec.Get(f.Name)
	}
	return r
}

func newAggregateRow(v *View, id string, children []*Row, dim *field.CubeField, val any,
	appliedDims map[string]any) *Row {

	r := newRow(v, RowAggregate, id)
	r.dim = dim
	if dim != nil {
		r.data["cubeLabel"] = stringify(val)
		r.data["cubeDimension"] = dim.Name
		r.initAggregate(children, dim.Name, val, appliedDims)
	} else {
		// The grand-total root.
		r.data["cubeLabel"] = val
		r.initAggregate(children, "", val, appliedDims)
	}
	return r
}

func newBucketRow(v *View, id string, children []*Row, bucketVal any, spec *BucketSpec,
	appliedDims map[string]any) *Row {

	r := newRow(v, RowBucket, id)
	r.bucketSpec = spec
	r.bucketVal = bucketVal
	r.data["cubeLabel"] = spec.Label(bucketVal)
	r.data["cubeDimension"] = spec.Name
	r.initAggregate(children, spec.Name, bucketVal, appliedDims)
	for _, child := range children {
		child.noteBucketed(spec, bucketVal)
	}
	return r
}

// ID returns the row's deterministic composite id.
func (r *Row) ID() string { return r.id }

// Kind returns the row variant.
func (r *Row) Kind() RowKind { return r.kind }

// Data returns the row's public data snapshot.
func (r *Row) Data() RowData { return r.data }

// Parent returns the row's parent, nil at the top.
func (r *Row) Parent() *Row { return r.parent }

// Dim returns the grouping dimension of an aggregate row, nil for leaves, buckets and the root.
func (r *Row) Dim() *field.CubeField { return r.dim }

// Record returns the source record of a leaf row, nil otherwise.
func (r *Row) Record() *store.Record { return r.record }

// Locked reports whether the latest visibility pass locked this row.
func (r *Row) Locked() bool { return r.locked }

// Get returns the row's current value for the named field.
func (r *Row) Get(name string) any { return r.data[name] }

//------------------------
// aggregate.Node
//------------------------

// IsLeaf reports whether the row mirrors a source record.
func (r *Row) IsLeaf() bool { return r.kind == RowLeaf }

// Children returns the direct children as aggregation nodes.
func (r *Row) Children() []aggregate.Node { return r.nodes }

// Value returns the row's current value for the named field.
func (r *Row) Value(name string) any { return r.data[name] }

//------------------------
// Aggregation
//------------------------

// initAggregate wires children into the row, derives the per-field aggregation eligibility, and
// computes the initial aggregate values. Fields fixed by an applied dimension on the path from
// the root never aggregate: their value is the dimension value itself.
func (r *Row) initAggregate(children []*Row, dimOrBucketName string, val any,
	appliedDims map[string]any) {

	r.children = children
	r.nodes = make([]aggregate.Node, len(children))
	for i, child := range children {
		child.parent = r
		r.nodes[i] = child
	}

	for _, f := range r.view.query.fields {
		r.data[f.Name] = nil
	}
	for name, dimVal := range appliedDims {
		r.data[name] = dimVal
	}

	r.canAggregate = map[string]bool{}
	for _, f := range r.view.query.fields {
		if _, applied := appliedDims[f.Name]; applied {
			r.canAggregate[f.Name] = false
			continue
		}
		r.canAggregate[f.Name] = f.Aggregator != nil &&
			(f.CanAggregateFn == nil || f.CanAggregateFn(dimOrBucketName, val, appliedDims))
	}

	r.computeAggregates()
}

func (r *Row) computeAggregates() {
	ctx := r.view.aggCtx
	for _, f := range r.view.query.fields {
		if r.canAggregate[f.Name] {
			r.data[f.Name] = f.Aggregator.Aggregate(r.nodes, f.Name, ctx)
		}
	}
}

// noteBucketed marks the row (and its subtree) as belonging to a bucket.
func (r *Row) noteBucketed(spec *BucketSpec, bucketVal any) {
	buckets, _ := r.data["buckets"].(map[string]any)
	if buckets == nil {
		buckets = map[string]any{}
		r.data["buckets"] = buckets
	}
	buckets[spec.Name] = bucketVal
	for _, child := range r.children {
		child.noteBucketed(spec, bucketVal)
	}
}

// applyLeafDataUpdate patches a leaf in place from an updated source record, then propagates the
// changed fields up the tree through the ancestors' incremental aggregators. Every row whose data
// actually changed is recorded in updated, keyed by row id.
func (r *Row) applyLeafDataUpdate(rec *store.Record, updated map[string]RowData) {
	r.record = rec
	var updates []aggregate.Update
	for _, f := range r.view.query.fields {
		newValue := rec.Get(f.Name)
		if !f.IsEqual(r.data[f.Name], newValue) {
			updates = append(updates, aggregate.Update{
				Field:    f.Name,
				OldValue: r.data[f.Name],
				NewValue: newValue,
			})
			r.data[f.Name] = newValue
		}
	}
	if len(updates) > 0 {
		updated[r.id] = r.data
		if r.parent != nil {
			r.parent.applyDataUpdate(updates, updated)
		}
	}
}

// applyDataUpdate adjusts the row's aggregates for single-field changes on one child and recurses
// upward with the row's own changes.
func (r *Row) applyDataUpdate(childUpdates []aggregate.Update, updated map[string]RowData) {
	ctx := r.view.aggCtx
	var myUpdates []aggregate.Update
	for _, upd := range childUpdates {
		if !r.canAggregate[upd.Field] {
			continue
		}
		f := r.view.query.fieldMap[upd.Field]
		oldValue := r.data[upd.Field]
		newValue := f.Aggregator.Replace(r.nodes, oldValue, upd, ctx)
		r.data[upd.Field] = newValue
		myUpdates = append(myUpdates, aggregate.Update{
			Field:    upd.Field,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}
	if len(myUpdates) > 0 {
		updated[r.id] = r.data
		if r.parent != nil {
			r.parent.applyDataUpdate(myUpdates, updated)
		}
	}
}

//------------------------
// Visibility
//------------------------

// visibleDatas flattens the row into the datas actually exposed to consumers, applying omission,
// locking, leaf suppression and redundant-chain collapse. The collapse walks the freshly built
// child rows themselves, so it holds regardless of row cache state.
func (r *Row) visibleDatas() []RowData {
	q := r.view.query

	dataChildren := r.visibleChildrenDatas()

	if r.kind != RowLeaf && q.omitFn != nil && q.omitFn(r) {
		return dataChildren
	}

	if q.cfg.OmitRedundantNodes {
		for len(dataChildren) == 1 {
			childRow, ok := dataChildren[0][metaKey].(*Row)
			if !ok || !isRedundantChild(r, childRow) {
				break
			}
			dataChildren, _ = childRow.data["children"].([]RowData)
		}
	}

	r.data["children"] = dataChildren
	return []RowData{r.data}
}

func (r *Row) visibleChildrenDatas() []RowData {
	q := r.view.query
	if r.children == nil {
		return nil
	}
	if !q.cfg.IncludeLeaves && len(r.children) > 0 && r.children[0].kind == RowLeaf {
		return nil
	}
	if q.lockFn != nil && q.lockFn(r) {
		r.locked = true
		r.data["locked"] = true
		return nil
	}
	var ret []RowData
	for _, child := range r.children {
		ret = append(ret, child.visibleDatas()...)
	}
	return ret
}

// isRedundantChild reports whether child is the sole meaningful repetition of its parent: the
// child's dimension declares the parent's as its parent dimension and both carry the same value.
func isRedundantChild(parent, child *Row) bool {
	pd, cd := parent.dim, child.dim
	return pd != nil && cd != nil && cd.ParentDimension == pd.Name &&
		util.DeepEqualValues(child.data[cd.Name], parent.data[pd.Name])
}

// PlainRows deep-copies published row datas without the internal row back-links, suitable for
// serialization.
func PlainRows(rows []RowData) []RowData {
	ret := make([]RowData, 0, len(rows))
	for _, row := range rows {
		out := make(RowData, len(row))
		for k, v := range row {
			switch k {
			case metaKey:
			case "children":
				if kids, ok := v.([]RowData); ok && kids != nil {
					out[k] = PlainRows(kids)
				}
			default:
				out[k] = v
			}
		}
		ret = append(ret, out)
	}
	return ret
}

func stringify(v any) string {
	s, _ := field.Parse(v, field.TypeString, nil).(string)
	return s
}
