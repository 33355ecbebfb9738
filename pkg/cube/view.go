package cube

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/dcube/pkg/aggregate"
	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/filter"
	"github.com/l7mp/dcube/pkg/store"
	"github.com/l7mp/dcube/pkg/util"
)

// ViewConfig describes a View to be created on a cube.
type ViewConfig struct {
	// Query defining the shape of the view.
	Query QueryConfig

	// Stores to be automatically (re)loaded with data from this view. Optional, read the
	// view's Result directly to use without a store.
	Stores []*store.Store

	// Connect keeps the view's result up to date as the underlying cube data changes. False
	// runs the query once as a snapshot.
	Connect bool
}

// DimensionValue holds the unique leaf-level values observed for one dimension field.
type DimensionValue struct {
	Field  *field.CubeField
	Values []any
}

// Result is a published snapshot of a view: the flattened visible row datas plus the leaf index.
// Each update swaps in a whole new Result reference, so readers never observe a half-applied
// patch.
type Result struct {
	Rows    []RowData
	LeafMap map[store.ID]*Row
}

// rowKey is the row cache key: the parent row id plus the row's own path segment. Keeping the
// two parts structured avoids collisions with dimension values containing the id delimiter.
type rowKey struct {
	parentID string
	segment  string
}

// View is the stateful result of running a query against a cube. Connected views are patched or
// rebuilt on every cube change; transient views capture a one-shot snapshot.
//
// Between full rebuilds the view caches generated rows by their deterministic id and reuses a
// cached row verbatim whenever its children are reference-identical to the freshly computed ones,
// skipping the recomputation of that whole subtree.
type View struct {
	query  *Query
	stores []*store.Store
	log    logr.Logger

	result      *Result
	info        map[string]any
	lastUpdated time.Time

	rows        []RowData
	rowCache    map[rowKey]*Row
	leafMap     map[store.ID]*Row
	records     []*store.Record
	recordIndex map[store.ID]int
	aggCtx      *aggregate.Context
}

func newView(c *Cube, cfg ViewConfig) (*View, error) {
	q, err := newQuery(c, cfg.Query)
	if err != nil {
		return nil, err
	}
	v := &View{
		query:    q,
		stores:   cfg.Stores,
		log:      c.log.WithName("view"),
		rowCache: map[rowKey]*Row{},
	}
	v.fullUpdate()

	if cfg.Connect {
		c.connectView(v)
	}
	return v, nil
}

//------------------------
// Main public API
//------------------------

// Cube returns the cube this view reads from.
func (v *View) Cube() *Cube { return v.query.cube }

// Query returns the view's current query.
func (v *View) Query() *Query { return v.query }

// Result returns the latest published result snapshot.
func (v *View) Result() *Result { return v.result }

// Info returns the cube info captured at the last update.
func (v *View) Info() map[string]any { return v.info }

// LastUpdated returns the time of the last result change.
func (v *View) LastUpdated() time.Time { return v.lastUpdated }

// Fields returns the fields of the view's query.
func (v *View) Fields() []*field.CubeField { return v.query.fields }

// GetField returns the query field with the given name, or nil.
func (v *View) GetField(name string) *field.CubeField { return v.query.GetField(name) }

// Filter returns the query filter, nil if none.
func (v *View) Filter() filter.Filter { return v.query.Filter() }

// IsFiltered reports whether the view's query carries a filter.
func (v *View) IsFiltered() bool { return v.query.Filter() != nil }

// IsConnected reports whether the view receives live cube updates.
func (v *View) IsConnected() bool { return v.Cube().ViewIsConnected(v) }

// Disconnect stops live updates into this view.
func (v *View) Disconnect() { v.Cube().DisconnectView(v) }

// Destroy disconnects the view and drops its caches.
func (v *View) Destroy() {
	v.Disconnect()
	v.rowCache = map[rowKey]*Row{}
}

// SetStores replaces the stores fed by this view and loads them with the current rows.
func (v *View) SetStores(stores ...*store.Store) error {
	v.stores = stores
	return v.loadStores()
}

// UpdateQuery replaces the view's query, re-computing the view to reflect it. The row cache is
// retained only for filter-only changes on views with simple aggregators; any structural change
// drops it.
func (v *View) UpdateQuery(cfg QueryConfig) error {
	newQ, err := newQuery(v.query.cube, cfg)
	if err != nil {
		return err
	}
	if v.query.Equals(newQ) {
		return nil
	}

	oldQ := v.query
	v.query = newQ

	if !v.aggregatorsAreSimple() || !oldQ.EqualsExcludingFilter(newQ) {
		v.rowCache = map[rowKey]*Row{}
	}

	v.fullUpdate()
	return nil
}

// SetFilter updates the filter on the current query.
func (v *View) SetFilter(f filter.Filter) error {
	cfg := v.query.Config()
	cfg.Filter = f
	return v.UpdateQuery(cfg)
}

// DimensionValues gathers the unique leaf values for each dimension field of the query.
func (v *View) DimensionValues() []DimensionValue {
	var ret []DimensionValue
	for _, f := range v.query.fields {
		if !f.IsDimension {
			continue
		}
		seen := map[string]bool{}
		var values []any
		for _, rec := range v.records {
			leaf := v.leafMap[rec.ID()]
			if leaf == nil {
				continue
			}
			val := leaf.data[f.Name]
			if val == nil {
				continue
			}
			key, err := util.CanonicalKey(val)
			if err != nil {
				key = fmt.Sprintf("%#v", val)
			}
			if !seen[key] {
				seen[key] = true
				values = append(values, val)
			}
		}
		ret = append(ret, DimensionValue{Field: f, Values: values})
	}
	return ret
}

//------------------------
// Entry points for the cube
//------------------------

// noteCubeLoaded rebuilds the view from scratch after a wholesale cube (re)load.
func (v *View) noteCubeLoaded() {
	v.rowCache = map[rowKey]*Row{}
	v.fullUpdate()
}

// noteCubeUpdated decides between the incremental patch and a full rebuild for an individual
// cube change.
func (v *View) noteCubeUpdated(cl *store.ChangeLog) {
	simple, ok := v.getSimpleUpdates(cl)
	switch {
	case !ok:
		v.rowCache = map[rowKey]*Row{}
		v.fullUpdate()
	case len(simple) > 0:
		v.dataOnlyUpdate(simple)
	default:
		v.info = v.query.cube.info
	}
}

//------------------------
// Implementation
//------------------------

func (v *View) fullUpdate() {
	start := time.Now()
	v.filterRecords()
	v.aggCtx = v.newAggContext()
	v.generateRows()
	if err := v.loadStores(); err != nil {
		v.log.Error(err, "failed to load view results into a connected store")
	}
	v.updateResults()
	v.log.V(2).Info("full view update", "leaves", len(v.leafMap), "rows", len(v.rows),
		"elapsed", time.Since(start))
}

func (v *View) dataOnlyUpdate(updates []*store.Record) {
	updated := map[string]RowData{}
	for _, rec := range updates {
		if idx, ok := v.recordIndex[rec.ID()]; ok {
			v.records[idx] = rec
		}
		if leaf := v.leafMap[rec.ID()]; leaf != nil {
			leaf.applyLeafDataUpdate(rec, updated)
		}
	}
	v.aggCtx = v.newAggContext()

	for _, s := range v.stores {
		var recordUpdates []store.RawData
		for _, rowData := range updated {
			id, _ := rowData["id"].(string)
			if s.GetByID(id, false) != nil {
				recordUpdates = append(recordUpdates, rowData)
			}
		}
		if _, err := s.UpdateData(store.RawTransaction{Update: recordUpdates}); err != nil {
			v.log.Error(err, "failed to patch a connected store")
		}
	}
	v.updateResults()
	v.log.V(2).Info("incremental view update", "leaf-updates", len(updates),
		"changed-rows", len(updated))
}

// newAggContext builds the aggregation context for the next pass over the view's filtered
// records.
func (v *View) newAggContext() *aggregate.Context {
	records := make([]aggregate.Record, len(v.records))
	for i, rec := range v.records {
		records[i] = rec
	}
	return aggregate.NewContext(records)
}

func (v *View) filterRecords() {
	v.records = nil
	v.recordIndex = map[store.ID]int{}
	for _, rec := range v.query.cube.store.Records() {
		if v.query.Test(rec) {
			v.recordIndex[rec.ID()] = len(v.records)
			v.records = append(v.records, rec)
		}
	}
}

func (v *View) generateRows() {
	q := v.query
	rootID := "root"

	leafMap := map[store.ID]*Row{}
	newRows := v.groupAndInsertRecords(v.records, q.dimensions, rootID, map[string]any{}, leafMap)
	newRows = v.bucketRows(newRows, rootID, map[string]any{})

	if q.cfg.IncludeRoot {
		newRows = []*Row{v.cachedRow(rowKey{"", rootID}, newRows, func() *Row {
			return newAggregateRow(v, rootID, newRows, nil, "Total", map[string]any{})
		})}
	} else if !q.cfg.IncludeLeaves && len(newRows) > 0 && newRows[0].kind == RowLeaf {
		// Degenerate case: nothing but unrequested leaves at the top, no visible rows.
		newRows = nil
	}

	v.leafMap = leafMap

	// Only the network of visible data nodes is revealed to consumers. The full row network
	// stays behind it so leaf updates keep flowing up through locked and omitted rows.
	var rows []RowData
	for _, r := range newRows {
		rows = append(rows, r.visibleDatas()...)
	}
	v.rows = rows
}

func (v *View) groupAndInsertRecords(records []*store.Record, dims []*field.CubeField,
	parentID string, appliedDims map[string]any, leafMap map[store.ID]*Row) []*Row {

	if len(records) == 0 {
		return nil
	}

	if len(dims) == 0 {
		rows := make([]*Row, len(records))
		for i, rec := range records {
			rec := rec
			id := parentID + RecordIDDelimiter + rec.ID()
			leaf := v.cachedRow(rowKey{parentID, rec.ID()}, nil, func() *Row {
				return newLeafRow(v, id, rec)
			})
			leafMap[rec.ID()] = leaf
			rows[i] = leaf
		}
		return rows
	}

	dim := dims[0]
	groups := groupRecords(records, dim.Name)

	rows := make([]*Row, 0, len(groups))
	for _, group := range groups {
		group := group
		applied := copyDims(appliedDims)
		applied[dim.Name] = group.val
		segment := dim.Name + "=[" + stringify(group.val) + "]"
		id := parentID + RecordIDDelimiter + segment

		children := v.groupAndInsertRecords(group.records, dims[1:], id, applied, leafMap)
		children = v.bucketRows(children, id, applied)

		rows = append(rows, v.cachedRow(rowKey{parentID, segment}, children, func() *Row {
			return newAggregateRow(v, id, children, dim, group.val, applied)
		}))
	}
	return rows
}

func (v *View) bucketRows(rows []*Row, parentID string, appliedDims map[string]any) []*Row {
	q := v.query
	if q.bucketSpecFn == nil {
		return rows
	}
	spec := q.bucketSpecFn(rows)
	if spec == nil {
		return rows
	}
	if !q.cfg.IncludeLeaves && len(rows) > 0 && rows[0].kind == RowLeaf {
		return rows
	}

	type bucket struct {
		val  any
		rows []*Row
	}
	var buckets []*bucket
	index := map[string]*bucket{}
	ret := make([]*Row, 0, len(rows))

	for _, row := range rows {
		bucketVal := spec.Bucket(row)
		if bucketVal == nil {
			ret = append(ret, row)
			continue
		}
		key := valueKey(bucketVal)
		b := index[key]
		if b == nil {
			b = &bucket{val: bucketVal}
			index[key] = b
			buckets = append(buckets, b)
		}
		b.rows = append(b.rows, row)
	}

	for _, b := range buckets {
		b := b
		segment := spec.Name + "=[" + stringify(b.val) + "]"
		id := parentID + RecordIDDelimiter + segment
		ret = append(ret, v.cachedRow(rowKey{parentID, segment}, b.rows, func() *Row {
			return newBucketRow(v, id, b.rows, b.val, spec, appliedDims)
		}))
	}
	return ret
}

// cachedRow returns the cached row for the key if its children are reference-identical to the
// freshly computed ones, skipping the rebuild of its data subtree. Cache misses build and cache a
// new row.
func (v *View) cachedRow(key rowKey, children []*Row, build func() *Row) *Row {
	if cached := v.rowCache[key]; cached != nil &&
		(cached.kind == RowLeaf || sameRows(cached.children, children)) {
		return cached
	}
	row := build()
	v.rowCache[key] = row
	return row
}

// getSimpleUpdates returns the subset of a change log that qualifies for the incremental patch
// path. ok is false when the change requires a full rebuild: complex or bucketed aggregations,
// adds or removes touching the leaf population, dimension-value updates, or filter membership
// flips.
func (v *View) getSimpleUpdates(cl *store.ChangeLog) (updates []*store.Record, ok bool) {
	if cl == nil {
		return nil, true
	}
	if !v.aggregatorsAreSimple() {
		return nil, false
	}
	// Bucket membership may depend on arbitrary row values, so any update could re-partition
	// a bucketed level.
	if v.query.bucketSpecFn != nil {
		return nil, false
	}

	q := v.query
	if q.Filter() == nil {
		if len(cl.Add) == 0 && len(cl.Remove) == 0 && !v.hasDimUpdates(cl.Update) {
			return cl.Update, true
		}
		return nil, false
	}

	for _, rec := range cl.Add {
		if q.Test(rec) {
			return nil, false
		}
	}
	for _, id := range cl.Remove {
		if v.leafMap[id] != nil {
			return nil, false
		}
	}

	var ret []*store.Record
	for _, rec := range cl.Update {
		passes := q.Test(rec)
		present := v.leafMap[rec.ID()] != nil
		if passes != present {
			return nil, false
		}
		if present {
			ret = append(ret, rec)
		}
	}

	if v.hasDimUpdates(ret) {
		return nil, false
	}
	return ret, true
}

func (v *View) hasDimUpdates(updates []*store.Record) bool {
	dims := v.query.dimensions
	if len(dims) == 0 {
		return false
	}
	for _, rec := range updates {
		leaf := v.leafMap[rec.ID()]
		if leaf == nil {
			continue
		}
		for _, dim := range dims {
			if !dim.IsEqual(rec.Get(dim.Name), leaf.data[dim.Name]) {
				return true
			}
		}
	}
	return false
}

func (v *View) aggregatorsAreSimple() bool {
	for _, f := range v.query.fields {
		if f.Aggregator != nil && !f.Aggregator.DependsOnChildrenOnly() {
			return false
		}
	}
	return true
}

func (v *View) loadStores() error {
	// Skip the degenerate empty tree in stores, but preserve it in the result.
	rows := v.rows
	if len(v.leafMap) == 0 {
		rows = nil
	}
	for _, s := range v.stores {
		if err := s.LoadData(rows); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) updateResults() {
	v.result = &Result{Rows: v.rows, LeafMap: v.leafMap}
	v.info = v.query.cube.info
	v.lastUpdated = time.Now()
}

//------------------------
// Helpers
//------------------------

type recordGroup struct {
	val     any
	records []*store.Record
}

// groupRecords partitions records by a field value, preserving first-seen group order.
func groupRecords(records []*store.Record, name string) []*recordGroup {
	var groups []*recordGroup
	index := map[string]*recordGroup{}
	for _, rec := range records {
		val := rec.Get(name)
		key := valueKey(val)
		g := index[key]
		if g == nil {
			g = &recordGroup{val: val}
			index[key] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}
	return groups
}

func valueKey(v any) string {
	key, err := util.CanonicalKey(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return key
}

func copyDims(dims map[string]any) map[string]any {
	ret := make(map[string]any, len(dims)+1)
	for k, v := range dims {
		ret[k] = v
	}
	return ret
}

func sameRows(a, b []*Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
