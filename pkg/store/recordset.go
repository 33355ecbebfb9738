package store

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/dcube/pkg/filter"
	"github.com/l7mp/dcube/pkg/util"
)

// recordSetConfig carries the store settings a RecordSet needs to derive further sets.
type recordSetConfig struct {
	idEncodesTreePath      bool
	filterIncludesChildren bool
}

// RecordSet is an immutable, ordered collection of records indexed by id. Deriving operations
// (WithFilter, WithNewRecords, WithTransaction) return new sets that share unchanged record
// references with the source set, so reference identity survives round trips and consumers can
// detect changes cheaply.
//
// Records are kept in insertion order and all derivations preserve it, making iteration and any
// grouping built on top deterministic.
type RecordSet struct {
	cfg recordSetConfig
	log logr.Logger

	ids       []ID
	recordMap map[ID]*Record

	// lazy indices
	list        []*Record
	rootList    []*Record
	childrenMap map[ID][]*Record
	indexed     bool
	maxDepth    int
	maxDepthOK  bool
}

func newRecordSet(cfg recordSetConfig, log logr.Logger) *RecordSet {
	return &RecordSet{cfg: cfg, log: log, recordMap: map[ID]*Record{}}
}

func (rs *RecordSet) derive(ids []ID, recordMap map[ID]*Record) *RecordSet {
	return &RecordSet{cfg: rs.cfg, log: rs.log, ids: ids, recordMap: recordMap}
}

// Count returns the number of records in the set.
func (rs *RecordSet) Count() int { return len(rs.ids) }

// RootCount returns the number of root records in the set.
func (rs *RecordSet) RootCount() int { return len(rs.Roots()) }

// Empty reports whether the set holds no records.
func (rs *RecordSet) Empty() bool { return len(rs.ids) == 0 }

// GetByID returns the record with the given id, or nil.
func (rs *RecordSet) GetByID(id ID) *Record { return rs.recordMap[id] }

// List returns all records in insertion order. The returned slice is shared, callers must not
// modify it.
func (rs *RecordSet) List() []*Record {
	rs.ensureIndexes()
	return rs.list
}

// Roots returns the records without a parent in this set, in insertion order.
func (rs *RecordSet) Roots() []*Record {
	rs.ensureIndexes()
	return rs.rootList
}

// ChildrenOf returns the direct children of the given record id, in insertion order.
func (rs *RecordSet) ChildrenOf(id ID) []*Record {
	rs.ensureIndexes()
	return rs.childrenMap[id]
}

// DescendantsOf returns all descendants of the given record id, depth first.
func (rs *RecordSet) DescendantsOf(id ID) []*Record {
	var ret []*Record
	for _, child := range rs.ChildrenOf(id) {
		ret = append(ret, child)
		ret = append(ret, rs.DescendantsOf(child.id)...)
	}
	return ret
}

// AncestorsOf returns the ancestors of the given record id, nearest first.
func (rs *RecordSet) AncestorsOf(id ID) []*Record {
	var ret []*Record
	rec := rs.GetByID(id)
	for rec != nil && rec.parentID != "" {
		rec = rs.GetByID(rec.parentID)
		if rec == nil {
			break
		}
		ret = append(ret, rec)
	}
	return ret
}

// MaxDepth returns the maximum tree depth of any record in the set, 0 for flat data.
func (rs *RecordSet) MaxDepth() int {
	if !rs.maxDepthOK {
		for _, rec := range rs.recordMap {
			if d := rec.Depth(); d > rs.maxDepth {
				rs.maxDepth = d
			}
		}
		rs.maxDepthOK = true
	}
	return rs.maxDepth
}

// IsEqual compares two sets record by record, counting reference-identical or data-equal records
// as equal.
func (rs *RecordSet) IsEqual(other *RecordSet) bool {
	if rs == other {
		return true
	}
	if other == nil || rs.Count() != other.Count() {
		return false
	}
	for id, rec := range rs.recordMap {
		if !rs.recordsEqual(rec, other.recordMap[id]) {
			return false
		}
	}
	return true
}

// Normalize returns the target set if this set is equal to it, allowing callers to short-circuit
// no-op derivations back to a canonical instance.
func (rs *RecordSet) Normalize(target *RecordSet) *RecordSet {
	if rs.IsEqual(target) {
		return target
	}
	return rs
}

// WithFilter derives the subset of records passing the given filter. Ancestors of passing records
// are always included to keep the tree connected; descendants are included as well when the set
// is configured with filterIncludesChildren.
func (rs *RecordSet) WithFilter(f filter.Filter, flds filter.Fields) *RecordSet {
	if f == nil {
		return rs
	}
	test := f.TestFn(flds)
	passes := make(map[ID]*Record, len(rs.ids))

	for _, id := range rs.ids {
		rec := rs.recordMap[id]
		if passes[id] == nil && test(rec) {
			passes[id] = rec
			if rs.cfg.filterIncludesChildren {
				rs.markDescendants(rec, passes)
			}
		}
	}

	// Walk up to include ancestors of any passing record.
	for _, id := range rs.ids {
		rec := passes[id]
		if rec == nil {
			continue
		}
		for rec.parentID != "" {
			parent := rs.recordMap[rec.parentID]
			if parent == nil || passes[parent.id] != nil {
				break
			}
			passes[parent.id] = parent
			rec = parent
		}
	}

	ids := make([]ID, 0, len(passes))
	newMap := make(map[ID]*Record, len(passes))
	for _, id := range rs.ids {
		if rec := passes[id]; rec != nil {
			ids = append(ids, id)
			newMap[id] = rec
		}
	}
	return rs.derive(ids, newMap)
}

// WithNewRecords derives a set holding exactly the given records, reusing the reference of any
// existing record equal to its replacement. Reference reuse is what keeps unchanged subtrees
// identical across full reloads.
func (rs *RecordSet) WithNewRecords(records []*Record) *RecordSet {
	ids := make([]ID, 0, len(records))
	newMap := make(map[ID]*Record, len(records))
	for _, rec := range records {
		if cur := rs.recordMap[rec.id]; cur != nil && rs.recordsEqual(cur, rec) {
			rec = cur
		}
		ids = append(ids, rec.id)
		newMap[rec.id] = rec
	}
	return rs.derive(ids, newMap)
}

// WithTransaction derives a set with the transaction applied. Removes cascade to descendants and
// are applied first, so a transaction may remove a subtree and re-add records under a new parent.
// Updates and removes referencing missing records are skipped with a log entry; adding a record
// with an existing id is an error.
func (rs *RecordSet) WithTransaction(t Transaction) (*RecordSet, error) {
	newMap := make(map[ID]*Record, len(rs.recordMap)+len(t.Add))
	for id, rec := range rs.recordMap {
		newMap[id] = rec
	}

	missingRemoves, missingUpdates := 0, 0

	removed := map[ID]bool{}
	for _, id := range t.Remove {
		if rs.recordMap[id] == nil {
			missingRemoves++
			continue
		}
		removed[id] = true
		delete(newMap, id)
		for _, desc := range rs.DescendantsOf(id) {
			removed[desc.id] = true
			delete(newMap, desc.id)
		}
	}

	for _, rec := range t.Update {
		if _, ok := newMap[rec.id]; !ok {
			missingUpdates++
			continue
		}
		newMap[rec.id] = rec
	}

	ids := make([]ID, 0, len(newMap))
	for _, id := range rs.ids {
		if !removed[id] {
			ids = append(ids, id)
		}
	}

	for _, rec := range t.Add {
		if _, ok := newMap[rec.id]; ok {
			return nil, fmt.Errorf("cannot add record with duplicate ID %q", rec.id)
		}
		newMap[rec.id] = rec
		ids = append(ids, rec.id)
	}

	if missingRemoves > 0 || missingUpdates > 0 {
		rs.log.V(1).Info("skipped transaction entries referencing missing records",
			"missing-removes", missingRemoves, "missing-updates", missingUpdates)
	}

	return rs.derive(ids, newMap), nil
}

//------------------------
// Implementation
//------------------------

func (rs *RecordSet) recordsEqual(r1, r2 *Record) bool {
	if r1 == r2 {
		return true
	}
	if r1 == nil || r2 == nil {
		return false
	}
	if !util.DeepEqualValues(r1.data, r2.data) {
		return false
	}
	// When ids encode the tree path, equal data implies an equal position in the tree.
	if rs.cfg.idEncodesTreePath {
		return true
	}
	if len(r1.treePath) != len(r2.treePath) {
		return false
	}
	for i := range r1.treePath {
		if r1.treePath[i] != r2.treePath[i] {
			return false
		}
	}
	return true
}

func (rs *RecordSet) markDescendants(rec *Record, passes map[ID]*Record) {
	for _, child := range rs.ChildrenOf(rec.id) {
		if passes[child.id] == nil {
			passes[child.id] = child
			rs.markDescendants(child, passes)
		}
	}
}

func (rs *RecordSet) ensureIndexes() {
	if rs.indexed {
		return
	}
	rs.list = make([]*Record, 0, len(rs.ids))
	rs.childrenMap = map[ID][]*Record{}
	for _, id := range rs.ids {
		rec := rs.recordMap[id]
		rs.list = append(rs.list, rec)
		if rec.parentID == "" || rs.recordMap[rec.parentID] == nil {
			rs.rootList = append(rs.rootList, rec)
		} else {
			rs.childrenMap[rec.parentID] = append(rs.childrenMap[rec.parentID], rec)
		}
	}
	rs.indexed = true
}
