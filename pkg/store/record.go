// Package store implements the transactional record collection underlying cubes: immutable
// records, persistent structurally-shared record sets with parent/child indices, and a mutable
// store facade layering committed, current and filtered sets.
package store

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/l7mp/dcube/pkg/util"
)

// ID is the unique identifier of a record within a store.
type ID = string

// Record is the immutable wrapper around one row's parsed data. Records track committed versus
// current values for dirty state and carry their tree linkage as a parent id plus the ordered
// ancestor-id chain (including self).
//
// Records hold no pointer back to their containing set; parent/child navigation goes through the
// RecordSet or Store, which lets parents be recreated without recreating their children.
type Record struct {
	id            ID
	parentID      ID
	treePath      []ID
	data          map[string]any
	committedData map[string]any
	raw           map[string]any
	isSummary     bool
}

// RecordBuilder constructs a Record. Build is the freeze point: the resulting Record is an
// immutable value and its data map must not be mutated afterwards.
type RecordBuilder struct {
	rec          Record
	committedSet bool
}

// NewRecordBuilder starts building a record with the given id.
func NewRecordBuilder(id ID) *RecordBuilder {
	b := &RecordBuilder{}
	b.rec.id = id
	return b
}

// WithParent links the record under a parent, deriving the tree path.
func (b *RecordBuilder) WithParent(parent *Record) *RecordBuilder {
	if parent != nil {
		b.rec.parentID = parent.id
		b.rec.treePath = append(append([]ID{}, parent.treePath...), b.rec.id)
	}
	return b
}

// WithData sets the parsed field values. The map is taken over by the record.
func (b *RecordBuilder) WithData(data map[string]any) *RecordBuilder {
	b.rec.data = data
	return b
}

// WithCommittedData sets the committed baseline. Without this call the record is created clean,
// with committed data aliasing current data.
func (b *RecordBuilder) WithCommittedData(data map[string]any) *RecordBuilder {
	b.rec.committedData = data
	b.committedSet = true
	return b
}

// Uncommitted marks the record as a local add that has never been committed.
func (b *RecordBuilder) Uncommitted() *RecordBuilder {
	b.rec.committedData = nil
	b.committedSet = true
	return b
}

// WithRaw attaches the original pre-processing source object, for reference only.
func (b *RecordBuilder) WithRaw(raw map[string]any) *RecordBuilder {
	b.rec.raw = raw
	return b
}

// Summary marks the record as a summary (grand-total) record.
func (b *RecordBuilder) Summary(isSummary bool) *RecordBuilder {
	b.rec.isSummary = isSummary
	return b
}

// Build finalizes the record.
func (b *RecordBuilder) Build() (*Record, error) {
	rec := b.rec
	if rec.id == "" {
		return nil, fmt.Errorf("record needs an ID, use the store IDSpec config to derive a unique ID for each record")
	}
	if rec.data == nil {
		rec.data = map[string]any{}
	}
	rec.data["id"] = rec.id
	if !b.committedSet {
		rec.committedData = rec.data
	}
	if rec.treePath == nil {
		rec.treePath = []ID{rec.id}
	}
	return &rec, nil
}

// GenerateID returns a unique synthetic record id, for callers that cannot derive a natural one.
// Note that consumers keyed on record ids will not recognize such records across reloads.
func GenerateID() ID {
	return uuid.NewString()
}

func (r *Record) ID() ID          { return r.id }
func (r *Record) ParentID() ID    { return r.parentID }
func (r *Record) TreePath() []ID  { return r.treePath }
func (r *Record) Depth() int      { return len(r.treePath) - 1 }
func (r *Record) IsSummary() bool { return r.isSummary }

// Data returns the record's current field values. The map is reference-stable once the record is
// built, so identity comparison is a valid substitute for deep equality in the happy path.
func (r *Record) Data() map[string]any { return r.data }

// CommittedData returns the committed baseline, nil for uncommitted adds.
func (r *Record) CommittedData() map[string]any { return r.committedData }

// Raw returns the original source object, if retained.
func (r *Record) Raw() map[string]any { return r.raw }

// IsAdd reports whether the record has never been committed.
func (r *Record) IsAdd() bool { return r.committedData == nil }

// IsDirty reports whether the record has been modified since it was last committed.
func (r *Record) IsDirty() bool {
	return r.committedData != nil && !r.IsCommitted() &&
		!util.DeepEqualValues(r.committedData, r.data)
}

// IsCommitted reports whether current and committed data are the same object.
func (r *Record) IsCommitted() bool {
	return r.committedData != nil &&
		reflect.ValueOf(r.committedData).Pointer() == reflect.ValueOf(r.data).Pointer()
}

// Get returns the current value of a field.
func (r *Record) Get(name string) any { return r.data[name] }

// CommittedGet returns the committed value of a field; ok is false for uncommitted adds.
func (r *Record) CommittedGet(name string) (any, bool) {
	if r.committedData == nil {
		return nil, false
	}
	return r.committedData[name], true
}

// MatchesData tests whether the record's data matches the given partial data object.
func (r *Record) MatchesData(partial map[string]any) bool {
	for k, v := range partial {
		if !util.DeepEqualValues(r.data[k], v) {
			return false
		}
	}
	return true
}

// ModifiedData returns the id plus any fields differing from the committed baseline, or an empty
// map for clean records.
func (r *Record) ModifiedData() map[string]any {
	if !r.IsDirty() {
		return map[string]any{}
	}
	ret := map[string]any{"id": r.id}
	for name, val := range r.data {
		if name == "id" {
			continue
		}
		if !util.DeepEqualValues(r.committedData[name], val) {
			ret[name] = val
		}
	}
	return ret
}
