package store

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/filter"
	"github.com/l7mp/dcube/pkg/util"
)

// IDSpec specifies how to derive the unique id of a record from its raw source data. It is either
// the name of a field holding the id (default "id"), a func(RawData) ID, or a
// func(RawData) (ID, error).
type IDSpec = any

// Config describes a Store to be constructed.
type Config struct {
	// Fields declares the typed columns of this store.
	Fields []*field.Field

	// IDSpec derives record ids from raw data, default the "id" property.
	IDSpec IDSpec

	// ProcessRawData, if set, preprocesses each raw data object before field parsing. It must
	// return a new object and leave its input unmodified.
	ProcessRawData func(RawData) RawData

	// Filter to apply to the loaded records.
	Filter filter.Filter

	// FilterIncludesChildren keeps all descendants of a passing record visible, regardless of
	// whether they pass themselves.
	FilterIncludesChildren bool

	// ChildrenProperty names the raw data property holding child records for hierarchical
	// loading. Defaults to "children"; set to "-" to disable tree ingestion.
	ChildrenProperty string

	// LoadRootAsSummary treats the single root of loaded data as the store's summary record,
	// loading its children as the store's root records.
	LoadRootAsSummary bool

	// FreezeData deep-copies parsed values so records do not alias the raw source objects.
	// Leave false when the caller guarantees the source data is not mutated after loading.
	FreezeData bool

	// IDEncodesTreePath declares that record ids already encode their full tree position,
	// letting equality checks skip tree path comparison.
	IDEncodesTreePath bool

	// Logger is the logger to use. Defaults to a no-op logger.
	Logger logr.Logger
}

// Store is a mutable, observable collection of typed records. It maintains three record sets: the
// committed set as loaded from the source of truth, the current set layering local modifications
// on top, and the filtered set exposing the current records passing the active filter.
//
// Stores are not safe for concurrent use; callers serialize access.
type Store struct {
	cfg      Config
	log      logr.Logger
	fields   []*field.Field
	fieldMap map[string]*field.Field
	idFn     func(RawData) (ID, error)

	committed *RecordSet
	current   *RecordSet
	filtered  *RecordSet
	fltr      filter.Filter

	summaryRecords []*Record

	validator   *Validator
	subscribers []func(*ChangeLog)

	lastLoaded  time.Time
	lastUpdated time.Time
}

// New creates an empty Store from a config.
func New(cfg Config) (*Store, error) {
	idFn, err := parseIDSpec(cfg.IDSpec)
	if err != nil {
		return nil, err
	}
	if cfg.ChildrenProperty == "" {
		cfg.ChildrenProperty = "children"
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	s := &Store{
		cfg:      cfg,
		log:      log,
		fieldMap: map[string]*field.Field{},
		idFn:     idFn,
		fltr:     cfg.Filter,
	}
	for _, f := range cfg.Fields {
		if _, ok := s.fieldMap[f.Name]; ok {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.fieldMap[f.Name] = f
		s.fields = append(s.fields, f)
	}

	rsCfg := recordSetConfig{
		idEncodesTreePath:      cfg.IDEncodesTreePath,
		filterIncludesChildren: cfg.FilterIncludesChildren,
	}
	s.committed = newRecordSet(rsCfg, log)
	s.current = s.committed
	s.filtered = s.committed
	s.validator = newValidator(s)
	return s, nil
}

// Fields returns the store's fields.
func (s *Store) Fields() []*field.Field { return s.fields }

// GetField returns the field with the given name, or nil.
func (s *Store) GetField(name string) *field.Field { return s.fieldMap[name] }

// FieldType resolves a field's type for filter compilation.
func (s *Store) FieldType(name string) (field.Type, bool) {
	f := s.fieldMap[name]
	if f == nil {
		return field.TypeAuto, false
	}
	return f.Type, true
}

//------------------------
// Loading and updating
//------------------------

// LoadData replaces all records in the store with the given raw data, discarding any local
// modifications. Summary data may be passed explicitly, or as the single root of the data when
// configured with LoadRootAsSummary.
func (s *Store) LoadData(rawData []RawData, rawSummary ...RawData) error {
	summary := rawSummary
	if s.cfg.LoadRootAsSummary && len(rawData) > 0 {
		if len(rawData) != 1 || len(summary) > 0 {
			return fmt.Errorf("loading root as summary requires a single root node and no " +
				"extra summary data")
		}
		summary = rawData[:1]
		rawData = asRawList(rawData[0][s.cfg.ChildrenProperty])
	}

	var records []*Record
	seen := map[ID]bool{}
	if err := s.createRecords(rawData, nil, seen, &records); err != nil {
		return err
	}
	sums, err := s.buildSummaries(summary)
	if err != nil {
		return err
	}

	s.committed = s.committed.WithNewRecords(records)
	s.current = s.committed
	s.summaryRecords = sums
	s.rebuildFiltered()
	s.validator.refresh()
	s.lastLoaded = time.Now()
	s.lastUpdated = s.lastLoaded

	s.log.V(2).Info("loaded store data", "records", s.committed.Count(),
		"summaries", len(sums))
	s.notify(nil)
	return nil
}

// Clear removes all records from the store.
func (s *Store) Clear() error { return s.LoadData(nil) }

// UpdateData applies a raw transaction to the committed data, re-layering any local modifications
// on top, and returns the record-level change log.
func (s *Store) UpdateData(txn RawTransaction) (*ChangeLog, error) {
	if txn.IsEmpty() {
		return &ChangeLog{}, nil
	}

	cl := &ChangeLog{}

	missing := 0
	for _, raw := range txn.Update {
		id, err := s.idFn(raw)
		if err != nil {
			return nil, err
		}
		cur := s.committed.GetByID(id)
		if cur == nil {
			if s.isSummaryID(id) {
				txn.RawSummary = append(txn.RawSummary, raw)
				continue
			}
			missing++
			continue
		}
		rec, err := s.createRecord(raw, s.committed.GetByID(cur.parentID), false)
		if err != nil {
			return nil, err
		}
		cl.Update = append(cl.Update, rec)
	}
	if missing > 0 {
		s.log.V(1).Info("skipped updates for records not in the store", "count", missing)
	}

	seen := map[ID]bool{}
	if err := s.createRecords(txn.Add, nil, seen, &cl.Add); err != nil {
		return nil, err
	}
	for _, ch := range txn.AddChildren {
		parent := s.committed.GetByID(ch.ParentID)
		if parent == nil {
			return nil, fmt.Errorf("cannot add children, parent record %q not found",
				ch.ParentID)
		}
		if err := s.createRecords(ch.RawData, parent, seen, &cl.Add); err != nil {
			return nil, err
		}
	}

	// Resolve the remove cascade against the pre-transaction set for the change log.
	for _, id := range txn.Remove {
		if s.committed.GetByID(id) == nil {
			continue
		}
		cl.Remove = append(cl.Remove, id)
		for _, desc := range s.committed.DescendantsOf(id) {
			cl.Remove = append(cl.Remove, desc.id)
		}
	}

	recTxn := Transaction{Update: cl.Update, Add: cl.Add, Remove: txn.Remove}
	newCommitted, err := s.committed.WithTransaction(recTxn)
	if err != nil {
		return nil, err
	}
	if s.current == s.committed {
		s.current = newCommitted
	} else {
		// Local modifications present: replay the transaction on the current set, letting
		// source updates win over local edits to the same records.
		newCurrent, err := s.current.WithTransaction(recTxn)
		if err != nil {
			return nil, err
		}
		s.current = newCurrent.Normalize(newCommitted)
	}
	s.committed = newCommitted

	if len(txn.RawSummary) > 0 {
		sums, err := s.buildSummaries(txn.RawSummary)
		if err != nil {
			return nil, err
		}
		s.summaryRecords = sums
		cl.Summary = sums
	}

	s.rebuildFiltered()
	s.validator.refresh()
	s.lastUpdated = time.Now()

	s.log.V(2).Info("updated store data", "updates", len(cl.Update), "adds", len(cl.Add),
		"removes", len(cl.Remove))
	s.notify(cl)
	return cl, nil
}

// UpdateRawData applies partial raw rows to the committed data, splitting them into updates and
// adds by the presence of their derived id.
func (s *Store) UpdateRawData(rows []RawData) (*ChangeLog, error) {
	var txn RawTransaction
	for _, raw := range rows {
		id, err := s.idFn(raw)
		if err != nil {
			return nil, err
		}
		if s.committed.GetByID(id) != nil || s.isSummaryID(id) {
			txn.Update = append(txn.Update, raw)
		} else {
			txn.Add = append(txn.Add, raw)
		}
	}
	return s.UpdateData(txn)
}

//------------------------
// Local modifications
//------------------------

// AddRecords adds new, uncommitted records to the store, under the given parent record or at the
// root when parentID is empty.
func (s *Store) AddRecords(parentID ID, rawRecs ...RawData) error {
	var parent *Record
	if parentID != "" {
		parent = s.current.GetByID(parentID)
		if parent == nil {
			return fmt.Errorf("cannot add records, parent record %q not found", parentID)
		}
	}

	var recs []*Record
	for _, raw := range rawRecs {
		rec, err := s.createUncommittedRecord(raw, parent)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	newCurrent, err := s.current.WithTransaction(Transaction{Add: recs})
	if err != nil {
		return err
	}
	s.current = newCurrent
	s.rebuildFiltered()
	s.validator.refresh()
	s.notify(&ChangeLog{Add: recs})
	return nil
}

// RemoveRecords removes records (and their descendants) from the current set as a local,
// uncommitted modification.
func (s *Store) RemoveRecords(ids ...ID) error {
	newCurrent, err := s.current.WithTransaction(Transaction{Remove: ids})
	if err != nil {
		return err
	}
	s.current = newCurrent.Normalize(s.committed)
	s.rebuildFiltered()
	s.validator.refresh()
	s.notify(&ChangeLog{Remove: ids})
	return nil
}

// ModifyRecords applies partial field modifications to current records as local, uncommitted
// edits. Each entry must carry the id of the record to modify. No-op modifications are dropped,
// and records modified back to their committed values revert to clean.
func (s *Store) ModifyRecords(mods ...RawData) (*ChangeLog, error) {
	var updateRecs []*Record
	seen := map[ID]bool{}
	missing := 0

	for _, mod := range mods {
		id, ok := field.Parse(mod["id"], field.TypeString, nil).(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("record modification requires an id")
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		cur := s.current.GetByID(id)
		if cur == nil {
			missing++
			continue
		}

		newData := s.parseUpdate(cur.data, mod)
		if util.DeepEqualValues(newData, cur.data) {
			continue
		}

		var rec *Record
		if cur.committedData != nil && util.DeepEqualValues(newData, cur.committedData) {
			// Modified back to the committed state: restore the committed record.
			rec = s.committed.GetByID(id)
		}
		if rec == nil {
			b := NewRecordBuilder(id).
				WithData(newData).
				WithParent(s.current.GetByID(cur.parentID)).
				WithRaw(cur.raw)
			if cur.committedData == nil {
				b.Uncommitted()
			} else {
				b.WithCommittedData(cur.committedData)
			}
			var err error
			rec, err = b.Build()
			if err != nil {
				return nil, err
			}
		}
		updateRecs = append(updateRecs, rec)
	}
	if missing > 0 {
		s.log.V(1).Info("skipped modifications for records not in the store",
			"count", missing)
	}
	if len(updateRecs) == 0 {
		return &ChangeLog{}, nil
	}

	newCurrent, err := s.current.WithTransaction(Transaction{Update: updateRecs})
	if err != nil {
		return nil, err
	}
	s.current = newCurrent.Normalize(s.committed)
	s.rebuildFiltered()
	s.validator.refresh()

	cl := &ChangeLog{Update: updateRecs}
	s.notify(cl)
	return cl, nil
}

// RevertRecords restores records to their committed state, removing uncommitted adds.
func (s *Store) RevertRecords(ids ...ID) error {
	var txn Transaction
	for _, id := range ids {
		if rec := s.committed.GetByID(id); rec != nil {
			txn.Update = append(txn.Update, rec)
		} else if s.current.GetByID(id) != nil {
			txn.Remove = append(txn.Remove, id)
		}
	}
	newCurrent, err := s.current.WithTransaction(txn)
	if err != nil {
		return err
	}
	s.current = newCurrent.Normalize(s.committed)
	s.rebuildFiltered()
	s.validator.refresh()
	s.notify(nil)
	return nil
}

// Revert discards all local modifications, restoring the committed state.
func (s *Store) Revert() {
	if s.current == s.committed {
		return
	}
	s.current = s.committed
	s.rebuildFiltered()
	s.validator.refresh()
	s.notify(nil)
}

//------------------------
// Filtering
//------------------------

// Filter returns the active filter, nil if none.
func (s *Store) Filter() filter.Filter { return s.fltr }

// SetFilter replaces the active filter; a nil filter passes all records.
func (s *Store) SetFilter(f filter.Filter) {
	if filter.Equal(s.fltr, f) {
		return
	}
	s.fltr = f
	s.rebuildFiltered()
	s.notify(nil)
}

// RefreshFilter re-evaluates the active filter, for filters with external state.
func (s *Store) RefreshFilter() {
	s.rebuildFiltered()
	s.notify(nil)
}

// RecordIsFiltered reports whether a record is present but currently excluded by the filter.
func (s *Store) RecordIsFiltered(id ID) bool {
	return s.filtered.GetByID(id) == nil && s.current.GetByID(id) != nil
}

//------------------------
// Accessors
//------------------------

// Records returns all records passing the active filter, in insertion order.
func (s *Store) Records() []*Record { return s.filtered.List() }

// AllRecords returns all records, unfiltered.
func (s *Store) AllRecords() []*Record { return s.current.List() }

// CommittedRecords returns the committed records, without filters or local modifications.
func (s *Store) CommittedRecords() []*Record { return s.committed.List() }

// RootRecords returns the filtered root records.
func (s *Store) RootRecords() []*Record { return s.filtered.Roots() }

// AllRootRecords returns all root records, unfiltered.
func (s *Store) AllRootRecords() []*Record { return s.current.Roots() }

// AddedRecords returns the locally added, uncommitted records.
func (s *Store) AddedRecords() []*Record {
	var ret []*Record
	for _, rec := range s.current.List() {
		if rec.IsAdd() {
			ret = append(ret, rec)
		}
	}
	return ret
}

// RemovedRecords returns committed records locally removed from the current set.
func (s *Store) RemovedRecords() []*Record {
	var ret []*Record
	for _, rec := range s.committed.List() {
		if s.current.GetByID(rec.id) == nil {
			ret = append(ret, rec)
		}
	}
	return ret
}

// ModifiedRecords returns committed records carrying local modifications.
func (s *Store) ModifiedRecords() []*Record {
	var ret []*Record
	for _, rec := range s.current.List() {
		if rec.IsDirty() {
			ret = append(ret, rec)
		}
	}
	return ret
}

// IsDirty reports whether the store carries any local modifications.
func (s *Store) IsDirty() bool { return s.current != s.committed }

// SummaryRecords returns the store's summary records, if any.
func (s *Store) SummaryRecords() []*Record { return s.summaryRecords }

// SummaryRecord returns the primary summary record, or nil.
func (s *Store) SummaryRecord() *Record {
	if len(s.summaryRecords) == 0 {
		return nil
	}
	return s.summaryRecords[0]
}

func (s *Store) Count() int             { return s.filtered.Count() }
func (s *Store) AllCount() int          { return s.current.Count() }
func (s *Store) RootCount() int         { return s.filtered.RootCount() }
func (s *Store) AllRootCount() int      { return s.current.RootCount() }
func (s *Store) Empty() bool            { return s.filtered.Empty() }
func (s *Store) AllEmpty() bool         { return s.current.Empty() }
func (s *Store) MaxDepth() int          { return s.filtered.MaxDepth() }
func (s *Store) LastLoaded() time.Time  { return s.lastLoaded }
func (s *Store) LastUpdated() time.Time { return s.lastUpdated }

// GetByID returns the record with the given id, respecting the active filter when requested.
// Summary records are resolved by id as well.
func (s *Store) GetByID(id ID, respectFilter bool) *Record {
	for _, sum := range s.summaryRecords {
		if sum.id == id {
			return sum
		}
	}
	if respectFilter {
		return s.filtered.GetByID(id)
	}
	return s.current.GetByID(id)
}

// ChildrenOf returns the direct children of a record.
func (s *Store) ChildrenOf(id ID, respectFilter bool) []*Record {
	return s.pick(respectFilter).ChildrenOf(id)
}

// ParentOf returns the parent of a record, or nil for roots.
func (s *Store) ParentOf(rec *Record, respectFilter bool) *Record {
	if rec == nil || rec.parentID == "" {
		return nil
	}
	return s.pick(respectFilter).GetByID(rec.parentID)
}

// DescendantsOf returns all descendants of a record, depth first.
func (s *Store) DescendantsOf(id ID, respectFilter bool) []*Record {
	return s.pick(respectFilter).DescendantsOf(id)
}

// AncestorsOf returns all ancestors of a record, nearest first.
func (s *Store) AncestorsOf(id ID, respectFilter bool) []*Record {
	return s.pick(respectFilter).AncestorsOf(id)
}

// Validator returns the store's validator, exposing rule violations for current records.
func (s *Store) Validator() *Validator { return s.validator }

// OnChange registers a callback invoked after every store mutation. A nil change log signals a
// full reload or a filter change, requiring consumers to re-read the store.
func (s *Store) OnChange(fn func(*ChangeLog)) {
	s.subscribers = append(s.subscribers, fn)
}

//------------------------
// Implementation
//------------------------

func (s *Store) pick(respectFilter bool) *RecordSet {
	if respectFilter {
		return s.filtered
	}
	return s.current
}

func (s *Store) rebuildFiltered() {
	s.filtered = s.current.WithFilter(s.fltr, s)
}

func (s *Store) notify(cl *ChangeLog) {
	for _, fn := range s.subscribers {
		fn(cl)
	}
}

func (s *Store) isSummaryID(id ID) bool {
	for _, sum := range s.summaryRecords {
		if sum.id == id {
			return true
		}
	}
	return false
}

// parseRaw parses a raw data object into typed field values, applying defaults for missing
// fields. Unknown raw properties are dropped.
func (s *Store) parseRaw(raw RawData) map[string]any {
	data := make(map[string]any, len(s.fields)+1)
	for _, f := range s.fields {
		data[f.Name] = f.Parse(raw[f.Name])
	}
	return data
}

// parseUpdate layers parsed modifications on top of existing record data.
func (s *Store) parseUpdate(cur map[string]any, mod RawData) map[string]any {
	data := make(map[string]any, len(cur))
	for k, v := range cur {
		data[k] = v
	}
	for k, v := range mod {
		if k == "id" {
			continue
		}
		f := s.fieldMap[k]
		if f == nil {
			continue
		}
		data[k] = f.Parse(v)
	}
	return data
}

func (s *Store) createRecord(raw RawData, parent *Record, isSummary bool) (*Record, error) {
	if s.cfg.ProcessRawData != nil {
		raw = s.cfg.ProcessRawData(raw)
	}
	id, err := s.idFn(raw)
	if err != nil {
		return nil, err
	}
	data := s.parseRaw(raw)
	if s.cfg.FreezeData {
		data = util.DeepCopyData(data)
	}
	return NewRecordBuilder(id).
		WithData(data).
		WithParent(parent).
		WithRaw(raw).
		Summary(isSummary).
		Build()
}

func (s *Store) createUncommittedRecord(raw RawData, parent *Record) (*Record, error) {
	if s.cfg.ProcessRawData != nil {
		raw = s.cfg.ProcessRawData(raw)
	}
	id, err := s.idFn(raw)
	if err != nil {
		return nil, err
	}
	data := s.parseRaw(raw)
	if s.cfg.FreezeData {
		data = util.DeepCopyData(data)
	}
	return NewRecordBuilder(id).
		WithData(data).
		WithParent(parent).
		WithRaw(raw).
		Uncommitted().
		Build()
}

// createRecords recursively creates records from raw data, descending into the configured
// children property.
func (s *Store) createRecords(rawList []RawData, parent *Record, seen map[ID]bool, out *[]*Record) error {
	for _, raw := range rawList {
		rec, err := s.createRecord(raw, parent, false)
		if err != nil {
			return err
		}
		if seen[rec.id] {
			return fmt.Errorf("duplicate record ID %q", rec.id)
		}
		seen[rec.id] = true
		*out = append(*out, rec)

		if s.cfg.ChildrenProperty != "-" {
			if kids := asRawList(raw[s.cfg.ChildrenProperty]); len(kids) > 0 {
				if err := s.createRecords(kids, rec, seen, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) buildSummaries(rawSummary []RawData) ([]*Record, error) {
	var ret []*Record
	for _, raw := range rawSummary {
		rec, err := s.createRecord(raw, nil, true)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	return ret, nil
}

func parseIDSpec(spec IDSpec) (func(RawData) (ID, error), error) {
	switch v := spec.(type) {
	case nil:
		return idFromProperty("id"), nil
	case string:
		if v == "" {
			return idFromProperty("id"), nil
		}
		return idFromProperty(v), nil
	case func(RawData) ID:
		return func(raw RawData) (ID, error) { return v(raw), nil }, nil
	case func(RawData) (ID, error):
		return v, nil
	}
	return nil, fmt.Errorf("IDSpec must be a field name or an id-generating function")
}

func idFromProperty(name string) func(RawData) (ID, error) {
	return func(raw RawData) (ID, error) {
		id, ok := field.Parse(raw[name], field.TypeString, nil).(string)
		if !ok || id == "" {
			return "", fmt.Errorf("record needs an ID, missing or empty %q property", name)
		}
		return id, nil
	}
}

func asRawList(v any) []RawData {
	switch val := v.(type) {
	case nil:
		return nil
	case []RawData:
		return val
	case []any:
		ret := make([]RawData, 0, len(val))
		for _, it := range val {
			if m, ok := it.(map[string]any); ok {
				ret = append(ret, m)
			}
		}
		return ret
	}
	return nil
}
