package store

// Transaction is a set of record-level changes applied to a RecordSet in one step. Updates
// replace existing records by id, adds insert new ones, removes delete records together with all
// of their descendants.
type Transaction struct {
	Update []*Record
	Add    []*Record
	Remove []ID
}

// IsEmpty reports whether the transaction carries no changes.
func (t Transaction) IsEmpty() bool {
	return len(t.Update) == 0 && len(t.Add) == 0 && len(t.Remove) == 0
}

// RawData is a source data object as fed into the store, keyed by field name.
type RawData = map[string]any

// ChildRawData adds raw records under an existing parent record.
type ChildRawData struct {
	ParentID ID
	RawData  []RawData
}

// RawTransaction is a set of raw data changes applied to a Store. Update entries must carry the
// id of an existing record, Add entries are inserted at the root, AddChildren entries under the
// named parents. RawSummary, if set, replaces the store's summary records.
type RawTransaction struct {
	Update      []RawData
	Add         []RawData
	AddChildren []ChildRawData
	Remove      []ID
	RawSummary  []RawData
}

// IsEmpty reports whether the transaction carries no changes.
func (t RawTransaction) IsEmpty() bool {
	return len(t.Update) == 0 && len(t.Add) == 0 && len(t.AddChildren) == 0 &&
		len(t.Remove) == 0 && len(t.RawSummary) == 0
}

// ChangeLog reports the record-level outcome of a store load or update, suitable for driving
// incremental consumers. Update and Add hold the post-change records, Remove the ids actually
// removed. Summary holds the new summary records if they changed.
type ChangeLog struct {
	Update  []*Record
	Add     []*Record
	Remove  []ID
	Summary []*Record
}

// IsEmpty reports whether the change log carries no changes.
func (c *ChangeLog) IsEmpty() bool {
	return c == nil ||
		(len(c.Update) == 0 && len(c.Add) == 0 && len(c.Remove) == 0 && len(c.Summary) == 0)
}
