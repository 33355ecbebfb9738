package cube

import (
	"github.com/l7mp/dcube/pkg/field"
)

// BucketSpec describes a dynamic sub-grouping of the rows at one level of the generated
// hierarchy, independent of the static dimension list.
type BucketSpec struct {
	// Name of the bucket dimension, used in row ids and the bucket marker on bucketed rows.
	Name string

	// Bucket assigns a row to a bucket by returning the bucket value, or nil to leave the row
	// in place at its own level.
	Bucket func(row *Row) any

	// LabelFn renders the user-facing label of a bucket, default the stringified bucket value.
	LabelFn func(val any) string
}

// Label returns the display label for a bucket value.
func (b *BucketSpec) Label(val any) string {
	if b.LabelFn != nil {
		return b.LabelFn(val)
	}
	s, _ := field.Parse(val, field.TypeString, nil).(string)
	return s
}

// BucketSpecFn is called with the freshly generated rows of each hierarchy level to decide
// whether (and how) they should be re-partitioned into buckets. Return nil to skip bucketing.
type BucketSpecFn func(rows []*Row) *BucketSpec

// LockFn marks an aggregate row as locked, hiding its children from the visible tree while
// retaining them for aggregation.
type LockFn func(row *Row) bool

// OmitFn strips an aggregate row from the visible tree, promoting its children to its parent
// without losing their contribution to ancestor aggregates.
type OmitFn func(row *Row) bool
