package field

import (
	"fmt"

	"github.com/l7mp/dcube/pkg/aggregate"
)

// CanAggregateFn decides per grouping node whether a field's aggregator applies. It receives the
// dimension or bucket name of the node, the grouping value, and the dimension values applied on
// the path from the root.
type CanAggregateFn func(dimOrBucketName string, value any, appliedDimensions map[string]any) bool

// CubeConfig describes a CubeField to be constructed.
type CubeConfig struct {
	Config

	// IsDimension marks the field as usable for grouping leaf records into hierarchy levels.
	IsDimension bool

	// Aggregator is the token of the reduction strategy for this field (SUM, AVG, MIN, MAX,
	// UNIQUE, SINGLE, COUNT, LEAF_COUNT, NULL, plus _STRICT variants). Dimension fields
	// default to UNIQUE; other fields default to no aggregation.
	Aggregator string

	// AggregatorInstance overrides Aggregator with a custom strategy.
	AggregatorInstance aggregate.Aggregator

	// CanAggregateFn optionally restricts where the aggregator applies.
	CanAggregateFn CanAggregateFn

	// IsLeafDimension marks a dimension that will never have children under it.
	IsLeafDimension bool

	// ParentDimension names the dimension one level up in a natural drill-down relationship,
	// enabling redundant-node elision. Must itself name a dimension field.
	ParentDimension string
}

// CubeField extends Field with the aggregation metadata used by cubes and views.
type CubeField struct {
	Field

	IsDimension     bool
	Aggregator      aggregate.Aggregator
	CanAggregateFn  CanAggregateFn
	IsLeafDimension bool
	ParentDimension string
}

// NewCube creates a CubeField from a config. Unknown aggregator tokens are configuration errors.
// The ParentDimension cross-reference is validated by the owning cube, which knows the full field
// set.
func NewCube(c CubeConfig) (*CubeField, error) {
	base, err := New(c.Config)
	if err != nil {
		return nil, err
	}

	agg := c.AggregatorInstance
	if agg == nil {
		switch {
		case c.Aggregator != "":
			agg, err = aggregate.ForToken(c.Aggregator)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", c.Name, err)
			}
		case c.IsDimension:
			agg = aggregate.Unique{}
		}
	}

	if c.ParentDimension != "" && !c.IsDimension {
		return nil, fmt.Errorf("field %q: parentDimension set on a non-dimension field", c.Name)
	}

	return &CubeField{
		Field:           *base,
		IsDimension:     c.IsDimension,
		Aggregator:      agg,
		CanAggregateFn:  c.CanAggregateFn,
		IsLeafDimension: c.IsLeafDimension,
		ParentDimension: c.ParentDimension,
	}, nil
}
