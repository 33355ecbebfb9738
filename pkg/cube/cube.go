// Package cube implements an in-memory multidimensional aggregation engine: a cube of flat leaf
// facts, value-comparable queries declaring a grouping hierarchy, and incrementally maintained
// views exposing the aggregated row tree.
package cube

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/store"
)

// RecordIDDelimiter joins the path segments of generated row ids.
const RecordIDDelimiter = ">>"

// Config describes a Cube to be constructed.
type Config struct {
	// Fields declares the cube's typed columns with their aggregation metadata.
	Fields []field.CubeConfig

	// FieldDefaults is applied to every field config before construction, filling unset
	// type, aggregator and aggregation-eligibility settings.
	FieldDefaults field.CubeConfig

	// Data is the initial raw leaf data, optional.
	Data []store.RawData

	// IDSpec derives record ids from raw data, default the "id" property.
	IDSpec store.IDSpec

	// ProcessRawData, if set, preprocesses each raw data object before field parsing.
	ProcessRawData func(store.RawData) store.RawData

	// Info is app-specific metadata associated with the cube's dataset.
	Info map[string]any

	// LockFn, BucketSpecFn and OmitFn are cube-level defaults for the corresponding query
	// options.
	LockFn       LockFn
	BucketSpecFn BucketSpecFn
	OmitFn       OmitFn

	// Logger is the logger to use. Defaults to a no-op logger.
	Logger logr.Logger
}

// Cube supports grouping, aggregating and filtering data on multiple dimensions. It wraps a flat
// store of leaf facts and serves queries against it, either as one-shot snapshots or as connected
// views receiving live updates.
type Cube struct {
	store    *store.Store
	fields   []*field.CubeField
	fieldMap map[string]*field.CubeField
	info     map[string]any
	log      logr.Logger

	lockFn       LockFn
	bucketSpecFn BucketSpecFn
	omitFn       OmitFn

	views []*View
}

// New creates a Cube from a config, loading any initial data.
func New(cfg Config) (*Cube, error) {
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	c := &Cube{
		fieldMap:     map[string]*field.CubeField{},
		info:         cfg.Info,
		log:          log,
		lockFn:       cfg.LockFn,
		bucketSpecFn: cfg.BucketSpecFn,
		omitFn:       cfg.OmitFn,
	}
	if c.info == nil {
		c.info = map[string]any{}
	}

	var storeFields []*field.Field
	for _, fc := range cfg.Fields {
		f, err := field.NewCube(applyFieldDefaults(fc, cfg.FieldDefaults))
		if err != nil {
			return nil, err
		}
		if c.fieldMap[f.Name] != nil {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		c.fields = append(c.fields, f)
		c.fieldMap[f.Name] = f
		storeFields = append(storeFields, &f.Field)
	}
	for _, f := range c.fields {
		if f.ParentDimension == "" {
			continue
		}
		parent := c.fieldMap[f.ParentDimension]
		if parent == nil || !parent.IsDimension {
			return nil, fmt.Errorf("field %q: parentDimension %q does not name a "+
				"dimension field", f.Name, f.ParentDimension)
		}
	}

	// Row ids generated by views encode the full tree path, and leaf data is owned by the
	// cube's row network, so the store can skip both tree path checks and defensive copies.
	s, err := store.New(store.Config{
		Fields:            storeFields,
		IDSpec:            cfg.IDSpec,
		ProcessRawData:    cfg.ProcessRawData,
		IDEncodesTreePath: true,
		FreezeData:        false,
		Logger:            log.WithName("cube-store"),
	})
	if err != nil {
		return nil, err
	}
	c.store = s

	if cfg.Data != nil {
		if err := s.LoadData(cfg.Data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Store returns the cube's underlying record store.
func (c *Cube) Store() *store.Store { return c.store }

// Fields returns the fields configured for this cube.
func (c *Cube) Fields() []*field.CubeField { return c.fields }

// GetField returns the cube field with the given name, or nil.
func (c *Cube) GetField(name string) *field.CubeField { return c.fieldMap[name] }

// Dimensions returns the dimension fields configured for this cube.
func (c *Cube) Dimensions() []*field.CubeField {
	var ret []*field.CubeField
	for _, f := range c.fields {
		if f.IsDimension {
			ret = append(ret, f)
		}
	}
	return ret
}

// Records returns the records loaded into this cube.
func (c *Cube) Records() []*store.Record { return c.store.Records() }

// Info returns the app-specific metadata associated with the cube's dataset.
func (c *Cube) Info() map[string]any { return c.info }

// ConnectedViewCount returns the number of currently connected, auto-updating views.
func (c *Cube) ConnectedViewCount() int { return len(c.views) }

//------------------------
// Querying
//------------------------

// ExecuteQuery runs a one-shot query, returning a snapshot of the aggregated row tree. Rows carry
// the requested field values plus cubeLabel, cubeDimension and cubeRowType properties.
func (c *Cube) ExecuteQuery(cfg QueryConfig) ([]RowData, error) {
	v, err := newView(c, ViewConfig{Query: cfg})
	if err != nil {
		return nil, err
	}
	rows := v.Result().Rows
	v.Destroy()
	return rows, nil
}

// CreateView creates a view of the cube data based on a query. Connected views must be
// disconnected or destroyed when no longer needed to avoid unnecessary processing.
func (c *Cube) CreateView(cfg ViewConfig) (*View, error) {
	return newView(c, cfg)
}

// ViewIsConnected reports whether the view receives live updates from this cube.
func (c *Cube) ViewIsConnected(v *View) bool {
	for _, it := range c.views {
		if it == v {
			return true
		}
	}
	return false
}

// DisconnectView stops live updates into the given view.
func (c *Cube) DisconnectView(v *View) {
	for i, it := range c.views {
		if it == v {
			c.views = append(c.views[:i], c.views[i+1:]...)
			return
		}
	}
}

func (c *Cube) connectView(v *View) {
	if !c.ViewIsConnected(v) {
		c.views = append(c.views, v)
	}
}

//------------------------
// Data loading
//------------------------

// LoadData populates the cube with a new dataset, replacing any previous data and info, then
// brings connected views up to date one by one. The context is checked between views so that an
// expensive multi-view fan-out can be abandoned at view granularity; each individual view update
// always runs to completion.
func (c *Cube) LoadData(ctx context.Context, rawData []store.RawData, info map[string]any) error {
	if err := c.store.LoadData(rawData); err != nil {
		return err
	}
	if info == nil {
		info = map[string]any{}
	}
	c.info = info

	for _, v := range c.viewsSnapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.noteCubeLoaded()
	}
	return nil
}

// UpdateData applies an incremental raw transaction and/or info updates to the cube, then
// notifies connected views with the resulting change log, checking the context between views.
func (c *Cube) UpdateData(ctx context.Context, txn store.RawTransaction,
	infoUpdates map[string]any) error {

	cl, err := c.store.UpdateData(txn)
	if err != nil {
		return err
	}
	if len(infoUpdates) > 0 {
		c.mergeInfo(infoUpdates)
	}
	if cl.IsEmpty() && len(infoUpdates) == 0 {
		return nil
	}

	for _, v := range c.viewsSnapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.noteCubeUpdated(cl)
	}
	return nil
}

// ModifyRecords applies local partial modifications to cube records and notifies connected
// views.
func (c *Cube) ModifyRecords(ctx context.Context, mods ...store.RawData) error {
	cl, err := c.store.ModifyRecords(mods...)
	if err != nil {
		return err
	}
	if cl.IsEmpty() {
		return nil
	}

	for _, v := range c.viewsSnapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.noteCubeUpdated(cl)
	}
	return nil
}

// Clear removes all data and info from this cube.
func (c *Cube) Clear(ctx context.Context) error {
	return c.LoadData(ctx, nil, nil)
}

// UpdateInfo merges new key-value pairs into the cube info and notifies connected views.
func (c *Cube) UpdateInfo(infoUpdates map[string]any) {
	c.mergeInfo(infoUpdates)
	for _, v := range c.viewsSnapshot() {
		v.noteCubeUpdated(nil)
	}
}

// Destroy disconnects all connected views.
func (c *Cube) Destroy() {
	for _, v := range c.viewsSnapshot() {
		v.Disconnect()
	}
}

//------------------------
// Implementation
//------------------------

// viewsSnapshot copies the connected view list so a view disconnecting itself mid-notification
// does not skip its neighbors.
func (c *Cube) viewsSnapshot() []*View {
	return append([]*View(nil), c.views...)
}

func (c *Cube) mergeInfo(infoUpdates map[string]any) {
	info := make(map[string]any, len(c.info)+len(infoUpdates))
	for k, v := range c.info {
		info[k] = v
	}
	for k, v := range infoUpdates {
		info[k] = v
	}
	c.info = info
}

func applyFieldDefaults(fc, defaults field.CubeConfig) field.CubeConfig {
	if fc.Type == "" {
		fc.Type = defaults.Type
	}
	if fc.Aggregator == "" && fc.AggregatorInstance == nil {
		fc.Aggregator = defaults.Aggregator
		fc.AggregatorInstance = defaults.AggregatorInstance
	}
	if fc.CanAggregateFn == nil {
		fc.CanAggregateFn = defaults.CanAggregateFn
	}
	if fc.DefaultValue == nil {
		fc.DefaultValue = defaults.DefaultValue
	}
	return fc
}
