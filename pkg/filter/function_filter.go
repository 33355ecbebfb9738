package filter

// FunctionFilter wraps an arbitrary predicate. Since functions cannot be compared, equality is
// determined by the caller-provided key: two function filters with the same key are considered
// interchangeable.
type FunctionFilter struct {
	Key string
	Fn  func(Record) bool
}

// NewFunctionFilter creates a FunctionFilter with the given identity key.
func NewFunctionFilter(key string, fn func(Record) bool) *FunctionFilter {
	if key == "" {
		key = "default"
	}
	return &FunctionFilter{Key: key, Fn: fn}
}

func (f *FunctionFilter) TestFn(flds Fields) TestFn {
	return f.Fn
}

func (f *FunctionFilter) Equals(other Filter) bool {
	o, ok := other.(*FunctionFilter)
	return ok && o.Key == f.Key
}

func (f *FunctionFilter) String() string {
	return "fn(" + f.Key + ")"
}
