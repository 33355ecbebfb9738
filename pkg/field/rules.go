package field

import (
	"fmt"
)

// ValidationState describes the outcome of validating a record or store.
type ValidationState string

const (
	Valid    ValidationState = "Valid"
	NotValid ValidationState = "NotValid"
	Unknown  ValidationState = "Unknown"
)

// CheckFn evaluates a single constraint against a field value. It returns an error message, or
// the empty string if the value passes.
type CheckFn func(value any, displayName string) string

// Rule bundles one or more constraints on a field, optionally gated by a predicate over the whole
// record data.
type Rule struct {
	// When, if set, restricts the rule to records for which it returns true.
	When func(data map[string]any) bool

	// Checks to evaluate when the rule applies.
	Checks []CheckFn
}

// Evaluate runs the rule against a record's data, returning any error messages for the named
// field. Validation failures are non-fatal; they accumulate as queryable state.
func (r Rule) Evaluate(fieldName, displayName string, data map[string]any) []string {
	if r.When != nil && !r.When(data) {
		return nil
	}
	var errs []string
	for _, check := range r.Checks {
		if msg := check(data[fieldName], displayName); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

//------------------------
// Constraints
//------------------------

// Required fails on nil or empty-string values.
func Required(value any, displayName string) string {
	if value == nil || value == "" {
		return fmt.Sprintf("%s is required", displayName)
	}
	return ""
}

// MinLength returns a check failing on strings shorter than n.
func MinLength(n int) CheckFn {
	return func(value any, displayName string) string {
		if s, ok := value.(string); ok && len(s) < n {
			return fmt.Sprintf("%s must contain at least %d characters", displayName, n)
		}
		return ""
	}
}

// MaxLength returns a check failing on strings longer than n.
func MaxLength(n int) CheckFn {
	return func(value any, displayName string) string {
		if s, ok := value.(string); ok && len(s) > n {
			return fmt.Sprintf("%s must contain no more than %d characters", displayName, n)
		}
		return ""
	}
}

// NumberIsOpts configures the NumberIs constraint. Nil bounds are not enforced.
type NumberIsOpts struct {
	Min     *float64
	Max     *float64
	NotZero bool
}

// NumberIs returns a check enforcing numeric bounds. Non-numeric and nil values pass; combine
// with Required to reject those.
func NumberIs(opts NumberIsOpts) CheckFn {
	return func(value any, displayName string) string {
		if value == nil {
			return ""
		}
		n, ok := toFloat(value)
		if !ok {
			return ""
		}
		if opts.NotZero && n == 0 {
			return fmt.Sprintf("%s must not be zero", displayName)
		}
		if opts.Min != nil && n < *opts.Min {
			return fmt.Sprintf("%s must be greater than or equal to %v", displayName, *opts.Min)
		}
		if opts.Max != nil && n > *opts.Max {
			return fmt.Sprintf("%s must be less than or equal to %v", displayName, *opts.Max)
		}
		return ""
	}
}
