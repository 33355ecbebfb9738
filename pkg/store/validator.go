package store

import (
	"github.com/l7mp/dcube/pkg/field"
)

// Validator tracks field rule violations across the current records of a store. Validation
// results are recomputed on every store mutation and exposed as queryable state; violations never
// block a modification.
type Validator struct {
	store  *Store
	errors map[ID]map[string][]string
}

func newValidator(s *Store) *Validator {
	return &Validator{store: s, errors: map[ID]map[string][]string{}}
}

// refresh re-validates every current record against the field rules.
func (v *Validator) refresh() {
	v.errors = map[ID]map[string][]string{}
	var ruled []*field.Field
	for _, f := range v.store.fields {
		if len(f.Rules) > 0 {
			ruled = append(ruled, f)
		}
	}
	if len(ruled) == 0 {
		return
	}

	for _, rec := range v.store.current.List() {
		var recErrs map[string][]string
		for _, f := range ruled {
			for _, rule := range f.Rules {
				errs := rule.Evaluate(f.Name, f.DisplayName, rec.data)
				if len(errs) == 0 {
					continue
				}
				if recErrs == nil {
					recErrs = map[string][]string{}
				}
				recErrs[f.Name] = append(recErrs[f.Name], errs...)
			}
		}
		if recErrs != nil {
			v.errors[rec.id] = recErrs
		}
	}
}

// IsValid reports whether no current record violates any rule.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// State returns the overall validation state of the store.
func (v *Validator) State() field.ValidationState {
	if v.IsValid() {
		return field.Valid
	}
	return field.NotValid
}

// ErrorCount returns the total number of rule violations across all records.
func (v *Validator) ErrorCount() int {
	n := 0
	for _, recErrs := range v.errors {
		for _, errs := range recErrs {
			n += len(errs)
		}
	}
	return n
}

// Errors returns all violations, keyed by record id and field name.
func (v *Validator) Errors() map[ID]map[string][]string { return v.errors }

// RecordErrors returns the violations for one record, keyed by field name, nil if clean.
func (v *Validator) RecordErrors(id ID) map[string][]string { return v.errors[id] }

// RecordState returns the validation state of one record. Records not in the store are Unknown.
func (v *Validator) RecordState(id ID) field.ValidationState {
	if v.store.current.GetByID(id) == nil {
		return field.Unknown
	}
	if len(v.errors[id]) == 0 {
		return field.Valid
	}
	return field.NotValid
}
