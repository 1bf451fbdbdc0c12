package queryir

import (
	"fmt"

	"github.com/roach88/stateindex/internal/entry"
)

// Validate checks a decoded request for internal consistency.
//
// Rules:
//  1. limit must not exceed MaxLimit
//  2. fragment positions lie in 0..MaxFragmentPosition
//  3. every literal's runtime type equals its declared type (no coercion)
//  4. string fragments only support eq
//  5. values only support operations other than eq when typed integer
//  6. every In row has one literal per property, each typed as the property implies
//
// The whole tree is traversed depth-first, left to right, but only the first
// error found is returned. Errors are never aggregated.
//
// Validate is a pure function with no side effects.
func Validate(req *SearchRequest) error {
	if req == nil {
		return NewMissingParameter("request")
	}

	v := &validator{}
	if req.Limit > MaxLimit {
		v.fail(NewInvalidParameter("limit",
			"Limit must be less than or equal to %d, found %d.", MaxLimit, req.Limit))
	}
	if req.Filter != nil {
		v.validateFilter("filter", req.Filter)
	}
	for i, item := range req.Sort {
		v.validateSortItem(fmt.Sprintf("sort[%d]", i), item)
	}

	if v.first != nil {
		return v.first
	}
	return nil
}

// ValidateFilter checks a standalone filter tree rooted at "filter".
func ValidateFilter(f Filter) error {
	v := &validator{}
	v.validateFilter("filter", f)
	if v.first != nil {
		return v.first
	}
	return nil
}

// validator keeps the first error found during traversal.
type validator struct {
	first *ValidationError
}

func (v *validator) fail(err *ValidationError) {
	if v.first == nil {
		v.first = err
	}
}

// validateFilter recursively validates a filter node.
func (v *validator) validateFilter(path string, f Filter) {
	f, ok := Normalize(f)
	if !ok {
		v.fail(NewInvalidParameter(path, "Filter must not be null."))
		return
	}

	switch node := f.(type) {
	case And:
		for i, child := range node.Children {
			v.validateFilter(fmt.Sprintf("%s.and[%d]", path, i), child)
		}
	case Or:
		for i, child := range node.Children {
			v.validateFilter(fmt.Sprintf("%s.or[%d]", path, i), child)
		}
	case In:
		v.validateIn(path+".in", node)
	case KeyFragment:
		v.validateFragment(path+".fragment", node)
	case ValueFragment:
		v.validateFragment(path+".value_fragment", KeyFragment(node))
	case Value:
		v.validateValue(path+".value", node)
	case Key, Address:
		// Exact matches on strings are always valid.
	default:
		v.fail(NewInvalidParameter(path, "Unsupported filter type %T.", f))
	}
}

func (v *validator) validateFragment(path string, f KeyFragment) {
	if f.Position < 0 || f.Position > MaxFragmentPosition {
		v.fail(positionError(path+".position", int64(f.Position)))
		return
	}
	if !f.Type.Valid() {
		v.fail(NewInvalidParameter(path+".type", "%s is invalid fragment type.", f.Type))
		return
	}
	if !f.Operation.Valid() {
		v.fail(NewInvalidParameter(path+".operation", "%s is invalid operation.", f.Operation))
		return
	}
	expected := f.Type.ValueType()
	if found := entry.TypeName(f.Value); found != string(expected) {
		v.fail(NewInvalidParameter(path+".value",
			"Invalid fragment value type: found %s, expected %s.", found, expected))
		return
	}
	if f.Type == FragmentString && f.Operation != OpEq {
		v.fail(NewInvalidParameter(path+".operation",
			"Operation %s is not allowed for string fragments, only eq.", f.Operation))
	}
}

func (v *validator) validateValue(path string, f Value) {
	if !f.Type.Valid() {
		v.fail(NewInvalidParameter(path+".type", "%s is invalid value type.", f.Type))
		return
	}
	if !f.Operation.Valid() {
		v.fail(NewInvalidParameter(path+".operation", "%s is invalid operation.", f.Operation))
		return
	}
	if found := entry.TypeName(f.Value); found != string(f.Type) {
		v.fail(NewInvalidParameter(path+".value",
			"Invalid value type: found %s, expected %s.", found, f.Type))
		return
	}
	if f.Operation != OpEq && f.Type != entry.TypeInteger {
		v.fail(NewInvalidParameter(path+".operation",
			"Operation %s is not allowed for %s values, only eq.", f.Operation, f.Type))
	}
}

func (v *validator) validateIn(path string, in In) {
	for i, p := range in.Properties {
		v.validateProperty(fmt.Sprintf("%s.properties[%d]", path, i), p)
	}

	for r, row := range in.Rows {
		if len(row) != len(in.Properties) {
			v.fail(NewInvalidParameter(fmt.Sprintf("%s.values[%d]", path, r),
				"Row %d has %d values, expected %d (number of properties).", r, len(row), len(in.Properties)))
			continue
		}
		for c, cell := range row {
			expected, ok := PropertyValueType(in.Properties[c])
			if !ok {
				continue // reported by validateProperty
			}
			if found := entry.TypeName(cell); found != string(expected) {
				v.fail(NewInvalidParameter(fmt.Sprintf("%s.values[%d][%d]", path, r, c),
					"Row %d, column %d: found %s, expected %s.", r, c, found, expected))
			}
		}
	}
}

func (v *validator) validateProperty(path string, p PropertyRef) {
	switch prop := p.(type) {
	case FragmentProperty:
		if prop.Position < 0 || prop.Position > MaxFragmentPosition {
			v.fail(positionError(path+".fragment.position", int64(prop.Position)))
		} else if !prop.Type.Valid() {
			v.fail(NewInvalidParameter(path+".fragment.type", "%s is invalid fragment type.", prop.Type))
		}
	case ValueProperty:
		if !prop.Type.Valid() {
			v.fail(NewInvalidParameter(path+".value.type", "%s is invalid value type.", prop.Type))
		}
	case KeyProperty, AddressProperty:
	default:
		v.fail(NewInvalidParameter(path, "Unsupported property type %T.", p))
	}
}

func (v *validator) validateSortItem(path string, item SortItem) {
	switch s := item.(type) {
	case SortFragment:
		v.validateSortFragment(path+".fragment", s)
	case SortValueFragment:
		v.validateSortFragment(path+".value_fragment", SortFragment(s))
	case SortValue:
		if !s.Type.Valid() {
			v.fail(NewInvalidParameter(path+".value.type", "%s is invalid value type.", s.Type))
			return
		}
		v.validateDirection(path+".value", s.Direction)
	case SortKey:
		v.validateDirection(path+".key", s.Direction)
	case SortAddress:
		v.validateDirection(path+".address", s.Direction)
	case SortBase:
		v.validateDirection(path+".base", s.Direction)
	default:
		v.fail(NewInvalidParameter(path, "Unsupported sort item %T.", item))
	}
}

func (v *validator) validateSortFragment(path string, s SortFragment) {
	if s.Position < 0 || s.Position > MaxFragmentPosition {
		v.fail(positionError(path+".position", int64(s.Position)))
		return
	}
	if !s.Type.Valid() {
		v.fail(NewInvalidParameter(path+".type", "%s is invalid fragment type.", s.Type))
		return
	}
	v.validateDirection(path, s.Direction)
}

func (v *validator) validateDirection(path string, d Direction) {
	if !d.Valid() {
		v.fail(NewInvalidParameter(path+".direction",
			"%s is invalid sort direction, should be one of: asc, desc.", d))
	}
}

// PropertyValueType returns the literal type implied by a property.
func PropertyValueType(p PropertyRef) (entry.Type, bool) {
	switch prop := p.(type) {
	case FragmentProperty:
		if !prop.Type.Valid() {
			return "", false
		}
		return prop.Type.ValueType(), true
	case KeyProperty, AddressProperty:
		return entry.TypeString, true
	case ValueProperty:
		return prop.Type, prop.Type.Valid()
	default:
		return "", false
	}
}

func positionError(path string, n int64) *ValidationError {
	return NewInvalidParameter(path,
		"Fragment position must be between 0 and %d, found %d.", MaxFragmentPosition, n)
}
