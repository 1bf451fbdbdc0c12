package queryir

import (
	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/fragment"
)

// Pagination limits.
const (
	DefaultLimit uint64 = 100
	MaxLimit     uint64 = 5000
)

// MaxFragmentPosition is the highest addressable fragment position.
const MaxFragmentPosition = fragment.MaxFragments - 1

// Filter is a predicate over stored data entries.
//
// This is a sealed interface - only types in this package implement it.
//
// Filter types:
//   - And, Or: boolean combinations of child filters
//   - In: tuple membership over a list of properties
//   - KeyFragment, ValueFragment: comparison against one fragment column
//   - Key, Address: exact match
//   - Value: comparison against one typed value column
type Filter interface {
	filterNode() // Marker method - seals interface to this package
}

// PropertyRef names one column of an In filter.
//
// This is a sealed interface - only types in this package implement it.
type PropertyRef interface {
	propertyRef()
}

// SortItem is one ORDER BY term.
//
// This is a sealed interface - only types in this package implement it.
type SortItem interface {
	sortItem()
}

// Operation is a comparison operator.
type Operation string

const (
	OpEq  Operation = "eq"
	OpGt  Operation = "gt"
	OpGte Operation = "gte"
	OpLt  Operation = "lt"
	OpLte Operation = "lte"
)

// Valid reports whether op is a known operator.
func (op Operation) Valid() bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// FragmentType is the declared type of a fragment column.
type FragmentType string

const (
	FragmentString  FragmentType = "string"
	FragmentInteger FragmentType = "integer"
)

// Valid reports whether t is a known fragment type.
func (t FragmentType) Valid() bool {
	return t == FragmentString || t == FragmentInteger
}

// ValueType returns the literal type a fragment of type t compares against.
func (t FragmentType) ValueType() entry.Type {
	if t == FragmentInteger {
		return entry.TypeInteger
	}
	return entry.TypeString
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Asc || d == Desc
}

// And matches rows matching every child. An empty And matches every row.
type And struct {
	Children []Filter
}

func (And) filterNode() {}

// Or matches rows matching at least one child. An empty Or matches every row.
type Or struct {
	Children []Filter
}

func (Or) filterNode() {}

// In matches rows whose property tuple equals one of Rows.
//
// Semantics:
//
//	(p1, p2, ...) IN ((r1[0], r1[1], ...), (r2[0], r2[1], ...), ...)
//
// Every row must have exactly len(Properties) literals, each typed as its
// property implies.
type In struct {
	Properties []PropertyRef
	Rows       [][]entry.Value
}

func (In) filterNode() {}

// KeyFragment compares one fragment of the key.
//
// Example:
//
//	KeyFragment{Position: 0, Type: FragmentInteger, Operation: OpGte, Value: entry.Integer(5)}
//
// Translates to:
//
//	fragment_0_integer >= 5
//
// String fragments only support OpEq.
type KeyFragment struct {
	Position  int
	Type      FragmentType
	Operation Operation
	Value     entry.Value
}

func (KeyFragment) filterNode() {}

// ValueFragment compares one fragment of a fragment-structured string value.
// Same rules as KeyFragment, against the value_fragment_* columns.
type ValueFragment KeyFragment

func (ValueFragment) filterNode() {}

// Key matches the exact key.
type Key struct {
	Value string
}

func (Key) filterNode() {}

// Value compares the value column of the declared type.
// Operations other than OpEq are only allowed for integer values.
type Value struct {
	Type      entry.Type
	Operation Operation
	Value     entry.Value
}

func (Value) filterNode() {}

// Address matches the exact address.
type Address struct {
	Value string
}

func (Address) filterNode() {}

// FragmentProperty refers to a key fragment column inside In.
type FragmentProperty struct {
	Position int
	Type     FragmentType
}

func (FragmentProperty) propertyRef() {}

// KeyProperty refers to the key column inside In.
type KeyProperty struct{}

func (KeyProperty) propertyRef() {}

// ValueProperty refers to the value column of the given type inside In.
type ValueProperty struct {
	Type entry.Type
}

func (ValueProperty) propertyRef() {}

// AddressProperty refers to the address column inside In.
type AddressProperty struct{}

func (AddressProperty) propertyRef() {}

// SortFragment orders by a key fragment column.
type SortFragment struct {
	Position  int
	Type      FragmentType
	Direction Direction
}

func (SortFragment) sortItem() {}

// SortValueFragment orders by a value fragment column.
type SortValueFragment SortFragment

func (SortValueFragment) sortItem() {}

// SortKey orders by key.
type SortKey struct {
	Direction Direction
}

func (SortKey) sortItem() {}

// SortValue orders by the value column of the given type.
type SortValue struct {
	Type      entry.Type
	Direction Direction
}

func (SortValue) sortItem() {}

// SortAddress orders by address.
type SortAddress struct {
	Direction Direction
}

func (SortAddress) sortItem() {}

// SortBase orders by the monotonic row identifier.
// Used as the deterministic tie-break for pagination.
type SortBase struct {
	Direction Direction
}

func (SortBase) sortItem() {}

// SearchRequest is a decoded search query.
type SearchRequest struct {
	Filter Filter // nil = no filter
	Sort   []SortItem
	Limit  uint64
	Offset uint64
}

// NewSearchRequest returns a request with default pagination.
func NewSearchRequest() *SearchRequest {
	return &SearchRequest{Limit: DefaultLimit}
}

// HasBaseSort reports whether the sort already orders by the row identifier.
func (r *SearchRequest) HasBaseSort() bool {
	for _, item := range r.Sort {
		if _, ok := item.(SortBase); ok {
			return true
		}
	}
	return false
}

// Normalize dereferences pointer filter nodes so callers can switch on value
// types only. It returns false for nil filters and nil pointers.
func Normalize(f Filter) (Filter, bool) {
	switch n := f.(type) {
	case nil:
		return nil, false
	case *And:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *Or:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *In:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *KeyFragment:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *ValueFragment:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *Key:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *Value:
		if n == nil {
			return nil, false
		}
		return *n, true
	case *Address:
		if n == nil {
			return nil, false
		}
		return *n, true
	}
	return f, true
}
