// Package queryir provides the filter and sort model for data entry search.
//
// A search request is decoded from JSON into a tree of sealed node types,
// validated, and then handed to a backend compiler (see package querysql).
//
// ARCHITECTURE:
//
//	[request JSON] → ParseSearchRequest → [SearchRequest] → Validate → [querysql]
//
// SEALED INTERFACES:
//
// Filter, PropertyRef and SortItem are sealed interfaces using the marker
// method pattern. Only types in this package implement them, so backends can
// switch exhaustively:
//
//	switch f := filter.(type) {
//	case And:
//	    // children joined with AND
//	case KeyFragment:
//	    // fragment_{n}_{type} <op> literal
//	default:
//	    // unreachable for values built by this package
//	}
//
// LITERALS:
//
// Literal values reuse entry.Value (Binary, Bool, Integer, String). A leaf's
// declared type must match the runtime type of its literal. There is no
// coercion, and a mismatch is a validation error.
//
// DIAGNOSTICS:
//
// Decoding and validation both report a single *ValidationError carrying a
// numeric code, the dotted parameter path (for example
// "filter.and[2].fragment.value") and a human-readable reason. Only the first
// problem found in depth-first, left-to-right order is reported.
package queryir
