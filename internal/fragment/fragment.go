// Package fragment decodes compound keys into typed positional fragments.
//
// A compound key is a sequence of fragments, each introduced by a one
// character separator:
//
//	$abc     string fragment "abc" (runs to the next separator or the end)
//	#-42     integer fragment -42 (optional sign followed by digits)
//
// For example "$abc#42$xyz" decodes to string "abc" at position 0, integer
// 42 at position 1 and string "xyz" at position 2. Keys that do not follow
// this grammar are not indexable and decode to no fragments at all.
package fragment

import (
	"strconv"
)

// MaxFragments is the number of fragment positions stored per key.
// Fragments past this position are dropped.
const MaxFragments = 11

const (
	StringSeparator  = '$'
	IntegerSeparator = '#'
)

// Kind is the type of a single fragment.
type Kind int

const (
	KindString Kind = iota + 1
	KindInteger
)

// String returns the column suffix used for the kind ("string" or "integer").
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// Fragment is one typed slice of a compound key or value.
// Text is set for KindString, Int for KindInteger.
type Fragment struct {
	Kind Kind
	Text string
	Int  int64
}

// String builds a string fragment.
func String(s string) Fragment {
	return Fragment{Kind: KindString, Text: s}
}

// Integer builds an integer fragment.
func Integer(n int64) Fragment {
	return Fragment{Kind: KindInteger, Int: n}
}

// Decode splits s into at most MaxFragments fragments.
//
// Decode returns nil when s is not indexable: it is empty, it does not start
// with a separator, or one of its integer fragments is not a valid signed
// 64-bit decimal. The whole key is validated even when fragments past
// MaxFragments are dropped.
func Decode(s string) []Fragment {
	if s == "" || !isSeparator(s[0]) {
		return nil
	}

	var out []Fragment
	for i := 0; i < len(s); {
		sep := s[i]
		j := i + 1
		for j < len(s) && !isSeparator(s[j]) {
			j++
		}
		body := s[i+1 : j]
		i = j

		var f Fragment
		switch sep {
		case StringSeparator:
			f = String(body)
		case IntegerSeparator:
			n, ok := parseInteger(body)
			if !ok {
				return nil
			}
			f = Integer(n)
		}
		if len(out) < MaxFragments {
			out = append(out, f)
		}
	}
	return out
}

// parseInteger accepts an optional leading '-' followed by digits.
func parseInteger(s string) (int64, bool) {
	digits := s
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isSeparator(c byte) bool {
	return c == StringSeparator || c == IntegerSeparator
}
