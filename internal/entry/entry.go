// Package entry defines the stored form of a blockchain data entry.
//
// Every write to an (address, key) pair produces a new Entry version. The
// version carrying a value is an upsert, the version without one is a
// tombstone. Fragments are derived from the key, value fragments from string
// payloads, both with the fragment codec.
package entry

import (
	"time"

	"github.com/roach88/stateindex/internal/fragment"
)

// Pair identifies the logical entry that versions belong to.
type Pair struct {
	Address string `json:"address"`
	Key     string `json:"key"`
}

// Entry is one version of one (address, key) pair.
type Entry struct {
	// UID is the monotonic row identifier assigned by the store.
	// Zero until the entry has been written.
	UID int64

	Address        string
	Key            string
	Height         int64
	BlockTimestamp time.Time

	// Value is nil for tombstones.
	Value Value

	Fragments      []fragment.Fragment
	ValueFragments []fragment.Fragment
}

// New builds an entry version and derives its fragment columns.
func New(address, key string, height int64, ts time.Time, v Value) Entry {
	return Entry{
		Address:        address,
		Key:            key,
		Height:         height,
		BlockTimestamp: ts,
		Value:          v,
		Fragments:      fragment.Decode(key),
		ValueFragments: ValueFragments(v),
	}
}

// ValueFragments decodes fragment-structured string payloads.
// Other payload types never carry value fragments.
func ValueFragments(v Value) []fragment.Fragment {
	s, ok := v.(String)
	if !ok {
		return nil
	}
	return fragment.Decode(string(s))
}

// Pair returns the (address, key) pair of e.
func (e Entry) Pair() Pair {
	return Pair{Address: e.Address, Key: e.Key}
}

// IsTombstone reports whether e records a removal.
func (e Entry) IsTombstone() bool {
	return e.Value == nil
}
