package api

import (
	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/fragment"
)

// DataEntry is the wire form of a stored entry.
type DataEntry struct {
	Address   string      `json:"address"`
	Key       string      `json:"key"`
	Height    int64       `json:"height"`
	Value     entry.Value `json:"value"`
	Fragments []Fragment  `json:"fragments"`
}

// Fragment is one key fragment. Value is a string or an integer.
type Fragment struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Entries     []DataEntry `json:"entries"`
	HasNextPage bool        `json:"has_next_page"`
}

// EntriesRequest is the body of a multi-get.
type EntriesRequest struct {
	AddressKeyPairs []entry.Pair `json:"address_key_pairs"`
}

// EntriesResponse holds one entry or null per requested pair.
type EntriesResponse struct {
	Entries []*DataEntry `json:"entries"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newDataEntry(e entry.Entry) DataEntry {
	return DataEntry{
		Address:   e.Address,
		Key:       e.Key,
		Height:    e.Height,
		Value:     e.Value,
		Fragments: newFragments(e.Fragments),
	}
}

// newFragments lists fragments in position order up to the first gap.
func newFragments(frags []fragment.Fragment) []Fragment {
	out := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		switch f.Kind {
		case fragment.KindString:
			out = append(out, Fragment{Type: f.Kind.String(), Value: f.Text})
		case fragment.KindInteger:
			out = append(out, Fragment{Type: f.Kind.String(), Value: f.Int})
		default:
			return out
		}
	}
	return out
}

func newDataEntries(entries []entry.Entry) []DataEntry {
	out := make([]DataEntry, len(entries))
	for i, e := range entries {
		out[i] = newDataEntry(e)
	}
	return out
}
