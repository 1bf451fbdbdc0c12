package updates

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"github.com/roach88/stateindex/internal/entry"
)

// RangeRequest asks for every block update in [FromHeight, ToHeight].
type RangeRequest struct {
	FromHeight int64 `json:"from_height"`
	ToHeight   int64 `json:"to_height"`
}

// RangeResponse carries the updates of a range in height order.
type RangeResponse struct {
	Updates []BlockUpdate `json:"updates"`
}

// BlockUpdate is one unit of the update stream.
// Exactly one of Append and Rollback is set.
type BlockUpdate struct {
	Height int64 `json:"height"`

	// Timestamp is the block time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	Append   *Append   `json:"append,omitempty"`
	Rollback *Rollback `json:"rollback,omitempty"`
}

// Append lists the state changes a block applied.
type Append struct {
	StateUpdates []StateUpdate `json:"state_updates"`
}

// Rollback marks a chain reorganisation back to Height.
type Rollback struct {
	Height int64 `json:"height"`
}

// StateUpdate groups the data entry changes of one transaction.
type StateUpdate struct {
	DataEntries []DataEntryUpdate `json:"data_entries"`
}

// DataEntryUpdate is a write to one account's data storage.
type DataEntryUpdate struct {
	// Address is the raw account address. encoding/json renders it base64.
	Address   []byte    `json:"address"`
	DataEntry DataEntry `json:"data_entry"`
}

// DataEntry holds a key and at most one typed value. An entry with no
// value removes the key.
type DataEntry struct {
	Key         string  `json:"key"`
	IntValue    *int64  `json:"int_value,omitempty"`
	BoolValue   *bool   `json:"bool_value,omitempty"`
	BinaryValue []byte  `json:"binary_value"`
	StringValue *string `json:"string_value,omitempty"`
}

// Value returns the typed payload, or nil for a removal.
func (d DataEntry) Value() entry.Value {
	switch {
	case d.IntValue != nil:
		return entry.Integer(*d.IntValue)
	case d.BoolValue != nil:
		return entry.Bool(*d.BoolValue)
	case d.BinaryValue != nil:
		return entry.Binary(d.BinaryValue)
	case d.StringValue != nil:
		return entry.String(*d.StringValue)
	}
	return nil
}

// Event is a single data entry change observed at a height.
type Event struct {
	Height         int64
	BlockTimestamp time.Time
	Address        string
	Key            string

	// Value is nil for removals.
	Value entry.Value
}

// IsRemoval reports whether ev deletes its key.
func (ev Event) IsRemoval() bool {
	return ev.Value == nil
}

// Entry returns the stored version ev produces.
func (ev Event) Entry() entry.Entry {
	return entry.New(ev.Address, ev.Key, ev.Height, ev.BlockTimestamp, ev.Value)
}

// Convert flattens a range response into events, preserving stream order.
// Addresses are base58-encoded. An update that is not an append fails the
// whole conversion.
func Convert(resp *RangeResponse) ([]Event, error) {
	if resp == nil {
		return nil, nil
	}

	var events []Event
	for _, u := range resp.Updates {
		if u.Append == nil {
			if u.Rollback != nil {
				return nil, fmt.Errorf("update at height %d is a rollback to %d: %w", u.Height, u.Rollback.Height, ErrRollback)
			}
			return nil, fmt.Errorf("update at height %d has no append", u.Height)
		}

		ts := time.UnixMilli(u.Timestamp).UTC()
		for _, su := range u.Append.StateUpdates {
			for _, de := range su.DataEntries {
				events = append(events, Event{
					Height:         u.Height,
					BlockTimestamp: ts,
					Address:        base58.Encode(de.Address),
					Key:            de.DataEntry.Key,
					Value:          de.DataEntry.Value(),
				})
			}
		}
	}
	return events, nil
}
