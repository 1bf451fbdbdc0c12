package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/stateindex/internal/updates"
)

// Range is one FetchRange call.
type Range struct {
	From int64
	To   int64
}

// ScriptedSource is an in-memory updates.Source.
//
// Events are served by height: a fetch of [from, to] returns every scripted
// event whose height falls in the range, in the order they were added.
// Failures can be queued to make the next fetches fail.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedSource struct {
	mu       sync.Mutex
	events   []updates.Event
	failures []error
	calls    []Range
}

// NewScriptedSource creates a source serving events.
func NewScriptedSource(events ...updates.Event) *ScriptedSource {
	s := &ScriptedSource{}
	s.Add(events...)
	return s
}

// Add scripts more events.
func (s *ScriptedSource) Add(events ...updates.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// FailNext makes the next len(errs) fetches fail with errs in order.
func (s *ScriptedSource) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// FetchRange implements updates.Source.
func (s *ScriptedSource) FetchRange(ctx context.Context, from, to int64) ([]updates.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Range{From: from, To: to})

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, &updates.Error{From: from, To: to, Err: err}
	}

	var out []updates.Event
	for _, ev := range s.events {
		if ev.Height >= from && ev.Height <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Calls returns every range requested so far.
func (s *ScriptedSource) Calls() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}
