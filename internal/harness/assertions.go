package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/store"
)

// AssertionContext gives final_state assertions access to the store.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventIngest, EventFetchFailed:
				fmt.Fprintf(&buf, "  [%d] %s [%d, %d]\n", event.Seq, event.Type, event.From, event.To)
			default:
				fmt.Fprintf(&buf, "  [%d] %s %s %v\n", event.Seq, event.Type, event.Query, event.Keys())
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertResultContains:
		return assertResultContains(result, a)
	case AssertResultOrder:
		return assertResultOrder(result, a)
	case AssertResultCount:
		return assertResultCount(result, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	case AssertWatermark:
		if result.Watermark != a.Height {
			return &AssertionError{
				Type:     AssertWatermark,
				Expected: fmt.Sprintf("last handled height %d", a.Height),
				Actual:   fmt.Sprintf("last handled height %d", result.Watermark),
				Trace:    result.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func queryTrace(result *Result, a Assertion) (*TraceEvent, error) {
	ev, ok := result.QueryTrace(a.Query)
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("query %q in trace", a.Query),
			Actual:   "not found in trace",
			Trace:    result.Trace,
		}
	}
	return ev, nil
}

// assertResultContains checks that the query returned the key.
func assertResultContains(result *Result, a Assertion) error {
	ev, err := queryTrace(result, a)
	if err != nil {
		return err
	}
	if slices.Contains(ev.Keys(), a.Key) {
		return nil
	}
	return &AssertionError{
		Type:     AssertResultContains,
		Expected: fmt.Sprintf("query %s returns key %q", a.Query, a.Key),
		Actual:   fmt.Sprintf("keys %q", ev.Keys()),
		Trace:    result.Trace,
	}
}

// assertResultOrder checks that keys appear in the given order. Other
// keys may appear in between.
func assertResultOrder(result *Result, a Assertion) error {
	ev, err := queryTrace(result, a)
	if err != nil {
		return err
	}

	keys := ev.Keys()
	prev := -1
	for _, want := range a.Keys {
		pos := slices.Index(keys, want)
		if pos < 0 {
			return &AssertionError{
				Type:     AssertResultOrder,
				Expected: fmt.Sprintf("all keys present: %q", a.Keys),
				Actual:   fmt.Sprintf("missing key: %q", want),
				Trace:    result.Trace,
			}
		}
		if pos <= prev {
			return &AssertionError{
				Type:     AssertResultOrder,
				Expected: fmt.Sprintf("keys in order: %q", a.Keys),
				Actual:   fmt.Sprintf("keys %q", keys),
				Trace:    result.Trace,
			}
		}
		prev = pos
	}
	return nil
}

// assertResultCount checks the number of returned rows.
func assertResultCount(result *Result, a Assertion) error {
	ev, err := queryTrace(result, a)
	if err != nil {
		return err
	}
	if n := len(ev.Keys()); n != a.Count {
		return &AssertionError{
			Type:     AssertResultCount,
			Expected: fmt.Sprintf("query %s returns %d row(s)", a.Query, a.Count),
			Actual:   fmt.Sprintf("%d row(s)", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState reads the current version of a pair from the store.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("final_state assertion requires a store")
	}
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	pair := entry.Pair{Address: a.Address, Key: a.Key}
	current, err := actx.Store.Current(ctx, []entry.Pair{pair})
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	got := current[pair].Value
	want, err := a.Expect.Value()
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s = %s", a.Address, a.Key, describe(want)),
			Actual:   fmt.Sprintf("%s (-want +got):\n%s", describe(got), diff),
		}
	}
	return nil
}

func describe(v entry.Value) string {
	if v == nil {
		return "removed"
	}
	return fmt.Sprintf("%s %v", v.Type(), v)
}

// checkExpect compares a query outcome against its expect clause.
func checkExpect(q QueryStep, ev *TraceEvent) []string {
	exp := q.Expect
	var failures []string

	gotKind := ""
	if ev.Error != nil {
		gotKind = ev.Error.Kind
	}
	if gotKind != exp.Error {
		failures = append(failures, fmt.Sprintf("query %s: expected error %q, got %q", q.Name, exp.Error, gotKind))
		return failures
	}
	if exp.Code != 0 && (ev.Error == nil || ev.Error.Code != exp.Code) {
		failures = append(failures, fmt.Sprintf("query %s: expected error code %d", q.Name, exp.Code))
	}

	if exp.Keys != nil {
		if diff := cmp.Diff(exp.Keys, ev.Keys()); diff != "" {
			failures = append(failures, fmt.Sprintf("query %s: keys mismatch (-want +got):\n%s", q.Name, diff))
		}
	}
	if exp.HasNextPage != nil && *exp.HasNextPage != ev.HasNextPage {
		failures = append(failures, fmt.Sprintf("query %s: expected has_next_page %t, got %t", q.Name, *exp.HasNextPage, ev.HasNextPage))
	}
	return failures
}
