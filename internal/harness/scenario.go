package harness

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/testutil"
	"github.com/roach88/stateindex/internal/updates"
)

// Scenario scripts an update stream, the queries to run once it is
// ingested, and the outcome to expect.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// StartHeight is the first height the reconciler requests. Default 1.
	StartHeight int64 `yaml:"start_height,omitempty"`

	// BlocksPerRequest is the reconciler range width. Default 100.
	BlocksPerRequest int64 `yaml:"blocks_per_request,omitempty"`

	// UpstreamFailures makes the first fetches fail before any succeeds.
	UpstreamFailures int `yaml:"upstream_failures,omitempty"`

	Events     []EventSpec `yaml:"events"`
	Queries    []QueryStep `yaml:"queries"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// EventSpec is one scripted data entry update. At most one value field
// may be set; none means the pair is removed.
type EventSpec struct {
	Height  int64   `yaml:"height"`
	Address string  `yaml:"address"`
	Key     string  `yaml:"key"`
	Integer *int64  `yaml:"integer,omitempty"`
	String  *string `yaml:"string,omitempty"`
	Bool    *bool   `yaml:"bool,omitempty"`

	// Binary is base64.
	Binary *string `yaml:"binary,omitempty"`
}

// Value returns the typed payload, nil for a removal.
func (e EventSpec) Value() (entry.Value, error) {
	var (
		v   entry.Value
		set int
	)
	if e.Integer != nil {
		v = entry.Integer(*e.Integer)
		set++
	}
	if e.String != nil {
		v = entry.String(*e.String)
		set++
	}
	if e.Bool != nil {
		v = entry.Bool(*e.Bool)
		set++
	}
	if e.Binary != nil {
		b, err := base64.StdEncoding.DecodeString(*e.Binary)
		if err != nil {
			return nil, fmt.Errorf("binary: %w", err)
		}
		v = entry.Binary(b)
		set++
	}
	if set > 1 {
		return nil, errors.New("more than one value set")
	}
	return v, nil
}

// Event converts the scripted event into an update event stamped by clock.
func (e EventSpec) Event(clock *testutil.BlockClock) (updates.Event, error) {
	v, err := e.Value()
	if err != nil {
		return updates.Event{}, err
	}
	return updates.Event{
		Height:         e.Height,
		BlockTimestamp: clock.At(e.Height),
		Address:        e.Address,
		Key:            e.Key,
		Value:          v,
	}, nil
}

// QueryStep is one search or multi-get. Exactly one of Search and Entries
// is set.
type QueryStep struct {
	// Name identifies the query in the trace and in assertions.
	Name string `yaml:"name"`

	// Search is a search request body, written as yaml.
	Search map[string]any `yaml:"search,omitempty"`

	// Entries are the pairs of a multi-get.
	Entries []entry.Pair `yaml:"entries,omitempty"`

	// Height and BlockTimestamp (RFC 3339) select a point in history.
	Height         *int64 `yaml:"height,omitempty"`
	BlockTimestamp string `yaml:"block_timestamp,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// IsSearch reports whether the step is a search rather than a multi-get.
func (q QueryStep) IsSearch() bool {
	return q.Search != nil
}

// ExpectClause specifies the expected outcome of a query.
type ExpectClause struct {
	// Keys are the returned keys in order. For a multi-get, pairs without
	// a value are skipped.
	Keys []string `yaml:"keys,omitempty"`

	HasNextPage *bool `yaml:"has_next_page,omitempty"`

	// Error is the expected error kind: validation, not_found or storage.
	Error string `yaml:"error,omitempty"`

	// Code is the expected validation error code.
	Code int `yaml:"code,omitempty"`
}

// Assertion validates query results or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Query names the query (result_contains, result_order, result_count).
	Query string `yaml:"query,omitempty"`

	// Key is the expected key (result_contains, final_state).
	Key string `yaml:"key,omitempty"`

	// Keys is the expected relative order (result_order).
	Keys []string `yaml:"keys,omitempty"`

	// Count is the expected number of rows (result_count).
	Count int `yaml:"count,omitempty"`

	// Address, Key and either Expect or Removed describe the current
	// version of a pair (final_state).
	Address string    `yaml:"address,omitempty"`
	Expect  EventSpec `yaml:"expect,omitempty"`
	Removed bool      `yaml:"removed,omitempty"`

	// Height is the expected watermark (watermark).
	Height int64 `yaml:"height,omitempty"`
}

// Assertion type constants.
const (
	AssertResultContains = "result_contains"
	AssertResultOrder    = "result_order"
	AssertResultCount    = "result_count"
	AssertFinalState     = "final_state"
	AssertWatermark      = "watermark"
)

// LoadScenario reads and parses a scenario yaml file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios lists the yaml files under dir, optionally keeping only
// those whose base name (without extension) matches the glob filter.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// maxHeight is the highest scripted event height, 0 without events.
func (s *Scenario) maxHeight() int64 {
	var h int64
	for _, ev := range s.Events {
		h = max(h, ev.Height)
	}
	return h
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.StartHeight < 0 {
		return fmt.Errorf("start_height must be non-negative")
	}
	if s.BlocksPerRequest < 0 {
		return fmt.Errorf("blocks_per_request must be non-negative")
	}
	if s.UpstreamFailures < 0 {
		return fmt.Errorf("upstream_failures must be non-negative")
	}
	if len(s.Queries) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("queries or assertions are required")
	}

	for i, ev := range s.Events {
		if ev.Height < 1 {
			return fmt.Errorf("events[%d]: height must be at least 1", i)
		}
		if ev.Address == "" {
			return fmt.Errorf("events[%d]: address is required", i)
		}
		if _, err := ev.Value(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	names := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		names[q.Name] = true
		if q.IsSearch() == (q.Entries != nil) {
			return fmt.Errorf("queries[%d]: exactly one of search and entries is required", i)
		}
		if q.Expect != nil {
			switch q.Expect.Error {
			case "", KindValidation, KindNotFound, KindStorage:
			default:
				return fmt.Errorf("queries[%d].expect: unknown error kind %q", i, q.Expect.Error)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], names); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, queries map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertResultContains, AssertResultOrder, AssertResultCount:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for %s", index, a.Type)
		}
		if !queries[a.Query] {
			return fmt.Errorf("assertions[%d]: unknown query %q", index, a.Query)
		}
		if a.Type == AssertResultContains && a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for result_contains", index)
		}
		if a.Type == AssertResultOrder && len(a.Keys) == 0 {
			return fmt.Errorf("assertions[%d]: keys list is required for result_order", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for result_count", index)
		}
	case AssertFinalState:
		if a.Address == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: address and key are required for final_state", index)
		}
		v, err := a.Expect.Value()
		if err != nil {
			return fmt.Errorf("assertions[%d].expect: %w", index, err)
		}
		if (v == nil) != a.Removed {
			return fmt.Errorf("assertions[%d]: final_state needs exactly one of expect and removed", index)
		}
	case AssertWatermark:
		if a.Height < 0 {
			return fmt.Errorf("assertions[%d]: height must be non-negative for watermark", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
