package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/fragment"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/querysql"
)

// runStoreSuite exercises the dialect-independent behavior of a store.
// newStore must return an empty, migrated store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) *Store) {
	t.Run("watermark", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		h, err := s.LastHandledHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), h)

		require.NoError(t, s.SetLastHandledHeight(ctx, 41))
		require.NoError(t, s.SetLastHandledHeight(ctx, 42))

		h, err = s.LastHandledHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), h)
	})

	t.Run("apply batch writes rows and watermark", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.ApplyBatch(ctx, Batch{
			Inserts: []entry.Entry{
				version("A", "$order#42", 1, entry.String("$buy#7")),
				version("A", "plain", 1, entry.Integer(5)),
			},
			Height: 3,
		})
		require.NoError(t, err)

		h, err := s.LastHandledHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), h)

		cur, err := s.Current(ctx, []entry.Pair{{Address: "A", Key: "$order#42"}, {Address: "A", Key: "missing"}})
		require.NoError(t, err)
		require.Len(t, cur, 1)

		got := cur[entry.Pair{Address: "A", Key: "$order#42"}]
		assert.NotZero(t, got.UID)
		assert.Equal(t, entry.String("$buy#7"), got.Value)
		assert.Equal(t, int64(1), got.Height)
		assert.True(t, blockTime(1).Equal(got.BlockTimestamp))
		assert.Equal(t, []fragment.Fragment{fragment.String("order"), fragment.Integer(42)}, got.Fragments)
		assert.Equal(t, []fragment.Fragment{fragment.String("buy"), fragment.Integer(7)}, got.ValueFragments)

		assert.Equal(t, 1, countRows(t, s, TableEntries, "fragment_1_integer = 42"))
		assert.Equal(t, 1, countRows(t, s, TableEntries, "value_fragment_0_string = 'buy'"))
		assert.Equal(t, 2, countRows(t, s, TableHistory, ""))
	})

	t.Run("newer version supersedes current", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 1, entry.Integer(1))}, Height: 1}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 2, entry.Integer(2))}, Height: 2}))

		assert.Equal(t, 2, countRows(t, s, TableEntries, ""))
		assert.Equal(t, 1, countRows(t, s, TableEntries, "superseded_by = 9223372036854775806"))

		cur, err := s.Current(ctx, []entry.Pair{{Address: "A", Key: "k"}})
		require.NoError(t, err)
		latest := cur[entry.Pair{Address: "A", Key: "k"}]
		assert.Equal(t, entry.Integer(2), latest.Value)

		var supersededBy int64
		require.NoError(t, s.db.QueryRow("SELECT superseded_by FROM data_entries WHERE height = 1").Scan(&supersededBy))
		assert.Equal(t, latest.UID, supersededBy)
	})

	t.Run("older version does not replace current", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 5, entry.String("new"))}, Height: 5}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 3, entry.String("old"))}, Height: 5}))

		cur, err := s.Current(ctx, []entry.Pair{{Address: "A", Key: "k"}})
		require.NoError(t, err)
		current := cur[entry.Pair{Address: "A", Key: "k"}]
		assert.Equal(t, entry.String("new"), current.Value)

		var supersededBy int64
		require.NoError(t, s.db.QueryRow("SELECT superseded_by FROM data_entries WHERE height = 3").Scan(&supersededBy))
		assert.Equal(t, current.UID, supersededBy)
	})

	t.Run("tombstone hides entry from search", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{
			Inserts:    []entry.Entry{version("A", "k", 1, entry.Bool(true)), version("A", "j", 1, entry.Bool(true))},
			Tombstones: []Tombstone{tombstone("A", "k", 2)},
			Height:     2,
		}))

		got, err := s.Search(ctx, Query{Order: "uid ASC", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "j", got[0].Key)

		cur, err := s.Current(ctx, []entry.Pair{{Address: "A", Key: "k"}})
		require.NoError(t, err)
		removed, ok := cur[entry.Pair{Address: "A", Key: "k"}]
		require.True(t, ok)
		assert.True(t, removed.IsTombstone())
	})

	t.Run("failed batch rolls back", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.ApplyBatch(ctx, Batch{
			Inserts: []entry.Entry{
				version("A", "k", 1, entry.Integer(1)),
				version("A", "j", 1, nil),
			},
			Height: 1,
		})
		require.Error(t, err)
		assert.True(t, IsStorageError(err))

		assert.Equal(t, 0, countRows(t, s, TableEntries, ""))
		h, err := s.LastHandledHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), h)
	})

	t.Run("search with compiled filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{
			Inserts: []entry.Entry{
				version("X", "$order#1", 1, entry.String("it's a deal")),
				version("X", "$order#2", 1, entry.Binary{1, 2}),
				version("X", "$order#3", 1, entry.Integer(30)),
				version("Y", "$order#4", 1, entry.Bool(false)),
				version("X", "$bid#5", 1, entry.String("tab\there")),
			},
			Height: 1,
		}))

		c := querysql.NewCompiler(s.Dialect())
		tests := []struct {
			name   string
			filter queryir.Filter
			keys   []string
		}{
			{"no filter", nil, []string{"$order#1", "$order#2", "$order#3", "$order#4", "$bid#5"}},
			{"address", queryir.Address{Value: "Y"}, []string{"$order#4"}},
			{
				"fragment range",
				queryir.And{Children: []queryir.Filter{
					queryir.KeyFragment{Position: 0, Type: queryir.FragmentString, Operation: queryir.OpEq, Value: entry.String("order")},
					queryir.KeyFragment{Position: 1, Type: queryir.FragmentInteger, Operation: queryir.OpGte, Value: entry.Integer(2)},
				}},
				[]string{"$order#2", "$order#3", "$order#4"},
			},
			{
				"string with quote and spaces",
				queryir.Value{Type: entry.TypeString, Operation: queryir.OpEq, Value: entry.String("it's a deal")},
				[]string{"$order#1"},
			},
			{
				"string with control byte",
				queryir.Value{Type: entry.TypeString, Operation: queryir.OpEq, Value: entry.String("tab\there")},
				[]string{"$bid#5"},
			},
			{
				"binary",
				queryir.Value{Type: entry.TypeBinary, Operation: queryir.OpEq, Value: entry.Binary{1, 2}},
				[]string{"$order#2"},
			},
			{
				"bool",
				queryir.Value{Type: entry.TypeBool, Operation: queryir.OpEq, Value: entry.Bool(false)},
				[]string{"$order#4"},
			},
			{
				"integer",
				queryir.Value{Type: entry.TypeInteger, Operation: queryir.OpGt, Value: entry.Integer(10)},
				[]string{"$order#3"},
			},
			{
				"in tuples",
				queryir.In{
					Properties: []queryir.PropertyRef{queryir.AddressProperty{}, queryir.KeyProperty{}},
					Rows: [][]entry.Value{
						{entry.String("X"), entry.String("$order#3")},
						{entry.String("Y"), entry.String("$order#4")},
						{entry.String("Y"), entry.String("$order#3")},
					},
				},
				[]string{"$order#3", "$order#4"},
			},
			{
				"injection attempt matches nothing",
				queryir.Key{Value: "x' OR '1'='1"},
				nil,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				where, err := c.CompileWhere(tt.filter)
				require.NoError(t, err)

				got, err := s.Search(ctx, Query{Where: where, Order: "uid ASC", Limit: 100})
				require.NoError(t, err)
				assert.Equal(t, tt.keys, keysOf(got))
			})
		}
	})

	t.Run("search pages with limit and offset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var inserts []entry.Entry
		for i := int64(0); i < 5; i++ {
			inserts = append(inserts, version("A", "$k#"+string(rune('0'+i)), 1, entry.Integer(i)))
		}
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: inserts, Height: 1}))

		order, err := querysql.NewCompiler(s.Dialect()).CompileSort([]queryir.SortItem{
			queryir.SortFragment{Position: 1, Type: queryir.FragmentInteger, Direction: queryir.Desc},
		})
		require.NoError(t, err)

		got, err := s.Search(ctx, Query{Order: order, Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"$k#3", "$k#2"}, keysOf(got))
	})

	t.Run("resolve as of height and timestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 1, entry.Integer(1)), version("A", "j", 2, entry.Integer(10))}, Height: 2}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 3, entry.Integer(3))}, Height: 3}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Tombstones: []Tombstone{tombstone("A", "k", 5)}, Height: 5}))

		resolve := func(at AsOf, pairs ...entry.Pair) map[entry.Pair]entry.Entry {
			ids, err := s.ResolveAsOf(ctx, at, pairs)
			require.NoError(t, err)
			got, err := s.EntriesByUID(ctx, ids)
			require.NoError(t, err)
			return got
		}
		k := entry.Pair{Address: "A", Key: "k"}
		j := entry.Pair{Address: "A", Key: "j"}

		got := resolve(AsOf{Height: ptr(int64(0))})
		assert.Empty(t, got)

		got = resolve(AsOf{Height: ptr(int64(2))}, k)
		assert.Equal(t, entry.Integer(1), got[k].Value)
		assert.Len(t, got, 1)

		got = resolve(AsOf{Height: ptr(int64(4))})
		assert.Equal(t, entry.Integer(3), got[k].Value)
		assert.Equal(t, entry.Integer(10), got[j].Value)

		got = resolve(AsOf{Height: ptr(int64(9))}, k, j)
		assert.True(t, got[k].IsTombstone())
		assert.Equal(t, entry.Integer(10), got[j].Value)

		got = resolve(AsOf{BlockTimestamp: ptr(blockTime(3).Add(30 * 1e9))}, k)
		assert.Equal(t, entry.Integer(3), got[k].Value)

		got = resolve(AsOf{BlockTimestamp: ptr(blockTime(3).Add(-1e6))}, k)
		assert.Equal(t, entry.Integer(1), got[k].Value)

		_, err := s.ResolveAsOf(ctx, AsOf{}, nil)
		assert.True(t, IsStorageError(err))
	})

	t.Run("historical search is scoped to resolved rows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 1, entry.Integer(1))}, Height: 1}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 2, entry.Integer(2))}, Height: 2}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "j", 3, entry.Integer(3))}, Height: 3}))

		got, err := s.Search(ctx, Query{AsOf: &AsOf{Height: ptr(int64(1))}, Order: "uid ASC", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entry.Integer(1), got[0].Value)

		got, err = s.Search(ctx, Query{Where: "key = 'k'", AsOf: &AsOf{BlockTimestamp: ptr(blockTime(3))}, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entry.Integer(2), got[0].Value)

		got, err = s.Search(ctx, Query{AsOf: &AsOf{Height: ptr(int64(0))}, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("has versions as of", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.HasVersionsAsOf(ctx, AsOf{Height: ptr(int64(10))})
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{version("A", "k", 4, entry.Integer(4))}, Height: 4}))

		ok, err = s.HasVersionsAsOf(ctx, AsOf{Height: ptr(int64(3))})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.HasVersionsAsOf(ctx, AsOf{Height: ptr(int64(4))})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.HasVersionsAsOf(ctx, AsOf{BlockTimestamp: ptr(blockTime(4))})
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.HasVersionsAsOf(ctx, AsOf{})
		assert.True(t, IsStorageError(err))
	})

	t.Run("timestamp lookups rank by block timestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Height 6 carries an earlier timestamp than height 5.
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{entry.New("B", "t", 5, blockTime(10), entry.Integer(5))}, Height: 5}))
		require.NoError(t, s.ApplyBatch(ctx, Batch{Inserts: []entry.Entry{entry.New("B", "t", 6, blockTime(3), entry.Integer(6))}, Height: 6}))

		pair := entry.Pair{Address: "B", Key: "t"}
		ids, err := s.ResolveAsOf(ctx, AsOf{BlockTimestamp: ptr(blockTime(10))}, []entry.Pair{pair})
		require.NoError(t, err)
		got, err := s.EntriesByUID(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, entry.Integer(5), got[pair].Value)

		rows, err := s.Search(ctx, Query{AsOf: &AsOf{BlockTimestamp: ptr(blockTime(10))}, Limit: 10})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, entry.Integer(5), rows[0].Value)

		ids, err = s.ResolveAsOf(ctx, AsOf{Height: ptr(int64(6))}, []entry.Pair{pair})
		require.NoError(t, err)
		got, err = s.EntriesByUID(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, entry.Integer(6), got[pair].Value)
	})
}

func keysOf(entries []entry.Entry) []string {
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}
