package harness

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/ingest"
)

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("testdata", "scenarios", "golden", "order_book.golden"),
		GoldenPath(filepath.Join("testdata", "scenarios", "order_book.yaml")))
	assert.Equal(t, filepath.Join("golden", "x.golden"), GoldenPath("x.yml"))
}

func TestMarshalSnapshot(t *testing.T) {
	r := NewResult()
	r.Watermark = 2
	r.AddIngestTrace(ingest.StepResult{From: 1, To: 2, Inserts: 1, Watermark: 2, Applied: true})
	r.AddQueryTrace(TraceEvent{
		Type:  EventGet,
		Query: "q",
		Rows:  []*Row{nil, {Address: "A", Key: "<k>", Height: 2, Value: entry.Bool(true)}},
	})

	data, err := MarshalSnapshot(&Scenario{Name: "snap"}, r)
	require.NoError(t, err)

	want := `{
  "scenario_name": "snap",
  "trace": [
    {
      "seq": 1,
      "type": "ingest",
      "from": 1,
      "to": 2,
      "inserts": 1,
      "watermark": 2
    },
    {
      "seq": 2,
      "type": "get",
      "query": "q",
      "rows": [
        null,
        {
          "address": "A",
          "key": "<k>",
          "height": 2,
          "value": true
        }
      ]
    }
  ],
  "watermark": 2
}
`
	assert.Equal(t, want, string(data))
}

func TestUpdateAndCompareGolden(t *testing.T) {
	file := filepath.Join(t.TempDir(), "roundtrip.yaml")
	scenario := &Scenario{Name: "roundtrip"}
	r := NewResult()
	r.AddIngestTrace(ingest.StepResult{From: 1, To: 100, Watermark: 0})

	_, err := CompareGolden(file, scenario, r)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, UpdateGolden(file, scenario, r))
	assert.FileExists(t, GoldenPath(file))

	same, err := CompareGolden(file, scenario, r)
	require.NoError(t, err)
	assert.True(t, same)

	r.Watermark = 7
	same, err = CompareGolden(file, scenario, r)
	require.NoError(t, err)
	assert.False(t, same)
}
