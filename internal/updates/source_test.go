package updates

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/roach88/stateindex/internal/entry"
)

// rangeServer answers from a canned response and records requests.
type rangeServer struct {
	mu       sync.Mutex
	requests []RangeRequest
	resp     *RangeResponse
	err      error
	delay    time.Duration
}

func (s *rangeServer) GetBlockUpdatesRange(ctx context.Context, req *RangeRequest) (*RangeResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// startSource serves srv over bufconn and returns a connected GRPCSource
// and a function that closes both ends.
func startSource(t *testing.T, srv RangeServer, opts ...SourceOption) (*GRPCSource, func()) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	RegisterRangeServer(server, srv)
	go func() {
		_ = server.Serve(lis)
	}()

	opts = append(opts,
		WithLogger(zaptest.NewLogger(t)),
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})))
	src, err := Dial("passthrough:///bufnet", opts...)
	require.NoError(t, err)

	return src, func() {
		src.Close()
		server.Stop()
	}
}

func i64(v int64) *int64   { return &v }
func str(v string) *string { return &v }
func boolean(v bool) *bool { return &v }

var (
	rawAddress = []byte{0x01, 0x57, 0x9a, 0x3c, 0x10}
	address    = base58.Encode(rawAddress)
)

func TestGRPCSource_FetchRange(t *testing.T) {
	defer leaktest.Check(t)()

	srv := &rangeServer{resp: &RangeResponse{Updates: []BlockUpdate{
		{
			Height:    10,
			Timestamp: 1700000000123,
			Append: &Append{StateUpdates: []StateUpdate{{DataEntries: []DataEntryUpdate{
				{Address: rawAddress, DataEntry: DataEntry{Key: "$order#1", IntValue: i64(5)}},
				{Address: rawAddress, DataEntry: DataEntry{Key: "flag", BoolValue: boolean(true)}},
			}}}},
		},
		{
			Height:    12,
			Timestamp: 1700000060000,
			Append: &Append{StateUpdates: []StateUpdate{{DataEntries: []DataEntryUpdate{
				{Address: rawAddress, DataEntry: DataEntry{Key: "blob", BinaryValue: []byte{0xde, 0xad}}},
				{Address: rawAddress, DataEntry: DataEntry{Key: "name", StringValue: str("$buy#3")}},
				{Address: rawAddress, DataEntry: DataEntry{Key: "$order#1"}},
			}}}},
		},
	}}}
	src, stop := startSource(t, srv)
	defer stop()

	events, err := src.FetchRange(context.Background(), 10, 19)
	require.NoError(t, err)

	require.Len(t, srv.requests, 1)
	assert.Equal(t, RangeRequest{FromHeight: 10, ToHeight: 19}, srv.requests[0])

	ts10 := time.UnixMilli(1700000000123).UTC()
	ts12 := time.UnixMilli(1700000060000).UTC()
	want := []Event{
		{Height: 10, BlockTimestamp: ts10, Address: address, Key: "$order#1", Value: entry.Integer(5)},
		{Height: 10, BlockTimestamp: ts10, Address: address, Key: "flag", Value: entry.Bool(true)},
		{Height: 12, BlockTimestamp: ts12, Address: address, Key: "blob", Value: entry.Binary{0xde, 0xad}},
		{Height: 12, BlockTimestamp: ts12, Address: address, Key: "name", Value: entry.String("$buy#3")},
		{Height: 12, BlockTimestamp: ts12, Address: address, Key: "$order#1"},
	}
	assert.Equal(t, want, events)
	assert.True(t, events[4].IsRemoval())
}

func TestGRPCSource_ServerError(t *testing.T) {
	defer leaktest.Check(t)()

	src, stop := startSource(t, &rangeServer{err: status.Error(codes.Unavailable, "node syncing")})
	defer stop()

	_, err := src.FetchRange(context.Background(), 1, 100)
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))

	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, int64(1), ue.From)
	assert.Equal(t, int64(100), ue.To)
	assert.Equal(t, codes.Unavailable, status.Code(ue.Err))
}

func TestGRPCSource_Rollback(t *testing.T) {
	defer leaktest.Check(t)()

	src, stop := startSource(t, &rangeServer{resp: &RangeResponse{Updates: []BlockUpdate{
		{Height: 5, Rollback: &Rollback{Height: 3}},
	}}})
	defer stop()

	_, err := src.FetchRange(context.Background(), 5, 5)
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.True(t, IsRollback(err))
	assert.Contains(t, err.Error(), "rollback")
}

func TestGRPCSource_Timeout(t *testing.T) {
	defer leaktest.Check(t)()

	src, stop := startSource(t, &rangeServer{resp: &RangeResponse{}, delay: time.Second}, WithTimeout(20*time.Millisecond))
	defer stop()

	_, err := src.FetchRange(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err.(*Error).Err))
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		resp    *RangeResponse
		want    int
		wantErr bool
	}{
		{name: "nil", resp: nil},
		{name: "empty range", resp: &RangeResponse{}},
		{name: "empty append", resp: &RangeResponse{Updates: []BlockUpdate{{Height: 1, Append: &Append{}}}}},
		{name: "no append", resp: &RangeResponse{Updates: []BlockUpdate{{Height: 1}}}, wantErr: true},
		{
			name: "two entries",
			resp: &RangeResponse{Updates: []BlockUpdate{{Height: 1, Append: &Append{StateUpdates: []StateUpdate{
				{DataEntries: []DataEntryUpdate{{DataEntry: DataEntry{Key: "a"}}}},
				{DataEntries: []DataEntryUpdate{{DataEntry: DataEntry{Key: "b", IntValue: i64(1)}}}},
			}}}}},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Convert(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}
}

func TestDataEntry_JSON(t *testing.T) {
	tests := []struct {
		name string
		json string
		want entry.Value
	}{
		{"integer", `{"key":"k","int_value":7}`, entry.Integer(7)},
		{"bool", `{"key":"k","bool_value":false}`, entry.Bool(false)},
		{"binary", `{"key":"k","binary_value":"AQI="}`, entry.Binary{1, 2}},
		{"empty binary", `{"key":"k","binary_value":""}`, entry.Binary{}},
		{"string", `{"key":"k","string_value":"x"}`, entry.String("x")},
		{"removal", `{"key":"k"}`, nil},
		{"null binary", `{"key":"k","binary_value":null}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var de DataEntry
			require.NoError(t, json.Unmarshal([]byte(tt.json), &de))
			assert.Equal(t, "k", de.Key)
			assert.Equal(t, tt.want, de.Value())
		})
	}
}

func TestEvent_Entry(t *testing.T) {
	ev := Event{Height: 3, Address: "A", Key: "$k#1", Value: entry.String("v")}
	e := ev.Entry()
	assert.Equal(t, entry.Pair{Address: "A", Key: "$k#1"}, e.Pair())
	assert.Len(t, e.Fragments, 2)
	assert.Equal(t, int64(3), e.Height)
}
