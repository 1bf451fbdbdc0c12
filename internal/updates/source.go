// Package updates fetches blockchain data entry changes from the upstream
// update service.
//
// The service exposes a unary gRPC method returning every block update in
// a height range. Messages travel as JSON through a forced codec. Updates
// are flattened into Events, one per data entry write or removal.
package updates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultTimeout bounds a single range request.
const DefaultTimeout = 30 * time.Second

// Source yields the events of a height range.
type Source interface {
	FetchRange(ctx context.Context, from, to int64) ([]Event, error)
}

// ErrRollback reports an upstream rollback. Rollbacks are not applied, so
// the range keeps failing until the upstream moves past it.
var ErrRollback = errors.New("rollback not supported")

// Error is a failed range fetch. The range can be retried as a whole.
type Error struct {
	From int64
	To   int64
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("updates: fetch [%d, %d]: %v", e.From, e.To, e.Err)
}

// Unwrap returns the transport or conversion error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsUpstreamError returns true if the error is an update fetch error.
// Uses errors.As to handle wrapped errors.
func IsUpstreamError(err error) bool {
	var ue *Error
	return errors.As(err, &ue)
}

// IsRollback reports whether err was caused by an upstream rollback.
func IsRollback(err error) bool {
	return errors.Is(err, ErrRollback)
}

// GRPCSource is a Source backed by a gRPC connection.
type GRPCSource struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *zap.Logger
}

// SourceOption configures a GRPCSource.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	timeout     time.Duration
	logger      *zap.Logger
	dialOptions []grpc.DialOption
}

// WithTimeout bounds every range request. Zero disables the bound.
func WithTimeout(d time.Duration) SourceOption {
	return func(o *sourceOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) SourceOption {
	return func(o *sourceOptions) {
		o.logger = logger
	}
}

// WithDialOptions appends gRPC dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) SourceOption {
	return func(o *sourceOptions) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// Dial creates a GRPCSource for target. No connection is made until the
// first fetch. Transport security is off unless a dial option overrides it.
func Dial(target string, opts ...SourceOption) (*GRPCSource, error) {
	o := sourceOptions{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.dialOptions...)

	conn, err := grpc.NewClient(target, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial update source %q: %w", target, err)
	}

	return &GRPCSource{
		conn:    conn,
		timeout: o.timeout,
		logger:  o.logger,
	}, nil
}

// FetchRange requests [from, to] and converts the response. Failures are
// returned as *Error.
func (s *GRPCSource) FetchRange(ctx context.Context, from, to int64) ([]Event, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := &RangeRequest{FromHeight: from, ToHeight: to}
	resp := new(RangeResponse)

	start := time.Now()
	if err := s.conn.Invoke(ctx, MethodGetBlockUpdatesRange, req, resp, grpc.ForceCodec(Codec{})); err != nil {
		return nil, &Error{From: from, To: to, Err: err}
	}

	events, err := Convert(resp)
	if err != nil {
		return nil, &Error{From: from, To: to, Err: err}
	}

	s.logger.Debug("fetched update range",
		zap.Int64("from", from),
		zap.Int64("to", to),
		zap.Int("updates", len(resp.Updates)),
		zap.Int("events", len(events)),
		zap.Duration("elapsed", time.Since(start)))

	return events, nil
}

// Close tears down the connection.
func (s *GRPCSource) Close() error {
	return s.conn.Close()
}
