package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/harvester/internal/core/domain"
)

// GRPCSource implements Source for providers exposing unary lookup methods.
// Requests and responses are google.protobuf.Struct messages carrying the same
// fields as the REST payload, so no generated client is required.
type GRPCSource struct {
	name         string
	endpoint     string
	fetchMethod  string
	searchMethod string
	apiKey       string
	timeout      time.Duration
	conn         *grpc.ClientConn
	tokens       *TokenSource

	Monitor *Monitor
}

// NewGRPCSource creates a new gRPC provider client. The connection is
// established lazily on the first call.
func NewGRPCSource(cfg Config, opts ...grpc.DialOption) (*GRPCSource, error) {
	if cfg.Method == "" {
		return nil, fmt.Errorf("grpc source %s: method is required", cfg.Name)
	}

	target := cfg.URL
	if len(opts) == 0 {
		if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
			target = strings.TrimPrefix(target, "https://")
		} else {
			opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
			target = strings.TrimPrefix(target, "http://")
		}
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GRPCSource{
		name:         cfg.Name,
		endpoint:     cfg.URL,
		fetchMethod:  cfg.Method,
		searchMethod: cfg.SearchMethod,
		apiKey:       cfg.APIKey,
		timeout:      timeout,
		conn:         conn,
		tokens:       NewTokenSource(cfg.TokenURL, cfg.APIKey, nil),
		Monitor:      NewMonitor(),
	}, nil
}

// Name returns the provider's name.
func (s *GRPCSource) Name() string {
	return s.name
}

// Tokens returns the session token source.
func (s *GRPCSource) Tokens() *TokenSource {
	return s.tokens
}

// Fetch retrieves one record by identifier.
func (s *GRPCSource) Fetch(ctx context.Context, id string) (*domain.Record, error) {
	req, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var payload recordPayload
	if err := s.invoke(ctx, s.fetchMethod, req, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		payload.ID = id
	}
	return payload.toRecord(s.name), nil
}

// Search returns records matching query.
func (s *GRPCSource) Search(
	ctx context.Context,
	query string,
	start, count int,
) ([]*domain.Record, error) {
	if s.searchMethod == "" {
		return nil, fmt.Errorf("%s: search is not supported", s.name)
	}

	req, err := structpb.NewStruct(map[string]any{
		"query": query,
		"start": start,
		"count": count,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var page struct {
		Records []recordPayload `json:"records"`
	}
	if err := s.invoke(ctx, s.searchMethod, req, &page); err != nil {
		return nil, err
	}

	records := make([]*domain.Record, 0, len(page.Records))
	for _, p := range page.Records {
		records = append(records, p.toRecord(s.name))
	}
	return records, nil
}

// Close cleans up resources.
func (s *GRPCSource) Close() error {
	return s.conn.Close()
}

func (s *GRPCSource) invoke(ctx context.Context, method string, req *structpb.Struct, out any) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", s.apiKey)
	}
	if token := s.tokens.Token(); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, method, req, resp); err != nil {
		return s.mapError(err)
	}

	data, err := protojson.Marshal(resp)
	if err != nil {
		s.Monitor.RecordFailure()
		return fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.Monitor.RecordFailure()
		return fmt.Errorf("parse response: %w", err)
	}

	s.Monitor.RecordSuccess(time.Since(start))
	return nil
}

// mapError converts gRPC status errors to the package's error types.
func (s *GRPCSource) mapError(err error) error {
	s.Monitor.RecordFailure()

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s call: %w", s.name, err)
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		rl := &RateLimitError{}
		for _, detail := range st.Details() {
			if info, ok := detail.(*errdetails.RetryInfo); ok {
				rl.RetryAfter = info.GetRetryDelay().AsDuration()
			}
		}
		s.Monitor.RecordThrottle(rl.RetryAfter)
		return rl

	case codes.Unauthenticated, codes.PermissionDenied:
		s.Monitor.RecordAuthFailure()
		return fmt.Errorf("%s: %s: %w", s.name, st.Message(), ErrUnauthorized)

	case codes.NotFound:
		return fmt.Errorf("%s: %w", s.name, ErrNotFound)
	}

	return &StatusError{Code: httpStatusFromCode(st.Code()), Body: st.Message()}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.Unavailable:
		return 503
	case codes.DeadlineExceeded:
		return 504
	case codes.Internal, codes.Aborted, codes.Unknown, codes.DataLoss:
		return 500
	case codes.Unimplemented:
		return 501
	default:
		return 400
	}
}
