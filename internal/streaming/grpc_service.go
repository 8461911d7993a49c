package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName       = "openpadcore.v1.StatusService"
	WatchStatusMethod = "/" + serviceName + "/WatchStatus"
	GetStatusMethod   = "/" + serviceName + "/GetStatus"
)

// StatusReader is the read side of the status recorder.
type StatusReader interface {
	Get(ctx context.Context, padCode string) (*storage.PadStatus, error)
	List(ctx context.Context) ([]storage.PadStatus, error)
}

// StatusServiceServer streams pad status records. Requests and responses
// are google.protobuf.Struct values: requests carry an optional "pad_code",
// responses are the JSON form of a status record.
type StatusServiceServer interface {
	WatchStatus(req *structpb.Struct, stream grpc.ServerStream) error
	GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var StatusServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStatus", Handler: watchStatusHandler, ServerStreams: true},
	},
	Metadata: "openpadcore/v1/status.proto",
}

func watchStatusHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(StatusServiceServer).WatchStatus(req, stream)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusServiceServer).GetStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

type StatusService struct {
	streamer *EventStreamer
	reader   StatusReader
	logger   *zap.Logger
}

func NewStatusService(streamer *EventStreamer, reader StatusReader, logger *zap.Logger) *StatusService {
	return &StatusService{
		streamer: streamer,
		reader:   reader,
		logger:   logger.With(zap.String("component", "grpc_status")),
	}
}

// Register adds the service to srv.
func (s *StatusService) Register(srv *grpc.Server) {
	srv.RegisterService(&StatusServiceDesc, s)
}

// WatchStatus sends the current records, then every change until the client
// goes away or the streamer is closed.
func (s *StatusService) WatchStatus(req *structpb.Struct, stream grpc.ServerStream) error {
	padCode := requestedPad(req)
	ctx := stream.Context()

	eventCh := s.streamer.Subscribe(padCode)
	defer s.streamer.Unsubscribe(padCode, eventCh)

	initial, err := s.current(ctx, padCode)
	if err != nil {
		return err
	}
	for _, rec := range initial {
		if err := s.send(stream, rec); err != nil {
			return err
		}
	}

	for {
		select {
		case rec, ok := <-eventCh:
			if !ok {
				return nil
			}
			if err := s.send(stream, rec); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *StatusService) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	padCode := requestedPad(req)
	if padCode == AllPads {
		return nil, status.Error(codes.InvalidArgument, "pad_code is required")
	}
	rec, err := s.reader.Get(ctx, padCode)
	if errors.Is(err, storage.ErrStatusNotFound) {
		return nil, status.Errorf(codes.NotFound, "no status for %s", padCode)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return ToStruct(*rec)
}

func (s *StatusService) current(ctx context.Context, padCode string) ([]storage.PadStatus, error) {
	if padCode == AllPads {
		recs, err := s.reader.List(ctx)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return recs, nil
	}
	rec, err := s.reader.Get(ctx, padCode)
	switch {
	case errors.Is(err, storage.ErrStatusNotFound):
		return nil, nil
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	return []storage.PadStatus{*rec}, nil
}

func (s *StatusService) send(stream grpc.ServerStream, rec storage.PadStatus) error {
	msg, err := ToStruct(rec)
	if err != nil {
		s.logger.Error("failed to encode status", zap.String("pad_code", rec.PadCode), zap.Error(err))
		return err
	}
	return stream.SendMsg(msg)
}

func requestedPad(req *structpb.Struct) string {
	if req == nil {
		return AllPads
	}
	if v, ok := req.GetFields()["pad_code"]; ok {
		return v.GetStringValue()
	}
	return AllPads
}

// ToStruct converts a status record to its JSON shaped Struct.
func ToStruct(rec storage.PadStatus) (*structpb.Struct, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return structpb.NewStruct(fields)
}

// TokenValidator checks bearer tokens taken from the "authorization"
// metadata.
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, []auth.Permission, error)
}

func authorize(ctx context.Context, v TokenValidator) error {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}
	if _, _, err := v.ValidateToken(token); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return nil
}

// ServerOptions returns interceptors that require a valid access token on
// every call.
func ServerOptions(v TokenValidator) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if err := authorize(ctx, v); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.StreamInterceptor(func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := authorize(ss.Context(), v); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	}
}
