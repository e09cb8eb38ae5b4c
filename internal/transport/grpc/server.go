package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
	"coachpay/internal/service"
)

// EventHandler consumes events delivered through EventService.Publish.
type EventHandler interface {
	Handle(ctx context.Context, topic string, data []byte) error
}

type Server struct {
	records service.RecordService
	events  EventHandler
	srv     *grpc.Server
	addr    string
}

// NewServer serves RecordService and, when events is non-nil, acts as the
// receiving end of the gRPC bus.
func NewServer(addr string, records service.RecordService, events EventHandler) *Server {
	s := &Server{records: records, events: events, addr: addr}
	s.srv = grpc.NewServer(grpc.UnaryInterceptor(logCalls))
	s.Register(s.srv)
	return s
}

func (s *Server) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&eventServiceDesc, s)
	reg.RegisterService(&recordServiceDesc, s)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("grpc server listening", "addr", s.addr)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

// Publish hands the event to the handler. Access commands go straight to
// the record service.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	var err error
	switch {
	case req.Topic == model.TopicAccessRecord:
		var cmd model.AccessCommand
		if err = (jsonCodec{}).Unmarshal(req.Payload, &cmd); err == nil {
			err = s.records.RecordAccess(ctx, cmd)
		}
	case s.events != nil:
		err = s.events.Handle(ctx, req.Topic, req.Payload)
	}
	if err != nil {
		slog.Error("grpc: event not handled", "topic", req.Topic, "error", err)
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}

func (s *Server) GetRecord(ctx context.Context, req *GetRecordRequest) (*GetRecordResponse, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	rec, err := s.records.Get(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetRecordResponse{Record: rec}, nil
}

func toStatus(err error) error {
	msg, _, _ := apperr.Public(err)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case apperr.KindValidation:
		return status.Error(codes.InvalidArgument, msg)
	case apperr.KindAuth:
		return status.Error(codes.Unauthenticated, msg)
	case apperr.KindConflict:
		return status.Error(codes.Aborted, msg)
	case apperr.KindUnavailable:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("grpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}
