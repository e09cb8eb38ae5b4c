package grpc

import (
	"context"

	"google.golang.org/grpc"

	"coachpay/internal/model"
)

const (
	publishMethod   = "/coachpay.EventService/Publish"
	getRecordMethod = "/coachpay.RecordService/GetRecord"
)

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type GetRecordRequest struct {
	UserID string `json:"userId"`
}

type GetRecordResponse struct {
	Record *model.UserRecord `json:"record"`
}

type EventServiceServer interface {
	Publish(ctx context.Context, req *EventRequest) (*EventResponse, error)
}

type RecordServiceServer interface {
	GetRecord(ctx context.Context, req *GetRecordRequest) (*GetRecordResponse, error)
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: "coachpay.EventService",
	HandlerType: (*EventServiceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Publish",
		Handler:    publishHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

var recordServiceDesc = grpc.ServiceDesc{
	ServiceName: "coachpay.RecordService",
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetRecord",
		Handler:    getRecordHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventServiceServer).Publish(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getRecordHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRecordRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).GetRecord(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getRecordMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecordServiceServer).GetRecord(ctx, req.(*GetRecordRequest))
	}
	return interceptor(ctx, in, info, handler)
}
