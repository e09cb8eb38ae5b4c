package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const publishTimeout = 5 * time.Second

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when COACH_BUS_PROVIDER=grpc.
type GrpcBus struct {
	conn *grpc.ClientConn
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

func NewGrpcBus(conn *grpc.ClientConn) *GrpcBus {
	return &GrpcBus{conn: conn}
}

// Publish sends an event to the remote EventService. A handler-side failure
// is reported as an error too.
func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var resp EventResponse
	err := b.conn.Invoke(ctx, publishMethod, &EventRequest{Topic: topic, Payload: data}, &resp,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("grpc publish %s: %w", topic, err)
	}
	if !resp.Success {
		return fmt.Errorf("grpc publish %s: %w", topic, errors.New(resp.ErrorMessage))
	}
	return nil
}
