package abrpc

import (
	"context"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"google.golang.org/grpc"
)

// unaryMethod builds the method descriptor of a unary call dispatching to fn
// on the registered implementation S.
func unaryMethod[S, Req, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventStream is the server side of an event subscription.
type EventStream interface {
	Send(*broadcast.Envelope) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (x *eventStream) Send(m *broadcast.Envelope) error {
	return x.ServerStream.SendMsg(m)
}

// EventStreamClient is the client side of an event subscription.
type EventStreamClient interface {
	Recv() (*broadcast.Envelope, error)
	grpc.ClientStream
}

type eventStreamClient struct {
	grpc.ClientStream
}

func (x *eventStreamClient) Recv() (*broadcast.Envelope, error) {
	m := new(broadcast.Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func subscribeStream[S, Req any](name string, fn func(S, *Req, EventStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return fn(srv.(S), in, &eventStream{stream})
		},
	}
}

func openSubscription(ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in any, opts []grpc.CallOption) (EventStreamClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &eventStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
