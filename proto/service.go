package proto

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// CodecName is the gRPC content subtype the service speaks. Messages are
// plain structs, so they are framed as JSON instead of protobuf.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceName = "turtle.v1.BacktestService"

type BacktestServiceServer interface {
	ExecuteBacktest(context.Context, *BacktestRequest) (*BacktestResponse, error)
	GetBacktest(context.Context, *GetBacktestRequest) (*BacktestResponse, error)
	Scan(context.Context, *ScanRequest) (*ScanResponse, error)
}

// UnimplementedBacktestServiceServer can be embedded to stay forward
// compatible when methods are added.
type UnimplementedBacktestServiceServer struct{}

func (UnimplementedBacktestServiceServer) ExecuteBacktest(context.Context, *BacktestRequest) (*BacktestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ExecuteBacktest not implemented")
}

func (UnimplementedBacktestServiceServer) GetBacktest(context.Context, *GetBacktestRequest) (*BacktestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBacktest not implemented")
}

func (UnimplementedBacktestServiceServer) Scan(context.Context, *ScanRequest) (*ScanResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Scan not implemented")
}

func RegisterBacktestServiceServer(s grpc.ServiceRegistrar, srv BacktestServiceServer) {
	s.RegisterService(&BacktestService_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to the descriptor's handler
// signature.
func unaryHandler[Req any, Resp any](method string, call func(BacktestServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var BacktestService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExecuteBacktest",
			Handler:    unaryHandler("ExecuteBacktest", BacktestServiceServer.ExecuteBacktest),
		},
		{
			MethodName: "GetBacktest",
			Handler:    unaryHandler("GetBacktest", BacktestServiceServer.GetBacktest),
		},
		{
			MethodName: "Scan",
			Handler:    unaryHandler("Scan", BacktestServiceServer.Scan),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "turtle/v1/backtest",
}

type BacktestServiceClient interface {
	ExecuteBacktest(ctx context.Context, in *BacktestRequest, opts ...grpc.CallOption) (*BacktestResponse, error)
	GetBacktest(ctx context.Context, in *GetBacktestRequest, opts ...grpc.CallOption) (*BacktestResponse, error)
	Scan(ctx context.Context, in *ScanRequest, opts ...grpc.CallOption) (*ScanResponse, error)
}

type backtestServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBacktestServiceClient(cc grpc.ClientConnInterface) BacktestServiceClient {
	return &backtestServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *backtestServiceClient) ExecuteBacktest(ctx context.Context, in *BacktestRequest, opts ...grpc.CallOption) (*BacktestResponse, error) {
	return invoke[BacktestResponse](ctx, c.cc, "ExecuteBacktest", in, opts)
}

func (c *backtestServiceClient) GetBacktest(ctx context.Context, in *GetBacktestRequest, opts ...grpc.CallOption) (*BacktestResponse, error) {
	return invoke[BacktestResponse](ctx, c.cc, "GetBacktest", in, opts)
}

func (c *backtestServiceClient) Scan(ctx context.Context, in *ScanRequest, opts ...grpc.CallOption) (*ScanResponse, error) {
	return invoke[ScanResponse](ctx, c.cc, "Scan", in, opts)
}
