package proto

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	UnimplementedBacktestServiceServer
}

func (echoServer) ExecuteBacktest(_ context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	return &BacktestResponse{
		JobId:   "job-1",
		Summary: &Summary{TotalTrades: int32(len(req.Bars["GC"]))},
	}, nil
}

func dialBuf(t *testing.T, srv BacktestServiceServer) BacktestServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterBacktestServiceServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewBacktestServiceClient(conn)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	client := dialBuf(t, echoServer{})
	resp, err := client.ExecuteBacktest(context.Background(), &BacktestRequest{
		Bars: map[string][]*Bar{"GC": {{Date: "2024-01-02", Close: "100"}, {Date: "2024-01-03", Close: "101"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.JobId != "job-1" || resp.Summary.TotalTrades != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUnimplementedMethods(t *testing.T) {
	client := dialBuf(t, echoServer{})
	_, err := client.Scan(context.Background(), &ScanRequest{})
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("err = %v", err)
	}
}
