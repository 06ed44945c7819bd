package chainstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	dyngrpc "github.com/ratio1/r1fs-drive-go/pkg/grpc"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// GRPCClient reaches the chainstore.ChainStore service through the dynamic
// gRPC client.
type GRPCClient struct {
	client *dyngrpc.Client
	peers  []string
}

var _ Store = (*GRPCClient)(nil)

// NewGRPCClient connects lazily to endpoint (host:port, optionally with an
// http:// or https:// scheme selecting transport security).
func NewGRPCClient(endpoint string, peers []string, opts ...grpc.DialOption) (*GRPCClient, error) {
	client, err := dyngrpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("chainstore grpc %s: %w", endpoint, err)
	}
	return &GRPCClient{client: client, peers: append([]string(nil), peers...)}, nil
}

// WaitReady blocks until the connection is established or ctx is done.
func (c *GRPCClient) WaitReady(ctx context.Context) error {
	return c.client.WaitReady(ctx)
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.client.Close()
}

// Health asks the standard gRPC health service whether ChainStore is serving.
func (c *GRPCClient) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.client.Conn()).Check(ctx, &healthpb.HealthCheckRequest{
		Service: dyngrpc.ChainStoreServiceName,
	})
	if err != nil {
		return fmt.Errorf("chainstore health: %w", err)
	}
	if st := resp.GetStatus(); st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("chainstore health: %s", st)
	}
	return nil
}

type hgetReply struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func (c *GRPCClient) HGet(ctx context.Context, hkey, key string) (string, bool, error) {
	if hkey == "" {
		return "", false, ErrEmptyHKey
	}
	var reply hgetReply
	if err := c.call(ctx, "HGet", map[string]any{"hkey": hkey, "key": key}, &reply); err != nil {
		return "", false, err
	}
	return reply.Value, reply.Found, nil
}

func (c *GRPCClient) HSet(ctx context.Context, hkey, key, value string) error {
	if hkey == "" {
		return ErrEmptyHKey
	}
	req := map[string]any{"hkey": hkey, "key": key, "value": value}
	if len(c.peers) > 0 {
		req["extra_peers"] = c.peers
	}
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := c.call(ctx, "HSet", req, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("chainstore hset %s/%s: write rejected", hkey, key)
	}
	zap.L().Debug("chainstore hset", zap.String("hkey", hkey), zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (c *GRPCClient) HGetAll(ctx context.Context, hkey string) (map[string]string, error) {
	if hkey == "" {
		return nil, ErrEmptyHKey
	}
	var reply struct {
		Values map[string]string `json:"values"`
	}
	if err := c.call(ctx, "HGetAll", map[string]any{"hkey": hkey}, &reply); err != nil {
		return nil, err
	}
	if reply.Values == nil {
		reply.Values = make(map[string]string)
	}
	return reply.Values, nil
}

// Status returns the status document of the service.
func (c *GRPCClient) Status(ctx context.Context) (model.Envelope, error) {
	var reply struct {
		Status json.RawMessage `json:"status"`
	}
	if err := c.call(ctx, "GetStatus", map[string]any{}, &reply); err != nil {
		return nil, err
	}
	if len(reply.Status) == 0 || string(reply.Status) == "null" {
		return model.Envelope("{}"), nil
	}
	return model.Envelope(reply.Status), nil
}

func (c *GRPCClient) call(ctx context.Context, method string, req map[string]any, reply any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	out, err := c.client.Invoke(ctx, method, body)
	if err != nil {
		return fmt.Errorf("chainstore %s: %w", method, err)
	}
	if err := json.Unmarshal(out, reply); err != nil {
		return fmt.Errorf("chainstore %s: decode reply: %w", method, err)
	}
	return nil
}
