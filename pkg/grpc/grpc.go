package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// UserAgent prefixes the user-agent header of every call.
const UserAgent = "r1drive"

// ErrUnknownMethod is returned by Invoke for a method the ChainStore service
// does not declare.
var ErrUnknownMethod = errors.New("grpc: unknown chainstore method")

var (
	requestCodec = protojson.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	replyCodec   = protojson.MarshalOptions{EmitUnpopulated: true, UseProtoNames: true}
)

// Client calls ChainStore methods by name. Requests and replies are JSON
// documents mapped onto the service messages through reflection.
type Client struct {
	conn    *grpc.ClientConn
	service protoreflect.ServiceDescriptor
}

// NewClient prepares a connection to endpoint. The scheme picks transport
// security:
//   - "https://": TLS with system roots
//   - "http://" or none: plaintext
//
// opts are applied after the derived credentials, so tests can replace the
// dialer. Connecting starts in the background; use WaitReady to block.
func NewClient(endpoint string, opts ...grpc.DialOption) (*Client, error) {
	svc, err := ChainStoreService()
	if err != nil {
		return nil, err
	}
	addr, creds := transportFor(endpoint)
	dialOpts := append([]grpc.DialOption{creds, grpc.WithUserAgent(UserAgent)}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		zap.L().Error("grpc client", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}
	conn.Connect()
	return &Client{conn: conn, service: svc}, nil
}

// Conn exposes the connection for companion services such as health checks.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// WaitReady blocks until the connection is ready or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		state := c.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc: connection shut down")
		case connectivity.Idle, connectivity.TransientFailure:
			c.conn.Connect()
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// Close shuts the connection down. A nil client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Invoke performs the unary call method with a JSON request. Unknown request
// fields are dropped. The reply uses proto field names and always carries
// every field.
func (c *Client) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	md := c.service.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	in := dynamicpb.NewMessage(md.Input())
	if err := requestCodec.Unmarshal(req, in); err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	out := dynamicpb.NewMessage(md.Output())
	if err := c.conn.Invoke(ctx, FullMethod(md), in, out); err != nil {
		return nil, err
	}
	return replyCodec.Marshal(out)
}

// FullMethod returns the "/package.Service/Method" path of md.
func FullMethod(md protoreflect.MethodDescriptor) string {
	return "/" + string(md.Parent().FullName()) + "/" + string(md.Name())
}

func transportFor(endpoint string) (string, grpc.DialOption) {
	if addr, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return addr, grpc.WithTransportCredentials(credentials.NewTLS(nil))
	}
	return strings.TrimPrefix(endpoint, "http://"), grpc.WithTransportCredentials(insecure.NewCredentials())
}
