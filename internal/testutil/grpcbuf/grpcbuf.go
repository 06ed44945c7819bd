// Package grpcbuf runs an in-memory ChainStore gRPC service over bufconn for
// tests. Messages are handled through dynamicpb, so the server works straight
// from a compiled service descriptor.
package grpcbuf

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const bufSize = 1024 * 1024

// MetaCapture captures incoming metadata on the server side for later inspection in tests.
type MetaCapture struct {
	last atomic.Value // stores metadata.MD
}

// Interceptor records incoming metadata and forwards the request to the next handler.
func (m *MetaCapture) Interceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.last.Store(md)
	}
	return handler(ctx, req)
}

// Last returns the most recently captured metadata or nil if none.
func (m *MetaCapture) Last() metadata.MD {
	if v := m.last.Load(); v != nil {
		return v.(metadata.MD)
	}
	return nil
}

// ChainStore is an in-memory hash store answering the ChainStore RPCs.
type ChainStore struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	failures map[string]codes.Code
	peers    [][]string
	status   map[string]any
	health   *health.Server
	service  string
}

// NewChainStore returns an empty store.
func NewChainStore() *ChainStore {
	return &ChainStore{
		hashes:   make(map[string]map[string]string),
		failures: make(map[string]codes.Code),
		status:   map[string]any{"ok": true},
		health:   health.NewServer(),
	}
}

// SetServing flips the status reported by the standard health service.
func (s *ChainStore) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.mu.Lock()
	service := s.service
	s.mu.Unlock()
	s.health.SetServingStatus(service, st)
}

// Seed stores value under hkey/key without going through RPC.
func (s *ChainStore) Seed(hkey, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[hkey] == nil {
		s.hashes[hkey] = make(map[string]string)
	}
	s.hashes[hkey][key] = value
}

// Value returns the stored value under hkey/key.
func (s *ChainStore) Value(hkey, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[hkey][key]
	return v, ok
}

// SetStatus replaces the document returned by GetStatus.
func (s *ChainStore) SetStatus(st map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Fail makes every later call of method return code. codes.OK clears it.
func (s *ChainStore) Fail(method string, code codes.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == codes.OK {
		delete(s.failures, method)
		return
	}
	s.failures[method] = code
}

// ExtraPeers returns the extra_peers lists received by HSet, in call order.
func (s *ChainStore) ExtraPeers() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.peers...)
}

type request struct {
	HKey       string   `json:"hkey"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	ExtraPeers []string `json:"extra_peers"`
}

func (s *ChainStore) handle(method string, req request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.failures[method]; ok {
		return nil, status.Errorf(code, "%s failed", method)
	}

	switch method {
	case "HGet":
		v, ok := s.hashes[req.HKey][req.Key]
		return map[string]any{"value": v, "found": ok}, nil
	case "HSet":
		if s.hashes[req.HKey] == nil {
			s.hashes[req.HKey] = make(map[string]string)
		}
		s.hashes[req.HKey][req.Key] = req.Value
		s.peers = append(s.peers, append([]string(nil), req.ExtraPeers...))
		return map[string]any{"ok": true}, nil
	case "HGetAll":
		values := make(map[string]string, len(s.hashes[req.HKey]))
		for k, v := range s.hashes[req.HKey] {
			values[k] = v
		}
		return map[string]any{"values": values}, nil
	case "GetStatus":
		return map[string]any{"status": s.status}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (s *ChainStore) methodHandler(md protoreflect.MethodDescriptor, fullMethod string) grpc.MethodHandler {
	method := string(md.Name())
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(md.Input())
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			raw, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(req.(*dynamicpb.Message))
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			var r request
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			body, err := s.handle(method, r)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			out := dynamicpb.NewMessage(md.Output())
			if err := protojson.Unmarshal(encoded, out); err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			return out, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}

// ServiceDesc builds a grpc.ServiceDesc for svc backed by s.
func (s *ChainStore) ServiceDesc(svc protoreflect.ServiceDescriptor) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: string(svc.FullName()),
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    svc.ParentFile().Path(),
	}
	for i := 0; i < svc.Methods().Len(); i++ {
		md := svc.Methods().Get(i)
		fullMethod := "/" + string(svc.FullName()) + "/" + string(md.Name())
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: string(md.Name()),
			Handler:    s.methodHandler(md, fullMethod),
		})
	}
	return desc
}

// StartServer spins up a bufconn-backed gRPC server exposing store as svc,
// with metadata capture enabled.
func StartServer(svc protoreflect.ServiceDescriptor, store *ChainStore) (*grpc.Server, *bufconn.Listener, *MetaCapture) {
	lis := bufconn.Listen(bufSize)
	capture := &MetaCapture{}
	srv := grpc.NewServer(grpc.UnaryInterceptor(capture.Interceptor))
	srv.RegisterService(store.ServiceDesc(svc), store)
	store.mu.Lock()
	store.service = string(svc.FullName())
	store.mu.Unlock()
	store.health.SetServingStatus(store.service, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, store.health)
	go func() { _ = srv.Serve(lis) }()
	return srv, lis, capture
}

// DialOptions returns the options a client needs to reach lis. Use them with
// the "passthrough:///bufnet" target.
func DialOptions(lis *bufconn.Listener) []grpc.DialOption {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	// bufconn does not provide TLS.
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}
}

// Target is the client target matching DialOptions.
const Target = "passthrough:///bufnet"
