package grpc

import (
	"testing"

	"google.golang.org/protobuf/reflect/protoreflect"
)

func TestChainStoreService(t *testing.T) {
	svc, err := ChainStoreService()
	if err != nil {
		t.Fatalf("ChainStoreService returned error: %v", err)
	}
	if svc.FullName() != ChainStoreServiceName {
		t.Fatalf("unexpected service: %s", svc.FullName())
	}

	tests := []struct {
		method, path, input string
	}{
		{"HGet", "/chainstore.ChainStore/HGet", "chainstore.HGetRequest"},
		{"HSet", "/chainstore.ChainStore/HSet", "chainstore.HSetRequest"},
		{"HGetAll", "/chainstore.ChainStore/HGetAll", "chainstore.HGetAllRequest"},
		{"GetStatus", "/chainstore.ChainStore/GetStatus", "chainstore.GetStatusRequest"},
	}
	for _, tt := range tests {
		md := svc.Methods().ByName(protoreflect.Name(tt.method))
		if md == nil {
			t.Fatalf("method %s missing", tt.method)
		}
		if got := FullMethod(md); got != tt.path {
			t.Errorf("FullMethod(%s) = %s, want %s", tt.method, got, tt.path)
		}
		if got := string(md.Input().FullName()); got != tt.input {
			t.Errorf("%s input = %s, want %s", tt.method, got, tt.input)
		}
	}
}

func TestChainStoreServiceCompiledOnce(t *testing.T) {
	a, err := ChainStoreService()
	if err != nil {
		t.Fatal(err)
	}
	b, err := ChainStoreService()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("descriptor compiled twice")
	}
}

func TestTransportFor(t *testing.T) {
	tests := []struct {
		endpoint, addr string
	}{
		{"https://cstore:443", "cstore:443"},
		{"http://cstore:50051", "cstore:50051"},
		{"cstore:50051", "cstore:50051"},
	}
	for _, tt := range tests {
		addr, opt := transportFor(tt.endpoint)
		if addr != tt.addr || opt == nil {
			t.Errorf("transportFor(%q) = %q, %v", tt.endpoint, addr, opt)
		}
	}
}
