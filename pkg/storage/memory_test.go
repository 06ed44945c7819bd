package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryGatewayRoundTrip(t *testing.T) {
	gw := NewMemoryGateway("")
	ctx := context.Background()

	env, err := gw.Put(ctx, strings.NewReader("payload"), PutOptions{Filename: "p.txt"})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	id := env.String("cid")
	if _, err := ParseCID(id); err != nil {
		t.Fatalf("memory gateway produced invalid cid %q: %v", id, err)
	}
	if got := env.String("ee_node_address"); got != DefaultMemoryNodeID {
		t.Fatalf("unexpected node id %q", got)
	}

	obj, err := gw.Get(ctx, id, "")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	data, _ := io.ReadAll(obj.Body)
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}
	if obj.Info.String("filename") != "p.txt" {
		t.Fatalf("unexpected info %s", obj.Info)
	}

	buf, err := gw.GetBuffer(ctx, id, "")
	if err != nil {
		t.Fatalf("GetBuffer error: %v", err)
	}
	if buf.String("file_base64_str") != base64.StdEncoding.EncodeToString([]byte("payload")) {
		t.Fatalf("unexpected buffer %s", buf)
	}
}

func TestMemoryGatewaySecrets(t *testing.T) {
	gw := NewMemoryGateway("0xai_n1")
	ctx := context.Background()

	plain, _ := gw.PutBuffer(ctx, []byte("same"), PutOptions{})
	secret, _ := gw.PutBuffer(ctx, []byte("same"), PutOptions{Secret: "k1"})
	if plain.String("cid") == secret.String("cid") {
		t.Fatal("secret should change the cid")
	}
	if gw.Len() != 2 {
		t.Fatalf("expected 2 objects, got %d", gw.Len())
	}

	if _, err := gw.Get(ctx, secret.String("cid"), "wrong"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong secret should read as not found, got %v", err)
	}
	if _, err := gw.GetBuffer(ctx, secret.String("cid"), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing secret should read as not found, got %v", err)
	}
	if _, err := gw.Get(ctx, secret.String("cid"), "k1"); err != nil {
		t.Fatalf("correct secret failed: %v", err)
	}
}

func TestMemoryGatewaySecretBoundary(t *testing.T) {
	gw := NewMemoryGateway("")
	ctx := context.Background()

	ab, err := gw.PutBuffer(ctx, []byte("c"), PutOptions{Secret: "ab"})
	if err != nil {
		t.Fatalf("PutBuffer error: %v", err)
	}
	a, err := gw.PutBuffer(ctx, []byte("bc"), PutOptions{Secret: "a"})
	if err != nil {
		t.Fatalf("PutBuffer error: %v", err)
	}
	if ab.String("cid") == a.String("cid") {
		t.Fatalf("secret/data split collided on cid %s", a.String("cid"))
	}
	if gw.Len() != 2 {
		t.Fatalf("expected 2 objects, got %d", gw.Len())
	}

	for _, tc := range []struct{ id, secret, want string }{
		{ab.String("cid"), "ab", "c"},
		{a.String("cid"), "a", "bc"},
	} {
		obj, err := gw.Get(ctx, tc.id, tc.secret)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", tc.id, err)
		}
		data, _ := io.ReadAll(obj.Body)
		if string(data) != tc.want {
			t.Fatalf("Get(%s) = %q, want %q", tc.id, data, tc.want)
		}
	}
}

func TestMemoryGatewayIdempotentPut(t *testing.T) {
	gw := NewMemoryGateway("")
	a, _ := gw.PutBuffer(context.Background(), []byte("x"), PutOptions{})
	b, _ := gw.PutBuffer(context.Background(), []byte("x"), PutOptions{})
	if a.String("cid") != b.String("cid") || gw.Len() != 1 {
		t.Fatalf("same content should map to one object")
	}
}

func TestMemoryGatewayFaults(t *testing.T) {
	gw := NewMemoryGateway("")
	ctx := context.Background()
	boom := errors.New("disk full")

	gw.FailPut(boom)
	if _, err := gw.Put(ctx, strings.NewReader("x"), PutOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected put error, got %v", err)
	}
	gw.FailPut(nil)
	env, err := gw.Put(ctx, strings.NewReader("x"), PutOptions{})
	if err != nil {
		t.Fatalf("Put after clearing fault: %v", err)
	}

	gw.FailGet(boom)
	if _, err := gw.Get(ctx, env.String("cid"), ""); !errors.Is(err, boom) {
		t.Fatalf("expected injected get error, got %v", err)
	}

	readErr := errors.New("read failed")
	gw.FailGet(nil)
	if _, err := gw.Put(ctx, failingReader{readErr}, PutOptions{}); !errors.Is(err, readErr) {
		t.Fatalf("expected body read error, got %v", err)
	}
}

func TestMemoryGatewayCanceledContext(t *testing.T) {
	gw := NewMemoryGateway("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gw.PutBuffer(ctx, []byte("x"), PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryGatewayStatus(t *testing.T) {
	gw := NewMemoryGateway("0xai_status")
	env, err := gw.Status(context.Background())
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if env.String("ee_node_address") != "0xai_status" {
		t.Fatalf("unexpected status %s", env)
	}
}
