package config

import (
	"strings"
	"testing"
	"time"
)

// TestConfigValidate_AppliesDefaults verifies that Validate fills HKey, backends,
// size limit and listen address, and prefixes bare endpoints with http://.
func TestConfigValidate_AppliesDefaults(t *testing.T) {
	cfg := &Config{
		R1FSURL:       "localhost:31235",
		ChainstoreURL: "localhost:31234",
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if cfg.HKey != "ratio1-drive-test" {
		t.Fatalf("unexpected HKey: %s", cfg.HKey)
	}
	if cfg.StorageBackend != BackendR1FS {
		t.Fatalf("unexpected backend: %s", cfg.StorageBackend)
	}
	if cfg.ChainstoreTransport != TransportHTTP {
		t.Fatalf("unexpected transport: %s", cfg.ChainstoreTransport)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Fatalf("unexpected MaxFileSize: %d", cfg.MaxFileSize)
	}
	if cfg.ListenAddr != ":3000" {
		t.Fatalf("unexpected ListenAddr: %s", cfg.ListenAddr)
	}
	if cfg.R1FSURL != "http://localhost:31235" {
		t.Fatalf("unexpected R1FSURL: %s", cfg.R1FSURL)
	}
	if cfg.ChainstoreURL != "http://localhost:31234" {
		t.Fatalf("unexpected ChainstoreURL: %s", cfg.ChainstoreURL)
	}
	if cfg.Timeouts.Metadata != 15*time.Second {
		t.Fatalf("expected metadata timeout default, got %v", cfg.Timeouts.Metadata)
	}
}

// TestConfigValidate_RequiredEndpoints verifies that every backend asks for
// the endpoint it talks to, and that memory backends need none.
func TestConfigValidate_RequiredEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "r1fs without url",
			cfg:     Config{ChainstoreURL: "cs:1"},
			wantErr: "R1FS",
		},
		{
			name:    "ipfs without url",
			cfg:     Config{StorageBackend: "ipfs", ChainstoreURL: "cs:1"},
			wantErr: "IPFS",
		},
		{
			name:    "http chainstore without url",
			cfg:     Config{R1FSURL: "r1fs:1"},
			wantErr: "ChainStore API",
		},
		{
			name:    "grpc chainstore without address",
			cfg:     Config{R1FSURL: "r1fs:1", ChainstoreTransport: "grpc"},
			wantErr: "gRPC",
		},
		{
			name:    "unknown backend",
			cfg:     Config{StorageBackend: "s3", ChainstoreTransport: "memory"},
			wantErr: "unknown storage backend",
		},
		{
			name:    "unknown transport",
			cfg:     Config{StorageBackend: "memory", ChainstoreTransport: "kafka"},
			wantErr: "unknown chainstore transport",
		},
		{
			name: "memory everything",
			cfg:  Config{StorageBackend: "Memory", ChainstoreTransport: " memory "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestConfigValidate_GRPCAddressUntouched verifies that gRPC addresses are not
// rewritten to HTTP URLs.
func TestConfigValidate_GRPCAddressUntouched(t *testing.T) {
	cfg := &Config{StorageBackend: BackendMemory, ChainstoreTransport: TransportGRPC, ChainstoreURL: "cstore:50051"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if cfg.ChainstoreURL != "cstore:50051" {
		t.Fatalf("unexpected ChainstoreURL: %s", cfg.ChainstoreURL)
	}
}

// TestConfigValidate_PreservesExplicitValues verifies that Validate does not
// override values that are already set.
func TestConfigValidate_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		StorageBackend:      BackendMemory,
		ChainstoreTransport: TransportMemory,
		HKey:                "prod-drive",
		MaxFileSize:         1024,
		ListenAddr:          "127.0.0.1:8080",
		Timeouts:            Timeouts{Metadata: time.Second, Upload: time.Minute},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if cfg.HKey != "prod-drive" || cfg.MaxFileSize != 1024 || cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("explicit values overridden: %+v", cfg)
	}
	if cfg.Timeouts.Metadata != time.Second || cfg.Timeouts.Upload != time.Minute {
		t.Fatalf("explicit timeouts overridden: %+v", cfg.Timeouts)
	}
}

// TestTimeoutsWithDefaults verifies which timeouts get defaults.
func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{}.WithDefaults()
	want := Timeouts{Dial: 5 * time.Second, Metadata: 15 * time.Second, Shutdown: 30 * time.Second}
	if got != want {
		t.Fatalf("WithDefaults() = %+v, want %+v", got, want)
	}

	custom := Timeouts{Dial: time.Second, Download: 2 * time.Second}.WithDefaults()
	if custom.Dial != time.Second {
		t.Fatalf("Dial overridden: %v", custom.Dial)
	}
	if custom.Download != 2*time.Second {
		t.Fatalf("Download overridden: %v", custom.Download)
	}
	if custom.Upload != 0 {
		t.Fatalf("Upload should stay unbounded, got %v", custom.Upload)
	}
}

func TestEnsureHTTPProtocol(t *testing.T) {
	tests := map[string]string{
		"":                        "",
		"localhost:31235":         "http://localhost:31235",
		"  node:1  ":              "http://node:1",
		"http://node:1":           "http://node:1",
		"https://edge.example.io": "https://edge.example.io",
	}
	for in, want := range tests {
		if got := EnsureHTTPProtocol(in); got != want {
			t.Errorf("EnsureHTTPProtocol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseChainstorePeers(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "blank", in: "  ", want: []string{}},
		{name: "json array", in: `["peer1:31234","peer2:31234"]`, want: []string{"peer1:31234", "peer2:31234"}},
		{name: "single quoted array", in: `'["peer1:31234"]'`, want: []string{"peer1:31234"}},
		{name: "single quoted entries", in: `['a','b']`, want: []string{"a", "b"}},
		{name: "empty array", in: `[]`, want: []string{}},
		{name: "not json", in: `peer1,peer2`, wantErr: true},
		{name: "object", in: `{"a":1}`, wantErr: true},
		{name: "non string entry", in: `["a", 2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChainstorePeers(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "1048576", want: 1048576},
		{in: "10MB", want: 10 * 1000 * 1000},
		{in: "10 MiB", want: 10 * 1024 * 1024},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
