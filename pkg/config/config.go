// Package config defines the runtime configuration of the drive service:
// storage gateway and metadata store endpoints, the index namespace, upload
// limits and operation timeouts. It also provides validation and defaulting
// helpers.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Storage backends.
const (
	BackendR1FS   = "r1fs"
	BackendIPFS   = "ipfs"
	BackendMemory = "memory"
)

// Metadata store transports.
const (
	TransportHTTP   = "http"
	TransportGRPC   = "grpc"
	TransportMemory = "memory"
)

const (
	// DefaultHKey is the hash namespace used for the file index when none is configured.
	DefaultHKey = "ratio1-drive-test"
	// DefaultListenAddr is the HTTP listen address of the service.
	DefaultListenAddr = ":3000"
	// DefaultMaxFileSize bounds a single streamed upload.
	DefaultMaxFileSize = 10 * humanize.MiByte
)

// Config holds every setting needed to build a drive instance.
// Use Validate to fill implicit defaults and to check for required fields.
type Config struct {
	// R1FSURL is the base URL of the R1FS edge API (required for the r1fs backend).
	R1FSURL string `json:"r1fs_url" yaml:"r1fs_url"`
	// ChainstoreURL is the ChainStore endpoint: an HTTP base URL for the http
	// transport or a host:port (optionally with scheme) for grpc.
	ChainstoreURL string `json:"chainstore_url" yaml:"chainstore_url"`
	// ChainstorePeers are additional ChainStore peers that writes are propagated to.
	ChainstorePeers []string `json:"chainstore_peers" yaml:"chainstore_peers"`
	// HKey is the hash namespace holding the per-node file index.
	// Default: ratio1-drive-test
	HKey string `json:"hkey" yaml:"hkey"`
	// StorageBackend selects the storage gateway: r1fs, ipfs or memory. Default: r1fs
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	// ChainstoreTransport selects the metadata store client: http, grpc or memory. Default: http
	ChainstoreTransport string `json:"chainstore_transport" yaml:"chainstore_transport"`
	// IpfsURL is the Kubo RPC endpoint (required for the ipfs backend).
	IpfsURL string `json:"ipfs_url" yaml:"ipfs_url"`
	// IpfsGatewayURL optionally routes ipfs backend reads through an HTTP gateway.
	IpfsGatewayURL string `json:"ipfs_gateway_url" yaml:"ipfs_gateway_url"`
	// MaxFileSize bounds a streamed upload in bytes. Default: 10 MiB
	MaxFileSize uint64 `json:"max_file_size" yaml:"max_file_size"`
	// ListenAddr is the HTTP listen address. Default: :3000
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation deadlines. See Timeouts.WithDefaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
}

// Timeouts controls operation deadlines. Upload and Download stay unbounded
// when zero; the request context still cancels them when the client leaves.
type Timeouts struct {
	Dial     time.Duration // connect to gRPC/HTTP backends
	Upload   time.Duration // whole streamed upload, 0 = no deadline
	Download time.Duration // backend retrieval, 0 = no deadline
	Metadata time.Duration // one index read-modify-write
	Shutdown time.Duration // graceful HTTP shutdown
}

// Validate normalizes the configuration by applying implicit defaults and
// verifies that the endpoints required by the selected backends are present.
func (c *Config) Validate() error {
	if c.HKey == "" {
		c.HKey = DefaultHKey
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}

	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = BackendR1FS
	}
	c.ChainstoreTransport = strings.ToLower(strings.TrimSpace(c.ChainstoreTransport))
	if c.ChainstoreTransport == "" {
		c.ChainstoreTransport = TransportHTTP
	}

	switch c.StorageBackend {
	case BackendR1FS:
		if c.R1FSURL == "" {
			return errors.New("R1FS API URL is required")
		}
		c.R1FSURL = EnsureHTTPProtocol(c.R1FSURL)
	case BackendIPFS:
		if c.IpfsURL == "" {
			return errors.New("IPFS RPC URL is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.ChainstoreTransport {
	case TransportHTTP:
		if c.ChainstoreURL == "" {
			return errors.New("ChainStore API URL is required")
		}
		c.ChainstoreURL = EnsureHTTPProtocol(c.ChainstoreURL)
	case TransportGRPC:
		if c.ChainstoreURL == "" {
			return errors.New("ChainStore gRPC address is required")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("unknown chainstore transport %q", c.ChainstoreTransport)
	}

	c.Timeouts = c.Timeouts.WithDefaults()
	return nil
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	Dial:     5s
//	Metadata: 15s
//	Shutdown: 30s
//
// Upload and Download are left as configured.
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.Dial == 0 {
		tt.Dial = 5 * time.Second
	}
	if tt.Metadata == 0 {
		tt.Metadata = 15 * time.Second
	}
	if tt.Shutdown == 0 {
		tt.Shutdown = 30 * time.Second
	}
	return tt
}

// EnsureHTTPProtocol prefixes url with http:// unless it already carries an
// http or https scheme. Empty input stays empty.
func EnsureHTTPProtocol(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return "http://" + url
}

// ParseChainstorePeers parses the peer list given as a JSON array of strings.
// Surrounding single quotes and single-quoted entries left over from shell
// quoting are tolerated. Blank input yields an empty list.
func ParseChainstorePeers(value string) ([]string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return []string{}, nil
	}
	if len(raw) >= 2 && strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") {
		raw = raw[1 : len(raw)-1]
	}
	raw = strings.ReplaceAll(raw, "'", `"`)

	var parsed []any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("CHAINSTORE_PEERS must be a JSON array: %w", err)
	}
	peers := make([]string, 0, len(parsed))
	for _, entry := range parsed {
		s, ok := entry.(string)
		if !ok {
			return nil, errors.New("CHAINSTORE_PEERS entries must be strings")
		}
		peers = append(peers, s)
	}
	return peers, nil
}

// ParseSize parses a human readable size ("10MB", "512 KiB", "1048576").
func ParseSize(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	return size, nil
}
