// Package config provides configuration management for the drive service.
//
// # Basic Configuration
//
// The minimum configuration names the R1FS and ChainStore endpoints:
//
//	cfg := &config.Config{
//		R1FSURL:       "localhost:31235",
//		ChainstoreURL: "localhost:31234",
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Validate prefixes bare host:port URLs with http:// and fills the defaults:
//
//	HKey:                ratio1-drive-test
//	StorageBackend:      r1fs
//	ChainstoreTransport: http
//	MaxFileSize:         10 MiB
//	ListenAddr:          :3000
//
// # Backends
//
// StorageBackend chooses where file bytes go:
//
//   - r1fs:   the R1FS edge API (R1FSURL)
//   - ipfs:   a Kubo node over its RPC API (IpfsURL, optional IpfsGatewayURL for reads)
//   - memory: an in-process store for local development
//
// ChainstoreTransport chooses how the file index is reached:
//
//   - http:   the ChainStore REST API (ChainstoreURL)
//   - grpc:   the ChainStore gRPC service (ChainstoreURL as host:port, https:// enables TLS)
//   - memory: an in-process hash map
//
// # Environment
//
// The r1drive command binds these variables, EE_* names first:
//
//	EE_R1FS_API_URL, R1FS_API_URL
//	EE_CHAINSTORE_API_URL, CHAINSTORE_API_URL
//	EE_CHAINSTORE_PEERS, CHAINSTORE_PEERS   JSON array, e.g. '["peer1:port","peer2:port"]'
//	CSTORE_HKEY
//	MAX_FILE_SIZE (human size) or MAX_FILE_SIZE_MB
//	DEBUG
//
// # Timeouts
//
// Timeouts.WithDefaults fills Dial (5s), Metadata (15s) and Shutdown (30s).
// Upload and Download have no default: a zero value means the operation is
// bounded only by the request context.
package config
