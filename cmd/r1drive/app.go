package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ratio1/r1fs-drive-go/pkg/config"
	"github.com/ratio1/r1fs-drive-go/pkg/drive"
)

// envBindings lists the environment variables read for each setting, in
// order of precedence. The EE_ names are set by the edge node runtime.
var envBindings = map[string][]string{
	"r1fs-url":             {"EE_R1FS_API_URL", "R1FS_API_URL"},
	"chainstore-url":       {"EE_CHAINSTORE_API_URL", "CHAINSTORE_API_URL"},
	"chainstore-peers":     {"EE_CHAINSTORE_PEERS", "CHAINSTORE_PEERS"},
	"hkey":                 {"CSTORE_HKEY"},
	"storage":              {"R1DRIVE_STORAGE"},
	"chainstore-transport": {"R1DRIVE_CHAINSTORE_TRANSPORT"},
	"ipfs-url":             {"R1DRIVE_IPFS_URL"},
	"ipfs-gateway-url":     {"R1DRIVE_IPFS_GATEWAY_URL"},
	"max-file-size":        {"MAX_FILE_SIZE"},
	"debug":                {"DEBUG"},
	"listen":               {"R1DRIVE_LISTEN", "LISTEN_ADDR"},
	"dial-timeout":         {"R1DRIVE_DIAL_TIMEOUT"},
	"upload-timeout":       {"R1DRIVE_UPLOAD_TIMEOUT"},
	"download-timeout":     {"R1DRIVE_DOWNLOAD_TIMEOUT"},
	"metadata-timeout":     {"R1DRIVE_METADATA_TIMEOUT"},
	"shutdown-timeout":     {"R1DRIVE_SHUTDOWN_TIMEOUT"},
}

// legacyMaxFileSizeMB is the older megabyte-only size variable, used when
// MAX_FILE_SIZE is not set.
const legacyMaxFileSizeMB = "MAX_FILE_SIZE_MB"

// app carries the settings shared by all commands.
type app struct {
	v         *viper.Viper
	driveOpts []drive.Option
}

func newRootCommand(driveOpts ...drive.Option) *cobra.Command {
	return newApp(driveOpts...).rootCommand()
}

func newApp(driveOpts ...drive.Option) *app {
	return &app{v: viper.New(), driveOpts: driveOpts}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "r1drive",
		Short:         "r1drive stores files on R1FS and announces them in the ChainStore file index",
		SilenceErrors: true,
		Example: `
  # Serve the HTTP API against a local edge node
  EE_R1FS_API_URL=localhost:31235 EE_CHAINSTORE_API_URL=localhost:31234 r1drive serve

  # Development mode, nothing leaves the process
  r1drive serve --storage memory --chainstore-transport memory

  # Kubo instead of R1FS, ChainStore over gRPC
  r1drive serve --storage ipfs --ipfs-url http://127.0.0.1:5001 --chainstore-transport grpc --chainstore-url localhost:50051
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return a.bind(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("r1fs-url", "", "R1FS edge API base URL")
	flags.String("chainstore-url", "", "ChainStore API base URL (http) or address (grpc)")
	flags.String("chainstore-peers", "", "JSON array of extra ChainStore peers")
	flags.String("hkey", config.DefaultHKey, "hash namespace of the file index")
	flags.String("storage", config.BackendR1FS, "storage backend: r1fs, ipfs or memory")
	flags.String("chainstore-transport", config.TransportHTTP, "ChainStore transport: http, grpc or memory")
	flags.String("ipfs-url", "", "Kubo RPC endpoint for the ipfs backend")
	flags.String("ipfs-gateway-url", "", "optional HTTP gateway for ipfs reads")
	flags.String("max-file-size", humanize.IBytes(config.DefaultMaxFileSize), "largest accepted upload (e.g. 10MiB, 500MB)")
	flags.Bool("debug", false, "enable debug logging")
	flags.Duration("dial-timeout", 5*time.Second, "backend connect timeout")
	flags.Duration("upload-timeout", 0, "deadline for one upload, 0 disables it")
	flags.Duration("download-timeout", 0, "deadline for one download, 0 disables it")
	flags.Duration("metadata-timeout", 15*time.Second, "deadline for one index update")
	flags.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")

	cmd.AddCommand(
		newServeCommand(a),
		newListCommand(a),
		newPutCommand(a),
		newGetCommand(a),
		newStatusCommand(a),
	)
	return cmd
}

func (a *app) bind(flags *pflag.FlagSet) error {
	if err := a.v.BindPFlags(flags); err != nil {
		return err
	}
	for key, envs := range envBindings {
		if err := a.v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// loadConfig resolves flags, environment and defaults into a validated
// configuration.
func (a *app) loadConfig() (*config.Config, error) {
	v := a.v
	cfg := &config.Config{
		R1FSURL:             strings.TrimSpace(v.GetString("r1fs-url")),
		ChainstoreURL:       strings.TrimSpace(v.GetString("chainstore-url")),
		HKey:                strings.TrimSpace(v.GetString("hkey")),
		StorageBackend:      v.GetString("storage"),
		ChainstoreTransport: v.GetString("chainstore-transport"),
		IpfsURL:             strings.TrimSpace(v.GetString("ipfs-url")),
		IpfsGatewayURL:      strings.TrimSpace(v.GetString("ipfs-gateway-url")),
		ListenAddr:          v.GetString("listen"),
		Debug:               v.GetBool("debug"),
		Timeouts: config.Timeouts{
			Dial:     v.GetDuration("dial-timeout"),
			Upload:   v.GetDuration("upload-timeout"),
			Download: v.GetDuration("download-timeout"),
			Metadata: v.GetDuration("metadata-timeout"),
			Shutdown: v.GetDuration("shutdown-timeout"),
		},
	}

	peers, err := config.ParseChainstorePeers(v.GetString("chainstore-peers"))
	if err != nil {
		return nil, fmt.Errorf("parse chainstore peers: %w", err)
	}
	cfg.ChainstorePeers = peers

	size, err := a.maxFileSize()
	if err != nil {
		return nil, err
	}
	cfg.MaxFileSize = size

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maxFileSize prefers max-file-size from a flag or MAX_FILE_SIZE, then the
// megabyte count in MAX_FILE_SIZE_MB, then the flag default.
func (a *app) maxFileSize() (uint64, error) {
	if !a.v.IsSet("max-file-size") {
		if mb := strings.TrimSpace(os.Getenv(legacyMaxFileSizeMB)); mb != "" {
			size, err := config.ParseSize(mb + "MiB")
			if err != nil {
				return 0, fmt.Errorf("parse %s: %w", legacyMaxFileSizeMB, err)
			}
			return size, nil
		}
	}
	size, err := config.ParseSize(a.v.GetString("max-file-size"))
	if err != nil {
		return 0, fmt.Errorf("parse max-file-size: %w", err)
	}
	return size, nil
}

func (a *app) openDrive() (*drive.Drive, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return drive.New(cfg, a.driveOpts...)
}
