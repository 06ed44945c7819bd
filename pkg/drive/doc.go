// Package drive is the entry point of the service. It builds the storage
// gateway and the metadata store selected by the configuration and wires
// the upload, download and index components on top of them.
//
// # Quick Start
//
//	cfg := &config.Config{
//		R1FSURL:       "localhost:31235",
//		ChainstoreURL: "localhost:31234",
//	}
//	d, err := drive.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer d.Close()
//
//	res, err := d.Uploads.Stream(ctx, req.Header.Get("Content-Type"), req.Body, upload.Defaults{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	d.Index.Announce(ctx, index.Record{
//		CID:      res.Upload.CID,
//		NodeID:   res.Upload.NodeID,
//		Filename: res.Filename,
//		Owner:    res.Owner,
//		Secret:   res.Secret,
//	})
//
// # Backends
//
// Config.StorageBackend selects the gateway: "r1fs" (R1FS edge API),
// "ipfs" (Kubo RPC) or "memory". Config.ChainstoreTransport selects the
// metadata store: "http", "grpc" or "memory". The in-memory variants are
// meant for development and tests.
//
// # Logging
//
// The package installs a console zap logger as the global logger at init
// time. Config.Debug raises it to debug level. Replace it with
// zap.ReplaceGlobals for custom logging.
//
// # Lifecycle
//
// Close waits for running index announcements, bounded by
// Config.Timeouts.Shutdown, and closes network connections. The drive must
// not be used afterwards.
package drive
