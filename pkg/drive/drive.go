package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/ratio1/r1fs-drive-go/pkg/chainstore"
	"github.com/ratio1/r1fs-drive-go/pkg/config"
	"github.com/ratio1/r1fs-drive-go/pkg/download"
	"github.com/ratio1/r1fs-drive-go/pkg/index"
	"github.com/ratio1/r1fs-drive-go/pkg/metrics"
	"github.com/ratio1/r1fs-drive-go/pkg/storage"
	"github.com/ratio1/r1fs-drive-go/pkg/upload"
)

var logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// init configures a default global zap logger. Applications may replace it
// with zap.ReplaceGlobals(...) if they need custom logging.
func init() {
	c := zap.Config{
		Level:            logLevel,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := c.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

// Drive holds the backend clients and the coordinators built on top of them.
// Create it with New and release it with Close.
type Drive struct {
	Config    *config.Config
	Gateway   storage.Gateway
	Store     chainstore.Store
	Uploads   *upload.Coordinator
	Downloads *download.Coordinator
	Index     *index.Reconciler
	Metrics   *metrics.Metrics

	closers []func() error
}

// Option customises how New builds the backends.
type Option func(*options)

type options struct {
	gateway     storage.Gateway
	store       chainstore.Store
	httpClient  *http.Client
	dialOptions []grpc.DialOption
	metrics     *metrics.Metrics
}

// WithGateway uses gw instead of building one from the configuration.
func WithGateway(gw storage.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithStore uses store instead of building one from the configuration.
func WithStore(store chainstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient sets the client used by the HTTP backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithGRPCDialOptions adds dial options for the grpc ChainStore transport.
func WithGRPCDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New validates cfg and builds the storage gateway, the metadata store and
// the coordinators. cfg is normalised in place.
func New(cfg *config.Config, opts ...Option) (*Drive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Debug {
		logLevel.SetLevel(zapcore.DebugLevel)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(cfg.Timeouts.Dial)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	d := &Drive{Config: cfg, Metrics: o.metrics}

	d.Gateway = o.gateway
	if d.Gateway == nil {
		gw, err := newGateway(cfg, o.httpClient)
		if err != nil {
			return nil, err
		}
		d.Gateway = gw
	}

	d.Store = o.store
	if d.Store == nil {
		store, closer, err := newStore(cfg, o.httpClient, o.dialOptions)
		if err != nil {
			return nil, err
		}
		d.Store = store
		if closer != nil {
			d.closers = append(d.closers, closer)
		}
	}

	d.Uploads = upload.NewCoordinator(d.Gateway,
		upload.WithMaxFileBytes(cfg.MaxFileSize),
		upload.WithMetrics(d.Metrics))
	d.Downloads = download.NewCoordinator(d.Gateway, download.WithMetrics(d.Metrics))
	d.Index = index.New(d.Store, cfg.HKey,
		index.WithTimeout(cfg.Timeouts.Metadata),
		index.WithMetrics(d.Metrics))

	zap.L().Info("drive ready",
		zap.String("storage", cfg.StorageBackend),
		zap.String("chainstore", cfg.ChainstoreTransport),
		zap.String("hkey", cfg.HKey),
		zap.Uint64("max_file_size", cfg.MaxFileSize))
	return d, nil
}

func newGateway(cfg *config.Config, httpClient *http.Client) (storage.Gateway, error) {
	switch cfg.StorageBackend {
	case config.BackendR1FS:
		return storage.NewR1FSClient(cfg.R1FSURL, httpClient), nil
	case config.BackendIPFS:
		api, err := storage.NewIPFSClient(cfg.IpfsURL, cfg.Timeouts.Dial)
		if err != nil {
			return nil, fmt.Errorf("ipfs client: %w", err)
		}
		return storage.NewKuboGateway(api, cfg.IpfsGatewayURL), nil
	case config.BackendMemory:
		zap.L().Warn("using in-memory storage, content is lost on exit")
		return storage.NewMemoryGateway(""), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func newStore(cfg *config.Config, httpClient *http.Client, dialOpts []grpc.DialOption) (chainstore.Store, func() error, error) {
	switch cfg.ChainstoreTransport {
	case config.TransportHTTP:
		return chainstore.NewHTTPClient(cfg.ChainstoreURL, cfg.ChainstorePeers, httpClient), nil, nil
	case config.TransportGRPC:
		c, err := chainstore.NewGRPCClient(cfg.ChainstoreURL, cfg.ChainstorePeers, dialOpts...)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Dial)
		defer cancel()
		if err := c.WaitReady(ctx); err != nil {
			// The connection keeps retrying in the background.
			zap.L().Warn("chainstore not reachable yet", zap.String("endpoint", cfg.ChainstoreURL), zap.Error(err))
		}
		return c, c.Close, nil
	case config.TransportMemory:
		zap.L().Warn("using in-memory chainstore, the file index is lost on exit")
		return chainstore.NewMemoryStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown chainstore transport %q", cfg.ChainstoreTransport)
}

// newHTTPClient bounds connection setup only; transfers run as long as the
// request context allows.
func newHTTPClient(dial time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if dial > 0 {
		transport.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = dial
	}
	return &http.Client{Transport: transport}
}

// Close waits for pending index announcements, up to the shutdown timeout,
// then releases the backend connections.
func (d *Drive) Close() error {
	done := make(chan struct{})
	go func() {
		d.Index.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.Config.Timeouts.Shutdown):
		zap.L().Warn("index announcements still running at shutdown")
	}

	var errs []error
	for _, closer := range d.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}
