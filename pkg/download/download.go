// Package download serves stored files back to callers, either as a stream
// or as a base64 payload.
package download

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/metrics"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
	"github.com/ratio1/r1fs-drive-go/pkg/storage"
)

// DefaultFilename is used when the backend does not report a name.
const DefaultFilename = "file"

const peekSize = 32 << 10

// Mode selects how content is returned.
type Mode string

const (
	// ModeStreaming relays the backend body as it arrives.
	ModeStreaming Mode = "streaming"
	// ModeBuffered returns the whole file base64-encoded in one JSON answer.
	ModeBuffered Mode = "buffered"
)

var (
	// ErrUnknownMode is returned by ParseMode for a value it does not know.
	ErrUnknownMode = errors.New("download: unknown mode")
	// ErrMissingCID is returned when a download names no cid.
	ErrMissingCID = errors.New("download: cid is required")
	// ErrMalformedResponse is returned when a buffered answer carries no
	// payload.
	ErrMalformedResponse = errors.New("download: backend response has no file payload")
)

// ParseMode maps a request parameter to a Mode. "base64" is an alias of
// buffered; an empty value means streaming.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeStreaming):
		return ModeStreaming, nil
	case "base64", string(ModeBuffered):
		return ModeBuffered, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, value)
}

// File is a streamed download. The caller must close Body.
type File struct {
	Body     io.ReadCloser
	Filename string
	Info     model.Envelope
}

// Buffer is a buffered download in its response shape.
type Buffer struct {
	FileBase64 string `json:"file_base64_str"`
	Filename   string `json:"filename"`
}

// Coordinator reads files through one storage gateway.
type Coordinator struct {
	gateway storage.Gateway
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records downloaded bytes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator returns a Coordinator reading from gateway. Metrics are
// optional.
func NewCoordinator(gateway storage.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{gateway: gateway}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens cid for reading. The first chunk is read before Stream
// returns, so backends that only fail once the body is consumed still
// report the failure here rather than halfway through a response.
func (c *Coordinator) Stream(ctx context.Context, cid, secret string) (*File, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, ErrMissingCID
	}

	obj, err := c.gateway.Get(ctx, cid, secret)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", cid, err)
	}
	br := bufio.NewReaderSize(obj.Body, peekSize)
	if _, err := br.Peek(1); err != nil && err != io.EOF {
		_ = obj.Body.Close()
		return nil, fmt.Errorf("get %s: %w", cid, err)
	}

	filename := obj.Info.String(model.FieldFilename)
	if filename == "" {
		filename = DefaultFilename
	}
	zap.L().Debug("streaming download", zap.String("cid", cid), zap.String("filename", filename))
	return &File{
		Body:     &body{r: br, c: obj.Body, metrics: c.metrics},
		Filename: filename,
		Info:     obj.Info,
	}, nil
}

// Buffered fetches cid as base64 and normalises the backend answer.
func (c *Coordinator) Buffered(ctx context.Context, cid, secret string) (*Buffer, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, ErrMissingCID
	}

	env, err := c.gateway.GetBuffer(ctx, cid, secret)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", cid, err)
	}
	payload := env.String(model.FieldFileBase64)
	if payload == "" {
		if _, ok := env.Field(model.FieldFileBase64); !ok {
			return nil, ErrMalformedResponse
		}
	}
	filename := env.String(model.FieldFilename)
	if filename == "" {
		filename = DefaultFilename
	}
	c.metrics.AddDownloaded(int64(base64.StdEncoding.DecodedLen(len(payload))))
	return &Buffer{FileBase64: payload, Filename: filename}, nil
}

type body struct {
	r       io.Reader
	c       io.Closer
	metrics *metrics.Metrics
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.metrics.AddDownloaded(int64(n))
	return n, err
}

func (b *body) Close() error {
	return b.c.Close()
}
