// Package upload coordinates one file upload: it decodes the request body,
// streams the file to the storage gateway as soon as the file part shows up,
// and reconciles the metadata fields that arrive before or after the file.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/formstream"
	"github.com/ratio1/r1fs-drive-go/pkg/metrics"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
	"github.com/ratio1/r1fs-drive-go/pkg/storage"
)

// FileField is the form field carrying the file.
const FileField = "file"

// Recognised metadata fields.
const (
	FieldFilename = "filename"
	FieldOwner    = "owner"
	FieldSecret   = "secret"
	FieldNonce    = "nonce"
)

var (
	// ErrNoFile is returned when the body ends without a file part. No
	// backend call has been made.
	ErrNoFile = errors.New("no file received in upload request")
	// ErrInvalidPayload reports a buffered upload that cannot be decoded.
	ErrInvalidPayload = errors.New("upload: invalid base64 payload")

	errGatewayStopped = errors.New("upload: gateway returned before reading the whole file")
)

// Defaults seed the metadata before the body is read, typically from
// request headers. Body fields override them.
type Defaults struct {
	Filename string
	Owner    string
	Secret   string
}

// Result is the settled outcome of an upload.
type Result struct {
	Upload   model.UploadResult
	Filename string
	Owner    string
	Secret   string
	Nonce    *float64
}

// Coordinator runs uploads against one storage gateway.
type Coordinator struct {
	gateway     storage.Gateway
	decoderOpts []formstream.Option
	metrics     *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxFileBytes bounds streamed files. 0 means unbounded.
func WithMaxFileBytes(n uint64) Option {
	return func(c *Coordinator) {
		c.decoderOpts = append(c.decoderOpts, formstream.WithMaxFileBytes(int64(n)))
	}
}

// WithMetrics records uploaded bytes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator returns a coordinator writing to gateway.
func NewCoordinator(gateway storage.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{gateway: gateway}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseNonce interprets a nonce field. Blank and non-numeric values mean
// no nonce.
func ParseNonce(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Stream runs a multipart upload. The gateway call starts when the "file"
// part is observed and receives the metadata known at that moment; the
// result reflects the metadata at the end of the body. A gateway failure
// aborts the file stream with the same error before Stream returns it; a
// body that fails to decode is reported as the decode error.
func (c *Coordinator) Stream(ctx context.Context, contentType string, body io.Reader, defaults Defaults) (*Result, error) {
	dec, err := formstream.NewDecoder(contentType, body, c.decoderOpts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		ctx:      ctx,
		gateway:  c.gateway,
		filename: strings.TrimSpace(defaults.Filename),
		owner:    strings.TrimSpace(defaults.Owner),
		secret:   strings.TrimSpace(defaults.Secret),
		defaults: defaults,
		done:     make(chan putOutcome, 1),
	}

	decodeErr := dec.Decode(ctx, s)
	res, err := s.settle(decodeErr)
	c.metrics.AddUploaded(s.sent.Load())
	if err != nil {
		zap.L().Debug("streamed upload failed", zap.Error(err), zap.Int64("bytes", s.sent.Load()))
		return nil, err
	}
	return res, nil
}

type putOutcome struct {
	env model.Envelope
	err error
}

// session is the per-request state. Field and File run on the decoding
// goroutine; the gateway call reports through done.
type session struct {
	ctx     context.Context
	gateway storage.Gateway

	filename string
	owner    string
	secret   string
	nonce    *float64
	defaults Defaults

	started bool
	sent    atomic.Int64
	done    chan putOutcome
}

func (s *session) Field(name, value string) {
	value = strings.TrimSpace(value)
	switch name {
	case FieldOwner:
		s.owner = value
	case FieldSecret:
		s.secret = value
	case FieldFilename:
		s.filename = value
	case FieldNonce:
		s.nonce = ParseNonce(value)
	}
}

func (s *session) File(part *formstream.FilePart) bool {
	if part.FieldName != FileField || s.started {
		return false
	}
	s.started = true
	if s.filename == "" {
		s.filename = strings.TrimSpace(part.Filename)
	}

	opts := storage.PutOptions{
		Filename: s.filename,
		Secret:   s.secret,
		Nonce:    s.nonce,
	}
	if opts.Filename == "" {
		opts.Filename = part.Filename
	}

	go func() {
		env, err := s.gateway.Put(s.ctx, &countingReader{r: part, n: &s.sent}, opts)
		if err != nil {
			part.Abort(err)
		} else {
			// No-op once the part was read to EOF; otherwise unblocks the decoder.
			part.Abort(errGatewayStopped)
		}
		s.done <- putOutcome{env: env, err: err}
	}()
	return true
}

// settle produces the single outcome of the upload once decoding stopped.
func (s *session) settle(decodeErr error) (*Result, error) {
	if !s.started {
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, ErrNoFile
	}

	// Decode closes the file pipe with its own error before returning, so the
	// gateway already sees the failure. Closing the read side here would
	// replace that error with io.ErrClosedPipe.
	out := <-s.done
	// A decoder that failed on its own reports the cause; one that only
	// echoes the gateway's abort defers to the gateway error.
	if decodeErr != nil && (out.err == nil || !errors.Is(decodeErr, out.err)) {
		return nil, decodeErr
	}
	if out.err != nil {
		return nil, out.err
	}

	filename := s.filename
	if filename == "" {
		filename = strings.TrimSpace(s.defaults.Filename)
	}
	if filename == "" {
		filename = model.DefaultFilename
	}
	owner := s.owner
	if owner == "" {
		owner = strings.TrimSpace(s.defaults.Owner)
	}
	secret := s.secret
	if secret == "" {
		secret = strings.TrimSpace(s.defaults.Secret)
	}

	return &Result{
		Upload:   model.ParseUploadResult(out.env),
		Filename: filename,
		Owner:    owner,
		Secret:   secret,
		Nonce:    s.nonce,
	}, nil
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Base64Request is the JSON body of a buffered upload.
type Base64Request struct {
	FileBase64 string `json:"file_base64_str"`
	Filename   string `json:"filename"`
	Owner      string `json:"owner"`
	Secret     string `json:"secret"`
	Nonce      any    `json:"nonce"`
}

// Buffered decodes the whole payload in memory and stores it with PutBuffer.
func (c *Coordinator) Buffered(ctx context.Context, req Base64Request) (*Result, error) {
	data, err := decodeBase64(req.FileBase64)
	if err != nil {
		return nil, err
	}

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = model.DefaultFilename
	}
	res := &Result{
		Filename: filename,
		Owner:    strings.TrimSpace(req.Owner),
		Secret:   strings.TrimSpace(req.Secret),
		Nonce:    nonceOf(req.Nonce),
	}

	env, err := c.gateway.PutBuffer(ctx, data, storage.PutOptions{
		Filename: res.Filename,
		Secret:   res.Secret,
		Nonce:    res.Nonce,
	})
	if err != nil {
		return nil, err
	}
	c.metrics.AddUploaded(int64(len(data)))
	res.Upload = model.ParseUploadResult(env)
	return res, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: file_base64_str is empty", ErrInvalidPayload)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidPayload)
}

// nonceOf accepts a JSON number or a numeric string.
func nonceOf(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		return ParseNonce(n)
	}
	return nil
}
