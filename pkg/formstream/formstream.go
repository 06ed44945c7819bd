// Package formstream decodes multipart/form-data request bodies as a stream.
// Plain fields are delivered as strings; an accepted file part is handed to
// the caller as a reader fed through a pipe while decoding continues, so the
// file never has to fit in memory.
package formstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

const (
	// DefaultMaxFieldBytes caps the value of a plain field.
	DefaultMaxFieldBytes = 1 << 20
	// DefaultMaxFiles is the number of file parts handed to the handler.
	DefaultMaxFiles = 1

	copyBufferSize = 32 << 10
)

var (
	// ErrNotMultipart is returned for a content type that is not multipart/*.
	ErrNotMultipart = errors.New("formstream: content type is not multipart")
	// ErrMissingBoundary is returned when the content type has no boundary parameter.
	ErrMissingBoundary = errors.New("formstream: multipart boundary missing")
	// ErrTruncated reports a body that ended before the closing boundary.
	ErrTruncated = errors.New("formstream: unexpected end of multipart body")
	// ErrFileTooLarge reports a file part larger than the configured limit.
	ErrFileTooLarge = errors.New("formstream: file exceeds size limit")
)

// Handler receives decoded parts in body order. Calls are made from the
// goroutine running Decode.
type Handler interface {
	// Field is called for every part without a filename.
	Field(name, value string)
	// File is called for every part with a filename until the file limit
	// is reached.
	// Returning true accepts the part: the handler must then read the part
	// from another goroutine until EOF or Abort it, because Decode blocks
	// while it pumps the content. Returning false discards the part.
	File(part *FilePart) bool
}

// FilePart is the content of one accepted file part.
type FilePart struct {
	FieldName   string
	Filename    string
	ContentType string

	pr *io.PipeReader
}

// Read reads file content. It returns io.EOF once the whole part has been
// read, or the decode error that interrupted it.
func (p *FilePart) Read(b []byte) (int, error) { return p.pr.Read(b) }

// Abort stops the transfer. The decoder's pending write fails with err,
// which Decode then returns.
func (p *FilePart) Abort(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	_ = p.pr.CloseWithError(err)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFieldBytes caps plain field values at n bytes; longer values are
// truncated. n <= 0 keeps the default.
func WithMaxFieldBytes(n int64) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFieldBytes = n
		}
	}
}

// WithMaxFiles sets how many file parts the handler may accept. Once the
// limit is reached later file parts are discarded without being offered.
// n <= 0 keeps the default.
func WithMaxFiles(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFiles = n
		}
	}
}

// WithMaxFileBytes bounds an accepted file part. 0 means unbounded.
func WithMaxFileBytes(n int64) Option {
	return func(d *Decoder) {
		if n >= 0 {
			d.maxFileBytes = n
		}
	}
}

// Decoder reads one multipart body.
type Decoder struct {
	body          io.Reader
	boundary      string
	maxFieldBytes int64
	maxFiles      int
	maxFileBytes  int64
}

// IsMultipart reports whether contentType names a multipart media type.
func IsMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// NewDecoder validates contentType and prepares a decoder over body.
func NewDecoder(contentType string, body io.Reader, opts ...Option) (*Decoder, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, ErrMissingBoundary
	}
	d := &Decoder{
		body:          body,
		boundary:      boundary,
		maxFieldBytes: DefaultMaxFieldBytes,
		maxFiles:      DefaultMaxFiles,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Decode reads the body to its closing boundary, calling h for every part.
// It returns nil once the closing boundary has been read. When decoding
// fails while a file part is open, the part's reader fails with the same
// error. Cancelling ctx interrupts an open file transfer with ctx.Err().
func (d *Decoder) Decode(ctx context.Context, h Handler) error {
	mr := multipart.NewReader(d.body, d.boundary)
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return classify(err)
		}

		if part.FileName() == "" {
			err = d.field(part, h)
		} else if files >= d.maxFiles {
			err = drain(part)
		} else {
			var accepted bool
			accepted, err = d.file(ctx, part, h)
			if accepted {
				files++
			}
		}
		_ = part.Close()
		if err != nil {
			return err
		}
	}
}

func (d *Decoder) field(part *multipart.Part, h Handler) error {
	value, err := io.ReadAll(io.LimitReader(part, d.maxFieldBytes))
	if err != nil {
		return classify(err)
	}
	if err := drain(part); err != nil {
		return err
	}
	if name := part.FormName(); name != "" {
		h.Field(name, string(value))
	}
	return nil
}

func (d *Decoder) file(ctx context.Context, part *multipart.Part, h Handler) (bool, error) {
	pr, pw := io.Pipe()
	fp := &FilePart{
		FieldName:   part.FormName(),
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		pr:          pr,
	}
	if !h.File(fp) {
		_ = pr.Close()
		return false, drain(part)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = pw.CloseWithError(ctx.Err())
	})
	defer stop()

	if err := d.pump(pw, part); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		_ = pw.CloseWithError(err)
		return true, err
	}
	return true, pw.Close()
}

// pump copies part into pw, failing when the limit is exceeded.
func (d *Decoder) pump(pw *io.PipeWriter, part *multipart.Part) error {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := part.Read(buf)
		if n > 0 {
			total += int64(n)
			if d.maxFileBytes > 0 && total > d.maxFileBytes {
				return fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, d.maxFileBytes)
			}
			if _, werr := pw.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return classify(rerr)
		}
	}
}

func drain(part *multipart.Part) error {
	if _, err := io.Copy(io.Discard, part); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps a reader error to ErrTruncated when the body simply ran out.
// mime/multipart reports a clean end of body as a bare io.EOF, which never
// reaches this function; any other EOF flavour means a missing boundary.
func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return fmt.Errorf("formstream: read body: %w", err)
}
