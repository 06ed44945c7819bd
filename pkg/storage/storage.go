// Package storage implements the content-addressed storage gateways the drive
// writes file bytes to: the R1FS edge API, an IPFS Kubo node and an
// in-process memory store. Every gateway returns the backend's raw answer as a
// model.Envelope; callers normalise it with Envelope.Field.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// IpfsPrefix is the URI scheme prefix accepted in front of CIDs.
const IpfsPrefix = "ipfs://"

var (
	// ErrNotFound reports that no object matches the CID and secret pair.
	ErrNotFound = errors.New("storage: file not found")
	// ErrSecretUnsupported is returned by backends that cannot encrypt with a custom key.
	ErrSecretUnsupported = errors.New("storage: custom secret not supported by backend")
	// ErrInvalidCID reports a malformed content identifier.
	ErrInvalidCID = errors.New("storage: invalid cid")
)

// Gateway is the storage backend contract used by the upload and download
// coordinators.
type Gateway interface {
	// Put streams body to the backend. It returns once the backend has stored
	// the content; a read error from body fails the call.
	Put(ctx context.Context, body io.Reader, opts PutOptions) (model.Envelope, error)
	// PutBuffer stores an in-memory payload.
	PutBuffer(ctx context.Context, data []byte, opts PutOptions) (model.Envelope, error)
	// Get opens a stream over the stored content. The caller must close Body.
	Get(ctx context.Context, cid, secret string) (*Object, error)
	// GetBuffer returns the content base64 encoded inside the backend envelope.
	GetBuffer(ctx context.Context, cid, secret string) (model.Envelope, error)
	// Status reports backend health.
	Status(ctx context.Context) (model.Envelope, error)
}

// PutOptions carries the per-upload parameters forwarded to the backend.
type PutOptions struct {
	Filename string
	Secret   string
	Nonce    *float64
}

// Object is an open download.
type Object struct {
	Body io.ReadCloser
	// Info holds the metadata the backend returned alongside the bytes,
	// at least the filename when known.
	Info model.Envelope
}

// APIError is a non-2xx answer from an HTTP backend.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, body)
}

// ParseCID strips an ipfs:// prefix and surrounding whitespace and decodes
// the remaining content identifier.
func ParseCID(s string) (cid.Cid, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), IpfsPrefix))
	c, err := cid.Parse(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w %q: %v", ErrInvalidCID, s, err)
	}
	return c, nil
}
