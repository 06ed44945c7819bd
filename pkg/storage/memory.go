package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// DefaultMemoryNodeID is the node address reported by a MemoryGateway
// created without one.
const DefaultMemoryNodeID = "0xai_memory_node"

// MemoryGateway keeps files in process memory. Answers use the wrapped
// {"result": {...}} envelope of the edge API. Content stored with a secret
// is only readable with the same secret; any other secret reads as
// ErrNotFound, like a backend that cannot tell a wrong key from a missing file.
type MemoryGateway struct {
	mu      sync.RWMutex
	nodeID  string
	objects map[string]memoryObject

	putErr error
	getErr error
}

type memoryObject struct {
	data     []byte
	filename string
	secret   string
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway returns an empty gateway reporting nodeID as the storing node.
func NewMemoryGateway(nodeID string) *MemoryGateway {
	if nodeID == "" {
		nodeID = DefaultMemoryNodeID
	}
	return &MemoryGateway{
		nodeID:  nodeID,
		objects: make(map[string]memoryObject),
	}
}

// FailPut makes later Put and PutBuffer calls fail with err after the body
// has been read. A nil err restores normal operation.
func (g *MemoryGateway) FailPut(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putErr = err
}

// FailGet makes later Get and GetBuffer calls fail with err.
func (g *MemoryGateway) FailGet(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getErr = err
}

// Len returns the number of stored objects.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// Put reads body to the end and stores it.
func (g *MemoryGateway) Put(ctx context.Context, body io.Reader, opts PutOptions) (model.Envelope, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("memory put: %w", err)
	}
	return g.PutBuffer(ctx, data, opts)
}

// PutBuffer stores data under a CIDv1 derived from secret and content.
func (g *MemoryGateway) PutBuffer(ctx context.Context, data []byte, opts PutOptions) (model.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := memoryCID(opts.Secret, data)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.putErr != nil {
		return nil, g.putErr
	}
	g.objects[id] = memoryObject{
		data:     bytes.Clone(data),
		filename: opts.Filename,
		secret:   opts.Secret,
	}
	return marshalEnvelope(map[string]any{
		model.FieldResult: map[string]any{
			"message":              "file stored",
			model.FieldCID:         id,
			model.FieldNodeAddress: g.nodeID,
		},
	})
}

// Get returns a reader over a copy of the stored content.
func (g *MemoryGateway) Get(ctx context.Context, id, secret string) (*Object, error) {
	obj, err := g.lookup(ctx, id, secret)
	if err != nil {
		return nil, err
	}
	info, err := marshalEnvelope(map[string]any{
		model.FieldResult: map[string]any{
			model.FieldCID:      id,
			model.FieldFilename: obj.filename,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Object{Body: io.NopCloser(bytes.NewReader(obj.data)), Info: info}, nil
}

// GetBuffer returns the content base64 encoded.
func (g *MemoryGateway) GetBuffer(ctx context.Context, id, secret string) (model.Envelope, error) {
	obj, err := g.lookup(ctx, id, secret)
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(map[string]any{
		model.FieldResult: map[string]any{
			model.FieldFileBase64: base64.StdEncoding.EncodeToString(obj.data),
			model.FieldFilename:   obj.filename,
		},
	})
}

// Status reports the object count.
func (g *MemoryGateway) Status(ctx context.Context) (model.Envelope, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return marshalEnvelope(map[string]any{
		model.FieldResult: map[string]any{
			"backend":              "memory",
			model.FieldNodeAddress: g.nodeID,
			"objects":              len(g.objects),
		},
	})
}

func (g *MemoryGateway) lookup(ctx context.Context, id, secret string) (memoryObject, error) {
	if err := ctx.Err(); err != nil {
		return memoryObject{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.getErr != nil {
		return memoryObject{}, g.getErr
	}
	obj, ok := g.objects[id]
	if !ok || obj.secret != secret {
		return memoryObject{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return obj, nil
}

// memoryCID hashes the length-prefixed secret followed by data, so equal
// content stored under different secrets gets distinct identifiers and no
// secret/data split collides with another.
func memoryCID(secret string, data []byte) (string, error) {
	prefix := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}
	buf := make([]byte, 0, binary.MaxVarintLen64+len(secret)+len(data))
	buf = binary.AppendUvarint(buf, uint64(len(secret)))
	buf = append(buf, secret...)
	buf = append(buf, data...)
	c, err := prefix.Sum(buf)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}
