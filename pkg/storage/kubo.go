package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// KuboGateway stores files on an IPFS node through the Kubo RPC API. The
// storing node is identified by its peer id. Reads go through the RPC "cat"
// command unless an HTTP gateway URL is configured.
type KuboGateway struct {
	api        *rpc.HttpApi
	gatewayURL string
	httpClient *http.Client

	mu     sync.Mutex
	peerID string
}

var _ Gateway = (*KuboGateway)(nil)

// NewIPFSClient constructs a Kubo HTTP API client pointed at url.
// dialTimeout bounds connection setup only, so long transfers are not cut off.
func NewIPFSClient(url string, dialTimeout time.Duration) (*rpc.HttpApi, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if dialTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	}
	client, err := rpc.NewURLApiWithClient(url, &http.Client{Transport: transport})
	if err != nil {
		zap.L().Error("Connection failed to IPFS", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return client, nil
}

// NewKuboGateway returns a gateway using api. gatewayURL may be empty.
func NewKuboGateway(api *rpc.HttpApi, gatewayURL string) *KuboGateway {
	return &KuboGateway{
		api:        api,
		gatewayURL: gatewayURL,
		httpClient: &http.Client{},
	}
}

type kuboAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Put adds body to the node as a CIDv1 raw-leaves object and pins it.
func (g *KuboGateway) Put(ctx context.Context, body io.Reader, opts PutOptions) (model.Envelope, error) {
	if opts.Secret != "" {
		return nil, ErrSecretUnsupported
	}
	if g.api == nil {
		return nil, errors.New("ipfs client not configured")
	}

	var added kuboAddResponse
	err := g.api.Request("add").
		Option("cid-version", 1).
		Option("pin", true).
		FileBody(body).
		Exec(ctx, &added)
	if err != nil {
		zap.L().Error("error uploading to ipfs", zap.Error(err))
		return nil, fmt.Errorf("ipfs add: %w", err)
	}
	if _, err := ParseCID(added.Hash); err != nil {
		return nil, fmt.Errorf("ipfs add: %w", err)
	}

	peer, err := g.nodeID(ctx)
	if err != nil {
		// The content is stored; without a node id the index is simply not updated.
		zap.L().Warn("ipfs id unavailable", zap.String("cid", added.Hash), zap.Error(err))
	}

	zap.L().Debug("Successfully uploaded to IPFS", zap.String("hash", added.Hash), zap.String("size", added.Size))
	return marshalEnvelope(map[string]any{
		model.FieldCID:         added.Hash,
		model.FieldNodeAddress: peer,
		model.FieldFilename:    opts.Filename,
	})
}

// PutBuffer adds data to the node.
func (g *KuboGateway) PutBuffer(ctx context.Context, data []byte, opts PutOptions) (model.Envelope, error) {
	return g.Put(ctx, bytesReader(data), opts)
}

// Get streams the content of cid.
func (g *KuboGateway) Get(ctx context.Context, id, secret string) (*Object, error) {
	if secret != "" {
		return nil, ErrSecretUnsupported
	}
	c, err := ParseCID(id)
	if err != nil {
		return nil, err
	}
	info, err := marshalEnvelope(map[string]any{model.FieldCID: c.String()})
	if err != nil {
		return nil, err
	}

	if g.gatewayURL != "" {
		body, err := getGatewayFile(ctx, g.httpClient, g.gatewayURL, c.String())
		if err != nil {
			return nil, err
		}
		return &Object{Body: body, Info: info}, nil
	}

	if g.api == nil {
		return nil, errors.New("ipfs client not configured")
	}
	resp, err := g.api.Request("cat", c.String()).Send(ctx)
	if err != nil {
		zap.L().Error("error executing the cat command in ipfs", zap.String("cid", c.String()), zap.Error(err))
		return nil, fmt.Errorf("ipfs cat: %w", err)
	}
	if resp.Error != nil {
		_ = resp.Close()
		return nil, fmt.Errorf("ipfs cat: %w", resp.Error)
	}
	return &Object{Body: &kuboBody{resp: resp}, Info: info}, nil
}

// GetBuffer reads the whole content of cid.
func (g *KuboGateway) GetBuffer(ctx context.Context, id, secret string) (model.Envelope, error) {
	obj, err := g.Get(ctx, id, secret)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("ipfs read %s: %w", id, err)
	}
	return marshalEnvelope(map[string]any{
		model.FieldFileBase64: base64.StdEncoding.EncodeToString(data),
		model.FieldFilename:   "",
	})
}

// Status reports the node identity.
func (g *KuboGateway) Status(ctx context.Context) (model.Envelope, error) {
	if g.api == nil {
		return nil, errors.New("ipfs client not configured")
	}
	var id struct {
		ID           string   `json:"ID"`
		AgentVersion string   `json:"AgentVersion"`
		Addresses    []string `json:"Addresses"`
	}
	if err := g.api.Request("id").Exec(ctx, &id); err != nil {
		return nil, fmt.Errorf("ipfs id: %w", err)
	}
	return marshalEnvelope(map[string]any{
		"backend":              "ipfs",
		model.FieldNodeAddress: id.ID,
		"agent_version":        id.AgentVersion,
		"addresses":            id.Addresses,
	})
}

// nodeID returns the peer id of the node. A successful lookup is cached.
func (g *KuboGateway) nodeID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.peerID != "" {
		return g.peerID, nil
	}
	var id struct {
		ID string `json:"ID"`
	}
	if err := g.api.Request("id").Exec(ctx, &id); err != nil {
		return "", err
	}
	g.peerID = id.ID
	return g.peerID, nil
}

// kuboBody closes the RPC response with the stream.
type kuboBody struct {
	resp *rpc.Response
}

func (b *kuboBody) Read(p []byte) (int, error) { return b.resp.Output.Read(p) }
func (b *kuboBody) Close() error               { return b.resp.Close() }

func marshalEnvelope(v any) (model.Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return model.Envelope(raw), nil
}
