package chainstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// HTTPClient talks to the ChainStore REST API. Writes carry the configured
// peers so the store can propagate them.
type HTTPClient struct {
	baseURL string
	peers   []string
	http    *http.Client
}

var _ Store = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the API at baseURL. A nil httpClient
// uses http.DefaultClient; per-call deadlines come from the context.
func NewHTTPClient(baseURL string, peers []string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		peers:   append([]string(nil), peers...),
		http:    httpClient,
	}
}

// HGet reads hkey/key. A null result means the key is absent.
func (c *HTTPClient) HGet(ctx context.Context, hkey, key string) (string, bool, error) {
	if hkey == "" {
		return "", false, ErrEmptyHKey
	}
	env, err := c.get(ctx, "/hget", url.Values{"hkey": {hkey}, "key": {key}})
	if err != nil {
		return "", false, err
	}
	v, ok := resultOf(env)
	if !ok {
		return "", false, nil
	}
	s, found := valueString(v)
	return s, found, nil
}

type hsetRequest struct {
	HKey       string   `json:"hkey"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	ExtraPeers []string `json:"extra_peers,omitempty"`
}

// HSet writes hkey/key. The API answers the write outcome; a false result
// is reported as an error.
func (c *HTTPClient) HSet(ctx context.Context, hkey, key, value string) error {
	if hkey == "" {
		return ErrEmptyHKey
	}
	body, err := json.Marshal(hsetRequest{HKey: hkey, Key: key, Value: value, ExtraPeers: c.peers})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hset", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	env, err := c.do(req, "hset")
	if err != nil {
		return err
	}
	if v, ok := resultOf(env); ok && strings.TrimSpace(string(v)) == "false" {
		return fmt.Errorf("chainstore hset %s/%s: write rejected", hkey, key)
	}
	zap.L().Debug("chainstore hset", zap.String("hkey", hkey), zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

// HGetAll reads every key of hkey.
func (c *HTTPClient) HGetAll(ctx context.Context, hkey string) (map[string]string, error) {
	if hkey == "" {
		return nil, ErrEmptyHKey
	}
	env, err := c.get(ctx, "/hgetall", url.Values{"hkey": {hkey}})
	if err != nil {
		return nil, err
	}
	v, _ := resultOf(env)
	return decodeHash(v)
}

// Status returns the store status document.
func (c *HTTPClient) Status(ctx context.Context) (model.Envelope, error) {
	return c.get(ctx, "/get_status", nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, q url.Values) (model.Envelope, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, strings.TrimPrefix(path, "/"))
}

func (c *HTTPClient) do(req *http.Request, op string) (model.Envelope, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chainstore %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chainstore %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("chainstore %s: response is not JSON", op)
	}
	return model.Envelope(raw), nil
}

// resultOf returns the payload of a wrapped {"result": ...} answer, or the
// whole document when the answer is unwrapped.
func resultOf(env model.Envelope) (json.RawMessage, bool) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(env, &wrapped); err == nil {
		if v, ok := wrapped[model.FieldResult]; ok {
			return v, true
		}
	}
	if len(env) == 0 {
		return nil, false
	}
	return json.RawMessage(env), true
}
