package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// getGatewayFile opens {endpoint}/{cid} on an HTTP IPFS gateway. Non-2xx
// answers are returned as *APIError.
func getGatewayFile(ctx context.Context, client *http.Client, endpoint, cid string) (io.ReadCloser, error) {
	zap.L().Debug("Getting gateway file", zap.String("cid", cid))
	url := strings.TrimRight(endpoint, "/") + "/" + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &APIError{Op: "ipfs gateway", Status: resp.StatusCode, Body: string(raw)}
	}
	return resp.Body, nil
}

func bytesReader(data []byte) io.Reader { return bytes.NewReader(data) }
