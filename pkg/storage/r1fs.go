package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// R1FS edge API routes.
const (
	r1fsAddFile       = "/add_file"
	r1fsAddFileBase64 = "/add_file_base64"
	r1fsGetFile       = "/get_file"
	r1fsGetFileBase64 = "/get_file_base64"
	r1fsStatus        = "/get_status"
)

// R1FSClient talks to the R1FS edge API over HTTP.
type R1FSClient struct {
	baseURL string
	http    *http.Client
}

var _ Gateway = (*R1FSClient)(nil)

// NewR1FSClient returns a client for the edge API at baseURL. A nil
// httpClient uses a client without overall timeout, since uploads and
// downloads are bounded by their contexts.
func NewR1FSClient(baseURL string, httpClient *http.Client) *R1FSClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &R1FSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// uploadParams is the body_json companion of a multipart upload and the
// envelope of a base64 upload.
type uploadParams struct {
	FileBase64 string   `json:"file_base64_str,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	Secret     string   `json:"secret,omitempty"`
	Nonce      *float64 `json:"nonce,omitempty"`
}

// Put streams body as the "file" part of a multipart request. The request
// body is produced on the fly, so nothing is buffered beyond the copy window.
func (c *R1FSClient) Put(ctx context.Context, body io.Reader, opts PutOptions) (model.Envelope, error) {
	params, err := json.Marshal(uploadParams{Filename: opts.Filename, Secret: opts.Secret, Nonce: opts.Nonce})
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(mw, params, opts.Filename, body)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+r1fsAddFile, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	zap.L().Debug("r1fs add_file", zap.String("filename", opts.Filename), zap.Bool("secret", opts.Secret != ""))
	env, err := c.doJSON(req, "r1fs add_file")
	// Unblock the writer if the server answered before consuming the body.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	return env, err
}

func writeUploadForm(mw *multipart.Writer, params []byte, filename string, body io.Reader) error {
	if err := mw.WriteField("body_json", string(params)); err != nil {
		return err
	}
	if filename == "" {
		filename = model.DefaultFilename
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, body)
	return err
}

// PutBuffer uploads data base64 encoded in a JSON body.
func (c *R1FSClient) PutBuffer(ctx context.Context, data []byte, opts PutOptions) (model.Envelope, error) {
	payload := uploadParams{
		FileBase64: base64.StdEncoding.EncodeToString(data),
		Filename:   opts.Filename,
		Secret:     opts.Secret,
		Nonce:      opts.Nonce,
	}
	return c.postJSON(ctx, r1fsAddFileBase64, "r1fs add_file_base64", payload)
}

// Get opens the content of cid. Errors answered by the edge node, such as
// a wrong secret, are reported before any byte is returned.
func (c *R1FSClient) Get(ctx context.Context, cid, secret string) (*Object, error) {
	q := url.Values{"cid": {cid}}
	if secret != "" {
		q.Set("secret", secret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+r1fsGetFile+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("r1fs get_file: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Op: "r1fs get_file", Status: resp.StatusCode, Body: string(raw)}
	}

	info, err := json.Marshal(map[string]string{
		model.FieldCID:      cid,
		model.FieldFilename: attachmentFilename(resp.Header.Get("Content-Disposition")),
	})
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return &Object{Body: resp.Body, Info: model.Envelope(info)}, nil
}

// GetBuffer fetches the content of cid base64 encoded.
func (c *R1FSClient) GetBuffer(ctx context.Context, cid, secret string) (model.Envelope, error) {
	payload := map[string]string{"cid": cid}
	if secret != "" {
		payload["secret"] = secret
	}
	return c.postJSON(ctx, r1fsGetFileBase64, "r1fs get_file_base64", payload)
}

// Status returns the edge node status document.
func (c *R1FSClient) Status(ctx context.Context) (model.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+r1fsStatus, nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req, "r1fs get_status")
}

func (c *R1FSClient) postJSON(ctx context.Context, path, op string, payload any) (model.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, op)
}

func (c *R1FSClient) doJSON(req *http.Request, op string) (model.Envelope, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: response is not JSON", op)
	}
	return model.Envelope(raw), nil
}

// attachmentFilename extracts the filename parameter of a Content-Disposition header.
func attachmentFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
