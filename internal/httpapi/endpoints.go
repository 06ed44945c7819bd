package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/download"
	"github.com/ratio1/r1fs-drive-go/pkg/formstream"
	"github.com/ratio1/r1fs-drive-go/pkg/index"
	"github.com/ratio1/r1fs-drive-go/pkg/upload"
)

// handleUpload stores a multipart or base64 JSON upload and announces it in
// the index. The answer is the backend's upload result as returned.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if d := h.drive.Config.Timeouts.Upload; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var (
		res *upload.Result
		err error
	)
	contentType := r.Header.Get("Content-Type")
	if formstream.IsMultipart(contentType) {
		res, err = h.drive.Uploads.Stream(ctx, contentType, r.Body, upload.Defaults{
			Filename: r.Header.Get(HeaderFilename),
			Owner:    r.Header.Get(HeaderOwner),
			Secret:   r.Header.Get(HeaderSecret),
		})
	} else {
		var req upload.Base64Request
		limit := int64(h.drive.Config.MaxFileSize)*4/3 + jsonSlack
		if err := decodeJSON(w, r, limit, &req); err != nil {
			return err
		}
		res, err = h.drive.Uploads.Buffered(ctx, req)
	}
	if err != nil {
		return uploadError(err)
	}

	loggerFrom(ctx).Info("file uploaded",
		zap.String("cid", res.Upload.CID),
		zap.String("node", res.Upload.NodeID),
		zap.String("filename", res.Filename))
	h.drive.Index.Announce(ctx, index.Record{
		CID:      res.Upload.CID,
		NodeID:   res.Upload.NodeID,
		Filename: res.Filename,
		Owner:    res.Owner,
		Secret:   res.Secret,
	})
	writeJSON(w, http.StatusOK, res.Upload.Raw)
	return nil
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, formstream.ErrFileTooLarge):
		return httpError{Status: http.StatusRequestEntityTooLarge, Message: "file too large", Err: err}
	case errors.Is(err, upload.ErrNoFile),
		errors.Is(err, upload.ErrInvalidPayload),
		errors.Is(err, formstream.ErrNotMultipart),
		errors.Is(err, formstream.ErrMissingBoundary),
		errors.Is(err, formstream.ErrTruncated):
		return httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled):
		return err
	}
	return httpError{Status: http.StatusInternalServerError, Message: "Failed to upload file", Err: err}
}

type downloadRequest struct {
	CID    string `json:"cid"`
	Secret string `json:"secret"`
	Mode   string `json:"mode"`
}

// handleDownload reads cid, secret and mode from the query string (GET) or
// a JSON body (POST).
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) error {
	var req downloadRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(w, r, jsonSlack, &req); err != nil {
			return err
		}
	} else {
		q := r.URL.Query()
		req = downloadRequest{CID: q.Get("cid"), Secret: q.Get("secret"), Mode: q.Get("mode")}
	}

	if strings.TrimSpace(req.CID) == "" {
		return httpError{Status: http.StatusBadRequest, Message: "CID is required"}
	}
	mode, err := download.ParseMode(req.Mode)
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}

	ctx := r.Context()
	if d := h.drive.Config.Timeouts.Download; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if mode == download.ModeBuffered {
		buf, err := h.drive.Downloads.Buffered(ctx, req.CID, req.Secret)
		if err != nil {
			return downloadError(err, req.Secret)
		}
		writeJSON(w, http.StatusOK, buf)
		return nil
	}

	f, err := h.drive.Downloads.Stream(ctx, req.CID, req.Secret)
	if err != nil {
		return downloadError(err, req.Secret)
	}
	defer f.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", contentDisposition(f.Filename))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, f.Body)
	if err != nil {
		// Headers are gone; the client sees a short body.
		loggerFrom(ctx).Warn("download interrupted", zap.String("cid", req.CID), zap.Int64("bytes", n), zap.Error(err))
	}
	return nil
}

func downloadError(err error, secret string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, download.ErrMissingCID) {
		return httpError{Status: http.StatusBadRequest, Message: "CID is required", Err: err}
	}
	e := httpError{Status: http.StatusInternalServerError, Message: "Failed to download file", Err: err}
	if secret != "" {
		e.Hint = "check your secret key"
	}
	return e
}

var dispositionEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

func contentDisposition(filename string) string {
	return `attachment; filename="` + dispositionEscaper.Replace(filename) + `"`
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) error {
	idx, err := h.drive.Index.List(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return httpError{Status: http.StatusInternalServerError, Message: "Failed to fetch files", Err: err}
	}
	writeJSON(w, http.StatusOK, idx)
	return nil
}

func (h *Handler) handleR1FSStatus(w http.ResponseWriter, r *http.Request) error {
	env, err := h.drive.Gateway.Status(r.Context())
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Message: "Failed to fetch R1FS status", Err: err}
	}
	loggerFrom(r.Context()).Debug("r1fs status", zap.ByteString("status", env))
	writeJSON(w, http.StatusOK, env)
	return nil
}

// handleCStoreStatus returns the store status with the configured peers
// added as chainstore_peers.
func (h *Handler) handleCStoreStatus(w http.ResponseWriter, r *http.Request) error {
	env, err := h.drive.Store.Status(r.Context())
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Message: "Failed to fetch CStore status", Err: err}
	}

	out := map[string]any{}
	if err := json.Unmarshal(env, &out); err != nil || out == nil {
		out = map[string]any{"status": env}
	}
	peers := h.drive.Config.ChainstorePeers
	if peers == nil {
		peers = []string{}
	}
	out["chainstore_peers"] = peers
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

// handleReadyz reports 503 unless both backends answer.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) error {
	health := h.drive.Check(r.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
	return nil
}
