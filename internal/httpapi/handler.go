// Package httpapi exposes the drive over HTTP: upload, download, the file
// index listing and backend status passthrough.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/drive"
)

// Request headers carrying upload defaults.
const (
	HeaderOwner    = "x-ratio1-owner"
	HeaderSecret   = "x-ratio1-secret"
	HeaderFilename = "x-ratio1-filename"

	headerRequestID = "X-Request-Id"
)

// jsonSlack is added to the base64 expansion of MaxFileSize to bound JSON
// request bodies.
const jsonSlack = 1 << 20

// Handler serves the HTTP API of one drive.
type Handler struct {
	drive *drive.Drive
}

// New returns a handler backed by d.
func New(d *drive.Drive) *Handler {
	return &Handler{drive: d}
}

// Register wires the routes into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/upload", h.wrap("upload", h.handleUpload))
	mux.Handle("GET /api/download", h.wrap("download", h.handleDownload))
	mux.Handle("POST /api/download", h.wrap("download", h.handleDownload))
	mux.Handle("GET /api/files", h.wrap("files", h.handleFiles))
	mux.Handle("GET /api/r1fs-status", h.wrap("r1fs_status", h.handleR1FSStatus))
	mux.Handle("GET /api/cstore-status", h.wrap("cstore_status", h.handleCStoreStatus))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealthz))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReadyz))
	mux.Handle("GET /metrics", h.drive.Metrics.Handler())
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		logger := zap.L().With(
			zap.String("req_id", reqID),
			zap.String("operation", operation),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		ctx := withLogger(r.Context(), logger)
		w.Header().Set(headerRequestID, reqID)
		sw := &statusWriter{ResponseWriter: w}

		logger.Debug("http.request.start", zap.String("remote_addr", r.RemoteAddr))
		if err := fn(sw, r.WithContext(ctx)); err != nil {
			h.handleError(ctx, sw, err)
		}

		status := sw.Status()
		elapsed := time.Since(start)
		h.drive.Metrics.ObserveRequest(operation, status, elapsed)
		logger.Debug("http.request.end", zap.Int("status", status), zap.Duration("elapsed", elapsed))
	})
}

// httpError is a failure with a client-facing status and message.
type httpError struct {
	Status  int
	Message string
	Hint    string
	Err     error
}

func (e httpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e httpError) Unwrap() error { return e.Err }

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func (h *Handler) handleError(ctx context.Context, w *statusWriter, err error) {
	logger := loggerFrom(ctx)
	if w.wrote {
		logger.Warn("http.request.failure after response started", zap.Error(err))
		return
	}

	var httpErr httpError
	switch {
	case errors.As(err, &httpErr):
		if httpErr.Status >= http.StatusInternalServerError {
			logger.Error("http.request.failure", zap.Int("status", httpErr.Status), zap.Error(err))
		} else {
			logger.Debug("http.request.rejected", zap.Int("status", httpErr.Status), zap.Error(err))
		}
		writeJSON(w, httpErr.Status, errorResponse{Error: httpErr.Message, Hint: httpErr.Hint})
	case errors.Is(err, context.Canceled):
		logger.Debug("http.request.canceled", zap.Error(err))
		writeJSON(w, statusClientClosed, errorResponse{Error: "request canceled"})
	default:
		logger.Error("http.request.failure", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// statusClientClosed is recorded when the client went away; it rarely
// reaches anyone.
const statusClientClosed = 499

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

// decodeJSON reads one JSON document from body, bounded to limit bytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httpError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large", Err: err}
		}
		if errors.Is(err, io.EOF) {
			return httpError{Status: http.StatusBadRequest, Message: "request body is empty", Err: err}
		}
		return httpError{Status: http.StatusBadRequest, Message: "invalid JSON body", Err: err}
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

// Status returns the response status, 200 when nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type loggerKey struct{}

func withLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.L()
}
