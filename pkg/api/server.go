// Package api exposes the kiosk over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/metrics"
	"github.com/video-system/go-photo-kiosk/pkg/artifacts"
	"github.com/video-system/go-photo-kiosk/pkg/camera"
	"github.com/video-system/go-photo-kiosk/pkg/capture"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
	"github.com/video-system/go-photo-kiosk/pkg/flipbook"
)

// Kiosk is the behaviour the API serves. *capture.Manager implements it.
type Kiosk interface {
	Health(ctx context.Context) capture.Health
	Diagnostics(ctx context.Context) capture.Diagnostics
	Devices(ctx context.Context) ([]camera.Descriptor, error)
	Capture(ctx context.Context, req capture.CaptureRequest) (*capture.CaptureResult, error)
	StartPreview() error
	StopPreview()
	Previewing() bool
	SubscribePreview() (<-chan camera.PreviewFrame, func())
	Flipbook(ctx context.Context, req capture.FlipbookRequest) (*flipbook.Result, error)
	Collage(ctx context.Context, req capture.CollageRequest) (string, error)
	Print(ctx context.Context, req capture.PrintRequest) error
	Artifacts(kind string) []*artifacts.Artifact
}

var _ Kiosk = (*capture.Manager)(nil)

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host   string
	Port   int
	Kiosk  Kiosk
	Logger *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	cfg    ServerConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	mux.HandleFunc("/api/v1/capture", s.handleCapture)
	mux.HandleFunc("/api/v1/preview", s.handlePreviewStream)
	mux.HandleFunc("/api/v1/preview/start", s.handlePreviewStart)
	mux.HandleFunc("/api/v1/preview/stop", s.handlePreviewStop)
	mux.HandleFunc("/api/v1/flipbook", s.handleFlipbook)
	mux.HandleFunc("/api/v1/collage", s.handleCollage)
	mux.HandleFunc("/api/v1/print", s.handlePrint)
	mux.HandleFunc("/api/v1/artifacts", s.handleArtifacts)
	mux.Handle("/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("api: listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("api: shutdown", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h := s.cfg.Kiosk.Health(r.Context())
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Kiosk.Diagnostics(r.Context()))
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list := s.cfg.Kiosk.Artifacts(r.URL.Query().Get("kind"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": list})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devices, err := s.cfg.Kiosk.Devices(r.Context())
	if errors.Is(err, faults.ErrNoDevices) {
		devices, err = []camera.Descriptor{}, nil
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req capture.CaptureRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Kiosk.Capture(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreviewStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Kiosk.StartPreview(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "previewing"})
}

func (s *Server) handlePreviewStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.cfg.Kiosk.StopPreview()
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

// handlePreviewStream serves the live view as multipart/x-mixed-replace,
// which browsers render directly in an <img>.
func (s *Server) handlePreviewStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.cfg.Kiosk.Previewing() {
		writeJSON(w, http.StatusConflict, errorBody{Error: "preview is not running", Code: "PREVIEW_NOT_RUNNING"})
		return
	}

	frames, unsubscribe := s.cfg.Kiosk.SubscribePreview()
	defer unsubscribe()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				mw.Close()
				return
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(f.Data))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(f.Data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleFlipbook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req capture.FlipbookRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Kiosk.Flipbook(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCollage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req capture.CollageRequest
	if !decode(w, r, &req) {
		return
	}
	path, err := s.cfg.Kiosk.Collage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req capture.PrintRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.cfg.Kiosk.Print(r.Context(), req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

type errorBody struct {
	Error    string      `json:"error"`
	Code     faults.Code `json:"code"`
	Fallback bool        `json:"fallback,omitempty"`
}

// statusFor maps an error category to an HTTP status.
var statusFor = map[faults.Code]int{
	faults.CodeDeviceBusy:       http.StatusConflict,
	faults.CodeNoDevices:        http.StatusServiceUnavailable,
	faults.CodeDeviceGone:       http.StatusServiceUnavailable,
	faults.CodeToolUnavailable:  http.StatusServiceUnavailable,
	faults.CodeMediaToolMissing: http.StatusServiceUnavailable,
	faults.CodeBinaryDiscovery:  http.StatusServiceUnavailable,
	faults.CodeTimeout:          http.StatusGatewayTimeout,
	faults.CodeFilterFailed:     http.StatusUnprocessableEntity,
	faults.CodeNoFrames:         http.StatusUnprocessableEntity,
	faults.CodeComposeFailed:    http.StatusUnprocessableEntity,
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := faults.CodeOf(err)
	status, ok := statusFor[code]
	switch {
	case errors.Is(err, faults.ErrInputMissing) && code == faults.CodeUnknown:
		status = http.StatusBadRequest
	case !ok:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("api: request failed", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{
		Error:    err.Error(),
		Code:     code,
		Fallback: faults.FallbackAcceptable(err),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
