// Package api exposes the conversion session over HTTP and a websocket
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/lepinkainen/jxlconverter/internal/files"
	"github.com/lepinkainen/jxlconverter/internal/locator"
	"github.com/lepinkainen/jxlconverter/internal/storage"
	"github.com/lepinkainen/jxlconverter/internal/task"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

// Server represents the API server
type Server struct {
	manager        *task.Manager
	defaults       types.ConversionOptions
	allowedOrigins []string
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

// NewServer creates a new API server. defaults fill in option fields a
// request leaves out.
func NewServer(manager *task.Manager, defaults types.ConversionOptions, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Server{
		manager:        manager,
		defaults:       defaults,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			// Origin checks are done by the CORS layer
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/inputs", s.getInputs).Methods("GET")
	api.HandleFunc("/inputs", s.addInput).Methods("POST")
	api.HandleFunc("/inputs", s.removeInput).Methods("DELETE")
	api.HandleFunc("/inputs/format", s.setInputFormat).Methods("PUT")

	api.HandleFunc("/runs", s.startRun).Methods("POST")
	api.HandleFunc("/runs", s.getRuns).Methods("GET")
	api.HandleFunc("/runs/cancel", s.cancelRun).Methods("POST")
	api.HandleFunc("/runs/current", s.getCurrentRun).Methods("GET")
	api.HandleFunc("/runs/current/state", s.getCurrentState).Methods("GET")
	api.HandleFunc("/runs/{id}", s.getRun).Methods("GET")

	api.HandleFunc("/preview", s.previewRun).Methods("POST")
	api.HandleFunc("/preview/options", s.previewOptions).Methods("POST")
	api.HandleFunc("/tools", s.getTools).Methods("GET")
	api.HandleFunc("/formats", s.getFormats).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(router)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrRunInProgress), errors.Is(err, files.ErrInputExists):
		return http.StatusConflict
	case errors.Is(err, task.ErrNoActiveRun), errors.Is(err, storage.ErrRunNotFound), errors.Is(err, files.ErrInputNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrNoInputs), errors.Is(err, task.ErrNoOutputDir),
		errors.Is(err, locator.ErrToolNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// InputRequest names one pending input
type InputRequest struct {
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (InputRequest, bool) {
	var req InputRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.badRequest(w, err)
			return req, false
		}
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("path")
	}
	if req.Path == "" {
		s.badRequest(w, errors.New("path is required"))
		return req, false
	}
	return req, true
}

func (s *Server) getInputs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Inputs())
}

func (s *Server) addInput(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInput(w, r)
	if !ok {
		return
	}

	entry, err := s.manager.AddInput(req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) removeInput(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInput(w, r)
	if !ok {
		return
	}

	if err := s.manager.RemoveInput(req.Path); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) setInputFormat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInput(w, r)
	if !ok {
		return
	}

	var format types.OutputFormat
	if req.Format != "" {
		f, err := types.ParseOutputFormat(req.Format)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		format = f
	}

	if err := s.manager.SetInputFormat(req.Path, format); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.manager.Inputs())
}

// RunRequest starts or previews a run. Omitted option fields take the
// server defaults; omitted inputs mean the pending set.
type RunRequest struct {
	Options json.RawMessage    `json:"options,omitempty"`
	Inputs  []types.InputEntry `json:"inputs,omitempty"`
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (RunRequest, types.ConversionOptions, bool) {
	var req RunRequest
	opts := s.defaults

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.badRequest(w, err)
			return req, opts, false
		}
	}
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			s.badRequest(w, err)
			return req, opts, false
		}
	}
	if opts.OutputFormat != "" {
		f, err := types.ParseOutputFormat(string(opts.OutputFormat))
		if err != nil {
			s.badRequest(w, err)
			return req, opts, false
		}
		opts.OutputFormat = f
	}

	return req, opts, true
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	record, err := s.manager.StartRun(r.Context(), req.Inputs, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RequestCancel(); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

func (s *Server) getCurrentRun(w http.ResponseWriter, r *http.Request) {
	record, ok := s.manager.CurrentRun()
	if !ok {
		s.writeError(w, task.ErrNoActiveRun)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// getCurrentState returns only the counters, for frequent polling
func (s *Server) getCurrentState(w http.ResponseWriter, r *http.Request) {
	state, ok := s.manager.CurrentState()
	if !ok {
		s.writeError(w, task.ErrNoActiveRun)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.badRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := s.manager.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []types.RunRecord{}
	}

	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.manager.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) previewRun(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	preview, err := s.manager.PreviewRun(req.Inputs, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, preview)
}

// OptionsPreviewRequest asks for the placeholder command of an option set
type OptionsPreviewRequest struct {
	Options   json.RawMessage `json:"options,omitempty"`
	JPEGInput bool            `json:"jpeg_input"`
}

func (s *Server) previewOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsPreviewRequest
	opts := s.defaults

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			s.badRequest(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"command": s.manager.PreviewOptions(opts, req.JPEGInput),
	})
}

func (s *Server) getTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Tools())
}

func (s *Server) getFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.OutputFormats)
}

// handleWebSocket streams progress events until the client goes away
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribed before the handshake completes so no event is missed
	events := s.manager.Subscribe()
	defer s.manager.Unsubscribe(events)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("error closing websocket connection", "error", err)
		}
	}()

	// The client never sends anything meaningful; reading detects a close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Warn("websocket write failed", "error", err)
				return
			}
		}
	}
}
