package state

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultPort is the control plane port used when the layout gives none.
const DefaultPort = 4500

// Problem is the error body returned by the control plane.
type Problem struct {
	Status   int    `json:"status"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

// Server exposes a Store over HTTP:
//
//	GET    /state/{key}  200 + item, 404 when absent
//	POST   /state/{key}  201, 409 when the key exists
//	PUT    /state/{key}  200, 400 when the body id disagrees with the key
//	DELETE /state/{key}  204
//	GET    /heartbeat    200
//	GET    /metrics      when a metrics handler is configured
type Server struct {
	store   Store
	metrics http.Handler
	mux     *http.ServeMux
}

// NewServer returns a control plane over store. metrics may be nil.
func NewServer(store Store, metrics http.Handler) *Server {
	s := &Server{store: store, metrics: metrics, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /state/{key}", s.getState)
	s.mux.HandleFunc("POST /state/{key}", s.createState)
	s.mux.HandleFunc("PUT /state/{key}", s.updateState)
	s.mux.HandleFunc("DELETE /state/{key}", s.deleteState)
	s.mux.HandleFunc("GET /heartbeat", s.heartbeat)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on listenAddr until ctx is cancelled. The returned
// channel receives the terminal serve error, if any, and is then closed.
func (s *Server) ListenAndServe(ctx context.Context, listenAddr string) (net.Addr, <-chan error, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 3 * time.Second,
	}
	slog.Info("Starting control plane server", slog.String("address", listener.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control plane server error", slog.String("error", err.Error()))
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("control plane shutdown error", slog.String("error", err.Error()))
		}
	}()
	return listener.Addr(), errCh, nil
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	item, err := s.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.problem(w, r, http.StatusNotFound, "Not Found", fmt.Sprintf("A state object with ID '%s' does not exist.", key))
			return
		}
		s.storeError(w, r, key, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) createState(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	item, ok := s.decodeItem(w, r, key)
	if !ok {
		return
	}
	stored, err := s.store.Create(r.Context(), key, item)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.problem(w, r, http.StatusConflict, "Conflict", fmt.Sprintf("A state object with ID '%s' already exists.", key))
			return
		}
		s.storeError(w, r, key, err)
		return
	}
	w.Header().Set("Location", r.URL.Path)
	s.writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) updateState(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	item, ok := s.decodeItem(w, r, key)
	if !ok {
		return
	}
	stored, err := s.store.Put(r.Context(), key, item)
	if err != nil {
		s.storeError(w, r, key, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteState(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.storeError(w, r, key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeItem accepts either a full item ({"id","definition"}) or a bare
// definition object as the request body.
func (s *Server) decodeItem(w http.ResponseWriter, r *http.Request, key string) (*Item, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		s.problem(w, r, http.StatusBadRequest, "Bad Request", "Unable to read request body.")
		return nil, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.problem(w, r, http.StatusBadRequest, "Bad Request", "Invalid schema. The state must be a JSON object.")
		return nil, false
	}
	if _, isItem := raw["definition"]; !isItem {
		var definition map[string]any
		_ = json.Unmarshal(body, &definition)
		return NewItem(key, definition), true
	}
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		s.problem(w, r, http.StatusBadRequest, "Bad Request", "Invalid schema. "+err.Error())
		return nil, false
	}
	if item.ID != "" && !strings.EqualFold(item.ID, key) {
		s.problem(w, r, http.StatusBadRequest, "Bad Request", "Invalid schema. The state ID provided does not match with the ID defined in the state object.")
		return nil, false
	}
	return &item, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, key string, err error) {
	slog.Error("control plane state operation failed", slog.String("method", r.Method), slog.String("key", key), slog.String("error", err.Error()))
	if errors.Is(err, ErrInvalidKey) {
		s.problem(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	s.problem(w, r, http.StatusInternalServerError, "Internal Server Error", err.Error())
}

func (s *Server) problem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	s.writeJSON(w, status, Problem{
		Status:   status,
		Title:    title,
		Detail:   detail,
		Instance: r.Method + " " + r.URL.Path,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write control plane response", slog.String("error", err.Error()))
	}
}
