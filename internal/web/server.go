// Package web provides the chat web interface.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/squadron-agent/squadron/internal/buildinfo"
	"github.com/squadron-agent/squadron/internal/loop"
)

//go:embed static/*
var staticFiles embed.FS

// Runner drives one conversation turn to completion.
type Runner interface {
	Run(ctx context.Context, threadID, userText string) (string, error)
}

// ObservedRunner additionally reports step events while the turn runs.
type ObservedRunner interface {
	Runner
	RunObserved(ctx context.Context, threadID, userText string, obs loop.Observer) (string, error)
}

// StatsFunc supplies storage statistics for the status endpoint.
type StatsFunc func() map[string]any

// WebServer serves the chat UI and its API.
type WebServer struct {
	logger   *slog.Logger
	runner   Runner
	stats    StatsFunc
	started  time.Time
	upgrader websocket.Upgrader
}

// NewServer creates a web server over the given turn runner. stats may
// be nil.
func NewServer(logger *slog.Logger, runner Runner, stats StatsFunc) *WebServer {
	return &WebServer{
		logger:  logger,
		runner:  runner,
		stats:   stats,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Routes returns the HTTP mux for the chat UI.
func (s *WebServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(subFS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			r.URL.Path = "/index.html"
		}
		fileServer.ServeHTTP(w, r)
	})

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleSocket)

	return mux
}

// chatRequest is the API request body. An empty thread id asks the
// server to allocate a fresh conversation.
type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

// chatReply is the API response body.
type chatReply struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply"`
	HTML     string `json:"html"`
}

func (s *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" {
		id, _ := uuid.NewV7()
		req.ThreadID = id.String()
	}

	reply, err := s.runner.Run(r.Context(), req.ThreadID, req.Text)
	if err != nil {
		s.logger.Error("turn failed",
			"thread_id", req.ThreadID,
			"error", err,
		)
		http.Error(w, "turn failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatReply{
		ThreadID: req.ThreadID,
		Reply:    reply,
		HTML:     renderMarkdown(reply),
	}); err != nil {
		s.logger.Warn("failed to write reply", "error", err)
	}
}

func (s *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.stats != nil {
		status["storage"] = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// socketEvent is one frame on the chat socket: step events while the
// turn runs, then a final answer frame.
type socketEvent struct {
	Type     string `json:"type"` // "step" or "answer"
	ThreadID string `json:"thread_id,omitempty"`
	State    string `json:"state,omitempty"`
	Step     int    `json:"step,omitempty"`
	Target   string `json:"target,omitempty"`
	Reply    string `json:"reply,omitempty"`
	HTML     string `json:"html,omitempty"`
}

// handleSocket streams a turn's step events to the client. Each frame
// from the client is one chat request; the server answers with step
// frames followed by an answer frame. Events are produced
// synchronously on this goroutine, so socket writes never interleave.
func (s *WebServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			continue
		}
		if req.ThreadID == "" {
			id, _ := uuid.NewV7()
			req.ThreadID = id.String()
		}

		var reply string
		if observed, ok := s.runner.(ObservedRunner); ok {
			reply, err = observed.RunObserved(r.Context(), req.ThreadID, req.Text, func(ev loop.StepEvent) {
				frame := socketEvent{
					Type:   "step",
					State:  string(ev.State),
					Step:   ev.Step,
					Target: ev.Target,
				}
				if err := conn.WriteJSON(frame); err != nil {
					s.logger.Warn("failed to stream step event", "error", err)
				}
			})
		} else {
			reply, err = s.runner.Run(r.Context(), req.ThreadID, req.Text)
		}
		if err != nil {
			s.logger.Error("turn failed",
				"thread_id", req.ThreadID,
				"error", err,
			)
			conn.WriteJSON(socketEvent{Type: "answer", ThreadID: req.ThreadID, Reply: "Something went wrong. Please try again."})
			continue
		}

		if err := conn.WriteJSON(socketEvent{
			Type:     "answer",
			ThreadID: req.ThreadID,
			Reply:    reply,
			HTML:     renderMarkdown(reply),
		}); err != nil {
			return
		}
	}
}
