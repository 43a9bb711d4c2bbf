package peer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squadron-agent/squadron/internal/buildinfo"
	"github.com/squadron-agent/squadron/internal/tools"
)

// WellKnownPath is where the agent card is served.
const WellKnownPath = "/.well-known/agent.json"

// MessagePath accepts text messages for the agent.
const MessagePath = "/v1/message"

// Handler answers one incoming text message. It never fails: problems
// come back as explanatory text.
type Handler func(ctx context.Context, text string) string

// Server exposes one specialist agent over HTTP.
type Server struct {
	logger *slog.Logger
	card   AgentCard
	handle Handler
}

// NewServer creates an agent server with the given card and message
// handler.
func NewServer(logger *slog.Logger, card AgentCard, handler Handler) *Server {
	return &Server{logger: logger, card: card, handle: handler}
}

// Routes returns the agent's HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+WellKnownPath, s.handleCard)
	mux.HandleFunc("POST "+MessagePath, s.handleMessage)
	return mux
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		s.logger.Warn("failed to write agent card", "error", err)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env messageEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed message", http.StatusBadRequest)
		return
	}

	text := env.Message.Text()
	if strings.TrimSpace(text) == "" {
		http.Error(w, "message has no text part", http.StatusBadRequest)
		return
	}

	start := time.Now()
	reply := s.handle(r.Context(), text)

	s.logger.Info("message handled",
		"agent", s.card.Name,
		"message_id", env.Message.ID,
		"text_len", len(text),
		"reply_len", len(reply),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	replyID, _ := uuid.NewV7()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messageEnvelope{
		Message: NewTextMessage(replyID.String(), "agent", reply),
	}); err != nil {
		s.logger.Warn("failed to write reply", "error", err)
	}
}

// FileAgentCard describes the file-operations specialist.
func FileAgentCard(baseURL string) AgentCard {
	return AgentCard{
		Name:        "FileAgent",
		Description: "Lists files and checks whether files exist in its working directory.",
		URL:         baseURL,
		Version:     buildinfo.Version,
		Skills: []AgentSkill{
			{
				ID:          "list_directory",
				Name:        "List directory",
				Description: "List the files in the working directory.",
				Tags:        []string{"file-operations"},
			},
			{
				ID:          "check_file_exists",
				Name:        "Check file exists",
				Description: "Report whether a named file exists in the working directory.",
				Tags:        []string{"file-operations"},
			},
		},
	}
}

// MathAgentCard describes the arithmetic specialist.
func MathAgentCard(baseURL string) AgentCard {
	return AgentCard{
		Name:        "MathAgent",
		Description: "Evaluates arithmetic expressions.",
		URL:         baseURL,
		Version:     buildinfo.Version,
		Skills: []AgentSkill{
			{
				ID:          "calculator",
				Name:        "Calculator",
				Description: "Evaluate an arithmetic expression.",
				Tags:        []string{"arithmetic"},
			},
		},
	}
}

// FileSpecialist answers file-operation requests. It understands two
// commands: anything mentioning "list" lists the directory, and
// anything mentioning "check" checks the last word as a filename,
// with trailing punctuation stripped.
func FileSpecialist(reg *tools.Registry) Handler {
	return func(ctx context.Context, text string) string {
		lower := strings.ToLower(text)

		switch {
		case strings.Contains(lower, "list"):
			result, err := reg.ExecuteArgs(ctx, "list_directory", nil)
			if err != nil {
				return "Error: " + err.Error()
			}
			return result

		case strings.Contains(lower, "check"):
			filename := extractFilename(text)
			if filename == "" {
				return "Tell me which file to check, for example: check notes.txt"
			}
			result, err := reg.ExecuteArgs(ctx, "check_file_exists", map[string]any{"filename": filename})
			if err != nil {
				return "Error: " + err.Error()
			}
			return result

		default:
			return "I can only list files or check if a file exists."
		}
	}
}

// extractFilename takes the last word of the request and strips
// trailing punctuation, so "check secrets.txt?" checks "secrets.txt".
func extractFilename(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	filename := strings.TrimRight(fields[len(fields)-1], "?.,")
	if strings.EqualFold(filename, "check") {
		return ""
	}
	return filename
}

// MathSpecialist answers arithmetic requests. A leading "calculate" is
// conversational framing, not part of the expression.
func MathSpecialist() Handler {
	return func(ctx context.Context, text string) string {
		expr := strings.TrimSpace(text)
		lower := strings.ToLower(expr)
		if strings.HasPrefix(lower, "calculate") {
			expr = strings.TrimSpace(expr[len("calculate"):])
		}

		result, err := tools.Evaluate(expr)
		if err != nil {
			return "Error: " + err.Error()
		}
		return result
	}
}
