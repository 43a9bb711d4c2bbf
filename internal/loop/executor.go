package loop

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/squadron-agent/squadron/internal/tools"
)

// TransportErrorPrefix marks a peer result that reports a transport
// failure rather than an answer. A downed peer will not recover within
// the same turn, so the loop treats these results as turn-fatal.
const TransportErrorPrefix = "ERROR:"

// IsTransportError reports whether a result text carries the transport
// failure marker.
func IsTransportError(result string) bool {
	return strings.HasPrefix(result, TransportErrorPrefix)
}

// PeerSender delivers a text payload to a named peer and returns its
// text reply.
type PeerSender interface {
	Send(ctx context.Context, peerName, text string) (string, error)
}

// Executor dispatches an approved proposal to the right collaborator
// and normalizes the outcome to text. It never returns an error: tool
// failures become diagnostic text folded into history, and transport
// failures become a marked result the loop aborts on.
type Executor struct {
	logger *slog.Logger
	tools  *tools.Registry
	peers  PeerSender
}

// NewExecutor creates an executor over the given tool registry and
// peer transport. peers may be nil when the topology has no remote
// agents.
func NewExecutor(logger *slog.Logger, reg *tools.Registry, peers PeerSender) *Executor {
	return &Executor{logger: logger, tools: reg, peers: peers}
}

// Execute runs an approved proposal and returns its text result.
func (e *Executor) Execute(ctx context.Context, p Proposal) string {
	start := time.Now()

	switch p.Kind {
	case KindLocalTool:
		result, err := e.tools.ExecuteArgs(ctx, p.Target, p.Args)
		if err != nil {
			e.logger.Warn("tool execution failed",
				"tool", p.Target,
				"error", err,
			)
			return "Error: " + err.Error()
		}
		e.logger.Debug("tool executed",
			"tool", p.Target,
			"result_len", len(result),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return result

	case KindRemoteAgent:
		if e.peers == nil {
			return TransportErrorPrefix + " no peer transport configured"
		}
		result, err := e.peers.Send(ctx, p.Target, p.Payload)
		if err != nil {
			e.logger.Error("peer call failed",
				"peer", p.Target,
				"error", err,
			)
			return TransportErrorPrefix + " " + err.Error()
		}
		e.logger.Debug("peer call done",
			"peer", p.Target,
			"result_len", len(result),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return result

	default:
		return "Error: nothing to execute"
	}
}
