package loop

import (
	"fmt"
	"strings"

	"github.com/squadron-agent/squadron/internal/tools"
)

// RejectReason classifies why a proposal was refused before execution.
type RejectReason string

const (
	ReasonUnknownTarget   RejectReason = "unknown_target"
	ReasonPayloadMismatch RejectReason = "payload_mismatch"
	ReasonSchemaViolation RejectReason = "schema_violation"
	ReasonEmptyPayload    RejectReason = "empty_payload"
)

// Rejection describes a refused proposal.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("proposal rejected (%s): %s", r.Reason, r.Detail)
}

// Peer describes a configured remote agent for validation purposes.
type Peer struct {
	Name       string
	Capability string
}

// Validator gates proposals before any side-effecting call is made.
// The model is unreliable: it hallucinates target names, omits
// required fields, and routes text to the wrong specialist. Rejecting
// here avoids wasted tool and network calls and keeps garbage results
// out of history.
type Validator struct {
	tools *tools.Registry
	peers map[string]Peer
}

// NewValidator creates a validator over the registered tools and
// configured peers.
func NewValidator(reg *tools.Registry, peers []Peer) *Validator {
	m := make(map[string]Peer, len(peers))
	for _, p := range peers {
		m[p.Name] = p
	}
	return &Validator{tools: reg, peers: m}
}

// Validate checks a proposal and returns nil when it may execute.
// Rules apply in order; the first failure wins, and an unchanged
// proposal always fails for the same reason.
func (v *Validator) Validate(p Proposal) *Rejection {
	switch p.Kind {
	case KindFinish:
		return nil

	case KindLocalTool:
		if p.Target == "" {
			return &Rejection{Reason: ReasonEmptyPayload, Detail: "no tool named"}
		}
		tool := v.tools.Get(p.Target)
		if tool == nil {
			return &Rejection{Reason: ReasonUnknownTarget, Detail: fmt.Sprintf("no tool named %q", p.Target)}
		}
		if err := tools.ValidateArgs(tool, p.Args); err != nil {
			return &Rejection{Reason: ReasonSchemaViolation, Detail: err.Error()}
		}
		return nil

	case KindRemoteAgent:
		if p.Target == "" {
			return &Rejection{Reason: ReasonEmptyPayload, Detail: "no peer named"}
		}
		peer, ok := v.peers[p.Target]
		if !ok {
			return &Rejection{Reason: ReasonUnknownTarget, Detail: fmt.Sprintf("no peer named %q", p.Target)}
		}

		capability := strings.ToLower(peer.Capability)
		switch {
		case strings.Contains(capability, "arithmetic"):
			if !containsDigit(p.Payload) {
				return &Rejection{
					Reason: ReasonPayloadMismatch,
					Detail: fmt.Sprintf("peer %q handles arithmetic but the payload contains no digits", p.Target),
				}
			}
		case strings.Contains(capability, "file"):
			lower := strings.ToLower(p.Payload)
			if !strings.Contains(lower, "list") && !strings.Contains(lower, "check") {
				return &Rejection{
					Reason: ReasonPayloadMismatch,
					Detail: fmt.Sprintf("peer %q handles file operations but the payload names no file command", p.Target),
				}
			}
		}

		if strings.TrimSpace(p.Payload) == "" {
			return &Rejection{Reason: ReasonEmptyPayload, Detail: "payload is blank"}
		}
		return nil

	default:
		return &Rejection{Reason: ReasonSchemaViolation, Detail: "structured output did not decode to a known action"}
	}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
