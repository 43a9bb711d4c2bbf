package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/tools"
)

// Proposer asks the model collaborator for the next action given the
// conversation so far. Implementations must map model failures to an
// error and malformed structured output to a KindMalformed proposal so
// the validator can end the turn gracefully.
type Proposer interface {
	Propose(ctx context.Context, history []llm.Message) (Proposal, error)
}

// ToolProposer derives proposals from native tool calls: a tool call
// becomes a LocalTool action, plain text becomes Finish.
type ToolProposer struct {
	llm   llm.Client
	model string
	tools *tools.Registry
}

// NewToolProposer creates a proposer that offers the registry's tools
// to the model.
func NewToolProposer(client llm.Client, model string, reg *tools.Registry) *ToolProposer {
	return &ToolProposer{llm: client, model: model, tools: reg}
}

// Propose invokes the model once. When the model emits several tool
// calls only the first is taken; the rest are re-derived on the next
// iteration from the updated history.
func (p *ToolProposer) Propose(ctx context.Context, history []llm.Message) (Proposal, error) {
	resp, err := p.llm.Chat(ctx, p.model, history, p.tools.List())
	if err != nil {
		return Proposal{}, fmt.Errorf("model invocation failed: %w", err)
	}

	if len(resp.Message.ToolCalls) > 0 {
		tc := resp.Message.ToolCalls[0]
		return Proposal{
			Kind:   KindLocalTool,
			Target: tc.Function.Name,
			Args:   tc.Function.Arguments,
		}, nil
	}

	return Proposal{Kind: KindFinish, Payload: resp.Message.Content}, nil
}

// routeDecision is the structured output the peer proposer asks the
// model for.
type routeDecision struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// PeerProposer derives proposals from JSON-mode routing decisions over
// a fixed set of peers. The model answers with
// {"agent": "<peer>", "message": "<payload>"} or routes to "FINISH"
// with the final answer as the message.
type PeerProposer struct {
	llm   llm.Client
	model string
	peers []Peer
}

// NewPeerProposer creates a proposer that routes across the given
// peers.
func NewPeerProposer(client llm.Client, model string, peers []Peer) *PeerProposer {
	return &PeerProposer{llm: client, model: model, peers: peers}
}

// SystemPrompt describes the peer network to the model.
func (p *PeerProposer) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You coordinate a network of specialist agents. Available agents:\n")
	for _, peer := range p.peers {
		fmt.Fprintf(&sb, "- %s: %s\n", peer.Name, peer.Capability)
	}
	sb.WriteString("\nRespond with JSON only. To delegate: ")
	sb.WriteString(`{"agent": "<agent name>", "message": "<instruction for the agent>"}. `)
	sb.WriteString(`When the task is done: {"agent": "FINISH", "message": "<final answer>"}.`)
	return sb.String()
}

// Propose invokes the model in JSON mode and decodes its routing
// decision. Output that does not decode becomes a malformed proposal
// rather than an error.
func (p *PeerProposer) Propose(ctx context.Context, history []llm.Message) (Proposal, error) {
	resp, err := p.llm.ChatJSON(ctx, p.model, history)
	if err != nil {
		return Proposal{}, fmt.Errorf("model invocation failed: %w", err)
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(resp.Message.Content), &decision); err != nil || decision.Agent == "" {
		return Proposal{Kind: KindMalformed, Payload: resp.Message.Content}, nil
	}

	if strings.EqualFold(decision.Agent, "FINISH") {
		return Proposal{Kind: KindFinish, Payload: decision.Message}, nil
	}

	return Proposal{
		Kind:    KindRemoteAgent,
		Target:  decision.Agent,
		Payload: decision.Message,
	}, nil
}
