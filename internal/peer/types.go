// Package peer implements the agent-to-agent HTTP protocol: capability
// discovery via agent cards and request/response text messaging.
package peer

// AgentSkill describes one capability a peer advertises.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentCard is the discovery document served at
// /.well-known/agent.json.
type AgentCard struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Version     string       `json:"version"`
	Skills      []AgentSkill `json:"skills"`
}

// Part is one piece of message content. Only text parts exist in this
// protocol; the type tag keeps the wire format extensible.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is the unit of exchange between agents. Content is decoded
// once at this boundary; there is exactly one accepted shape.
type Message struct {
	ID    string `json:"id"`
	Role  string `json:"role"` // user or agent
	Parts []Part `json:"parts"`
}

// Text returns the message's first text part.
func (m Message) Text() string {
	for _, p := range m.Parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return ""
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(id, role, text string) Message {
	return Message{
		ID:    id,
		Role:  role,
		Parts: []Part{{Type: "text", Text: text}},
	}
}

// messageEnvelope is the request and response body for /v1/message.
type messageEnvelope struct {
	Message Message `json:"message"`
}
