package llm

import "context"

// Client is the model collaborator boundary. The delegation loop and
// the supervisor depend on this interface only, so tests can substitute
// a scripted stub.
type Client interface {
	// Chat sends a chat completion request. tools may be nil for a
	// plain-text exchange.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatJSON sends a chat completion request with the backend forced
	// into JSON output mode. Used for routing decisions.
	ChatJSON(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
