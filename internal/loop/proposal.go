// Package loop implements the delegation control loop: a bounded state
// machine that asks the model for the next action, gates it through
// validation and repetition guards, executes it, and folds the result
// back into conversation history.
package loop

import "encoding/json"

// ActionKind classifies what a proposal asks the loop to do.
type ActionKind string

const (
	// KindLocalTool calls a registered tool with structured arguments.
	KindLocalTool ActionKind = "local_tool"
	// KindRemoteAgent hands a text payload to a configured peer.
	KindRemoteAgent ActionKind = "remote_agent"
	// KindFinish ends the turn with the payload as the answer.
	KindFinish ActionKind = "finish"
	// KindMalformed marks structured model output that failed to decode.
	// It always fails validation; the turn ends with an explanation
	// instead of a crash.
	KindMalformed ActionKind = "malformed"
)

// Proposal is the model's suggested next action. It lives for one loop
// iteration; only its textual result survives into history.
type Proposal struct {
	Kind    ActionKind
	Target  string         // tool or peer name, empty for Finish
	Args    map[string]any // LocalTool arguments
	Payload string         // RemoteAgent text or Finish answer
}

// Signature returns the (target, payload) identity used for repetition
// detection. Argument maps serialize with sorted keys, so two proposals
// with equal arguments produce equal signatures.
func (p Proposal) Signature() string {
	payload := p.Payload
	if p.Kind == KindLocalTool {
		b, _ := json.Marshal(p.Args)
		payload = string(b)
	}
	return p.Target + "\x00" + payload
}
