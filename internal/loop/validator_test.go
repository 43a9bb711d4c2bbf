package loop

import (
	"testing"

	"github.com/squadron-agent/squadron/internal/tools"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(tools.NewBuiltinRegistry(t.TempDir()), []Peer{
		{Name: "FileAgent", Capability: "file-operations"},
		{Name: "MathAgent", Capability: "arithmetic"},
	})
}

func TestValidateFinishAlwaysOk(t *testing.T) {
	v := testValidator(t)
	if rej := v.Validate(Proposal{Kind: KindFinish, Payload: "done"}); rej != nil {
		t.Errorf("finish rejected: %v", rej)
	}
}

func TestValidateRules(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name     string
		proposal Proposal
		want     RejectReason // "" means accepted
	}{
		{
			"valid tool call",
			Proposal{Kind: KindLocalTool, Target: "calculator", Args: map[string]any{"expression": "2+2"}},
			"",
		},
		{
			"unknown tool",
			Proposal{Kind: KindLocalTool, Target: "delete_everything", Args: map[string]any{}},
			ReasonUnknownTarget,
		},
		{
			"missing required argument",
			Proposal{Kind: KindLocalTool, Target: "calculator", Args: map[string]any{}},
			ReasonSchemaViolation,
		},
		{
			"wrong argument type",
			Proposal{Kind: KindLocalTool, Target: "check_file_exists", Args: map[string]any{"filename": 7}},
			ReasonSchemaViolation,
		},
		{
			"empty tool name",
			Proposal{Kind: KindLocalTool, Target: ""},
			ReasonEmptyPayload,
		},
		{
			"valid math delegation",
			Proposal{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "calculate 100 / 4"},
			"",
		},
		{
			"math peer without digits",
			Proposal{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "history"},
			ReasonPayloadMismatch,
		},
		{
			"valid file delegation",
			Proposal{Kind: KindRemoteAgent, Target: "FileAgent", Payload: "check notes.txt"},
			"",
		},
		{
			"file peer without command keyword",
			Proposal{Kind: KindRemoteAgent, Target: "FileAgent", Payload: "what is 2+2"},
			ReasonPayloadMismatch,
		},
		{
			"unknown peer",
			Proposal{Kind: KindRemoteAgent, Target: "WeatherAgent", Payload: "forecast"},
			ReasonUnknownTarget,
		},
		{
			"empty peer name",
			Proposal{Kind: KindRemoteAgent, Target: "", Payload: "list"},
			ReasonEmptyPayload,
		},
		{
			"malformed structured output",
			Proposal{Kind: KindMalformed, Payload: "not json"},
			ReasonSchemaViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := v.Validate(tt.proposal)
			if tt.want == "" {
				if rej != nil {
					t.Errorf("rejected: %v", rej)
				}
				return
			}
			if rej == nil {
				t.Fatal("expected rejection")
			}
			if rej.Reason != tt.want {
				t.Errorf("reason = %s, want %s", rej.Reason, tt.want)
			}
		})
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	v := testValidator(t)
	p := Proposal{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "history"}

	first := v.Validate(p)
	second := v.Validate(p)
	if first == nil || second == nil {
		t.Fatal("both validations should reject")
	}
	if first.Reason != second.Reason {
		t.Errorf("reasons differ: %s vs %s", first.Reason, second.Reason)
	}
}
