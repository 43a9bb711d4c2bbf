package loop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/memory"
	"github.com/squadron-agent/squadron/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHistory is an in-memory History for loop tests. A non-nil err
// makes every read fail, simulating a broken store.
type fakeHistory struct {
	msgs map[string][]memory.Message
	err  error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{msgs: make(map[string][]memory.Message)}
}

func (h *fakeHistory) AddMessage(threadID, role, content string) error {
	h.msgs[threadID] = append(h.msgs[threadID], memory.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

func (h *fakeHistory) GetMessages(threadID string) ([]memory.Message, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.msgs[threadID], nil
}

// scriptProposer replays a fixed sequence of proposals. Once the
// script runs out it keeps returning the last entry.
type scriptProposer struct {
	script []Proposal
	calls  int
	err    error
}

func (p *scriptProposer) Propose(ctx context.Context, history []llm.Message) (Proposal, error) {
	p.calls++
	if p.err != nil {
		return Proposal{}, p.err
	}
	i := p.calls - 1
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	return p.script[i], nil
}

// countingTransport records sends and optionally fails every call.
type countingTransport struct {
	calls int
	reply string
	err   error
}

func (c *countingTransport) Send(ctx context.Context, peerName, text string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func testEngine(t *testing.T, proposer Proposer, transport PeerSender, maxSteps int) (*Engine, *fakeHistory) {
	t.Helper()
	logger := discardLogger()
	reg := tools.NewBuiltinRegistry(t.TempDir())
	validator := NewValidator(reg, []Peer{
		{Name: "FileAgent", Capability: "file-operations"},
		{Name: "MathAgent", Capability: "arithmetic"},
	})
	executor := NewExecutor(logger, reg, transport)
	history := newFakeHistory()
	return New(logger, proposer, validator, executor, history, "You are a helpful assistant.", maxSteps), history
}

func calcProposal(expr string) Proposal {
	return Proposal{Kind: KindLocalTool, Target: "calculator", Args: map[string]any{"expression": expr}}
}

func TestRunReturnsPlainAnswer(t *testing.T) {
	p := &scriptProposer{script: []Proposal{{Kind: KindFinish, Payload: "The answer is 4."}}}
	e, history := testEngine(t, p, nil, 10)

	got, err := e.Run(context.Background(), "t1", "what is 2+2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "The answer is 4." {
		t.Errorf("got %q", got)
	}

	msgs, _ := history.GetMessages("t1")
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	p := &scriptProposer{script: []Proposal{{Kind: KindFinish, Payload: "x"}}}
	e, _ := testEngine(t, p, nil, 10)

	if _, err := e.Run(context.Background(), "t1", "   "); err == nil {
		t.Fatal("blank input should fail")
	}
	if p.calls != 0 {
		t.Errorf("model invoked %d times for blank input", p.calls)
	}
}

func TestRunExecutesToolThenFinishes(t *testing.T) {
	p := &scriptProposer{script: []Proposal{
		calcProposal("2 + 2"),
		{Kind: KindFinish, Payload: "The answer is 4."},
	}}
	e, history := testEngine(t, p, nil, 10)

	got, err := e.Run(context.Background(), "t1", "what is 2+2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "The answer is 4." {
		t.Errorf("got %q", got)
	}

	msgs, _ := history.GetMessages("t1")
	if len(msgs) != 3 {
		t.Fatalf("history has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "tool" || msgs[1].Content != "4" {
		t.Errorf("tool message = %+v", msgs[1])
	}
}

func TestRunTerminatesOnRepeatedAction(t *testing.T) {
	// A model that always proposes the same action must not spin.
	p := &scriptProposer{script: []Proposal{calcProposal("2 + 2")}}
	e, _ := testEngine(t, p, nil, 10)

	got, err := e.Run(context.Background(), "t1", "loop forever")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.HasPrefix(got, "4\n") || !strings.Contains(got, "attempted twice") {
		t.Errorf("got %q, want the partial result and the stop explanation", got)
	}
	if p.calls != 2 {
		t.Errorf("model invoked %d times, want 2", p.calls)
	}
}

func TestRunStopsAtStepLimit(t *testing.T) {
	maxSteps := 3
	proposals := make([]Proposal, maxSteps+5)
	for i := range proposals {
		proposals[i] = calcProposal(fmt.Sprintf("1 + %d", i))
	}
	p := &scriptProposer{script: proposals}
	e, _ := testEngine(t, p, nil, maxSteps)

	got, err := e.Run(context.Background(), "t1", "keep going")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.calls != maxSteps {
		t.Errorf("model invoked %d times, want %d", p.calls, maxSteps)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != maxSteps+1 {
		t.Errorf("expected %d partial results plus the stop line, got %q", maxSteps, got)
	}
	if !strings.Contains(lines[len(lines)-1], "step limit") {
		t.Errorf("last line = %q, want the step limit explanation", lines[len(lines)-1])
	}
}

func TestRunRejectsMismatchWithoutNetworkCall(t *testing.T) {
	transport := &countingTransport{reply: "should never be seen"}
	p := &scriptProposer{script: []Proposal{
		{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "history"},
	}}
	e, _ := testEngine(t, p, transport, 10)

	got, err := e.Run(context.Background(), "t1", "tell MathAgent about history")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if transport.calls != 0 {
		t.Errorf("transport invoked %d times, want 0", transport.calls)
	}
	if !strings.HasPrefix(got, FallbackAnswer) || !strings.Contains(got, "Stopped:") {
		t.Errorf("got %q, want fallback %q with the rejection explanation", got, FallbackAnswer)
	}
}

func TestRunAbortPersistsSingleAssistantMessage(t *testing.T) {
	// The stop explanation is folded into the terminal answer, so a
	// replayed thread never shows two assistant messages in a row.
	p := &scriptProposer{script: []Proposal{
		{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "history"},
	}}
	e, history := testEngine(t, p, &countingTransport{}, 10)

	got, err := e.Run(context.Background(), "t1", "tell MathAgent about history")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	msgs, _ := history.GetMessages("t1")
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("history = %+v, want exactly user then assistant", msgs)
	}
	if msgs[1].Content != got {
		t.Errorf("persisted answer %q differs from returned answer %q", msgs[1].Content, got)
	}
}

func TestRunFailsWhenHistoryUnreadable(t *testing.T) {
	p := &scriptProposer{script: []Proposal{{Kind: KindFinish, Payload: "x"}}}
	e, history := testEngine(t, p, nil, 10)
	history.err = fmt.Errorf("database is locked")

	if _, err := e.Run(context.Background(), "t1", "hello"); err == nil {
		t.Fatal("unreadable history must fail the turn, not run on an empty one")
	}
	if p.calls != 0 {
		t.Errorf("model invoked %d times with unreadable history", p.calls)
	}
}

func TestRunAbortsOnTransportFailure(t *testing.T) {
	transport := &countingTransport{err: fmt.Errorf("connection refused")}
	p := &scriptProposer{script: []Proposal{
		{Kind: KindRemoteAgent, Target: "MathAgent", Payload: "calculate 2+2"},
	}}
	e, _ := testEngine(t, p, transport, 10)

	got, err := e.Run(context.Background(), "t1", "ask MathAgent")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if transport.calls != 1 {
		t.Errorf("transport invoked %d times, want 1", transport.calls)
	}
	if !strings.Contains(got, "could not be reached") {
		t.Errorf("got %q, want a transport failure explanation", got)
	}
	// A downed peer is turn-fatal; no retry.
	if p.calls != 1 {
		t.Errorf("model invoked %d times, want 1", p.calls)
	}
}

func TestRunAllowsRepeatAcrossTurns(t *testing.T) {
	p := &scriptProposer{script: []Proposal{
		calcProposal("2 + 2"),
		{Kind: KindFinish, Payload: "4 it is"},
		calcProposal("2 + 2"),
		{Kind: KindFinish, Payload: "still 4"},
	}}
	e, _ := testEngine(t, p, nil, 10)

	first, err := e.Run(context.Background(), "t1", "what is 2+2")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	second, err := e.Run(context.Background(), "t1", "and again?")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if first != "4 it is" || second != "still 4" {
		t.Errorf("answers = %q, %q", first, second)
	}
}

func TestRunSurvivesModelFailure(t *testing.T) {
	p := &scriptProposer{err: fmt.Errorf("ollama is down")}
	e, _ := testEngine(t, p, nil, 10)

	got, err := e.Run(context.Background(), "t1", "hello")
	if err != nil {
		t.Fatalf("Run should degrade, not fail: %v", err)
	}
	if !strings.Contains(got, "unable to reach the language model") {
		t.Errorf("got %q", got)
	}
}

func TestRunEmitsStepEvents(t *testing.T) {
	p := &scriptProposer{script: []Proposal{
		calcProposal("2 + 2"),
		{Kind: KindFinish, Payload: "done"},
	}}
	e, _ := testEngine(t, p, nil, 10)

	var states []State
	e.SetObserver(func(ev StepEvent) {
		states = append(states, ev.State)
	})

	if _, err := e.Run(context.Background(), "t1", "go"); err != nil {
		t.Fatal(err)
	}

	want := []State{StateThinking, StateValidating, StateExecuting, StateThinking, StateFinished}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}
