package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/loop"
	"github.com/squadron-agent/squadron/internal/memory"
	"github.com/squadron-agent/squadron/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHistory struct {
	msgs map[string][]memory.Message
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{msgs: make(map[string][]memory.Message)}
}

func (h *fakeHistory) AddMessage(threadID, role, content string) error {
	h.msgs[threadID] = append(h.msgs[threadID], memory.Message{
		Role: role, Content: content, Timestamp: time.Now(),
	})
	return nil
}

func (h *fakeHistory) GetMessages(threadID string) ([]memory.Message, error) {
	return h.msgs[threadID], nil
}

// fakeClient replays scripted responses: routing decisions for
// ChatJSON, worker messages for Chat.
type fakeClient struct {
	routes    []string
	workers   []llm.Message
	routeIdx  int
	workerIdx int
}

func (c *fakeClient) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	if c.workerIdx >= len(c.workers) {
		return nil, fmt.Errorf("worker script exhausted at call %d", c.workerIdx)
	}
	msg := c.workers[c.workerIdx]
	c.workerIdx++
	return &llm.ChatResponse{Message: msg, Done: true}, nil
}

func (c *fakeClient) ChatJSON(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error) {
	if c.routeIdx >= len(c.routes) {
		return nil, fmt.Errorf("routing script exhausted at call %d", c.routeIdx)
	}
	content := c.routes[c.routeIdx]
	c.routeIdx++
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}, Done: true}, nil
}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }

func toolCall(name string, args map[string]any) llm.Message {
	return llm.Message{
		Role:      "assistant",
		ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: name, Arguments: args}}},
	}
}

func textMsg(content string) llm.Message {
	return llm.Message{Role: "assistant", Content: content}
}

func testSupervisor(t *testing.T, client llm.Client, workspace string) (*Supervisor, *fakeHistory) {
	t.Helper()
	reg := tools.NewBuiltinRegistry(workspace)
	history := newFakeHistory()
	s := New(discardLogger(), client, "llama3.1", history,
		[]*Worker{FileWorker(reg), MathWorker(reg)}, 0)
	return s, history
}

func TestRunRoutesToBothWorkers(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "report.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{
		routes: []string{
			`{"next": "FileAgent"}`,
			`{"next": "MathAgent"}`,
			`{"next": "FINISH"}`,
		},
		workers: []llm.Message{
			toolCall("list_directory", map[string]any{}),
			textMsg("The directory contains report.txt."),
			toolCall("calculator", map[string]any{"expression": "100/4"}),
			textMsg("100 / 4 = 25.0"),
		},
	}

	s, history := testSupervisor(t, client, workspace)
	got, err := s.Run(context.Background(), "t1", "list files here and calculate 100/4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(got, "report.txt") {
		t.Errorf("answer %q missing the file report", got)
	}
	if !strings.Contains(got, "25.0") {
		t.Errorf("answer %q missing the calculation", got)
	}

	msgs, _ := history.GetMessages("t1")
	if len(msgs) != 4 {
		t.Fatalf("history has %d messages, want 4 (user, two reports, answer)", len(msgs))
	}
	if !strings.HasPrefix(msgs[1].Content, "FileAgent:") {
		t.Errorf("first report = %q", msgs[1].Content)
	}
	if !strings.HasPrefix(msgs[2].Content, "MathAgent:") {
		t.Errorf("second report = %q", msgs[2].Content)
	}
}

func TestRunObservedStreamsRoutingAndToolEvents(t *testing.T) {
	client := &fakeClient{
		routes: []string{
			`{"next": "FileAgent"}`,
			`{"next": "FINISH"}`,
		},
		workers: []llm.Message{
			toolCall("list_directory", map[string]any{}),
			textMsg("The directory is empty."),
		},
	}
	s, _ := testSupervisor(t, client, t.TempDir())

	var events []loop.StepEvent
	got, err := s.RunObserved(context.Background(), "t1", "list files", func(ev loop.StepEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("RunObserved failed: %v", err)
	}

	wantStates := []loop.State{
		loop.StateThinking,  // routing round 0
		loop.StateExecuting, // delegate to FileAgent
		loop.StateExecuting, // FileAgent runs list_directory
		loop.StateThinking,  // routing round 1
		loop.StateFinished,
	}
	if len(events) != len(wantStates) {
		t.Fatalf("events = %+v, want states %v", events, wantStates)
	}
	for i, want := range wantStates {
		if events[i].State != want {
			t.Errorf("events[%d].State = %s, want %s", i, events[i].State, want)
		}
	}
	if events[1].Target != "FileAgent" {
		t.Errorf("delegation target = %q, want FileAgent", events[1].Target)
	}
	if events[2].Target != "list_directory" || events[2].Detail != "FileAgent" {
		t.Errorf("tool event = %+v, want list_directory by FileAgent", events[2])
	}
	if events[len(events)-1].Detail != got {
		t.Errorf("terminal event detail = %q, answer = %q", events[len(events)-1].Detail, got)
	}
}

func TestRunImmediateFinish(t *testing.T) {
	client := &fakeClient{routes: []string{`{"next": "FINISH"}`}}
	s, _ := testSupervisor(t, client, t.TempDir())

	got, err := s.Run(context.Background(), "t1", "hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "Task complete." {
		t.Errorf("got %q", got)
	}
}

func TestRunUnknownWorkerEndsTurn(t *testing.T) {
	client := &fakeClient{routes: []string{`{"next": "WeatherAgent"}`}}
	s, _ := testSupervisor(t, client, t.TempDir())

	got, err := s.Run(context.Background(), "t1", "forecast please")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "Task complete." {
		t.Errorf("got %q", got)
	}
}

func TestRunMalformedDecisionEndsTurn(t *testing.T) {
	client := &fakeClient{routes: []string{`not json at all`}}
	s, _ := testSupervisor(t, client, t.TempDir())

	got, err := s.Run(context.Background(), "t1", "hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "Task complete." {
		t.Errorf("got %q", got)
	}
}

func TestRunStopsWhenWorkerRepeats(t *testing.T) {
	// A supervisor that keeps routing to the same worker makes no
	// progress once the worker's report stops changing.
	client := &fakeClient{
		routes: []string{
			`{"next": "MathAgent"}`,
			`{"next": "MathAgent"}`,
			`{"next": "MathAgent"}`,
		},
		workers: []llm.Message{
			textMsg("2 + 2 = 4"),
			textMsg("2 + 2 = 4"),
		},
	}
	s, _ := testSupervisor(t, client, t.TempDir())

	got, err := s.Run(context.Background(), "t1", "what is 2+2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "2 + 2 = 4" {
		t.Errorf("got %q", got)
	}
	if client.routeIdx != 2 {
		t.Errorf("routing calls = %d, want 2", client.routeIdx)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	s, _ := testSupervisor(t, &fakeClient{}, t.TempDir())
	if _, err := s.Run(context.Background(), "t1", ""); err == nil {
		t.Fatal("empty input should fail")
	}
}
