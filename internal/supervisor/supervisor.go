package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/loop"
)

// DefaultMaxSteps bounds one supervised turn across all routing rounds
// and worker iterations.
const DefaultMaxSteps = 25

// routeTo is the structured routing decision the supervisor asks the
// model for each round.
type routeTo struct {
	Next string `json:"next"`
}

// Supervisor routes each round of a turn to one specialist worker or
// finishes. The routing decision carries no payload; workers re-derive
// their sub-task from the shared history.
type Supervisor struct {
	logger   *slog.Logger
	llm      llm.Client
	model    string
	workers  map[string]*Worker
	order    []string
	history  loop.History
	maxSteps int
}

// New creates a supervisor over the given workers.
func New(logger *slog.Logger, client llm.Client, model string, history loop.History, workers []*Worker, maxSteps int) *Supervisor {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	s := &Supervisor{
		logger:   logger,
		llm:      client,
		model:    model,
		workers:  make(map[string]*Worker, len(workers)),
		history:  history,
		maxSteps: maxSteps,
	}
	for _, w := range workers {
		s.workers[w.Name] = w
		s.order = append(s.order, w.Name)
	}
	return s
}

// routingPrompt describes the workers and the decision format.
func (s *Supervisor) routingPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a supervisor coordinating specialist workers. Workers:\n")
	for _, name := range s.order {
		fmt.Fprintf(&sb, "- %s: %s\n", name, s.workers[name].Description)
	}
	sb.WriteString("\nDecide who should act next. Respond with JSON only: ")
	sb.WriteString(`{"next": "<worker name>"} to delegate, or {"next": "FINISH"} when every part `)
	sb.WriteString("of the user's request has been handled. Delegate one worker per part of the request.")
	return sb.String()
}

// Run executes one supervised turn and returns the combined answer.
func (s *Supervisor) Run(ctx context.Context, threadID, userText string) (string, error) {
	return s.RunObserved(ctx, threadID, userText, nil)
}

// RunObserved executes one supervised turn, delivering step events to
// obs as routing decisions are made and worker tools run. Events use
// the same shape as the single-agent loop so one consumer serves both
// topologies.
func (s *Supervisor) RunObserved(ctx context.Context, threadID, userText string, obs loop.Observer) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", fmt.Errorf("user text is required")
	}

	start := time.Now()

	if err := s.history.AddMessage(threadID, "user", userText); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	shared, err := s.replay(threadID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	routing := []llm.Message{{Role: "system", Content: s.routingPrompt()}}
	routing = append(routing, shared...)

	var reports []string
	produced := make(map[string]struct{})

	s.logger.Info("supervised turn started",
		"thread_id", threadID,
		"workers", len(s.workers),
		"max_steps", s.maxSteps,
	)

	for step := 0; step < s.maxSteps; step++ {
		emit(obs, loop.StepEvent{State: loop.StateThinking, Step: step})

		resp, err := s.llm.ChatJSON(ctx, s.model, routing)
		if err != nil {
			s.logger.Error("supervisor routing failed",
				"thread_id", threadID,
				"step", step,
				"error", err,
			)
			return s.finish(obs, threadID, loop.StateAborted, step, start, reports,
				"I was unable to reach the language model. Please try again.")
		}

		var decision routeTo
		if err := json.Unmarshal([]byte(resp.Message.Content), &decision); err != nil || decision.Next == "" {
			s.logger.Warn("supervisor decision did not decode",
				"thread_id", threadID,
				"step", step,
				"content", resp.Message.Content,
			)
			return s.finish(obs, threadID, loop.StateFinished, step, start, reports, s.combined(reports))
		}

		if strings.EqualFold(decision.Next, "FINISH") {
			return s.finish(obs, threadID, loop.StateFinished, step, start, reports, s.combined(reports))
		}

		worker, ok := s.workers[decision.Next]
		if !ok {
			s.logger.Warn("supervisor routed to unknown worker",
				"thread_id", threadID,
				"step", step,
				"next", decision.Next,
			)
			return s.finish(obs, threadID, loop.StateFinished, step, start, reports, s.combined(reports))
		}

		s.logger.Info("supervisor delegated",
			"thread_id", threadID,
			"step", step,
			"worker", worker.Name,
		)
		emit(obs, loop.StepEvent{State: loop.StateExecuting, Step: step, Target: worker.Name})

		report, err := worker.run(ctx, s.logger, s.llm, s.model, shared, obs, step)
		if err != nil {
			s.logger.Error("worker failed",
				"thread_id", threadID,
				"worker", worker.Name,
				"error", err,
			)
			return s.finish(obs, threadID, loop.StateAborted, step, start, reports, s.combined(reports))
		}

		// A worker repeating its exact report means no progress is being
		// made; stop rather than spin to the step limit.
		sig := worker.Name + "\x00" + report
		if _, seen := produced[sig]; seen {
			s.logger.Warn("worker repeated its report, stopping",
				"thread_id", threadID,
				"worker", worker.Name,
			)
			return s.finish(obs, threadID, loop.StateFinished, step, start, reports, s.combined(reports))
		}
		produced[sig] = struct{}{}

		reports = append(reports, report)
		note := worker.Name + ": " + report
		shared = append(shared, llm.Message{Role: "assistant", Content: note})
		routing = append(routing, llm.Message{Role: "assistant", Content: note})
		if err := s.history.AddMessage(threadID, "assistant", note); err != nil {
			s.logger.Warn("failed to persist worker report",
				"thread_id", threadID,
				"error", err,
			)
		}
	}

	s.logger.Warn("supervised turn hit step limit",
		"thread_id", threadID,
		"max_steps", s.maxSteps,
	)
	return s.finish(obs, threadID, loop.StateAborted, s.maxSteps, start, reports, s.combined(reports))
}

func emit(obs loop.Observer, ev loop.StepEvent) {
	if obs != nil {
		obs(ev)
	}
}

// combined joins worker reports into the turn's answer.
func (s *Supervisor) combined(reports []string) string {
	if len(reports) == 0 {
		return loop.FallbackAnswer
	}
	return strings.Join(reports, "\n\n")
}

func (s *Supervisor) replay(threadID string) ([]llm.Message, error) {
	stored, err := s.history.GetMessages(threadID)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

func (s *Supervisor) finish(obs loop.Observer, threadID string, state loop.State, step int, start time.Time, reports []string, answer string) (string, error) {
	if err := s.history.AddMessage(threadID, "assistant", answer); err != nil {
		s.logger.Warn("failed to persist answer",
			"thread_id", threadID,
			"error", err,
		)
	}
	emit(obs, loop.StepEvent{State: state, Step: step, Detail: answer})
	s.logger.Info("supervised turn finished",
		"thread_id", threadID,
		"state", state,
		"reports", len(reports),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return answer, nil
}
