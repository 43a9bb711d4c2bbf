package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/memory"
)

// FallbackAnswer is returned when a turn ends without the model
// producing any text.
const FallbackAnswer = "Task complete."

// DefaultMaxSteps bounds a single-agent turn.
const DefaultMaxSteps = 10

// State names a point in the turn lifecycle, reported to observers.
type State string

const (
	StateThinking   State = "thinking"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateFinished   State = "finished"
	StateAborted    State = "aborted"
)

// StepEvent describes one state transition within a turn. Events are
// delivered synchronously; the loop's correctness never depends on
// whether anything observes them.
type StepEvent struct {
	State  State  `json:"state"`
	Step   int    `json:"step"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Observer receives step events as the turn progresses.
type Observer func(StepEvent)

// History is the persistence collaborator: an append-only message log
// keyed by thread id.
type History interface {
	AddMessage(threadID, role, content string) error
	GetMessages(threadID string) ([]memory.Message, error)
}

// Engine drives one user turn to completion: ask the model, gate the
// proposal, execute it, fold the result back, repeat. Each turn holds
// its own guard state, so independent threads may run concurrently.
type Engine struct {
	logger       *slog.Logger
	proposer     Proposer
	validator    *Validator
	executor     *Executor
	history      History
	systemPrompt string
	maxSteps     int
	observer     Observer
}

// New creates a delegation engine. maxSteps at or below zero selects
// DefaultMaxSteps.
func New(logger *slog.Logger, proposer Proposer, validator *Validator, executor *Executor, history History, systemPrompt string, maxSteps int) *Engine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Engine{
		logger:       logger,
		proposer:     proposer,
		validator:    validator,
		executor:     executor,
		history:      history,
		systemPrompt: systemPrompt,
		maxSteps:     maxSteps,
	}
}

// SetObserver registers a callback for step events. Pass nil to stop
// observing.
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
}

func emitTo(obs Observer, ev StepEvent) {
	if obs != nil {
		obs(ev)
	}
}

// Run executes one turn for the given thread and returns the
// assistant's final text. Every terminal path yields user-visible
// text; errors surface only for unusable input.
func (e *Engine) Run(ctx context.Context, threadID, userText string) (string, error) {
	return e.RunObserved(ctx, threadID, userText, e.observer)
}

// RunObserved executes one turn, delivering step events to obs instead
// of the engine-wide observer. Concurrent turns on different threads
// can each carry their own observer.
func (e *Engine) RunObserved(ctx context.Context, threadID, userText string, obs Observer) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", fmt.Errorf("user text is required")
	}

	start := time.Now()

	if err := e.history.AddMessage(threadID, "user", userText); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	messages, err := e.replay(threadID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	guard := NewGuard(e.maxSteps)
	var partials []string

	e.logger.Info("turn started",
		"thread_id", threadID,
		"max_steps", e.maxSteps,
		"history_len", len(messages),
	)

	for step := 0; step < e.maxSteps; step++ {
		emitTo(obs, StepEvent{State: StateThinking, Step: step})

		proposal, err := e.proposer.Propose(ctx, messages)
		if err != nil {
			e.logger.Error("model invocation failed",
				"thread_id", threadID,
				"step", step,
				"error", err,
			)
			return e.finish(obs, threadID, StateAborted, step, start,
				"I was unable to reach the language model. Please try again.")
		}

		if proposal.Kind == KindFinish {
			answer := strings.TrimSpace(proposal.Payload)
			if answer == "" {
				answer = FallbackAnswer
			}
			return e.finish(obs, threadID, StateFinished, step, start, answer)
		}

		emitTo(obs, StepEvent{State: StateValidating, Step: step, Target: proposal.Target})

		if rej := e.validator.Validate(proposal); rej != nil {
			e.logger.Warn("proposal rejected",
				"thread_id", threadID,
				"step", step,
				"target", proposal.Target,
				"reason", rej.Reason,
				"detail", rej.Detail,
			)
			return e.abort(obs, threadID, step, start, "Stopped: "+rej.Detail+".", partials)
		}

		if ab := guard.Check(proposal.Signature(), step); ab != nil {
			e.logger.Warn("turn guarded",
				"thread_id", threadID,
				"step", step,
				"target", proposal.Target,
				"reason", ab.Reason,
			)
			msg := "Stopped: the step limit was reached."
			if ab.Reason == AbortRepeat {
				msg = "Stopped: the same action was attempted twice."
			}
			return e.abort(obs, threadID, step, start, msg, partials)
		}

		emitTo(obs, StepEvent{State: StateExecuting, Step: step, Target: proposal.Target})

		result := e.executor.Execute(ctx, proposal)

		if proposal.Kind == KindRemoteAgent && IsTransportError(result) {
			return e.finish(obs, threadID, StateAborted, step, start,
				"A peer agent could not be reached: "+strings.TrimSpace(strings.TrimPrefix(result, TransportErrorPrefix)))
		}

		partials = append(partials, result)
		e.appendResult(threadID, &messages, result)
	}

	// Step budget spent without reaching Finish. Never hang; end the
	// turn with whatever was produced.
	e.logger.Warn("turn hit step limit",
		"thread_id", threadID,
		"max_steps", e.maxSteps,
	)
	return e.abort(obs, threadID, e.maxSteps, start, "Stopped: the step limit was reached.", partials)
}

// replay rebuilds the model's view of the conversation: the system
// prompt followed by the persisted history verbatim, in insertion
// order.
func (e *Engine) replay(threadID string) ([]llm.Message, error) {
	stored, err := e.history.GetMessages(threadID)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(stored)+1)
	if e.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: e.systemPrompt})
	}
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

// appendResult folds an execution result into history as a tool
// message, both in memory and in the store.
func (e *Engine) appendResult(threadID string, messages *[]llm.Message, result string) {
	*messages = append(*messages, llm.Message{Role: "tool", Content: result})
	if err := e.history.AddMessage(threadID, "tool", result); err != nil {
		e.logger.Warn("failed to persist tool result",
			"thread_id", threadID,
			"error", err,
		)
	}
}

// abort ends the turn with the accumulated partial results and the
// explanation for the stop, folded into one terminal assistant message
// so the replayed history never carries back-to-back assistant turns.
func (e *Engine) abort(obs Observer, threadID string, step int, start time.Time, note string, partials []string) (string, error) {
	answer := e.degraded(partials)
	if note != "" {
		answer += "\n" + note
	}
	return e.finish(obs, threadID, StateAborted, step, start, answer)
}

// degraded returns whatever partial results accumulated before the
// turn was stopped, or the fixed fallback when nothing was produced.
func (e *Engine) degraded(partials []string) string {
	if len(partials) == 0 {
		return FallbackAnswer
	}
	return strings.Join(partials, "\n")
}

// finish persists the terminal assistant message and reports the
// terminal state.
func (e *Engine) finish(obs Observer, threadID string, state State, step int, start time.Time, answer string) (string, error) {
	if err := e.history.AddMessage(threadID, "assistant", answer); err != nil {
		e.logger.Warn("failed to persist answer",
			"thread_id", threadID,
			"error", err,
		)
	}

	emitTo(obs, StepEvent{State: state, Step: step, Detail: answer})

	e.logger.Info("turn finished",
		"thread_id", threadID,
		"state", state,
		"steps", step,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return answer, nil
}
