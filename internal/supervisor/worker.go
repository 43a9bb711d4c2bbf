// Package supervisor implements the two-tier delegation topology: a
// routing node that picks a specialist worker each round, and workers
// that run their own bounded tool loops over the shared history.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/loop"
	"github.com/squadron-agent/squadron/internal/tools"
)

// defaultWorkerIter bounds a single worker's inner tool loop.
const defaultWorkerIter = 10

// Worker is a specialist with a scoped tool registry. The supervisor
// never hands a worker an explicit sub-task: a selected worker always
// re-derives its task from the shared conversation history. That
// contract is part of the topology, not an accident of prompting.
type Worker struct {
	Name        string
	Description string
	prompt      string
	tools       *tools.Registry
	maxIter     int
}

// NewWorker creates a worker with the given specialty prompt and
// scoped registry.
func NewWorker(name, description, prompt string, reg *tools.Registry) *Worker {
	return &Worker{
		Name:        name,
		Description: description,
		prompt:      prompt,
		tools:       reg,
		maxIter:     defaultWorkerIter,
	}
}

// FileWorker creates the file-operations specialist scoped to the
// directory tools.
func FileWorker(parent *tools.Registry) *Worker {
	return NewWorker(
		"FileAgent",
		"Lists files and checks whether files exist in the working directory.",
		"You are FileAgent, a file system specialist. Read the conversation and carry out "+
			"the file-related part of the user's request using your tools. Reply with a short "+
			"plain-text report of what you found. Do not attempt arithmetic.",
		parent.FilteredCopy([]string{"list_directory", "check_file_exists"}),
	)
}

// MathWorker creates the arithmetic specialist scoped to the
// calculator.
func MathWorker(parent *tools.Registry) *Worker {
	return NewWorker(
		"MathAgent",
		"Evaluates arithmetic expressions.",
		"You are MathAgent, an arithmetic specialist. Read the conversation and carry out "+
			"the calculation part of the user's request using the calculator tool. Reply with "+
			"a short plain-text report of the result. Do not attempt file operations.",
		parent.FilteredCopy([]string{"calculator"}),
	)
}

// run executes the worker's inner tool loop over the shared history
// and returns its plain-text report. Tool failures fold back into the
// loop as diagnostic text; only model failures surface as errors. Each
// tool invocation is reported to obs under the supervisor's step.
func (w *Worker) run(ctx context.Context, logger *slog.Logger, client llm.Client, model string, shared []llm.Message, obs loop.Observer, step int) (string, error) {
	messages := make([]llm.Message, 0, len(shared)+1)
	messages = append(messages, llm.Message{Role: "system", Content: w.prompt})
	messages = append(messages, shared...)

	for i := 0; i < w.maxIter; i++ {
		resp, err := client.Chat(ctx, model, messages, w.tools.List())
		if err != nil {
			return "", fmt.Errorf("worker %s model call failed (iter %d): %w", w.Name, i, err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			report := strings.TrimSpace(resp.Message.Content)
			logger.Debug("worker finished",
				"worker", w.Name,
				"iterations", i+1,
				"report_len", len(report),
			)
			return report, nil
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			emit(obs, loop.StepEvent{
				State:  loop.StateExecuting,
				Step:   step,
				Target: tc.Function.Name,
				Detail: w.Name,
			})
			result, err := w.tools.ExecuteArgs(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				result = "Error: " + err.Error()
				logger.Warn("worker tool failed",
					"worker", w.Name,
					"tool", tc.Function.Name,
					"error", err,
				)
			} else {
				logger.Debug("worker tool executed",
					"worker", w.Name,
					"tool", tc.Function.Name,
					"result_len", len(result),
				)
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("worker %s exhausted %d iterations without a report", w.Name, w.maxIter)
}
