// Package agent runs the bounded tools-enabled reasoning loop that
// turns normalized conversation context into a single reply.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roadbotai/roadbot/internal/channel"
	"github.com/roadbotai/roadbot/internal/chat"
	"github.com/roadbotai/roadbot/internal/tools"
)

// CannotAnswer is the mandated refusal when neither the tools nor the
// model can ground an answer, and the reply when the iteration budget
// runs out mid-reasoning.
const CannotAnswer = "我无法回答这个问题。"

const defaultMaxIterations = 5

// Completer issues one tools-enabled completion call.
type Completer interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
}

// ToolInvocation records one tool execution for observability.
type ToolInvocation struct {
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Result is the outcome of one reasoning run.
type Result struct {
	Reply       string
	Iterations  int
	Invocations []ToolInvocation
	Usage       chat.Usage
}

// Loop is the reasoning dispatcher. One Run per accepted event.
type Loop struct {
	completer     Completer
	registry      *tools.Registry
	model         string
	maxIterations int
	logger        *slog.Logger
}

func NewLoop(log *slog.Logger, completer Completer, registry *tools.Registry, model string, maxIterations int) *Loop {
	if log == nil {
		log = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Loop{
		completer:     completer,
		registry:      registry,
		model:         model,
		maxIterations: maxIterations,
		logger:        log.With(slog.String("service", "agent")),
	}
}

// Run drives the loop until the model produces a final text answer, a
// provider call fails fatally, or the iteration budget is exhausted.
// Tool failures never abort the run: they are folded back into the
// history as tool output so the model can recover or refuse.
func (l *Loop) Run(ctx context.Context, lines []channel.ContextLine) (Result, error) {
	var result Result
	if len(lines) == 0 {
		return result, fmt.Errorf("empty context")
	}

	messages := []chat.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: renderContext(lines)},
	}
	defs := l.registry.Definitions()

	for i := 0; i < l.maxIterations; i++ {
		result.Iterations = i + 1

		resp, err := l.completer.Chat(ctx, chat.Request{
			Model:       l.model,
			Messages:    messages,
			Tools:       defs,
			Temperature: 0.7,
		})
		if err != nil {
			return result, fmt.Errorf("completion (iteration %d): %w", i+1, err)
		}
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Content)
			if reply == "" {
				reply = CannotAnswer
			}
			result.Reply = reply
			return result, nil
		}

		messages = append(messages, chat.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			started := time.Now()
			output, err := l.registry.Execute(ctx, call.Name, call.Arguments)
			inv := ToolInvocation{
				Name:     call.Name,
				Input:    call.Arguments,
				Duration: time.Since(started),
			}
			if err != nil {
				// Fed back as output so the model can still refuse
				// gracefully instead of the run aborting.
				output = fmt.Sprintf("Error: %v", err)
				inv.Error = err.Error()
				l.logger.Warn("tool execution failed",
					slog.String("tool", call.Name),
					slog.Any("error", err),
				)
			} else {
				inv.Output = output
				l.logger.Debug("tool executed",
					slog.String("tool", call.Name),
					slog.Duration("duration", inv.Duration),
				)
			}
			result.Invocations = append(result.Invocations, inv)

			messages = append(messages, chat.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	l.logger.Warn("iteration budget exhausted",
		slog.Int("iterations", l.maxIterations),
		slog.Int("tool_calls", len(result.Invocations)),
	)
	result.Reply = CannotAnswer
	return result, nil
}

// renderContext flattens context lines into one user turn. A single
// line keeps its text as-is; a bundle attributes each line to its
// sender so the model sees who said what, in order.
func renderContext(lines []channel.ContextLine) string {
	if len(lines) == 1 {
		return lines[0].Text
	}
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, fmt.Sprintf("[%s] %s", line.Sender, line.Text))
	}
	return strings.Join(parts, "\n")
}
