package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/voicebank/functions"
)

// DefaultModel is used when GEMINI_AGENT_MODEL is unset
const DefaultModel = "gemini-2.5-flash"

const (
	defaultMaxSteps   = 6
	agentInstructions = "You are a helpful AI Bank assistant for a Norwegian user. " +
		"You can check balances, summarize recent spend, estimate money left, and explain fast loan options. " +
		"Always be concise, friendly, and include NOK currency. Use tools when needed."
)

var (
	// ErrTooManySteps is returned when the model keeps calling tools without answering
	ErrTooManySteps = errors.New("agent exceeded tool call limit")
	// ErrEmptyInput is returned for blank questions
	ErrEmptyInput = errors.New("agent input is empty")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("agent is closed")
)

// ContentGenerator is the slice of the genai models API the agent needs
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Agent answers banking questions with Gemini function calling over the demo toolbox
type Agent struct {
	models   ContentGenerator
	model    string
	tools    *functions.Toolbox
	logger   *zap.Logger
	maxSteps int

	mu     sync.RWMutex
	closed bool
}

// NewAgent creates a Gemini client and an agent over it
func NewAgent(ctx context.Context, apiKey, model string, tools *functions.Toolbox, logger *zap.Logger) (*Agent, error) {
	// Initialize the Client
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewAgentWithGenerator(client.Models, model, tools, logger), nil
}

// NewAgentWithGenerator builds an agent over any content generator
func NewAgentWithGenerator(models ContentGenerator, model string, tools *functions.Toolbox, logger *zap.Logger) *Agent {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		models:   models,
		model:    model,
		tools:    tools,
		logger:   logger,
		maxSteps: defaultMaxSteps,
	}
}

func (a *Agent) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: agentInstructions},
			},
		},
		Tools: []*genai.Tool{
			{FunctionDeclarations: functions.Declarations()},
		},
	}
}

// Answer runs the tool loop until the model replies with text
func (a *Agent) Answer(ctx context.Context, input string) (string, error) {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	config := a.config()
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: input}},
		},
	}

	for step := 0; step < a.maxSteps; step++ {
		resp, err := a.models.GenerateContent(ctx, a.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("failed to generate content: %w", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return resp.Text(), nil
		}

		a.logger.Debug("Agent tool calls", zap.Int("step", step), zap.Int("calls", len(calls)))

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		contents = append(contents, a.handleToolCalls(calls))
	}

	return "", ErrTooManySteps
}

// handleToolCalls executes each call and packs the results into one user turn
func (a *Agent) handleToolCalls(calls []*genai.FunctionCall) *genai.Content {
	parts := make([]*genai.Part, 0, len(calls))
	for _, fc := range calls {
		output := a.tools.Call(fc.Name, fc.Args)
		a.logger.Debug("Tool executed", zap.String("tool", fc.Name))
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: output,
			},
		})
	}
	return &genai.Content{Role: "user", Parts: parts}
}

// Close rejects further questions
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
