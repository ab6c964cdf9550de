package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/room4-2/voicebank/functions"
	"github.com/room4-2/voicebank/mockdata"
)

type scriptedGenerator struct {
	replies []*genai.GenerateContentResponse
	err     error
	calls   [][]*genai.Content
	models  []string
}

func (g *scriptedGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.calls = append(g.calls, append([]*genai.Content(nil), contents...))
	g.models = append(g.models, model)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.replies) == 0 {
		return textReply("done"), nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

func textReply(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func callReply(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{ID: "call-1", Name: name, Args: args},
			}}},
		}},
	}
}

func newToolbox(t *testing.T) *functions.Toolbox {
	t.Helper()
	data, err := mockdata.Load()
	if err != nil {
		t.Fatalf("mockdata.Load() error = %v", err)
	}
	return functions.NewToolbox(data)
}

func TestAnswerPlainText(t *testing.T) {
	gen := &scriptedGenerator{replies: []*genai.GenerateContentResponse{textReply("Hello from AI Bank")}}
	agent := NewAgentWithGenerator(gen, "", newToolbox(t), nil)

	got, err := agent.Answer(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "Hello from AI Bank" {
		t.Errorf("Answer() = %q", got)
	}
	if len(gen.calls) != 1 {
		t.Errorf("generate calls = %d, want 1", len(gen.calls))
	}
	if gen.models[0] != DefaultModel {
		t.Errorf("model = %q, want %q", gen.models[0], DefaultModel)
	}
}

func TestAnswerRunsToolsAndFeedsResults(t *testing.T) {
	gen := &scriptedGenerator{replies: []*genai.GenerateContentResponse{
		callReply(functions.GetBalanceName, map[string]any{"account_name": "Savings"}),
		textReply("Your Savings balance is 50200.00 NOK."),
	}}
	agent := NewAgentWithGenerator(gen, "gemini-test", newToolbox(t), nil)

	got, err := agent.Answer(context.Background(), "What is in my savings?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "Your Savings balance is 50200.00 NOK." {
		t.Errorf("Answer() = %q", got)
	}
	if len(gen.calls) != 2 {
		t.Fatalf("generate calls = %d, want 2", len(gen.calls))
	}

	// user question, model call, tool result
	second := gen.calls[1]
	if len(second) != 3 {
		t.Fatalf("second turn contents = %d, want 3", len(second))
	}
	if second[1].Role != "model" {
		t.Errorf("contents[1].Role = %q, want model", second[1].Role)
	}
	resp := second[2].Parts[0].FunctionResponse
	if resp == nil {
		t.Fatal("expected a function response part")
	}
	if resp.Name != functions.GetBalanceName || resp.ID != "call-1" {
		t.Errorf("function response = %+v", resp)
	}
	if resp.Response["balance"] != 50200.0 {
		t.Errorf("tool output = %v", resp.Response)
	}
}

func TestAnswerStopsAfterMaxSteps(t *testing.T) {
	loop := callReply(functions.ListAccountsName, nil)
	replies := make([]*genai.GenerateContentResponse, defaultMaxSteps)
	for i := range replies {
		replies[i] = loop
	}
	gen := &scriptedGenerator{replies: replies}
	agent := NewAgentWithGenerator(gen, "", newToolbox(t), nil)

	if _, err := agent.Answer(context.Background(), "loop"); !errors.Is(err, ErrTooManySteps) {
		t.Errorf("Answer() error = %v, want ErrTooManySteps", err)
	}
	if len(gen.calls) != defaultMaxSteps {
		t.Errorf("generate calls = %d, want %d", len(gen.calls), defaultMaxSteps)
	}
}

func TestAnswerErrors(t *testing.T) {
	boom := errors.New("quota")
	agent := NewAgentWithGenerator(&scriptedGenerator{err: boom}, "", newToolbox(t), nil)

	if _, err := agent.Answer(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank input error = %v", err)
	}
	if _, err := agent.Answer(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Errorf("generator error = %v, want wrapped quota", err)
	}

	agent.Close()
	if _, err := agent.Answer(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close error = %v, want ErrClosed", err)
	}
}
