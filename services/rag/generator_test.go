package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// fakeMessages scripts the Anthropic client with a fixed response sequence
// and records the params of every call.
type fakeMessages struct {
	responses []*anthropic.Message
	err       error
	calls     []anthropic.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.calls) > len(f.responses) {
		return nil, fmt.Errorf("unexpected call %d", len(f.calls))
	}
	return f.responses[len(f.calls)-1], nil
}

func textResponse(text string) *anthropic.Message {
	return &anthropic.Message{
		StopReason: "end_turn",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func toolUseResponse(blocks ...anthropic.ContentBlockUnion) *anthropic.Message {
	return &anthropic.Message{
		StopReason: "tool_use",
		Content:    blocks,
	}
}

func toolUseBlock(id, name, inputJSON string) anthropic.ContentBlockUnion {
	return anthropic.ContentBlockUnion{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(inputJSON)}
}

func newTestGenerator(fake *fakeMessages) *Generator {
	return &Generator{messages: fake, model: "test-model", maxTokens: 800}
}

func searchRegistry() (*ToolRegistry, *stubTool) {
	tool := &stubTool{name: "search_course_content", result: "search results text"}
	registry := NewToolRegistry()
	registry.Register(tool)
	return registry, tool
}

func TestGenerateResponseDirectAnswerMakesOneCall(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textResponse("This is a direct answer.")}}
	generator := newTestGenerator(fake)
	registry, tool := searchRegistry()

	answer, err := generator.GenerateResponse(context.Background(), "general question", "", registry, 2)
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if answer != "This is a direct answer." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(fake.calls) != 1 {
		t.Errorf("expected exactly one model call, got %d", len(fake.calls))
	}
	if tool.callCount != 0 {
		t.Errorf("no tool should run on the direct path, got %d executions", tool.callCount)
	}
}

func TestGenerateResponseFirstCallAdvertisesTools(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textResponse("ok")}}
	generator := newTestGenerator(fake)
	registry, _ := searchRegistry()

	if _, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if len(fake.calls[0].Tools) != 1 {
		t.Fatalf("expected tool schemas on the first call, got %d", len(fake.calls[0].Tools))
	}
	if fake.calls[0].ToolChoice.OfAuto == nil {
		t.Error("expected automatic tool choice when tools are attached")
	}
}

func TestGenerateResponseWithoutRegistryOmitsTools(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textResponse("ok")}}
	generator := newTestGenerator(fake)

	if _, err := generator.GenerateResponse(context.Background(), "q", "", nil, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if len(fake.calls[0].Tools) != 0 {
		t.Errorf("expected no tool schemas without a registry, got %d", len(fake.calls[0].Tools))
	}
}

func TestGenerateResponseHistoryGoesIntoSystemText(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textResponse("ok")}}
	generator := newTestGenerator(fake)

	history := "User: Hi\nAssistant: Hello"
	if _, err := generator.GenerateResponse(context.Background(), "q", history, nil, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	system := fake.calls[0].System[0].Text
	if !strings.Contains(system, "Previous conversation:") || !strings.Contains(system, history) {
		t.Errorf("expected history in system text, got %q", system)
	}
	if len(fake.calls[0].Messages) != 1 {
		t.Errorf("history must not enter the message list, got %d messages", len(fake.calls[0].Messages))
	}
}

func TestGenerateResponseNoHistoryLeavesSystemPromptBare(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{textResponse("ok")}}
	generator := newTestGenerator(fake)

	if _, err := generator.GenerateResponse(context.Background(), "q", "", nil, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if fake.calls[0].System[0].Text != SystemPrompt {
		t.Error("expected unmodified system prompt without history")
	}
}

func TestGenerateResponseExecutesToolAndSendsResultBack(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(toolUseBlock("tool_123", "search_course_content", `{"query":"MCP basics"}`)),
		textResponse("Based on the course content, here is your answer."),
	}}
	generator := newTestGenerator(fake)
	registry, tool := searchRegistry()

	answer, err := generator.GenerateResponse(context.Background(), "What is MCP?", "", registry, 2)
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if answer != "Based on the course content, here is your answer." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(fake.calls))
	}
	if tool.callCount != 1 {
		t.Fatalf("expected 1 tool execution, got %d", tool.callCount)
	}
	if !strings.Contains(tool.lastInput, "MCP basics") {
		t.Errorf("tool arguments not passed through, got %q", tool.lastInput)
	}

	// Second call carries the original user turn, the assistant tool_use
	// turn, and one user turn with the tool result.
	messages := fake.calls[1].Messages
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages on the second call, got %d", len(messages))
	}

	resultBlock := messages[2].Content[0].OfToolResult
	if resultBlock == nil {
		t.Fatal("expected a tool_result block in the follow-up user message")
	}
	if resultBlock.ToolUseID != "tool_123" {
		t.Errorf("tool_use_id not echoed, got %q", resultBlock.ToolUseID)
	}
	if resultBlock.Content[0].OfText.Text != "search results text" {
		t.Errorf("unexpected tool result content: %q", resultBlock.Content[0].OfText.Text)
	}
}

func TestGenerateResponseMultipleToolUsesInOneRound(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(
			toolUseBlock("tool_1", "search_course_content", `{"query":"first topic"}`),
			toolUseBlock("tool_2", "get_course_outline", `{"course_name":"MCP Course"}`),
		),
		textResponse("final"),
	}}
	generator := newTestGenerator(fake)

	search := &stubTool{name: "search_course_content", result: "search result"}
	outline := &stubTool{name: "get_course_outline", result: "outline result"}
	registry := NewToolRegistry()
	registry.Register(search)
	registry.Register(outline)

	if _, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if search.callCount != 1 || outline.callCount != 1 {
		t.Errorf("expected both tools to run once, got search=%d outline=%d", search.callCount, outline.callCount)
	}

	followUp := fake.calls[1].Messages[2]
	if len(followUp.Content) != 2 {
		t.Fatalf("expected a single user message with 2 tool_result blocks, got %d blocks", len(followUp.Content))
	}
	if followUp.Content[0].OfToolResult.ToolUseID != "tool_1" {
		t.Errorf("first result out of order: %q", followUp.Content[0].OfToolResult.ToolUseID)
	}
	if followUp.Content[1].OfToolResult.ToolUseID != "tool_2" {
		t.Errorf("second result out of order: %q", followUp.Content[1].OfToolResult.ToolUseID)
	}
}

func TestGenerateResponsePreservesInterleavedAssistantText(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(
			anthropic.ContentBlockUnion{Type: "text", Text: "Let me look that up."},
			toolUseBlock("tool_9", "search_course_content", `{"query":"topic"}`),
		),
		textResponse("final"),
	}}
	generator := newTestGenerator(fake)
	registry, _ := searchRegistry()

	if _, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	assistantTurn := fake.calls[1].Messages[1]
	if len(assistantTurn.Content) != 2 {
		t.Fatalf("expected text + tool_use blocks preserved, got %d blocks", len(assistantTurn.Content))
	}
	if assistantTurn.Content[0].OfText == nil || assistantTurn.Content[0].OfText.Text != "Let me look that up." {
		t.Error("interleaved assistant text was not preserved in order")
	}
	if assistantTurn.Content[1].OfToolUse == nil || assistantTurn.Content[1].OfToolUse.ID != "tool_9" {
		t.Error("tool_use block was not preserved after the text block")
	}
}

func TestGenerateResponseRoundLimitOmitsToolsOnFinalCall(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(toolUseBlock("t1", "search_course_content", `{"query":"a"}`)),
		toolUseResponse(toolUseBlock("t2", "search_course_content", `{"query":"b"}`)),
		textResponse("forced final answer"),
	}}
	generator := newTestGenerator(fake)
	registry, tool := searchRegistry()

	answer, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2)
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if answer != "forced final answer" {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(fake.calls) != 3 {
		t.Fatalf("expected maxRounds+1 = 3 calls, got %d", len(fake.calls))
	}
	if tool.callCount != 2 {
		t.Errorf("expected 2 tool executions, got %d", tool.callCount)
	}

	if len(fake.calls[0].Tools) == 0 || len(fake.calls[1].Tools) == 0 {
		t.Error("expected tool schemas while rounds remain")
	}
	if len(fake.calls[2].Tools) != 0 {
		t.Error("final call past the round limit must omit tool schemas")
	}
}

func TestGenerateResponseSingleRoundLimit(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(toolUseBlock("t1", "search_course_content", `{"query":"a"}`)),
		textResponse("answer"),
	}}
	generator := newTestGenerator(fake)
	registry, tool := searchRegistry()

	if _, err := generator.GenerateResponse(context.Background(), "q", "", registry, 1); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 calls with maxRounds=1, got %d", len(fake.calls))
	}
	if len(fake.calls[1].Tools) != 0 {
		t.Error("second call must omit tool schemas with maxRounds=1")
	}
	if tool.callCount != 1 {
		t.Errorf("expected 1 tool execution, got %d", tool.callCount)
	}
}

func TestGenerateResponseToolFailureBecomesResultText(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(toolUseBlock("t1", "failing_tool", `{"query":"a"}`)),
		textResponse("the model explains the failure"),
	}}
	generator := newTestGenerator(fake)

	registry := NewToolRegistry()
	registry.Register(&stubTool{name: "failing_tool", err: errors.New("index unavailable")})

	answer, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2)
	if err != nil {
		t.Fatalf("tool failure must not fail the query, got %v", err)
	}
	if answer != "the model explains the failure" {
		t.Errorf("unexpected answer: %q", answer)
	}

	resultText := fake.calls[1].Messages[2].Content[0].OfToolResult.Content[0].OfText.Text
	if !strings.Contains(resultText, "index unavailable") {
		t.Errorf("expected failure text in tool result, got %q", resultText)
	}
}

func TestGenerateResponseUnknownToolBecomesResultText(t *testing.T) {
	fake := &fakeMessages{responses: []*anthropic.Message{
		toolUseResponse(toolUseBlock("t1", "unregistered_tool", `{}`)),
		textResponse("done"),
	}}
	generator := newTestGenerator(fake)
	registry, _ := searchRegistry()

	if _, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2); err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}

	resultText := fake.calls[1].Messages[2].Content[0].OfToolResult.Content[0].OfText.Text
	if !strings.Contains(resultText, "Tool 'unregistered_tool' not found") {
		t.Errorf("expected not-found text in tool result, got %q", resultText)
	}
}

func TestGenerateResponseTransportErrorIsFatal(t *testing.T) {
	fake := &fakeMessages{err: errors.New("connection refused")}
	generator := newTestGenerator(fake)
	registry, _ := searchRegistry()

	_, err := generator.GenerateResponse(context.Background(), "q", "", registry, 2)
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if !errors.Is(err, ErrLLMTransport) {
		t.Errorf("expected ErrLLMTransport, got %v", err)
	}
	if len(fake.calls) != 1 {
		t.Errorf("transport failures must not be retried, got %d calls", len(fake.calls))
	}
}
