package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messageCreator is the slice of the Anthropic client the generator needs;
// tests substitute a scripted fake.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Generator drives the model calls needed to answer one query, letting the
// model request tool use for a bounded number of rounds before forcing a
// final text answer.
type Generator struct {
	messages  messageCreator
	model     anthropic.Model
	maxTokens int64
}

func NewGenerator(apiKey, model string) *Generator {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Generator{
		messages:  &client.Messages,
		model:     anthropic.Model(model),
		maxTokens: 800,
	}
}

type toolUseRequest struct {
	id    string
	name  string
	input string
}

// GenerateResponse runs the multi-round tool protocol. Tool schemas are
// attached only while the round counter is below maxRounds; the call after
// the limit omits them, which forces a plain text answer. Every tool_use
// block of a response is executed, in order, before the next call, and the
// results travel back in a single user message with ids echoed verbatim.
func (g *Generator) GenerateResponse(ctx context.Context, query, conversationHistory string, registry *ToolRegistry, maxRounds int) (string, error) {
	system := SystemPrompt
	if conversationHistory != "" {
		system = fmt.Sprintf("%s\n\nPrevious conversation:\n%s", SystemPrompt, conversationHistory)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
	}

	var toolSpecs []anthropic.ToolUnionParam
	if registry != nil {
		toolSpecs = registry.Definitions()
	}

	for round := 0; ; round++ {
		includeTools := len(toolSpecs) > 0 && round < maxRounds

		params := anthropic.MessageNewParams{
			Model:       g.model,
			MaxTokens:   g.maxTokens,
			Temperature: anthropic.Float(0),
			System:      []anthropic.TextBlockParam{{Text: system}},
			Messages:    messages,
		}
		if includeTools {
			params.Tools = toolSpecs
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAuto: &anthropic.ToolChoiceAutoParam{},
			}
		}

		response, err := g.messages.New(ctx, params)
		if err != nil {
			log.Printf("[ERROR] Failed to call Anthropic API: %v", err)
			return "", fmt.Errorf("%w: %v", ErrLLMTransport, err)
		}

		toolUses := collectToolUses(response)
		if !includeTools || response.StopReason != "tool_use" || len(toolUses) == 0 {
			return firstText(response), nil
		}

		// Carry the assistant turn forward exactly as produced, then answer
		// each tool_use with one tool_result in the same order.
		messages = append(messages, assistantMessageFromResponse(response))

		resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, request := range toolUses {
			log.Printf("[INFO] Executing tool %s (round %d)", request.name, round+1)
			result := registry.Execute(ctx, request.name, request.input)

			resultBlocks = append(resultBlocks, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: request.id,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: result}},
					},
				},
			})
		}
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}
}

func collectToolUses(response *anthropic.Message) []toolUseRequest {
	var requests []toolUseRequest
	for _, block := range response.Content {
		if block.Type != "tool_use" {
			continue
		}

		inputJSON, err := json.Marshal(block.Input)
		if err != nil {
			log.Printf("[ERROR] Failed to marshal tool input for %s: %v", block.Name, err)
			inputJSON = []byte("{}")
		}

		requests = append(requests, toolUseRequest{
			id:    block.ID,
			name:  block.Name,
			input: string(inputJSON),
		})
	}
	return requests
}

func assistantMessageFromResponse(response *anthropic.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(response.Content))

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: block.Text},
				})
			}
		case "tool_use":
			inputJSON, _ := json.Marshal(block.Input)
			var inputMap map[string]interface{}
			json.Unmarshal(inputJSON, &inputMap)

			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    block.ID,
					Name:  block.Name,
					Input: inputMap,
				},
			})
		}
	}

	return anthropic.NewAssistantMessage(blocks...)
}

func firstText(response *anthropic.Message) string {
	for _, block := range response.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
