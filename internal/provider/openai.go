package provider

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// OpenAI adapts the Chat Completions streaming API onto Provider.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds an adapter authenticated with apiKey.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Stream(ctx context.Context, env PromptEnvelope, modelID string) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 32)
	errs := make(chan error, 1)

	messages := toOpenAIMessages(env.SystemPrompt, env.Messages)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: messages,
	}
	if len(env.Tools) > 0 {
		params.Tools = toOpenAITools(env.Tools)
	}

	go func() {
		defer close(deltas)
		defer close(errs)

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		toolNames := map[int64]string{}
		toolIDs := map[int64]string{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				deltas <- Delta{Kind: DeltaText, Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := tc.Index
				if tc.ID != "" {
					toolIDs[idx] = tc.ID
					toolNames[idx] = tc.Function.Name
					deltas <- Delta{Kind: DeltaToolStart, ToolCallID: tc.ID, ToolName: tc.Function.Name}
				}
				if tc.Function.Arguments != "" {
					deltas <- Delta{Kind: DeltaToolArgs, ToolCallID: toolIDs[idx], ArgsFragment: tc.Function.Arguments}
				}
			}
			if choice.FinishReason != "" {
				for idx, id := range toolIDs {
					deltas <- Delta{Kind: DeltaToolEnd, ToolCallID: id}
					delete(toolIDs, idx)
				}
				deltas <- Delta{Kind: DeltaStop, StopReason: string(choice.FinishReason)}
			}
			if chunk.Usage.TotalTokens > 0 {
				deltas <- Delta{Kind: DeltaUsage, Usage: Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- engineerr.ProviderErr("openai stream", false, err)
		}
	}()
	return deltas, errs
}

func toOpenAIMessages(systemPrompt string, messages []model.ReconstructedMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		text := concatText(m.Content)
		if m.Role == "user" {
			out = append(out, openai.UserMessage(text))
		} else {
			out = append(out, openai.AssistantMessage(text))
		}
	}
	return out
}

func concatText(blocks []model.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == model.BlockText {
			out += b.Text
		}
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
			},
		})
	}
	return out
}
