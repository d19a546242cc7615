package provider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// Anthropic adapts the Anthropic Messages streaming API onto Provider.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds an adapter authenticated with apiKey.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Stream(ctx context.Context, env PromptEnvelope, modelID string) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 32)
	errs := make(chan error, 1)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: int64(maxTokensOrDefault(env.MaxTokens)),
		System:    anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(env.SystemPrompt)}),
		Messages:  anthropic.F(toAnthropicMessages(env.Messages)),
	}
	if len(env.Tools) > 0 {
		params.Tools = anthropic.F(toAnthropicTools(env.Tools))
	}

	go func() {
		defer close(deltas)
		defer close(errs)

		stream := a.client.Messages.NewStreaming(ctx, params)
		var message anthropic.Message
		toolArgBuf := map[string]string{}

		for stream.Next() {
			event := stream.Current()
			_ = message.Accumulate(event)

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if toolUse, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolArgBuf[toolUse.ID] = ""
					deltas <- Delta{Kind: DeltaToolStart, ToolCallID: toolUse.ID, ToolName: toolUse.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					deltas <- Delta{Kind: DeltaText, Text: d.Text}
				case anthropic.ThinkingDelta:
					deltas <- Delta{Kind: DeltaThinking, Text: d.Thinking}
				case anthropic.InputJSONDelta:
					// The active tool call is whichever content block index
					// most recently opened; anthropic streams one block at a
					// time so the last-opened id is always the right target.
					for id := range toolArgBuf {
						deltas <- Delta{Kind: DeltaToolArgs, ToolCallID: id, ArgsFragment: d.PartialJSON}
					}
				}
			case anthropic.ContentBlockStopEvent:
				for id := range toolArgBuf {
					deltas <- Delta{Kind: DeltaToolEnd, ToolCallID: id}
					delete(toolArgBuf, id)
				}
			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					deltas <- Delta{Kind: DeltaStop, StopReason: string(ev.Delta.StopReason)}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- engineerr.ProviderErr("anthropic stream", false, err)
			return
		}
		deltas <- Delta{Kind: DeltaUsage, Usage: Usage{
			InputTokens:       int64(message.Usage.InputTokens),
			OutputTokens:      int64(message.Usage.OutputTokens),
			CacheReadTokens:   int64(message.Usage.CacheReadInputTokens),
			CacheCreateTokens: int64(message.Usage.CacheCreationInputTokens),
		}}
	}()
	return deltas, errs
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func toAnthropicMessages(messages []model.ReconstructedMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case model.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case model.BlockToolUse:
				var input map[string]any
				_ = json.Unmarshal(b.Args, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case model.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ResultText, b.IsError))
			}
		}
		if m.Role == "user" {
			out = append(out, anthropic.NewUserMessage(blocks...))
		} else {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}, t.Name))
	}
	return out
}
