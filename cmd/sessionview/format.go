package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kilnlabs/sessiond/internal/model"
)

const defaultMaxContentSize = 50 * 1024

// formatEvent writes one styled timeline entry, mirroring the teacher
// replay tool's per-event-type switch.
func formatEvent(w io.Writer, seq int, evt *model.Event, verbose bool) {
	fmt.Fprintf(w, "%s %s %s\n",
		seqStyle.Render(fmt.Sprintf("%d", seq)),
		dimStyle.Render(evt.Timestamp.Format("15:04:05.000")),
		labelStyle.Render(string(evt.Type)),
	)

	switch evt.Type {
	case model.EventSessionStart:
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("session root"))

	case model.EventSessionFork:
		var p model.ForkPayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("forked from:"), valueStyle.Render(p.ParentSessionID))

	case model.EventMessageUser:
		var p model.UserMessagePayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s\n", userStyle.Render(truncate(p.Content, verbose)))
		if len(p.Attachments) > 0 {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("attachments:"), valueStyle.Render(strings.Join(p.Attachments, ", ")))
		}

	case model.EventMessageAssistant:
		var p model.AssistantMessagePayload
		_ = evt.Decode(&p)
		formatContentBlocks(w, p.Content, verbose)
		if evt.Model != "" {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(fmt.Sprintf("model=%s in=%d out=%d cost=$%.4f latency=%dms",
				evt.Model, evt.TokensIn, evt.TokensOut, evt.Cost, evt.LatencyMs)))
		}

	case model.EventMessageDeleted:
		var p model.DeletionPayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s %s %s\n", warnStyle.Render("deleted"), valueStyle.Render(p.TargetEventID), dimStyle.Render(p.Reason))

	case model.EventToolCall:
		var p model.ToolCallPayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s %s\n", toolCallStyle.Render(p.Name), dimStyle.Render(p.ToolCallID))
		if verbose && len(p.Args) > 0 {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(truncate(formatJSON(p.Args), verbose)))
		}

	case model.EventToolResult:
		var p model.ToolResultPayload
		_ = evt.Decode(&p)
		style := toolResultStyle
		if p.IsError {
			style = errorStyle
		}
		fmt.Fprintf(w, "  %s\n", style.Render(truncate(p.Content, verbose)))

	case model.EventContextCompaction:
		var p model.CompactionPayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s %s\n", contextStyle.Render("compacted through"), valueStyle.Render(p.ReplacedUpToID))
		if verbose {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(truncate(p.Summary, verbose)))
		}

	case model.EventContextCleared:
		fmt.Fprintf(w, "  %s\n", contextStyle.Render("context cleared"))

	case model.EventAgentTurn:
		var p model.TurnPayload
		_ = evt.Decode(&p)
		fmt.Fprintf(w, "  %s %s\n", warnStyle.Render(p.Status), dimStyle.Render(p.Reason))

	case model.EventAgentTurnComplete:
		fmt.Fprintf(w, "  %s\n", successStyle.Render("turn complete"))

	default:
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(string(evt.Payload)))
	}

	fmt.Fprintln(w)
}

func formatContentBlocks(w io.Writer, blocks []model.ContentBlock, verbose bool) {
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			fmt.Fprintf(w, "  %s\n", assistantStyle.Render(truncate(b.Text, verbose)))
		case model.BlockThinking:
			if verbose {
				fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("thinking:"), dimStyle.Render(truncate(b.Text, verbose)))
			}
		case model.BlockToolUse:
			fmt.Fprintf(w, "  %s %s\n", toolCallStyle.Render(b.ToolName), dimStyle.Render(b.ToolUseID))
			if verbose && len(b.Args) > 0 {
				fmt.Fprintf(w, "  %s\n", dimStyle.Render(truncate(formatJSON(b.Args), verbose)))
			}
		case model.BlockToolResult:
			style := toolResultStyle
			if b.IsError {
				style = errorStyle
			}
			fmt.Fprintf(w, "  %s\n", style.Render(truncate(b.ResultText, verbose)))
		}
	}
}

func truncate(s string, verbose bool) string {
	s = strings.TrimRight(s, "\n")
	if verbose || len(s) <= 500 {
		if len(s) > defaultMaxContentSize {
			return s[:defaultMaxContentSize] + "... [truncated]"
		}
		return s
	}
	return s[:500] + "... [truncated, use -v]"
}

// formatJSON pretty-prints raw JSON for verbose inspection, falling back to
// the raw string if it doesn't parse.
func formatJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
