package agent

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// codexToolMap translates codex item types to the tool names claude
// reports, so downstream indicators look the same for both providers.
var codexToolMap = map[string]string{
	"command_execution": "Bash",
	"file_change":       "Edit",
	"web_search":        "WebSearch",
	"todo_list":         "TodoWrite",
}

type codexLine struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Usage    *Usage          `json:"usage"`
	Error    *codexError     `json:"error"`
	Item     *codexItem      `json:"item"`
	Role     string          `json:"role"`
	Content  json.RawMessage `json:"content"`
	Text     string          `json:"text"`
}

type codexError struct {
	Message string `json:"message"`
}

type codexItem struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Name     string `json:"name"`
	ToolName string `json:"tool_name"`
}

// ParseCodexStreamLine converts one codex --json line into normalised
// events. Unparseable lines are skipped with a warning.
func ParseCodexStreamLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	var c codexLine
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		slog.Warn("codex line unparseable", "prefix", head(trimmed, 100))
		return nil
	}

	switch c.Type {
	case "thread.started":
		return []Event{{Kind: EventSystemInit, SessionID: c.ThreadID}}
	case "turn.completed":
		payload := &ResultPayload{}
		if c.Usage != nil {
			payload.Usage = *c.Usage
		}
		return []Event{{Kind: EventResult, Result: payload}}
	case "turn.failed":
		msg := ""
		if c.Error != nil {
			msg = c.Error.Message
		}
		return []Event{{Kind: EventResult, Result: &ResultPayload{Result: msg, IsError: true}}}
	case "item.started", "item.updated", "item.completed":
		return parseCodexItem(c.Type, c.Item)
	}
	return nil
}

// parseCodexItem emits agent_message text only on item.completed so the
// same message is not surfaced three times, and tool indicators only on
// item.started so they appear immediately.
func parseCodexItem(eventType string, item *codexItem) []Event {
	if item == nil {
		return nil
	}
	switch item.Type {
	case "agent_message":
		if eventType != "item.completed" || item.Text == "" {
			return nil
		}
		return []Event{{Kind: EventAssistantText, Text: item.Text}}
	case "reasoning":
		return []Event{{Kind: EventThinking, Text: item.Text}}
	}
	if eventType != "item.started" {
		return nil
	}
	if item.Type == "mcp_tool_call" {
		name := item.Name
		if name == "" {
			name = item.ToolName
		}
		if name == "" {
			name = "MCP"
		}
		return []Event{{Kind: EventToolUse, ToolName: name}}
	}
	if tool, ok := codexToolMap[item.Type]; ok {
		return []Event{{Kind: EventToolUse, ToolName: tool}}
	}
	return nil
}

// ParseCodexJSONL extracts the final result text, thread id and usage
// from a complete codex --json transcript (non-streaming mode).
func ParseCodexJSONL(output string) (result string, threadID string, usage Usage) {
	var parts []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var c codexLine
		if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
			continue
		}

		if threadID == "" && c.ThreadID != "" {
			threadID = c.ThreadID
		}
		if c.Usage != nil {
			usage = *c.Usage
		}

		switch c.Type {
		case "item.started", "item.updated":
			if c.Item != nil {
				if _, isTool := codexToolMap[c.Item.Type]; isTool || c.Item.Type == "mcp_tool_call" {
					// A tool ran after earlier text, so that text was
					// interim narration rather than the final answer.
					parts = parts[:0]
				}
			}
		case "item.completed":
			if c.Item != nil && c.Item.Type == "agent_message" && c.Item.Text != "" {
				parts = append(parts, c.Item.Text)
			}
		default:
			if c.Role == "assistant" {
				parts = appendContentText(parts, c.Content)
			} else if c.Type == "" && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, "\n"), threadID, usage
}

func appendContentText(parts []string, raw json.RawMessage) []string {
	if len(raw) == 0 {
		return parts
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return parts
	}
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return parts
}

// ThinkingFilter suppresses interim agent text that precedes tool
// calls. Text deltas are buffered; a tool event discards the buffer,
// any other non-thinking event flushes it first.
type ThinkingFilter struct {
	buffered []Event
}

// Process handles one event and returns the events to emit.
func (f *ThinkingFilter) Process(ev Event) []Event {
	switch ev.Kind {
	case EventAssistantText:
		f.buffered = append(f.buffered, ev)
		return nil
	case EventToolUse:
		f.buffered = f.buffered[:0]
		return []Event{ev}
	case EventThinking:
		return []Event{ev}
	}
	out := append([]Event{}, f.buffered...)
	f.buffered = f.buffered[:0]
	return append(out, ev)
}

// Flush returns any text still buffered at stream end.
func (f *ThinkingFilter) Flush() []Event {
	out := f.buffered
	f.buffered = nil
	return out
}
