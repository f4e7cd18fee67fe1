package agent

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// EventKind identifies a normalised stream event.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text"
	EventThinking      EventKind = "thinking"
	EventToolUse       EventKind = "tool_use"
	EventSystemInit    EventKind = "system_init"
	EventSystemStatus  EventKind = "system_status"
	EventCompactBounds EventKind = "compact_boundary"
	EventResult        EventKind = "result"
)

// Event is one normalised stream event. Which fields are meaningful
// depends on Kind; Result is non-nil only for EventResult.
type Event struct {
	Kind      EventKind
	Text      string
	ToolName  string
	Status    string
	SessionID string
	Trigger   string
	PreTokens int
	Result    *ResultPayload
}

// ResultPayload carries the terminal result of a streamed run.
type ResultPayload struct {
	SessionID    string
	Result       string
	IsError      bool
	ReturnCode   int
	DurationMS   int64
	NumTurns     int
	TotalCostUSD float64
	Usage        Usage
}

// wireLine mirrors the claude stream-json NDJSON envelope.
type wireLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	SessionID    string           `json:"session_id"`
	Result       string           `json:"result"`
	IsError      bool             `json:"is_error"`
	DurationMS   int64            `json:"duration_ms"`
	NumTurns     int              `json:"num_turns"`
	TotalCostUSD float64          `json:"total_cost_usd"`
	Usage        Usage            `json:"usage"`
	Status       string           `json:"status"`
	Message      *wireMessage     `json:"message"`
	CompactMeta  *wireCompactMeta `json:"compact_metadata"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Name     string `json:"name"`
	Thinking string `json:"thinking"`
}

type wireCompactMeta struct {
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"pre_tokens"`
}

// ParseStreamLine converts one claude stream-json line into zero or
// more events. Unparseable lines are skipped.
func ParseStreamLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	var w wireLine
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		slog.Debug("stream line unparseable", "prefix", head(trimmed, 100))
		return nil
	}

	switch w.Type {
	case "result":
		return []Event{{Kind: EventResult, Result: &ResultPayload{
			SessionID:    w.SessionID,
			Result:       w.Result,
			IsError:      w.IsError,
			DurationMS:   w.DurationMS,
			NumTurns:     w.NumTurns,
			TotalCostUSD: w.TotalCostUSD,
			Usage:        w.Usage,
		}}}
	case "assistant":
		if w.Message == nil {
			return nil
		}
		var events []Event
		for _, block := range w.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, Event{Kind: EventAssistantText, Text: block.Text})
				}
			case "tool_use":
				if block.Name != "" {
					events = append(events, Event{Kind: EventToolUse, ToolName: block.Name})
				}
			case "thinking":
				events = append(events, Event{Kind: EventThinking, Text: block.Thinking})
			}
		}
		return events
	case "system":
		switch w.Subtype {
		case "init":
			return []Event{{Kind: EventSystemInit, SessionID: w.SessionID}}
		case "status":
			return []Event{{Kind: EventSystemStatus, Status: w.Status}}
		case "compact_boundary":
			ev := Event{Kind: EventCompactBounds}
			if w.CompactMeta != nil {
				ev.Trigger = w.CompactMeta.Trigger
				ev.PreTokens = w.CompactMeta.PreTokens
			}
			return []Event{ev}
		}
	}
	return nil
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
