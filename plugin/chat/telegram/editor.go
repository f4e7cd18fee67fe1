package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/ductor/config"
)

// messenger is the outbound surface the stream editors need. Channel
// satisfies it.
type messenger interface {
	sendHTML(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	sendPlain(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	editHTML(ctx context.Context, chatID int64, messageID int, text string) error
	editMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error
}

// StreamEditor receives agent output incrementally and renders it into
// Telegram messages. Errors are absorbed and logged so a flaky edit
// never interrupts the agent run.
type StreamEditor interface {
	// HasContent reports whether at least one message has been sent.
	HasContent() bool
	// AppendText delivers a chunk of assistant text.
	AppendText(ctx context.Context, text string)
	// AppendTool shows a tool-use indicator.
	AppendTool(ctx context.Context, toolName string)
	// AppendSystem shows a system status indicator.
	AppendSystem(ctx context.Context, text string)
	// Finalize flushes pending content and attaches any button
	// keyboard parsed from fullText.
	Finalize(ctx context.Context, fullText string)
}

// NewStreamEditor builds the editor selected by the streaming config:
// append mode sends each chunk as a new message, edit mode keeps one
// message updated in place.
func NewStreamEditor(m messenger, chatID int64, replyTo int, cfg config.StreamingConfig) StreamEditor {
	if cfg.AppendMode {
		return &AppendEditor{m: m, chatID: chatID, replyTo: replyTo}
	}
	interval := time.Duration(cfg.EditIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxFailures := cfg.MaxEditFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &EditEditor{
		m:           m,
		chatID:      chatID,
		replyTo:     replyTo,
		interval:    interval,
		maxFailures: maxFailures,
	}
}

// AppendEditor sends every flushed chunk as a new message. The first
// message replies to the original user message.
type AppendEditor struct {
	m            messenger
	chatID       int64
	replyTo      int
	messagesSent int
	lastMsgID    int
}

var _ StreamEditor = (*AppendEditor)(nil)

func (e *AppendEditor) HasContent() bool { return e.messagesSent > 0 }

func (e *AppendEditor) AppendText(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	formatted := MarkdownToHTML(text)
	for _, chunk := range SplitHTMLMessage(formatted, MessageLimit) {
		e.send(ctx, chunk, text)
	}
}

func (e *AppendEditor) AppendTool(ctx context.Context, toolName string) {
	e.send(ctx, fmt.Sprintf("<b>[TOOL: %s]</b>", html.EscapeString(toolName)), "")
}

func (e *AppendEditor) AppendSystem(ctx context.Context, text string) {
	e.send(ctx, fmt.Sprintf("<i>[%s]</i>", html.EscapeString(text)), "")
}

// Finalize attaches the button keyboard to the last sent message.
func (e *AppendEditor) Finalize(ctx context.Context, fullText string) {
	if e.lastMsgID == 0 {
		return
	}
	_, markup := ExtractButtons(fullText)
	if markup == nil {
		return
	}
	if err := e.m.editMarkup(ctx, e.chatID, e.lastMsgID, *markup); err != nil {
		slog.Warn("failed to attach button keyboard", "chat_id", e.chatID, "error", err)
	}
}

func (e *AppendEditor) send(ctx context.Context, text, rawFallback string) {
	display := clip(text, MessageLimit)
	if strings.TrimSpace(display) == "" {
		return
	}
	replyTo := 0
	if e.messagesSent == 0 {
		replyTo = e.replyTo
	}
	id, err := e.m.sendHTML(ctx, e.chatID, display, replyTo)
	if err != nil {
		fallback := rawFallback
		if fallback == "" {
			fallback = text
		}
		id, err = e.m.sendPlain(ctx, e.chatID, clip(fallback, MessageLimit), replyTo)
		if err != nil {
			slog.Error("failed to send stream chunk even as plain text", "chat_id", e.chatID, "error", err)
			return
		}
	}
	e.lastMsgID = id
	e.messagesSent++
}

// toolEntry is one indicator with a repeat count and display style.
type toolEntry struct {
	name  string
	count int
	style string
}

// toolTracker collapses consecutive identical indicators. Tool and
// system indicators only merge when both name and style match.
type toolTracker struct {
	entries []toolEntry
}

func (t *toolTracker) add(name, style string) {
	if n := len(t.entries); n > 0 && t.entries[n-1].name == name && t.entries[n-1].style == style {
		t.entries[n-1].count++
		return
	}
	t.entries = append(t.entries, toolEntry{name: name, count: 1, style: style})
}

func (t *toolTracker) hasEntries() bool { return len(t.entries) > 0 }

func (t *toolTracker) reset() { t.entries = nil }

func (t *toolTracker) renderHTML() string {
	parts := make([]string, 0, len(t.entries))
	for _, entry := range t.entries {
		escaped := html.EscapeString(entry.name)
		suffix := ""
		if entry.count > 1 {
			suffix = fmt.Sprintf(" x%d", entry.count)
		}
		if entry.style == "system" {
			parts = append(parts, fmt.Sprintf("<i>[%s]%s</i>", escaped, suffix))
		} else {
			parts = append(parts, fmt.Sprintf("<b>[TOOL: %s]%s</b>", escaped, suffix))
		}
	}
	return strings.Join(parts, "\n")
}

// EditEditor keeps a single message edited in place. When content
// exceeds Telegram's limit the current message is sealed and a new one
// is started. After maxFailures consecutive edit errors it degrades to
// append mode.
type EditEditor struct {
	m           messenger
	chatID      int64
	replyTo     int
	interval    time.Duration
	maxFailures int

	mu                  sync.Mutex
	segments            []string
	indicatorIndices    map[int]bool
	rawTextParts        []string
	tracker             toolTracker
	activeMsgID         int
	sealedSegmentIdx    int
	messagesSent        int
	lastEditTime        time.Time
	editTimer           *time.Timer
	consecutiveFailures int
	fallenBack          bool
}

var _ StreamEditor = (*EditEditor)(nil)

func (e *EditEditor) HasContent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messagesSent > 0
}

func (e *EditEditor) AppendText(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	e.mu.Lock()
	if e.fallenBack {
		e.mu.Unlock()
		e.sendNew(ctx, MarkdownToHTML(text))
		return
	}
	// Transition tool -> text seals the indicator block.
	e.flushToolSegment()
	e.rawTextParts = append(e.rawTextParts, text)
	e.scheduleEditLocked(ctx)
	e.mu.Unlock()
}

func (e *EditEditor) AppendTool(ctx context.Context, toolName string) {
	e.mu.Lock()
	if e.fallenBack {
		e.mu.Unlock()
		e.sendNew(ctx, fmt.Sprintf("<b>[TOOL: %s]</b>", html.EscapeString(toolName)))
		return
	}
	e.flushTextSegment()
	e.tracker.add(toolName, "tool")
	e.scheduleEditLocked(ctx)
	e.mu.Unlock()
}

func (e *EditEditor) AppendSystem(ctx context.Context, text string) {
	e.mu.Lock()
	if e.fallenBack {
		e.mu.Unlock()
		e.sendNew(ctx, fmt.Sprintf("<i>[%s]</i>", html.EscapeString(text)))
		return
	}
	e.flushTextSegment()
	e.tracker.add(text, "system")
	e.scheduleEditLocked(ctx)
	e.mu.Unlock()
}

// Finalize forces a final edit with indicators stripped, then attaches
// the button keyboard.
func (e *EditEditor) Finalize(ctx context.Context, fullText string) {
	e.mu.Lock()
	e.cancelTimerLocked()
	if e.fallenBack {
		e.mu.Unlock()
		return
	}
	e.flushTextSegment()
	e.tracker.reset()
	e.stripActiveIndicators()
	e.doEditLocked(ctx)
	activeID := e.activeMsgID
	e.mu.Unlock()

	if activeID == 0 {
		return
	}
	_, markup := ExtractButtons(fullText)
	if markup == nil {
		return
	}
	if err := e.m.editMarkup(ctx, e.chatID, activeID, *markup); err != nil {
		slog.Warn("failed to attach button keyboard", "chat_id", e.chatID, "error", err)
	}
}

func (e *EditEditor) flushTextSegment() {
	if len(e.rawTextParts) == 0 {
		return
	}
	raw := strings.Join(e.rawTextParts, "")
	e.rawTextParts = nil
	if strings.TrimSpace(raw) != "" {
		e.segments = append(e.segments, MarkdownToHTML(raw))
	}
}

func (e *EditEditor) flushToolSegment() {
	if !e.tracker.hasEntries() {
		return
	}
	if e.indicatorIndices == nil {
		e.indicatorIndices = make(map[int]bool)
	}
	e.indicatorIndices[len(e.segments)] = true
	e.segments = append(e.segments, e.tracker.renderHTML())
	e.tracker.reset()
}

// stripActiveIndicators removes indicator segments from the un-sealed
// portion so the final message reads clean.
func (e *EditEditor) stripActiveIndicators() {
	cleaned := e.segments[:e.sealedSegmentIdx:e.sealedSegmentIdx]
	for i := e.sealedSegmentIdx; i < len(e.segments); i++ {
		if !e.indicatorIndices[i] {
			cleaned = append(cleaned, e.segments[i])
		}
	}
	e.segments = cleaned
	e.indicatorIndices = nil
}

func (e *EditEditor) renderActiveHTML() string {
	parts := append([]string(nil), e.segments[e.sealedSegmentIdx:]...)
	if len(e.rawTextParts) > 0 {
		raw := strings.Join(e.rawTextParts, "")
		if strings.TrimSpace(raw) != "" {
			parts = append(parts, MarkdownToHTML(raw))
		}
	}
	if e.tracker.hasEntries() {
		parts = append(parts, e.tracker.renderHTML())
	}
	var kept []string
	for _, seg := range parts {
		if strings.TrimSpace(seg) != "" {
			kept = append(kept, seg)
		}
	}
	return strings.Join(kept, "\n\n")
}

// scheduleEditLocked edits immediately when the interval has passed,
// otherwise arms a one-shot timer for the remainder.
func (e *EditEditor) scheduleEditLocked(ctx context.Context) {
	elapsed := time.Since(e.lastEditTime)
	if elapsed >= e.interval {
		e.doEditLocked(ctx)
		return
	}
	if e.editTimer != nil {
		return
	}
	e.editTimer = time.AfterFunc(e.interval-elapsed, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.editTimer = nil
		e.doEditLocked(context.Background())
	})
}

func (e *EditEditor) cancelTimerLocked() {
	if e.editTimer != nil {
		e.editTimer.Stop()
		e.editTimer = nil
	}
}

func (e *EditEditor) doEditLocked(ctx context.Context) {
	fullHTML := e.renderActiveHTML()
	if strings.TrimSpace(fullHTML) == "" {
		return
	}

	chunks := SplitHTMLMessage(fullHTML, MessageLimit)
	if len(chunks) > 1 {
		e.handleOverflowLocked(ctx, chunks)
		return
	}

	if e.activeMsgID == 0 {
		e.createMessageLocked(ctx, chunks[0])
	} else {
		e.editMessageLocked(ctx, chunks[0])
	}
	e.lastEditTime = time.Now()
}

// handleOverflowLocked seals the current message with the first chunk
// and continues in a new one. Pending text is flushed so the sealed
// portion is never rendered again; the continuation chunk becomes the
// live segment of the new message.
func (e *EditEditor) handleOverflowLocked(ctx context.Context, chunks []string) {
	e.flushTextSegment()
	e.flushToolSegment()

	if e.activeMsgID != 0 {
		e.editMessageLocked(ctx, chunks[0])
	} else {
		e.createMessageLocked(ctx, chunks[0])
	}

	slog.Debug("message sealed, starting new segment", "chat_id", e.chatID)
	e.activeMsgID = 0
	e.sealedSegmentIdx = len(e.segments)

	remaining := strings.Join(chunks[1:], "\n\n")
	if strings.TrimSpace(remaining) != "" {
		e.createMessageLocked(ctx, remaining)
		e.segments = append(e.segments, remaining)
	}
	e.lastEditTime = time.Now()
}

func (e *EditEditor) createMessageLocked(ctx context.Context, text string) {
	display := clip(text, MessageLimit)
	if strings.TrimSpace(display) == "" {
		return
	}
	replyTo := 0
	if e.messagesSent == 0 {
		replyTo = e.replyTo
	}
	id, err := e.m.sendHTML(ctx, e.chatID, display, replyTo)
	if err != nil {
		slog.Warn("html create failed, falling back to plain text", "chat_id", e.chatID, "error", err)
		id, err = e.m.sendPlain(ctx, e.chatID, display, replyTo)
		if err != nil {
			slog.Error("failed to send even as plain text", "chat_id", e.chatID, "error", err)
			return
		}
	}
	e.activeMsgID = id
	e.messagesSent++
	slog.Debug("stream message created", "chat_id", e.chatID, "msg_id", id)
}

func (e *EditEditor) editMessageLocked(ctx context.Context, text string) {
	if e.activeMsgID == 0 {
		return
	}
	display := clip(text, MessageLimit)
	err := e.m.editHTML(ctx, e.chatID, e.activeMsgID, display)
	if err == nil {
		e.consecutiveFailures = 0
		return
	}
	if isNotModified(err) {
		return
	}
	if backoff, ok := retryAfter(err); ok {
		time.Sleep(backoff)
		if err := e.m.editHTML(ctx, e.chatID, e.activeMsgID, display); err != nil {
			slog.Warn("edit retry after rate-limit also failed", "chat_id", e.chatID, "error", err)
		} else {
			e.consecutiveFailures = 0
		}
		return
	}
	e.consecutiveFailures++
	slog.Warn("stream edit failed",
		"chat_id", e.chatID,
		"failures", e.consecutiveFailures,
		"max", e.maxFailures,
		"error", err)
	if e.consecutiveFailures >= e.maxFailures {
		slog.Warn("too many edit failures, falling back to append mode", "chat_id", e.chatID)
		e.fallenBack = true
	}
}

// sendNew delivers content as fresh messages once the editor has
// degraded to append mode.
func (e *EditEditor) sendNew(ctx context.Context, formatted string) {
	for _, chunk := range SplitHTMLMessage(formatted, MessageLimit) {
		display := clip(chunk, MessageLimit)
		if strings.TrimSpace(display) == "" {
			continue
		}
		if _, err := e.m.sendHTML(ctx, e.chatID, display, 0); err != nil {
			if _, err := e.m.sendPlain(ctx, e.chatID, display, 0); err != nil {
				slog.Error("append fallback send failed", "chat_id", e.chatID, "error", err)
				continue
			}
		}
		e.mu.Lock()
		e.messagesSent++
		e.mu.Unlock()
	}
}

func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
