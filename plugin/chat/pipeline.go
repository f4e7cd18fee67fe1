package chat

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// MQPrefix is the callback-data prefix for queue cancel buttons.
const MQPrefix = "mq:"

// quickCommands bypass the per-chat lock; they are read-only.
var quickCommands = map[string]bool{
	"/status":    true,
	"/memory":    true,
	"/cron":      true,
	"/diagnose":  true,
	"/model":     true,
	"/showfiles": true,
}

// IsQuickCommand matches bare commands and commands with arguments.
func IsQuickCommand(text string) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return false
	}
	return quickCommands[strings.ToLower(fields[0])]
}

const maxLocks = 1000

const (
	queuedIndicator    = "<i>[Message in queue...]</i>"
	cancelledIndicator = "<i>[Message cancelled.]</i>"
	discardedIndicator = "<i>[Message discarded.]</i>"
)

// queueEntry is a message waiting behind the per-chat lock.
type queueEntry struct {
	id          int64
	chatID      int64
	messageID   int
	textPreview string
	cancelled   bool
	indicatorID int
}

// Pipeline serialises message handling per chat. Messages arriving
// while the lock is held get a visible queue indicator with a cancel
// button; abort triggers and quick commands run before the lock.
type Pipeline struct {
	mu           sync.Mutex
	locks        map[int64]*chatLock
	pending      map[int64][]*queueEntry
	entryCounter int64

	dedupe    *DedupeCache
	transport Transport
	onAbort   Interceptor
	onQuick   Interceptor
	onDepth   func(int)
}

type chatLock struct {
	sync.Mutex
	held bool
}

func (l *chatLock) acquire() {
	l.Lock()
	l.held = true
}

func (l *chatLock) release() {
	l.held = false
	l.Unlock()
}

// NewPipeline builds a pipeline over the given transport.
func NewPipeline(transport Transport) *Pipeline {
	return &Pipeline{
		locks:     make(map[int64]*chatLock),
		pending:   make(map[int64][]*queueEntry),
		dedupe:    NewDedupeCache(0, 0),
		transport: transport,
	}
}

// SetAbortHandler registers the pre-lock abort interceptor.
func (p *Pipeline) SetAbortHandler(fn Interceptor) { p.onAbort = fn }

// SetQuickCommandHandler registers the pre-lock quick-command interceptor.
func (p *Pipeline) SetQuickCommandHandler(fn Interceptor) { p.onQuick = fn }

// SetDepthObserver registers a callback fired with the total queued
// message count whenever the queue changes.
func (p *Pipeline) SetDepthObserver(fn func(int)) { p.onDepth = fn }

func (p *Pipeline) reportDepth() {
	if p.onDepth == nil {
		return
	}
	p.mu.Lock()
	total := 0
	for _, entries := range p.pending {
		total += len(entries)
	}
	p.mu.Unlock()
	p.onDepth(total)
}

// lock returns the per-chat lock, evicting idle locks when the map
// grows past its cap.
func (p *Pipeline) lock(chatID int64) *chatLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[chatID]; ok {
		return l
	}
	if len(p.locks) >= maxLocks {
		var idle []int64
		for id, l := range p.locks {
			if !l.held {
				idle = append(idle, id)
			}
		}
		for _, id := range idle[:len(idle)/2] {
			delete(p.locks, id)
		}
	}
	l := &chatLock{}
	p.locks[chatID] = l
	return l
}

// HasPending reports whether the chat has queued messages.
func (p *Pipeline) HasPending(chatID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending[chatID]) > 0
}

// IsBusy reports whether the chat holds the lock or has a queue.
func (p *Pipeline) IsBusy(chatID int64) bool {
	p.mu.Lock()
	l := p.locks[chatID]
	busy := l != nil && l.held
	if !busy {
		busy = len(p.pending[chatID]) > 0
	}
	p.mu.Unlock()
	return busy
}

// CancelEntry cancels one queued message and edits its indicator in
// place. Returns true when the entry was found and not yet cancelled.
func (p *Pipeline) CancelEntry(ctx context.Context, chatID, entryID int64) bool {
	p.mu.Lock()
	var target *queueEntry
	for _, e := range p.pending[chatID] {
		if e.id == entryID && !e.cancelled {
			e.cancelled = true
			target = e
			break
		}
	}
	p.mu.Unlock()
	if target == nil {
		return false
	}
	p.editIndicator(ctx, chatID, target, cancelledIndicator)
	slog.Info("queue entry cancelled", "chat", chatID, "entry", entryID)
	return true
}

// DrainPending cancels every queued message for the chat, editing each
// indicator. Returns the number discarded.
func (p *Pipeline) DrainPending(ctx context.Context, chatID int64) int {
	p.mu.Lock()
	var drained []*queueEntry
	for _, e := range p.pending[chatID] {
		if !e.cancelled {
			e.cancelled = true
			drained = append(drained, e)
		}
	}
	p.mu.Unlock()
	for _, e := range drained {
		p.editIndicator(ctx, chatID, e, discardedIndicator)
	}
	slog.Info("queue drained", "chat", chatID, "discarded", len(drained))
	return len(drained)
}

// WithChatLock runs fn while holding the chat's lock. Used by webhook
// wake dispatch to queue behind active conversations.
func (p *Pipeline) WithChatLock(chatID int64, fn func()) {
	l := p.lock(chatID)
	l.acquire()
	defer l.release()
	fn()
}

// Handle runs one message through the pipeline and, once the chat lock
// is held, hands it to next. Order: abort, quick command, dedupe, lock.
func (p *Pipeline) Handle(ctx context.Context, msg Message, next Handler) error {
	text := strings.TrimSpace(msg.Text)

	if p.onAbort != nil && text != "" && IsAbortMessage(text) {
		slog.Debug("abort trigger detected", "text", head(text, 40))
		if p.onAbort(ctx, msg) {
			p.DrainPending(ctx, msg.ChatID)
			return nil
		}
	}

	if p.onQuick != nil && text != "" && IsQuickCommand(text) {
		slog.Debug("quick command bypass", "cmd", text)
		if p.onQuick(ctx, msg) {
			return nil
		}
	}

	if p.dedupe.Check(DedupeKey(msg.ChatID, msg.MessageID)) {
		slog.Debug("message deduplicated", "msg_id", msg.MessageID)
		return nil
	}

	l := p.lock(msg.ChatID)
	var entry *queueEntry
	if !l.TryLock() {
		entry = p.enqueue(ctx, msg)
		l.Lock()
	}
	l.held = true
	defer l.release()

	if entry != nil {
		cancelled := p.removeEntry(msg.ChatID, entry)
		p.deleteIndicator(ctx, msg.ChatID, entry)
		if cancelled {
			return nil
		}
	}
	return next(ctx, msg)
}

func (p *Pipeline) enqueue(ctx context.Context, msg Message) *queueEntry {
	p.mu.Lock()
	p.entryCounter++
	entry := &queueEntry{
		id:          p.entryCounter,
		chatID:      msg.ChatID,
		messageID:   msg.MessageID,
		textPreview: head(msg.Text, 40),
	}
	p.pending[msg.ChatID] = append(p.pending[msg.ChatID], entry)
	p.mu.Unlock()
	p.reportDepth()
	p.sendIndicator(ctx, msg, entry)
	return entry
}

// removeEntry detaches the entry from the queue and reports whether it
// was cancelled while waiting.
func (p *Pipeline) removeEntry(chatID int64, entry *queueEntry) bool {
	p.mu.Lock()
	entries := p.pending[chatID]
	for i, e := range entries {
		if e == entry {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(p.pending, chatID)
	} else {
		p.pending[chatID] = entries
	}
	cancelled := entry.cancelled
	p.mu.Unlock()
	p.reportDepth()
	return cancelled
}

func (p *Pipeline) sendIndicator(ctx context.Context, msg Message, entry *queueEntry) {
	if p.transport == nil {
		return
	}
	callback := MQPrefix + formatEntryID(entry.id)
	id, err := p.transport.SendWithCancel(ctx, msg.ChatID, queuedIndicator, callback, msg.MessageID)
	if err != nil {
		slog.Debug("failed to send queue indicator", "error", err)
		return
	}
	p.mu.Lock()
	entry.indicatorID = id
	p.mu.Unlock()
}

func (p *Pipeline) editIndicator(ctx context.Context, chatID int64, entry *queueEntry, text string) {
	if p.transport == nil || entry.indicatorID == 0 {
		return
	}
	if err := p.transport.Edit(ctx, chatID, entry.indicatorID, text); err != nil {
		slog.Debug("failed to edit queue indicator", "error", err)
	}
}

func (p *Pipeline) deleteIndicator(ctx context.Context, chatID int64, entry *queueEntry) {
	if p.transport == nil || entry.indicatorID == 0 {
		return
	}
	if err := p.transport.Delete(ctx, chatID, entry.indicatorID); err != nil {
		slog.Debug("failed to delete queue indicator", "error", err)
	}
}

func formatEntryID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
