package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ductor/config"
)

type sentCall struct {
	text      string
	replyTo   int
	messageID int
}

type fakeMessenger struct {
	mu      sync.Mutex
	sends   []sentCall
	plains  []sentCall
	edits   []sentCall
	markups []tgbotapi.InlineKeyboardMarkup
	sendErr error
	editErr error
	nextID  int
}

func (f *fakeMessenger) sendHTML(_ context.Context, _ int64, text string, replyTo int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sends = append(f.sends, sentCall{text: text, replyTo: replyTo, messageID: f.nextID})
	return f.nextID, nil
}

func (f *fakeMessenger) sendPlain(_ context.Context, _ int64, text string, replyTo int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.plains = append(f.plains, sentCall{text: text, replyTo: replyTo, messageID: f.nextID})
	return f.nextID, nil
}

func (f *fakeMessenger) editHTML(_ context.Context, _ int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sentCall{text: text, messageID: messageID})
	return nil
}

func (f *fakeMessenger) editMarkup(_ context.Context, _ int64, _ int, markup tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markups = append(f.markups, markup)
	return nil
}

func newTestEditEditor(f *fakeMessenger, maxFailures int) *EditEditor {
	return &EditEditor{m: f, chatID: 1, replyTo: 42, maxFailures: maxFailures}
}

func TestNewStreamEditorSelectsMode(t *testing.T) {
	f := &fakeMessenger{}
	ed := NewStreamEditor(f, 1, 0, config.StreamingConfig{AppendMode: true})
	assert.IsType(t, &AppendEditor{}, ed)

	ed = NewStreamEditor(f, 1, 0, config.StreamingConfig{EditIntervalSeconds: 2})
	assert.IsType(t, &EditEditor{}, ed)
}

func TestAppendEditorFirstMessageReplies(t *testing.T) {
	f := &fakeMessenger{}
	ed := &AppendEditor{m: f, chatID: 1, replyTo: 42}
	ctx := context.Background()

	assert.False(t, ed.HasContent())
	ed.AppendText(ctx, "hello **there**")
	ed.AppendText(ctx, "second")

	require.Len(t, f.sends, 2)
	assert.Equal(t, 42, f.sends[0].replyTo)
	assert.Equal(t, "hello <b>there</b>", f.sends[0].text)
	assert.Equal(t, 0, f.sends[1].replyTo)
	assert.True(t, ed.HasContent())
}

func TestAppendEditorIndicators(t *testing.T) {
	f := &fakeMessenger{}
	ed := &AppendEditor{m: f, chatID: 1}
	ctx := context.Background()

	ed.AppendTool(ctx, "Bash")
	ed.AppendSystem(ctx, "thinking")

	require.Len(t, f.sends, 2)
	assert.Equal(t, "<b>[TOOL: Bash]</b>", f.sends[0].text)
	assert.Equal(t, "<i>[thinking]</i>", f.sends[1].text)
}

func TestAppendEditorPlainFallback(t *testing.T) {
	f := &fakeMessenger{sendErr: errors.New("bad markup")}
	ed := &AppendEditor{m: f, chatID: 1}

	ed.AppendText(context.Background(), "raw *text*")

	assert.Empty(t, f.sends)
	require.Len(t, f.plains, 1)
	assert.Equal(t, "raw *text*", f.plains[0].text)
}

func TestAppendEditorFinalizeAttachesButtons(t *testing.T) {
	f := &fakeMessenger{}
	ed := &AppendEditor{m: f, chatID: 1}
	ctx := context.Background()

	ed.AppendText(ctx, "pick")
	ed.Finalize(ctx, "pick\n[button:Go]")

	require.Len(t, f.markups, 1)
	assert.Equal(t, "Go", f.markups[0].InlineKeyboard[0][0].Text)
}

func TestEditEditorCreatesThenEdits(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendText(ctx, "Hello")
	require.Len(t, f.sends, 1)
	assert.Equal(t, 42, f.sends[0].replyTo)
	assert.Equal(t, "Hello", f.sends[0].text)

	ed.AppendText(ctx, " world")
	require.Len(t, f.edits, 1)
	assert.Equal(t, "Hello world", f.edits[0].text)
	assert.Equal(t, f.sends[0].messageID, f.edits[0].messageID)
}

func TestEditEditorCollapsesRepeatedTools(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendText(ctx, "working")
	ed.AppendTool(ctx, "Bash")
	ed.AppendTool(ctx, "Bash")
	ed.AppendTool(ctx, "Edit")

	require.NotEmpty(t, f.edits)
	last := f.edits[len(f.edits)-1].text
	assert.Contains(t, last, "<b>[TOOL: Bash] x2</b>")
	assert.Contains(t, last, "<b>[TOOL: Edit]</b>")
}

func TestEditEditorSystemIndicatorStyle(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendSystem(ctx, "thinking")
	ed.AppendSystem(ctx, "thinking")

	require.NotEmpty(t, f.sends)
	last := f.edits[len(f.edits)-1].text
	assert.Equal(t, "<i>[thinking] x2</i>", last)
}

func TestEditEditorFinalizeStripsIndicators(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendTool(ctx, "Bash")
	ed.AppendText(ctx, "done")
	ed.Finalize(ctx, "done")

	last := f.edits[len(f.edits)-1].text
	assert.Equal(t, "done", last)
	assert.NotContains(t, last, "TOOL")
}

func TestEditEditorOverflowSealsMessage(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendText(ctx, strings.Repeat("a", MessageLimit+500))

	require.Len(t, f.sends, 2)
	assert.Equal(t, MessageLimit, len(f.sends[0].text))
	// Continuation goes to a fresh message that becomes the active one.
	ed.AppendText(ctx, "b")
	require.NotEmpty(t, f.edits)
	assert.Equal(t, f.sends[1].messageID, f.edits[len(f.edits)-1].messageID)
}

func TestEditEditorFallsBackAfterEditFailures(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 1)
	ctx := context.Background()

	ed.AppendText(ctx, "first")
	f.editErr = errors.New("bad request")
	ed.AppendText(ctx, "second")

	assert.True(t, ed.fallenBack)

	// Degraded mode appends new messages instead of editing.
	f.editErr = nil
	ed.AppendText(ctx, "third")
	require.Len(t, f.sends, 2)
	assert.Equal(t, "third", f.sends[1].text)
}

func TestEditEditorIgnoresNotModified(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 1)
	ctx := context.Background()

	ed.AppendText(ctx, "same")
	f.editErr = errors.New("Bad Request: message is not modified")
	ed.AppendText(ctx, " again")

	assert.False(t, ed.fallenBack)
	assert.Zero(t, ed.consecutiveFailures)
}

func TestEditEditorFinalizeAttachesButtons(t *testing.T) {
	f := &fakeMessenger{}
	ed := newTestEditEditor(f, 3)
	ctx := context.Background()

	ed.AppendText(ctx, "choose")
	ed.Finalize(ctx, "choose\n[button:A] [button:B]")

	require.Len(t, f.markups, 1)
	assert.Len(t, f.markups[0].InlineKeyboard[0], 2)
}
