package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hrygo/ductor/internal/errs"
	"github.com/hrygo/ductor/plugin/chat"
	"github.com/hrygo/ductor/security"
)

var (
	filePathRe = regexp.MustCompile(`<file:([^>]+)>`)

	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true,
		".gif": true, ".webp": true, ".bmp": true,
	}
)

// botClient is the slice of the Bot API the channel uses. *tgbotapi.BotAPI
// satisfies it.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// CallbackHandler consumes a non-queue callback query (button presses,
// selector choices).
type CallbackHandler func(ctx context.Context, chatID int64, messageID int, data string)

// Channel is the Telegram transport: outbound sends with HTML fallback
// and rate limiting, plus the long-poll ingress loop feeding the chat
// pipeline.
type Channel struct {
	bot          botClient
	limiter      *rate.Limiter
	allowedUsers map[int64]bool
	allowedRoots []string
	pipeline     *chat.Pipeline
	onMessage    chat.Handler
	onCallback   CallbackHandler
}

var _ chat.Transport = (*Channel)(nil)

// NewChannel connects to the Bot API with the given token. Only users
// in allowedUserIDs may talk to the bot.
func NewChannel(token string, allowedUserIDs []int64) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInfra, "telegram connect failed")
	}
	slog.Info("telegram connected", "username", bot.Self.UserName)
	return newChannel(bot, allowedUserIDs), nil
}

func newChannel(bot botClient, allowedUserIDs []int64) *Channel {
	allowed := make(map[int64]bool, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowed[id] = true
	}
	return &Channel{
		bot: bot,
		// Bot API allows about 30 messages per second overall.
		limiter:      rate.NewLimiter(rate.Limit(25), 5),
		allowedUsers: allowed,
	}
}

// SetPipeline wires the ingress pipeline and the handler that runs
// once the pipeline grants the chat lock.
func (c *Channel) SetPipeline(p *chat.Pipeline, handler chat.Handler) {
	c.pipeline = p
	c.onMessage = handler
}

// SetCallbackHandler wires the handler for non-queue callback queries.
func (c *Channel) SetCallbackHandler(h CallbackHandler) { c.onCallback = h }

// SetAllowedRoots restricts which local files may be sent to chats.
func (c *Channel) SetAllowedRoots(roots []string) { c.allowedRoots = roots }

// Run receives updates until ctx is cancelled. Messages from unknown
// users are dropped before they reach the pipeline.
func (c *Channel) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.dispatch(ctx, update)
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		c.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.From == nil || !c.allowedUsers[msg.From.ID] {
		slog.Warn("message from unauthorized user dropped",
			"user_id", userID(msg), "chat_id", msg.Chat.ID)
		return
	}
	inbound := chat.Message{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Text:      msg.Text,
	}
	go func() {
		if err := c.pipeline.Handle(ctx, inbound, c.onMessage); err != nil {
			slog.Error("message handling failed", "chat_id", inbound.ChatID, "error", err)
		}
	}()
}

func (c *Channel) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || !c.allowedUsers[cq.From.ID] {
		return
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		slog.Debug("callback ack failed", "error", err)
	}
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	if strings.HasPrefix(cq.Data, chat.MQPrefix) {
		if entryID, err := strconv.ParseInt(strings.TrimPrefix(cq.Data, chat.MQPrefix), 10, 64); err == nil {
			c.pipeline.CancelEntry(ctx, chatID, entryID)
		}
		return
	}
	if c.onCallback != nil {
		go c.onCallback(ctx, chatID, cq.Message.MessageID, cq.Data)
	}
}

func userID(msg *tgbotapi.Message) int64 {
	if msg.From == nil {
		return 0
	}
	return msg.From.ID
}

// Send delivers text as HTML, falling back to plain text when Telegram
// rejects the markup.
func (c *Channel) Send(ctx context.Context, chatID int64, text string) (int, error) {
	id, err := c.sendHTML(ctx, chatID, text, 0)
	if err != nil && isBadRequest(err) {
		slog.Warn("html send failed, falling back to plain text", "chat_id", chatID, "error", err)
		return c.sendPlain(ctx, chatID, text, 0)
	}
	return id, err
}

// SendWithCancel delivers text with a single inline Cancel button.
func (c *Channel) SendWithCancel(ctx context.Context, chatID int64, text, callbackData string, replyTo int) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = replyTo
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Cancel", truncateCallbackData(callbackData)),
		),
	)
	msg.ReplyMarkup = markup
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit replaces the text of an existing message (HTML parse mode).
func (c *Channel) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	return c.editHTML(ctx, chatID, messageID, text)
}

// Delete removes a message.
func (c *Channel) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (c *Channel) sendHTML(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = replyTo
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Channel) sendPlain(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Channel) editHTML(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := c.bot.Request(edit)
	return err
}

// EditKeyboard replaces both the text and the inline keyboard of a
// message. A nil markup clears the keyboard. Used by the selector
// callbacks to update their menu in place.
func (c *Channel) EditKeyboard(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := c.bot.Request(edit)
	if isNotModified(err) {
		return nil
	}
	return err
}

func (c *Channel) editMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup))
	return err
}

// SendKeyboard delivers text with an arbitrary inline keyboard.
func (c *Channel) SendKeyboard(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// ExtractFilePaths returns all <file:/path> references in text.
func ExtractFilePaths(text string) []string {
	var paths []string
	for _, m := range filePathRe.FindAllStringSubmatch(text, -1) {
		paths = append(paths, m[1])
	}
	return paths
}

// StripFileTags removes <file:/path> references from text.
func StripFileTags(text string) string {
	return strings.TrimSpace(filePathRe.ReplaceAllString(text, ""))
}

// SendRich parses <file:/path> tags, sends the remaining text as HTML
// chunks, attaches any [button:...] keyboard, then sends the files.
func (c *Channel) SendRich(ctx context.Context, chatID int64, text string, replyTo int) error {
	filePaths := ExtractFilePaths(text)
	cleanText := StripFileTags(text)
	cleanText, markup := ExtractButtons(cleanText)

	var lastID int
	if cleanText != "" {
		htmlText := MarkdownToHTML(cleanText)
		for i, chunk := range SplitHTMLMessage(htmlText, MessageLimit) {
			reply := 0
			if i == 0 {
				reply = replyTo
			}
			id, err := c.sendHTML(ctx, chatID, chunk, reply)
			if err != nil && isBadRequest(err) {
				slog.Warn("html send failed, falling back to plain text", "chat_id", chatID, "error", err)
				id, err = c.sendPlain(ctx, chatID, chunk, reply)
			}
			if err != nil {
				return err
			}
			lastID = id
		}
	}

	if markup != nil && lastID != 0 {
		if err := c.editMarkup(ctx, chatID, lastID, *markup); err != nil {
			slog.Warn("failed to attach button keyboard", "chat_id", chatID, "error", err)
		}
	}

	for _, fp := range filePaths {
		c.SendFile(ctx, chatID, fp)
	}
	return nil
}

// SendFilesFromText sends each <file:/path> referenced in text. Used
// after streaming, where the text itself has already been delivered.
func (c *Channel) SendFilesFromText(ctx context.Context, chatID int64, text string) {
	for _, fp := range ExtractFilePaths(text) {
		c.SendFile(ctx, chatID, fp)
	}
}

// SendFile sends a local file as a photo (raster images) or document.
// Paths outside the allowed roots are refused with a notice.
func (c *Channel) SendFile(ctx context.Context, chatID int64, path string) {
	if len(c.allowedRoots) > 0 && !security.IsPathSafe(path, c.allowedRoots) {
		slog.Warn("file path blocked", "path", path)
		notice := fmt.Sprintf("[File blocked: %s]\nPath '%s' is outside the allowed directories (%s).",
			filepath.Base(path), path, strings.Join(c.allowedRoots, ", "))
		if _, err := c.sendPlain(ctx, chatID, notice, 0); err != nil {
			slog.Error("failed to send block notice", "error", err)
		}
		return
	}
	if _, err := os.Stat(path); err != nil {
		slog.Warn("file not found, skipping", "path", path)
		_, _ = c.sendPlain(ctx, chatID, fmt.Sprintf("[File not found: %s]", filepath.Base(path)), 0)
		return
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := mime.TypeByExtension(ext)
	isRaster := imageExtensions[ext] ||
		(strings.HasPrefix(mimeType, "image/") && ext != ".svg" && ext != ".svgz")

	var err error
	if isRaster {
		_, err = c.bot.Send(tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path)))
	} else {
		_, err = c.bot.Send(tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path)))
	}
	if err != nil {
		slog.Error("failed to send file", "path", path, "error", err)
		_, _ = c.sendPlain(ctx, chatID, fmt.Sprintf("[Failed to send: %s]", filepath.Base(path)), 0)
		return
	}
	slog.Info("sent file", "name", filepath.Base(path), "type", mimeType)
}

// isBadRequest reports whether err is a Bot API 4xx rejection rather
// than a transport failure.
func isBadRequest(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.ResponseParameters.RetryAfter == 0
	}
	return false
}

// isNotModified matches the Bot API error returned when an edit would
// leave the message unchanged.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// retryAfter extracts the rate-limit backoff from a Bot API error.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.ResponseParameters.RetryAfter > 0 {
		return time.Duration(apiErr.ResponseParameters.RetryAfter) * time.Second, true
	}
	return 0, false
}
