package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Result is the structured return from message handling.
type Result struct {
	Text           string
	StreamFallback bool
	ReplyMarkup    *tgbotapi.InlineKeyboardMarkup
}

// CommandHandler handles one slash command. A nil Result means the
// command did not produce a reply.
type CommandHandler func(ctx context.Context, chatID int64, text string) (*Result, error)

type commandEntry struct {
	name        string
	handler     CommandHandler
	matchPrefix bool
}

// CommandRegistry dispatches slash commands in registration order.
// Names ending in a space match as prefixes ("/model " catches
// "/model opus").
type CommandRegistry struct {
	commands []commandEntry
}

// Register adds a command handler.
func (r *CommandRegistry) Register(name string, handler CommandHandler) {
	r.commands = append(r.commands, commandEntry{
		name:        name,
		handler:     handler,
		matchPrefix: strings.HasSuffix(name, " "),
	})
}

// Dispatch routes cmd (the lowercased trimmed message) to a handler.
// Returns nil when no command matches.
func (r *CommandRegistry) Dispatch(ctx context.Context, cmd string, chatID int64, text string) (*Result, error) {
	for _, entry := range r.commands {
		matched := cmd == entry.name
		if entry.matchPrefix {
			matched = strings.HasPrefix(cmd, entry.name)
		}
		if matched {
			slog.Debug("command matched", "cmd", strings.TrimSpace(entry.name))
			return entry.handler(ctx, chatID, text)
		}
	}
	return nil, nil
}
