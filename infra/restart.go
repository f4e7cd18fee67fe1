package infra

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/hrygo/ductor/config"
)

// ExitRestart is the exit code that tells the supervisor to restart
// the process immediately.
const ExitRestart = 42

// RestartSentinel carries the post-restart notification back to the
// chat that requested it.
type RestartSentinel struct {
	ChatID    int64  `json:"chat_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// WriteRestartSentinel persists the sentinel before a restart exit.
func WriteRestartSentinel(path string, chatID int64, message string) error {
	if message == "" {
		message = "Restart completed."
	}
	sentinel := RestartSentinel{
		ChatID:    chatID,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := config.WriteJSONAtomic(path, sentinel); err != nil {
		return err
	}
	slog.Info("restart sentinel written", "chat", chatID)
	return nil
}

// ConsumeRestartSentinel reads and deletes the sentinel file. Returns
// nil when absent or unreadable.
func ConsumeRestartSentinel(path string) *RestartSentinel {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	os.Remove(path)
	var sentinel RestartSentinel
	if err := json.Unmarshal(raw, &sentinel); err != nil {
		slog.Warn("corrupt restart sentinel", "error", err)
		return nil
	}
	slog.Info("restart sentinel consumed", "chat", sentinel.ChatID)
	return &sentinel
}
