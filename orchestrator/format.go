// Package orchestrator routes chat messages through slash-command
// dispatch and the conversation flows, owning sessions, hooks and the
// interactive selectors.
package orchestrator

import (
	"fmt"
	"strings"
)

// Sep is the visual separator line used in command responses.
const Sep = "───"

// Blocks joins non-empty blocks with blank lines.
func Blocks(blocks ...string) string {
	kept := blocks[:0:0]
	for _, b := range blocks {
		if b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}

// NewSessionText is the /new confirmation message.
var NewSessionText = Blocks(
	"**Session Reset**",
	Sep,
	"Everything cleared -- ready to go.\nSend a message to start your new session.",
)

// StopText builds the /stop response.
func StopText(killed bool, provider string) string {
	body := "Nothing running right now."
	if killed {
		body = fmt.Sprintf("%s terminated. All queued messages discarded.", provider)
	}
	return Blocks("**Agent Stopped**", Sep, body)
}
