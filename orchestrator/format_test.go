package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocksSkipsEmpty(t *testing.T) {
	assert.Equal(t, "a\n\nb", Blocks("a", "", "b"))
	assert.Equal(t, "", Blocks("", ""))
}

func TestNewSessionText(t *testing.T) {
	assert.Equal(t,
		"**Session Reset**\n\n"+Sep+"\n\n"+
			"Everything cleared -- ready to go.\nSend a message to start your new session.",
		NewSessionText)
}

func TestStopText(t *testing.T) {
	assert.Contains(t, StopText(true, "claude"), "claude terminated. All queued messages discarded.")
	assert.Contains(t, StopText(false, "claude"), "Nothing running right now.")
}
