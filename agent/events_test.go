package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamLineResult(t *testing.T) {
	line := `{"type":"result","session_id":"abc-123","result":"done","is_error":false,` +
		`"duration_ms":1200,"num_turns":3,"total_cost_usd":0.0421,` +
		`"usage":{"input_tokens":100,"output_tokens":50}}`

	events := ParseStreamLine(line)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EventResult, ev.Kind)
	require.NotNil(t, ev.Result)
	assert.Equal(t, "abc-123", ev.Result.SessionID)
	assert.Equal(t, "done", ev.Result.Result)
	assert.False(t, ev.Result.IsError)
	assert.Equal(t, int64(1200), ev.Result.DurationMS)
	assert.Equal(t, 3, ev.Result.NumTurns)
	assert.InDelta(t, 0.0421, ev.Result.TotalCostUSD, 1e-9)
	assert.Equal(t, 150, ev.Result.Usage.Total())
}

func TestParseStreamLineAssistantBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"hello"},` +
		`{"type":"tool_use","name":"Bash"},` +
		`{"type":"thinking","thinking":"hmm"},` +
		`{"type":"text","text":""}]}}`

	events := ParseStreamLine(line)
	require.Len(t, events, 3)
	assert.Equal(t, EventAssistantText, events[0].Kind)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, EventToolUse, events[1].Kind)
	assert.Equal(t, "Bash", events[1].ToolName)
	assert.Equal(t, EventThinking, events[2].Kind)
	assert.Equal(t, "hmm", events[2].Text)
}

func TestParseStreamLineSystemSubtypes(t *testing.T) {
	init := ParseStreamLine(`{"type":"system","subtype":"init","session_id":"sid-1"}`)
	require.Len(t, init, 1)
	assert.Equal(t, EventSystemInit, init[0].Kind)
	assert.Equal(t, "sid-1", init[0].SessionID)

	status := ParseStreamLine(`{"type":"system","subtype":"status","status":"compacting"}`)
	require.Len(t, status, 1)
	assert.Equal(t, EventSystemStatus, status[0].Kind)
	assert.Equal(t, "compacting", status[0].Status)

	compact := ParseStreamLine(
		`{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":9000}}`)
	require.Len(t, compact, 1)
	assert.Equal(t, EventCompactBounds, compact[0].Kind)
	assert.Equal(t, "auto", compact[0].Trigger)
	assert.Equal(t, 9000, compact[0].PreTokens)
}

func TestParseStreamLineSkipsGarbage(t *testing.T) {
	assert.Empty(t, ParseStreamLine(""))
	assert.Empty(t, ParseStreamLine("   "))
	assert.Empty(t, ParseStreamLine("not json at all"))
	assert.Empty(t, ParseStreamLine(`{"type":"unknown"}`))
	assert.Empty(t, ParseStreamLine(`{"type":"system","subtype":"unknown"}`))
}
