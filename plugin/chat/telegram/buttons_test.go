package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractButtonsNoMarkers(t *testing.T) {
	text, markup := ExtractButtons("plain text")
	assert.Equal(t, "plain text", text)
	assert.Nil(t, markup)
}

func TestExtractButtonsSingleButton(t *testing.T) {
	text, markup := ExtractButtons("Pick one:\n[button:Yes]")
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	btn := markup.InlineKeyboard[0][0]
	assert.Equal(t, "Yes", btn.Text)
	assert.Equal(t, "Yes", *btn.CallbackData)
	assert.Equal(t, "Pick one:", text)
}

func TestExtractButtonsRowLayout(t *testing.T) {
	_, markup := ExtractButtons("[button:A] [button:B]\n[button:C]")
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, "C", markup.InlineKeyboard[1][0].Text)
}

func TestExtractButtonsIgnoresCode(t *testing.T) {
	text, markup := ExtractButtons("```\n[button:NotReal]\n```\nuse `[button:AlsoNot]` syntax")
	assert.Nil(t, markup)
	assert.Contains(t, text, "[button:NotReal]")
	assert.Contains(t, text, "[button:AlsoNot]")
}

func TestExtractButtonsCollapsesBlankLines(t *testing.T) {
	text, markup := ExtractButtons("line one\n\n[button:Go]\n\nline two")
	require.NotNil(t, markup)
	assert.Equal(t, "line one\n\nline two", text)
}

func TestExtractButtonsEmptyLabelSkipped(t *testing.T) {
	_, markup := ExtractButtons("[button:  ]")
	assert.Nil(t, markup)
}

func TestTruncateCallbackDataMultibyte(t *testing.T) {
	// 22 three-byte runes encode to 66 bytes; the cut must not split a rune.
	label := strings.Repeat("€", 22)
	got := truncateCallbackData(label)
	assert.LessOrEqual(t, len(got), callbackDataMaxBytes)
	assert.Equal(t, strings.Repeat("€", 21), got)
}

func TestStripButtonSyntax(t *testing.T) {
	got := StripButtonSyntax("Choose:\n[button:One][button:Two]\n\n\ndone")
	assert.Equal(t, "Choose:\n\ndone", got)
}

func TestStripButtonSyntaxPreservesCode(t *testing.T) {
	in := "```\n[button:Keep]\n```"
	assert.Equal(t, in, StripButtonSyntax(in))
}
