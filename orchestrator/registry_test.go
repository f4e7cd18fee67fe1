package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handlerReturning(text string) CommandHandler {
	return func(context.Context, int64, string) (*Result, error) {
		return &Result{Text: text}, nil
	}
}

func TestCommandRegistryExactMatch(t *testing.T) {
	reg := &CommandRegistry{}
	reg.Register("/new", handlerReturning("reset"))

	res, err := reg.Dispatch(context.Background(), "/new", 1, "/new")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "reset", res.Text)

	res, err = reg.Dispatch(context.Background(), "/newer", 1, "/newer")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestCommandRegistryPrefixMatch(t *testing.T) {
	reg := &CommandRegistry{}
	reg.Register("/model", handlerReturning("menu"))
	reg.Register("/model ", handlerReturning("direct"))

	res, err := reg.Dispatch(context.Background(), "/model", 1, "/model")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "menu", res.Text)

	res, err = reg.Dispatch(context.Background(), "/model opus", 1, "/model opus")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "direct", res.Text)
}

func TestCommandRegistryUnknownCommand(t *testing.T) {
	reg := &CommandRegistry{}
	res, err := reg.Dispatch(context.Background(), "/nothing", 1, "/nothing")
	require.NoError(t, err)
	assert.Nil(t, res)
}
