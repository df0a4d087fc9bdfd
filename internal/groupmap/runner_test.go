package groupmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Run(t *testing.T) {
	t.Run("captures stdout", func(t *testing.T) {
		runner := NewExecRunner("echo", nil)
		resp, err := runner.Run(context.Background(), Request{Args: []string{"groupmap", "list"}})
		require.NoError(t, err)
		assert.Equal(t, "groupmap list\n", resp.Stdout)
		assert.Zero(t, resp.ExitCode)
	})

	t.Run("reports exit code", func(t *testing.T) {
		runner := NewExecRunner("false", nil)
		resp, err := runner.Run(context.Background(), Request{})
		require.Error(t, err)
		assert.Equal(t, 1, resp.ExitCode)
	})

	t.Run("missing command", func(t *testing.T) {
		runner := NewExecRunner("groupsync-no-such-command", nil)
		_, err := runner.Run(context.Background(), Request{Args: []string{"groupmap", "list"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "groupsync-no-such-command groupmap list")
	})

	t.Run("defaults to net", func(t *testing.T) {
		assert.Equal(t, "net", NewExecRunner("", nil).Command)
	})
}
