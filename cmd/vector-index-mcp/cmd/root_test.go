package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vector-index-mcp/vector-index-mcp/internal/config"
)

func TestArgsRejectsZeroArguments(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestArgsRejectsMoreThanOneArgument(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{t.TempDir(), "extra"})

	err := cmd.Execute()

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunRootRejectsANonexistentProjectPath(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"/no/such/project/path/for/vector-index-mcp"})

	err := cmd.Execute()

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestApplyFlagOverridesOnlyTouchesChangedFlags(t *testing.T) {
	root := NewRootCmd()
	require.NoError(t, root.Flags().Set("host", "127.0.0.1"))
	require.NoError(t, root.Flags().Set("port", "9001"))

	settings, err := config.Load(t.TempDir())
	require.NoError(t, err)
	settings.Host = "0.0.0.0"
	settings.Port = 8000
	settings.Transport = "stdio"

	applyFlagOverrides(root, settings)

	assert.Equal(t, "127.0.0.1", settings.Host)
	assert.Equal(t, 9001, settings.Port)
	assert.Equal(t, "stdio", settings.Transport, "unchanged flags must not touch their field")
}

func TestExecuteReturnsZeroOnCleanShutdown(t *testing.T) {
	root := t.TempDir()
	t.Setenv("EMBED_PROVIDER", "static")

	cmd := NewRootCmd()
	// http, not stdio: stdio's Serve blocks reading os.Stdin, whose
	// behavior under `go test` isn't reliably cancellable; http's
	// net.Listener is shut down deterministically by ctx.Done().
	cmd.SetArgs([]string{root, "--transport=http", "--host=127.0.0.1", "--port=0"})

	ctx, cancel := context.WithCancel(context.Background())
	cmd.SetContext(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.Execute() }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not stop after context cancellation")
	}
}

