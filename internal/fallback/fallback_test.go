package fallback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/fallback"
)

func TestRunSuccess(t *testing.T) {
	res, err := fallback.Run(context.Background(), []string{"/bin/echo", "local"}, "/tmp")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "local")
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := fallback.Run(context.Background(), []string{"/bin/sh", "-c", "exit 3"}, "/tmp")
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}
