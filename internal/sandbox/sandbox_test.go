package sandbox_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/sandbox"
)

func TestNoneDriverRunsEcho(t *testing.T) {
	d := sandbox.NewNone()
	require.True(t, d.Available())

	res, err := d.Run(context.Background(), []string{"/bin/echo", "hi"}, "/tmp", nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hi")
}

func TestNoneDriverCapturesNonZeroExit(t *testing.T) {
	d := sandbox.NewNone()

	res, err := d.Run(context.Background(), []string{"/bin/sh", "-c", "exit 7"}, "/tmp", nil)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestSelectDefaultsToNone(t *testing.T) {
	d, err := sandbox.Select(sandbox.Request{}, "")
	require.NoError(t, err)
	require.True(t, d.Available())
}

func TestSelectChrootUnavailableWithoutProfile(t *testing.T) {
	_, err := sandbox.Select(sandbox.Request{TargetProfile: "nonexistent-profile-xyz"}, "")
	require.Error(t, err)
}

func TestSelectContainerUnavailableWithoutDaemon(t *testing.T) {
	_, err := sandbox.Select(sandbox.Request{DockerContainer: "some-container"}, "unix:///nonexistent.sock")
	require.Error(t, err)
}
