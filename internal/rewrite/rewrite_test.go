package rewrite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/rewrite"
)

func TestRewriteBasic(t *testing.T) {
	res, err := rewrite.Rewrite(
		[]string{"gcc", "-c", "foo.c", "-o", "foo.o", "-I/usr/include/extra"},
		"/home/user/project",
		"/tmp/homcc-job1",
	)
	require.NoError(t, err)
	require.Equal(t, []string{"/tmp/homcc-job1/home/user/project/foo.c"}, res.Inputs)
	require.Equal(t, []string{"/tmp/homcc-job1/home/user/project/foo.o"}, res.Outputs)
	require.Equal(t, "/tmp/homcc-job1/home/user/project", res.RemoteCwd)
	require.Contains(t, res.RemoteArgv, "-I/tmp/homcc-job1/usr/include/extra")
}

func TestRewriteStripsDependencyFlags(t *testing.T) {
	res, err := rewrite.Rewrite(
		[]string{"gcc", "-c", "foo.c", "-MD", "-MF", "foo.d", "-o", "foo.o"},
		"/proj",
		"/tmp/homcc-job2",
	)
	require.NoError(t, err)
	for _, a := range res.RemoteArgv {
		require.NotContains(t, a, "-MD")
		require.NotContains(t, a, "-MF")
	}
}

func TestRewriteRejectsStdin(t *testing.T) {
	_, err := rewrite.Rewrite([]string{"gcc", "-c", "-", "-o", "foo.o"}, "/proj", "/tmp/job")
	require.Error(t, err)
}

func TestRewriteRejectsMissingDashC(t *testing.T) {
	_, err := rewrite.Rewrite([]string{"gcc", "foo.c", "-o", "a.out"}, "/proj", "/tmp/job")
	require.Error(t, err)
}

func TestRewriteRejectsNoInput(t *testing.T) {
	_, err := rewrite.Rewrite([]string{"gcc", "-c"}, "/proj", "/tmp/job")
	require.Error(t, err)
}

func TestRewriteIsystem(t *testing.T) {
	res, err := rewrite.Rewrite(
		[]string{"gcc", "-c", "foo.c", "-isystem", "/usr/local/include", "-o", "foo.o"},
		"/proj",
		"/tmp/job3",
	)
	require.NoError(t, err)
	require.Contains(t, res.RemoteArgv, "-isystem")
	require.Contains(t, res.RemoteArgv, "/tmp/job3/usr/local/include")
}
