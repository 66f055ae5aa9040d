package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/errs"
)

func TestExitCodeNeverZero(t *testing.T) {
	require.NotEqual(t, 0, errs.UnknownError.ExitCode())
	require.NotEqual(t, 0, errs.Code(errors.New("raw error")).ExitCode())
}

func TestCodeRoundTrip(t *testing.T) {
	err := errs.New(errs.NotFound, errors.New("boom"))
	require.Equal(t, errs.NotFound, errs.Code(err))
	require.True(t, errs.Is(err, errs.NotFound))
}
