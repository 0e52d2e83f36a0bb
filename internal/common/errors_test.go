package common

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	corrupt := Corruption("read block", "checksum mismatch")
	require.ErrorIs(t, corrupt, ErrCorruption)
	require.NotErrorIs(t, corrupt, ErrIoFailure)
	require.Equal(t, KindCorruption, KindOf(corrupt))

	wrapped := fmt.Errorf("get: %w", corrupt)
	require.ErrorIs(t, wrapped, ErrCorruption)
	require.Equal(t, KindCorruption, KindOf(wrapped))

	invalid := InvalidArgument("scan", "start > end")
	require.ErrorIs(t, invalid, ErrInvalidArgument)
	require.Contains(t, invalid.Error(), "invalid_argument")
}

func TestIoFailureKeepsExistingKind(t *testing.T) {
	io := IoFailure("open", os.ErrNotExist)
	require.ErrorIs(t, io, ErrIoFailure)
	require.True(t, errors.Is(io, os.ErrNotExist))

	corrupt := Corruption("footer", "bad magic")
	require.Same(t, corrupt, IoFailure("open", corrupt))
	require.Nil(t, IoFailure("noop", nil))
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
	require.Equal(t, "unknown", ErrorKind(0).String())
}
