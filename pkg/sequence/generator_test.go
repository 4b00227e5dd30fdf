package sequence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSeq(t *testing.T) {
	require.Equal(t, "001", encodeSeq(1))
	require.Equal(t, "00Z", encodeSeq(35))
	require.Equal(t, "010", encodeSeq(36))
	require.Equal(t, "ZZZ", encodeSeq(36*36*36-1))
	require.Equal(t, "1000", encodeSeq(36*36*36))
}

func TestRandomAlphaNumeric(t *testing.T) {
	s, err := randomAlphaNumeric(16)
	require.NoError(t, err)
	require.Len(t, s, 16)
	for _, c := range s {
		require.True(t, strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", c))
	}
}
