package daemon

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseFileLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		_, err := RaiseFileLimit()
		assert.Error(t, err)
		return
	}
	first, err := RaiseFileLimit()
	require.NoError(t, err)
	assert.NotZero(t, first)

	second, err := RaiseFileLimit()
	require.NoError(t, err)
	assert.Equal(t, first, second, "raising twice is a no-op")
}
