package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUUIDint64Unique(t *testing.T) {
	seen := make(map[int64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := UUIDint64()
		require.Positive(t, id)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestUUIDOrdered(t *testing.T) {
	a := UUIDint64()
	b := UUIDint64()
	require.Less(t, a, b)
	require.NotEmpty(t, UUID())
}
