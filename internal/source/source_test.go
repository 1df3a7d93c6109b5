package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedRand struct{ values []int }

func (f *fixedRand) IntN(n int) int {
	v := f.values[0]
	f.values = f.values[1:]
	return v % n
}

func TestRandomSequenceSkipsExcluded(t *testing.T) {
	t.Parallel()

	// 405 candidates minus 404 leaves 404 slots; slot 403 maps past the hole to 405.
	id, ok := RandomSequence(&fixedRand{values: []int{403}}, 405, []int{404})
	require.True(t, ok)
	require.Equal(t, 405, id)

	id, ok = RandomSequence(&fixedRand{values: []int{402}}, 405, []int{404, 404, 0, 999})
	require.True(t, ok)
	require.Equal(t, 403, id)

	_, ok = RandomSequence(&fixedRand{values: []int{0}}, 1, []int{1})
	require.False(t, ok)
}

func TestRandomSequenceStaysInRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 2000; i++ {
		id, ok := RandomSequence(DefaultRand{}, 410, []int{404, 1})
		require.True(t, ok)
		require.GreaterOrEqual(t, id, 2)
		require.LessOrEqual(t, id, 410)
		require.NotEqual(t, 404, id)
	}
}

func TestOptionsRequest(t *testing.T) {
	t.Parallel()

	opts := Options{Retries: 2, Timeout: 10 * time.Second}
	req := opts.Request("https://example.com")
	require.Equal(t, 2, req.MaxRetries)
	require.Equal(t, 10*time.Second, req.Timeout)
	require.False(t, req.SuppressErrors)
	require.True(t, opts.Quiet("https://example.com").SuppressErrors)
}
