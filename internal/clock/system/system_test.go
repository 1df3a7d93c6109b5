package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/comic"
)

var _ comic.Clock = New()

func TestNowIsUTCAndCurrent(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()

	require.Equal(t, time.UTC, got.Location())
	require.WithinDuration(t, before.Add(time.Second), got, 2*time.Second)
}

func TestTodayFormatsAsProviderDate(t *testing.T) {
	t.Parallel()

	day := comic.FormatDate(New().Now())
	_, err := comic.ParseDate(day)
	require.NoError(t, err)
}
