package kubeexec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResizableSinkWritesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	sink := NewResizableSink(&buf, 80, 24)

	n, err := sink.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", buf.String())
}

func TestResizableSinkSeedsInitialSize(t *testing.T) {
	sink := NewResizableSink(&bytes.Buffer{}, 100, 40)

	size := sink.Next()
	require.NotNil(t, size)
	require.Equal(t, uint16(100), size.Width)
	require.Equal(t, uint16(40), size.Height)
}

func TestResizableSinkLastResizeWins(t *testing.T) {
	sink := NewResizableSink(&bytes.Buffer{}, 80, 24)
	// Drain the seeded initial size first.
	sink.Next()

	sink.Resize(10, 10)
	sink.Resize(20, 20)
	sink.Resize(30, 30)

	size := sink.Next()
	require.NotNil(t, size)
	require.Equal(t, uint16(30), size.Width)
	require.Equal(t, uint16(30), size.Height)

	cols, rows := sink.Size()
	require.Equal(t, uint16(30), cols)
	require.Equal(t, uint16(30), rows)
}

func TestResizableSinkCloseEndsNext(t *testing.T) {
	sink := NewResizableSink(&bytes.Buffer{}, 80, 24)
	sink.Next() // drain seeded size
	sink.Close()
	sink.Close() // idempotent

	require.Nil(t, sink.Next())
}
