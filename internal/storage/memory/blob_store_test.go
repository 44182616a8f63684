package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "out/fig.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://out/fig.png", uri)

	payload[0] = 'C'
	obj, ok := store.Get("out/fig.png")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data), "stored copy must be immutable")
	require.Equal(t, "image/png", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("out/fig.png")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.svg", "a.png"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.png", "b.svg"}, store.Paths())
	_, ok := store.Get("missing")
	require.False(t, ok)
}
