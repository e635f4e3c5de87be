package websocket

import (
	"context"
	"testing"

	"tale-weaver/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBridge() *AudioBridge {
	return NewHub(zap.NewNop()).Audio()
}

func TestAudioBridgePlayback(t *testing.T) {
	t.Run("Client acknowledgement fires the completion callback once", func(t *testing.T) {
		b := newBridge()
		fired := 0
		_, err := b.Play([]byte("mp3"), func() { fired++ })
		require.NoError(t, err)

		require.Len(t, b.playbacks, 1)
		var id string
		for k := range b.playbacks {
			id = k
		}
		b.playbackDone(id)
		b.playbackDone(id) // повторное подтверждение игнорируется
		assert.Equal(t, 1, fired)
	})

	t.Run("Stop detaches the callback before a late acknowledgement", func(t *testing.T) {
		b := newBridge()
		fired := false
		stop, err := b.Play([]byte("mp3"), func() { fired = true })
		require.NoError(t, err)

		var id string
		for k := range b.playbacks {
			id = k
		}
		stop()
		b.playbackDone(id)
		assert.False(t, fired, "колбэк вытесненного воспроизведения не должен сработать")
	})
}

func TestAudioBridgeCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("Frames inside the capture window are accumulated", func(t *testing.T) {
		b := newBridge()
		require.NoError(t, b.Start(ctx))
		b.appendChunk([]byte("abc"))
		b.appendChunk([]byte("def"))

		audio, err := b.Stop()
		require.NoError(t, err)
		assert.Equal(t, []byte("abcdef"), audio)
	})

	t.Run("Frames outside the window are dropped", func(t *testing.T) {
		b := newBridge()
		b.appendChunk([]byte("stale"))
		require.NoError(t, b.Start(ctx))
		b.appendChunk([]byte("live"))

		audio, err := b.Stop()
		require.NoError(t, err)
		assert.Equal(t, []byte("live"), audio)
	})

	t.Run("Concurrent capture start is rejected", func(t *testing.T) {
		b := newBridge()
		require.NoError(t, b.Start(ctx))
		assert.ErrorIs(t, b.Start(ctx), domain.ErrListeningInProgress)
	})

	t.Run("Stop without frames or without start yields mic-unavailable", func(t *testing.T) {
		b := newBridge()
		_, err := b.Stop()
		assert.ErrorIs(t, err, domain.ErrMicUnavailable)

		require.NoError(t, b.Start(ctx))
		_, err = b.Stop()
		assert.ErrorIs(t, err, domain.ErrMicUnavailable)
	})
}
