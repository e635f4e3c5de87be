package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"tale-weaver/internal/domain"

	"github.com/google/uuid"
)

// AudioBridge транслирует аудио между медиа-конвейерами и клиентом:
// синтезированная озвучка уходит вниз по сокету как base64-полезная нагрузка,
// кадры микрофона поднимаются вверх и копятся до конца окна захвата.
// Реализует media.Player и media.Recorder.
type AudioBridge struct {
	hub *Hub

	mu        sync.Mutex
	playbacks map[string]func() // id воспроизведения -> колбэк завершения
	capturing bool
	captured  bytes.Buffer
}

func newAudioBridge(hub *Hub) *AudioBridge {
	return &AudioBridge{
		hub:       hub,
		playbacks: make(map[string]func()),
	}
}

// Play отправляет аудио клиенту и возвращает ручку остановки. Колбэк done
// сработает, когда клиент подтвердит окончание воспроизведения; остановка
// отсоединяет его, так что позднее подтверждение игнорируется.
func (b *AudioBridge) Play(audio []byte, done func()) (func(), error) {
	id := uuid.NewString()

	b.mu.Lock()
	b.playbacks[id] = done
	b.mu.Unlock()

	b.hub.send("audio_play", map[string]string{
		"id":    id,
		"audio": base64.StdEncoding.EncodeToString(audio),
	})

	stop := func() {
		b.mu.Lock()
		delete(b.playbacks, id)
		b.mu.Unlock()
		b.hub.send("audio_stop", map[string]string{"id": id})
	}
	return stop, nil
}

// playbackDone вызывается из readPump по подтверждению клиента.
func (b *AudioBridge) playbackDone(id string) {
	b.mu.Lock()
	done := b.playbacks[id]
	delete(b.playbacks, id)
	b.mu.Unlock()

	if done != nil {
		done()
	}
}

// Start начинает захват: клиент получает команду включить микрофон и слать
// кадры. Повторный старт при активном захвате отклоняется.
func (b *AudioBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capturing {
		return domain.ErrListeningInProgress
	}
	b.capturing = true
	b.captured.Reset()

	b.hub.send("capture_start", nil)
	return nil
}

// Stop завершает захват и возвращает накопленное аудио.
func (b *AudioBridge) Stop() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.capturing {
		return nil, fmt.Errorf("%w: capture is not active", domain.ErrMicUnavailable)
	}
	b.capturing = false
	b.hub.send("capture_stop", nil)

	if b.captured.Len() == 0 {
		return nil, fmt.Errorf("%w: no audio frames received", domain.ErrMicUnavailable)
	}
	audio := make([]byte, b.captured.Len())
	copy(audio, b.captured.Bytes())
	return audio, nil
}

// appendChunk добавляет кадр микрофона; кадры вне окна захвата отбрасываются.
func (b *AudioBridge) appendChunk(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capturing {
		b.captured.Write(chunk)
	}
}
