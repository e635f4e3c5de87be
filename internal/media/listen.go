package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tale-weaver/internal/capability"
	"tale-weaver/internal/domain"

	"go.uber.org/zap"
)

// Recorder захватывает звук с микрофона хоста. Захват владеет микрофоном
// эксклюзивно; Stop обязан освободить его.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop останавливает захват и возвращает все накопленное аудио.
	Stop() ([]byte, error)
}

// Transcriber превращает захваченное аудио в текст (облачный уровень).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Recognizer - локальное непрерывное распознавание со своей детекцией
// конца фразы; таймер ему не нужен.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// ListenPipeline - двухуровневый конвейер распознавания речи:
// облачный захват + транскрипция, затем локальное распознавание.
type ListenPipeline struct {
	logger   *zap.Logger
	recorder Recorder   // nil = микрофонный захват недоступен
	cloud    Transcriber // nil = облачная транскрипция не сконфигурирована
	local    Recognizer  // nil = локального распознавания нет
	probe    *capability.Probe
	window   time.Duration // жесткое окно записи облачного уровня

	mu     sync.Mutex
	active bool
}

// NewListenPipeline создает конвейер распознавания.
func NewListenPipeline(logger *zap.Logger, recorder Recorder, cloud Transcriber, local Recognizer, probe *capability.Probe, window time.Duration) *ListenPipeline {
	if window <= 0 {
		window = 4 * time.Second
	}
	return &ListenPipeline{
		logger:   logger.Named("listen_pipeline"),
		recorder: recorder,
		cloud:    cloud,
		local:    local,
		probe:    probe,
		window:   window,
	}
}

// Listen захватывает голосовой ввод и возвращает транскрипт.
// Повторный вызов во время активного распознавания отклоняется.
func (p *ListenPipeline) Listen(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return "", domain.ErrListeningInProgress
	}
	p.active = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		observeDuration("listen", time.Since(start).Seconds())
	}()

	if p.recorder != nil && p.cloud != nil && p.probe.CloudAvailable() {
		transcript, err := p.listenCloud(ctx)
		if err == nil {
			observeTier("listen", "cloud", FailureNone)
			return strings.TrimSpace(transcript), nil
		}
		kind := Classify(err)
		observeTier("listen", "cloud", kind)
		if kind == FailureAccess {
			p.probe.MarkDenied()
		}
		if kind == FailureTransient {
			p.logger.Warn("Cloud recognition failed, falling back to local", zap.Error(err))
		} else {
			p.logger.Debug("Cloud recognition unavailable, falling back to local",
				zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	if p.local == nil {
		observeTier("listen", "local", FailureCapability)
		return "", domain.ErrMicUnavailable
	}
	transcript, err := p.local.Recognize(ctx)
	if err != nil {
		observeTier("listen", "local", Classify(err))
		return "", fmt.Errorf("%w: %v", domain.ErrMicUnavailable, err)
	}
	observeTier("listen", "local", FailureNone)
	return strings.TrimSpace(transcript), nil
}

// Listening сообщает, идет ли распознавание.
func (p *ListenPipeline) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// listenCloud записывает не дольше жесткого окна, затем принудительно
// останавливает захват и отдает накопленное аудио на транскрипцию.
// Таймер принадлежит этой попытке и гасится при ее завершении.
func (p *ListenPipeline) listenCloud(ctx context.Context) (string, error) {
	if err := p.recorder.Start(ctx); err != nil {
		return "", fmt.Errorf("capture start failed: %w", err)
	}

	timer := time.NewTimer(p.window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_, _ = p.recorder.Stop() // освобождаем микрофон
		return "", ctx.Err()
	case <-timer.C:
	}

	audio, err := p.recorder.Stop()
	if err != nil {
		return "", fmt.Errorf("capture stop failed: %w", err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: no audio captured", domain.ErrMicUnavailable)
	}

	return p.cloud.Transcribe(ctx, audio)
}
