package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tale-weaver/internal/capability"
	"tale-weaver/internal/domain"

	"go.uber.org/zap"
)

// Synthesizer синтезирует речь из текста.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}

// Player воспроизводит синтезированный звук. Реализация принадлежит хосту.
type Player interface {
	// Play начинает воспроизведение и вызывает done ровно один раз по
	// завершении. Возвращает функцию остановки воспроизведения.
	Play(audio []byte, done func()) (stop func(), err error)
}

// utterance - владеющий дескриптор одного воспроизведения.
// Отмена кооперативная: сначала отсоединяется колбэк завершения, потом
// останавливается ресурс, чтобы обработчик вытесненной реплики не сработал.
type utterance struct {
	mu   sync.Mutex
	done func()
	stop func()
}

// complete вызывается плеером по естественному завершению.
func (u *utterance) complete() {
	u.mu.Lock()
	done := u.done
	u.done = nil
	u.mu.Unlock()
	if done != nil {
		done()
	}
}

// cancel отсоединяет колбэк и останавливает воспроизведение.
func (u *utterance) cancel() {
	u.mu.Lock()
	u.done = nil
	stop := u.stop
	u.stop = nil
	u.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// SpeechPipeline - двухуровневый конвейер озвучки: облачный голос, затем
// локальный синтез. Во всей системе активно не более одного воспроизведения.
type SpeechPipeline struct {
	logger *zap.Logger
	cloud  Synthesizer // nil = облачный уровень не сконфигурирован
	local  Synthesizer // nil = локального синтеза нет
	player Player
	probe  *capability.Probe

	mu      sync.Mutex
	current *utterance
}

// NewSpeechPipeline создает конвейер озвучки.
func NewSpeechPipeline(logger *zap.Logger, cloud, local Synthesizer, player Player, probe *capability.Probe) *SpeechPipeline {
	return &SpeechPipeline{
		logger: logger.Named("speech_pipeline"),
		cloud:  cloud,
		local:  local,
		player: player,
		probe:  probe,
	}
}

// Speak синтезирует и воспроизводит реплику. Уже идущее воспроизведение
// сначала отменяется (не ставится на паузу) с освобождением ресурсов.
// onDone вызывается только при естественном завершении этой реплики.
func (p *SpeechPipeline) Speak(ctx context.Context, text, voice string, speed float64, onDone func()) error {
	if text == "" {
		return fmt.Errorf("%w: empty narration text", domain.ErrInvalidInput)
	}
	if p.player == nil {
		return domain.ErrVoiceUnavailable
	}

	p.Stop()

	start := time.Now()
	audio, err := p.synthesize(ctx, text, voice, speed)
	if err != nil {
		return err
	}
	observeDuration("speech", time.Since(start).Seconds())

	utt := &utterance{done: onDone}
	stop, err := p.player.Play(audio, func() {
		utt.complete()
		p.clear(utt)
	})
	if err != nil {
		return fmt.Errorf("%w: playback failed: %v", domain.ErrVoiceUnavailable, err)
	}
	utt.mu.Lock()
	utt.stop = stop
	utt.mu.Unlock()

	p.mu.Lock()
	p.current = utt
	p.mu.Unlock()
	return nil
}

// synthesize проходит по уровням: облако, затем локальный движок.
// Любой отказ облака (ошибка, отсутствие возможности, отказ в доступе)
// молча уводит на локальный уровень; скорость пробрасывается в его параметр
// темпа. Отсутствие локального движка - типизированная недоступность голоса.
func (p *SpeechPipeline) synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	if p.cloud != nil && p.probe.CloudAvailable() {
		audio, err := p.cloud.Synthesize(ctx, text, voice, speed)
		if err == nil && len(audio) > 0 {
			observeTier("speech", "cloud", FailureNone)
			return audio, nil
		}
		if err == nil {
			err = fmt.Errorf("cloud synthesizer returned empty audio")
		}
		kind := Classify(err)
		observeTier("speech", "cloud", kind)
		if kind == FailureAccess {
			p.probe.MarkDenied()
		}
		if kind == FailureTransient {
			p.logger.Warn("Cloud voice failed, falling back to local synthesis", zap.Error(err))
		} else {
			p.logger.Debug("Cloud voice unavailable, falling back to local synthesis",
				zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	if p.local == nil {
		observeTier("speech", "local", FailureCapability)
		return nil, domain.ErrVoiceUnavailable
	}
	audio, err := p.local.Synthesize(ctx, text, voice, speed)
	if err != nil {
		observeTier("speech", "local", Classify(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrVoiceUnavailable, err)
	}
	observeTier("speech", "local", FailureNone)
	return audio, nil
}

// Stop отменяет текущее воспроизведение, если оно есть.
func (p *SpeechPipeline) Stop() {
	p.mu.Lock()
	utt := p.current
	p.current = nil
	p.mu.Unlock()
	if utt != nil {
		utt.cancel()
	}
}

// Speaking сообщает, идет ли воспроизведение.
func (p *SpeechPipeline) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (p *SpeechPipeline) clear(utt *utterance) {
	p.mu.Lock()
	if p.current == utt {
		p.current = nil
	}
	p.mu.Unlock()
}
