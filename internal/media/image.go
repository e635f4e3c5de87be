package media

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ImageProvider - один ранжированный уровень конвейера иллюстраций.
type ImageProvider interface {
	Name() string
	// Generate возвращает ссылку на изображение: data URI или внешний URL.
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImagePipeline - многоуровневый конвейер синтеза иллюстраций.
// Переход к следующему реальному уровню происходит только при отказе вида
// quota; любой другой отказ сразу уводит на детерминированную заглушку.
// Synthesize никогда не возвращает ошибку: UI всегда получает рабочую ссылку.
type ImagePipeline struct {
	logger      *zap.Logger
	providers   []ImageProvider
	stylePrefix string
}

// NewImagePipeline создает конвейер. providers перечислены от основного к резервному.
func NewImagePipeline(logger *zap.Logger, stylePrefix string, providers ...ImageProvider) *ImagePipeline {
	return &ImagePipeline{
		logger:      logger.Named("image_pipeline"),
		providers:   providers,
		stylePrefix: stylePrefix,
	}
}

// Synthesize возвращает ссылку на иллюстрацию для промпта.
func (p *ImagePipeline) Synthesize(ctx context.Context, prompt string) string {
	start := time.Now()
	defer func() {
		observeDuration("image", time.Since(start).Seconds())
	}()

	fullPrompt := p.stylePrefix + prompt

	for i, provider := range p.providers {
		ref, err := provider.Generate(ctx, fullPrompt)
		if err == nil && ref != "" {
			observeTier("image", provider.Name(), FailureNone)
			p.logger.Debug("Image tier succeeded", zap.String("tier", provider.Name()))
			return ref
		}
		if err == nil {
			err = fmt.Errorf("provider %s returned empty image reference", provider.Name())
		}

		kind := Classify(err)
		observeTier("image", provider.Name(), kind)

		if kind == FailureQuota && i+1 < len(p.providers) {
			// Тихая деградация на соседний уровень
			p.logger.Debug("Image tier exhausted quota, advancing",
				zap.String("tier", provider.Name()), zap.Error(err))
			continue
		}

		if kind == FailureTransient {
			p.logger.Warn("Image tier failed, using placeholder",
				zap.String("tier", provider.Name()), zap.Error(err))
		} else {
			p.logger.Debug("Image tier failed, using placeholder",
				zap.String("tier", provider.Name()), zap.String("kind", kind.String()), zap.Error(err))
		}
		break
	}

	return PlaceholderURL(prompt)
}

// PlaceholderURL возвращает детерминированную ссылку-заглушку, ключом которой
// служит кодировка промпта: одинаковый промпт дает одинаковую ссылку.
func PlaceholderURL(prompt string) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/1200/675", url.PathEscape(prompt))
}
