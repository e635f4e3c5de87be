package media

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIImageProvider - основной (облачный) уровень синтеза иллюстраций.
type openAIImageProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIImageProvider создает облачный провайдер изображений.
func NewOpenAIImageProvider(client *openai.Client, model string, logger *zap.Logger) ImageProvider {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &openAIImageProvider{
		client: client,
		model:  model,
		logger: logger.Named("openai_image"),
	}
}

func (p *openAIImageProvider) Name() string { return "openai" }

// Generate запрашивает изображение 16:9 и возвращает его как data URI.
func (p *openAIImageProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           openai.CreateImageSize1792x1024, // ближайший к 16:9 размер API
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image API call failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("image API returned no image data")
	}

	p.logger.Debug("Image generated", zap.String("model", p.model), zap.Int("b64_len", len(resp.Data[0].B64JSON)))
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}
