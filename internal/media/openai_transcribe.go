package media

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openAITranscriber - облачный уровень транскрипции захваченного аудио.
type openAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber создает облачный транскрайбер.
func NewOpenAITranscriber(client *openai.Client, model string) Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &openAITranscriber{client: client, model: model}
}

func (t *openAITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "capture.wav", // имя нужно API для определения формата
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcription API call failed: %w", err)
	}
	return resp.Text, nil
}
