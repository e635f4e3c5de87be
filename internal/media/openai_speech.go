package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Голоса, известные облачному синтезу; незнакомый выбор сводится к onyx.
var cloudVoices = map[string]openai.SpeechVoice{
	"alloy":   openai.VoiceAlloy,
	"echo":    openai.VoiceEcho,
	"fable":   openai.VoiceFable,
	"onyx":    openai.VoiceOnyx,
	"nova":    openai.VoiceNova,
	"shimmer": openai.VoiceShimmer,
}

// openAISpeechSynthesizer - облачный уровень озвучки.
type openAISpeechSynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISpeechSynthesizer создает облачный синтезатор речи.
func NewOpenAISpeechSynthesizer(client *openai.Client, model string) Synthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &openAISpeechSynthesizer{client: client, model: openai.SpeechModel(model)}
}

func (s *openAISpeechSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	v, ok := cloudVoices[strings.ToLower(voice)]
	if !ok {
		v = openai.VoiceOnyx
	}
	if speed <= 0 {
		speed = 1.0
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          v,
		Speed:          speed,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech API call failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}
	return audio, nil
}
