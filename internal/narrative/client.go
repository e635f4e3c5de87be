// Package narrative - клиент внешнего генератора повествования.
// Поддерживает облачный (openai) и локальный (ollama) бэкенды за одним
// интерфейсом; выбор делается конфигурацией и пробой возможностей.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tale-weaver/internal/capability"
	"tale-weaver/internal/config"
	"tale-weaver/internal/domain"

	ollamaapi "github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// Generator - граница возможности "генератор повествования".
type Generator interface {
	// GenerateScene генерирует следующую сцену по теме или действию игрока.
	GenerateScene(ctx context.Context, req Request) (*domain.Scene, error)
}

// Request - запрос на продолжение истории.
// Ровно одно из Theme/Action должно быть непустым.
type Request struct {
	Theme      string // тема новой истории
	Action     string // причинное действие принятого выбора
	ChoiceText string // текст, который видел игрок (для контекста)
	History    []domain.Scene
	Character  domain.CharacterState
}

// aiClient - низкоуровневый текстовый бэкенд (openai или ollama).
type aiClient interface {
	generateText(ctx context.Context, systemPrompt, userInput string) (string, error)
}

// Client реализует Generator поверх выбранного бэкенда.
type Client struct {
	ai           aiClient
	modelName    string
	timeout      time.Duration
	maxRetries   int
	tokenBudget  int
	systemPrompt string
}

// New создает клиент генератора. При недоступности облака (нет ключа или
// зафиксирован отказ в доступе) и заданном типе openai возвращается ошибка
// конфигурации только если ollama тоже не настроена.
func New(cfg *config.Config, probe *capability.Probe) (*Client, error) {
	clientType := strings.ToLower(cfg.AIClientType)
	if clientType == "openai" && !probe.CloudAvailable() {
		// Облачный уровень не предлагается; пробуем локальный бэкенд
		log.Warn().Msg("Облачный генератор недоступен, переключаемся на ollama")
		clientType = "ollama"
	}

	var (
		ai  aiClient
		err error
	)
	switch clientType {
	case "openai":
		ai = newOpenAIBackend(cfg)
	case "ollama":
		ai, err = newOllamaBackend(cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}

	return &Client{
		ai:           ai,
		modelName:    cfg.AIModel,
		timeout:      cfg.AITimeout,
		maxRetries:   cfg.AIMaxRetries,
		tokenBudget:  cfg.HistoryTokenBudget,
		systemPrompt: loadSystemPrompt(),
	}, nil
}

// GenerateScene запрашивает сцену, с повторами на временных сбоях и
// невалидном JSON. Отказы квоты/доступа не ретраятся автоматически.
func (c *Client) GenerateScene(ctx context.Context, req Request) (*domain.Scene, error) {
	if strings.TrimSpace(req.Theme) == "" && strings.TrimSpace(req.Action) == "" {
		return nil, fmt.Errorf("%w: theme or action is required", domain.ErrInvalidInput)
	}

	userPrompt := buildUserPrompt(req, c.tokenBudget, c.modelName)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	attempts := 0
	for attempts < c.maxRetries {
		attempts++

		log.Debug().Str("model", c.modelName).Int("attempt", attempts).Msg("Отправка запроса к генератору сцен")
		raw, err := c.ai.generateText(ctx, c.systemPrompt, userPrompt)
		if err != nil {
			if !isRetryable(err) || attempts >= c.maxRetries {
				return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
			}
			log.Warn().Err(err).Int("attempt", attempts).Msg("Сбой генератора, повтор")
			time.Sleep(time.Duration(attempts) * time.Second)
			continue
		}

		scene, perr := ParseSceneResponse(raw)
		if perr != nil {
			if attempts >= c.maxRetries {
				return nil, perr
			}
			log.Warn().Err(perr).Int("attempt", attempts).Msg("Ответ генератора не прошел проверку формы, повтор")
			time.Sleep(time.Duration(attempts) * time.Second)
			continue
		}

		log.Info().Str("model", c.modelName).Str("title", scene.Title).Int("attempt", attempts).Msg("Сцена сгенерирована")
		return scene, nil
	}

	return nil, fmt.Errorf("%w: не удалось получить валидный ответ после %d попыток", domain.ErrGenerationFailed, c.maxRetries)
}

// isRetryable: ретраем только временные сбои и пустые ответы.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

// --- OpenAI бэкенд ---

type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(cfg *config.Config) aiClient {
	openaiConfig := openai.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
	client := openai.NewClientWithConfig(openaiConfig)
	log.Info().Str("base_url", cfg.AIBaseURL).Str("model", cfg.AIModel).Msg("OpenAI бэкенд нарратива создан")
	return &openAIBackend{client: client, model: cfg.AIModel}
}

func (b *openAIBackend) generateText(ctx context.Context, systemPrompt, userInput string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userInput},
		},
		Temperature: 0.8,
		MaxTokens:   2000,
		TopP:        0.95,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("пустой ответ от API: не получены варианты")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Ollama бэкенд ---

type ollamaBackend struct {
	client *ollamaapi.Client
	model  string
}

func newOllamaBackend(cfg *config.Config) (aiClient, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.Contains(baseURL, "api.openai.com") {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}

	client := ollamaapi.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout})
	log.Info().Str("base_url", baseURL).Str("model", cfg.AIModel).Msg("Ollama бэкенд нарратива создан")
	return &ollamaBackend{client: client, model: cfg.AIModel}, nil
}

func (b *ollamaBackend) generateText(ctx context.Context, systemPrompt, userInput string) (string, error) {
	stream := false
	req := &ollamaapi.ChatRequest{
		Model: b.model,
		Messages: []ollamaapi.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userInput},
		},
		Stream: &stream,
		Format: []byte(`"json"`),
	}

	var resp ollamaapi.ChatResponse
	err := b.client.Chat(ctx, req, func(r ollamaapi.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return "", err
	}
	if resp.Message.Content == "" {
		return "", errors.New("получен пустой ответ от Ollama")
	}
	return resp.Message.Content, nil
}
