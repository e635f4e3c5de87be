package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Tale Weaver Server
type Config struct {
	// Настройки сервера
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	// Настройки AI (нарратив)
	AIClientType string        `envconfig:"AI_CLIENT_TYPE" default:"openai"` // openai или ollama
	AIAPIKey     string        `envconfig:"AI_API_KEY"`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AIMaxRetries int           `envconfig:"AI_MAX_RETRIES" default:"3"`

	// Бюджет токенов на окно истории в запросе к нарративу
	HistoryTokenBudget int `envconfig:"HISTORY_TOKEN_BUDGET" default:"2000"`

	// Настройки генерации изображений
	ImageModel        string        `envconfig:"IMAGE_MODEL" default:"dall-e-3"`
	ImageServerURL    string        `envconfig:"IMAGE_SERVER_URL"` // резервный локальный сервер (совместимый по протоколу с SANA), пусто = выключен
	ImageTimeout      time.Duration `envconfig:"IMAGE_TIMEOUT" default:"90s"`
	PromptStylePrefix string        `envconfig:"PROMPT_STYLE_PREFIX" default:"Cinematic digital art, high fantasy style, detailed lighting: "`

	// Настройки речи
	SpeechModel     string        `envconfig:"SPEECH_MODEL" default:"tts-1"`
	TranscribeModel string        `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1"`
	ListenWindow    time.Duration `envconfig:"LISTEN_WINDOW" default:"4s"`

	// Путь к локальному файлу снимка сессии
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" default:"tale-weaver.db"`
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log.Printf("Конфигурация Tale Weaver загружена:")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  AI Client: %s (model=%s, base=%s)", cfg.AIClientType, cfg.AIModel, cfg.AIBaseURL)
	if cfg.AIAPIKey != "" {
		log.Println("  AI API Key: [ЗАГРУЖЕН]")
	} else {
		log.Println("  AI API Key: [ОТСУТСТВУЕТ] (облачные уровни будут отключены)")
	}
	log.Printf("  Image Model: %s, Local Image Server: %q", cfg.ImageModel, cfg.ImageServerURL)
	log.Printf("  Listen Window: %v", cfg.ListenWindow)
	log.Printf("  Snapshot Path: %s", cfg.SnapshotPath)

	return &cfg, nil
}
