package domain

import "errors"

// Стандартные ошибки приложения
var (
	// Валидация ввода
	ErrInvalidInput = errors.New("invalid input data")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("resource not found")

	// Жизненный цикл сессии
	ErrNoActiveSession      = errors.New("no active session")
	ErrSessionActive        = errors.New("session is already active")
	ErrGenerationInProgress = errors.New("generation is already in progress")
	ErrListeningInProgress  = errors.New("listening is already in progress")
	ErrChoiceNotFound       = errors.New("choice not found in current scene")

	// Генерация
	ErrGenerationFailed    = errors.New("scene generation failed")
	ErrMalformedGeneration = errors.New("generation output is missing required fields")

	// Медиа-конвейеры
	ErrVoiceUnavailable = errors.New("voice synthesis unavailable")
	ErrMicUnavailable   = errors.New("speech capture unavailable")
	ErrQuotaExhausted   = errors.New("quota or rate limit exhausted")
	ErrAccessDenied     = errors.New("access denied by provider")

	ErrInternalServer = errors.New("internal server error")
)
