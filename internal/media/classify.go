package media

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tale-weaver/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// FailureKind - общая таксономия отказов медиа-конвейеров.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureQuota - квота/лимит запросов; молча переходим на следующий уровень.
	FailureQuota
	// FailureCapability - возможность отсутствует (нет движка, нет микрофона).
	FailureCapability
	// FailureAccess - отказ в доступе/учетных данных; сообщается пробе.
	FailureAccess
	// FailureTransient - сетевая/временная ошибка; переход с логированием.
	FailureTransient
	// FailureInput - негодный ввод; отклоняется до вызова конвейера.
	FailureInput
)

// String возвращает метку вида отказа для логов и метрик.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureQuota:
		return "quota"
	case FailureCapability:
		return "capability"
	case FailureAccess:
		return "access"
	case FailureTransient:
		return "transient"
	case FailureInput:
		return "input"
	}
	return "unknown"
}

// Classify относит ошибку провайдера к виду отказа.
// Сначала структурные признаки (*openai.APIError, контекст, доменные ошибки),
// и только для непрозрачных ошибок - подстроки. Подстрочный разбор оставлен
// как последний рубеж для провайдеров без структурных кодов.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrBadRequest) {
		return FailureInput
	}
	if errors.Is(err, domain.ErrVoiceUnavailable) || errors.Is(err, domain.ErrMicUnavailable) {
		return FailureCapability
	}
	if errors.Is(err, domain.ErrQuotaExhausted) {
		return FailureQuota
	}
	if errors.Is(err, domain.ErrAccessDenied) {
		return FailureAccess
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return FailureQuota
		case http.StatusUnauthorized, http.StatusForbidden:
			return FailureAccess
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return FailureInput
		case http.StatusNotFound, http.StatusNotImplemented:
			return FailureCapability
		default:
			return FailureTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "429"):
		return FailureQuota
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden"):
		return FailureAccess
	case strings.Contains(msg, "not supported") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "no such model"):
		return FailureCapability
	}
	return FailureTransient
}
