package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"tale-weaver/internal/domain"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureNone},
		{"structured 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, FailureQuota},
		{"structured 401", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, FailureAccess},
		{"structured 403", &openai.APIError{HTTPStatusCode: http.StatusForbidden}, FailureAccess},
		{"structured 400", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, FailureInput},
		{"structured 500", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}, FailureTransient},
		{"wrapped structured", fmt.Errorf("call failed: %w", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}), FailureQuota},
		{"domain quota", domain.ErrQuotaExhausted, FailureQuota},
		{"domain voice", domain.ErrVoiceUnavailable, FailureCapability},
		{"domain mic wrapped", fmt.Errorf("%w: no device", domain.ErrMicUnavailable), FailureCapability},
		{"domain input", domain.ErrInvalidInput, FailureInput},
		{"context deadline", context.DeadlineExceeded, FailureTransient},
		// Подстрочный разбор - последний рубеж для непрозрачных ошибок
		{"opaque quota", errors.New("RESOURCE_EXHAUSTED: quota exceeded"), FailureQuota},
		{"opaque rate limit", errors.New("rate limit reached for requests"), FailureQuota},
		{"opaque api key", errors.New("incorrect API key provided"), FailureAccess},
		{"opaque unsupported", errors.New("speech synthesis not supported"), FailureCapability},
		{"opaque network", errors.New("connection refused"), FailureTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
