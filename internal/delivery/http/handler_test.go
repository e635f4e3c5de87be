package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tale-weaver/internal/domain"
	"tale-weaver/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) State() session.State {
	return m.Called().Get(0).(session.State)
}

func (m *mockController) Start(ctx context.Context, theme string) error {
	return m.Called(ctx, theme).Error(0)
}

func (m *mockController) SubmitChoice(ctx context.Context, choiceID string) error {
	return m.Called(ctx, choiceID).Error(0)
}

func (m *mockController) SubmitAction(ctx context.Context, action string) error {
	return m.Called(ctx, action).Error(0)
}

func (m *mockController) Listen(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockController) Narrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockController) StopNarration() { m.Called() }

func (m *mockController) ViewScene(index int) error {
	return m.Called(index).Error(0)
}

func (m *mockController) ViewLive() { m.Called() }

func (m *mockController) SetPreferences(prefs domain.Preferences) error {
	return m.Called(prefs).Error(0)
}

func (m *mockController) Reset() { m.Called() }

func idleState() session.State {
	return session.State{Phase: domain.PhaseIdle, Session: domain.NewSession()}
}

func setupRouter(ctrl *mockController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewSessionHandler(ctrl, zap.NewNop()).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionHandlerStart(t *testing.T) {
	t.Run("Accepted start returns 202 with state", func(t *testing.T) {
		ctrl := &mockController{}
		ctrl.On("Start", mock.Anything, "cursed castle").Return(nil)
		ctrl.On("State").Return(idleState())

		w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/start", StartRequest{Theme: "cursed castle"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		ctrl.AssertExpectations(t)
	})

	t.Run("Missing theme fails binding with 400", func(t *testing.T) {
		ctrl := &mockController{}
		w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/start", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		ctrl.AssertNotCalled(t, "Start")
	})

	t.Run("Active session maps to 409", func(t *testing.T) {
		ctrl := &mockController{}
		ctrl.On("Start", mock.Anything, "another").Return(domain.ErrSessionActive)

		w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/start", StartRequest{Theme: "another"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSessionHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"choice not found", domain.ErrChoiceNotFound, http.StatusNotFound},
		{"no session", domain.ErrNoActiveSession, http.StatusConflict},
		{"generation in flight", domain.ErrGenerationInProgress, http.StatusConflict},
		{"quota", domain.ErrQuotaExhausted, http.StatusTooManyRequests},
		{"access", domain.ErrAccessDenied, http.StatusForbidden},
		{"mic unavailable", domain.ErrMicUnavailable, http.StatusServiceUnavailable},
		{"generation failed", domain.ErrGenerationFailed, http.StatusBadGateway},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &mockController{}
			ctrl.On("SubmitChoice", mock.Anything, "c1").Return(tc.err)

			w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/choice", ChoiceRequest{ChoiceID: "c1"})
			assert.Equal(t, tc.want, w.Code)

			var apiErr APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestSessionHandlerListen(t *testing.T) {
	ctrl := &mockController{}
	ctrl.On("Listen", mock.Anything).Return("open the gate", nil)

	w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/listen", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TranscriptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open the gate", resp.Transcript)
}

func TestSessionHandlerPreferences(t *testing.T) {
	t.Run("Valid preferences are applied", func(t *testing.T) {
		ctrl := &mockController{}
		want := domain.Preferences{AutoNarrate: true, AutoListen: false, Voice: "nova", Speed: 1.25}
		ctrl.On("SetPreferences", want).Return(nil)
		ctrl.On("State").Return(idleState())

		w := doJSON(t, setupRouter(ctrl), http.MethodPut, "/api/session/preferences", PreferencesRequest{
			AutoNarrate: true, Voice: "nova", Speed: 1.25,
		})
		assert.Equal(t, http.StatusOK, w.Code)
		ctrl.AssertExpectations(t)
	})

	t.Run("Out-of-range speed maps to 400", func(t *testing.T) {
		ctrl := &mockController{}
		ctrl.On("SetPreferences", mock.Anything).Return(domain.ErrInvalidInput)

		w := doJSON(t, setupRouter(ctrl), http.MethodPut, "/api/session/preferences", PreferencesRequest{Voice: "onyx", Speed: 9})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionHandlerReset(t *testing.T) {
	ctrl := &mockController{}
	ctrl.On("Reset").Return()
	ctrl.On("State").Return(idleState())

	w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	ctrl.AssertExpectations(t)
}

func TestSessionHandlerView(t *testing.T) {
	ctrl := &mockController{}
	ctrl.On("ViewScene", 2).Return(nil)
	ctrl.On("State").Return(idleState())

	w := doJSON(t, setupRouter(ctrl), http.MethodPost, "/api/session/view", ViewRequest{Index: 2})
	assert.Equal(t, http.StatusOK, w.Code)
	ctrl.AssertExpectations(t)
}
