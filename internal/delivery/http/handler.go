// Package http - REST-интерфейс контроллера сессии.
package http

import (
	"context"
	"errors"
	"net/http"

	"tale-weaver/internal/domain"
	"tale-weaver/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError - стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// StartRequest - тело запроса начала новой истории.
type StartRequest struct {
	Theme string `json:"theme" binding:"required"`
}

// ChoiceRequest - тело запроса выбора из текущей сцены.
type ChoiceRequest struct {
	ChoiceID string `json:"choice_id" binding:"required"`
}

// ActionRequest - тело запроса свободного действия.
type ActionRequest struct {
	Action string `json:"action" binding:"required"`
}

// ViewRequest - тело запроса просмотра прошлой сцены.
type ViewRequest struct {
	Index int `json:"index"`
}

// PreferencesRequest - тело запроса обновления настроек озвучки.
type PreferencesRequest struct {
	AutoNarrate bool    `json:"auto_narrate"`
	AutoListen  bool    `json:"auto_listen"`
	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed" binding:"required"`
}

// TranscriptResponse - результат голосового ввода.
type TranscriptResponse struct {
	Transcript string `json:"transcript"`
}

// SessionController - операции контроллера сессии, нужные транспорту.
type SessionController interface {
	State() session.State
	Start(ctx context.Context, theme string) error
	SubmitChoice(ctx context.Context, choiceID string) error
	SubmitAction(ctx context.Context, action string) error
	Listen(ctx context.Context) (string, error)
	Narrate(ctx context.Context) error
	StopNarration()
	ViewScene(index int) error
	ViewLive()
	SetPreferences(prefs domain.Preferences) error
	Reset()
}

// SessionHandler обрабатывает HTTP-запросы игровой сессии.
type SessionHandler struct {
	controller SessionController
	logger     *zap.Logger
}

// NewSessionHandler создает новый SessionHandler.
func NewSessionHandler(controller SessionController, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		logger:     logger.Named("SessionHandler"),
	}
}

// RegisterRoutes регистрирует маршруты сессии.
func (h *SessionHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/session")
	{
		api.GET("", h.getState)
		api.POST("/start", h.start)
		api.POST("/choice", h.submitChoice)
		api.POST("/action", h.submitAction)
		api.POST("/listen", h.listen)
		api.POST("/narrate", h.narrate)
		api.POST("/narrate/stop", h.stopNarration)
		api.POST("/view", h.viewScene)
		api.POST("/view/live", h.viewLive)
		api.PUT("/preferences", h.setPreferences)
		api.POST("/reset", h.reset)
	}
}

func (h *SessionHandler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *SessionHandler) start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	if err := h.controller.Start(c.Request.Context(), req.Theme); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	// Генерация асинхронна: клиент следит за фазой через GET или websocket
	c.JSON(http.StatusAccepted, h.controller.State())
}

func (h *SessionHandler) submitChoice(c *gin.Context) {
	var req ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	if err := h.controller.SubmitChoice(c.Request.Context(), req.ChoiceID); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, h.controller.State())
}

func (h *SessionHandler) submitAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	if err := h.controller.SubmitAction(c.Request.Context(), req.Action); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, h.controller.State())
}

func (h *SessionHandler) listen(c *gin.Context) {
	transcript, err := h.controller.Listen(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, TranscriptResponse{Transcript: transcript})
}

func (h *SessionHandler) narrate(c *gin.Context) {
	if err := h.controller.Narrate(c.Request.Context()); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) stopNarration(c *gin.Context) {
	h.controller.StopNarration()
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) viewScene(c *gin.Context) {
	var req ViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	if err := h.controller.ViewScene(req.Index); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *SessionHandler) viewLive(c *gin.Context) {
	h.controller.ViewLive()
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *SessionHandler) setPreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	prefs := domain.Preferences{
		AutoNarrate: req.AutoNarrate,
		AutoListen:  req.AutoListen,
		Voice:       req.Voice,
		Speed:       req.Speed,
	}
	if err := h.controller.SetPreferences(prefs); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *SessionHandler) reset(c *gin.Context) {
	h.controller.Reset()
	c.JSON(http.StatusOK, h.controller.State())
}

// handleServiceError переводит доменные ошибки в HTTP-статусы.
func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var statusCode int

	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrBadRequest):
		statusCode = http.StatusBadRequest
	case errors.Is(err, domain.ErrChoiceNotFound), errors.Is(err, domain.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrSessionActive),
		errors.Is(err, domain.ErrGenerationInProgress),
		errors.Is(err, domain.ErrListeningInProgress):
		statusCode = http.StatusConflict
	case errors.Is(err, domain.ErrQuotaExhausted):
		statusCode = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAccessDenied):
		statusCode = http.StatusForbidden
	case errors.Is(err, domain.ErrVoiceUnavailable), errors.Is(err, domain.ErrMicUnavailable):
		statusCode = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGenerationFailed), errors.Is(err, domain.ErrMalformedGeneration):
		// Ретраябельно повторной отправкой того же действия
		statusCode = http.StatusBadGateway
	default:
		logger.Error("Unhandled internal error", zap.Error(err))
		statusCode = http.StatusInternalServerError
		c.AbortWithStatusJSON(statusCode, APIError{Message: "An unexpected internal error occurred"})
		return
	}

	c.AbortWithStatusJSON(statusCode, APIError{Message: err.Error()})
}
