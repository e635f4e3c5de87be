package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// localImageRequest - тело запроса к локальному серверу генерации.
type localImageRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// localImageProvider - резервный уровень: недорогой локальный сервер
// генерации изображений (POST /generate -> сырые байты изображения).
type localImageProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewLocalImageProvider создает провайдер для локального сервера генерации.
func NewLocalImageProvider(baseURL string, timeout time.Duration, logger *zap.Logger) ImageProvider {
	return &localImageProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("local_image"),
	}
}

func (p *localImageProvider) Name() string { return "local" }

func (p *localImageProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(localImageRequest{Prompt: prompt, Ratio: "16:9"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := p.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Local image server returned non-OK status",
			zap.Int("status_code", resp.StatusCode), zap.ByteString("response_body", body))
		return "", fmt.Errorf("image server returned status %d: %s", resp.StatusCode, string(body))
	}
	if readErr != nil {
		return "", fmt.Errorf("failed to read response body: %w", readErr)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("image server returned empty data")
	}

	p.logger.Debug("Image received from local server", zap.Int("size_bytes", len(body)))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(body), nil
}
