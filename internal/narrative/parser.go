package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	"tale-weaver/internal/domain"

	"github.com/google/uuid"
)

// sceneWire - форма JSON, которую обязан вернуть генератор.
type sceneWire struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	ImagePrompt string              `json:"image_prompt"`
	// Некоторые модели упорно отвечают camelCase, принимаем оба написания
	ImagePromptAlt string             `json:"imagePrompt"`
	Location       string             `json:"location"`
	Choices        []choiceWire       `json:"choices"`
	StatChanges    *domain.StatChanges `json:"stat_changes"`
}

type choiceWire struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Action   string `json:"action"`
	UsedItem string `json:"used_item"`
}

// ParseSceneResponse разбирает сырой ответ модели в доменную сцену.
// Обрезает markdown-ограждения и посторонний текст вокруг JSON, затем
// проверяет обязательные поля. Любое нарушение формы - ErrMalformedGeneration.
func ParseSceneResponse(raw string) (*domain.Scene, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedGeneration, err)
	}

	var wire sceneWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("%w: невалидный JSON: %v", domain.ErrMalformedGeneration, err)
	}

	imagePrompt := wire.ImagePrompt
	if imagePrompt == "" {
		imagePrompt = wire.ImagePromptAlt
	}

	switch {
	case strings.TrimSpace(wire.Title) == "":
		return nil, fmt.Errorf("%w: отсутствует поле title", domain.ErrMalformedGeneration)
	case strings.TrimSpace(wire.Description) == "":
		return nil, fmt.Errorf("%w: отсутствует поле description", domain.ErrMalformedGeneration)
	case strings.TrimSpace(imagePrompt) == "":
		return nil, fmt.Errorf("%w: отсутствует поле image_prompt", domain.ErrMalformedGeneration)
	case len(wire.Choices) == 0:
		return nil, fmt.Errorf("%w: сцена без вариантов выбора", domain.ErrMalformedGeneration)
	}

	choices := make([]domain.Choice, 0, len(wire.Choices))
	for i, cw := range wire.Choices {
		if strings.TrimSpace(cw.Text) == "" || strings.TrimSpace(cw.Action) == "" {
			return nil, fmt.Errorf("%w: выбор #%d без text или action", domain.ErrMalformedGeneration, i)
		}
		id := cw.ID
		if id == "" {
			id = uuid.New().String()
		}
		choices = append(choices, domain.Choice{
			ID:       id,
			Text:     cw.Text,
			Action:   cw.Action,
			UsedItem: cw.UsedItem,
		})
	}

	return &domain.Scene{
		ID:          uuid.New(),
		Title:       wire.Title,
		Description: wire.Description,
		ImagePrompt: imagePrompt,
		Location:    wire.Location,
		Choices:     choices,
		StatChanges: wire.StatChanges,
	}, nil
}

// extractJSONObject вырезает первый сбалансированный JSON-объект из текста,
// игнорируя скобки внутри строковых литералов.
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Снимаем markdown-ограждение целиком, если оно есть
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("в ответе нет JSON-объекта")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("JSON-объект не закрыт")
}
