package narrative

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tale-weaver/internal/domain"

	"github.com/pkoukk/tiktoken-go"
)

// defaultSystemPrompt - встроенный системный промпт; используется, когда
// файл prompts/scene_system.md не найден рядом с бинарем.
const defaultSystemPrompt = `You are a master storyteller running a dark, atmospheric interactive adventure.
Respond with a single JSON object and nothing else. The object must contain:
- "title": a short evocative scene title
- "description": 2-4 paragraphs of vivid second-person narration
- "image_prompt": a detailed visual description of the scene for an image model
- "location": a short name of the current place
- "choices": an array of 2-4 objects, each with "text" (what the player sees) and "action" (the causal action to feed back), optionally "used_item" naming an inventory item the choice consumes
- "stat_changes": optional object with integer "health", "sanity", "experience" deltas, optional "item_found" and "status_added" strings
Keep the story coherent with the provided context. Never include markdown fences.`

const systemPromptFile = "scene_system.md"

// loadSystemPrompt читает промпт из каталога prompts, иначе отдает встроенный.
func loadSystemPrompt() string {
	path := filepath.Join("prompts", systemPromptFile)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Str("path", path).Msg("Файл системного промпта не найден, используется встроенный")
		return defaultSystemPrompt
	}
	log.Info().Str("path", path).Msg("Системный промпт загружен из файла")
	return string(data)
}

// buildUserPrompt собирает пользовательскую часть запроса: команда игрока
// плюс окно истории, ограниченное бюджетом токенов.
func buildUserPrompt(req Request, tokenBudget int, modelName string) string {
	var sb strings.Builder

	if strings.TrimSpace(req.Theme) != "" {
		fmt.Fprintf(&sb, "Start a new interactive adventure story based on the theme: %q.\n", req.Theme)
	} else {
		if req.ChoiceText != "" {
			fmt.Fprintf(&sb, "The player chose: %q.\n", req.ChoiceText)
		}
		fmt.Fprintf(&sb, "Continue the story based on the player's action: %q.\n", req.Action)
	}

	if window := historyWindow(req.History, tokenBudget, modelName); window != "" {
		sb.WriteString("\nStory so far (oldest first):\n")
		sb.WriteString(window)
	}

	fmt.Fprintf(&sb, "\nCharacter: %s\n", req.Character.Summary())
	return sb.String()
}

// historyWindow возвращает хвост истории, умещающийся в бюджет токенов.
// Сцены берутся от новейшей к старейшей, пока бюджет не исчерпан, и
// возвращаются в хронологическом порядке.
func historyWindow(history []domain.Scene, tokenBudget int, modelName string) string {
	if len(history) == 0 || tokenBudget <= 0 {
		return ""
	}

	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		// Для неизвестных моделей считаем токены универсальной кодировкой
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}

	countTokens := func(s string) int {
		if enc == nil {
			// Грубая оценка: ~4 символа на токен
			return len(s) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}

	blocks := make([]string, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		scene := history[i]
		block := fmt.Sprintf("[%s] %s\n%s\n", scene.Location, scene.Title, scene.Description)
		cost := countTokens(block)
		if used+cost > tokenBudget && len(blocks) > 0 {
			break
		}
		blocks = append(blocks, block)
		used += cost
		if used >= tokenBudget {
			break
		}
	}

	// Разворачиваем обратно в хронологический порядок
	var sb strings.Builder
	for i := len(blocks) - 1; i >= 0; i-- {
		sb.WriteString(blocks[i])
	}
	return sb.String()
}
