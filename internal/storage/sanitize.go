package storage

import (
	"strings"

	"tale-weaver/internal/domain"
	"tale-weaver/internal/media"
)

// Sanitize возвращает копию снимка, пригодную для долговременного хранения.
// Встроенные бинарные изображения (data:-URI) раздувают снимок на мегабайты,
// поэтому заменяются детерминированной заглушкой по промпту сцены - при
// восстановлении ссылка остается рабочей. Волатильные флаги (генерация,
// озвучка, прослушивание, ошибки) в тип снимка не входят по построению.
func Sanitize(snap *domain.Snapshot) *domain.Snapshot {
	clean := &domain.Snapshot{
		Theme:       snap.Theme,
		History:     make([]domain.Scene, len(snap.History)),
		Character:   snap.Character,
		Preferences: snap.Preferences,
	}
	for i, scene := range snap.History {
		clean.History[i] = sanitizeScene(scene)
	}
	if snap.CurrentScene != nil {
		scene := sanitizeScene(*snap.CurrentScene)
		clean.CurrentScene = &scene
	}
	return clean
}

func sanitizeScene(scene domain.Scene) domain.Scene {
	if strings.HasPrefix(scene.ImageURL, "data:") {
		scene.ImageURL = media.PlaceholderURL(scene.ImagePrompt)
	}
	scene.Choices = append([]domain.Choice(nil), scene.Choices...)
	return scene
}
