package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Choice представляет один вариант выбора игрока в сцене.
type Choice struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Action string `json:"action"`
	// UsedItem - имя предмета из инвентаря, который расходуется этим выбором.
	UsedItem string `json:"used_item,omitempty"`
}

// StatChanges - дельта характеристик персонажа, извлеченная из ответа генератора.
// Все поля опциональны; нулевые значения трактуются как "без изменений".
type StatChanges struct {
	Health      int    `json:"health,omitempty"`
	Sanity      int    `json:"sanity,omitempty"`
	Experience  int    `json:"experience,omitempty"`
	ItemFound   string `json:"item_found,omitempty"`
	StatusAdded string `json:"status_added,omitempty"`
}

// Scene - один повествовательный такт истории с иллюстрацией и выборами.
// После добавления в историю сцена неизменяема, кроме ImageURL,
// который переходит из пустого состояния в разрешенное.
type Scene struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Choices     []Choice     `json:"choices"`
	ImagePrompt string       `json:"image_prompt"`
	ImageURL    string       `json:"image_url,omitempty"`
	Location    string       `json:"location,omitempty"`
	StatChanges *StatChanges `json:"stat_changes,omitempty"`
}

// CharacterState - ограниченная числовая/инвентарная модель персонажа.
// Инварианты: 0 <= Health <= MaxHealth, 0 <= Sanity <= 100,
// Experience не убывает. Мутируется только движком character.
type CharacterState struct {
	Health        int      `json:"health"`
	MaxHealth     int      `json:"max_health"`
	Sanity        int      `json:"sanity"`
	Experience    int      `json:"experience"`
	Inventory     []string `json:"inventory"`
	StatusEffects []string `json:"status_effects"`
}

// NewCharacterState возвращает начальное состояние персонажа новой сессии.
func NewCharacterState() CharacterState {
	return CharacterState{
		Health:        100,
		MaxHealth:     100,
		Sanity:        100,
		Experience:    0,
		Inventory:     []string{},
		StatusEffects: []string{},
	}
}

// Summary возвращает краткое текстовое описание персонажа для промпта генератора.
func (c CharacterState) Summary() string {
	return fmt.Sprintf("Health %d/%d, Sanity %d/100, Experience %d, Inventory: %v, Status effects: %v",
		c.Health, c.MaxHealth, c.Sanity, c.Experience, c.Inventory, c.StatusEffects)
}

// Preferences - настройки озвучки и распознавания, сохраняемые в снимке.
type Preferences struct {
	AutoNarrate bool    `json:"auto_narrate"` // озвучивать каждую новую сцену
	AutoListen  bool    `json:"auto_listen"`  // начинать слушать после озвучки
	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed"`
}

// DefaultPreferences возвращает настройки по умолчанию.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoNarrate: true,
		AutoListen:  true,
		Voice:       "onyx",
		Speed:       1.0,
	}
}

// Phase - состояние конечного автомата сессии.
type Phase string

const (
	PhaseIdle         Phase = "idle"         // нет активной сессии
	PhaseGenerating   Phase = "generating"   // запрос нарратива в полете
	PhaseIllustrating Phase = "illustrating" // запрос иллюстрации в полете
	PhaseActive       Phase = "active"       // сцена готова, ждем ввода игрока
	PhaseListening    Phase = "listening"    // идет захват голосового ввода
)

// Session - живое состояние игровой сессии.
// CurrentScene == nil означает отсутствие активной игры.
type Session struct {
	Theme        string         `json:"theme"`
	CurrentScene *Scene         `json:"current_scene"`
	History      []Scene        `json:"history"` // только добавление, от старых к новым
	Character    CharacterState `json:"character"`
	Preferences  Preferences    `json:"preferences"`
	// ViewingIndex - указатель чтения в History; nil = игрок смотрит живую сцену.
	// Не сохраняется в снимке.
	ViewingIndex *int `json:"-"`
}

// NewSession возвращает пустую сессию с настройками по умолчанию.
func NewSession() Session {
	return Session{
		History:     []Scene{},
		Character:   NewCharacterState(),
		Preferences: DefaultPreferences(),
	}
}

// Snapshot - санированное представление сессии для долговременного хранилища.
// Волатильные флаги и встроенные бинарные изображения сюда не попадают.
type Snapshot struct {
	Theme        string         `json:"theme"`
	History      []Scene        `json:"history"`
	CurrentScene *Scene         `json:"current_scene"`
	Character    CharacterState `json:"character"`
	Preferences  Preferences    `json:"preferences"`
}
