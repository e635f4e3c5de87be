// Package character реализует чистый движок мутации состояния персонажа.
// Никакого I/O: все функции принимают состояние по значению и возвращают новое.
package character

import (
	"strings"

	"tale-weaver/internal/domain"
)

// ApplyDelta применяет дельту характеристик к состоянию персонажа.
// Нераспознанные или нулевые поля дельты - no-op; nil дельта возвращает
// состояние без изменений. Инварианты 0 <= Health <= MaxHealth и
// 0 <= Sanity <= 100 сохраняются для любой дельты.
func ApplyDelta(state domain.CharacterState, delta *domain.StatChanges) domain.CharacterState {
	if delta == nil {
		return state
	}

	next := state
	next.Inventory = append([]string(nil), state.Inventory...)
	next.StatusEffects = append([]string(nil), state.StatusEffects...)

	next.Health = clamp(state.Health+delta.Health, 0, state.MaxHealth)
	next.Sanity = clamp(state.Sanity+delta.Sanity, 0, 100)
	if delta.Experience > 0 {
		next.Experience = state.Experience + delta.Experience
	}

	// Генератор - свободный текст и часто присылает "null"/"none" вместо
	// отсутствия предмета. Фильтрация этих сентинелов - правило корректности.
	if item := strings.TrimSpace(delta.ItemFound); !isNoItemSentinel(item) {
		next.Inventory = append(next.Inventory, item)
	}

	if status := strings.TrimSpace(delta.StatusAdded); status != "" {
		next.StatusEffects = append(next.StatusEffects, status)
	}

	return next
}

// ConsumeItem удаляет первый предмет инвентаря с точным совпадением имени.
// Возвращает новое состояние и признак того, что предмет был найден.
// Вызывается в момент принятия выбора, до запроса генерации.
func ConsumeItem(state domain.CharacterState, name string) (domain.CharacterState, bool) {
	if name == "" {
		return state, false
	}
	for i, item := range state.Inventory {
		if item == name {
			next := state
			next.Inventory = make([]string, 0, len(state.Inventory)-1)
			next.Inventory = append(next.Inventory, state.Inventory[:i]...)
			next.Inventory = append(next.Inventory, state.Inventory[i+1:]...)
			return next, true
		}
	}
	return state, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isNoItemSentinel(item string) bool {
	switch strings.ToLower(item) {
	case "", "null", "none":
		return true
	}
	return false
}
