// Package capability отвечает на вопрос "доступны ли облачные уровни":
// ключ задан и провайдер не отказал в доступе.
package capability

import "sync/atomic"

// Probe опрашивается один раз на старте (выбор провайдеров) и конвейерами
// перед каждым облачным вызовом. После отказа в доступе (401/403) облачные
// уровни не предлагаются до перезапуска процесса.
type Probe struct {
	hasKey bool
	denied atomic.Bool
}

// NewProbe создает пробу. hasKey = true, если API ключ сконфигурирован.
func NewProbe(hasKey bool) *Probe {
	return &Probe{hasKey: hasKey}
}

// CloudAvailable сообщает, стоит ли предлагать облачные уровни.
func (p *Probe) CloudAvailable() bool {
	return p.hasKey && !p.denied.Load()
}

// MarkDenied фиксирует отказ в доступе от провайдера.
func (p *Probe) MarkDenied() {
	p.denied.Store(true)
}
