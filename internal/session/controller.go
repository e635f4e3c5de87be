// Package session реализует конечный автомат игровой сессии: прием намерений
// игрока, последовательность генерация -> иллюстрация -> фиксация сцены,
// озвучку, голосовой ввод и чекпоинты состояния.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tale-weaver/internal/character"
	"tale-weaver/internal/domain"
	"tale-weaver/internal/narrative"

	"go.uber.org/zap"
)

// Generator - граница внешнего генератора повествования.
type Generator interface {
	GenerateScene(ctx context.Context, req narrative.Request) (*domain.Scene, error)
}

// Illustrator - конвейер синтеза иллюстраций; всегда возвращает пригодную ссылку.
type Illustrator interface {
	Synthesize(ctx context.Context, prompt string) string
}

// Speaker - конвейер озвучки. Одновременно активно не более одного воспроизведения.
type Speaker interface {
	Speak(ctx context.Context, text, voice string, speed float64, onDone func()) error
	Stop()
	Speaking() bool
}

// Listener - конвейер распознавания голосового ввода.
type Listener interface {
	Listen(ctx context.Context) (string, error)
	Listening() bool
}

// SnapshotStore - долговременное хранилище снимков сессии.
type SnapshotStore interface {
	Save(snap *domain.Snapshot) error
	Load() (*domain.Snapshot, error)
	Clear() error
}

// Publisher рассылает события сессии подписчикам (websocket-хаб).
// Publish вызывается под мьютексом контроллера и не должен блокировать.
type Publisher interface {
	Publish(event Event)
}

// Event - событие жизненного цикла сессии для подписчиков.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Типы событий
const (
	EventStateChanged     = "state_changed"
	EventSceneReady       = "scene_ready"
	EventGenerationFailed = "generation_failed"
	EventNarrationStarted = "narration_started"
	EventNarrationEnded   = "narration_ended"
	EventTranscript       = "transcript"
)

// State - снимок наблюдаемого состояния сессии для транспорта.
type State struct {
	Phase     domain.Phase   `json:"phase"`
	Narrating bool           `json:"narrating"`
	Session   domain.Session `json:"session"`
	LastError string         `json:"last_error,omitempty"`
}

// Controller владеет состоянием сессии и сериализует мутации, инициированные
// игроком, через фазовые ворота: повторная отправка действия во время
// генерации отклоняется, а не ставится в очередь.
type Controller struct {
	log      *zap.Logger
	gen      Generator
	images   Illustrator
	speech   Speaker
	listener Listener
	store    SnapshotStore
	events   Publisher

	mu        sync.Mutex
	sess      domain.Session
	phase     domain.Phase
	lastError string
}

// NewController создает контроллер в состоянии Idle.
// events может быть nil, если подписчиков нет.
func NewController(log *zap.Logger, gen Generator, images Illustrator, speech Speaker, listener Listener, store SnapshotStore, events Publisher) *Controller {
	return &Controller{
		log:      log,
		gen:      gen,
		images:   images,
		speech:   speech,
		listener: listener,
		store:    store,
		events:   events,
		sess:     domain.NewSession(),
		phase:    domain.PhaseIdle,
	}
}

// Restore загружает сессию из снимка холодного старта. Волатильные поля
// снимок не содержит, поэтому фаза выводится из наличия текущей сцены.
func (c *Controller) Restore(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = domain.NewSession()
	c.sess.Theme = snap.Theme
	if snap.History != nil {
		c.sess.History = snap.History
	}
	c.sess.CurrentScene = snap.CurrentScene
	c.sess.Character = snap.Character
	c.sess.Preferences = snap.Preferences

	if c.sess.CurrentScene != nil {
		c.phase = domain.PhaseActive
	} else {
		c.phase = domain.PhaseIdle
	}
	c.log.Info("Сессия восстановлена из снимка",
		zap.String("theme", snap.Theme),
		zap.Int("history_len", len(snap.History)),
		zap.String("phase", string(c.phase)))
}

// Start начинает новую историю по теме игрока.
func (c *Controller) Start(ctx context.Context, theme string) error {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return fmt.Errorf("%w: theme must not be empty", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == domain.PhaseGenerating || c.phase == domain.PhaseIllustrating {
		return domain.ErrGenerationInProgress
	}
	if c.sess.CurrentScene != nil {
		return domain.ErrSessionActive
	}

	c.sess.Theme = theme
	c.beginGenerationLocked(narrative.Request{
		Theme:     theme,
		Character: c.sess.Character,
	})
	return nil
}

// SubmitChoice принимает выбор игрока из текущей сцены. Расход предмета
// (UsedItem) применяется до запроса генерации и не откатывается при ее сбое.
func (c *Controller) SubmitChoice(ctx context.Context, choiceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gateSubmissionLocked(); err != nil {
		return err
	}

	var choice *domain.Choice
	for i := range c.sess.CurrentScene.Choices {
		if c.sess.CurrentScene.Choices[i].ID == choiceID {
			choice = &c.sess.CurrentScene.Choices[i]
			break
		}
	}
	if choice == nil {
		return fmt.Errorf("%w: id '%s'", domain.ErrChoiceNotFound, choiceID)
	}

	if choice.UsedItem != "" {
		var consumed bool
		c.sess.Character, consumed = character.ConsumeItem(c.sess.Character, choice.UsedItem)
		if consumed {
			// Расход фиксируется немедленно, чтобы запрос отражал актуальный инвентарь
			c.persistLocked()
		} else {
			c.log.Warn("Выбор требует предмет, которого нет в инвентаре",
				zap.String("item", choice.UsedItem), zap.String("choice_id", choiceID))
		}
	}

	c.beginGenerationLocked(c.continuationRequestLocked(choice.Action, choice.Text))
	return nil
}

// SubmitAction принимает свободный текст игрока как причинное действие.
func (c *Controller) SubmitAction(ctx context.Context, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("%w: action must not be empty", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gateSubmissionLocked(); err != nil {
		return err
	}
	c.beginGenerationLocked(c.continuationRequestLocked(action, ""))
	return nil
}

// gateSubmissionLocked - фазовые ворота отправки действий.
func (c *Controller) gateSubmissionLocked() error {
	switch c.phase {
	case domain.PhaseGenerating, domain.PhaseIllustrating:
		return domain.ErrGenerationInProgress
	case domain.PhaseListening:
		return domain.ErrListeningInProgress
	}
	if c.sess.CurrentScene == nil {
		return domain.ErrNoActiveSession
	}
	return nil
}

// continuationRequestLocked собирает запрос продолжения: история вместе с
// текущей сценой, копия персонажа.
func (c *Controller) continuationRequestLocked(action, choiceText string) narrative.Request {
	history := make([]domain.Scene, 0, len(c.sess.History)+1)
	history = append(history, c.sess.History...)
	if c.sess.CurrentScene != nil {
		history = append(history, *c.sess.CurrentScene)
	}
	return narrative.Request{
		Action:     action,
		ChoiceText: choiceText,
		History:    history,
		Character:  c.sess.Character,
	}
}

// beginGenerationLocked переводит автомат в фазу генерации и запускает воркер.
// Отправка действия всегда возвращает игрока к живому краю истории.
func (c *Controller) beginGenerationLocked(req narrative.Request) {
	c.sess.ViewingIndex = nil
	c.phase = domain.PhaseGenerating
	c.lastError = ""
	c.publishState()

	go c.generate(req)
}

// generate - воркер одной попытки генерации. Сессия не мутируется до полного
// разрешения сцены: история, сцена и дельта персонажа фиксируются атомарно.
func (c *Controller) generate(req narrative.Request) {
	ctx := context.Background()

	scene, err := c.gen.GenerateScene(ctx, req)
	if err != nil {
		c.failGeneration(err)
		return
	}

	c.mu.Lock()
	c.phase = domain.PhaseIllustrating
	c.publishState()
	c.mu.Unlock()

	// Конвейер иллюстраций не возвращает ошибок: в худшем случае - заглушка
	scene.ImageURL = c.images.Synthesize(ctx, scene.ImagePrompt)

	c.commitScene(scene)
}

// commitScene атомарно фиксирует разрешенную сцену: прежняя текущая сцена
// уходит в историю, дельта характеристик применяется, фаза возвращается в Active.
func (c *Controller) commitScene(scene *domain.Scene) {
	c.mu.Lock()

	if c.sess.CurrentScene != nil {
		c.sess.History = append(c.sess.History, *c.sess.CurrentScene)
	}
	c.sess.CurrentScene = scene
	if scene.StatChanges != nil {
		c.sess.Character = character.ApplyDelta(c.sess.Character, scene.StatChanges)
	}
	c.sess.ViewingIndex = nil
	c.phase = domain.PhaseActive
	c.persistLocked()

	c.publish(Event{Type: EventSceneReady, Payload: scene})
	c.publishState()

	autoNarrate := c.sess.Preferences.AutoNarrate
	c.mu.Unlock()

	c.log.Info("Сцена зафиксирована", zap.String("title", scene.Title), zap.String("scene_id", scene.ID.String()))

	if autoNarrate {
		if err := c.Narrate(context.Background()); err != nil {
			c.log.Warn("Автоозвучка сцены недоступна", zap.Error(err))
		}
	}
}

// failGeneration возвращает автомат в состояние до попытки: Active при живой
// сцене, Idle если истории еще не было. Ошибка всплывает игроку, повтор -
// только повторной отправкой того же действия.
func (c *Controller) failGeneration(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastError = err.Error()
	if c.sess.CurrentScene != nil {
		c.phase = domain.PhaseActive
	} else {
		// Первая генерация не удалась - сессии нет, тема сбрасывается
		c.sess.Theme = ""
		c.phase = domain.PhaseIdle
	}

	c.log.Error("Генерация сцены не удалась", zap.Error(err), zap.String("phase", string(c.phase)))
	c.publish(Event{Type: EventGenerationFailed, Payload: map[string]string{"error": err.Error()}})
	c.publishState()
}

// Narrate озвучивает текущую сцену. Завершение не ожидается: флаг озвучки
// параллелен основному автомату и не блокирует ввод игрока.
func (c *Controller) Narrate(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.CurrentScene == nil {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	scene := c.sess.CurrentScene
	text := scene.Title + ". " + scene.Description
	voice := c.sess.Preferences.Voice
	speed := c.sess.Preferences.Speed
	autoListen := c.sess.Preferences.AutoListen
	c.mu.Unlock()

	err := c.speech.Speak(ctx, text, voice, speed, func() {
		c.publish(Event{Type: EventNarrationEnded})
		if autoListen {
			go func() {
				if _, lerr := c.Listen(context.Background()); lerr != nil {
					c.log.Debug("Автопрослушивание после озвучки не началось", zap.Error(lerr))
				}
			}()
		}
	})
	if err != nil {
		return err
	}

	c.publish(Event{Type: EventNarrationStarted, Payload: map[string]string{"scene_id": scene.ID.String()}})
	return nil
}

// StopNarration останавливает текущую озвучку, если она идет.
func (c *Controller) StopNarration() {
	c.speech.Stop()
}

// Listen захватывает голосовой ввод и направляет распознанный текст как выбор
// (при совпадении с вариантом сцены) или как свободное действие. Возвращает
// транскрипт, чтобы транспорт мог показать его игроку.
func (c *Controller) Listen(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.gateSubmissionLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.phase = domain.PhaseListening
	c.publishState()
	c.mu.Unlock()

	transcript, err := c.listener.Listen(ctx)

	c.mu.Lock()
	c.phase = domain.PhaseActive
	if err != nil {
		c.lastError = err.Error()
		c.publishState()
		c.mu.Unlock()
		return "", err
	}
	c.publishState()
	c.mu.Unlock()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("%w: empty transcript", domain.ErrInvalidInput)
	}
	c.publish(Event{Type: EventTranscript, Payload: map[string]string{"text": transcript}})

	return transcript, c.dispatchTranscript(ctx, transcript)
}

// dispatchTranscript сопоставляет транскрипт с вариантами текущей сцены.
func (c *Controller) dispatchTranscript(ctx context.Context, transcript string) error {
	lower := strings.ToLower(transcript)

	c.mu.Lock()
	var matched string
	if c.sess.CurrentScene != nil {
		for _, choice := range c.sess.CurrentScene.Choices {
			choiceText := strings.ToLower(strings.TrimSpace(choice.Text))
			if choiceText != "" && (lower == choiceText || strings.Contains(lower, choiceText)) {
				matched = choice.ID
				break
			}
		}
	}
	c.mu.Unlock()

	if matched != "" {
		c.log.Info("Транскрипт сопоставлен с выбором", zap.String("choice_id", matched))
		return c.SubmitChoice(ctx, matched)
	}
	return c.SubmitAction(ctx, transcript)
}

// ViewScene замораживает просмотр на прошлой сцене. Чисто читающая проекция:
// живая сцена не меняется, отправка действий блокируется до возврата к живому краю.
func (c *Controller) ViewScene(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.CurrentScene == nil {
		return domain.ErrNoActiveSession
	}
	if index < 0 || index >= len(c.sess.History) {
		return fmt.Errorf("%w: history index %d out of range [0,%d)", domain.ErrInvalidInput, index, len(c.sess.History))
	}
	c.sess.ViewingIndex = &index
	c.publishState()
	return nil
}

// ViewLive возвращает просмотр к текущей сцене.
func (c *Controller) ViewLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.ViewingIndex = nil
	c.publishState()
}

// SetPreferences обновляет настройки озвучки и сохраняет их в снимке.
func (c *Controller) SetPreferences(prefs domain.Preferences) error {
	if prefs.Speed < 0.5 || prefs.Speed > 2.0 {
		return fmt.Errorf("%w: speed %.2f out of range [0.5, 2.0]", domain.ErrInvalidInput, prefs.Speed)
	}
	if prefs.Voice == "" {
		prefs.Voice = domain.DefaultPreferences().Voice
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.Preferences = prefs
	c.persistLocked()
	c.publishState()
	return nil
}

// Reset уничтожает сессию: останавливает озвучку, сбрасывает персонажа и
// историю, удаляет снимок. Последующий холодный старт дает Idle без сессии.
func (c *Controller) Reset() {
	c.speech.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = domain.NewSession()
	c.phase = domain.PhaseIdle
	c.lastError = ""

	if err := c.store.Clear(); err != nil {
		c.log.Warn("Не удалось удалить снимок сессии", zap.Error(err))
	}
	c.log.Info("Сессия сброшена")
	c.publishState()
}

// State возвращает копию наблюдаемого состояния.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	sess := c.sess
	sess.History = append([]domain.Scene(nil), c.sess.History...)
	if c.sess.CurrentScene != nil {
		scene := *c.sess.CurrentScene
		sess.CurrentScene = &scene
	}
	if c.sess.ViewingIndex != nil {
		idx := *c.sess.ViewingIndex
		sess.ViewingIndex = &idx
	}
	return State{
		Phase:     c.phase,
		Narrating: c.speech.Speaking(),
		Session:   sess,
		LastError: c.lastError,
	}
}

// persistLocked сохраняет снимок; сбои долговечности не блокируют игру.
func (c *Controller) persistLocked() {
	snap := &domain.Snapshot{
		Theme:        c.sess.Theme,
		History:      append([]domain.Scene(nil), c.sess.History...),
		CurrentScene: c.sess.CurrentScene,
		Character:    c.sess.Character,
		Preferences:  c.sess.Preferences,
	}
	if err := c.store.Save(snap); err != nil {
		c.log.Warn("Не удалось сохранить снимок сессии", zap.Error(err))
	}
}

func (c *Controller) publishState() {
	c.publish(Event{Type: EventStateChanged, Payload: c.stateLocked()})
}

func (c *Controller) publish(event Event) {
	if c.events != nil {
		c.events.Publish(event)
	}
}
