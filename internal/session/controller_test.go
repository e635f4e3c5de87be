package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tale-weaver/internal/domain"
	"tale-weaver/internal/narrative"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	mu      sync.Mutex
	scene   *domain.Scene
	err     error
	calls   int
	lastReq narrative.Request
	block   chan struct{} // если задан, воркер ждет закрытия
}

func (f *fakeGenerator) GenerateScene(ctx context.Context, req narrative.Request) (*domain.Scene, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	scene := *f.scene
	return &scene, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGenerator) request() narrative.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type fakeIllustrator struct{ ref string }

func (f *fakeIllustrator) Synthesize(ctx context.Context, prompt string) string { return f.ref }

type fakeSpeaker struct {
	mu       sync.Mutex
	speaking bool
	stops    int
	speaks   int
}

func (f *fakeSpeaker) Speak(ctx context.Context, text, voice string, speed float64, onDone func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaks++
	f.speaking = true
	return nil
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.speaking = false
}

func (f *fakeSpeaker) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

type fakeListener struct {
	text string
	err  error
}

func (f *fakeListener) Listen(ctx context.Context) (string, error) { return f.text, f.err }
func (f *fakeListener) Listening() bool                            { return false }

type memStore struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	saves   int
	cleared int
}

func (m *memStore) Save(snap *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func (m *memStore) Load() (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	m.cleared++
	return nil
}

func nextScene() *domain.Scene {
	return &domain.Scene{
		ID:          uuid.New(),
		Title:       "The Crypt",
		Description: "Dust hangs in the torchlight.",
		ImagePrompt: "a crypt below the chapel",
		Choices:     []domain.Choice{{ID: "n1", Text: "Descend", Action: "descend the stairs"}},
		StatChanges: &domain.StatChanges{Health: -10, Experience: 25, ItemFound: "Silver Coin"},
	}
}

// seedSnapshot - активная сессия с одной прошлой и одной текущей сценой.
func seedSnapshot() *domain.Snapshot {
	current := &domain.Scene{
		ID:          uuid.New(),
		Title:       "Gatehouse",
		Description: "Rusted iron bars your way.",
		ImagePrompt: "a ruined gatehouse",
		ImageURL:    "https://img.example/gatehouse.png",
		Choices: []domain.Choice{
			{ID: "c1", Text: "Open the gate", Action: "open the iron gate"},
			{ID: "c2", Text: "Burn the door", Action: "burn the wooden door", UsedItem: "Torch"},
		},
	}
	past := domain.Scene{
		ID:          uuid.New(),
		Title:       "The Road",
		Description: "A long road behind you.",
		ImagePrompt: "a muddy road",
	}
	ch := domain.NewCharacterState()
	ch.Inventory = []string{"Torch"}

	prefs := domain.DefaultPreferences()
	prefs.AutoNarrate = false
	prefs.AutoListen = false

	return &domain.Snapshot{
		Theme:        "cursed castle",
		History:      []domain.Scene{past},
		CurrentScene: current,
		Character:    ch,
		Preferences:  prefs,
	}
}

type fixture struct {
	ctrl     *Controller
	gen      *fakeGenerator
	speech   *fakeSpeaker
	listener *fakeListener
	store    *memStore
}

func newFixture(gen *fakeGenerator) *fixture {
	speech := &fakeSpeaker{}
	listener := &fakeListener{}
	store := &memStore{}
	ctrl := NewController(zap.NewNop(), gen, &fakeIllustrator{ref: "https://img.example/new.png"}, speech, listener, store, nil)
	return &fixture{ctrl: ctrl, gen: gen, speech: speech, listener: listener, store: store}
}

func waitPhase(t *testing.T, c *Controller, want domain.Phase) {
	t.Helper()
	assert.Eventually(t, func() bool { return c.State().Phase == want }, 2*time.Second, time.Millisecond)
}

func TestControllerStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty theme is rejected pre-flight", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		err := f.ctrl.Start(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, 0, f.gen.callCount())
	})

	t.Run("Theme submission resolves into an active first scene", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		require.NoError(t, f.ctrl.Start(ctx, "cursed castle"))
		waitPhase(t, f.ctrl, domain.PhaseActive)

		state := f.ctrl.State()
		require.NotNil(t, state.Session.CurrentScene)
		assert.Equal(t, "The Crypt", state.Session.CurrentScene.Title)
		assert.Equal(t, "https://img.example/new.png", state.Session.CurrentScene.ImageURL)
		assert.Empty(t, state.Session.History)
		assert.Equal(t, "cursed castle", f.gen.request().Theme)
		assert.Greater(t, f.store.saves, 0, "фиксация сцены должна породить снимок")
	})

	t.Run("Start while a session is active is rejected", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		assert.ErrorIs(t, f.ctrl.Start(ctx, "another story"), domain.ErrSessionActive)
	})

	t.Run("Failed first generation returns to Idle with no session", func(t *testing.T) {
		f := newFixture(&fakeGenerator{err: errors.New("provider down")})
		require.NoError(t, f.ctrl.Start(ctx, "doomed theme"))
		waitPhase(t, f.ctrl, domain.PhaseIdle)

		state := f.ctrl.State()
		assert.Nil(t, state.Session.CurrentScene)
		assert.Empty(t, state.Session.Theme)
		assert.NotEmpty(t, state.LastError)
	})
}

func TestControllerSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("Second submission during generation is a no-op", func(t *testing.T) {
		gen := &fakeGenerator{scene: nextScene(), block: make(chan struct{})}
		f := newFixture(gen)
		f.ctrl.Restore(seedSnapshot())

		require.NoError(t, f.ctrl.SubmitChoice(ctx, "c1"))
		waitPhase(t, f.ctrl, domain.PhaseGenerating)

		assert.ErrorIs(t, f.ctrl.SubmitAction(ctx, "something else"), domain.ErrGenerationInProgress)
		assert.ErrorIs(t, f.ctrl.SubmitChoice(ctx, "c1"), domain.ErrGenerationInProgress)
		assert.Equal(t, 1, gen.callCount(), "дубликат не должен породить второй сетевой вызов")

		close(gen.block)
		waitPhase(t, f.ctrl, domain.PhaseActive)
	})

	t.Run("Unknown choice id is rejected", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		assert.ErrorIs(t, f.ctrl.SubmitChoice(ctx, "missing"), domain.ErrChoiceNotFound)
	})

	t.Run("Submission without a session is rejected", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		assert.ErrorIs(t, f.ctrl.SubmitAction(ctx, "look around"), domain.ErrNoActiveSession)
	})

	t.Run("Accepted choice commits history, scene and stats atomically", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		prevTitle := f.ctrl.State().Session.CurrentScene.Title

		require.NoError(t, f.ctrl.SubmitChoice(ctx, "c1"))
		waitPhase(t, f.ctrl, domain.PhaseActive)

		state := f.ctrl.State()
		require.Len(t, state.Session.History, 2)
		assert.Equal(t, prevTitle, state.Session.History[1].Title, "прежняя сцена уходит в историю")
		assert.Equal(t, "The Crypt", state.Session.CurrentScene.Title)
		assert.Equal(t, 90, state.Session.Character.Health)
		assert.Equal(t, 25, state.Session.Character.Experience)
		assert.Contains(t, state.Session.Character.Inventory, "Silver Coin")
		assert.Equal(t, "open the iron gate", f.gen.request().Action)
		assert.Len(t, f.gen.request().History, 2, "запрос включает текущую сцену")
	})

	t.Run("Item consumption survives a failed generation", func(t *testing.T) {
		f := newFixture(&fakeGenerator{err: errors.New("quota exceeded")})
		f.ctrl.Restore(seedSnapshot())
		before := f.ctrl.State()

		require.NoError(t, f.ctrl.SubmitChoice(ctx, "c2"))
		waitPhase(t, f.ctrl, domain.PhaseActive)

		state := f.ctrl.State()
		assert.NotContains(t, state.Session.Character.Inventory, "Torch", "расход предмета не откатывается")
		assert.Equal(t, before.Session.CurrentScene.ID, state.Session.CurrentScene.ID, "сцена не мутирует при сбое")
		assert.Len(t, state.Session.History, 1)
		assert.NotEmpty(t, state.LastError)
	})
}

func TestControllerViewing(t *testing.T) {
	ctx := context.Background()

	t.Run("Out-of-range index is rejected", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		assert.ErrorIs(t, f.ctrl.ViewScene(5), domain.ErrInvalidInput)
		assert.ErrorIs(t, f.ctrl.ViewScene(-1), domain.ErrInvalidInput)
	})

	t.Run("Viewing freezes on a past scene without touching the live one", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())

		require.NoError(t, f.ctrl.ViewScene(0))
		state := f.ctrl.State()
		require.NotNil(t, state.Session.ViewingIndex)
		assert.Equal(t, 0, *state.Session.ViewingIndex)
		assert.Equal(t, "Gatehouse", state.Session.CurrentScene.Title)

		f.ctrl.ViewLive()
		assert.Nil(t, f.ctrl.State().Session.ViewingIndex)
	})

	t.Run("Submitting while viewing redirects to the live edge", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		require.NoError(t, f.ctrl.ViewScene(0))
		pastID := f.ctrl.State().Session.History[0].ID

		require.NoError(t, f.ctrl.SubmitAction(ctx, "press on"))
		waitPhase(t, f.ctrl, domain.PhaseActive)

		state := f.ctrl.State()
		assert.Nil(t, state.Session.ViewingIndex, "после генерации просмотр возвращается к живому краю")
		assert.Equal(t, pastID, state.Session.History[0].ID, "историческая запись не мутирует")
	})
}

func TestControllerListen(t *testing.T) {
	ctx := context.Background()

	t.Run("Transcript matching a choice submits that choice", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		f.listener.text = "please Open the Gate now"

		transcript, err := f.ctrl.Listen(ctx)
		require.NoError(t, err)
		assert.Equal(t, "please Open the Gate now", transcript)
		waitPhase(t, f.ctrl, domain.PhaseActive)
		assert.Equal(t, "open the iron gate", f.gen.request().Action)
	})

	t.Run("Unmatched transcript becomes a free-text action", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		f.listener.text = "climb over the wall"

		_, err := f.ctrl.Listen(ctx)
		require.NoError(t, err)
		waitPhase(t, f.ctrl, domain.PhaseActive)
		assert.Equal(t, "climb over the wall", f.gen.request().Action)
	})

	t.Run("Recognition failure restores Active and surfaces the error", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		f.listener.err = domain.ErrMicUnavailable

		_, err := f.ctrl.Listen(ctx)
		assert.ErrorIs(t, err, domain.ErrMicUnavailable)
		assert.Equal(t, domain.PhaseActive, f.ctrl.State().Phase)
		assert.Equal(t, 0, f.gen.callCount())
	})

	t.Run("Empty transcript never reaches the generator", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		f.ctrl.Restore(seedSnapshot())
		f.listener.text = "   "

		_, err := f.ctrl.Listen(ctx)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, 0, f.gen.callCount())
	})

	t.Run("Listen without a session is rejected", func(t *testing.T) {
		f := newFixture(&fakeGenerator{scene: nextScene()})
		_, err := f.ctrl.Listen(ctx)
		assert.ErrorIs(t, err, domain.ErrNoActiveSession)
	})
}

func TestControllerReset(t *testing.T) {
	f := newFixture(&fakeGenerator{scene: nextScene()})
	f.ctrl.Restore(seedSnapshot())
	require.NotNil(t, f.ctrl.State().Session.CurrentScene)

	f.ctrl.Reset()

	state := f.ctrl.State()
	assert.Equal(t, domain.PhaseIdle, state.Phase)
	assert.Nil(t, state.Session.CurrentScene)
	assert.Empty(t, state.Session.History)
	assert.Equal(t, domain.NewCharacterState(), state.Session.Character)
	assert.Equal(t, 1, f.speech.stops, "озвучка останавливается при сбросе")
	assert.Equal(t, 1, f.store.cleared)

	// Холодный старт после сброса дает Idle без сессии
	snap, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestControllerPreferences(t *testing.T) {
	f := newFixture(&fakeGenerator{scene: nextScene()})

	t.Run("Speed outside the supported range is rejected", func(t *testing.T) {
		prefs := domain.DefaultPreferences()
		prefs.Speed = 4.0
		assert.ErrorIs(t, f.ctrl.SetPreferences(prefs), domain.ErrInvalidInput)
	})

	t.Run("Updated preferences are persisted", func(t *testing.T) {
		prefs := domain.DefaultPreferences()
		prefs.Voice = "nova"
		prefs.AutoNarrate = false
		require.NoError(t, f.ctrl.SetPreferences(prefs))

		snap, err := f.store.Load()
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, "nova", snap.Preferences.Voice)
		assert.False(t, snap.Preferences.AutoNarrate)
	})
}

func TestControllerNarrate(t *testing.T) {
	f := newFixture(&fakeGenerator{scene: nextScene()})

	t.Run("Narration without a session is rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.ctrl.Narrate(context.Background()), domain.ErrNoActiveSession)
	})

	t.Run("Narration starts playback and does not block input", func(t *testing.T) {
		f.ctrl.Restore(seedSnapshot())
		require.NoError(t, f.ctrl.Narrate(context.Background()))
		assert.Equal(t, 1, f.speech.speaks)
		assert.True(t, f.ctrl.State().Narrating)
		assert.Equal(t, domain.PhaseActive, f.ctrl.State().Phase)
	})
}
