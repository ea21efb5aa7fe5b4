package quest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
)

// StateHook вызывается при каждой смене состояния квеста
type StateHook func(q *Quest, from, to State)

// Manager квесты одного игрока
type Manager struct {
	registry *Registry
	engine   *luaengine.Engine
	loader   luaengine.RequireLoader
	binder   func(ctx *luaengine.Context)

	quests    map[string]*Quest
	order     []string
	completed map[string]bool
	hooks     []StateHook
	logger    *logging.Logger
}

// NewManager менеджер; engine может быть nil, тогда скрипты не запускаются
func NewManager(registry *Registry, engine *luaengine.Engine, loader luaengine.RequireLoader) *Manager {
	return &Manager{
		registry:  registry,
		engine:    engine,
		loader:    loader,
		quests:    make(map[string]*Quest),
		completed: make(map[string]bool),
		logger:    logging.GetScriptLogger(),
	}
}

// SetScriptBinder дополнительные привязки для скриптов квестов (player.*, world.*)
func (m *Manager) SetScriptBinder(fn func(ctx *luaengine.Context)) { m.binder = fn }

// OnStateChange подписка на смену состояний
func (m *Manager) OnStateChange(h StateHook) { m.hooks = append(m.hooks, h) }

// Get квест по id
func (m *Manager) Get(id string) (*Quest, bool) {
	q, ok := m.quests[id]
	return q, ok
}

// Quests все квесты в порядке добавления
func (m *Manager) Quests() []*Quest {
	out := make([]*Quest, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.quests[id])
	}
	return out
}

// Active активные квесты
func (m *Manager) Active() []*Quest {
	var out []*Quest
	for _, q := range m.Quests() {
		if q.state == StateActive {
			out = append(out, q)
		}
	}
	return out
}

// HasCompleted завершал ли игрок квест по шаблону
func (m *Manager) HasCompleted(templateID string) bool { return m.completed[templateID] }

func (m *Manager) create(templateID string, params map[string]interface{}) (*Quest, error) {
	t, ok := m.registry.Get(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	for _, pre := range t.Prerequisites {
		if !m.completed[pre] {
			return nil, fmt.Errorf("%w: %s требует %s", ErrPrerequisites, templateID, pre)
		}
	}
	merged := make(map[string]interface{}, len(t.Parameters)+len(params))
	for k, v := range t.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	q := &Quest{
		id:         uuid.NewString(),
		template:   t,
		parameters: merged,
		state:      StateNew,
		title:      t.Title,
		text:       t.Text,
		storage:    make(map[string]interface{}),
		manager:    m,
	}
	m.quests[q.id] = q
	m.order = append(m.order, q.id)
	return q, nil
}

// Offer создаёт квест в состоянии Offer
func (m *Manager) Offer(templateID string, params map[string]interface{}) (*Quest, error) {
	q, err := m.create(templateID, params)
	if err != nil {
		return nil, err
	}
	if err := m.transition(q, StateOffer); err != nil {
		return nil, err
	}
	return q, nil
}

// Start создаёт и сразу принимает квест
func (m *Manager) Start(templateID string, params map[string]interface{}) (*Quest, error) {
	q, err := m.create(templateID, params)
	if err != nil {
		return nil, err
	}
	return q, m.Accept(q.id)
}

// Accept принимает предложенный квест и вызывает questStart
func (m *Manager) Accept(id string) error {
	q, ok := m.quests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuest, id)
	}
	if err := m.transition(q, StateActive); err != nil {
		return err
	}
	m.initScripts(q)
	m.invoke(q, "questStart")
	return nil
}

// Decline отклоняет предложение; квест удаляется
func (m *Manager) Decline(id string) error {
	q, ok := m.quests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuest, id)
	}
	if q.state != StateOffer {
		return fmt.Errorf("%w: %s из %s", ErrInvalidTransition, id, q.state)
	}
	m.remove(id)
	return nil
}

// Complete завершает квест успехом
func (m *Manager) Complete(id string) error {
	return m.finish(id, StateComplete, "questComplete")
}

// Fail проваливает квест
func (m *Manager) Fail(id string) error {
	return m.finish(id, StateFailed, "questFail")
}

func (m *Manager) finish(id string, to State, hook string) error {
	q, ok := m.quests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuest, id)
	}
	if err := m.transition(q, to); err != nil {
		return err
	}
	m.invoke(q, hook)
	m.uninitScripts(q)
	if to == StateComplete {
		m.completed[q.template.ID] = true
	}
	return nil
}

func (m *Manager) transition(q *Quest, to State) error {
	from := q.state
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, q.id, from, to)
	}
	q.state = to
	for _, h := range m.hooks {
		h(q, from, to)
	}
	return nil
}

func (m *Manager) remove(id string) {
	if q, ok := m.quests[id]; ok {
		m.uninitScripts(q)
	}
	delete(m.quests, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Update вызывает update(dt) активных квестов раз в UpdateDelta шагов
func (m *Manager) Update(dt float64) {
	for _, q := range m.Active() {
		if q.ctx == nil {
			continue
		}
		q.steps++
		if q.steps < q.template.UpdateDelta {
			continue
		}
		q.steps = 0
		m.invoke(q, "update", dt*float64(q.template.UpdateDelta))
	}
}

// Uninit освобождает контексты скриптов
func (m *Manager) Uninit() {
	for _, q := range m.quests {
		m.uninitScripts(q)
	}
}

func (m *Manager) initScripts(q *Quest) {
	if m.engine == nil || len(q.template.Scripts) == 0 || q.ctx != nil {
		return
	}
	ctx := m.engine.NewContext("quest:" + q.template.ID)
	if m.loader != nil {
		ctx.SetRequireLoader(m.loader)
	}
	ctx.SetCallbacks("quest", q.callbacks())
	if m.binder != nil {
		m.binder(ctx)
	}
	for _, path := range q.template.Scripts {
		if m.loader == nil {
			logging.LogScriptError(m.logger, "quest "+q.template.ID, fmt.Errorf("%s: %w", path, assets.ErrAssetMissing))
			return
		}
		src, err := m.loader(path)
		if err == nil {
			err = ctx.Load(path, src)
		}
		if err != nil {
			logging.LogScriptError(m.logger, "quest "+q.template.ID, err)
			return
		}
	}
	q.ctx = ctx
	m.invoke(q, "init")
}

func (m *Manager) uninitScripts(q *Quest) {
	if q.ctx == nil {
		return
	}
	m.invoke(q, "uninit")
	q.ctx = nil
}

func (m *Manager) invoke(q *Quest, fn string, args ...interface{}) {
	if q.ctx == nil {
		return
	}
	if _, _, err := q.ctx.InvokeIfExists(fn, args...); err != nil {
		logging.LogScriptError(m.logger, "quest "+q.template.ID+" "+fn, err)
	}
}

type diskStore struct {
	Quests    []diskQuest `json:"quests"`
	Completed []string    `json:"completed,omitempty"`
}

// DiskStore сохранение менеджера в JSON
func (m *Manager) DiskStore() (json.RawMessage, error) {
	store := diskStore{Quests: make([]diskQuest, 0, len(m.order))}
	for _, q := range m.Quests() {
		store.Quests = append(store.Quests, q.toDisk())
	}
	for id := range m.completed {
		store.Completed = append(store.Completed, id)
	}
	sort.Strings(store.Completed)
	return json.Marshal(store)
}

// DiskLoad восстанавливает квесты; активные снова получают скрипты без questStart.
// Квесты с неизвестными шаблонами пропускаются.
func (m *Manager) DiskLoad(data json.RawMessage) error {
	var store diskStore
	if err := json.Unmarshal(data, &store); err != nil {
		return err
	}
	m.Uninit()
	m.quests = make(map[string]*Quest, len(store.Quests))
	m.order = nil
	m.completed = make(map[string]bool, len(store.Completed))
	for _, id := range store.Completed {
		m.completed[id] = true
	}
	for _, dq := range store.Quests {
		t, ok := m.registry.Get(dq.TemplateID)
		if !ok {
			m.logger.Warn("квест %s: шаблон %s не найден, пропускаю", dq.ID, dq.TemplateID)
			continue
		}
		q := &Quest{
			id:         dq.ID,
			template:   t,
			parameters: dq.Parameters,
			state:      dq.State,
			title:      dq.Title,
			text:       dq.Text,
			progress:   dq.Progress,
			objectives: dq.Objectives,
			storage:    dq.Storage,
			manager:    m,
		}
		if q.storage == nil {
			q.storage = make(map[string]interface{})
		}
		m.quests[q.id] = q
		m.order = append(m.order, q.id)
		if q.state == StateActive {
			m.initScripts(q)
		}
	}
	return nil
}
