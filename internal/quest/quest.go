// Package quest квесты игрока: шаблоны с параметрами, скриптовые экземпляры
// и менеджер с сохранением в JSON.
package quest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/luaengine"
)

var (
	ErrUnknownTemplate   = errors.New("неизвестный шаблон квеста")
	ErrUnknownQuest      = errors.New("неизвестный квест")
	ErrInvalidTransition = errors.New("недопустимая смена состояния квеста")
	ErrPrerequisites     = errors.New("не выполнены предварительные квесты")
)

// State состояние квеста
type State uint8

const (
	StateNew State = iota
	StateOffer
	StateActive
	StateComplete
	StateFailed
)

var stateNames = [...]string{"New", "Offer", "Active", "Complete", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Finished квест завершён успехом или провалом
func (s State) Finished() bool { return s == StateComplete || s == StateFailed }

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестное состояние квеста %q", name)
}

// allowed переходы между состояниями
var transitions = map[State][]State{
	StateNew:    {StateOffer, StateActive},
	StateOffer:  {StateActive, StateFailed},
	StateActive: {StateComplete, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Template шаблон квеста из ассета *.questtemplate
type Template struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Text          string                 `json:"text"`
	Scripts       []string               `json:"scripts,omitempty"`
	UpdateDelta   int                    `json:"updateDelta,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Prerequisites []string               `json:"prerequisites,omitempty"`
	Rewards       json.RawMessage        `json:"rewards,omitempty"`
}

// Registry шаблоны квестов
type Registry struct {
	templates map[string]Template
}

// NewRegistry пустой реестр
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register добавляет шаблон
func (r *Registry) Register(t Template) {
	if t.UpdateDelta <= 0 {
		t.UpdateDelta = 1
	}
	r.templates[t.ID] = t
}

// Get шаблон по id
func (r *Registry) Get(id string) (Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// LoadAssets регистрирует все *.questtemplate из ассетов
func (r *Registry) LoadAssets(a *assets.Assets) error {
	paths, err := a.List("/quests")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !strings.HasSuffix(p, ".questtemplate") {
			continue
		}
		var t Template
		if err := a.JSONInto(p, &t); err != nil {
			return fmt.Errorf("шаблон %s: %w", p, err)
		}
		r.Register(t)
	}
	return nil
}

// Objective пункт списка целей
type Objective struct {
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
}

// Quest экземпляр квеста
type Quest struct {
	id         string
	template   Template
	parameters map[string]interface{}
	state      State
	title      string
	text       string
	progress   *float64
	objectives []Objective
	storage    map[string]interface{}

	ctx     *luaengine.Context
	steps   int
	manager *Manager
}

// ID уникальный id экземпляра
func (q *Quest) ID() string { return q.id }

// TemplateID id шаблона
func (q *Quest) TemplateID() string { return q.template.ID }

// State текущее состояние
func (q *Quest) State() State { return q.state }

// Title заголовок; скрипт может переопределить
func (q *Quest) Title() string { return q.title }

// Text описание
func (q *Quest) Text() string { return q.text }

// Progress доля выполнения, если скрипт её задал
func (q *Quest) Progress() (float64, bool) {
	if q.progress == nil {
		return 0, false
	}
	return *q.progress, true
}

// Objectives список целей
func (q *Quest) Objectives() []Objective { return append([]Objective(nil), q.objectives...) }

// Parameter параметр экземпляра
func (q *Quest) Parameter(name string) (interface{}, bool) {
	v, ok := q.parameters[name]
	return v, ok
}

// Storage значение из хранилища скрипта
func (q *Quest) Storage(key string) (interface{}, bool) {
	v, ok := q.storage[key]
	return v, ok
}

// diskQuest форма квеста в сохранении
type diskQuest struct {
	ID         string                 `json:"id"`
	TemplateID string                 `json:"templateId"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	State      State                  `json:"state"`
	Title      string                 `json:"title"`
	Text       string                 `json:"text"`
	Progress   *float64               `json:"progress,omitempty"`
	Objectives []Objective            `json:"objectives,omitempty"`
	Storage    map[string]interface{} `json:"storage,omitempty"`
}

func (q *Quest) toDisk() diskQuest {
	return diskQuest{
		ID:         q.id,
		TemplateID: q.template.ID,
		Parameters: q.parameters,
		State:      q.state,
		Title:      q.title,
		Text:       q.text,
		Progress:   q.progress,
		Objectives: q.objectives,
		Storage:    q.storage,
	}
}

func (q *Quest) callbacks() luaengine.Callbacks {
	return luaengine.Callbacks{
		"id":         func(luaengine.Args) (interface{}, error) { return q.id, nil },
		"templateId": func(luaengine.Args) (interface{}, error) { return q.template.ID, nil },
		"state":      func(luaengine.Args) (interface{}, error) { return q.state.String(), nil },
		"parameters": func(luaengine.Args) (interface{}, error) { return q.parameters, nil },
		"setTitle": func(args luaengine.Args) (interface{}, error) {
			s, err := luaengine.Arg[string](args, 0)
			q.title = s
			return nil, err
		},
		"setText": func(args luaengine.Args) (interface{}, error) {
			s, err := luaengine.Arg[string](args, 0)
			q.text = s
			return nil, err
		},
		"setProgress": func(args luaengine.Args) (interface{}, error) {
			p, err := luaengine.OptArg[*float64](args, 0, nil)
			q.progress = p
			return nil, err
		},
		"setObjectiveList": func(args luaengine.Args) (interface{}, error) {
			list, err := luaengine.Arg[[][]interface{}](args, 0)
			if err != nil {
				return nil, err
			}
			q.objectives = q.objectives[:0]
			for _, item := range list {
				var o Objective
				if len(item) > 0 {
					o.Text, _ = item[0].(string)
				}
				if len(item) > 1 {
					o.Complete, _ = item[1].(bool)
				}
				q.objectives = append(q.objectives, o)
			}
			return nil, nil
		},
		"getStorage": func(args luaengine.Args) (interface{}, error) {
			key, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return q.storage[key], nil
		},
		"setStorage": func(args luaengine.Args) (interface{}, error) {
			key, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			v, err := args.Engine().LuaToAny(args.Get(1))
			if err != nil {
				return nil, err
			}
			if v == nil {
				delete(q.storage, key)
			} else {
				q.storage[key] = v
			}
			return nil, nil
		},
		"complete": func(luaengine.Args) (interface{}, error) {
			return nil, q.manager.Complete(q.id)
		},
		"fail": func(luaengine.Args) (interface{}, error) {
			return nil, q.manager.Fail(q.id)
		},
	}
}
