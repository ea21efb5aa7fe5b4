package entity

import (
	"sort"

	"github.com/annel0/tileverse/internal/netelement"
)

// Animator состояния групп анимации, реплицируемые клиентам
type Animator struct {
	states *netelement.NetMap[string, string]
	tags   *netelement.NetMap[string, string]
}

// NewAnimator аниматор с начальными состояниями групп
func NewAnimator(initial map[string]string) *Animator {
	a := &Animator{
		states: netelement.NewNetMap[string, string](netelement.StringCodec, netelement.StringCodec),
		tags:   netelement.NewNetMap[string, string](netelement.StringCodec, netelement.StringCodec),
	}
	a.states.Reset(initial)
	return a
}

// NetGroup элементы для группы сущности
func (a *Animator) NetGroup() *netelement.NetGroup {
	return netelement.NewNetGroup(a.states, a.tags)
}

// State состояние группы; пусто если группа не задана
func (a *Animator) State(group string) string {
	s, _ := a.states.Get(group)
	return s
}

// SetState меняет состояние; false если состояние не изменилось
func (a *Animator) SetState(group, state string) bool {
	if old, ok := a.states.Get(group); ok && old == state {
		return false
	}
	a.states.Set(group, state)
	return true
}

// States копия всех состояний
func (a *Animator) States() map[string]string {
	out := make(map[string]string, a.states.Len())
	for _, k := range a.states.Keys() {
		out[k], _ = a.states.Get(k)
	}
	return out
}

// Groups имена групп по возрастанию
func (a *Animator) Groups() []string {
	keys := a.states.Keys()
	sort.Strings(keys)
	return keys
}

// SetTag глобальный тег подстановки в именах кадров; пустое значение удаляет тег
func (a *Animator) SetTag(name, value string) {
	if value == "" {
		a.tags.Remove(name)
		return
	}
	if old, ok := a.tags.Get(name); ok && old == value {
		return
	}
	a.tags.Set(name, value)
}

// Tag значение тега
func (a *Animator) Tag(name string) string {
	v, _ := a.tags.Get(name)
	return v
}

// AnimatedEntity сущность с аниматором
type AnimatedEntity interface {
	Entity
	Animator() *Animator
}

// ConfiguredEntity сущность с параметрами конфигурации для скриптов
type ConfiguredEntity interface {
	Entity
	ConfigParameter(path string) (interface{}, bool)
}
