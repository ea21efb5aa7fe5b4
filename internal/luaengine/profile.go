package luaengine

import (
	"sort"
	"time"
)

var nowFunc = time.Now

// ProfileEntry статистика одной функции: сколько раз вызвана и сколько времени заняла
type ProfileEntry struct {
	Name  string
	Calls int64
	Total time.Duration
}

// Average среднее время вызова
func (p ProfileEntry) Average() time.Duration {
	if p.Calls == 0 {
		return 0
	}
	return p.Total / time.Duration(p.Calls)
}

func (e *Engine) record(name string, d time.Duration) {
	if !e.cfg.Profiling {
		return
	}
	p, ok := e.profile[name]
	if !ok {
		p = &ProfileEntry{Name: name}
		e.profile[name] = p
	}
	p.Calls++
	p.Total += d
}

// Profile снимок профиля, самые дорогие функции первыми
func (e *Engine) Profile() []ProfileEntry {
	out := make([]ProfileEntry, 0, len(e.profile))
	for _, p := range e.profile {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ResetProfile очищает накопленную статистику
func (e *Engine) ResetProfile() {
	e.profile = make(map[string]*ProfileEntry)
}

// SetProfiling включает сбор статистики
func (e *Engine) SetProfiling(on bool) { e.cfg.Profiling = on }
