package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrOutOfRange возвращается сеттерами при недопустимом значении
var ErrOutOfRange = errors.New("значение вне допустимого диапазона")

// Границы параметров скриптового движка
const (
	MinInstructionLimit = 1000
	MaxInstructionLimit = 1 << 30
	MinMeasureInterval  = 1
	MaxMeasureInterval  = 1 << 20
	MinRecursionLimit   = 4
	MaxRecursionLimit   = 1024
	MinGCPause          = 0.5
	MaxGCPause          = 10.0
	MinGCStepMultiplier = 1.0
	MaxGCStepMultiplier = 100.0
)

// RuntimeValues изменяемые параметры движка
type RuntimeValues struct {
	InstructionLimit  int     `json:"instructionLimit"`
	MeasureInterval   int     `json:"measureInterval"`
	RecursionLimit    int     `json:"recursionLimit"`
	Profiling         bool    `json:"profiling"`
	AutoGCPause       float64 `json:"autoGcPause"`
	AutoGCStepMultipl float64 `json:"autoGcStepMultiplier"`
}

// RuntimeConfig файл параметров, изменяемых во время работы сервера.
// Все сеттеры проверяют границы.
type RuntimeConfig struct {
	mu     sync.RWMutex
	path   string
	values RuntimeValues
	subs   []func(RuntimeValues)
}

// NewRuntimeConfig создаёт конфигурацию из начальных значений секции lua
func NewRuntimeConfig(path string, lua LuaConfig) *RuntimeConfig {
	return &RuntimeConfig{
		path: path,
		values: RuntimeValues{
			InstructionLimit:  lua.InstructionLimit,
			MeasureInterval:   lua.MeasureInterval,
			RecursionLimit:    lua.RecursionLimit,
			Profiling:         lua.Profiling,
			AutoGCPause:       lua.AutoGCPause,
			AutoGCStepMultipl: lua.AutoGCStepMultiple,
		},
	}
}

// LoadRuntimeConfig читает файл поверх начальных значений. Отсутствующий файл не ошибка.
func LoadRuntimeConfig(path string, lua LuaConfig) (*RuntimeConfig, error) {
	rc := NewRuntimeConfig(path, lua)
	if path == "" {
		return rc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return rc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение runtime config: %w", err)
	}

	v := rc.values
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("разбор runtime config: %w", err)
	}
	if err := validate(v); err != nil {
		return nil, err
	}
	rc.values = v
	return rc, nil
}

func validate(v RuntimeValues) error {
	if v.InstructionLimit < MinInstructionLimit || v.InstructionLimit > MaxInstructionLimit {
		return fmt.Errorf("instructionLimit=%d: %w", v.InstructionLimit, ErrOutOfRange)
	}
	if v.MeasureInterval < MinMeasureInterval || v.MeasureInterval > MaxMeasureInterval {
		return fmt.Errorf("measureInterval=%d: %w", v.MeasureInterval, ErrOutOfRange)
	}
	if v.RecursionLimit < MinRecursionLimit || v.RecursionLimit > MaxRecursionLimit {
		return fmt.Errorf("recursionLimit=%d: %w", v.RecursionLimit, ErrOutOfRange)
	}
	if v.AutoGCPause < MinGCPause || v.AutoGCPause > MaxGCPause {
		return fmt.Errorf("autoGcPause=%v: %w", v.AutoGCPause, ErrOutOfRange)
	}
	if v.AutoGCStepMultipl < MinGCStepMultiplier || v.AutoGCStepMultipl > MaxGCStepMultiplier {
		return fmt.Errorf("autoGcStepMultiplier=%v: %w", v.AutoGCStepMultipl, ErrOutOfRange)
	}
	return nil
}

// Values возвращает копию текущих значений
func (rc *RuntimeConfig) Values() RuntimeValues {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.values
}

// Subscribe регистрирует обработчик изменений
func (rc *RuntimeConfig) Subscribe(fn func(RuntimeValues)) {
	rc.mu.Lock()
	rc.subs = append(rc.subs, fn)
	rc.mu.Unlock()
}

func (rc *RuntimeConfig) update(mutate func(v *RuntimeValues)) error {
	rc.mu.Lock()
	next := rc.values
	mutate(&next)
	if err := validate(next); err != nil {
		rc.mu.Unlock()
		return err
	}
	rc.values = next
	subs := append([]func(RuntimeValues){}, rc.subs...)
	rc.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return nil
}

// SetInstructionLimit устанавливает лимит инструкций
func (rc *RuntimeConfig) SetInstructionLimit(n int) error {
	return rc.update(func(v *RuntimeValues) { v.InstructionLimit = n })
}

// SetMeasureInterval устанавливает интервал подсчёта инструкций
func (rc *RuntimeConfig) SetMeasureInterval(n int) error {
	return rc.update(func(v *RuntimeValues) { v.MeasureInterval = n })
}

// SetRecursionLimit устанавливает лимит вложенности вызовов
func (rc *RuntimeConfig) SetRecursionLimit(n int) error {
	return rc.update(func(v *RuntimeValues) { v.RecursionLimit = n })
}

// SetProfiling включает или выключает профилирование
func (rc *RuntimeConfig) SetProfiling(on bool) error {
	return rc.update(func(v *RuntimeValues) { v.Profiling = on })
}

// SetAutoGCPause устанавливает паузу сборщика
func (rc *RuntimeConfig) SetAutoGCPause(p float64) error {
	return rc.update(func(v *RuntimeValues) { v.AutoGCPause = p })
}

// SetAutoGCStepMultiplier устанавливает множитель шага сборщика
func (rc *RuntimeConfig) SetAutoGCStepMultiplier(m float64) error {
	return rc.update(func(v *RuntimeValues) { v.AutoGCStepMultipl = m })
}

// Restore возвращает ранее прочитанный снимок значений
func (rc *RuntimeConfig) Restore(v RuntimeValues) error {
	return rc.update(func(cur *RuntimeValues) { *cur = v })
}

// Save записывает текущие значения в файл
func (rc *RuntimeConfig) Save() error {
	if rc.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(rc.Values(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(rc.path, data, 0644); err != nil {
		return fmt.Errorf("запись runtime config: %w", err)
	}
	return nil
}
