package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

type levels struct {
	console, file LogLevel
}

// LoggerManager раздаёт логгеры компонентов и помнит их уровни.
// Уровни, заданные до появления компонента, применяются при его создании.
type LoggerManager struct {
	mu        sync.Mutex
	loggers   map[string]*Logger
	opts      Options
	defaults  *levels
	overrides map[string]levels
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newLoggerManager(opts Options) *LoggerManager {
	return &LoggerManager{
		loggers:   make(map[string]*Logger),
		opts:      opts,
		overrides: make(map[string]levels),
	}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager(DefaultOptions())
	})
	return globalManager
}

// Configure задаёт параметры для логгеров, создаваемых после вызова
func (lm *LoggerManager) Configure(opts Options) {
	lm.mu.Lock()
	lm.opts = opts
	lm.mu.Unlock()
}

// Options текущие параметры создания логгеров
func (lm *LoggerManager) Options() Options {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.opts
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}
	logger, err := NewLoggerWithOptions(component, lm.opts)
	if err != nil {
		return nil, fmt.Errorf("логгер компонента %s: %w", component, err)
	}
	if lv, ok := lm.levelsFor(component); ok {
		logger.SetLevels(lv.console, lv.file)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger как GetLogger, но при ошибке файла пишет только в консоль
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return mustConsoleLogger(component)
	}
	return logger
}

func (lm *LoggerManager) levelsFor(component string) (levels, bool) {
	if lv, ok := lm.overrides[component]; ok {
		return lv, true
	}
	if lm.defaults != nil {
		return *lm.defaults, true
	}
	return levels{}, false
}

// SetDefaultLevels уровни всех компонентов без собственной настройки
func (lm *LoggerManager) SetDefaultLevels(console, file LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.defaults = &levels{console: console, file: file}
	for component, logger := range lm.loggers {
		if _, own := lm.overrides[component]; !own {
			logger.SetLevels(console, file)
		}
	}
}

// SetLogLevel уровни одного компонента, в том числе ещё не созданного
func (lm *LoggerManager) SetLogLevel(component string, console, file LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.overrides[component] = levels{console: console, file: file}
	if logger, ok := lm.loggers[component]; ok {
		logger.SetLevels(console, file)
	}
}

// ListComponents имена созданных логгеров по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// CloseAll закрывает файлы всех логгеров; настройки уровней сохраняются
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// GetComponentLogger логгер произвольного компонента
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger { return GetComponentLogger("network") }

func GetServerLogger() *Logger { return GetComponentLogger("server") }

func GetWorldLogger() *Logger { return GetComponentLogger("world") }

func GetScriptLogger() *Logger { return GetComponentLogger("script") }

func GetClientLogger() *Logger { return GetComponentLogger("client") }
