package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "trace", "TRACE":
		return TRACE, nil
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO", "":
		return INFO, nil
	case "warn", "WARN", "warning":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("неизвестный уровень логирования: %q", s)
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case TRACE:
		return logrus.TraceLevel
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Options параметры создания логгера
type Options struct {
	Dir        string
	Console    io.Writer
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	NoFile     bool
}

// DefaultOptions возвращает параметры по умолчанию: logs/, ротация по 50 МБ
func DefaultOptions() Options {
	return Options{
		Dir:        "logs",
		Console:    os.Stdout,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// Logger компонентный логгер: консоль и файл с ротацией
type Logger struct {
	component string

	mu              sync.RWMutex
	console         *logrus.Logger
	file            *logrus.Logger
	rotator         *lumberjack.Logger
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// NewLogger создаёт логгер компонента с параметрами по умолчанию
func NewLogger(component string) (*Logger, error) {
	return NewLoggerWithOptions(component, DefaultOptions())
}

// NewLoggerWithOptions создаёт логгер компонента
func NewLoggerWithOptions(component string, opts Options) (*Logger, error) {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	console := logrus.New()
	console.SetOutput(opts.Console)
	console.SetLevel(logrus.TraceLevel)
	console.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	l := &Logger{
		component:       component,
		console:         console,
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}

	if opts.NoFile {
		return l, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
	}

	l.rotator = &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, component+".log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	file := logrus.New()
	file.SetOutput(l.rotator)
	file.SetLevel(logrus.TraceLevel)
	file.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.file = file

	return l, nil
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// SetLevels устанавливает минимальные уровни для консоли и файла
func (l *Logger) SetLevels(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	minConsole, minFile := l.minConsoleLevel, l.minFileLevel
	l.mu.RUnlock()

	if level < minConsole && (l.file == nil || level < minFile) {
		return
	}

	message := fmt.Sprintf(format, args...)
	if level >= minConsole {
		l.console.WithField("component", l.component).Log(level.logrus(), message)
	}
	if l.file != nil && level >= minFile {
		l.file.WithField("component", l.component).Log(level.logrus(), message)
	}
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Глобальный логгер по умолчанию
var (
	defaultMu     sync.RWMutex
	defaultLogger = mustConsoleLogger("default")
)

func mustConsoleLogger(component string) *Logger {
	l, _ := NewLoggerWithOptions(component, Options{Console: os.Stdout, NoFile: true})
	return l
}

// InitDefaultLogger инициализирует логгер по умолчанию для процесса
func InitDefaultLogger(component string) error {
	l, err := NewLoggerWithOptions(component, GetLoggerManager().Options())
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию
func CloseDefaultLogger() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger != nil {
		defaultLogger.Close()
	}
	defaultLogger = mustConsoleLogger("default")
}

// Default возвращает логгер по умолчанию
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Trace логирует через логгер по умолчанию
func Trace(format string, args ...interface{}) { Default().Trace(format, args...) }

// Debug логирует через логгер по умолчанию
func Debug(format string, args ...interface{}) { Default().Debug(format, args...) }

// Info логирует через логгер по умолчанию
func Info(format string, args ...interface{}) { Default().Info(format, args...) }

// Warn логирует через логгер по умолчанию
func Warn(format string, args ...interface{}) { Default().Warn(format, args...) }

// Error логирует через логгер по умолчанию
func Error(format string, args ...interface{}) { Default().Error(format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogPacket логирует пакет с hex дампом
func LogPacket(l *Logger, connID string, direction string, packetType interface{}, payload []byte) {
	l.Trace("=== %s PACKET %s === type=%v size=%d", direction, connID, packetType, len(payload))
	if len(payload) > 0 {
		l.Trace("%s", HexDump(payload))
	}
}

// LogProtocolError логирует ошибки десериализации протокола
func LogProtocolError(l *Logger, connID string, err error, data []byte) {
	l.Error("Protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		l.Error("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}

// LogScriptError логирует ошибку скрипта вместе с трассировкой
func LogScriptError(l *Logger, owner string, err error) {
	l.Warn("📜 Script fault in %s: %v", owner, err)
}
