package luaengine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки движка, проверяются через errors.Is
var (
	ErrInstructionLimit = errors.New("превышен лимит инструкций")
	ErrRecursionLimit   = errors.New("превышен лимит вложенности вызовов")
	ErrConversion       = errors.New("ошибка преобразования значения")
	ErrNotFunction      = errors.New("значение не является функцией")
	ErrEngineClosed     = errors.New("движок закрыт")
)

// ErrorKind вид ошибки скрипта
type ErrorKind int

const (
	KindRuntime ErrorKind = iota
	KindSyntax
	KindInstructionLimit
	KindRecursionLimit
	KindConversion
)

func (k ErrorKind) String() string {
	switch k {
	case KindRuntime:
		return "runtime"
	case KindSyntax:
		return "syntax"
	case KindInstructionLimit:
		return "instructionLimit"
	case KindRecursionLimit:
		return "recursionLimit"
	case KindConversion:
		return "conversion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ScriptError ошибка, возникшая при выполнении Lua-кода.
// Traceback содержит стек Lua и, для корутин, стек стороны, вызвавшей resume.
type ScriptError struct {
	Kind      ErrorKind
	Message   string
	Traceback string
	Cause     error
}

func (e *ScriptError) Error() string {
	if e.Traceback == "" {
		return fmt.Sprintf("lua %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("lua %s: %s\n%s", e.Kind, e.Message, e.Traceback)
}

func (e *ScriptError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	switch e.Kind {
	case KindInstructionLimit:
		return ErrInstructionLimit
	case KindRecursionLimit:
		return ErrRecursionLimit
	case KindConversion:
		return ErrConversion
	}
	return nil
}

// IsLimit ошибка вызвана исчерпанием лимитов, а не логикой скрипта
func (e *ScriptError) IsLimit() bool {
	return e.Kind == KindInstructionLimit || e.Kind == KindRecursionLimit
}

func conversionError(format string, args ...interface{}) *ScriptError {
	return &ScriptError{Kind: KindConversion, Message: fmt.Sprintf(format, args...), Cause: ErrConversion}
}

// stitchTraceback склеивает стек корутины со стеком вызывающей стороны
func stitchTraceback(inner, boundary string, outer []string) string {
	var b strings.Builder
	if inner != "" {
		b.WriteString(inner)
		b.WriteByte('\n')
	}
	if boundary != "" {
		b.WriteString("\t[")
		b.WriteString(boundary)
		b.WriteString("]\n")
	}
	for i := len(outer) - 1; i >= 0; i-- {
		b.WriteString("\t[host] ")
		b.WriteString(outer[i])
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
