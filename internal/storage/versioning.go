package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
)

// Ошибки версионирования документов
var (
	ErrUnsupportedVersion = errors.New("версия документа новее поддерживаемой")
	ErrMissingMigration   = errors.New("нет миграции между версиями")
	ErrUnknownDocument    = errors.New("неизвестный тип документа")
	ErrSchemaViolation    = errors.New("документ не соответствует схеме")
)

// VersionedJSON сохраняемый документ с тегом типа и версией схемы
type VersionedJSON struct {
	Identifier string          `json:"id"`
	Version    int             `json:"version"`
	Content    json.RawMessage `json:"content"`
}

// MigrationError документ не может быть приведён к текущей версии.
// Такой документ не загружается и не перезаписывается.
type MigrationError struct {
	Identifier string
	From       int
	To         int
	Err        error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("документ %q версии %d -> %d: %v", e.Identifier, e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Migration переводит содержимое версии n в версию n+1
type Migration func(content interface{}) (interface{}, error)

type migrationKey struct {
	identifier string
	from       int
}

// Versioning реестр текущих версий, миграций и схем документов.
// Безопасен для конкурентного использования.
type Versioning struct {
	mu         sync.Mutex
	current    map[string]int
	migrations map[migrationKey]Migration
	schemas    map[string]*jsonschema.Schema
	lua        *luaengine.Engine
	logger     *logging.Logger
}

// NewVersioning реестр; lua нужен только для миграций-скриптов и может быть nil
func NewVersioning(lua *luaengine.Engine) *Versioning {
	return &Versioning{
		current:    make(map[string]int),
		migrations: make(map[migrationKey]Migration),
		schemas:    make(map[string]*jsonschema.Schema),
		lua:        lua,
		logger:     logging.GetComponentLogger("storage"),
	}
}

// Register объявляет тип документа и его текущую версию
func (v *Versioning) Register(identifier string, current int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current[identifier] = current
}

// Current текущая версия типа
func (v *Versioning) Current(identifier string) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.current[identifier]
	return cur, ok
}

// AddMigration миграция identifier из версии from в from+1
func (v *Versioning) AddMigration(identifier string, from int, m Migration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.migrations[migrationKey{identifier, from}] = m
}

// AddScriptMigration миграция на Lua: скрипт определяет функцию update(content),
// возвращающую новое содержимое
func (v *Versioning) AddScriptMigration(identifier string, from int, name, source string) error {
	if v.lua == nil {
		return fmt.Errorf("миграция %s: движок Lua не задан", name)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ctx := v.lua.NewContext("migration:" + name)
	if err := ctx.Load(name, source); err != nil {
		return fmt.Errorf("миграция %s: %w", name, err)
	}
	v.migrations[migrationKey{identifier, from}] = func(content interface{}) (interface{}, error) {
		rets, err := ctx.Invoke("update", content)
		if err != nil {
			return nil, err
		}
		if len(rets) == 0 {
			return nil, fmt.Errorf("миграция %s ничего не вернула", name)
		}
		return v.lua.LuaToAny(rets[0])
	}
	return nil
}

// SetSchema JSON-схема текущей версии типа
func (v *Versioning) SetSchema(identifier, schema string) error {
	compiled, err := jsonschema.CompileString(identifier+".schema.json", schema)
	if err != nil {
		return fmt.Errorf("схема %s: %w", identifier, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[identifier] = compiled
	return nil
}

// Make упаковывает содержимое в документ текущей версии
func (v *Versioning) Make(identifier string, content interface{}) (VersionedJSON, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.current[identifier]
	if !ok {
		return VersionedJSON{}, fmt.Errorf("%w: %s", ErrUnknownDocument, identifier)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return VersionedJSON{}, fmt.Errorf("документ %s: %w", identifier, err)
	}
	if err := v.validateLocked(identifier, raw); err != nil {
		return VersionedJSON{}, err
	}
	return VersionedJSON{Identifier: identifier, Version: cur, Content: raw}, nil
}

// Load применяет миграции по одной до текущей версии и возвращает содержимое.
// Исходный документ не меняется.
func (v *Versioning) Load(doc VersionedJSON) (json.RawMessage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.current[doc.Identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, doc.Identifier)
	}
	if doc.Version > cur {
		return nil, &MigrationError{Identifier: doc.Identifier, From: doc.Version, To: cur, Err: ErrUnsupportedVersion}
	}
	if doc.Version == cur {
		if err := v.validateLocked(doc.Identifier, doc.Content); err != nil {
			return nil, err
		}
		return doc.Content, nil
	}

	// Все шаги должны существовать до начала работы
	for ver := doc.Version; ver < cur; ver++ {
		if _, ok := v.migrations[migrationKey{doc.Identifier, ver}]; !ok {
			return nil, &MigrationError{Identifier: doc.Identifier, From: ver, To: ver + 1, Err: ErrMissingMigration}
		}
	}

	var content interface{}
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return nil, &MigrationError{Identifier: doc.Identifier, From: doc.Version, To: cur, Err: err}
	}
	for ver := doc.Version; ver < cur; ver++ {
		next, err := v.migrations[migrationKey{doc.Identifier, ver}](content)
		if err != nil {
			return nil, &MigrationError{Identifier: doc.Identifier, From: ver, To: ver + 1, Err: err}
		}
		content = next
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, &MigrationError{Identifier: doc.Identifier, From: doc.Version, To: cur, Err: err}
	}
	if err := v.validateLocked(doc.Identifier, raw); err != nil {
		return nil, err
	}
	v.logger.Info("📦 Документ %s обновлён с версии %d до %d", doc.Identifier, doc.Version, cur)
	return raw, nil
}

// LoadInto как Load, результат разбирается в out
func (v *Versioning) LoadInto(doc VersionedJSON, out interface{}) error {
	raw, err := v.Load(doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("документ %s: %w", doc.Identifier, err)
	}
	return nil
}

func (v *Versioning) validateLocked(identifier string, raw json.RawMessage) error {
	schema, ok := v.schemas[identifier]
	if !ok {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("документ %s: %w", identifier, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, identifier, err)
	}
	return nil
}
