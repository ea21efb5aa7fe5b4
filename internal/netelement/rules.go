package netelement

import "sync/atomic"

// Версии правил совместимости проводного формата
const (
	LegacyVersion  uint32 = 1
	CurrentVersion uint32 = 2
)

// CompatibilityRules определяет, какие поля пишутся и читаются
type CompatibilityRules struct {
	Version uint32
}

var (
	LegacyRules  = CompatibilityRules{Version: LegacyVersion}
	CurrentRules = CompatibilityRules{Version: CurrentVersion}
)

// IsLegacy старый формат без хвостовых полей
func (r CompatibilityRules) IsLegacy() bool {
	return r.Version < CurrentVersion
}

// AtLeast проверяет, поддерживает ли собеседник указанную версию
func (r CompatibilityRules) AtLeast(v uint32) bool {
	return r.Version >= v
}

// Negotiate выбирает общие правила для двух сторон
func Negotiate(a, b CompatibilityRules) CompatibilityRules {
	if a.Version < b.Version {
		return a
	}
	return b
}

// Version счётчик версий дерева элементов. Изменённые элементы помечаются
// текущим значением; после рассылки дельт владелец вызывает Increment.
type Version struct {
	v atomic.Uint64
}

// NewVersion создаёт счётчик, начинающийся с 1
func NewVersion() *Version {
	ver := &Version{}
	ver.v.Store(1)
	return ver
}

// Current текущая версия
func (ver *Version) Current() uint64 {
	return ver.v.Load()
}

// Increment увеличивает версию и возвращает новое значение
func (ver *Version) Increment() uint64 {
	return ver.v.Add(1)
}
