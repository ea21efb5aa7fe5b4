package netelement

import "fmt"

type groupChild struct {
	elem       NetElement
	minVersion uint32
}

func (c groupChild) allowed(rules CompatibilityRules) bool {
	return rules.AtLeast(c.minVersion)
}

// NetGroup упорядоченная группа дочерних элементов.
// Формат: для каждого изменённого ребёнка varint(index+1), длина, байты; в конце varint(0).
// Новые элементы добавляются только в конец списка, порядок существующих не меняется.
type NetGroup struct {
	children       []groupChild
	version        *Version
	legacyTolerant bool
	interpolating  bool
}

// NewNetGroup создаёт пустую группу
func NewNetGroup(elements ...NetElement) *NetGroup {
	g := &NetGroup{}
	for _, e := range elements {
		g.AddNetElement(e)
	}
	return g
}

// AddNetElement добавляет дочерний элемент
func (g *NetGroup) AddNetElement(e NetElement) {
	g.AddNetElementWithRules(e, 0)
}

// AddNetElementWithRules добавляет элемент, который пишется только собеседникам
// с версией правил не ниже minVersion
func (g *NetGroup) AddNetElementWithRules(e NetElement, minVersion uint32) {
	if g.version != nil {
		e.InitNetVersion(g.version)
	}
	if g.interpolating {
		e.EnableNetInterpolation()
	}
	g.children = append(g.children, groupChild{elem: e, minVersion: minVersion})
}

// ClearNetElements удаляет всех детей
func (g *NetGroup) ClearNetElements() {
	g.children = nil
}

// Len количество детей
func (g *NetGroup) Len() int { return len(g.children) }

// SetLegacyTolerant разрешает пропускать неизвестные хвостовые элементы
func (g *NetGroup) SetLegacyTolerant(tolerant bool) {
	g.legacyTolerant = tolerant
}

func (g *NetGroup) InitNetVersion(v *Version) {
	g.version = v
	for _, c := range g.children {
		c.elem.InitNetVersion(v)
	}
}

func (g *NetGroup) NetStore(ds *DataStream, rules CompatibilityRules) {
	sub := NewWriter()
	for i, c := range g.children {
		if !c.allowed(rules) {
			continue
		}
		sub.Reset()
		c.elem.NetStore(sub, rules)
		ds.WriteVarUint(uint64(i) + 1)
		ds.WriteBytes(sub.Bytes())
	}
	ds.WriteVarUint(0)
}

func (g *NetGroup) NetLoad(ds *DataStream, rules CompatibilityRules) error {
	entries, err := g.readEntries(ds, rules)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := Load(e.child.elem, e.data, rules); err != nil {
			return fmt.Errorf("элемент %d: %w", e.index, err)
		}
	}
	return nil
}

func (g *NetGroup) WriteNetDelta(ds *DataStream, fromVersion uint64, rules CompatibilityRules) bool {
	wrote := false
	sub := NewWriter()
	for i, c := range g.children {
		if !c.allowed(rules) {
			continue
		}
		sub.Reset()
		if !c.elem.WriteNetDelta(sub, fromVersion, rules) {
			continue
		}
		ds.WriteVarUint(uint64(i) + 1)
		ds.WriteBytes(sub.Bytes())
		wrote = true
	}
	if wrote {
		ds.WriteVarUint(0)
	}
	return wrote
}

func (g *NetGroup) ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := g.decodeNetDelta(ds, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

// decodeNetDelta разбирает дельты всех детей; применение начинается,
// только когда вся группа прочитана без ошибок
func (g *NetGroup) decodeNetDelta(ds *DataStream, rules CompatibilityRules) (stagedDelta, error) {
	entries, err := g.readEntries(ds, rules)
	if err != nil {
		return nil, err
	}
	commits := make([]stagedDelta, len(entries))
	for i, e := range entries {
		commit, err := decodeDelta(e.child.elem, e.data, rules)
		if err != nil {
			return nil, fmt.Errorf("элемент %d: %w", e.index, err)
		}
		commits[i] = commit
	}
	return func(interpolationTime float64) error {
		for i, commit := range commits {
			if err := commit(interpolationTime); err != nil {
				return fmt.Errorf("элемент %d: %w", entries[i].index, err)
			}
		}
		return nil
	}, nil
}

type groupEntry struct {
	index int
	child groupChild
	data  []byte
}

// readEntries разбирает кадры (index+1, байты) до терминатора
func (g *NetGroup) readEntries(ds *DataStream, rules CompatibilityRules) ([]groupEntry, error) {
	var entries []groupEntry
	for {
		idx := ds.ReadVarUint()
		if err := ds.Err(); err != nil {
			return nil, err
		}
		if idx == 0 {
			return entries, nil
		}
		data := ds.ReadBytes()
		if err := ds.Err(); err != nil {
			return nil, err
		}
		if idx-1 >= uint64(len(g.children)) {
			if g.legacyTolerant {
				continue
			}
			return nil, fmt.Errorf("%w: дочерний элемент %d из %d", ErrUnknownElement, idx-1, len(g.children))
		}
		c := g.children[idx-1]
		if !c.allowed(rules) {
			return nil, fmt.Errorf("%w: элемент %d не поддерживается правилами v%d", ErrUnknownElement, idx-1, rules.Version)
		}
		entries = append(entries, groupEntry{index: int(idx - 1), child: c, data: data})
	}
}

func (g *NetGroup) EnableNetInterpolation() {
	g.interpolating = true
	for _, c := range g.children {
		c.elem.EnableNetInterpolation()
	}
}

func (g *NetGroup) DisableNetInterpolation() {
	g.interpolating = false
	for _, c := range g.children {
		c.elem.DisableNetInterpolation()
	}
}

func (g *NetGroup) TickNetInterpolation(dt float64) {
	if !g.interpolating {
		return
	}
	for _, c := range g.children {
		c.elem.TickNetInterpolation(dt)
	}
}

// TopGroup корневая группа сущности со своим счётчиком версий.
// Хранит последнюю применённую версию, чтобы отвергать откаты.
type TopGroup struct {
	NetGroup
	ver      *Version
	lastRead uint64
}

// NewTopGroup создаёт корневую группу
func NewTopGroup() *TopGroup {
	t := &TopGroup{ver: NewVersion()}
	t.NetGroup.InitNetVersion(t.ver)
	return t
}

// Version счётчик версий дерева
func (t *TopGroup) Version() *Version { return t.ver }

// CurrentVersion текущая версия
func (t *TopGroup) CurrentVersion() uint64 { return t.ver.Current() }

// IncrementVersion вызывается после рассылки дельт за тик
func (t *TopGroup) IncrementVersion() uint64 { return t.ver.Increment() }

// LastReadVersion последняя применённая версия
func (t *TopGroup) LastReadVersion() uint64 { return t.lastRead }

// WriteNetState возвращает полное состояние (fromVersion == 0) или дельту,
// а также версию, которую получатель должен запомнить
func (t *TopGroup) WriteNetState(fromVersion uint64, rules CompatibilityRules) ([]byte, uint64) {
	if fromVersion == 0 {
		return Store(&t.NetGroup, rules), t.ver.Current()
	}
	return WriteDelta(&t.NetGroup, fromVersion, rules), t.ver.Current()
}

// LoadNetState применяет полное состояние
func (t *TopGroup) LoadNetState(data []byte, version uint64, rules CompatibilityRules) error {
	if err := Load(&t.NetGroup, data, rules); err != nil {
		return err
	}
	t.lastRead = version
	return nil
}

// ReadNetState применяет дельту с версией отправителя
func (t *TopGroup) ReadNetState(data []byte, version uint64, interpolationTime float64, rules CompatibilityRules) error {
	if version < t.lastRead {
		return fmt.Errorf("%w: %d < %d", ErrVersionRegression, version, t.lastRead)
	}
	if err := ReadDelta(&t.NetGroup, data, interpolationTime, rules); err != nil {
		return err
	}
	t.lastRead = version
	return nil
}
