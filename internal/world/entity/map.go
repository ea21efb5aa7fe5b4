package entity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/annel0/tileverse/internal/vec"
)

const (
	// SectorSize сторона сектора пространственного индекса в тайлах
	SectorSize int32 = 16
	// ClientIDSpan размер диапазона id одного клиента
	ClientIDSpan int64 = 65536
	// MaxClientConnection последнее соединение, которому хватает диапазона int32
	MaxClientConnection ConnectionID = 32767
)

var (
	// ErrIDsExhausted в диапазоне не осталось свободных id
	ErrIDsExhausted = errors.New("свободные id сущностей закончились")
	// ErrDuplicateEntity сущность с таким id уже в карте
	ErrDuplicateEntity = errors.New("сущность с таким id уже существует")
	// ErrIDOutOfRange id вне диапазона карты
	ErrIDOutOfRange = errors.New("id сущности вне диапазона")
)

// ServerIDRange диапазон id мастеров сервера
func ServerIDRange() (EntityID, EntityID) {
	return 1, math.MaxInt32
}

// ClientIDRange диапазон id клиента conn: [-conn*65536, -(conn-1)*65536-1]
func ClientIDRange(conn ConnectionID) (EntityID, EntityID) {
	n := int64(conn)
	return EntityID(-n * ClientIDSpan), EntityID(-(n-1)*ClientIDSpan - 1)
}

// ConnectionForEntity соединение, которому принадлежит id
func ConnectionForEntity(id EntityID) ConnectionID {
	if id >= 0 {
		return ServerConnectionID
	}
	return ConnectionID((-int64(id)-1)/ClientIDSpan + 1)
}

// Handle ссылка на слот с поколением; устаревает после удаления сущности
type Handle struct {
	Index      uint32
	Generation uint32
}

type slot struct {
	entity     Entity
	generation uint32
	sectors    []vec.Vec2
	uniqueID   string
}

// Map хранилище сущностей мира: таблица слотов с поколениями, секторный индекс
// и индекс уникальных id. Изменяется потоком симуляции; чтение из других потоков
// под RLock.
type Map struct {
	mu       sync.RWMutex
	geometry vec.Geometry

	minID, maxID EntityID
	nextID       EntityID

	slots []slot
	free  []uint32
	byID  map[EntityID]Handle

	sectors map[vec.Vec2]map[EntityID]struct{}
	uniques map[string]EntityID
}

// NewMap создаёт карту, выдающую id из [minID, maxID]
func NewMap(geometry vec.Geometry, minID, maxID EntityID) *Map {
	if minID > maxID {
		minID, maxID = maxID, minID
	}
	return &Map{
		geometry: geometry,
		minID:    minID,
		maxID:    maxID,
		nextID:   minID,
		byID:     make(map[EntityID]Handle),
		sectors:  make(map[vec.Vec2]map[EntityID]struct{}),
		uniques:  make(map[string]EntityID),
	}
}

// Geometry геометрия мира карты
func (m *Map) Geometry() vec.Geometry { return m.geometry }

// Range диапазон выдаваемых id
func (m *Map) Range() (EntityID, EntityID) { return m.minID, m.maxID }

// ReserveID следующий свободный id; после конца диапазона поиск продолжается с начала
func (m *Map) ReserveID() (EntityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	span := int64(m.maxID) - int64(m.minID) + 1
	for i := int64(0); i < span; i++ {
		id := m.nextID
		if m.nextID == m.maxID {
			m.nextID = m.minID
		} else {
			m.nextID++
		}
		if id == NullEntityID {
			continue
		}
		if _, used := m.byID[id]; !used {
			return id, nil
		}
	}
	return NullEntityID, ErrIDsExhausted
}

// Add помещает инициализированную сущность в карту
func (m *Map) Add(e Entity) (Handle, error) {
	id := e.EntityID()
	if id == NullEntityID {
		return Handle{}, fmt.Errorf("%w: %d", ErrIDOutOfRange, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[id]; exists {
		return Handle{}, fmt.Errorf("%w: %d", ErrDuplicateEntity, id)
	}

	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.slots = append(m.slots, slot{})
		idx = uint32(len(m.slots) - 1)
	}
	s := &m.slots[idx]
	s.entity = e
	h := Handle{Index: idx, Generation: s.generation}
	m.byID[id] = h
	m.reindexLocked(s, id)
	return h, nil
}

// Remove убирает сущность; все выданные Handle слота устаревают
func (m *Map) Remove(id EntityID) (Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	s := &m.slots[h.Index]
	e := s.entity
	m.unindexLocked(s, id)
	s.entity = nil
	s.generation++
	delete(m.byID, id)
	m.free = append(m.free, h.Index)
	return e, true
}

// Get сущность по id; nil если её нет
func (m *Map) Get(id EntityID) Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.byID[id]
	if !ok {
		return nil
	}
	return m.slots[h.Index].entity
}

// HandleOf ссылка на слот сущности
func (m *Map) HandleOf(id EntityID) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byID[id]
	return h, ok
}

// Resolve сущность по ссылке; false, если слот уже переиспользован
func (m *Map) Resolve(h Handle) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(h.Index) >= len(m.slots) {
		return nil, false
	}
	s := m.slots[h.Index]
	if s.generation != h.Generation || s.entity == nil {
		return nil, false
	}
	return s.entity, true
}

// Len число сущностей
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// IDs все id по возрастанию
func (m *Map) IDs() []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]EntityID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entities все сущности по возрастанию id
func (m *Map) Entities() []Entity {
	ids := m.IDs()
	out := make([]Entity, 0, len(ids))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if h, ok := m.byID[id]; ok {
			out = append(out, m.slots[h.Index].entity)
		}
	}
	return out
}

// ForEach обходит снимок сущностей по возрастанию id; fn может менять карту
func (m *Map) ForEach(fn func(e Entity)) {
	for _, e := range m.Entities() {
		fn(e)
	}
}

// UpdateSpatial пересчитывает секторы и уникальный id сущности после её шага
func (m *Map) UpdateSpatial(id EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.byID[id]
	if !ok {
		return
	}
	s := &m.slots[h.Index]
	m.unindexLocked(s, id)
	m.reindexLocked(s, id)
}

// UpdateAllSpatial пересчитывает индексы всех сущностей
func (m *Map) UpdateAllSpatial() {
	for _, id := range m.IDs() {
		m.UpdateSpatial(id)
	}
}

func (m *Map) reindexLocked(s *slot, id EntityID) {
	s.sectors = m.sectorsFor(WorldBoundBox(s.entity))
	for _, key := range s.sectors {
		set := m.sectors[key]
		if set == nil {
			set = make(map[EntityID]struct{})
			m.sectors[key] = set
		}
		set[id] = struct{}{}
	}
	s.uniqueID = s.entity.UniqueID()
	if s.uniqueID != "" {
		m.uniques[s.uniqueID] = id
	}
}

func (m *Map) unindexLocked(s *slot, id EntityID) {
	for _, key := range s.sectors {
		if set := m.sectors[key]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.sectors, key)
			}
		}
	}
	s.sectors = nil
	if s.uniqueID != "" && m.uniques[s.uniqueID] == id {
		delete(m.uniques, s.uniqueID)
	}
	s.uniqueID = ""
}

// sectorsFor секторы, покрываемые прямоугольником, с учётом шва мира
func (m *Map) sectorsFor(r vec.RectF) []vec.Vec2 {
	var out []vec.Vec2
	seen := make(map[vec.Vec2]bool)
	for _, piece := range m.geometry.SplitRect(r.TileBounds()) {
		maxX := piece.Max.X - 1
		if maxX < piece.Min.X {
			maxX = piece.Min.X
		}
		maxY := piece.Max.Y - 1
		if maxY < piece.Min.Y {
			maxY = piece.Min.Y
		}
		lo := piece.Min.ToChunkCoords(SectorSize)
		hi := vec.Vec2{X: maxX, Y: maxY}.ToChunkCoords(SectorSize)
		for sy := lo.Y; sy <= hi.Y; sy++ {
			for sx := lo.X; sx <= hi.X; sx++ {
				key := vec.Vec2{X: sx, Y: sy}
				if !seen[key] {
					seen[key] = true
					out = append(out, key)
				}
			}
		}
	}
	return out
}

// Query сущности, чей прямоугольник пересекает area, по возрастанию id
func (m *Map) Query(area vec.RectF, filter func(Entity) bool) []Entity {
	m.mu.RLock()
	candidates := make(map[EntityID]Entity)
	for _, key := range m.sectorsFor(area) {
		for id := range m.sectors[key] {
			if h, ok := m.byID[id]; ok {
				candidates[id] = m.slots[h.Index].entity
			}
		}
	}
	m.mu.RUnlock()

	out := make([]Entity, 0, len(candidates))
	for _, e := range candidates {
		if !m.geometry.RectIntersects(area, WorldBoundBox(e)) {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// QueryAt сущности, содержащие точку
func (m *Map) QueryAt(p vec.Vec2F, filter func(Entity) bool) []Entity {
	const pad = 1e-6
	area := vec.NewRectF(p.X-pad, p.Y-pad, p.X+pad, p.Y+pad)
	return m.Query(area, func(e Entity) bool {
		box := WorldBoundBox(e)
		local := m.geometry.Nearest(box.Center(), p)
		if !box.Contains(local) {
			return false
		}
		return filter == nil || filter(e)
	})
}

// Closest ближайшая к center сущность в радиусе radius
func (m *Map) Closest(center vec.Vec2F, radius float64, filter func(Entity) bool) Entity {
	area := vec.NewRectF(center.X-radius, center.Y-radius, center.X+radius, center.Y+radius)
	var best Entity
	bestDist := math.Inf(1)
	for _, e := range m.Query(area, filter) {
		d := m.geometry.Distance(center, e.Position())
		if d <= radius && d < bestDist {
			best, bestDist = e, d
		}
	}
	return best
}

// FindUnique id сущности с уникальным id
func (m *Map) FindUnique(uniqueID string) (EntityID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.uniques[uniqueID]
	return id, ok
}

// TileEntitiesAt тайловые сущности, занимающие клетку pos
func (m *Map) TileEntitiesAt(pos vec.Vec2) []TileEntity {
	pos = m.geometry.Wrap(pos)
	area := vec.NewRectF(float64(pos.X)-float64(SectorSize), float64(pos.Y)-float64(SectorSize),
		float64(pos.X)+float64(SectorSize), float64(pos.Y)+float64(SectorSize))
	var out []TileEntity
	for _, e := range m.Query(area, nil) {
		te, ok := As[TileEntity](e)
		if !ok {
			continue
		}
		base := te.TilePosition()
		for _, sp := range te.Spaces() {
			if m.geometry.Wrap(base.Add(sp)) == pos {
				out = append(out, te)
				break
			}
		}
	}
	return out
}

// TileOccupied клетка занята тайловой сущностью
func (m *Map) TileOccupied(pos vec.Vec2) bool {
	return len(m.TileEntitiesAt(pos)) > 0
}
