package server

import (
	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/scriptapi"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Мир глазами сущностей сервера

var _ entity.World = (*WorldServer)(nil)

func (s *WorldServer) Geometry() vec.Geometry { return s.tiles.Geometry() }

func (s *WorldServer) Collision(pos vec.Vec2) tile.CollisionKind { return s.tiles.Collision(pos) }

func (s *WorldServer) GravityMultiplier(pos vec.Vec2) float64 { return s.tiles.GravityMultiplier(pos) }

func (s *WorldServer) LiquidAt(pos vec.Vec2) tile.LiquidState { return s.tiles.LiquidAt(pos) }

func (s *WorldServer) MovingCollisions(area vec.RectF) []physics.MovingCollision {
	var out []physics.MovingCollision
	for _, e := range s.entities.Query(area, nil) {
		if p, ok := entity.As[entity.PhysicsEntity](e); ok {
			out = append(out, p.MovingCollisions(area)...)
		}
	}
	return out
}

func (s *WorldServer) IsServer() bool { return true }

func (s *WorldServer) ConnectionID() entity.ConnectionID { return entity.ServerConnectionID }

func (s *WorldServer) TileAt(pos vec.Vec2) tile.Tile { return s.tiles.Tile(pos) }

// ModifyTiles изменения от имени сущности сервера. В защищённые подземелья
// пускаются только привилегированные серверные сущности.
func (s *WorldServer) ModifyTiles(list tile.ModificationList, allowEntityOverlap bool, source entity.EntityID) tile.ModificationList {
	failed := s.tiles.ModifyTiles(list, allowEntityOverlap, s.modifyContext(s.entityPrivileged(source)))
	s.metrics.tileFailed(len(failed))
	return failed
}

func (s *WorldServer) DamageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, source entity.EntityID) bool {
	return s.damageTiles(positions, layer, sourcePos, damage, source, s.entityPrivileged(source))
}

// entityPrivileged сущность принадлежит серверу и объявлена привилегированной
func (s *WorldServer) entityPrivileged(id entity.EntityID) bool {
	e := s.entities.Get(id)
	if e == nil || entity.ConnectionForEntity(id) != entity.ServerConnectionID {
		return false
	}
	pe, ok := entity.As[entity.PrivilegedEntity](e)
	return ok && pe.TilePrivileged()
}

func (s *WorldServer) Entity(id entity.EntityID) entity.Entity { return s.entities.Get(id) }

func (s *WorldServer) FindUniqueEntity(uniqueID string) (entity.EntityID, bool) {
	return s.entities.FindUnique(uniqueID)
}

func (s *WorldServer) EntityQuery(area vec.RectF, filter func(entity.Entity) bool) []entity.Entity {
	return s.entities.Query(area, filter)
}

// AddEntity выдаёт id из диапазона сервера и сразу добавляет мастера в карту
func (s *WorldServer) AddEntity(e entity.Entity) (entity.EntityID, error) {
	id, err := s.entities.ReserveID()
	if err != nil {
		return entity.NullEntityID, err
	}
	e.Init(s, id, entity.ModeMaster)
	if _, err := s.entities.Add(e); err != nil {
		e.Uninit()
		return entity.NullEntityID, err
	}
	return id, nil
}

func (s *WorldServer) Time() float64 { return s.time }

func (s *WorldServer) CurrentStep() uint64 { return s.step }

func (s *WorldServer) Seed() uint64 { return s.template.Seed() }

func (s *WorldServer) Lua() *luaengine.Engine { return s.lua }

func (s *WorldServer) Assets() *assets.Assets { return s.assets }

func (s *WorldServer) BindScript(ctx *luaengine.Context, owner entity.Entity) {
	scriptapi.Bind(ctx, s, owner)
}

func (s *WorldServer) Property(name string) interface{} { return s.properties[name] }

// SetProperty nil удаляет свойство; изменения рассылаются на шаге 7
func (s *WorldServer) SetProperty(name string, value interface{}) {
	if value == nil {
		delete(s.properties, name)
	} else {
		s.properties[name] = value
	}
	s.changedProps[name] = true
}

// Properties копия свойств мира
func (s *WorldServer) Properties() map[string]interface{} {
	out := make(map[string]interface{}, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}
