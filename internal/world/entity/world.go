package entity

import (
	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// World мир, каким его видят сущности. Реализуется сервером и клиентом мира.
type World interface {
	physics.CollisionWorld

	IsServer() bool
	// ConnectionID соединение владельца мира; у сервера 0
	ConnectionID() ConnectionID

	TileAt(pos vec.Vec2) tile.Tile
	// ModifyTiles возвращает отклонённые изменения; source сущность-инициатор
	ModifyTiles(list tile.ModificationList, allowEntityOverlap bool, source EntityID) tile.ModificationList
	DamageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, source EntityID) bool

	Entity(id EntityID) Entity
	FindUniqueEntity(uniqueID string) (EntityID, bool)
	EntityQuery(area vec.RectF, filter func(Entity) bool) []Entity
	// AddEntity инициализирует сущность мастером и выдаёт ей id
	AddEntity(e Entity) (EntityID, error)
	SendEntityMessage(source EntityID, target MessageTarget, message string, args []interface{}) *MessagePromise

	Time() float64
	CurrentStep() uint64
	Seed() uint64

	Lua() *luaengine.Engine
	Assets() *assets.Assets
	// BindScript публикует world.*, entity.* и прочие таблицы в контексте скрипта
	BindScript(ctx *luaengine.Context, owner Entity)

	Property(name string) interface{}
	SetProperty(name string, value interface{})
}
