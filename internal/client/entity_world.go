package client

import (
	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/scriptapi"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

var _ entity.World = (*WorldClient)(nil)

func (c *WorldClient) Geometry() vec.Geometry {
	if c.tiles == nil {
		return vec.Geometry{}
	}
	return c.tiles.Geometry()
}

func (c *WorldClient) Collision(pos vec.Vec2) tile.CollisionKind { return c.tiles.Collision(pos) }

func (c *WorldClient) GravityMultiplier(pos vec.Vec2) float64 { return c.tiles.GravityMultiplier(pos) }

func (c *WorldClient) LiquidAt(pos vec.Vec2) tile.LiquidState { return c.tiles.LiquidAt(pos) }

func (c *WorldClient) MovingCollisions(area vec.RectF) []physics.MovingCollision {
	var out []physics.MovingCollision
	for _, e := range c.entities.Query(area, nil) {
		if p, ok := entity.As[entity.PhysicsEntity](e); ok {
			out = append(out, p.MovingCollisions(area)...)
		}
	}
	return out
}

func (c *WorldClient) IsServer() bool { return false }

func (c *WorldClient) ConnectionID() entity.ConnectionID { return c.clientID }

func (c *WorldClient) TileAt(pos vec.Vec2) tile.Tile { return c.tiles.Tile(pos) }

func (c *WorldClient) Entity(id entity.EntityID) entity.Entity {
	if c.entities == nil {
		return nil
	}
	return c.entities.Get(id)
}

func (c *WorldClient) EntityQuery(area vec.RectF, filter func(entity.Entity) bool) []entity.Entity {
	if c.entities == nil {
		return nil
	}
	return c.entities.Query(area, filter)
}

// AddEntity мастер клиента с id из диапазона соединения; серверу уходит на следующем Update
func (c *WorldClient) AddEntity(e entity.Entity) (entity.EntityID, error) {
	if !c.inWorld {
		return entity.NullEntityID, ErrNotInWorld
	}
	id, err := c.entities.ReserveID()
	if err != nil {
		return entity.NullEntityID, err
	}
	e.Init(c, id, entity.ModeMaster)
	if _, err := c.entities.Add(e); err != nil {
		e.Uninit()
		return entity.NullEntityID, err
	}
	return id, nil
}

// Time время сервера с поправкой на прошедшее с последнего шага
func (c *WorldClient) Time() float64 { return c.serverTime + c.sinceStep }

func (c *WorldClient) CurrentStep() uint64 { return c.serverStep }

func (c *WorldClient) Seed() uint64 {
	if c.template == nil {
		return 0
	}
	return c.template.Seed()
}

func (c *WorldClient) Lua() *luaengine.Engine { return c.lua }

func (c *WorldClient) Assets() *assets.Assets { return c.opts.Assets }

func (c *WorldClient) BindScript(ctx *luaengine.Context, owner entity.Entity) {
	scriptapi.Bind(ctx, c, owner)
}

func (c *WorldClient) Property(name string) interface{} { return c.properties[name] }

// SetProperty меняет только локальную копию; свойства мира ведёт сервер
func (c *WorldClient) SetProperty(name string, value interface{}) {
	if value == nil {
		delete(c.properties, name)
		return
	}
	c.properties[name] = value
}
