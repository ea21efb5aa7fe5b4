package client

import (
	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Намерения клиента. Сервер решает, применять ли их; отказы по тайлам
// возвращаются через TakeFailures.

// ModifyTiles просит сервер применить изменения тайлов
func (c *WorldClient) ModifyTiles(list tile.ModificationList, allowEntityOverlap bool, _ entity.EntityID) tile.ModificationList {
	if !c.inWorld || len(list) == 0 {
		return list
	}
	c.send(&protocol.ModifyTileList{Modifications: list, AllowEntityOverlap: allowEntityOverlap})
	return nil
}

// ReplaceTiles замена материалов с уроном старым тайлам
func (c *WorldClient) ReplaceTiles(replacements []world.TileReplacement, damage tile.Damage, applyDamage bool) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	c.send(&protocol.ReplaceTileList{Replacements: replacements, Damage: damage, ApplyDamage: applyDamage})
	return nil
}

// DamageTiles урон группе клеток
func (c *WorldClient) DamageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, source entity.EntityID) bool {
	if !c.inWorld || len(positions) == 0 {
		return false
	}
	c.send(&protocol.DamageTileGroup{
		Positions:      positions,
		Layer:          layer,
		SourcePosition: sourcePos,
		Damage:         damage,
		SourceEntity:   source,
	})
	return true
}

// CollectLiquid сбор жидкости из клеток
func (c *WorldClient) CollectLiquid(positions []vec.Vec2, liquid tile.LiquidID) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	c.send(&protocol.CollectLiquid{Positions: positions, Liquid: liquid})
	return nil
}

// ConnectWire соединяет выход одной тайловой сущности со входом другой
func (c *WorldClient) ConnectWire(output, input entity.WireConnection) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	c.send(&protocol.ConnectWire{Output: output, Input: input})
	return nil
}

// DisconnectAllWires снимает все провода с узла
func (c *WorldClient) DisconnectAllWires(pos vec.Vec2, node entity.WireNode) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	c.send(&protocol.DisconnectAllWires{Position: pos, Node: node})
	return nil
}

// Interact взаимодействие с сущностью; ответ придёт с тем же uuid
func (c *WorldClient) Interact(req entity.InteractRequest) *Promise[entity.InteractAction] {
	promise := newPromise[entity.InteractAction]()
	if !c.inWorld {
		promise.resolve(entity.NoInteraction(), ErrNotInWorld)
		return promise
	}
	id := uuid.New()
	c.interacts[id] = promise
	c.send(&protocol.EntityInteract{Request: req, RequestID: id})
	return promise
}

// SpawnEntity просит сервер создать мастера сервера из сущности e
func (c *WorldClient) SpawnEntity(e entity.Entity) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	first, _ := e.WriteNetState(0, c.rules)
	c.send(&protocol.SpawnEntity{EntityType: e.EntityType(), StoreData: e.NetStore(c.rules), FirstNetState: first})
	return nil
}

// FindUniqueEntity ищет уникальную сущность по всему миру
func (c *WorldClient) FindUniqueEntity(uniqueID string) (entity.EntityID, bool) {
	if c.entities == nil {
		return entity.NullEntityID, false
	}
	return c.entities.FindUnique(uniqueID)
}

// LocateUnique запрашивает у сервера положение уникальной сущности вне окна клиента
func (c *WorldClient) LocateUnique(uniqueID string) *Promise[UniqueLocation] {
	promise := newPromise[UniqueLocation]()
	if !c.inWorld {
		promise.resolve(UniqueLocation{}, ErrNotInWorld)
		return promise
	}
	if id, ok := c.entities.FindUnique(uniqueID); ok {
		promise.resolve(UniqueLocation{Found: true, EntityID: id, Position: c.entities.Get(id).Position()}, nil)
		return promise
	}
	waiting := c.uniqueFinds[uniqueID]
	c.uniqueFinds[uniqueID] = append(waiting, promise)
	if len(waiting) == 0 {
		c.send(&protocol.FindUniqueEntity{UniqueID: uniqueID})
	}
	return promise
}

// Chat отправляет сообщение в чат
func (c *WorldClient) Chat(text string, mode protocol.ChatSendMode) error {
	if !c.inWorld {
		return ErrNotInWorld
	}
	c.send(&protocol.ChatSend{Text: text, Mode: mode})
	return nil
}

// SendEntityMessage своим мастерам доставляется сразу, остальным через сервер
func (c *WorldClient) SendEntityMessage(source entity.EntityID, target entity.MessageTarget, message string, args []interface{}) *entity.MessagePromise {
	if !c.inWorld {
		return entity.ResolvedPromise(nil, ErrNotInWorld)
	}
	var local entity.Entity
	if target.IsUnique() {
		if id, ok := c.entities.FindUnique(target.UniqueID); ok {
			local = c.entities.Get(id)
		}
	} else {
		local = c.entities.Get(target.ID)
	}
	if local != nil && local.EntityMode().IsMaster() {
		result, handled, err := local.ReceiveMessage(c.clientID, message, args)
		if err == nil && !handled {
			err = entity.ErrMessageUnhandled
		}
		return entity.ResolvedPromise(result, err)
	}

	id := uuid.New()
	promise := entity.NewMessagePromise()
	c.messages[id] = &pendingMessage{promise: promise, expires: c.clock + c.opts.MessageTimeout.Seconds()}
	c.send(&protocol.EntityMessage{Target: target, Message: message, Args: args, UUID: id, FromConnection: c.clientID})
	return promise
}
