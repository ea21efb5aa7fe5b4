package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
)

func (c *WorldClient) handlePacket(p protocol.Packet) error {
	if start, ok := p.(*protocol.WorldStart); ok {
		return c.startWorld(start)
	}
	if !c.inWorld {
		switch p.(type) {
		case *protocol.Ping, *protocol.Pong, *protocol.ServerDisconnect:
			return nil
		}
		return ErrNotInWorld
	}

	switch p := p.(type) {
	case *protocol.WorldStop:
		c.inWorld = false
		c.stopped = p.Reason
		c.clearEntities()
		c.logger.Info("🛑 Мир остановлен: %s", p.Reason)

	case *protocol.StepUpdate:
		c.serverStep = p.Step
		c.serverTime = p.RemoteTime
		c.sinceStep = 0
	case *protocol.EnvironmentUpdate:
		if err := c.env.ReadDeltas(p.SkyDelta, p.WeatherDelta, c.rules); err != nil {
			c.logger.Warn("⚠️ Дельта окружения: %v", err)
		}
	case *protocol.UpdateWorldProperties:
		return c.updateProperties(p.Updated)
	case *protocol.ChatReceive:
		c.chat = append(c.chat, *p)

	case *protocol.TileArrayUpdate:
		c.tiles.Grid().ApplyArray(world.TileArrayUpdate{Min: p.Min, Width: p.Width, Height: p.Height, Tiles: p.Tiles}, c.serverStep)
	case *protocol.TileUpdate:
		c.tiles.SetTileDirect(p.Pos, p.Tile)
	case *protocol.TileLiquidUpdate:
		c.tiles.Grid().SetLiquid(p.Pos, p.Liquid, c.serverStep)
	case *protocol.TileDamageUpdate:
		key := damageKey{pos: p.Pos, layer: p.Layer}
		if p.Status.Broken || p.Status.Healthy() {
			delete(c.tileDamage, key)
		} else {
			c.tileDamage[key] = p.Status
		}
	case *protocol.TileModificationFailure:
		c.failures = append(c.failures, p.Modifications)

	case *protocol.EntityCreate:
		return c.createSlave(p)
	case *protocol.EntityUpdateSet:
		c.applyDeltas(p)
	case *protocol.EntityDestroy:
		c.destroySlave(p)

	case *protocol.EntityMessage:
		c.receiveMessage(p)
	case *protocol.EntityMessageResponse:
		c.receiveResponse(p)
	case *protocol.EntityInteract:
		c.receiveInteract(p)
	case *protocol.EntityInteractResult:
		if promise, ok := c.interacts[p.RequestID]; ok {
			delete(c.interacts, p.RequestID)
			promise.resolve(p.Action, nil)
		}

	case *protocol.DamageRequest:
		c.receiveDamage(p)
	case *protocol.DamageNotification:
		n := p.Notification
		if src := c.entities.Get(n.SourceEntityID); src != nil && src.EntityMode().IsMaster() {
			if de, ok := entity.As[entity.DamagingEntity](src); ok {
				de.DamagedOther(n)
			}
		}

	case *protocol.FindUniqueEntityResponse:
		waiting := c.uniqueFinds[p.UniqueID]
		delete(c.uniqueFinds, p.UniqueID)
		for _, promise := range waiting {
			promise.resolve(UniqueLocation{Found: p.Found, EntityID: p.EntityID, Position: p.Position}, nil)
		}

	default:
		c.logger.Debug("Пакет %s миром клиента не обрабатывается", p.Type())
	}
	return nil
}

// updateProperties null в обновлении удаляет свойство
func (c *WorldClient) updateProperties(data json.RawMessage) error {
	var changed map[string]interface{}
	if err := json.Unmarshal(data, &changed); err != nil {
		return fmt.Errorf("свойства мира: %w", err)
	}
	for k, v := range changed {
		if v == nil {
			delete(c.properties, k)
		} else {
			c.properties[k] = v
		}
	}
	return nil
}

// createSlave ведомая копия сущности сервера или другого клиента
func (c *WorldClient) createSlave(p *protocol.EntityCreate) error {
	if old := c.entities.Get(p.EntityID); old != nil {
		if old.EntityMode().IsMaster() {
			return fmt.Errorf("сервер создаёт сущность %d поверх мастера клиента", p.EntityID)
		}
		c.entities.Remove(p.EntityID)
		old.Uninit()
	}
	e, err := c.factory.NetLoad(p.EntityType, p.StoreData, c.rules)
	if err != nil {
		c.logger.Warn("⚠️ Сущность %d (%s) не создана: %v", p.EntityID, p.EntityType, err)
		return nil
	}
	e.Init(c, p.EntityID, entity.ModeSlave)
	if len(p.FirstNetState) > 0 {
		if err := e.ReadNetState(p.FirstNetState, 0, 0, c.rules); err != nil {
			e.Uninit()
			c.requestResync(p.EntityID, err)
			return nil
		}
	}
	if _, err := c.entities.Add(e); err != nil {
		e.Uninit()
		return err
	}
	return nil
}

// applyDeltas ошибка чтения или регрессия версии ведут к пересозданию копии
func (c *WorldClient) applyDeltas(p *protocol.EntityUpdateSet) {
	interp := c.interpolationTime()
	for _, id := range p.SortedIDs() {
		e := c.entities.Get(id)
		if e == nil || e.EntityMode().IsMaster() {
			continue
		}
		d := p.Deltas[id]
		if err := e.ReadNetState(d.Delta, d.Version, interp, c.rules); err != nil {
			c.entities.Remove(id)
			e.Uninit()
			c.requestResync(id, err)
			continue
		}
		c.entities.UpdateSpatial(id)
	}
}

func (c *WorldClient) requestResync(id entity.EntityID, cause error) {
	c.resyncs++
	c.logger.Warn("⚠️ Сущность %d рассинхронизирована (%v), запрошено пересоздание", id, cause)
	c.send(&protocol.EntityResyncRequest{EntityID: id})
}

func (c *WorldClient) destroySlave(p *protocol.EntityDestroy) {
	e := c.entities.Get(p.EntityID)
	if e == nil || e.EntityMode().IsMaster() {
		return
	}
	if len(p.FinalNetState) > 0 {
		// версия финального состояния не передаётся
		if err := e.ReadNetState(p.FinalNetState, math.MaxUint64, 0, c.rules); err != nil {
			c.logger.Debug("Финальное состояние %d: %v", p.EntityID, err)
		}
	}
	c.entities.Remove(p.EntityID)
	e.Uninit()
}

// receiveMessage сообщение для мастера клиента, пересланное сервером
func (c *WorldClient) receiveMessage(p *protocol.EntityMessage) {
	resp := &protocol.EntityMessageResponse{UUID: p.UUID}
	var e entity.Entity
	if p.Target.IsUnique() {
		if id, ok := c.entities.FindUnique(p.Target.UniqueID); ok {
			e = c.entities.Get(id)
		}
	} else {
		e = c.entities.Get(p.Target.ID)
	}
	if e == nil || !e.EntityMode().IsMaster() {
		resp.Error = entity.ErrEntityNotFound.Error()
		c.send(resp)
		return
	}
	result, handled, err := e.ReceiveMessage(p.FromConnection, p.Message, p.Args)
	switch {
	case err != nil:
		resp.Error = err.Error()
	case !handled:
		resp.Error = entity.ErrMessageUnhandled.Error()
	default:
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = merr.Error()
		} else {
			resp.Result = data
		}
	}
	c.send(resp)
}

func (c *WorldClient) receiveResponse(p *protocol.EntityMessageResponse) {
	m, ok := c.messages[p.UUID]
	if !ok {
		return
	}
	delete(c.messages, p.UUID)
	if p.Failed() {
		m.promise.Fail(errors.New(p.Error))
		return
	}
	var result interface{}
	if len(p.Result) > 0 {
		if err := json.Unmarshal(p.Result, &result); err != nil {
			m.promise.Fail(err)
			return
		}
	}
	m.promise.Fulfill(result)
}

// receiveInteract взаимодействие с мастером клиента, пересланное сервером
func (c *WorldClient) receiveInteract(p *protocol.EntityInteract) {
	action := entity.NoInteraction()
	if e := c.entities.Get(p.Request.TargetID); e != nil && e.EntityMode().IsMaster() {
		if ie, ok := entity.As[entity.InteractiveEntity](e); ok && ie.IsInteractive() {
			action = ie.Interact(p.Request)
		}
	}
	c.send(&protocol.EntityInteractResult{Action: action, RequestID: p.RequestID, SourceEntityID: p.Request.SourceID})
}

// receiveDamage урон по мастеру клиента; уведомления уходят серверу
func (c *WorldClient) receiveDamage(p *protocol.DamageRequest) {
	e := c.entities.Get(p.TargetEntityID)
	if e == nil || !e.EntityMode().IsMaster() {
		return
	}
	target, ok := entity.As[entity.DamageableEntity](e)
	if !ok {
		return
	}
	for _, n := range target.ApplyDamage(p.Request) {
		c.send(&protocol.DamageNotification{Notification: n})
	}
}
