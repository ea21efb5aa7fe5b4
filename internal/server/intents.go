package server

import (
	"fmt"
	"math"

	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// handleIntent разбирает один пакет клиента. Отклонённые намерения
// возвращаются клиенту пакетами отказа; ошибка только для нарушений протокола.
func (s *WorldServer) handleIntent(c *clientState, p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.WorldClientStateUpdate:
		c.window = p.Window
		c.playerID = p.PlayerID

	case *protocol.ModifyTileList:
		s.modifyTiles(c, p.Modifications, p.AllowEntityOverlap)
	case *protocol.ReplaceTileList:
		s.replaceTiles(c, p)
	case *protocol.DamageTileGroup:
		s.damageTiles(p.Positions, p.Layer, p.SourcePosition, p.Damage, p.SourceEntity, c.privileged)
	case *protocol.CollectLiquid:
		s.tiles.CollectLiquid(p.Positions, p.Liquid, c.privileged)
	case *protocol.ConnectWire:
		s.connectWire(p.Output, p.Input)
	case *protocol.DisconnectAllWires:
		s.disconnectAllWires(p.Position, p.Node)

	case *protocol.SpawnEntity:
		return s.handleSpawn(c, p)
	case *protocol.EntityCreate:
		return s.handleClientCreate(c, p)
	case *protocol.EntityUpdateSet:
		return s.handleClientUpdates(c, p)
	case *protocol.EntityDestroy:
		return s.handleClientDestroy(c, p)
	case *protocol.EntityResyncRequest:
		delete(c.known, p.EntityID)

	case *protocol.EntityInteract:
		s.handleInteract(c, p)
	case *protocol.EntityInteractResult:
		s.handleInteractResult(c, p)
	case *protocol.EntityMessage:
		s.handleEntityMessage(c, p)
	case *protocol.EntityMessageResponse:
		s.handleMessageResponse(c, p)

	case *protocol.HitRequest:
		return s.handleHitRequest(c, p.CausingEntityID, p.TargetEntityID, p.Request)
	case *protocol.DamageRequest:
		return s.handleHitRequest(c, p.CausingEntityID, p.TargetEntityID, p.Request)
	case *protocol.DamageNotification:
		return s.handleDamageNotification(c, p.Notification)

	case *protocol.FindUniqueEntity:
		resp := &protocol.FindUniqueEntityResponse{UniqueID: p.UniqueID}
		if id, ok := s.entities.FindUnique(p.UniqueID); ok {
			resp.Found = true
			resp.EntityID = id
			resp.Position = s.entities.Get(id).Position()
		}
		c.send(resp)

	case *protocol.ChatSend:
		s.handleChat(c, p)

	default:
		s.logger.Debug("Пакет %s от клиента %d не обрабатывается миром", p.Type(), c.id)
	}
	return nil
}

// modifyContext privileged снимает защиту подземелий
func (s *WorldServer) modifyContext(privileged bool) world.ModifyContext {
	return world.ModifyContext{Occupancy: s.entities, Privileged: privileged}
}

// modifyTiles применяет изменения клиента; отказ возвращается только ему
func (s *WorldServer) modifyTiles(c *clientState, list tile.ModificationList, allowOverlap bool) {
	failed := s.tiles.ModifyTiles(list, allowOverlap, s.modifyContext(c.privileged))
	if len(failed) == 0 {
		return
	}
	s.metrics.tileFailed(len(failed))
	c.send(&protocol.TileModificationFailure{Modifications: failed})
}

func (s *WorldServer) replaceTiles(c *clientState, p *protocol.ReplaceTileList) {
	failed, results := s.tiles.ReplaceTiles(p.Replacements, p.Damage, p.ApplyDamage, s.modifyContext(c.privileged))
	s.recordTileDamage(results)
	if len(failed) == 0 {
		return
	}
	s.metrics.tileFailed(len(failed))
	mods := make(tile.ModificationList, 0, len(failed))
	for _, r := range failed {
		mods = append(mods, tile.PositionedModification{
			Pos: r.Pos,
			Mod: tile.PlaceMaterial{Layer: r.Layer, Material: r.Material, HueShift: r.HueShift},
		})
	}
	c.send(&protocol.TileModificationFailure{Modifications: mods})
}

// damageTiles урон клеткам; разрушенные клетки роняют предметы
func (s *WorldServer) damageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, source entity.EntityID, privileged bool) bool {
	results := s.tiles.DamageTiles(positions, layer, sourcePos, damage, source, privileged)
	s.recordTileDamage(results)
	return len(results) > 0
}

func (s *WorldServer) recordTileDamage(results []world.TileDamageResult) {
	s.tileDamage = append(s.tileDamage, results...)
	for _, r := range results {
		if !r.Status.Broken {
			continue
		}
		s.metrics.tileBroken()
		if r.Drop == "" {
			continue
		}
		if _, err := s.SpawnItemDrop(r.Drop, 1, r.Pos.Center()); err != nil {
			s.logger.Warn("⚠️ Не удалось выронить %s в %v: %v", r.Drop, r.Pos, err)
		}
	}
}

// handleSpawn клиент просит сервер создать мастера
func (s *WorldServer) handleSpawn(c *clientState, p *protocol.SpawnEntity) error {
	e, err := s.factory.NetLoad(p.EntityType, p.StoreData, c.rules)
	if err != nil {
		s.logger.Warn("⚠️ Клиент %d: не удалось создать %s: %v", c.id, p.EntityType, err)
		return nil
	}
	if _, err := s.AddEntity(e); err != nil {
		s.logger.Warn("⚠️ Клиент %d: %s не добавлен: %v", c.id, p.EntityType, err)
	}
	return nil
}

// handleClientCreate мастер клиента появляется на сервере ведомой копией
func (s *WorldServer) handleClientCreate(c *clientState, p *protocol.EntityCreate) error {
	if !c.owns(p.EntityID) {
		return fmt.Errorf("id %d вне диапазона клиента", p.EntityID)
	}
	if s.entities.Get(p.EntityID) != nil {
		return fmt.Errorf("%w: %d", entity.ErrDuplicateEntity, p.EntityID)
	}
	e, err := s.factory.NetLoad(p.EntityType, p.StoreData, c.rules)
	if err != nil {
		return fmt.Errorf("создание %s: %w", p.EntityType, err)
	}
	e.Init(s, p.EntityID, entity.ModeSlave)
	if len(p.FirstNetState) > 0 {
		if err := e.ReadNetState(p.FirstNetState, 0, 0, c.rules); err != nil {
			e.Uninit()
			return fmt.Errorf("начальное состояние %d: %w", p.EntityID, err)
		}
	}
	if _, err := s.entities.Add(e); err != nil {
		e.Uninit()
		return err
	}
	return nil
}

// handleClientUpdates дельты мастеров клиента
func (s *WorldServer) handleClientUpdates(c *clientState, p *protocol.EntityUpdateSet) error {
	for _, id := range sortedDeltaIDs(p.Deltas) {
		if !c.owns(id) {
			return fmt.Errorf("дельта чужой сущности %d", id)
		}
		e := s.entities.Get(id)
		if e == nil {
			continue
		}
		d := p.Deltas[id]
		if err := e.ReadNetState(d.Delta, d.Version, 0, c.rules); err != nil {
			return fmt.Errorf("дельта %d: %w", id, err)
		}
		s.entities.UpdateSpatial(id)
	}
	return nil
}

func (s *WorldServer) handleClientDestroy(c *clientState, p *protocol.EntityDestroy) error {
	if !c.owns(p.EntityID) {
		return fmt.Errorf("удаление чужой сущности %d", p.EntityID)
	}
	e := s.entities.Get(p.EntityID)
	if e == nil {
		return nil
	}
	if len(p.FinalNetState) > 0 {
		// версия отправителя неизвестна, сущность всё равно уходит из мира
		if err := e.ReadNetState(p.FinalNetState, math.MaxUint64, 0, c.rules); err != nil {
			s.logger.Debug("Финальное состояние %d: %v", p.EntityID, err)
		}
	}
	s.removeEntity(e, p.Death)
	return nil
}

// handleChat доставляет сообщение клиентам мира и публикует его в шину
func (s *WorldServer) handleChat(c *clientState, p *protocol.ChatSend) {
	mode := protocol.ChatBroadcast
	switch p.Mode {
	case protocol.ChatSendLocal:
		mode = protocol.ChatLocal
	case protocol.ChatSendParty:
		mode = protocol.ChatParty
	}
	msg := &protocol.ChatReceive{Mode: mode, FromConnection: c.id, FromNick: c.playerName, Text: p.Text}

	var origin entity.Entity
	if p.Mode == protocol.ChatSendLocal && c.playerID != entity.NullEntityID {
		origin = s.entities.Get(c.playerID)
	}
	geo := s.entities.Geometry()
	for _, id := range s.ClientIDs() {
		other := s.clients[id]
		if origin != nil && other != c && !other.sees(geo, origin.Position().Floor()) {
			continue
		}
		other.send(msg)
	}
	if p.Mode == protocol.ChatSendBroadcast {
		s.publish(eventbus.EventChatMessage, eventbus.ChatMessage{World: s.name, FromNick: c.playerName, Text: p.Text})
	}
}
