package server

import (
	"sort"

	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

// replicate шаг 6: тайлы, урон и сущности для каждого клиента по возрастанию id
func (s *WorldServer) replicate() {
	geo := s.entities.Geometry()
	for _, id := range s.ClientIDs() {
		c := s.clients[id]
		s.replicateTiles(c, geo)
		s.replicateEntities(c)
	}
}

func (s *WorldServer) replicateTiles(c *clientState, geo vec.Geometry) {
	if !c.window.IsEmpty() {
		batch := c.tiles.Collect(s.tiles.Grid(), c.window, s.step)
		for _, a := range batch.Arrays {
			c.send(&protocol.TileArrayUpdate{Min: a.Min, Width: a.Width, Height: a.Height, Tiles: a.Tiles})
		}
		for _, t := range batch.Tiles {
			c.send(&protocol.TileUpdate{Pos: t.Pos, Tile: t.Tile})
		}
		for _, l := range batch.Liquids {
			c.send(&protocol.TileLiquidUpdate{Pos: l.Pos, Liquid: l.Liquid})
		}
	}

	for _, r := range s.tileDamage {
		if c.sees(geo, r.Pos) {
			c.send(&protocol.TileDamageUpdate{Pos: r.Pos, Layer: r.Layer, Status: r.Status})
		}
	}
	for _, n := range s.notifyDamage {
		if c.owns(n.TargetEntityID) {
			continue
		}
		if c.owns(n.SourceEntityID) || c.sees(geo, n.Position.Floor()) {
			c.send(&protocol.DamageNotification{Notification: n})
		}
	}
}

// replicateEntities удаления, появления в окне и дельты известных клиенту сущностей
func (s *WorldServer) replicateEntities(c *clientState) {
	for _, d := range s.dying {
		id := d.e.EntityID()
		ver, ok := c.known[id]
		if !ok {
			continue
		}
		delete(c.known, id)
		final, _ := d.e.WriteNetState(ver, c.rules)
		c.send(&protocol.EntityDestroy{EntityID: id, FinalNetState: final, Death: d.death})
	}

	visible := make(map[entity.EntityID]entity.Entity)
	if !c.window.IsEmpty() {
		for _, e := range s.entities.Query(c.windowF(), nil) {
			if !c.owns(e.EntityID()) {
				visible[e.EntityID()] = e
			}
		}
	}

	for _, id := range sortedKnownIDs(c.known) {
		if _, ok := visible[id]; ok {
			continue
		}
		ver := c.known[id]
		delete(c.known, id)
		var final []byte
		if e := s.entities.Get(id); e != nil {
			final, _ = e.WriteNetState(ver, c.rules)
		}
		c.send(&protocol.EntityDestroy{EntityID: id, FinalNetState: final})
	}

	ids := make([]entity.EntityID, 0, len(visible))
	for id := range visible {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	deltas := make(map[entity.EntityID]protocol.EntityDelta)
	for _, id := range ids {
		e := visible[id]
		ver, known := c.known[id]
		if !known {
			first, v := e.WriteNetState(0, c.rules)
			c.send(&protocol.EntityCreate{
				EntityType:    e.EntityType(),
				StoreData:     e.NetStore(c.rules),
				FirstNetState: first,
				EntityID:      id,
			})
			c.known[id] = v
			continue
		}
		delta, v := e.WriteNetState(ver, c.rules)
		c.known[id] = v
		if len(delta) > 0 {
			deltas[id] = protocol.EntityDelta{Version: v, Delta: delta}
		}
	}
	if len(deltas) > 0 {
		c.send(&protocol.EntityUpdateSet{ForConnection: entity.ServerConnectionID, Deltas: deltas})
	}
}

func sortedKnownIDs(known map[entity.EntityID]uint64) []entity.EntityID {
	ids := make([]entity.EntityID, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedDeltaIDs(deltas map[entity.EntityID]protocol.EntityDelta) []entity.EntityID {
	ids := make([]entity.EntityID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
