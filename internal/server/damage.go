package server

import (
	"fmt"

	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/world/entity"
)

// defaultRepeatTimeout пауза между попаданиями одного источника по одной цели
const defaultRepeatTimeout = 1.0

type repeatKey struct {
	source entity.EntityID
	target entity.EntityID
	group  string
}

type pendingHit struct {
	causing entity.EntityID
	target  entity.EntityID
	req     entity.DamageRequest
}

// damageManager сопоставляет источники урона мастеров с полигонами целей.
// Попадания копятся на шаге 2 и доставляются владельцам целей на шаге 3.
type damageManager struct {
	pending []pendingHit
	repeats map[repeatKey]float64
}

func newDamageManager() *damageManager {
	return &damageManager{repeats: make(map[repeatKey]float64)}
}

// collect ищет попадания источников урона всех мастеров сервера
func (d *damageManager) collect(s *WorldServer) {
	geo := s.entities.Geometry()
	for key, until := range d.repeats {
		if until <= s.time {
			delete(d.repeats, key)
		}
	}

	for _, e := range s.entities.Entities() {
		if !e.EntityMode().IsMaster() || !e.InWorld() {
			continue
		}
		de, ok := entity.As[entity.DamagingEntity](e)
		if !ok {
			continue
		}
		for _, src := range de.DamageSources() {
			if len(src.Area) == 0 {
				continue
			}
			srcBox := src.Area.BoundBox()
			srcCenter := srcBox.Center()
			candidates := s.entities.Query(srcBox, func(c entity.Entity) bool {
				_, ok := entity.As[entity.DamageableEntity](c)
				return ok
			})
			for _, cand := range candidates {
				target := cand.(entity.DamageableEntity)
				isSelf := cand.EntityID() == e.EntityID() || cand.EntityID() == src.SourceEntityID
				if isSelf && !src.Team.CanDamage(target.Team(), true) {
					continue
				}
				hit, ok := target.QueryHit(src)
				if !ok {
					continue
				}
				poly, ok := target.HitPoly()
				if !ok {
					continue
				}
				center := poly.Center()
				poly = poly.Translated(geo.Nearest(srcCenter, center).Sub(center))
				if !src.Intersects(poly) {
					continue
				}

				key := repeatKey{source: e.EntityID(), target: cand.EntityID(), group: src.RepeatGroup}
				if until, ok := d.repeats[key]; ok && s.time < until {
					continue
				}
				timeout := src.RepeatTimeout
				if timeout <= 0 {
					timeout = defaultRepeatTimeout
				}
				d.repeats[key] = s.time + timeout

				req := entity.RequestFrom(src, hit, geo.DiffF(poly.Center(), srcCenter))
				de.HitOther(cand.EntityID(), req)
				d.pending = append(d.pending, pendingHit{causing: e.EntityID(), target: cand.EntityID(), req: req})
			}
		}
	}
}

// deliver доставляет накопленные попадания; исчезнувшие цели пропускаются
func (d *damageManager) deliver(s *WorldServer) {
	hits := d.pending
	d.pending = nil
	for _, h := range hits {
		s.applyHit(h.causing, h.target, h.req)
	}
}

// applyHit применяет урон к мастеру сервера или отправляет DamageRequest владельцу цели
func (s *WorldServer) applyHit(causing, targetID entity.EntityID, req entity.DamageRequest) {
	target := s.entities.Get(targetID)
	if target == nil {
		return
	}
	owner := entity.ConnectionForEntity(targetID)
	if owner != entity.ServerConnectionID {
		c, ok := s.clients[owner]
		if !ok {
			return
		}
		s.metrics.damageRequested()
		c.send(&protocol.DamageRequest{CausingEntityID: causing, TargetEntityID: targetID, Request: req})
		return
	}
	dt, ok := entity.As[entity.DamageableEntity](target)
	if !ok {
		return
	}
	for _, n := range dt.ApplyDamage(req) {
		s.notifyDamaged(n)
	}
}

// notifyDamaged рассылает уведомление и сообщает о нём источнику урона
func (s *WorldServer) notifyDamaged(n entity.DamageNotification) {
	s.notifyDamage = append(s.notifyDamage, n)
	if src := s.entities.Get(n.SourceEntityID); src != nil && src.EntityMode().IsMaster() {
		if de, ok := entity.As[entity.DamagingEntity](src); ok {
			de.DamagedOther(n)
		}
	}
}

// handleHitRequest попадание, обнаруженное мастером клиента
func (s *WorldServer) handleHitRequest(c *clientState, causing, target entity.EntityID, req entity.DamageRequest) error {
	if !c.owns(causing) {
		return fmt.Errorf("сущность %d не принадлежит клиенту", causing)
	}
	if c.owns(target) {
		return nil
	}
	s.applyHit(causing, target, req)
	return nil
}

// handleDamageNotification урон, применённый клиентом к своей сущности
func (s *WorldServer) handleDamageNotification(c *clientState, n entity.DamageNotification) error {
	if !c.owns(n.TargetEntityID) {
		return fmt.Errorf("уведомление об уроне чужой сущности %d", n.TargetEntityID)
	}
	s.notifyDamaged(n)
	return nil
}
