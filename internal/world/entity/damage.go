package entity

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// TeamType тип команды урона
type TeamType uint8

const (
	TeamNull TeamType = iota
	TeamFriendly
	TeamEnemy
	TeamPVP
	TeamPassive
	TeamGhostly
	TeamEnvironment
	TeamIndiscriminate
	TeamAssistant
)

var teamTypeNames = [...]string{
	"null", "friendly", "enemy", "pvp", "passive", "ghostly", "environment", "indiscriminate", "assistant",
}

func (t TeamType) String() string {
	if int(t) < len(teamTypeNames) {
		return teamTypeNames[t]
	}
	return fmt.Sprintf("TeamType(%d)", t)
}

func (t TeamType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *TeamType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, n := range teamTypeNames {
		if n == s {
			*t = TeamType(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестный тип команды %q", s)
}

// EntityDamageTeam команда сущности
type EntityDamageTeam struct {
	Type TeamType `json:"type"`
	Team uint16   `json:"team"`
}

// CanDamage может ли команда t наносить урон жертве
func (t EntityDamageTeam) CanDamage(victim EntityDamageTeam, victimIsSelf bool) bool {
	if victimIsSelf {
		return t.Type == TeamIndiscriminate
	}
	switch t.Type {
	case TeamFriendly, TeamAssistant:
		return victim.Type == TeamEnemy || victim.Type == TeamPassive ||
			victim.Type == TeamEnvironment || victim.Type == TeamIndiscriminate
	case TeamEnemy:
		return victim.Type == TeamFriendly || victim.Type == TeamPVP ||
			victim.Type == TeamAssistant || victim.Type == TeamIndiscriminate
	case TeamPVP:
		if victim.Type == TeamPVP {
			return t.Team == 0 || t.Team != victim.Team
		}
		return victim.Type == TeamEnemy || victim.Type == TeamPassive ||
			victim.Type == TeamEnvironment || victim.Type == TeamIndiscriminate
	case TeamIndiscriminate:
		return victim.Type != TeamGhostly
	}
	return false
}

// HitType сила попадания
type HitType uint8

const (
	HitNormal HitType = iota
	HitStrong
	HitWeak
	HitShield
	HitKill
)

var hitTypeNames = [...]string{"Hit", "StrongHit", "WeakHit", "ShieldHit", "Kill"}

func (h HitType) String() string {
	if int(h) < len(hitTypeNames) {
		return hitTypeNames[h]
	}
	return fmt.Sprintf("HitType(%d)", h)
}

func (h HitType) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

func (h *HitType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, n := range hitTypeNames {
		if n == s {
			*h = HitType(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестный тип попадания %q", s)
}

// DamageKind способ применения урона
type DamageKind uint8

const (
	DamageNone DamageKind = iota
	DamageNormal
	DamageIgnoresDef
	DamageKnockback
	DamageEnvironment
	DamageStatus
)

var damageKindNames = [...]string{"NoDamage", "Damage", "IgnoresDef", "Knockback", "Environment", "Status"}

func (k DamageKind) String() string {
	if int(k) < len(damageKindNames) {
		return damageKindNames[k]
	}
	return fmt.Sprintf("DamageKind(%d)", k)
}

func (k DamageKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *DamageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, n := range damageKindNames {
		if n == s {
			*k = DamageKind(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестный вид урона %q", s)
}

// DamageSource область, наносящая урон
type DamageSource struct {
	Kind           DamageKind       `json:"damageType"`
	Damage         float64          `json:"damage"`
	Area           physics.Poly     `json:"poly"`
	SourceEntityID EntityID         `json:"sourceEntityId"`
	Team           EntityDamageTeam `json:"team"`
	// RepeatGroup источники одной группы бьют цель не чаще RepeatTimeout
	RepeatGroup   string   `json:"damageRepeatGroup,omitempty"`
	RepeatTimeout float64  `json:"damageRepeatTimeout,omitempty"`
	SourceKind    string   `json:"damageSourceKind"`
	StatusEffects []string `json:"statusEffects,omitempty"`
	Knockback     float64  `json:"knockback"`
	Rayline       bool     `json:"rayCheck"`
}

// Translated источник, смещённый на позицию владельца
func (s DamageSource) Translated(p vec.Vec2F) DamageSource {
	s.Area = s.Area.Translated(p)
	return s
}

// Intersects пересекается ли область источника с полигоном цели
func (s DamageSource) Intersects(target physics.Poly) bool {
	if len(s.Area) == 0 || len(target) == 0 {
		return false
	}
	_, hit := s.Area.Separation(target)
	return hit
}

// DamageRequest запрос урона, доставляемый владельцу цели
type DamageRequest struct {
	HitType        HitType    `json:"hitType"`
	Kind           DamageKind `json:"damageType"`
	Damage         float64    `json:"damage"`
	Knockback      vec.Vec2F  `json:"knockbackMomentum"`
	SourceEntityID EntityID   `json:"sourceEntityId"`
	SourceKind     string     `json:"damageSourceKind"`
	StatusEffects  []string   `json:"statusEffects,omitempty"`
}

// RequestFrom запрос из источника с направлением отбрасывания от источника к цели
func RequestFrom(s DamageSource, hit HitType, direction vec.Vec2F) DamageRequest {
	return DamageRequest{
		HitType:        hit,
		Kind:           s.Kind,
		Damage:         s.Damage,
		Knockback:      direction.Normalized().Mul(s.Knockback),
		SourceEntityID: s.SourceEntityID,
		SourceKind:     s.SourceKind,
		StatusEffects:  s.StatusEffects,
	}
}

// DamageNotification уведомление о нанесённом уроне для всех клиентов
type DamageNotification struct {
	SourceEntityID     EntityID  `json:"sourceEntityId"`
	TargetEntityID     EntityID  `json:"targetEntityId"`
	Position           vec.Vec2F `json:"position"`
	DamageDealt        float64   `json:"damageDealt"`
	HealthLost         float64   `json:"healthLost"`
	HitType            HitType   `json:"hitType"`
	SourceKind         string    `json:"damageSourceKind"`
	TargetMaterialKind string    `json:"targetMaterialKind"`
}
