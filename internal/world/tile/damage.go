package tile

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/vec"
)

// DamageType вид урона по тайлам
type DamageType uint8

const (
	DamageProtected DamageType = iota
	DamagePlantish
	DamageBlockish
	DamageBeamish
	DamageExplosive
	DamageFire
	DamageTilling
)

var damageTypeNames = [...]string{"protected", "plantish", "blockish", "beamish", "explosive", "fire", "tilling"}

func (d DamageType) String() string {
	if int(d) < len(damageTypeNames) {
		return damageTypeNames[d]
	}
	return fmt.Sprintf("DamageType(%d)", d)
}

// ParseDamageType разбирает вид урона
func ParseDamageType(s string) (DamageType, error) {
	for i, n := range damageTypeNames {
		if n == s {
			return DamageType(i), nil
		}
	}
	return DamageProtected, fmt.Errorf("неизвестный вид урона %q", s)
}

func (d DamageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DamageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseDamageType(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Damage удар по тайлу
type Damage struct {
	Type    DamageType `json:"kind"`
	Amount  float32    `json:"amount"`
	Harvest uint32     `json:"harvestLevel"`
}

// DamageStatus накопленный урон клетки, реплицируется в TileDamageUpdate
type DamageStatus struct {
	Percentage     float32    `json:"percentage"`
	EffectTime     float32    `json:"effectTime"`
	SourcePosition vec.Vec2F  `json:"sourcePosition"`
	Type           DamageType `json:"kind"`
	Harvested      bool       `json:"harvested"`
	Broken         bool       `json:"broken"`
}

// Healthy урона нет
func (s DamageStatus) Healthy() bool {
	return s.Percentage <= 0 && !s.Broken
}
