package tile

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
)

// ModificationKind тег варианта изменения тайла
type ModificationKind uint8

const (
	ModPlaceMaterial ModificationKind = iota + 1
	ModPlaceMod
	ModPlaceMaterialColor
	ModPlaceLiquid
)

var modificationNames = map[ModificationKind]string{
	ModPlaceMaterial:      "placeMaterial",
	ModPlaceMod:           "placeMod",
	ModPlaceMaterialColor: "placeMaterialColor",
	ModPlaceLiquid:        "placeLiquid",
}

func (k ModificationKind) String() string {
	if n, ok := modificationNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ModificationKind(%d)", k)
}

// Modification запрос на изменение одной клетки.
// Закрытое объединение: PlaceMaterial, PlaceMod, PlaceMaterialColor, PlaceLiquid.
type Modification interface {
	Kind() ModificationKind
	isModification()
}

// PlaceMaterial установка материала в слой
type PlaceMaterial struct {
	Layer    Layer      `json:"layer"`
	Material MaterialID `json:"material"`
	HueShift uint8      `json:"hueShift,omitempty"`
	// Collision переопределение коллизии материала; nil - из реестра
	Collision *CollisionKind `json:"collision,omitempty"`
}

// PlaceMod установка модификации поверх материала
type PlaceMod struct {
	Layer    Layer `json:"layer"`
	Mod      ModID `json:"mod"`
	HueShift uint8 `json:"hueShift,omitempty"`
}

// PlaceMaterialColor смена цветового варианта материала
type PlaceMaterialColor struct {
	Layer Layer `json:"layer"`
	Color uint8 `json:"color"`
}

// PlaceLiquid добавление жидкости
type PlaceLiquid struct {
	Liquid LiquidID `json:"liquid"`
	Level  float32  `json:"level"`
}

func (PlaceMaterial) Kind() ModificationKind { return ModPlaceMaterial }
func (PlaceMod) Kind() ModificationKind { return ModPlaceMod }
func (PlaceMaterialColor) Kind() ModificationKind { return ModPlaceMaterialColor }
func (PlaceLiquid) Kind() ModificationKind { return ModPlaceLiquid }

func (PlaceMaterial) isModification() {}
func (PlaceMod) isModification() {}
func (PlaceMaterialColor) isModification() {}
func (PlaceLiquid) isModification() {}

// PositionedModification изменение, привязанное к клетке
type PositionedModification struct {
	Pos vec.Vec2
	Mod Modification
}

// ModificationList пакет изменений
type ModificationList []PositionedModification

type positionedJSON struct {
	Pos  [2]int32        `json:"pos"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p PositionedModification) MarshalJSON() ([]byte, error) {
	if p.Mod == nil {
		return nil, fmt.Errorf("пустое изменение в %v", p.Pos)
	}
	data, err := json.Marshal(p.Mod)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positionedJSON{
		Pos:  [2]int32{p.Pos.X, p.Pos.Y},
		Type: p.Mod.Kind().String(),
		Data: data,
	})
}

func (p *PositionedModification) UnmarshalJSON(data []byte) error {
	var raw positionedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Pos = vec.V2(raw.Pos[0], raw.Pos[1])
	switch raw.Type {
	case "placeMaterial":
		var m PlaceMaterial
		if err := json.Unmarshal(raw.Data, &m); err != nil {
			return err
		}
		p.Mod = m
	case "placeMod":
		var m PlaceMod
		if err := json.Unmarshal(raw.Data, &m); err != nil {
			return err
		}
		p.Mod = m
	case "placeMaterialColor":
		var m PlaceMaterialColor
		if err := json.Unmarshal(raw.Data, &m); err != nil {
			return err
		}
		p.Mod = m
	case "placeLiquid":
		var m PlaceLiquid
		if err := json.Unmarshal(raw.Data, &m); err != nil {
			return err
		}
		p.Mod = m
	default:
		return fmt.Errorf("неизвестный тип изменения %q", raw.Type)
	}
	return nil
}

// WriteNetModification записывает изменение с тегом
func WriteNetModification(ds *netelement.DataStream, pm PositionedModification) {
	ds.WriteVec2(pm.Pos)
	ds.WriteUint8(uint8(pm.Mod.Kind()))
	switch m := pm.Mod.(type) {
	case PlaceMaterial:
		ds.WriteUint8(uint8(m.Layer))
		ds.WriteUint16(uint16(m.Material))
		ds.WriteUint8(m.HueShift)
		ds.WriteBool(m.Collision != nil)
		if m.Collision != nil {
			ds.WriteUint8(uint8(*m.Collision))
		}
	case PlaceMod:
		ds.WriteUint8(uint8(m.Layer))
		ds.WriteUint16(uint16(m.Mod))
		ds.WriteUint8(m.HueShift)
	case PlaceMaterialColor:
		ds.WriteUint8(uint8(m.Layer))
		ds.WriteUint8(m.Color)
	case PlaceLiquid:
		ds.WriteUint8(uint8(m.Liquid))
		ds.WriteFloat32(m.Level)
	}
}

// ReadNetModification читает изменение, записанное WriteNetModification
func ReadNetModification(ds *netelement.DataStream) (PositionedModification, error) {
	pm := PositionedModification{Pos: ds.ReadVec2()}
	switch kind := ModificationKind(ds.ReadUint8()); kind {
	case ModPlaceMaterial:
		m := PlaceMaterial{
			Layer:    Layer(ds.ReadUint8()),
			Material: MaterialID(ds.ReadUint16()),
			HueShift: ds.ReadUint8(),
		}
		if ds.ReadBool() {
			c := CollisionKind(ds.ReadUint8())
			m.Collision = &c
		}
		pm.Mod = m
	case ModPlaceMod:
		pm.Mod = PlaceMod{
			Layer:    Layer(ds.ReadUint8()),
			Mod:      ModID(ds.ReadUint16()),
			HueShift: ds.ReadUint8(),
		}
	case ModPlaceMaterialColor:
		pm.Mod = PlaceMaterialColor{Layer: Layer(ds.ReadUint8()), Color: ds.ReadUint8()}
	case ModPlaceLiquid:
		pm.Mod = PlaceLiquid{Liquid: LiquidID(ds.ReadUint8()), Level: ds.ReadFloat32()}
	default:
		if ds.Err() != nil {
			return pm, ds.Err()
		}
		return pm, fmt.Errorf("неизвестный тип изменения %d", kind)
	}
	return pm, ds.Err()
}
