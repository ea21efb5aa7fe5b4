// Package dungeon расставляет заготовленные части подземелий поверх сетки
// тайлов. Все случайные решения выводятся из статического хэша, поэтому
// повторная генерация с теми же входными данными даёт тот же результат.
package dungeon

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Phase фаза записи. Кисти всех частей применяются фаза за фазой.
type Phase uint8

const (
	PhaseClear Phase = iota
	PhaseWall
	PhaseMods
	PhaseObjects
	PhaseBiomeTrees
	PhaseBiomeItems
	PhaseWire
	PhaseItem
	PhaseNpc
	PhaseDungeonID
)

// Phases порядок применения кистей
var Phases = []Phase{
	PhaseClear, PhaseWall, PhaseMods, PhaseObjects, PhaseBiomeTrees,
	PhaseBiomeItems, PhaseWire, PhaseItem, PhaseNpc, PhaseDungeonID,
}

var phaseNames = [...]string{"clear", "wall", "mods", "objects", "biomeTrees", "biomeItems", "wire", "item", "npc", "dungeonId"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Brush действие над одной клеткой части
type Brush interface {
	// Paint выполняет свою часть работы в фазе phase
	Paint(pos vec.Vec2, phase Phase, w *Writer)
	// Occupies клетка с такой кистью считается занятой частью
	Occupies() bool
}

// ClearBrush очищает оба слоя и жидкость
type ClearBrush struct{}

func (ClearBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseClear {
		w.Clear(pos)
	}
}

func (ClearBrush) Occupies() bool { return true }

// MaterialBrush материал переднего или заднего слоя
type MaterialBrush struct {
	Layer        tile.Layer
	Material     string
	HueShift     uint8
	ColorVariant uint8
}

func (b MaterialBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseWall {
		w.SetMaterial(pos, b.Layer, b.Material, b.HueShift, b.ColorVariant)
	}
}

func (MaterialBrush) Occupies() bool { return true }

// ModBrush модификация поверх материала
type ModBrush struct {
	Layer tile.Layer
	Mod   string
}

func (b ModBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseMods {
		w.SetMod(pos, b.Layer, b.Mod)
	}
}

func (ModBrush) Occupies() bool { return true }

// ObjectBrush объект с направлением и параметрами
type ObjectBrush struct {
	Name       string
	Direction  int
	Parameters map[string]interface{}
}

func (b ObjectBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseObjects {
		w.PlaceObject(pos, b.Name, b.Direction, b.Parameters)
	}
}

func (ObjectBrush) Occupies() bool { return true }

// VehicleBrush транспорт
type VehicleBrush struct {
	Name       string
	Parameters map[string]interface{}
}

func (b VehicleBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseObjects {
		w.PlaceVehicle(pos, b.Name, b.Parameters)
	}
}

func (VehicleBrush) Occupies() bool { return true }

// BiomeTreeBrush дерево текущего биома
type BiomeTreeBrush struct{}

func (BiomeTreeBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseBiomeTrees {
		w.PlaceBiomeTree(pos)
	}
}

func (BiomeTreeBrush) Occupies() bool { return false }

// BiomeItemsBrush мелкая растительность биома
type BiomeItemsBrush struct{}

func (BiomeItemsBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseBiomeItems {
		w.PlaceBiomeItems(pos)
	}
}

func (BiomeItemsBrush) Occupies() bool { return false }

// LiquidBrush жидкость; давление считается после всех частей
type LiquidBrush struct {
	Liquid string
	Source bool
}

func (b LiquidBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseWall {
		w.RequestLiquid(pos, b.Liquid, b.Source)
	}
}

func (LiquidBrush) Occupies() bool { return true }

// WireBrush узел провода; выходы группы соединяются со всеми её входами
type WireBrush struct {
	Group string
	// Input узел входа, иначе выхода
	Input bool
	Node  int
}

func (b WireBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseWire {
		w.RequestWire(pos, b.Group, b.Input, b.Node)
	}
}

func (WireBrush) Occupies() bool { return false }

// ItemBrush выпавший предмет
type ItemBrush struct {
	Item entity.ItemDescriptor
}

func (b ItemBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseItem {
		w.SpawnItem(pos, b.Item)
	}
}

func (ItemBrush) Occupies() bool { return false }

// NpcBrush NPC или монстр по типу
type NpcBrush struct {
	Kind       string
	Species    string
	Parameters map[string]interface{}
	// Monster создаётся монстр, а не NPC
	Monster bool
}

func (b NpcBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseNpc {
		w.SpawnNpc(pos, b)
	}
}

func (NpcBrush) Occupies() bool { return false }

// StagehandBrush невидимая сущность-режиссёр
type StagehandBrush struct {
	Type       string
	Parameters map[string]interface{}
}

func (b StagehandBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseNpc {
		w.SpawnStagehand(pos, b.Type, b.Parameters)
	}
}

func (StagehandBrush) Occupies() bool { return false }

// DungeonIDBrush явная метка клетки вместо метки подземелья
type DungeonIDBrush struct {
	ID tile.DungeonID
}

func (b DungeonIDBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseDungeonID {
		w.SetDungeonID(pos, b.ID)
	}
}

func (DungeonIDBrush) Occupies() bool { return false }

// PlayerStartBrush точка появления игрока
type PlayerStartBrush struct{}

func (PlayerStartBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseNpc {
		w.SetPlayerStart(pos)
	}
}

func (PlayerStartBrush) Occupies() bool { return false }

// SurfaceBrush уровень поверхности; якорь выравнивается по нему, над ним
// расчищается свободное место
type SurfaceBrush struct{}

func (SurfaceBrush) Paint(pos vec.Vec2, phase Phase, w *Writer) {
	if phase == PhaseClear {
		w.MarkSurface(pos)
	}
}

func (SurfaceBrush) Occupies() bool { return false }

// ParseBrush разбирает кисть из массива вида ["front", "dirt"]
func ParseBrush(data json.RawMessage) (Brush, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return nil, fmt.Errorf("кисть %s: ожидается непустой массив", string(data))
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("кисть %s: тип не строка", string(data))
	}
	arg := func(i int, out interface{}) error {
		if i >= len(parts) {
			return fmt.Errorf("кисть %q: нет аргумента %d", kind, i)
		}
		if err := json.Unmarshal(parts[i], out); err != nil {
			return fmt.Errorf("кисть %q, аргумент %d: %w", kind, i, err)
		}
		return nil
	}
	optArg := func(i int, out interface{}) error {
		if i >= len(parts) {
			return nil
		}
		return arg(i, out)
	}

	switch kind {
	case "clear":
		return ClearBrush{}, nil
	case "front", "back":
		b := MaterialBrush{Layer: tile.Foreground}
		if kind == "back" {
			b.Layer = tile.Background
		}
		if err := arg(1, &b.Material); err != nil {
			return nil, err
		}
		var opts struct {
			HueShift     uint8 `json:"hueshift"`
			ColorVariant uint8 `json:"colorVariant"`
		}
		if err := optArg(2, &opts); err != nil {
			return nil, err
		}
		b.HueShift, b.ColorVariant = opts.HueShift, opts.ColorVariant
		return b, nil
	case "frontmod", "backmod":
		b := ModBrush{Layer: tile.Foreground}
		if kind == "backmod" {
			b.Layer = tile.Background
		}
		if err := arg(1, &b.Mod); err != nil {
			return nil, err
		}
		return b, nil
	case "object":
		b := ObjectBrush{}
		if err := arg(1, &b.Name); err != nil {
			return nil, err
		}
		var opts struct {
			Direction  string                 `json:"direction"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		if err := optArg(2, &opts); err != nil {
			return nil, err
		}
		b.Direction = 1
		if opts.Direction == "left" {
			b.Direction = -1
		}
		b.Parameters = opts.Parameters
		return b, nil
	case "vehicle":
		b := VehicleBrush{}
		if err := arg(1, &b.Name); err != nil {
			return nil, err
		}
		if err := optArg(2, &b.Parameters); err != nil {
			return nil, err
		}
		return b, nil
	case "biometree":
		return BiomeTreeBrush{}, nil
	case "biomeitems":
		return BiomeItemsBrush{}, nil
	case "liquid":
		b := LiquidBrush{}
		if err := arg(1, &b.Liquid); err != nil {
			return nil, err
		}
		if err := optArg(2, &b.Source); err != nil {
			return nil, err
		}
		return b, nil
	case "wire":
		var opts struct {
			Group string `json:"group"`
			Input bool   `json:"input"`
			Node  int    `json:"node"`
		}
		if err := arg(1, &opts); err != nil {
			return nil, err
		}
		if opts.Group == "" {
			return nil, fmt.Errorf("кисть wire без группы")
		}
		return WireBrush{Group: opts.Group, Input: opts.Input, Node: opts.Node}, nil
	case "item":
		b := ItemBrush{}
		if err := arg(1, &b.Item); err != nil {
			return nil, err
		}
		if b.Item.Count == 0 {
			b.Item.Count = 1
		}
		return b, nil
	case "npc", "monster":
		var opts struct {
			Kind       string                 `json:"kind"`
			Species    string                 `json:"species"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		if err := arg(1, &opts); err != nil {
			return nil, err
		}
		return NpcBrush{Kind: opts.Kind, Species: opts.Species, Parameters: opts.Parameters, Monster: kind == "monster"}, nil
	case "stagehand":
		var opts struct {
			Type       string                 `json:"type"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		if err := arg(1, &opts); err != nil {
			return nil, err
		}
		return StagehandBrush{Type: opts.Type, Parameters: opts.Parameters}, nil
	case "dungeonid":
		b := DungeonIDBrush{}
		if err := arg(1, &b.ID); err != nil {
			return nil, err
		}
		return b, nil
	case "playerstart":
		return PlayerStartBrush{}, nil
	case "surface":
		return SurfaceBrush{}, nil
	}
	return nil, fmt.Errorf("неизвестная кисть %q", kind)
}
