// Package tile описывает содержимое одной клетки мира и реестр материалов.
package tile

import "fmt"

// MaterialID идентификатор материала
type MaterialID uint16

// ModID идентификатор модификации (трава, мох поверх материала)
type ModID uint16

// LiquidID идентификатор жидкости
type LiquidID uint8

// DungeonID метка региона подземелья
type DungeonID uint16

// Специальные идентификаторы
const (
	EmptyMaterial MaterialID = 65535 // пустая клетка
	NullMaterial  MaterialID = 65534 // вне мира или не загружено

	NoMod ModID = 65535

	EmptyLiquid LiquidID = 0

	NoDungeonID          DungeonID = 0
	NoPlacementDungeonID DungeonID = 65535
)

// Layer слой тайла
type Layer uint8

const (
	Foreground Layer = iota
	Background
)

func (l Layer) String() string {
	if l == Background {
		return "background"
	}
	return "foreground"
}

// ParseLayer разбирает слой из строки
func ParseLayer(s string) (Layer, error) {
	switch s {
	case "foreground", "fg", "Fg":
		return Foreground, nil
	case "background", "bg", "Bg":
		return Background, nil
	}
	return Foreground, fmt.Errorf("неизвестный слой %q", s)
}

// CollisionKind тип столкновения клетки
type CollisionKind uint8

const (
	CollisionNone CollisionKind = iota
	CollisionNull
	CollisionPlatform
	CollisionDynamic
	CollisionSlippery
	CollisionBlock
)

var collisionNames = [...]string{"None", "Null", "Platform", "Dynamic", "Slippery", "Block"}

func (k CollisionKind) String() string {
	if int(k) < len(collisionNames) {
		return collisionNames[k]
	}
	return fmt.Sprintf("CollisionKind(%d)", k)
}

// ParseCollisionKind разбирает имя коллизии
func ParseCollisionKind(s string) (CollisionKind, error) {
	for i, n := range collisionNames {
		if n == s {
			return CollisionKind(i), nil
		}
	}
	return CollisionNone, fmt.Errorf("неизвестный тип коллизии %q", s)
}

// IsSolid твёрдая клетка (платформы не считаются)
func (k CollisionKind) IsSolid() bool {
	switch k {
	case CollisionNull, CollisionDynamic, CollisionSlippery, CollisionBlock:
		return true
	}
	return false
}

// IsColliding клетка имеет хоть какую-то коллизию
func (k CollisionKind) IsColliding() bool {
	return k != CollisionNone
}

// LiquidState жидкость в клетке
type LiquidState struct {
	Liquid   LiquidID `json:"liquid"`
	Level    float32  `json:"level"`
	Pressure float32  `json:"pressure"`
	Source   bool     `json:"source"`
}

// IsEmpty клетка без жидкости
func (l LiquidState) IsEmpty() bool {
	return l.Liquid == EmptyLiquid || l.Level <= 0
}

// Normalized приводит состояние к инварианту: уровень ноль тогда и только тогда, когда жидкости нет
func (l LiquidState) Normalized() LiquidState {
	if l.Liquid == EmptyLiquid || l.Level <= 0 {
		return LiquidState{}
	}
	if l.Level > 1 && !l.Source {
		l.Level = 1
	}
	return l
}

// LayerState материал и оформление одного слоя
type LayerState struct {
	Material     MaterialID `json:"material"`
	Mod          ModID      `json:"mod"`
	HueShift     uint8      `json:"hueShift"`
	ColorVariant uint8      `json:"colorVariant"`
	ModHueShift  uint8      `json:"modHueShift"`
}

// Tile содержимое одной клетки мира
type Tile struct {
	Foreground        LayerState    `json:"foreground"`
	Background        LayerState    `json:"background"`
	Liquid            LiquidState   `json:"liquid"`
	DungeonID         DungeonID     `json:"dungeonId"`
	Collision         CollisionKind `json:"collision"`
	GravityMultiplier float32       `json:"gravityMultiplier"`
}

// EmptyTile пустая клетка с обычной гравитацией
func EmptyTile() Tile {
	return Tile{
		Foreground:        LayerState{Material: EmptyMaterial, Mod: NoMod},
		Background:        LayerState{Material: EmptyMaterial, Mod: NoMod},
		GravityMultiplier: 1,
	}
}

// NullTile клетка за пределами мира
func NullTile() Tile {
	t := EmptyTile()
	t.Foreground.Material = NullMaterial
	t.Background.Material = NullMaterial
	t.Collision = CollisionNull
	return t
}

// Layer возвращает состояние слоя
func (t *Tile) Layer(l Layer) *LayerState {
	if l == Background {
		return &t.Background
	}
	return &t.Foreground
}

// Material материал слоя
func (t Tile) Material(l Layer) MaterialID {
	if l == Background {
		return t.Background.Material
	}
	return t.Foreground.Material
}

// Mod модификация слоя
func (t Tile) Mod(l Layer) ModID {
	if l == Background {
		return t.Background.Mod
	}
	return t.Foreground.Mod
}

// IsEmpty обе стороны пустые
func (t Tile) IsEmpty() bool {
	return t.Foreground.Material == EmptyMaterial && t.Background.Material == EmptyMaterial
}
