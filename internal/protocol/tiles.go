package protocol

import (
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

func writeModifications(ds *netelement.DataStream, list tile.ModificationList) {
	ds.WriteVarUint(uint64(len(list)))
	for _, m := range list {
		tile.WriteNetModification(ds, m)
	}
}

func readModifications(ds *netelement.DataStream) (tile.ModificationList, error) {
	n := readCount(ds, 3)
	if n == 0 {
		return nil, ds.Err()
	}
	list := make(tile.ModificationList, 0, n)
	for i := 0; i < n; i++ {
		m, err := tile.ReadNetModification(ds)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, nil
}

// ModifyTileList пакет изменений тайлов от клиента
type ModifyTileList struct {
	Modifications      tile.ModificationList `json:"modifications"`
	AllowEntityOverlap bool                  `json:"allowEntityOverlap"`
}

func (*ModifyTileList) Type() PacketType { return PacketModifyTileList }

func (p *ModifyTileList) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writeModifications(ds, p.Modifications)
	ds.WriteBool(p.AllowEntityOverlap)
	return nil
}

func (p *ModifyTileList) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	list, err := readModifications(ds)
	if err != nil {
		return err
	}
	p.Modifications = list
	p.AllowEntityOverlap = ds.ReadBool()
	return ds.Err()
}

// ReplaceTileList замена материалов, при ApplyDamage только разрушенных ударом
type ReplaceTileList struct {
	Replacements []world.TileReplacement `json:"modifications"`
	Damage       tile.Damage             `json:"tileDamage"`
	ApplyDamage  bool                    `json:"applyDamage"`
}

func (*ReplaceTileList) Type() PacketType { return PacketReplaceTileList }

func writeTileDamage(ds *netelement.DataStream, d tile.Damage) {
	ds.WriteUint8(uint8(d.Type))
	ds.WriteFloat32(d.Amount)
	ds.WriteVarUint(uint64(d.Harvest))
}

func readTileDamage(ds *netelement.DataStream) tile.Damage {
	return tile.Damage{
		Type:    tile.DamageType(ds.ReadUint8()),
		Amount:  ds.ReadFloat32(),
		Harvest: uint32(ds.ReadVarUint()),
	}
}

func (p *ReplaceTileList) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarUint(uint64(len(p.Replacements)))
	for _, r := range p.Replacements {
		ds.WriteVec2(r.Pos)
		ds.WriteUint8(uint8(r.Layer))
		ds.WriteUint16(uint16(r.Material))
		ds.WriteUint8(r.HueShift)
	}
	writeTileDamage(ds, p.Damage)
	ds.WriteBool(p.ApplyDamage)
	return nil
}

func (p *ReplaceTileList) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	if n := readCount(ds, 6); n > 0 {
		p.Replacements = make([]world.TileReplacement, n)
		for i := range p.Replacements {
			p.Replacements[i] = world.TileReplacement{
				Pos:      ds.ReadVec2(),
				Layer:    tile.Layer(ds.ReadUint8()),
				Material: tile.MaterialID(ds.ReadUint16()),
				HueShift: ds.ReadUint8(),
			}
		}
	}
	p.Damage = readTileDamage(ds)
	p.ApplyDamage = ds.ReadBool()
	return ds.Err()
}

// DamageTileGroup удар по группе клеток одного слоя
type DamageTileGroup struct {
	Positions      []vec.Vec2  `json:"tilePositions"`
	Layer          tile.Layer  `json:"layer"`
	SourcePosition vec.Vec2F   `json:"sourcePosition"`
	Damage         tile.Damage `json:"tileDamage"`
	SourceEntity   int32       `json:"sourceEntity,omitempty"`
}

func (*DamageTileGroup) Type() PacketType { return PacketDamageTileGroup }

func (p *DamageTileGroup) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writePositions(ds, p.Positions)
	ds.WriteUint8(uint8(p.Layer))
	ds.WriteVec2F(p.SourcePosition)
	writeTileDamage(ds, p.Damage)
	ds.WriteVarInt(int64(p.SourceEntity))
	return nil
}

func (p *DamageTileGroup) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Positions = readPositions(ds)
	p.Layer = tile.Layer(ds.ReadUint8())
	p.SourcePosition = ds.ReadVec2F()
	p.Damage = readTileDamage(ds)
	p.SourceEntity = int32(ds.ReadVarInt())
	return ds.Err()
}

// CollectLiquid сбор жидкости из клеток
type CollectLiquid struct {
	Positions []vec.Vec2    `json:"tilePositions"`
	Liquid    tile.LiquidID `json:"liquidId"`
}

func (*CollectLiquid) Type() PacketType { return PacketCollectLiquid }

func (p *CollectLiquid) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writePositions(ds, p.Positions)
	ds.WriteUint8(uint8(p.Liquid))
	return nil
}

func (p *CollectLiquid) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Positions = readPositions(ds)
	p.Liquid = tile.LiquidID(ds.ReadUint8())
	return ds.Err()
}

func writeWireConnection(ds *netelement.DataStream, c entity.WireConnection) {
	ds.WriteVec2(c.EntityLocation)
	ds.WriteVarUint(uint64(c.NodeIndex))
}

func readWireConnection(ds *netelement.DataStream) entity.WireConnection {
	return entity.WireConnection{EntityLocation: ds.ReadVec2(), NodeIndex: int(ds.ReadVarUint())}
}

// ConnectWire соединяет выход одной сущности со входом другой
type ConnectWire struct {
	Output entity.WireConnection `json:"outputNode"`
	Input  entity.WireConnection `json:"inputNode"`
}

func (*ConnectWire) Type() PacketType { return PacketConnectWire }

func (p *ConnectWire) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writeWireConnection(ds, p.Output)
	writeWireConnection(ds, p.Input)
	return nil
}

func (p *ConnectWire) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Output = readWireConnection(ds)
	p.Input = readWireConnection(ds)
	return ds.Err()
}

// DisconnectAllWires снимает все провода с узла сущности в клетке Position
type DisconnectAllWires struct {
	Position vec.Vec2        `json:"entityPosition"`
	Node     entity.WireNode `json:"wireNode"`
}

func (*DisconnectAllWires) Type() PacketType { return PacketDisconnectAllWires }

func (p *DisconnectAllWires) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Position)
	ds.WriteUint8(uint8(p.Node.Direction))
	ds.WriteVarUint(uint64(p.Node.Index))
	return nil
}

func (p *DisconnectAllWires) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Position = ds.ReadVec2()
	p.Node.Direction = entity.WireDirection(ds.ReadUint8())
	p.Node.Index = int(ds.ReadVarUint())
	return ds.Err()
}

const maxArrayExtent = 1 << 16

// TileArrayUpdate прямоугольник тайлов по строкам, начиная с Min
type TileArrayUpdate struct {
	Min    vec.Vec2    `json:"min"`
	Width  int32       `json:"width"`
	Height int32       `json:"height"`
	Tiles  []tile.Tile `json:"tiles"`
}

func (*TileArrayUpdate) Type() PacketType { return PacketTileArrayUpdate }

func (p *TileArrayUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Min)
	ds.WriteVarUint(uint64(p.Width))
	ds.WriteVarUint(uint64(p.Height))
	for i := 0; i < int(p.Width)*int(p.Height); i++ {
		if i < len(p.Tiles) {
			tile.WriteNetTile(ds, p.Tiles[i])
		} else {
			tile.WriteNetTile(ds, tile.NullTile())
		}
	}
	return nil
}

func (p *TileArrayUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Min = ds.ReadVec2()
	w := ds.ReadVarUint()
	h := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return err
	}
	// Каждый тайл занимает не меньше 6 байт
	if w > maxArrayExtent || h > maxArrayExtent || w*h > uint64(ds.Remaining()/6) {
		return netelement.ErrShortRead
	}
	p.Width, p.Height = int32(w), int32(h)
	if w*h == 0 {
		p.Tiles = nil
		return ds.Err()
	}
	p.Tiles = make([]tile.Tile, w*h)
	for i := range p.Tiles {
		p.Tiles[i] = tile.ReadNetTile(ds)
	}
	return ds.Err()
}

// Rect прямоугольник, покрываемый обновлением
func (p *TileArrayUpdate) Rect() vec.RectI {
	return vec.NewRectI(p.Min.X, p.Min.Y, p.Width, p.Height)
}

// TileUpdate одна клетка целиком
type TileUpdate struct {
	Pos  vec.Vec2  `json:"position"`
	Tile tile.Tile `json:"tile"`
}

func (*TileUpdate) Type() PacketType { return PacketTileUpdate }

func (p *TileUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Pos)
	tile.WriteNetTile(ds, p.Tile)
	return nil
}

func (p *TileUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Pos = ds.ReadVec2()
	p.Tile = tile.ReadNetTile(ds)
	return ds.Err()
}

// TileLiquidUpdate только жидкость клетки
type TileLiquidUpdate struct {
	Pos    vec.Vec2         `json:"position"`
	Liquid tile.LiquidState `json:"liquidUpdate"`
}

func (*TileLiquidUpdate) Type() PacketType { return PacketTileLiquidUpdate }

func (p *TileLiquidUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Pos)
	ds.WriteUint8(uint8(p.Liquid.Liquid))
	ds.WriteFloat32(p.Liquid.Level)
	ds.WriteFloat32(p.Liquid.Pressure)
	ds.WriteBool(p.Liquid.Source)
	return nil
}

func (p *TileLiquidUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Pos = ds.ReadVec2()
	p.Liquid = tile.LiquidState{
		Liquid:   tile.LiquidID(ds.ReadUint8()),
		Level:    ds.ReadFloat32(),
		Pressure: ds.ReadFloat32(),
		Source:   ds.ReadBool(),
	}
	return ds.Err()
}

// TileDamageUpdate состояние урона клетки
type TileDamageUpdate struct {
	Pos    vec.Vec2          `json:"position"`
	Layer  tile.Layer        `json:"layer"`
	Status tile.DamageStatus `json:"tileDamage"`
}

func (*TileDamageUpdate) Type() PacketType { return PacketTileDamageUpdate }

func (p *TileDamageUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Pos)
	ds.WriteUint8(uint8(p.Layer))
	tile.WriteDamageStatus(ds, p.Status)
	return nil
}

func (p *TileDamageUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Pos = ds.ReadVec2()
	p.Layer = tile.Layer(ds.ReadUint8())
	p.Status = tile.ReadDamageStatus(ds)
	return ds.Err()
}

// TileModificationFailure отклонённые изменения, отправляются только запросившему
type TileModificationFailure struct {
	Modifications tile.ModificationList `json:"modifications"`
}

func (*TileModificationFailure) Type() PacketType { return PacketTileModificationFailure }

func (p *TileModificationFailure) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writeModifications(ds, p.Modifications)
	return nil
}

func (p *TileModificationFailure) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	list, err := readModifications(ds)
	if err != nil {
		return err
	}
	p.Modifications = list
	return ds.Err()
}
