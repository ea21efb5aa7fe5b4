package tile

import "github.com/annel0/tileverse/internal/netelement"

// Флаги компактной записи тайла
const (
	netTileHasFgMod uint8 = 1 << iota
	netTileHasBgMod
	netTileHasLiquid
	netTileHasDungeon
	netTileHasColor
	netTileHasGravity
)

// WriteNetTile записывает тайл в компактном виде для пакетов обновлений
func WriteNetTile(ds *netelement.DataStream, t Tile) {
	var flags uint8
	if t.Foreground.Mod != NoMod {
		flags |= netTileHasFgMod
	}
	if t.Background.Mod != NoMod {
		flags |= netTileHasBgMod
	}
	liquid := t.Liquid.Normalized()
	if !liquid.IsEmpty() {
		flags |= netTileHasLiquid
	}
	if t.DungeonID != NoDungeonID {
		flags |= netTileHasDungeon
	}
	if t.Foreground.HueShift|t.Foreground.ColorVariant|t.Background.HueShift|t.Background.ColorVariant|
		t.Foreground.ModHueShift|t.Background.ModHueShift != 0 {
		flags |= netTileHasColor
	}
	if t.GravityMultiplier != 1 {
		flags |= netTileHasGravity
	}

	ds.WriteUint8(flags)
	ds.WriteUint16(uint16(t.Foreground.Material))
	ds.WriteUint16(uint16(t.Background.Material))
	ds.WriteUint8(uint8(t.Collision))
	if flags&netTileHasFgMod != 0 {
		ds.WriteUint16(uint16(t.Foreground.Mod))
	}
	if flags&netTileHasBgMod != 0 {
		ds.WriteUint16(uint16(t.Background.Mod))
	}
	if flags&netTileHasLiquid != 0 {
		ds.WriteUint8(uint8(liquid.Liquid))
		ds.WriteFloat32(liquid.Level)
		ds.WriteFloat32(liquid.Pressure)
		ds.WriteBool(liquid.Source)
	}
	if flags&netTileHasDungeon != 0 {
		ds.WriteUint16(uint16(t.DungeonID))
	}
	if flags&netTileHasColor != 0 {
		for _, l := range []LayerState{t.Foreground, t.Background} {
			ds.WriteUint8(l.HueShift)
			ds.WriteUint8(l.ColorVariant)
			ds.WriteUint8(l.ModHueShift)
		}
	}
	if flags&netTileHasGravity != 0 {
		ds.WriteFloat32(t.GravityMultiplier)
	}
}

// ReadNetTile читает тайл, записанный WriteNetTile
func ReadNetTile(ds *netelement.DataStream) Tile {
	t := EmptyTile()
	flags := ds.ReadUint8()
	t.Foreground.Material = MaterialID(ds.ReadUint16())
	t.Background.Material = MaterialID(ds.ReadUint16())
	t.Collision = CollisionKind(ds.ReadUint8())
	if flags&netTileHasFgMod != 0 {
		t.Foreground.Mod = ModID(ds.ReadUint16())
	}
	if flags&netTileHasBgMod != 0 {
		t.Background.Mod = ModID(ds.ReadUint16())
	}
	if flags&netTileHasLiquid != 0 {
		t.Liquid.Liquid = LiquidID(ds.ReadUint8())
		t.Liquid.Level = ds.ReadFloat32()
		t.Liquid.Pressure = ds.ReadFloat32()
		t.Liquid.Source = ds.ReadBool()
	}
	if flags&netTileHasDungeon != 0 {
		t.DungeonID = DungeonID(ds.ReadUint16())
	}
	if flags&netTileHasColor != 0 {
		for _, l := range []*LayerState{&t.Foreground, &t.Background} {
			l.HueShift = ds.ReadUint8()
			l.ColorVariant = ds.ReadUint8()
			l.ModHueShift = ds.ReadUint8()
		}
	}
	if flags&netTileHasGravity != 0 {
		t.GravityMultiplier = ds.ReadFloat32()
	}
	return t
}

// WriteDamageStatus записывает состояние урона
func WriteDamageStatus(ds *netelement.DataStream, s DamageStatus) {
	ds.WriteFloat32(s.Percentage)
	ds.WriteFloat32(s.EffectTime)
	ds.WriteVec2F(s.SourcePosition)
	ds.WriteUint8(uint8(s.Type))
	ds.WriteBool(s.Harvested)
	ds.WriteBool(s.Broken)
}

// ReadDamageStatus читает состояние урона
func ReadDamageStatus(ds *netelement.DataStream) DamageStatus {
	return DamageStatus{
		Percentage:     ds.ReadFloat32(),
		EffectTime:     ds.ReadFloat32(),
		SourcePosition: ds.ReadVec2F(),
		Type:           DamageType(ds.ReadUint8()),
		Harvested:      ds.ReadBool(),
		Broken:         ds.ReadBool(),
	}
}
