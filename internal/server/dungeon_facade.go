package server

import (
	"fmt"
	"strings"

	"github.com/annel0/tileverse/internal/dungeon"
	"github.com/annel0/tileverse/internal/random"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Запись подземелий прямо в мир сервера

var _ dungeon.Facade = (*WorldServer)(nil)

// PlaceDungeon генерирует подземелье def в точке origin и помечает клетки id
func (s *WorldServer) PlaceDungeon(def *dungeon.Definition, origin vec.Vec2, threat float64, id tile.DungeonID) (*dungeon.Result, error) {
	return dungeon.NewGenerator(def, s.template.Seed()).Generate(s, origin, threat, id)
}

func (s *WorldServer) Registry() *tile.Registry { return s.tiles.Registry() }

func (s *WorldServer) Tile(pos vec.Vec2) tile.Tile { return s.tiles.Tile(pos) }

func (s *WorldServer) SetTile(pos vec.Vec2, t tile.Tile) { s.tiles.SetTileDirect(pos, t) }

func (s *WorldServer) SetLiquid(pos vec.Vec2, l tile.LiquidState) { s.tiles.SetLiquidDirect(pos, l) }

// loadConfig читает конфиг сущности из ресурсов, если они подключены и файл есть
func (s *WorldServer) loadConfig(assetPath string, out interface{}) (bool, error) {
	if s.assets == nil || !s.assets.Exists(assetPath) {
		return false, nil
	}
	if err := s.assets.JSONInto(assetPath, out); err != nil {
		return false, fmt.Errorf("конфиг %s: %w", assetPath, err)
	}
	return true, nil
}

func mergeParameters(dst, src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *WorldServer) PlaceObject(pos vec.Vec2, name string, direction int, params map[string]interface{}) error {
	cfg := entity.ObjectConfig{Name: name}
	if _, err := s.loadConfig("/objects/"+name+".object", &cfg); err != nil {
		return err
	}
	cfg.Name = name
	cfg.Direction = direction
	cfg.Parameters = mergeParameters(cfg.Parameters, params)

	obj := entity.NewObject(s.factory.Deps(), cfg)
	obj.SetPosition(pos.ToFloat())
	_, err := s.AddEntity(obj)
	return err
}

func (s *WorldServer) PlaceVehicle(pos vec.Vec2F, name string, params map[string]interface{}) error {
	cfg := entity.VehicleConfig{Name: name}
	found, err := s.loadConfig("/vehicles/"+name+".vehicle", &cfg)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("транспорт %q не найден", name)
	}
	v := entity.NewVehicle(cfg)
	v.SetPosition(pos)
	_, err = s.AddEntity(v)
	return err
}

// PlaceBiomeTree сажает дерево биома колонки pos.X
func (s *WorldServer) PlaceBiomeTree(pos vec.Vec2) error {
	biome := s.template.BiomeAt(pos.X)
	name := biome.Name + "tree"
	cfg := entity.PlantConfig{Name: name}
	if _, err := s.loadConfig("/plants/"+name+".plant", &cfg); err != nil {
		return err
	}
	cfg.Seed = random.StaticRandom64(s.template.Seed(), pos.X, pos.Y, "tree")
	return s.addPlant(pos, cfg)
}

// PlaceBiomeItems кустик биома
func (s *WorldServer) PlaceBiomeItems(pos vec.Vec2) error {
	biome := s.template.BiomeAt(pos.X)
	name := biome.Name + "bush"
	cfg := entity.PlantConfig{Name: name}
	if _, err := s.loadConfig("/plants/"+name+".plant", &cfg); err != nil {
		return err
	}
	cfg.Seed = random.StaticRandom64(s.template.Seed(), pos.X, pos.Y, "bush")
	return s.addPlant(pos, cfg)
}

func (s *WorldServer) addPlant(pos vec.Vec2, cfg entity.PlantConfig) error {
	p := entity.NewPlant(cfg)
	p.SetPosition(pos.ToFloat())
	_, err := s.AddEntity(p)
	return err
}

func (s *WorldServer) SpawnItem(pos vec.Vec2F, item entity.ItemDescriptor) error {
	drop := entity.NewItemDrop(entity.ItemDropConfig{Item: item})
	drop.SetPosition(pos)
	_, err := s.AddEntity(drop)
	return err
}

// SpawnNpc NPC или монстр. Тип берётся из ресурсов, если они есть.
func (s *WorldServer) SpawnNpc(pos vec.Vec2F, npc dungeon.NpcBrush) error {
	seed := random.StaticRandom64(s.template.Seed(), pos.X, pos.Y, "npc")
	if npc.Monster {
		cfg := entity.MonsterConfig{}
		if npc.Kind != "" {
			if _, err := s.loadConfig("/monsters/"+npc.Kind+".monstertype", &cfg); err != nil {
				return err
			}
		}
		cfg.Seed = seed
		cfg.Parameters = mergeParameters(cfg.Parameters, npc.Parameters)
		if cfg.Name == "" {
			cfg.Name = npc.Kind
		}
		m := entity.NewMonster(s.factory.Deps(), cfg)
		m.SetPosition(pos)
		_, err := s.AddEntity(m)
		return err
	}

	cfg := entity.NpcConfig{}
	if npc.Kind != "" {
		if _, err := s.loadConfig("/npcs/"+npc.Kind+".npctype", &cfg); err != nil {
			return err
		}
	}
	if npc.Species != "" {
		cfg.Species = npc.Species
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSpace(npc.Species + " " + npc.Kind)
	}
	cfg.Seed = seed
	cfg.Parameters = mergeParameters(cfg.Parameters, npc.Parameters)
	n := entity.NewNpc(s.factory.Deps(), cfg)
	n.SetPosition(pos)
	_, err := s.AddEntity(n)
	return err
}

func (s *WorldServer) SpawnStagehand(pos vec.Vec2F, typ string, params map[string]interface{}) error {
	cfg := entity.StagehandConfig{Type: typ}
	if _, err := s.loadConfig("/stagehands/"+typ+".stagehand", &cfg); err != nil {
		return err
	}
	cfg.Type = typ
	cfg.Parameters = mergeParameters(cfg.Parameters, params)
	sh := entity.NewStagehand(cfg)
	sh.SetPosition(pos)
	_, err := s.AddEntity(sh)
	return err
}

func (s *WorldServer) ConnectWire(output, input entity.WireConnection) error {
	if !s.connectWire(output, input) {
		return fmt.Errorf("провод %v:%d -> %v:%d не соединён",
			output.EntityLocation, output.NodeIndex, input.EntityLocation, input.NodeIndex)
	}
	return nil
}

func (s *WorldServer) SetPlayerStart(pos vec.Vec2F) {
	s.playerStart = &pos
}

// SetDungeonProperties защита и дыхание подземелья id
func (s *WorldServer) SetDungeonProperties(id tile.DungeonID, protected bool, breathable *bool) {
	s.tiles.SetProtected(id, protected)
	if breathable != nil {
		s.SetProperty(fmt.Sprintf("dungeon.%d.breathable", id), *breathable)
	}
}
