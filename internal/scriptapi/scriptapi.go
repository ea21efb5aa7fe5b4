// Package scriptapi публикует мир и сущность в контексте Lua-скрипта:
// таблицы world, entity, status, animator и config.
package scriptapi

import (
	"fmt"
	"sort"

	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Bind публикует таблицы для скрипта сущности owner в мире w.
// Необязательные таблицы появляются только у сущностей с нужными возможностями.
func Bind(ctx *luaengine.Context, w entity.World, owner entity.Entity) {
	promises := newPromiseTable()
	ctx.SetCallbacks("world", worldCallbacks(w, owner, promises))
	ctx.SetCallbacks("entity", entityCallbacks(w, owner, promises))
	if se, ok := entity.As[entity.StatusEntity](owner); ok && se.StatusController() != nil {
		ctx.SetCallbacks("status", se.StatusController().Callbacks())
	}
	if ae, ok := entity.As[entity.AnimatedEntity](owner); ok && ae.Animator() != nil {
		ctx.SetCallbacks("animator", AnimatorCallbacks(ae.Animator()))
	}
	if ce, ok := entity.As[entity.ConfiguredEntity](owner); ok {
		ctx.SetCallbacks("config", ConfigCallbacks(ce))
	}
}

// promiseTable обещания сообщений, выданные скрипту целыми дескрипторами
type promiseTable struct {
	next  int
	items map[int]*entity.MessagePromise
}

func newPromiseTable() *promiseTable {
	return &promiseTable{next: 1, items: make(map[int]*entity.MessagePromise)}
}

func (t *promiseTable) add(p *entity.MessagePromise) int {
	h := t.next
	t.next++
	t.items[h] = p
	return h
}

// status завершённые обещания забываются после первого чтения
func (t *promiseTable) status(h int) luaengine.Returns {
	p, ok := t.items[h]
	if !ok {
		return luaengine.Returns{true, false, nil, "неизвестное обещание"}
	}
	if !p.Finished() {
		return luaengine.Returns{false, false, nil, nil}
	}
	delete(t.items, h)
	res, err := p.Result()
	if err != nil {
		return luaengine.Returns{true, false, nil, err.Error()}
	}
	return luaengine.Returns{true, true, res, nil}
}

func vecArg(args luaengine.Args, i int) (vec.Vec2F, error) {
	v, err := luaengine.Arg[[]float64](args, i)
	if err != nil {
		return vec.Vec2F{}, err
	}
	if len(v) != 2 {
		return vec.Vec2F{}, fmt.Errorf("аргумент #%d: ожидался вектор {x, y}", i+1)
	}
	return vec.Vec2F{X: v[0], Y: v[1]}, nil
}

func tileArg(args luaengine.Args, i int) (vec.Vec2, error) {
	v, err := vecArg(args, i)
	if err != nil {
		return vec.Vec2{}, err
	}
	return v.Floor(), nil
}

func layerArg(args luaengine.Args, i int) (tile.Layer, error) {
	s, err := luaengine.OptArg(args, i, "foreground")
	if err != nil {
		return 0, err
	}
	return tile.ParseLayer(s)
}

func toVec(v vec.Vec2F) []float64 { return []float64{v.X, v.Y} }

// messageTarget число - id сущности, строка - уникальный id
func messageTarget(args luaengine.Args, i int) (entity.MessageTarget, error) {
	raw, err := luaengine.Arg[interface{}](args, i)
	if err != nil {
		return entity.MessageTarget{}, err
	}
	switch v := raw.(type) {
	case string:
		return entity.TargetUnique(v), nil
	case int64:
		return entity.TargetID(entity.EntityID(v)), nil
	case float64:
		return entity.TargetID(entity.EntityID(v)), nil
	}
	return entity.MessageTarget{}, fmt.Errorf("аргумент #%d: ожидался id или уникальный id", i+1)
}

func restArgs(args luaengine.Args, from int) ([]interface{}, error) {
	var out []interface{}
	for i := from; i < args.Len(); i++ {
		v, err := luaengine.Arg[interface{}](args, i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// worldCallbacks таблица world.*
func worldCallbacks(w entity.World, owner entity.Entity, promises *promiseTable) luaengine.Callbacks {
	source := entity.NullEntityID
	if owner != nil {
		source = owner.EntityID()
	}
	return luaengine.Callbacks{
		"time":     func(luaengine.Args) (interface{}, error) { return w.Time(), nil },
		"step":     func(luaengine.Args) (interface{}, error) { return w.CurrentStep(), nil },
		"seed":     func(luaengine.Args) (interface{}, error) { return w.Seed(), nil },
		"isServer": func(luaengine.Args) (interface{}, error) { return w.IsServer(), nil },
		"size": func(luaengine.Args) (interface{}, error) {
			g := w.Geometry()
			return []int32{g.Width, g.Height}, nil
		},

		"entityQuery": func(args luaengine.Args) (interface{}, error) {
			lo, err := vecArg(args, 0)
			if err != nil {
				return nil, err
			}
			hi, err := vecArg(args, 1)
			if err != nil {
				return nil, err
			}
			typeName, err := luaengine.OptArg(args, 2, "")
			if err != nil {
				return nil, err
			}
			found := w.EntityQuery(vec.NewRectF(lo.X, lo.Y, hi.X, hi.Y), func(e entity.Entity) bool {
				return typeName == "" || e.EntityType().String() == typeName
			})
			ids := make([]int64, 0, len(found))
			for _, e := range found {
				ids = append(ids, int64(e.EntityID()))
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return ids, nil
		},
		"entityExists": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int32](args, 0)
			if err != nil {
				return nil, err
			}
			return w.Entity(entity.EntityID(id)) != nil, nil
		},
		"entityType": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int32](args, 0)
			if err != nil {
				return nil, err
			}
			if e := w.Entity(entity.EntityID(id)); e != nil {
				return e.EntityType().String(), nil
			}
			return nil, nil
		},
		"entityPosition": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int32](args, 0)
			if err != nil {
				return nil, err
			}
			if e := w.Entity(entity.EntityID(id)); e != nil {
				return toVec(e.Position()), nil
			}
			return nil, nil
		},
		"findUniqueEntity": func(args luaengine.Args) (interface{}, error) {
			uid, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if id, ok := w.FindUniqueEntity(uid); ok {
				return int64(id), nil
			}
			return nil, nil
		},

		"material": func(args luaengine.Args) (interface{}, error) {
			pos, err := tileArg(args, 0)
			if err != nil {
				return nil, err
			}
			layer, err := layerArg(args, 1)
			if err != nil {
				return nil, err
			}
			t := w.TileAt(pos)
			m := t.Foreground.Material
			if layer == tile.Background {
				m = t.Background.Material
			}
			switch m {
			case tile.NullMaterial:
				return nil, nil
			case tile.EmptyMaterial:
				return false, nil
			}
			return int64(m), nil
		},
		"pointTileCollision": func(args luaengine.Args) (interface{}, error) {
			pos, err := tileArg(args, 0)
			if err != nil {
				return nil, err
			}
			return w.Collision(pos) != tile.CollisionNone, nil
		},
		"liquidAt": func(args luaengine.Args) (interface{}, error) {
			pos, err := tileArg(args, 0)
			if err != nil {
				return nil, err
			}
			l := w.LiquidAt(pos)
			if l.Level <= 0 {
				return nil, nil
			}
			return luaengine.Returns{int64(l.Liquid), float64(l.Level)}, nil
		},
		"placeMaterial": func(args luaengine.Args) (interface{}, error) {
			pos, err := tileArg(args, 0)
			if err != nil {
				return nil, err
			}
			layer, err := layerArg(args, 1)
			if err != nil {
				return nil, err
			}
			material, err := luaengine.Arg[uint16](args, 2)
			if err != nil {
				return nil, err
			}
			overlap, err := luaengine.OptArg(args, 3, false)
			if err != nil {
				return nil, err
			}
			failed := w.ModifyTiles(tile.ModificationList{{
				Pos: pos,
				Mod: tile.PlaceMaterial{Layer: layer, Material: tile.MaterialID(material)},
			}}, overlap, source)
			return len(failed) == 0, nil
		},
		"damageTiles": func(args luaengine.Args) (interface{}, error) {
			raw, err := luaengine.Arg[[][]float64](args, 0)
			if err != nil {
				return nil, err
			}
			layer, err := layerArg(args, 1)
			if err != nil {
				return nil, err
			}
			srcPos, err := vecArg(args, 2)
			if err != nil {
				return nil, err
			}
			kind, err := luaengine.OptArg(args, 3, "blockish")
			if err != nil {
				return nil, err
			}
			dtype, err := tile.ParseDamageType(kind)
			if err != nil {
				return nil, err
			}
			amount, err := luaengine.OptArg(args, 4, float32(1))
			if err != nil {
				return nil, err
			}
			harvest, err := luaengine.OptArg(args, 5, uint32(1))
			if err != nil {
				return nil, err
			}
			positions := make([]vec.Vec2, 0, len(raw))
			for _, p := range raw {
				if len(p) != 2 {
					return nil, fmt.Errorf("аргумент #1: ожидался список {x, y}")
				}
				positions = append(positions, vec.Vec2F{X: p[0], Y: p[1]}.Floor())
			}
			return w.DamageTiles(positions, layer, srcPos, tile.Damage{Type: dtype, Amount: amount, Harvest: harvest}, source), nil
		},

		"spawnItem": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			pos, err := vecArg(args, 1)
			if err != nil {
				return nil, err
			}
			count, err := luaengine.OptArg(args, 2, uint64(1))
			if err != nil {
				return nil, err
			}
			drop := entity.NewItemDrop(entity.ItemDropConfig{Item: entity.ItemDescriptor{Name: name, Count: count}})
			drop.SetPosition(pos)
			id, err := w.AddEntity(drop)
			if err != nil {
				return nil, err
			}
			return int64(id), nil
		},

		"sendEntityMessage": func(args luaengine.Args) (interface{}, error) {
			target, err := messageTarget(args, 0)
			if err != nil {
				return nil, err
			}
			message, err := luaengine.Arg[string](args, 1)
			if err != nil {
				return nil, err
			}
			rest, err := restArgs(args, 2)
			if err != nil {
				return nil, err
			}
			return promises.add(w.SendEntityMessage(source, target, message, rest)), nil
		},
		// messageStatus возвращает finished, succeeded, result, error
		"messageStatus": func(args luaengine.Args) (interface{}, error) {
			h, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			return promises.status(h), nil
		},

		"getProperty": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if v := w.Property(name); v != nil {
				return v, nil
			}
			return luaengine.Arg[interface{}](args, 1)
		},
		"setProperty": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			v, err := luaengine.Arg[interface{}](args, 1)
			if err != nil {
				return nil, err
			}
			w.SetProperty(name, v)
			return nil, nil
		},
	}
}

type positioned interface {
	SetPosition(p vec.Vec2F)
}

type destroyable interface {
	MarkDestroy()
}

type uniquelyNamed interface {
	SetUniqueID(id string)
}

// entityCallbacks таблица entity.* владельца скрипта
func entityCallbacks(w entity.World, owner entity.Entity, promises *promiseTable) luaengine.Callbacks {
	cbs := luaengine.Callbacks{
		"id":         func(luaengine.Args) (interface{}, error) { return int64(owner.EntityID()), nil },
		"entityType": func(luaengine.Args) (interface{}, error) { return owner.EntityType().String(), nil },
		"position":   func(luaengine.Args) (interface{}, error) { return toVec(owner.Position()), nil },
		"isMaster":   func(luaengine.Args) (interface{}, error) { return owner.EntityMode().IsMaster(), nil },
		"persistent": func(luaengine.Args) (interface{}, error) { return owner.Persistent(), nil },
		"uniqueId": func(luaengine.Args) (interface{}, error) {
			if uid := owner.UniqueID(); uid != "" {
				return uid, nil
			}
			return nil, nil
		},
		"distanceToEntity": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int32](args, 0)
			if err != nil {
				return nil, err
			}
			other := w.Entity(entity.EntityID(id))
			if other == nil {
				return nil, nil
			}
			return toVec(w.Geometry().DiffF(other.Position(), owner.Position())), nil
		},
		"sendMessage": func(args luaengine.Args) (interface{}, error) {
			target, err := messageTarget(args, 0)
			if err != nil {
				return nil, err
			}
			message, err := luaengine.Arg[string](args, 1)
			if err != nil {
				return nil, err
			}
			rest, err := restArgs(args, 2)
			if err != nil {
				return nil, err
			}
			return promises.add(w.SendEntityMessage(owner.EntityID(), target, message, rest)), nil
		},
	}

	if p, ok := owner.(positioned); ok {
		cbs["setPosition"] = func(args luaengine.Args) (interface{}, error) {
			pos, err := vecArg(args, 0)
			if err != nil {
				return nil, err
			}
			p.SetPosition(pos)
			return nil, nil
		}
	}
	if d, ok := owner.(destroyable); ok {
		cbs["destroy"] = func(luaengine.Args) (interface{}, error) {
			if !owner.EntityMode().IsMaster() {
				return nil, fmt.Errorf("entity.destroy: сущность %d не мастер", owner.EntityID())
			}
			d.MarkDestroy()
			return nil, nil
		}
	}
	if u, ok := owner.(uniquelyNamed); ok {
		cbs["setUniqueId"] = func(args luaengine.Args) (interface{}, error) {
			uid, err := luaengine.OptArg(args, 0, "")
			if err != nil {
				return nil, err
			}
			u.SetUniqueID(uid)
			return nil, nil
		}
	}
	if c, ok := entity.As[entity.ChattyEntity](owner); ok {
		cbs["say"] = func(args luaengine.Args) (interface{}, error) {
			text, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			c.Say(text)
			return nil, nil
		}
	}
	return cbs
}

// AnimatorCallbacks таблица animator.*
func AnimatorCallbacks(a *entity.Animator) luaengine.Callbacks {
	return luaengine.Callbacks{
		"animationState": func(args luaengine.Args) (interface{}, error) {
			group, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return a.State(group), nil
		},
		"setAnimationState": func(args luaengine.Args) (interface{}, error) {
			group, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			state, err := luaengine.Arg[string](args, 1)
			if err != nil {
				return nil, err
			}
			return a.SetState(group, state), nil
		},
		"tag": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return a.Tag(name), nil
		},
		"setGlobalTag": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			value, err := luaengine.OptArg(args, 1, "")
			if err != nil {
				return nil, err
			}
			a.SetTag(name, value)
			return nil, nil
		},
	}
}

// ConfigCallbacks таблица config.*
func ConfigCallbacks(c entity.ConfiguredEntity) luaengine.Callbacks {
	return luaengine.Callbacks{
		"getParameter": func(args luaengine.Args) (interface{}, error) {
			path, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if v, ok := c.ConfigParameter(path); ok && v != nil {
				return v, nil
			}
			return luaengine.Arg[interface{}](args, 1)
		},
	}
}
