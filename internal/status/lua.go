package status

import (
	"github.com/annel0/tileverse/internal/luaengine"
)

// Callbacks таблица status.* для скриптов сущности и её эффектов
func (c *Controller) Callbacks() luaengine.Callbacks {
	return luaengine.Callbacks{
		"stat": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.Stat(name), nil
		},
		"statPositive": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.StatPositive(name), nil
		},
		"setStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			mods, err := luaengine.Arg[[]StatModifier](args, 1)
			if err != nil {
				return nil, err
			}
			return c.SetModifierGroup(id, mods), nil
		},
		"addPersistentStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			mods, err := luaengine.Arg[[]StatModifier](args, 0)
			if err != nil {
				return nil, err
			}
			return c.AddModifierGroup(mods), nil
		},
		"removeStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			return c.RemoveModifierGroup(id), nil
		},
		"isResource": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.IsResource(name), nil
		},
		"resource": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.Resource(name), nil
		},
		"resourceMax": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if max, ok := c.ResourceMax(name); ok {
				return max, nil
			}
			return nil, nil
		},
		"resourcePercentage": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.ResourcePercentage(name), nil
		},
		"setResource": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			v, err := luaengine.Arg[float64](args, 1)
			if err != nil {
				return nil, err
			}
			return nil, c.SetResource(name, v)
		},
		"setResourcePercentage": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			p, err := luaengine.Arg[float64](args, 1)
			if err != nil {
				return nil, err
			}
			return nil, c.SetResourcePercentage(name, p)
		},
		"modifyResource": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			d, err := luaengine.Arg[float64](args, 1)
			if err != nil {
				return nil, err
			}
			return nil, c.ModifyResource(name, d)
		},
		"consumeResource": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			amount, err := luaengine.Arg[float64](args, 1)
			if err != nil {
				return nil, err
			}
			return c.ConsumeResource(name, amount), nil
		},
		"setResourceLocked": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			locked, err := luaengine.OptArg(args, 1, true)
			if err != nil {
				return nil, err
			}
			c.SetResourceLocked(name, locked)
			return nil, nil
		},
		"addEphemeralEffect": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			d, err := luaengine.OptArg[*float64](args, 1, nil)
			if err != nil {
				return nil, err
			}
			source, err := luaengine.OptArg[int32](args, 2, 0)
			if err != nil {
				return nil, err
			}
			return nil, c.AddEffect(name, d, source)
		},
		"removeEphemeralEffect": func(args luaengine.Args) (interface{}, error) {
			name, err := luaengine.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return c.RemoveEffect(name), nil
		},
		"activeUniqueStatusEffectSummary": func(luaengine.Args) (interface{}, error) {
			return c.ActiveEffects(), nil
		},
		"applySelfDamage": func(args luaengine.Args) (interface{}, error) {
			amount, err := luaengine.Arg[float64](args, 0)
			if err != nil {
				return nil, err
			}
			return c.ApplyDamage(amount, true), nil
		},
	}
}
