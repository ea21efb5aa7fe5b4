package dungeon

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/vec"
)

// Rule условие размещения. Клеточные правила проверяются по каждой клетке
// палитры, к которой привязаны; правила части учитывает генератор.
type Rule interface {
	// CheckTile выполняется ли правило в клетке pos мира
	CheckTile(pos vec.Vec2, w *Writer) bool
}

// RequiresSolid клетка должна быть твёрдой. AllowPart засчитывает материал,
// уже записанный ранее размещёнными частями.
type RequiresSolid struct {
	AllowPart bool
}

func (r RequiresSolid) CheckTile(pos vec.Vec2, w *Writer) bool {
	if r.AllowPart {
		return w.IsSolid(pos)
	}
	return w.WorldSolid(pos)
}

// RequiresOpen клетка должна быть пустой (воздух)
type RequiresOpen struct{}

func (RequiresOpen) CheckTile(pos vec.Vec2, w *Writer) bool {
	return w.IsOpen(pos)
}

// RequiresLiquid в клетке мира должна быть жидкость
type RequiresLiquid struct{}

func (RequiresLiquid) CheckTile(pos vec.Vec2, w *Writer) bool {
	return w.HasLiquid(pos)
}

// MaxSpawnCount сколько раз часть может встретиться в подземелье
type MaxSpawnCount struct {
	Count int
}

func (MaxSpawnCount) CheckTile(vec.Vec2, *Writer) bool { return true }

// DoNotConnectToPart часть не присоединяется к перечисленным частям
type DoNotConnectToPart struct {
	Parts []string
}

func (DoNotConnectToPart) CheckTile(vec.Vec2, *Writer) bool { return true }

// DoNotCombineWith часть не встречается в одном подземелье с перечисленными
type DoNotCombineWith struct {
	Parts []string
}

func (DoNotCombineWith) CheckTile(vec.Vec2, *Writer) bool { return true }

// IgnorePartMaximum часть не учитывается в лимите частей подземелья
type IgnorePartMaximum struct{}

func (IgnorePartMaximum) CheckTile(vec.Vec2, *Writer) bool { return true }

// AllowOverdrawing часть может перекрывать уже занятые клетки
type AllowOverdrawing struct{}

func (AllowOverdrawing) CheckTile(vec.Vec2, *Writer) bool { return true }

// ParseRule разбирает правило из массива вида ["maxSpawnCount", 2]
func ParseRule(data json.RawMessage) (Rule, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return nil, fmt.Errorf("правило %s: ожидается непустой массив", string(data))
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("правило %s: тип не строка", string(data))
	}
	arg := func(out interface{}) error {
		if len(parts) < 2 {
			return fmt.Errorf("правило %q без аргумента", kind)
		}
		if err := json.Unmarshal(parts[1], out); err != nil {
			return fmt.Errorf("правило %q: %w", kind, err)
		}
		return nil
	}

	switch kind {
	case "requiresSolid":
		return RequiresSolid{}, nil
	case "requiresSolidOrPart":
		return RequiresSolid{AllowPart: true}, nil
	case "requiresOpen":
		return RequiresOpen{}, nil
	case "requiresLiquid":
		return RequiresLiquid{}, nil
	case "maxSpawnCount":
		var n int
		if err := arg(&n); err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("maxSpawnCount: отрицательное значение %d", n)
		}
		return MaxSpawnCount{Count: n}, nil
	case "doNotConnectToPart":
		var names []string
		if err := arg(&names); err != nil {
			return nil, err
		}
		return DoNotConnectToPart{Parts: names}, nil
	case "doNotCombineWith":
		var names []string
		if err := arg(&names); err != nil {
			return nil, err
		}
		return DoNotCombineWith{Parts: names}, nil
	case "ignorePartMaximum":
		return IgnorePartMaximum{}, nil
	case "allowOverdrawing":
		return AllowOverdrawing{}, nil
	}
	return nil, fmt.Errorf("неизвестное правило %q", kind)
}
