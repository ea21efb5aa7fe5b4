package dungeon

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/annel0/tileverse/internal/vec"
)

// Direction сторона части, на которой лежит коннектор
type Direction uint8

const (
	DirLeft Direction = iota
	DirRight
	DirUp
	DirDown
)

var directionNames = [...]string{"left", "right", "up", "down"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", d)
}

// Opposite сторона, к которой должен примыкать коннектор соседа
func (d Direction) Opposite() Direction {
	switch d {
	case DirLeft:
		return DirRight
	case DirRight:
		return DirLeft
	case DirUp:
		return DirDown
	}
	return DirUp
}

// Step смещение к соседней клетке за коннектором
func (d Direction) Step() vec.Vec2 {
	switch d {
	case DirLeft:
		return vec.V2(-1, 0)
	case DirRight:
		return vec.V2(1, 0)
	case DirUp:
		return vec.V2(0, 1)
	}
	return vec.V2(0, -1)
}

// ConnectorDef коннектор в палитре
type ConnectorDef struct {
	Value string `json:"value"`
	// ForwardOnly коннектор ведёт только наружу: через него нельзя войти в часть
	ForwardOnly bool `json:"forwardOnly,omitempty"`
}

// Connector коннектор на краю части
type Connector struct {
	Value       string
	Direction   Direction
	Offset      vec.Vec2
	ForwardOnly bool
}

// TileDef содержимое одной клетки палитры
type TileDef struct {
	Brushes   []Brush
	Rules     []Rule
	Connector *ConnectorDef
}

// PartTile клетка части с непустым содержимым
type PartTile struct {
	Offset  vec.Vec2
	Brushes []Brush
	Rules   []Rule
}

// Part готовый фрагмент подземелья
type Part struct {
	Name       string
	Width      int32
	Height     int32
	Rules      []Rule
	Tiles      []PartTile
	Connectors []Connector
	// MinThreat и MaxThreat допустимый уровень угрозы; нули снимают ограничение
	MinThreat float64
	MaxThreat float64
}

// ParseTileMap строит часть из строк карты. Первая строка верхняя: в мире
// ось Y направлена вверх. Символы вне палитры и пробелы пусты.
func ParseTileMap(name string, rows []string, palette map[rune]TileDef) (*Part, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("часть %q: пустая карта", name)
	}
	grid := make([][]*TileDef, len(rows))
	width := 0
	for y, row := range rows {
		runes := []rune(row)
		if len(runes) > width {
			width = len(runes)
		}
		grid[y] = make([]*TileDef, len(runes))
		for x, r := range runes {
			if def, ok := palette[r]; ok {
				d := def
				grid[y][x] = &d
			}
		}
	}
	return buildPart(name, int32(width), int32(len(rows)), func(x, y int32) *TileDef {
		row := grid[int32(len(rows))-1-y]
		if int(x) >= len(row) {
			return nil
		}
		return row[x]
	})
}

// ParseImage строит часть из изображения: цвет пикселя выбирает клетку палитры.
// Верхний ряд пикселей становится верхним рядом части.
func ParseImage(name string, img image.Image, palette map[color.RGBA]TileDef) (*Part, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("часть %q: пустое изображение", name)
	}
	w, h := int32(b.Dx()), int32(b.Dy())
	return buildPart(name, w, h, func(x, y int32) *TileDef {
		c := color.RGBAModel.Convert(img.At(b.Min.X+int(x), b.Max.Y-1-int(y))).(color.RGBA)
		if c.A == 0 {
			return nil
		}
		if def, ok := palette[c]; ok {
			return &def
		}
		return nil
	})
}

func buildPart(name string, w, h int32, at func(x, y int32) *TileDef) (*Part, error) {
	p := &Part{Name: name, Width: w, Height: h}
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			def := at(x, y)
			if def == nil {
				continue
			}
			off := vec.V2(x, y)
			if len(def.Brushes) > 0 || len(def.Rules) > 0 {
				p.Tiles = append(p.Tiles, PartTile{Offset: off, Brushes: def.Brushes, Rules: def.Rules})
			}
			if def.Connector != nil {
				dir, ok := edgeDirection(x, y, w, h)
				if !ok {
					return nil, fmt.Errorf("часть %q: коннектор %q в (%d,%d) не на краю", name, def.Connector.Value, x, y)
				}
				p.Connectors = append(p.Connectors, Connector{
					Value:       def.Connector.Value,
					Direction:   dir,
					Offset:      off,
					ForwardOnly: def.Connector.ForwardOnly,
				})
			}
		}
	}
	if len(p.Tiles) == 0 {
		return nil, fmt.Errorf("часть %q без клеток", name)
	}
	return p, nil
}

// edgeDirection горизонтальные края приоритетнее вертикальных
func edgeDirection(x, y, w, h int32) (Direction, bool) {
	switch {
	case x == 0:
		return DirLeft, true
	case x == w-1:
		return DirRight, true
	case y == h-1:
		return DirUp, true
	case y == 0:
		return DirDown, true
	}
	return 0, false
}

// Occupied клетки, которые часть занимает при размещении в pos
func (p *Part) Occupied(pos vec.Vec2) []vec.Vec2 {
	var out []vec.Vec2
	for _, t := range p.Tiles {
		for _, b := range t.Brushes {
			if b.Occupies() {
				out = append(out, pos.Add(t.Offset))
				break
			}
		}
	}
	return out
}

// Center центр части, размещённой в pos
func (p *Part) Center(pos vec.Vec2) vec.Vec2F {
	return vec.V2F(float64(pos.X)+float64(p.Width)/2, float64(pos.Y)+float64(p.Height)/2)
}

// SurfaceRow нижний ряд с кистью поверхности
func (p *Part) SurfaceRow() (int32, bool) {
	found := false
	var row int32
	for _, t := range p.Tiles {
		for _, b := range t.Brushes {
			if _, ok := b.(SurfaceBrush); ok && (!found || t.Offset.Y < row) {
				row, found = t.Offset.Y, true
			}
		}
	}
	return row, found
}

// maxSpawnCount лимит части; 0 без ограничения
func (p *Part) maxSpawnCount() int {
	for _, r := range p.Rules {
		if m, ok := r.(MaxSpawnCount); ok {
			return m.Count
		}
	}
	return 0
}

func (p *Part) hasRule(match func(Rule) bool) bool {
	for _, r := range p.Rules {
		if match(r) {
			return true
		}
	}
	return false
}

func (p *Part) ignoresMaximum() bool {
	return p.hasRule(func(r Rule) bool { _, ok := r.(IgnorePartMaximum); return ok })
}

func (p *Part) allowsOverdraw() bool {
	return p.hasRule(func(r Rule) bool { _, ok := r.(AllowOverdrawing); return ok })
}

// refusesConnection часть не присоединяется к other
func (p *Part) refusesConnection(other string) bool {
	return p.hasRule(func(r Rule) bool {
		d, ok := r.(DoNotConnectToPart)
		return ok && contains(d.Parts, other)
	})
}

// refusesCombination часть не уживается с other в одном подземелье
func (p *Part) refusesCombination(other string) bool {
	return p.hasRule(func(r Rule) bool {
		d, ok := r.(DoNotCombineWith)
		return ok && contains(d.Parts, other)
	})
}

func (p *Part) threatAllows(threat float64) bool {
	if p.MinThreat != 0 && threat < p.MinThreat {
		return false
	}
	if p.MaxThreat != 0 && threat > p.MaxThreat {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// sortedPartNames имена частей по алфавиту
func sortedPartNames(parts map[string]*Part) []string {
	names := make([]string, 0, len(parts))
	for n := range parts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
