package dungeon

import (
	"errors"
	"fmt"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/random"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

var (
	// ErrThreatOutOfRange уровень угрозы мира вне диапазона подземелья
	ErrThreatOutOfRange = errors.New("уровень угрозы вне диапазона подземелья")
	// ErrNoAnchor ни один якорь не подходит к месту
	ErrNoAnchor = errors.New("ни один якорь не помещается")
)

// Placement размещённая часть: левый нижний угол в координатах мира
type Placement struct {
	Part     *Part
	Position vec.Vec2
}

// Result итог генерации
type Result struct {
	DungeonID  tile.DungeonID
	Placements []Placement
	Stats      WriteStats
}

// Generator расставляет части одного описания
type Generator struct {
	def    *Definition
	seed   uint64
	logger *logging.Logger
}

// NewGenerator генератор с сидом мира
func NewGenerator(def *Definition, seed uint64) *Generator {
	return &Generator{def: def, seed: seed, logger: logging.GetComponentLogger("dungeon")}
}

type placementState struct {
	origin   vec.Vec2
	threat   float64
	placed   []Placement
	used     []map[int]bool
	counts   map[string]int
	counted  int
	geometry vec.Geometry
}

// Generate выбирает якорь в origin, расширяет подземелье через коннекторы
// и записывает результат в f
func (g *Generator) Generate(f Facade, origin vec.Vec2, threat float64, id tile.DungeonID) (*Result, error) {
	if t := g.def.Threat; t != [2]float64{} && (threat < t[0] || threat > t[1]) {
		return nil, fmt.Errorf("%w: %v вне %v", ErrThreatOutOfRange, threat, t)
	}
	w := NewWriter(f, id, g.def.Gravity)
	st := &placementState{
		origin:   origin,
		threat:   threat,
		counts:   make(map[string]int),
		geometry: f.Geometry(),
	}

	if !g.placeAnchor(w, st) {
		return nil, fmt.Errorf("%w: %s в %v", ErrNoAnchor, g.def.Name, origin)
	}
	g.expand(w, st)
	g.paint(w, st)
	w.ExtendSurface(g.def.ExtendSurfaceFreeSpace)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("подземелье %s: %w", g.def.Name, err)
	}

	stats := w.Flush()
	f.SetDungeonProperties(id, g.def.Protected, g.def.Breathable)
	g.logger.Info("🏰 Подземелье %s (id %d) в %v: частей %d, клеток %d, сущностей %d",
		g.def.Name, id, origin, len(st.placed), stats.Tiles, stats.Entities)
	if stats.Failed > 0 {
		g.logger.Warn("⚠️ Подземелье %s: не размещено сущностей %d", g.def.Name, stats.Failed)
	}
	return &Result{DungeonID: id, Placements: st.placed, Stats: stats}, nil
}

func (g *Generator) placeAnchor(w *Writer, st *placementState) bool {
	anchors := append([]string(nil), g.def.Anchors...)
	random.StaticShuffle(anchors, g.seed, st.origin.X, st.origin.Y, "anchor")
	for _, name := range anchors {
		part := g.def.Parts[name]
		pos := st.origin
		if row, ok := part.SurfaceRow(); ok {
			pos.Y -= row
		}
		if g.canPlace(w, st, part, pos, nil) {
			g.place(w, st, part, pos, -1)
			return true
		}
	}
	return false
}

type candidate struct {
	part      *Part
	connector int
}

// expand обход в ширину по свободным коннекторам размещённых частей
func (g *Generator) expand(w *Writer, st *placementState) {
	names := sortedPartNames(g.def.Parts)
	for i := 0; i < len(st.placed); i++ {
		from := st.placed[i]
		for ci, conn := range from.Part.Connectors {
			if st.used[i][ci] {
				continue
			}
			target := from.Position.Add(conn.Offset).Add(conn.Direction.Step())

			var candidates []candidate
			want := conn.Direction.Opposite()
			for _, name := range names {
				part := g.def.Parts[name]
				for cj, c := range part.Connectors {
					if c.Value == conn.Value && c.Direction == want && !c.ForwardOnly {
						candidates = append(candidates, candidate{part: part, connector: cj})
					}
				}
			}
			random.StaticShuffle(candidates, g.seed, from.Position.X, from.Position.Y, ci, "connect")

			for _, c := range candidates {
				pos := target.Sub(c.part.Connectors[c.connector].Offset)
				if !g.canPlace(w, st, c.part, pos, from.Part) {
					continue
				}
				st.used[i][ci] = true
				g.place(w, st, c.part, pos, c.connector)
				break
			}
		}
	}
}

func (g *Generator) place(w *Writer, st *placementState, part *Part, pos vec.Vec2, entered int) {
	st.placed = append(st.placed, Placement{Part: part, Position: pos})
	used := make(map[int]bool)
	if entered >= 0 {
		used[entered] = true
	}
	st.used = append(st.used, used)
	st.counts[part.Name]++
	if !part.ignoresMaximum() {
		st.counted++
	}
	w.Reserve(part, pos)
}

// canPlace правила, лимиты, перекрытие и угроза для части в pos
func (g *Generator) canPlace(w *Writer, st *placementState, part *Part, pos vec.Vec2, from *Part) bool {
	if !part.threatAllows(st.threat) {
		return false
	}
	if limit := part.maxSpawnCount(); limit > 0 && st.counts[part.Name] >= limit {
		return false
	}
	if g.def.MaxParts > 0 && !part.ignoresMaximum() && st.counted >= g.def.MaxParts {
		return false
	}
	if g.def.MaxRadius > 0 {
		if st.geometry.Distance(st.origin.ToFloat(), part.Center(pos)) > g.def.MaxRadius {
			return false
		}
	}
	for _, p := range st.placed {
		if part.refusesCombination(p.Part.Name) || p.Part.refusesCombination(part.Name) {
			return false
		}
	}
	if from != nil && (part.refusesConnection(from.Name) || from.refusesConnection(part.Name)) {
		return false
	}

	overdraw := part.allowsOverdraw()
	for _, cell := range part.Occupied(pos) {
		if !st.geometry.InBounds(st.geometry.Wrap(cell)) {
			return false
		}
		if !overdraw && w.Reserved(cell) {
			return false
		}
	}
	for _, t := range part.Tiles {
		cell := pos.Add(t.Offset)
		for _, r := range t.Rules {
			if !r.CheckTile(cell, w) {
				return false
			}
		}
	}
	return true
}

// paint применяет кисти всех частей фаза за фазой
func (g *Generator) paint(w *Writer, st *placementState) {
	for _, phase := range Phases {
		for _, p := range st.placed {
			if phase == PhaseDungeonID {
				w.TagDungeon(p.Part.Occupied(p.Position))
			}
			for _, t := range p.Part.Tiles {
				cell := p.Position.Add(t.Offset)
				for _, b := range t.Brushes {
					b.Paint(cell, phase, w)
				}
			}
		}
		w.FinishPhase(phase)
	}
}
