package dungeon

import (
	"encoding/json"
	"fmt"
	"image/color"
	"path"
	"strconv"
	"strings"

	"github.com/annel0/tileverse/internal/assets"
)

// Definition описание подземелья: части, якоря и ограничения
type Definition struct {
	Name    string
	Anchors []string
	Parts   map[string]*Part

	// MaxParts 0 без ограничения
	MaxParts int
	// MaxRadius наибольшее расстояние от начала до центра части; 0 без ограничения
	MaxRadius float64
	// Threat допустимый уровень угрозы мира
	Threat [2]float64

	Protected bool
	// Gravity множитель гравитации в клетках подземелья; nil оставляет как есть
	Gravity    *float32
	Breathable *bool
	// ExtendSurfaceFreeSpace сколько клеток над поверхностью подземелья расчищается
	ExtendSurfaceFreeSpace int32
}

// Part часть по имени
func (d *Definition) Part(name string) (*Part, bool) {
	p, ok := d.Parts[name]
	return p, ok
}

// Validate якоря существуют, диапазон угрозы корректен
func (d *Definition) Validate() error {
	if len(d.Anchors) == 0 {
		return fmt.Errorf("подземелье %q без якорей", d.Name)
	}
	for _, a := range d.Anchors {
		if _, ok := d.Parts[a]; !ok {
			return fmt.Errorf("подземелье %q: якорь %q не найден среди частей", d.Name, a)
		}
	}
	if d.Threat[1] != 0 && d.Threat[1] < d.Threat[0] {
		return fmt.Errorf("подземелье %q: угроза %v", d.Name, d.Threat)
	}
	return nil
}

type tileDefJSON struct {
	Brushes   []json.RawMessage `json:"brush,omitempty"`
	Rules     []json.RawMessage `json:"rules,omitempty"`
	Connector *ConnectorDef     `json:"connector,omitempty"`
}

type partJSON struct {
	Name      string            `json:"name"`
	Rules     []json.RawMessage `json:"rules,omitempty"`
	Map       []string          `json:"map,omitempty"`
	Image     string            `json:"image,omitempty"`
	MinThreat float64           `json:"minThreat,omitempty"`
	MaxThreat float64           `json:"maxThreat,omitempty"`
}

type definitionJSON struct {
	Name                   string                 `json:"name"`
	Anchors                []string               `json:"anchor"`
	MaxParts               int                    `json:"maxParts,omitempty"`
	MaxRadius              float64                `json:"maxRadius,omitempty"`
	Threat                 [2]float64             `json:"threatLevel,omitempty"`
	Protected              bool                   `json:"protected,omitempty"`
	Gravity                *float32               `json:"gravity,omitempty"`
	Breathable             *bool                  `json:"breathable,omitempty"`
	ExtendSurfaceFreeSpace int32                  `json:"extendSurfaceFreeSpace,omitempty"`
	Palette                map[string]tileDefJSON `json:"palette,omitempty"`
	Colors                 map[string]tileDefJSON `json:"colors,omitempty"`
	Parts                  []partJSON             `json:"parts"`
}

// ParseDefinition разбирает описание подземелья. Части с картой используют
// palette, части с изображением используют colors и загружаются через a;
// a может быть nil, если изображений нет.
func ParseDefinition(data []byte, a *assets.Assets, base string) (*Definition, error) {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("описание подземелья: %w", err)
	}
	def := &Definition{
		Name:                   raw.Name,
		Anchors:                raw.Anchors,
		Parts:                  make(map[string]*Part, len(raw.Parts)),
		MaxParts:               raw.MaxParts,
		MaxRadius:              raw.MaxRadius,
		Threat:                 raw.Threat,
		Protected:              raw.Protected,
		Gravity:                raw.Gravity,
		Breathable:             raw.Breathable,
		ExtendSurfaceFreeSpace: raw.ExtendSurfaceFreeSpace,
	}

	palette := make(map[rune]TileDef, len(raw.Palette))
	for key, td := range raw.Palette {
		runes := []rune(key)
		if len(runes) != 1 {
			return nil, fmt.Errorf("палитра: ключ %q должен быть одним символом", key)
		}
		parsed, err := parseTileDef(td)
		if err != nil {
			return nil, fmt.Errorf("палитра %q: %w", key, err)
		}
		palette[runes[0]] = parsed
	}
	colors := make(map[color.RGBA]TileDef, len(raw.Colors))
	for key, td := range raw.Colors {
		c, err := parseColor(key)
		if err != nil {
			return nil, err
		}
		parsed, err := parseTileDef(td)
		if err != nil {
			return nil, fmt.Errorf("цвет %q: %w", key, err)
		}
		colors[c] = parsed
	}

	for _, pj := range raw.Parts {
		if _, dup := def.Parts[pj.Name]; dup {
			return nil, fmt.Errorf("часть %q объявлена дважды", pj.Name)
		}
		var part *Part
		var err error
		switch {
		case len(pj.Map) > 0:
			part, err = ParseTileMap(pj.Name, pj.Map, palette)
		case pj.Image != "":
			if a == nil {
				return nil, fmt.Errorf("часть %q: изображение без источника ресурсов", pj.Name)
			}
			img, ierr := a.Image(resolvePath(base, pj.Image))
			if ierr != nil {
				return nil, fmt.Errorf("часть %q: %w", pj.Name, ierr)
			}
			part, err = ParseImage(pj.Name, img, colors)
		default:
			err = fmt.Errorf("часть %q без карты и изображения", pj.Name)
		}
		if err != nil {
			return nil, err
		}
		for _, r := range pj.Rules {
			rule, err := ParseRule(r)
			if err != nil {
				return nil, fmt.Errorf("часть %q: %w", pj.Name, err)
			}
			part.Rules = append(part.Rules, rule)
		}
		part.MinThreat, part.MaxThreat = pj.MinThreat, pj.MaxThreat
		def.Parts[pj.Name] = part
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Load читает описание подземелья из ресурсов; пути изображений
// считаются от каталога описания
func Load(a *assets.Assets, assetPath string) (*Definition, error) {
	data, err := a.Bytes(assetPath)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data, a, path.Dir(assetPath))
}

func parseTileDef(td tileDefJSON) (TileDef, error) {
	out := TileDef{Connector: td.Connector}
	for _, b := range td.Brushes {
		brush, err := ParseBrush(b)
		if err != nil {
			return TileDef{}, err
		}
		out.Brushes = append(out.Brushes, brush)
	}
	for _, r := range td.Rules {
		rule, err := ParseRule(r)
		if err != nil {
			return TileDef{}, err
		}
		out.Rules = append(out.Rules, rule)
	}
	return out, nil
}

// parseColor цвет вида #rrggbb или #rrggbbaa
func parseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("цвет %q: ожидается #rrggbb или #rrggbbaa", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("цвет %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func resolvePath(base, p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join(base, p)
}
