// Package behavior деревья поведения NPC и монстров.
//
// Дерево описывается в JSON (*.behavior): узлы action, decorator, composite и module.
// Листья и декораторы это Lua-функции контекста сущности, вызываемые по имени.
// Модули разворачиваются при сборке, параметры вида "<name>" подставляются из
// параметров дерева.
package behavior

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/annel0/tileverse/internal/assets"
)

var (
	ErrUnknownTree     = errors.New("неизвестное дерево поведения")
	ErrModuleCycle     = errors.New("циклическая ссылка модулей")
	ErrInvalidNode     = errors.New("некорректный узел дерева")
	ErrMissingFunction = errors.New("функция узла не найдена")
)

// NodeKind вид узла
type NodeKind uint8

const (
	KindAction NodeKind = iota
	KindDecorator
	KindComposite
	KindModule
)

var nodeKindNames = [...]string{"action", "decorator", "composite", "module"}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", k)
}

// CompositeType вид составного узла
type CompositeType uint8

const (
	Sequence CompositeType = iota
	Selector
	Parallel
	Dynamic
	Randomize
)

var compositeNames = [...]string{"sequence", "selector", "parallel", "dynamic", "randomize"}

func (c CompositeType) String() string {
	if int(c) < len(compositeNames) {
		return compositeNames[c]
	}
	return fmt.Sprintf("CompositeType(%d)", c)
}

// ParseCompositeType по имени из JSON
func ParseCompositeType(s string) (CompositeType, error) {
	for i, n := range compositeNames {
		if n == strings.ToLower(s) {
			return CompositeType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: составной узел %q", ErrInvalidNode, s)
}

// Binding значение параметра: литерал или ключ доски
type Binding struct {
	Key   string      `json:"key,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// IsKey параметр читается с доски
func (b Binding) IsKey() bool { return b.Key != "" }

// NodeConfig узел в JSON-описании
type NodeConfig struct {
	Type       string             `json:"type"`
	Name       string             `json:"name"`
	Parameters map[string]Binding `json:"parameters,omitempty"`
	Output     map[string]string  `json:"output,omitempty"`
	Children   []NodeConfig       `json:"children,omitempty"`
	Child      *NodeConfig        `json:"child,omitempty"`
}

// TreeConfig описание дерева
type TreeConfig struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Scripts     []string               `json:"scripts,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Root        NodeConfig             `json:"root"`
}

// Node собранный узел дерева
type Node struct {
	Kind       NodeKind
	Name       string
	Composite  CompositeType
	Parameters map[string]Binding
	Output     map[string]string
	Children   []*Node
}

// Tree собранное дерево с развёрнутыми модулями
type Tree struct {
	Name       string
	Scripts    []string
	Parameters map[string]interface{}
	Root       *Node
}

// Functions имена Lua-функций, используемых деревом, по возрастанию
func (t *Tree) Functions() []string {
	set := map[string]struct{}{}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindAction || n.Kind == KindDecorator {
			set[n.Name] = struct{}{}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Database описания деревьев по имени
type Database struct {
	configs map[string]TreeConfig
}

// NewDatabase пустая база
func NewDatabase() *Database {
	return &Database{configs: make(map[string]TreeConfig)}
}

// Register добавляет описание дерева
func (d *Database) Register(cfg TreeConfig) {
	d.configs[cfg.Name] = cfg
}

// RegisterJSON разбирает и добавляет описание
func (d *Database) RegisterJSON(data []byte) error {
	var cfg TreeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	if cfg.Name == "" {
		return fmt.Errorf("%w: дерево без имени", ErrInvalidNode)
	}
	d.Register(cfg)
	return nil
}

// LoadAssets регистрирует все *.behavior из ассетов
func (d *Database) LoadAssets(a *assets.Assets) error {
	paths, err := a.List("/behaviors")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !strings.HasSuffix(p, ".behavior") {
			continue
		}
		data, err := a.Bytes(p)
		if err != nil {
			return err
		}
		if err := d.RegisterJSON(data); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Build собирает дерево, подставляя параметры overrides поверх параметров дерева
func (d *Database) Build(name string, overrides map[string]interface{}) (*Tree, error) {
	return d.build(name, overrides, map[string]bool{})
}

func (d *Database) build(name string, overrides map[string]interface{}, visiting map[string]bool) (*Tree, error) {
	cfg, ok := d.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTree, name)
	}
	if visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrModuleCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	params := make(map[string]interface{}, len(cfg.Parameters)+len(overrides))
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	t := &Tree{Name: cfg.Name, Parameters: params}
	t.Scripts = append(t.Scripts, cfg.Scripts...)
	root, err := d.buildNode(cfg.Root, t, visiting)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	t.Root = root
	return t, nil
}

func (d *Database) buildNode(nc NodeConfig, t *Tree, visiting map[string]bool) (*Node, error) {
	params := substitute(nc.Parameters, t.Parameters)
	switch strings.ToLower(nc.Type) {
	case "action":
		if len(nc.Children) > 0 || nc.Child != nil {
			return nil, fmt.Errorf("%w: действие %s с потомками", ErrInvalidNode, nc.Name)
		}
		return &Node{Kind: KindAction, Name: nc.Name, Parameters: params, Output: nc.Output}, nil

	case "decorator":
		if nc.Child == nil {
			return nil, fmt.Errorf("%w: декоратор %s без потомка", ErrInvalidNode, nc.Name)
		}
		child, err := d.buildNode(*nc.Child, t, visiting)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindDecorator, Name: nc.Name, Parameters: params, Output: nc.Output, Children: []*Node{child}}, nil

	case "composite":
		ct, err := ParseCompositeType(nc.Name)
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: KindComposite, Name: nc.Name, Composite: ct, Parameters: params}
		for _, c := range nc.Children {
			child, err := d.buildNode(c, t, visiting)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil

	case "module":
		overrides := make(map[string]interface{}, len(params))
		for k, b := range params {
			if !b.IsKey() {
				overrides[k] = b.Value
			}
		}
		sub, err := d.build(nc.Name, overrides, visiting)
		if err != nil {
			return nil, err
		}
		for _, s := range sub.Scripts {
			if !contains(t.Scripts, s) {
				t.Scripts = append(t.Scripts, s)
			}
		}
		return sub.Root, nil
	}
	return nil, fmt.Errorf("%w: тип %q", ErrInvalidNode, nc.Type)
}

// substitute заменяет литералы "<param>" значениями параметров дерева
func substitute(in map[string]Binding, params map[string]interface{}) map[string]Binding {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]Binding, len(in))
	for k, b := range in {
		if s, ok := b.Value.(string); ok && len(s) > 2 && s[0] == '<' && s[len(s)-1] == '>' {
			if v, ok := params[s[1:len(s)-1]]; ok {
				b.Value = v
			}
		}
		out[k] = b
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
