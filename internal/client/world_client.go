// Package client реализует мир на стороне игрока: применяет состояние,
// присланное сервером, ведёт собственные мастер-сущности и отправляет
// серверу намерения и их дельты.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/template"
	"github.com/annel0/tileverse/internal/world/tile"
)

var (
	// ErrNotInWorld пакет или намерение до WorldStart
	ErrNotInWorld = errors.New("клиент не в мире")
	// ErrWorldStopped сервер прислал WorldStop
	ErrWorldStopped = errors.New("мир остановлен сервером")
)

// Options параметры клиентского мира
type Options struct {
	Registry *tile.Registry
	Factory  *entity.Factory
	// Lua nil создаёт собственный движок
	Lua    *luaengine.Engine
	Assets *assets.Assets
	Rules  netelement.CompatibilityRules

	// StepDt длительность шага сервера
	StepDt float64
	// InterpolationSteps на сколько шагов сервера ведомые копии отстают от прихода дельт
	InterpolationSteps int
	MessageTimeout     time.Duration
}

type pendingMessage struct {
	promise *entity.MessagePromise
	expires float64
}

type damageKey struct {
	pos   vec.Vec2
	layer tile.Layer
}

// WorldClient мир клиента. Не потокобезопасен: пакеты, намерения и Update
// вызываются из одной горутины.
type WorldClient struct {
	opts    Options
	factory *entity.Factory
	lua     *luaengine.Engine
	ownsLua bool
	rules   netelement.CompatibilityRules

	clientID entity.ConnectionID
	inWorld  bool
	stopped  string

	template    *template.WorldTemplate
	tiles       *world.TileWorld
	entities    *entity.Map
	env         *template.Environment
	properties  map[string]interface{}
	playerStart vec.Vec2F

	serverStep uint64
	serverTime float64
	// sinceStep локальное время после последнего StepUpdate
	sinceStep float64
	// clock монотонное локальное время для сроков запросов
	clock float64

	window      vec.RectI
	playerID    entity.EntityID
	stateDirty  bool
	sent        map[entity.EntityID]uint64
	tileDamage  map[damageKey]tile.DamageStatus
	failures    []tile.ModificationList
	chat        []protocol.ChatReceive
	resyncs     int
	hitRepeats  map[[2]entity.EntityID]float64
	messages    map[uuid.UUID]*pendingMessage
	interacts   map[uuid.UUID]*Promise[entity.InteractAction]
	uniqueFinds map[string][]*Promise[UniqueLocation]

	outgoing []protocol.Packet
	logger   *logging.Logger
}

// NewWorldClient создаёт клиента, ожидающего WorldStart
func NewWorldClient(opts Options) *WorldClient {
	if opts.Registry == nil {
		opts.Registry = tile.DefaultRegistry()
	}
	if opts.Factory == nil {
		opts.Factory = entity.NewFactory(entity.Deps{Assets: opts.Assets})
	}
	if opts.Rules.Version == 0 {
		opts.Rules = netelement.CurrentRules
	}
	if opts.StepDt <= 0 {
		opts.StepDt = 1.0 / 60
	}
	if opts.InterpolationSteps < 0 {
		opts.InterpolationSteps = 0
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 30 * time.Second
	}
	c := &WorldClient{
		opts:        opts,
		factory:     opts.Factory,
		lua:         opts.Lua,
		rules:       opts.Rules,
		env:         template.NewEnvironment(),
		properties:  make(map[string]interface{}),
		sent:        make(map[entity.EntityID]uint64),
		tileDamage:  make(map[damageKey]tile.DamageStatus),
		hitRepeats:  make(map[[2]entity.EntityID]float64),
		messages:    make(map[uuid.UUID]*pendingMessage),
		interacts:   make(map[uuid.UUID]*Promise[entity.InteractAction]),
		uniqueFinds: make(map[string][]*Promise[UniqueLocation]),
		logger:      logging.GetClientLogger(),
	}
	if c.lua == nil {
		c.lua = luaengine.NewEngine(luaengine.DefaultConfig())
		c.ownsLua = true
	}
	return c
}

// Close выгружает сущности и освобождает движок Lua
func (c *WorldClient) Close() {
	c.clearEntities()
	if c.ownsLua {
		c.lua.Close()
	}
}

func (c *WorldClient) clearEntities() {
	if c.entities == nil {
		return
	}
	for _, e := range c.entities.Entities() {
		c.entities.Remove(e.EntityID())
		e.Uninit()
	}
}

// InWorld получен WorldStart и мир не остановлен
func (c *WorldClient) InWorld() bool { return c.inWorld }

// StopReason причина WorldStop; пустая, пока мир работает
func (c *WorldClient) StopReason() string { return c.stopped }

// ClientID номер соединения, выданный сервером
func (c *WorldClient) ClientID() entity.ConnectionID { return c.clientID }

// Template шаблон мира из WorldStart
func (c *WorldClient) Template() *template.WorldTemplate { return c.template }

// Tiles клиентская копия тайлов
func (c *WorldClient) Tiles() *world.TileWorld { return c.tiles }

// Entities мастера клиента и ведомые копии
func (c *WorldClient) Entities() *entity.Map { return c.entities }

// Environment небо и погода
func (c *WorldClient) Environment() *template.Environment { return c.env }

// PlayerStart точка появления игрока
func (c *WorldClient) PlayerStart() vec.Vec2F { return c.playerStart }

// ServerStep последний шаг из StepUpdate
func (c *WorldClient) ServerStep() uint64 { return c.serverStep }

// TileDamage повреждение клетки по последнему TileDamageUpdate
func (c *WorldClient) TileDamage(pos vec.Vec2, layer tile.Layer) (tile.DamageStatus, bool) {
	s, ok := c.tileDamage[damageKey{pos: pos, layer: layer}]
	return s, ok
}

// TakeFailures отклонённые сервером изменения тайлов с прошлого вызова
func (c *WorldClient) TakeFailures() []tile.ModificationList {
	out := c.failures
	c.failures = nil
	return out
}

// TakeChat полученные сообщения чата с прошлого вызова
func (c *WorldClient) TakeChat() []protocol.ChatReceive {
	out := c.chat
	c.chat = nil
	return out
}

// ResyncCount сколько раз клиент запрашивал повторную синхронизацию
func (c *WorldClient) ResyncCount() int { return c.resyncs }

// SetWindow окно видимости; серверу уходит на следующем Update
func (c *WorldClient) SetWindow(window vec.RectI) {
	if window != c.window {
		c.window = window
		c.stateDirty = true
	}
}

// SetPlayer сущность игрока, вокруг которой работает локальный чат
func (c *WorldClient) SetPlayer(id entity.EntityID) {
	if id != c.playerID {
		c.playerID = id
		c.stateDirty = true
	}
}

// TakeOutgoing пакеты для отправки серверу
func (c *WorldClient) TakeOutgoing() []protocol.Packet {
	out := c.outgoing
	c.outgoing = nil
	return out
}

func (c *WorldClient) send(packets ...protocol.Packet) {
	c.outgoing = append(c.outgoing, packets...)
}

// interpolationTime на сколько растягивается применение дельты ведомой копии
func (c *WorldClient) interpolationTime() float64 {
	return float64(c.opts.InterpolationSteps) * c.opts.StepDt
}

// Update тик клиента: мастера, ведомые копии, попадания, дельты и сроки запросов
func (c *WorldClient) Update(dt float64) {
	if !c.inWorld {
		return
	}
	c.sinceStep += dt
	c.clock += dt

	if c.stateDirty {
		c.send(&protocol.WorldClientStateUpdate{Window: c.window, PlayerID: c.playerID})
		c.stateDirty = false
	}

	step := c.serverStep
	for _, e := range c.entities.Entities() {
		if !e.InWorld() {
			continue
		}
		e.Update(dt, step)
		c.entities.UpdateSpatial(e.EntityID())
	}
	c.collectHits()
	c.sendMasters()
	c.expireMessages()
}

// sendMasters создание, дельты и удаление мастеров клиента
func (c *WorldClient) sendMasters() {
	deltas := make(map[entity.EntityID]protocol.EntityDelta)
	for _, e := range c.entities.Entities() {
		id := e.EntityID()
		if !e.EntityMode().IsMaster() {
			continue
		}
		if e.ShouldDestroy() {
			e.Destroy()
			var final []byte
			if ver, ok := c.sent[id]; ok {
				final, _ = e.WriteNetState(ver, c.rules)
			}
			death := false
			if d, ok := entity.As[entity.DamageableEntity](e); ok {
				death = d.Dead()
			}
			c.entities.Remove(id)
			delete(c.sent, id)
			e.Uninit()
			c.send(&protocol.EntityDestroy{EntityID: id, FinalNetState: final, Death: death})
			continue
		}

		ver, known := c.sent[id]
		if !known {
			first, v := e.WriteNetState(0, c.rules)
			c.send(&protocol.EntityCreate{
				EntityType:    e.EntityType(),
				StoreData:     e.NetStore(c.rules),
				FirstNetState: first,
				EntityID:      id,
			})
			c.sent[id] = v
		} else {
			delta, v := e.WriteNetState(ver, c.rules)
			c.sent[id] = v
			if len(delta) > 0 {
				deltas[id] = protocol.EntityDelta{Version: v, Delta: delta}
			}
		}
		e.IncrementNetVersion()
	}
	if len(deltas) > 0 {
		c.send(&protocol.EntityUpdateSet{ForConnection: c.clientID, Deltas: deltas})
	}
}

// collectHits попадания мастеров клиента: свои цели получают урон сразу,
// чужие уходят серверу HitRequest
func (c *WorldClient) collectHits() {
	geo := c.entities.Geometry()
	for key, until := range c.hitRepeats {
		if until <= c.clock {
			delete(c.hitRepeats, key)
		}
	}
	for _, e := range c.entities.Entities() {
		if !e.EntityMode().IsMaster() {
			continue
		}
		de, ok := entity.As[entity.DamagingEntity](e)
		if !ok {
			continue
		}
		for _, src := range de.DamageSources() {
			if len(src.Area) == 0 {
				continue
			}
			box := src.Area.BoundBox()
			center := box.Center()
			for _, cand := range c.entities.Query(box, func(x entity.Entity) bool {
				_, ok := entity.As[entity.DamageableEntity](x)
				return ok && x.EntityID() != e.EntityID()
			}) {
				target := cand.(entity.DamageableEntity)
				hit, ok := target.QueryHit(src)
				if !ok {
					continue
				}
				poly, ok := target.HitPoly()
				if !ok {
					continue
				}
				pc := poly.Center()
				poly = poly.Translated(geo.Nearest(center, pc).Sub(pc))
				if !src.Intersects(poly) {
					continue
				}
				key := [2]entity.EntityID{e.EntityID(), cand.EntityID()}
				if until, ok := c.hitRepeats[key]; ok && c.clock < until {
					continue
				}
				timeout := src.RepeatTimeout
				if timeout <= 0 {
					timeout = 1
				}
				c.hitRepeats[key] = c.clock + timeout

				req := entity.RequestFrom(src, hit, geo.DiffF(poly.Center(), center))
				de.HitOther(cand.EntityID(), req)
				if cand.EntityMode().IsMaster() {
					for _, n := range target.ApplyDamage(req) {
						de.DamagedOther(n)
						c.send(&protocol.DamageNotification{Notification: n})
					}
					continue
				}
				c.send(&protocol.HitRequest{CausingEntityID: e.EntityID(), TargetEntityID: cand.EntityID(), Request: req})
			}
		}
	}
}

// expireMessages завершает ошибкой сообщения без ответа
func (c *WorldClient) expireMessages() {
	var expired []uuid.UUID
	for id, m := range c.messages {
		if m.expires <= c.clock {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].String() < expired[j].String() })
	for _, id := range expired {
		m := c.messages[id]
		delete(c.messages, id)
		m.promise.Fail(entity.ErrMessageExpired)
	}
}

// HandlePackets применяет пакеты сервера в порядке прихода
func (c *WorldClient) HandlePackets(packets []protocol.Packet) error {
	for _, p := range packets {
		if err := c.handlePacket(p); err != nil {
			return fmt.Errorf("%s: %w", p.Type(), err)
		}
	}
	return nil
}

func (c *WorldClient) startWorld(p *protocol.WorldStart) error {
	var t template.WorldTemplate
	if err := json.Unmarshal(p.TemplateData, &t); err != nil {
		return fmt.Errorf("шаблон мира: %w", err)
	}
	props := make(map[string]interface{})
	if len(p.WorldProperties) > 0 {
		if err := json.Unmarshal(p.WorldProperties, &props); err != nil {
			return fmt.Errorf("свойства мира: %w", err)
		}
	}

	c.clearEntities()
	w, h := t.Size()
	c.template = &t
	c.tiles = world.NewTileWorld(w, h, c.opts.Registry)
	lo, hi := entity.ClientIDRange(p.ClientID)
	c.entities = entity.NewMap(t.Geometry(), lo, hi)
	c.env = template.NewEnvironment()
	if err := c.env.LoadSky(p.SkyData, c.rules); err != nil {
		return fmt.Errorf("небо: %w", err)
	}
	if err := c.env.LoadWeather(p.WeatherData, c.rules); err != nil {
		return fmt.Errorf("погода: %w", err)
	}
	for _, id := range p.ProtectedDungeonIDs {
		c.tiles.SetProtected(id, true)
	}

	c.clientID = p.ClientID
	c.properties = props
	c.playerStart = p.PlayerStart
	c.sent = make(map[entity.EntityID]uint64)
	c.tileDamage = make(map[damageKey]tile.DamageStatus)
	c.inWorld = true
	c.stopped = ""
	c.stateDirty = true
	c.logger.Info("🎮 Мир %dx%d, клиент %d, сид %d", w, h, c.clientID, t.Seed())
	return nil
}
