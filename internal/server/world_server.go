// Package server реализует авторитетный сервер мира: приём намерений
// клиентов, симуляцию тайлов и сущностей, репликацию состояния и
// маршрутизацию сообщений между владельцами сущностей.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/eventbus"
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

// DefaultMessageTimeout срок ожидания ответа на сообщение или взаимодействие
const DefaultMessageTimeout = 30 * time.Second

// UniqueIndex внешний каталог уникальных сущностей. Вызовы не должны блокировать тик.
type UniqueIndex interface {
	Put(uniqueID string, id entity.EntityID, pos vec.Vec2F)
	Delete(uniqueID string)
}

// Options параметры сервера мира
type Options struct {
	Name     string
	Template *template.WorldTemplate
	Registry *tile.Registry
	Factory  *entity.Factory
	// Lua nil создаёт собственный движок, закрываемый в Close
	Lua    *luaengine.Engine
	Assets *assets.Assets

	TickRate       int
	MessageTimeout time.Duration
	Protected      []tile.DungeonID
	// Generate заполняет пустой мир по шаблону
	Generate bool

	Bus     eventbus.EventBus
	Uniques UniqueIndex
	Metrics *Metrics
}

type dyingEntity struct {
	e     entity.Entity
	death bool
}

// WorldServer авторитетный мир. Все методы вызываются из горутины тика
// network.GameServer (в том числе через GameServer.Do).
type WorldServer struct {
	name     string
	template *template.WorldTemplate
	tiles    *world.TileWorld
	entities *entity.Map
	factory  *entity.Factory
	lua      *luaengine.Engine
	ownsLua  bool
	assets   *assets.Assets
	env      *template.Environment

	dt       float64
	step     uint64
	time     float64
	stepOpen bool

	clients map[entity.ConnectionID]*clientState

	properties   map[string]interface{}
	changedProps map[string]bool
	playerStart  *vec.Vec2F

	router       *messageRouter
	damage       *damageManager
	dying        []dyingEntity
	tileDamage   []world.TileDamageResult
	notifyDamage []entity.DamageNotification

	uniques     UniqueIndex
	knownUnique map[string]entity.EntityID

	bus     eventbus.EventBus
	busSub  eventbus.Subscription
	relayed chan eventbus.ChatMessage
	events  chan *eventbus.Envelope
	stop    context.CancelFunc

	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger
}

// NewWorldServer создаёт мир по шаблону
func NewWorldServer(opts Options) (*WorldServer, error) {
	if opts.Template == nil {
		return nil, fmt.Errorf("сервер мира без шаблона")
	}
	if opts.Registry == nil {
		opts.Registry = tile.DefaultRegistry()
	}
	if opts.Factory == nil {
		opts.Factory = entity.NewFactory(entity.Deps{Assets: opts.Assets})
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}
	if opts.Name == "" {
		opts.Name = "world"
	}

	w, h := opts.Template.Size()
	minID, maxID := entity.ServerIDRange()
	s := &WorldServer{
		name:         opts.Name,
		template:     opts.Template,
		tiles:        world.NewTileWorld(w, h, opts.Registry),
		entities:     entity.NewMap(opts.Template.Geometry(), minID, maxID),
		factory:      opts.Factory,
		lua:          opts.Lua,
		assets:       opts.Assets,
		env:          template.NewEnvironment(),
		dt:           1 / float64(opts.TickRate),
		clients:      make(map[entity.ConnectionID]*clientState),
		properties:   make(map[string]interface{}),
		changedProps: make(map[string]bool),
		router:       newMessageRouter(opts.MessageTimeout.Seconds()),
		damage:       newDamageManager(),
		uniques:      opts.Uniques,
		knownUnique:  make(map[string]entity.EntityID),
		bus:          opts.Bus,
		relayed:      make(chan eventbus.ChatMessage, 64),
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("tileverse/server"),
		logger:       logging.GetComponentLogger("world"),
	}
	if s.lua == nil {
		s.lua = luaengine.NewEngine(luaengine.DefaultConfig())
		s.ownsLua = true
	}
	for _, id := range opts.Protected {
		s.tiles.SetProtected(id, true)
	}
	if opts.Generate {
		s.template.Generate(s.tiles)
	}
	s.env.Update(s.template, s.time)

	if s.bus != nil {
		if err := s.startBus(); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.logger.Info("🚀 Мир %q создан: %dx%d, сид %d", s.name, w, h, s.template.Seed())
	return s, nil
}

func (s *WorldServer) startBus() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.events = make(chan *eventbus.Envelope, 256)

	sub, err := s.bus.Subscribe(ctx, eventbus.Filter{
		Types:         []string{eventbus.EventChatMessage},
		ExcludeSource: s.name,
	}, func(_ context.Context, ev *eventbus.Envelope) {
		msg, err := eventbus.Decode[eventbus.ChatMessage](ev)
		if err != nil {
			s.logger.Warn("⚠️ Некорректное сообщение чата из шины: %v", err)
			return
		}
		select {
		case s.relayed <- msg:
		default:
			s.logger.Warn("⚠️ Очередь чата из шины переполнена, сообщение от %s отброшено", msg.FromNick)
		}
	})
	if err != nil {
		return fmt.Errorf("подписка на чат: %w", err)
	}
	s.busSub = sub

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.events:
				if err := s.bus.Publish(ctx, ev); err != nil {
					s.logger.Warn("⚠️ Публикация %s: %v", ev.EventType, err)
				}
			}
		}
	}()
	return nil
}

// publish ставит событие в очередь публикации; тик не ждёт шину
func (s *WorldServer) publish(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(s.name, eventType, payload)
	if err != nil {
		s.logger.Error("❌ Событие %s: %v", eventType, err)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("⚠️ Очередь событий переполнена, %s отброшено", eventType)
	}
}

// Close освобождает движок Lua и подписки
func (s *WorldServer) Close() {
	if s.busSub != nil {
		s.busSub.Unsubscribe()
	}
	if s.stop != nil {
		s.stop()
	}
	for _, e := range s.entities.Entities() {
		e.Uninit()
		s.entities.Remove(e.EntityID())
	}
	if s.ownsLua {
		s.lua.Close()
	}
	s.logger.Info("👋 Мир %q закрыт", s.name)
}

// Name имя мира
func (s *WorldServer) Name() string { return s.name }

// Template шаблон мира
func (s *WorldServer) Template() *template.WorldTemplate { return s.template }

// Tiles тайловый мир
func (s *WorldServer) Tiles() *world.TileWorld { return s.tiles }

// Entities карта сущностей
func (s *WorldServer) Entities() *entity.Map { return s.entities }

// Factory фабрика сущностей
func (s *WorldServer) Factory() *entity.Factory { return s.factory }

// Environment небо и погода
func (s *WorldServer) Environment() *template.Environment { return s.env }

// ClientIDs подключённые клиенты по возрастанию
func (s *WorldServer) ClientIDs() []entity.ConnectionID {
	ids := make([]entity.ConnectionID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddClient регистрирует клиента и ставит в очередь WorldStart.
// privileged клиент может менять защищённые подземелья.
func (s *WorldServer) AddClient(id entity.ConnectionID, connect *protocol.ClientConnect, rules netelement.CompatibilityRules, privileged bool) error {
	if _, exists := s.clients[id]; exists {
		return fmt.Errorf("клиент %d уже в мире", id)
	}
	if id == entity.ServerConnectionID || id > entity.MaxClientConnection {
		return fmt.Errorf("недопустимый id соединения %d", id)
	}

	c := newClientState(id, connect, rules, privileged)
	templateData, err := json.Marshal(s.template)
	if err != nil {
		return fmt.Errorf("шаблон мира: %w", err)
	}
	props, err := json.Marshal(s.properties)
	if err != nil {
		return fmt.Errorf("свойства мира: %w", err)
	}
	sky, skyVer := s.env.StoreSky(rules)
	weather, weatherVer := s.env.StoreWeather(rules)
	c.skyVersion, c.weatherVersion = skyVer, weatherVer

	c.send(&protocol.WorldStart{
		TemplateData:        templateData,
		SkyData:             sky,
		WeatherData:         weather,
		PlayerStart:         s.PlayerStart(),
		WorldProperties:     props,
		ClientID:            id,
		ProtectedDungeonIDs: s.tiles.ProtectedIDs(),
	})
	s.clients[id] = c

	s.logger.Info("🤝 Клиент %d (%s) вошёл в мир %q", id, c.playerName, s.name)
	s.publish(eventbus.EventPlayerJoined, eventbus.PlayerPresence{
		World: s.name, ClientID: id, PlayerName: c.playerName, PlayerUUID: c.playerUUID,
	})
	return nil
}

// RemoveClient удаляет клиента вместе с его сущностями
func (s *WorldServer) RemoveClient(id entity.ConnectionID) {
	c, ok := s.clients[id]
	if !ok {
		return
	}
	s.beginStep()
	delete(s.clients, id)

	var lastPos *vec.Vec2F
	if c.playerID != entity.NullEntityID {
		if player := s.entities.Get(c.playerID); player != nil {
			pos := player.Position()
			lastPos = &pos
		}
	}
	for _, e := range s.entities.Entities() {
		if c.owns(e.EntityID()) {
			s.removeEntity(e, false)
		}
	}
	s.router.dropConnection(id, s)

	s.logger.Info("👋 Клиент %d (%s) покинул мир %q", id, c.playerName, s.name)
	s.publish(eventbus.EventPlayerLeft, eventbus.PlayerPresence{
		World: s.name, ClientID: id, PlayerName: c.playerName, PlayerUUID: c.playerUUID,
		Position: lastPos,
	})
}

// HandleIncomingPackets шаг 1 тика: намерения клиента в порядке прихода.
// Ошибка означает нарушение протокола, клиент отключается.
func (s *WorldServer) HandleIncomingPackets(id entity.ConnectionID, packets []protocol.Packet) error {
	c, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("клиент %d не в мире", id)
	}
	s.beginStep()
	for _, p := range packets {
		if err := s.handleIntent(c, p); err != nil {
			return fmt.Errorf("%s от клиента %d: %w", p.Type(), id, err)
		}
	}
	return nil
}

// GetOutgoingPackets забирает пакеты, накопленные для клиента
func (s *WorldServer) GetOutgoingPackets(id entity.ConnectionID) []protocol.Packet {
	c, ok := s.clients[id]
	if !ok {
		return nil
	}
	return c.take()
}

// beginStep открывает тик при первом обращении: номер, время и сроки сообщений
func (s *WorldServer) beginStep() {
	if s.stepOpen {
		return
	}
	s.stepOpen = true
	s.step++
	s.time = float64(s.step) * s.dt
	s.tiles.BeginTick(s.step, s.time)

	if n := s.router.expire(s.time, s); n > 0 {
		for i := 0; i < n; i++ {
			s.metrics.messageExpired()
		}
	}
	s.drainRelayedChat()
}

// Update шаги 2-7 тика
func (s *WorldServer) Update(dt float64) {
	if dt > 0 {
		s.dt = dt
	}
	_, span := s.tracer.Start(context.Background(), "world.step")
	defer span.End()

	s.beginStep()
	span.SetAttributes(attribute.Int64("world.step", int64(s.step)), attribute.String("world.name", s.name))

	s.timed("masters", s.updateMasters)
	s.timed("bookkeeping", s.bookkeeping)
	s.timed("tiles", s.simulateTiles)
	s.timed("slaves", s.updateSlaves)
	s.timed("replication", s.replicate)
	s.timed("environment", s.flushEnvironment)

	s.finishStep()
}

func (s *WorldServer) timed(phase string, fn func()) {
	started := time.Now()
	fn()
	s.metrics.phase(phase, time.Since(started).Seconds())
}

// updateMasters шаг 2: мастера, провода и расчёт урона
func (s *WorldServer) updateMasters() {
	for _, e := range s.entities.Entities() {
		if !e.EntityMode().IsMaster() || !e.InWorld() {
			continue
		}
		e.Update(s.dt, s.step)
		s.entities.UpdateSpatial(e.EntityID())
	}
	s.propagateWires()
	s.damage.collect(s)
}

// bookkeeping шаг 3: удаление помеченных мастеров, доставка урона, уникальные id
func (s *WorldServer) bookkeeping() {
	for _, e := range s.entities.Entities() {
		if e.EntityMode().IsMaster() && e.ShouldDestroy() {
			e.Destroy()
			death := false
			if d, ok := entity.As[entity.DamageableEntity](e); ok {
				death = d.Dead()
			}
			s.removeEntity(e, death)
		}
	}
	s.damage.deliver(s)
	s.syncUniques()
}

// simulateTiles шаг 4: жидкости и восстановление повреждений
func (s *WorldServer) simulateTiles() {
	res := s.tiles.Simulate(s.dt)
	s.tileDamage = append(s.tileDamage, res.Damage...)
}

// updateSlaves шаг 5: ведомые копии сущностей клиентов
func (s *WorldServer) updateSlaves() {
	for _, e := range s.entities.Entities() {
		if e.EntityMode().IsMaster() {
			continue
		}
		e.Update(s.dt, s.step)
		s.entities.UpdateSpatial(e.EntityID())
	}
}

// flushEnvironment шаг 7: небо, погода, свойства мира и StepUpdate
func (s *WorldServer) flushEnvironment() {
	s.env.Update(s.template, s.time)

	var props json.RawMessage
	if len(s.changedProps) > 0 {
		changed := make(map[string]interface{}, len(s.changedProps))
		for name := range s.changedProps {
			changed[name] = s.properties[name]
		}
		data, err := json.Marshal(changed)
		if err != nil {
			s.logger.Error("❌ Свойства мира: %v", err)
		} else {
			props = data
		}
	}

	for _, id := range s.ClientIDs() {
		c := s.clients[id]
		sky, skyVer, weather, weatherVer := s.env.WriteDeltas(c.skyVersion, c.weatherVersion, c.rules)
		c.skyVersion, c.weatherVersion = skyVer, weatherVer
		if len(sky) > 0 || len(weather) > 0 {
			c.send(&protocol.EnvironmentUpdate{SkyDelta: sky, WeatherDelta: weather})
		}
		if props != nil {
			c.send(&protocol.UpdateWorldProperties{Updated: props})
		}
		c.send(&protocol.StepUpdate{Step: s.step, RemoteTime: s.time})
	}
}

// finishStep закрывает тик: версии сетевых состояний и выбывшие сущности
func (s *WorldServer) finishStep() {
	masters, slaves := 0, 0
	for _, e := range s.entities.Entities() {
		e.IncrementNetVersion()
		if e.EntityMode().IsMaster() {
			masters++
		} else {
			slaves++
		}
	}
	s.env.IncrementVersions()
	for _, d := range s.dying {
		d.e.Uninit()
	}
	s.dying = nil
	s.tileDamage = nil
	s.notifyDamage = nil
	s.changedProps = make(map[string]bool)
	s.stepOpen = false
	s.metrics.setEntities(masters, slaves)
}

// removeEntity убирает сущность из карты; клиенты узнают об этом на шаге 6
func (s *WorldServer) removeEntity(e entity.Entity, death bool) {
	if _, ok := s.entities.Remove(e.EntityID()); !ok {
		return
	}
	s.dying = append(s.dying, dyingEntity{e: e, death: death})
}

func (s *WorldServer) syncUniques() {
	seen := make(map[string]bool, len(s.knownUnique))
	for _, e := range s.entities.Entities() {
		uid := e.UniqueID()
		if uid == "" {
			continue
		}
		seen[uid] = true
		if prev, ok := s.knownUnique[uid]; ok && prev == e.EntityID() {
			continue
		}
		s.knownUnique[uid] = e.EntityID()
		if s.uniques != nil {
			s.uniques.Put(uid, e.EntityID(), e.Position())
		}
	}
	for uid := range s.knownUnique {
		if seen[uid] {
			continue
		}
		delete(s.knownUnique, uid)
		if s.uniques != nil {
			s.uniques.Delete(uid)
		}
	}
}

func (s *WorldServer) drainRelayedChat() {
	for {
		select {
		case msg := <-s.relayed:
			mode, channel := protocol.ChatWorld, msg.World
			if msg.World == eventbus.AllWorlds {
				mode, channel = protocol.ChatBroadcast, msg.Channel
			}
			for _, id := range s.ClientIDs() {
				s.clients[id].send(&protocol.ChatReceive{
					Mode:     mode,
					Channel:  channel,
					FromNick: msg.FromNick,
					Text:     msg.Text,
				})
			}
		default:
			return
		}
	}
}

// SpawnItemDrop выбрасывает предмет в точке мира
func (s *WorldServer) SpawnItemDrop(name string, count uint64, pos vec.Vec2F) (entity.EntityID, error) {
	drop := entity.NewItemDrop(entity.ItemDropConfig{Item: entity.ItemDescriptor{Name: name, Count: count}})
	drop.SetPosition(pos)
	return s.AddEntity(drop)
}

// PlayerStart точка появления: задана подземельем или взята из шаблона
func (s *WorldServer) PlayerStart() vec.Vec2F {
	if s.playerStart != nil {
		return *s.playerStart
	}
	return s.template.PlayerStart()
}

// Step номер текущего тика
func (s *WorldServer) Step() uint64 { return s.step }

// newRequestID uuid для запросов, которые сервер отправляет сам
func newRequestID() uuid.UUID { return uuid.New() }
