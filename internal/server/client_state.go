package server

import (
	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/entity"
)

// clientState всё, что сервер мира помнит о подключённом клиенте
type clientState struct {
	id         entity.ConnectionID
	rules      netelement.CompatibilityRules
	playerName string
	playerUUID uuid.UUID
	account    string
	// privileged учётная запись администратора; защита подземелий не действует
	privileged bool

	// window окно видимости клиента в клетках; пустое до первого WorldClientStateUpdate
	window   vec.RectI
	playerID entity.EntityID

	tiles *world.TileUpdateTracker
	// known версии сущностей, которые клиент уже получил
	known map[entity.EntityID]uint64

	skyVersion     uint64
	weatherVersion uint64

	outgoing []protocol.Packet
}

func newClientState(id entity.ConnectionID, connect *protocol.ClientConnect, rules netelement.CompatibilityRules, privileged bool) *clientState {
	c := &clientState{
		id:         id,
		rules:      rules,
		privileged: privileged,
		tiles:      world.NewTileUpdateTracker(),
		known:      make(map[entity.EntityID]uint64),
	}
	if connect != nil {
		c.playerName = connect.PlayerName
		c.playerUUID = connect.PlayerUUID
		c.account = connect.Account
	}
	return c
}

func (c *clientState) send(packets ...protocol.Packet) {
	c.outgoing = append(c.outgoing, packets...)
}

func (c *clientState) take() []protocol.Packet {
	out := c.outgoing
	c.outgoing = nil
	return out
}

// owns сущность принадлежит этому клиенту
func (c *clientState) owns(id entity.EntityID) bool {
	return id < 0 && entity.ConnectionForEntity(id) == c.id
}

// windowF окно видимости в координатах мира
func (c *clientState) windowF() vec.RectF {
	return vec.NewRectF(float64(c.window.Min.X), float64(c.window.Min.Y), float64(c.window.Max.X), float64(c.window.Max.Y))
}

// sees позиция попадает в окно видимости с учётом заворачивания по x
func (c *clientState) sees(geo vec.Geometry, pos vec.Vec2) bool {
	if c.window.IsEmpty() {
		return false
	}
	for _, r := range geo.SplitRect(c.window) {
		if r.Contains(geo.Wrap(pos)) {
			return true
		}
	}
	return false
}
