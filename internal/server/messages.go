package server

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/world/entity"
)

type routeKind uint8

const (
	routeMessage routeKind = iota
	routeInteract
)

// pendingRoute запрос, ожидающий ответа владельца сущности
type pendingRoute struct {
	kind routeKind
	// requester ServerConnectionID означает, что ответ ждёт promise
	requester entity.ConnectionID
	owner     entity.ConnectionID
	promise   *entity.MessagePromise
	// source сущность-инициатор взаимодействия
	source  entity.EntityID
	expires float64
}

// messageRouter таблица маршрутов ответов по uuid запроса
type messageRouter struct {
	timeout float64
	pending map[uuid.UUID]*pendingRoute
}

func newMessageRouter(timeout float64) *messageRouter {
	return &messageRouter{timeout: timeout, pending: make(map[uuid.UUID]*pendingRoute)}
}

func (r *messageRouter) add(id uuid.UUID, route *pendingRoute, now float64) {
	route.expires = now + r.timeout
	r.pending[id] = route
}

// take забирает маршрут, если ответ пришёл от ожидаемого владельца
func (r *messageRouter) take(id uuid.UUID, from entity.ConnectionID) (*pendingRoute, bool) {
	route, ok := r.pending[id]
	if !ok || route.owner != from {
		return nil, false
	}
	delete(r.pending, id)
	return route, true
}

func (r *messageRouter) len() int { return len(r.pending) }

// sortedIDs uuid маршрутов в порядке истечения
func (r *messageRouter) sortedIDs(match func(*pendingRoute) bool) []uuid.UUID {
	var ids []uuid.UUID
	for id, route := range r.pending {
		if match(route) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.pending[ids[i]], r.pending[ids[j]]
		if a.expires != b.expires {
			return a.expires < b.expires
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// expire завершает просроченные маршруты ошибкой; возвращает их число
func (r *messageRouter) expire(now float64, s *WorldServer) int {
	ids := r.sortedIDs(func(route *pendingRoute) bool { return route.expires <= now })
	for _, id := range ids {
		route := r.pending[id]
		delete(r.pending, id)
		s.failRoute(id, route, entity.ErrMessageExpired)
	}
	return len(ids)
}

// dropConnection забывает запросы отключившегося клиента и завершает ошибкой
// запросы, ждавшие от него ответа
func (r *messageRouter) dropConnection(conn entity.ConnectionID, s *WorldServer) {
	ids := r.sortedIDs(func(route *pendingRoute) bool {
		return route.owner == conn || route.requester == conn
	})
	for _, id := range ids {
		route := r.pending[id]
		delete(r.pending, id)
		if route.requester == conn {
			continue
		}
		s.failRoute(id, route, entity.ErrEntityNotFound)
	}
}

func (s *WorldServer) failRoute(id uuid.UUID, route *pendingRoute, err error) {
	switch route.kind {
	case routeInteract:
		if c, ok := s.clients[route.requester]; ok {
			c.send(&protocol.EntityInteractResult{Action: entity.NoInteraction(), RequestID: id, SourceEntityID: route.source})
		}
	default:
		if route.requester == entity.ServerConnectionID {
			if route.promise != nil {
				route.promise.Fail(err)
			}
			return
		}
		if c, ok := s.clients[route.requester]; ok {
			c.send(&protocol.EntityMessageResponse{Error: err.Error(), UUID: id})
		}
	}
}

// resolveTarget id адресата сообщения
func (s *WorldServer) resolveTarget(target entity.MessageTarget) (entity.EntityID, bool) {
	if target.IsUnique() {
		return s.entities.FindUnique(target.UniqueID)
	}
	if s.entities.Get(target.ID) == nil {
		return entity.NullEntityID, false
	}
	return target.ID, true
}

// deliverLocal вызывает обработчик сущности в этом процессе
func deliverLocal(e entity.Entity, sender entity.ConnectionID, message string, args []interface{}) (interface{}, error) {
	result, handled, err := e.ReceiveMessage(sender, message, args)
	if err != nil {
		return nil, err
	}
	if !handled {
		return nil, entity.ErrMessageUnhandled
	}
	return result, nil
}

func messageResponse(id uuid.UUID, result interface{}, err error) *protocol.EntityMessageResponse {
	resp := &protocol.EntityMessageResponse{UUID: id}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		resp.Error = merr.Error()
		return resp
	}
	resp.Result = data
	return resp
}

// handleEntityMessage сообщение клиента: локальная доставка или пересылка владельцу
func (s *WorldServer) handleEntityMessage(c *clientState, p *protocol.EntityMessage) {
	id, ok := s.resolveTarget(p.Target)
	if !ok {
		c.send(messageResponse(p.UUID, nil, entity.ErrEntityNotFound))
		return
	}
	owner := entity.ConnectionForEntity(id)
	if owner == entity.ServerConnectionID || owner == c.id {
		s.metrics.messageRouted("local")
		result, err := deliverLocal(s.entities.Get(id), c.id, p.Message, p.Args)
		c.send(messageResponse(p.UUID, result, err))
		return
	}

	target, ok := s.clients[owner]
	if !ok {
		c.send(messageResponse(p.UUID, nil, entity.ErrEntityNotFound))
		return
	}
	s.metrics.messageRouted("forward")
	s.router.add(p.UUID, &pendingRoute{kind: routeMessage, requester: c.id, owner: owner}, s.time)
	target.send(&protocol.EntityMessage{
		Target:         entity.TargetID(id),
		Message:        p.Message,
		Args:           p.Args,
		UUID:           p.UUID,
		FromConnection: c.id,
	})
}

// handleMessageResponse ответ владельца на пересланное сообщение
func (s *WorldServer) handleMessageResponse(c *clientState, p *protocol.EntityMessageResponse) {
	route, ok := s.router.take(p.UUID, c.id)
	if !ok || route.kind != routeMessage {
		s.logger.Debug("Ответ %s от клиента %d без ожидающего запроса", p.UUID, c.id)
		return
	}
	if route.requester == entity.ServerConnectionID {
		if p.Error != "" {
			route.promise.Fail(errors.New(p.Error))
			return
		}
		var result interface{}
		if len(p.Result) > 0 {
			if err := json.Unmarshal(p.Result, &result); err != nil {
				route.promise.Fail(err)
				return
			}
		}
		route.promise.Fulfill(result)
		return
	}
	if requester, ok := s.clients[route.requester]; ok {
		requester.send(&protocol.EntityMessageResponse{Result: p.Result, Error: p.Error, UUID: p.UUID})
	}
}

// SendEntityMessage сообщение от имени сервера; удалённые адресаты отвечают через promise
func (s *WorldServer) SendEntityMessage(source entity.EntityID, target entity.MessageTarget, message string, args []interface{}) *entity.MessagePromise {
	id, ok := s.resolveTarget(target)
	if !ok {
		return entity.ResolvedPromise(nil, entity.ErrEntityNotFound)
	}
	owner := entity.ConnectionForEntity(id)
	if owner == entity.ServerConnectionID {
		s.metrics.messageRouted("local")
		result, err := deliverLocal(s.entities.Get(id), entity.ServerConnectionID, message, args)
		return entity.ResolvedPromise(result, err)
	}
	c, ok := s.clients[owner]
	if !ok {
		return entity.ResolvedPromise(nil, entity.ErrEntityNotFound)
	}
	s.metrics.messageRouted("forward")
	promise := entity.NewMessagePromise()
	reqID := newRequestID()
	s.router.add(reqID, &pendingRoute{kind: routeMessage, requester: entity.ServerConnectionID, owner: owner, promise: promise}, s.time)
	c.send(&protocol.EntityMessage{
		Target:         entity.TargetID(id),
		Message:        message,
		Args:           args,
		UUID:           reqID,
		FromConnection: entity.ServerConnectionID,
	})
	return promise
}

// handleInteract взаимодействие с сущностью сервера или пересылка владельцу
func (s *WorldServer) handleInteract(c *clientState, p *protocol.EntityInteract) {
	req := p.Request
	none := &protocol.EntityInteractResult{Action: entity.NoInteraction(), RequestID: p.RequestID, SourceEntityID: req.SourceID}

	target := s.entities.Get(req.TargetID)
	if target == nil {
		c.send(none)
		return
	}
	owner := entity.ConnectionForEntity(req.TargetID)
	switch {
	case owner == entity.ServerConnectionID:
		ie, ok := entity.As[entity.InteractiveEntity](target)
		if !ok || !ie.IsInteractive() {
			c.send(none)
			return
		}
		c.send(&protocol.EntityInteractResult{Action: ie.Interact(req), RequestID: p.RequestID, SourceEntityID: req.SourceID})
	case owner == c.id:
		c.send(none)
	default:
		ownerConn, ok := s.clients[owner]
		if !ok {
			c.send(none)
			return
		}
		s.router.add(p.RequestID, &pendingRoute{kind: routeInteract, requester: c.id, owner: owner, source: req.SourceID}, s.time)
		ownerConn.send(&protocol.EntityInteract{Request: req, RequestID: p.RequestID})
	}
}

// handleInteractResult ответ владельца на пересланное взаимодействие
func (s *WorldServer) handleInteractResult(c *clientState, p *protocol.EntityInteractResult) {
	route, ok := s.router.take(p.RequestID, c.id)
	if !ok || route.kind != routeInteract {
		return
	}
	if requester, ok := s.clients[route.requester]; ok {
		requester.send(&protocol.EntityInteractResult{Action: p.Action, RequestID: p.RequestID, SourceEntityID: route.source})
	}
}
