package server

import (
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

// wireEntityAt мастер с проводными узлами, занимающий клетку pos
func (s *WorldServer) wireEntityAt(pos vec.Vec2) (entity.WireEntity, vec.Vec2, bool) {
	for _, te := range s.entities.TileEntitiesAt(pos) {
		if !te.EntityMode().IsMaster() {
			continue
		}
		if we, ok := entity.As[entity.WireEntity](te); ok {
			return we, te.TilePosition(), true
		}
	}
	return nil, vec.Vec2{}, false
}

func validNode(we entity.WireEntity, node entity.WireNode) bool {
	return node.Index >= 0 && node.Index < we.NodeCount(node.Direction)
}

// connectWire соединяет выход с входом; обе стороны хранят обратную ссылку
func (s *WorldServer) connectWire(output, input entity.WireConnection) bool {
	out, outPos, ok := s.wireEntityAt(output.EntityLocation)
	if !ok {
		return false
	}
	in, inPos, ok := s.wireEntityAt(input.EntityLocation)
	if !ok {
		return false
	}
	outNode := entity.WireNode{Direction: entity.WireOutput, Index: output.NodeIndex}
	inNode := entity.WireNode{Direction: entity.WireInput, Index: input.NodeIndex}
	if !validNode(out, outNode) || !validNode(in, inNode) {
		return false
	}
	out.AddNodeConnection(outNode, entity.WireConnection{EntityLocation: inPos, NodeIndex: input.NodeIndex})
	in.AddNodeConnection(inNode, entity.WireConnection{EntityLocation: outPos, NodeIndex: output.NodeIndex})
	return true
}

// disconnectAllWires снимает все провода узла вместе с обратными ссылками
func (s *WorldServer) disconnectAllWires(pos vec.Vec2, node entity.WireNode) bool {
	we, base, ok := s.wireEntityAt(pos)
	if !ok || !validNode(we, node) {
		return false
	}
	opposite := entity.WireInput
	if node.Direction == entity.WireInput {
		opposite = entity.WireOutput
	}
	for _, conn := range we.ConnectionsForNode(node) {
		if other, _, ok := s.wireEntityAt(conn.EntityLocation); ok {
			other.RemoveNodeConnection(
				entity.WireNode{Direction: opposite, Index: conn.NodeIndex},
				entity.WireConnection{EntityLocation: base, NodeIndex: node.Index},
			)
		}
	}
	we.RemoveAllConnections(node)
	return true
}

// propagateWires уровень входа равен ИЛИ уровней подключённых выходов
func (s *WorldServer) propagateWires() {
	for _, e := range s.entities.Entities() {
		if !e.EntityMode().IsMaster() {
			continue
		}
		we, ok := entity.As[entity.WireEntity](e)
		if !ok {
			continue
		}
		for i := 0; i < we.NodeCount(entity.WireInput); i++ {
			node := entity.WireNode{Direction: entity.WireInput, Index: i}
			level := false
			for _, conn := range we.ConnectionsForNode(node) {
				src, _, ok := s.wireEntityAt(conn.EntityLocation)
				if ok && src.NodeState(entity.WireNode{Direction: entity.WireOutput, Index: conn.NodeIndex}) {
					level = true
					break
				}
			}
			we.SetInputState(i, level)
		}
	}
}
