package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/cache"
	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

const (
	defaultEntityLimit = 100
	maxEntityLimit     = 1000
)

// WorldStatus состояние мира для /api/status
type WorldStatus struct {
	World    string                `json:"world"`
	Step     uint64                `json:"step"`
	Time     float64               `json:"time"`
	Ticks    uint64                `json:"ticks"`
	Clients  []entity.ConnectionID `json:"clients"`
	Entities int                   `json:"entities"`
	Process  interface{}           `json:"process,omitempty"`
}

// EntityInfo краткое описание сущности
type EntityInfo struct {
	ID         entity.EntityID `json:"id"`
	Type       string          `json:"type"`
	Mode       string          `json:"mode"`
	Position   [2]float64      `json:"position"`
	UniqueID   string          `json:"unique_id,omitempty"`
	Persistent bool            `json:"persistent"`
}

func describe(e entity.Entity) EntityInfo {
	pos := e.Position()
	return EntityInfo{
		ID:         e.EntityID(),
		Type:       e.EntityType().String(),
		Mode:       e.EntityMode().String(),
		Position:   [2]float64{pos.X, pos.Y},
		UniqueID:   e.UniqueID(),
		Persistent: e.Persistent(),
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	var status WorldStatus
	err := s.inWorld(c, func(w WorldView) error {
		status = WorldStatus{
			World:    w.Name(),
			Step:     w.Step(),
			Time:     w.Time(),
			Clients:  w.ClientIDs(),
			Entities: w.Entities().Len(),
		}
		return nil
	})
	if err != nil {
		s.worldError(c, err)
		return
	}
	status.Ticks = s.config.Game.TickCount()
	if s.config.Process != nil {
		status.Process = s.config.Process.Snapshot()
	}
	respondData(c, http.StatusOK, "Состояние мира", status)
}

// parseArea разбирает "x0,y0,x1,y1"
func parseArea(text string) (vec.RectF, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 4 {
		return vec.RectF{}, fmt.Errorf("ожидается x0,y0,x1,y1")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vec.RectF{}, fmt.Errorf("координата %q: %w", p, err)
		}
		v[i] = f
	}
	if v[2] < v[0] || v[3] < v[1] {
		return vec.RectF{}, fmt.Errorf("пустая область")
	}
	return vec.NewRectF(v[0], v[1], v[2], v[3]), nil
}

// handleEntities список сущностей: ?area=x0,y0,x1,y1&type=Npc&limit=100
func (s *Server) handleEntities(c *gin.Context) {
	limit := defaultEntityLimit
	if text := c.Query("limit"); text != "" {
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "Неверный limit")
			return
		}
		limit = min(n, maxEntityLimit)
	}
	var area *vec.RectF
	if text := c.Query("area"); text != "" {
		r, err := parseArea(text)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Неверная область: "+err.Error())
			return
		}
		area = &r
	}
	typeName := c.Query("type")
	filter := func(e entity.Entity) bool {
		return typeName == "" || e.EntityType().String() == typeName
	}

	var (
		infos []EntityInfo
		total int
	)
	err := s.inWorld(c, func(w WorldView) error {
		var found []entity.Entity
		if area != nil {
			found = w.Entities().Query(*area, filter)
		} else {
			for _, e := range w.Entities().Entities() {
				if filter(e) {
					found = append(found, e)
				}
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].EntityID() < found[j].EntityID() })
		total = len(found)
		if len(found) > limit {
			found = found[:limit]
		}
		infos = make([]EntityInfo, 0, len(found))
		for _, e := range found {
			infos = append(infos, describe(e))
		}
		return nil
	})
	if err != nil {
		s.worldError(c, err)
		return
	}
	respondData(c, http.StatusOK, "Сущности мира", gin.H{
		"entities": infos,
		"total":    total,
		"limit":    limit,
	})
}

func (s *Server) handleEntity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Неверный ID сущности")
		return
	}
	var (
		info  EntityInfo
		found bool
	)
	err = s.inWorld(c, func(w WorldView) error {
		if e := w.Entities().Get(entity.EntityID(id)); e != nil {
			info, found = describe(e), true
		}
		return nil
	})
	if err != nil {
		s.worldError(c, err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "Сущность не найдена")
		return
	}
	respondData(c, http.StatusOK, "Сущность найдена", info)
}

// handleUnique ищет уникальную сущность сначала в каталоге, затем в своём мире
func (s *Server) handleUnique(c *gin.Context) {
	world, uniqueID := c.Param("world"), c.Param("id")

	if s.config.Directory != nil {
		entry, err := s.config.Directory.Lookup(c.Request.Context(), world, uniqueID)
		if err == nil {
			respondData(c, http.StatusOK, "Найдено в каталоге", gin.H{
				"source":     "directory",
				"world":      entry.World,
				"unique_id":  entry.UniqueID,
				"entity_id":  entry.EntityID,
				"position":   [2]float64{entry.Position.X, entry.Position.Y},
				"updated_at": entry.UpdatedAt,
			})
			return
		}
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("⚠️ Каталог уникальных сущностей недоступен: %v", err)
		}
	}

	var (
		info  EntityInfo
		found bool
	)
	err := s.inWorld(c, func(w WorldView) error {
		if w.Name() != world {
			return nil
		}
		if id, ok := w.FindUniqueEntity(uniqueID); ok {
			if e := w.Entities().Get(id); e != nil {
				info, found = describe(e), true
			}
		}
		return nil
	})
	if err != nil {
		s.worldError(c, err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "Уникальная сущность не найдена")
		return
	}
	respondData(c, http.StatusOK, "Найдено в мире", gin.H{
		"source":    "world",
		"world":     world,
		"unique_id": uniqueID,
		"entity_id": info.ID,
		"position":  info.Position,
	})
}

func (s *Server) parsePlayer(c *gin.Context) (uuid.UUID, bool) {
	if s.config.Positions == nil {
		respondError(c, http.StatusServiceUnavailable, "Хранилище позиций не настроено")
		return uuid.Nil, false
	}
	player, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный UUID игрока")
		return uuid.Nil, false
	}
	return player, true
}

func (s *Server) handlePlayerPosition(c *gin.Context) {
	player, ok := s.parsePlayer(c)
	if !ok {
		return
	}
	pos, found, err := s.config.Positions.Load(c.Request.Context(), player)
	if err != nil {
		s.logger.Error("❌ Загрузка позиции %s: %v", player, err)
		respondError(c, http.StatusInternalServerError, "Ошибка хранилища позиций")
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "Позиция игрока не сохранена")
		return
	}
	respondData(c, http.StatusOK, "Позиция игрока", gin.H{
		"player_uuid": pos.PlayerUUID,
		"world":       pos.World,
		"position":    [2]float64{pos.Position.X, pos.Position.Y},
		"updated_at":  pos.UpdatedAt,
	})
}

func (s *Server) handleDeletePlayerPosition(c *gin.Context) {
	player, ok := s.parsePlayer(c)
	if !ok {
		return
	}
	if err := s.config.Positions.Delete(c.Request.Context(), player); err != nil {
		s.logger.Error("❌ Удаление позиции %s: %v", player, err)
		respondError(c, http.StatusInternalServerError, "Ошибка хранилища позиций")
		return
	}
	s.logger.Info("🗑️ %s сбросил позицию игрока %s", adminName(c), player)
	respondData(c, http.StatusOK, "Позиция игрока сброшена", nil)
}

// KickRequest отключение клиента
type KickRequest struct {
	ClientID uint16 `json:"client_id" binding:"required"`
	Reason   string `json:"reason"`
}

func (s *Server) handleKick(c *gin.Context) {
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	s.config.Game.Kick(entity.ConnectionID(req.ClientID), req.Reason)
	s.logger.Info("👢 %s отключает клиента %d: %s", adminName(c), req.ClientID, req.Reason)
	respondData(c, http.StatusAccepted, "Клиент будет отключён на следующем тике", gin.H{
		"client_id": req.ClientID,
	})
}

// AnnounceRequest объявление администратора в чат всех миров
type AnnounceRequest struct {
	Text    string `json:"text" binding:"required"`
	Channel string `json:"channel"`
}

func (s *Server) handleAnnounce(c *gin.Context) {
	var req AnnounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if err := s.announce(c, req.Text, req.Channel, adminName(c)); err != nil {
		return
	}
	respondData(c, http.StatusAccepted, "Объявление отправлено", nil)
}

// announce публикует реплику чата от имени админ-API; ответ об ошибке уже записан
func (s *Server) announce(c *gin.Context, text, channel, from string) error {
	if s.config.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "Шина событий не настроена")
		return errors.New("нет шины")
	}
	if from == "" {
		from = "server"
	}
	ev, err := eventbus.NewEnvelope(s.config.ServerID+"-api", eventbus.EventChatMessage, eventbus.ChatMessage{
		World:    eventbus.AllWorlds,
		FromNick: from,
		Channel:  channel,
		Text:     text,
	})
	if err == nil {
		err = s.config.Bus.Publish(c.Request.Context(), ev)
	}
	if err != nil {
		s.logger.Error("❌ Объявление не опубликовано: %v", err)
		respondError(c, http.StatusInternalServerError, "Ошибка публикации события")
		return err
	}
	return nil
}
