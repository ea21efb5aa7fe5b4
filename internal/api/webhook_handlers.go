package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CreateWebhookRequest запрос на создание исходящего webhook
type CreateWebhookRequest struct {
	Name       string   `json:"name" binding:"required"`
	URL        string   `json:"url" binding:"required"`
	Secret     string   `json:"secret"`
	Events     []string `json:"events" binding:"required,min=1"`
	Timeout    int      `json:"timeout"`
	RetryCount int      `json:"retry_count"`
}

func validWebhookURL(text string) bool {
	u, err := url.Parse(text)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Server) handleListWebhooks(c *gin.Context) {
	respondData(c, http.StatusOK, "Webhook'и", s.webhooks.List())
}

func (s *Server) handleCreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if !validWebhookURL(req.URL) {
		respondError(c, http.StatusBadRequest, "Неверный URL webhook")
		return
	}
	created := s.webhooks.Add(OutboundWebhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		Events:     req.Events,
		Timeout:    req.Timeout,
		RetryCount: req.RetryCount,
	})
	s.logger.Info("🔗 %s создал webhook %s -> %s", adminName(c), created.Name, created.URL)
	respondData(c, http.StatusCreated, "Webhook создан", created)
}

func (s *Server) handleWebhookEventTypes(c *gin.Context) {
	respondData(c, http.StatusOK, "Типы событий", s.webhooks.EventTypes())
}

func webhookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный ID webhook")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	w, found := s.webhooks.Get(id)
	if !found {
		respondError(c, http.StatusNotFound, "Webhook не найден")
		return
	}
	respondData(c, http.StatusOK, "Webhook найден", w)
}

func (s *Server) handleUpdateWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	var req WebhookUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if req.URL != nil && *req.URL != "" && !validWebhookURL(*req.URL) {
		respondError(c, http.StatusBadRequest, "Неверный URL webhook")
		return
	}
	w, found := s.webhooks.Update(id, req)
	if !found {
		respondError(c, http.StatusNotFound, "Webhook не найден")
		return
	}
	respondData(c, http.StatusOK, "Webhook обновлён", w)
}

func (s *Server) handleDeleteWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	if !s.webhooks.Delete(id) {
		respondError(c, http.StatusNotFound, "Webhook не найден")
		return
	}
	s.logger.Info("🗑️ %s удалил webhook %d", adminName(c), id)
	respondData(c, http.StatusOK, "Webhook удалён", nil)
}

// InboundWebhook входящее событие от внешнего сервиса
type InboundWebhook struct {
	EventType string          `json:"event_type" binding:"required"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

type announceData struct {
	Text    string `json:"text"`
	Channel string `json:"channel"`
	From    string `json:"from"`
}

// handleInboundWebhook принимает подписанные события; поддерживается "announce"
func (s *Server) handleInboundWebhook(c *gin.Context) {
	if s.config.WebhookSecret == "" {
		respondError(c, http.StatusNotFound, "Приём webhook'ов отключён")
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}
	if !VerifySignature(body, c.GetHeader(SignatureHeader), s.config.WebhookSecret) {
		s.logger.Warn("⚠️ Webhook с неверной подписью от %s", c.ClientIP())
		respondError(c, http.StatusUnauthorized, "Неверная подпись")
		return
	}

	var event InboundWebhook
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		respondError(c, http.StatusBadRequest, "Неверный формат события")
		return
	}

	switch event.EventType {
	case "announce":
		var data announceData
		if err := json.Unmarshal(event.Data, &data); err != nil || data.Text == "" {
			respondError(c, http.StatusBadRequest, "announce требует data.text")
			return
		}
		from := data.From
		if from == "" {
			from = event.Source
		}
		if err := s.announce(c, data.Text, data.Channel, from); err != nil {
			return
		}
		respondData(c, http.StatusAccepted, "Событие принято", nil)
	default:
		respondError(c, http.StatusBadRequest, "Неизвестный тип события: "+event.EventType)
	}
}
