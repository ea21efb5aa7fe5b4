package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

// PacketEncodeRequest JSON-конверты пакетов для сборки в бинарный буфер
type PacketEncodeRequest struct {
	Packets  json.RawMessage `json:"packets" binding:"required"`
	Version  uint32          `json:"version"`
	Compress bool            `json:"compress"`
	Format   string          `json:"format"` // base64 | hex
}

// PacketDecodeRequest бинарный буфер кадров в текстовой форме
type PacketDecodeRequest struct {
	Data    string `json:"data" binding:"required"`
	Version uint32 `json:"version"`
	Format  string `json:"format"`
}

func rulesFor(version uint32) (netelement.CompatibilityRules, error) {
	if version == 0 {
		return netelement.CurrentRules, nil
	}
	return protocol.RulesForVersion(version)
}

func (s *Server) codec(compress bool) *protocol.Codec {
	if compress {
		return s.packCodec
	}
	return s.plainCodec
}

func (s *Server) handlePacketEncode(c *gin.Context) {
	var req PacketEncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	rules, err := rulesFor(req.Version)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	data, count, err := s.codec(req.Compress).EncodeJSON(req.Packets, rules)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "Ошибка сборки пакетов: "+err.Error())
		return
	}
	text, err := protocol.FormatBytes(data, req.Format)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	respondData(c, http.StatusOK, "Пакеты собраны", gin.H{
		"data":    text,
		"size":    len(data),
		"count":   count,
		"version": rules.Version,
	})
}

func (s *Server) handlePacketDecode(c *gin.Context) {
	var req PacketDecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	rules, err := rulesFor(req.Version)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	data, err := protocol.ParseBytes(req.Data, req.Format)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные данные: "+err.Error())
		return
	}
	// входящие сжатые кадры читает любой кодек
	packets, err := s.plainCodec.DecodeJSON(data, rules)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "Ошибка разбора пакетов: "+err.Error())
		return
	}
	respondData(c, http.StatusOK, "Пакеты разобраны", gin.H{
		"packets": packets,
		"count":   len(packets),
		"version": rules.Version,
	})
}
