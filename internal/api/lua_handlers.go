package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/tileverse/internal/config"
)

// LuaRuntimeRequest изменение параметров скриптового движка; пустые поля не трогаются
type LuaRuntimeRequest struct {
	InstructionLimit     *int     `json:"instructionLimit"`
	MeasureInterval      *int     `json:"measureInterval"`
	RecursionLimit       *int     `json:"recursionLimit"`
	Profiling            *bool    `json:"profiling"`
	AutoGCPause          *float64 `json:"autoGcPause"`
	AutoGCStepMultiplier *float64 `json:"autoGcStepMultiplier"`
}

func (s *Server) handleGetLuaRuntime(c *gin.Context) {
	if s.config.LuaRuntime == nil {
		respondError(c, http.StatusServiceUnavailable, "Параметры движка не настроены")
		return
	}
	respondData(c, http.StatusOK, "", s.config.LuaRuntime.Values())
}

// handleUpdateLuaRuntime применяет поля запроса через сеттеры и сохраняет файл.
// Если хоть одно значение вне границ, прежние параметры восстанавливаются.
func (s *Server) handleUpdateLuaRuntime(c *gin.Context) {
	rc := s.config.LuaRuntime
	if rc == nil {
		respondError(c, http.StatusServiceUnavailable, "Параметры движка не настроены")
		return
	}
	var req LuaRuntimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	previous := rc.Values()
	if err := applyLuaRuntime(rc, req); err != nil {
		if rerr := rc.Restore(previous); rerr != nil {
			s.logger.Error("❌ Не удалось вернуть параметры движка: %v", rerr)
		}
		if errors.Is(err, config.ErrOutOfRange) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("❌ Параметры движка: %v", err)
		respondError(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	if err := rc.Save(); err != nil {
		s.logger.Error("❌ %v", err)
		respondError(c, http.StatusInternalServerError, "Параметры применены, но не сохранены")
		return
	}

	s.logger.Info("🔧 %s изменил параметры движка: %+v", adminName(c), rc.Values())
	respondData(c, http.StatusOK, "Параметры движка обновлены", rc.Values())
}

func applyLuaRuntime(rc *config.RuntimeConfig, req LuaRuntimeRequest) error {
	if req.InstructionLimit != nil {
		if err := rc.SetInstructionLimit(*req.InstructionLimit); err != nil {
			return err
		}
	}
	if req.MeasureInterval != nil {
		if err := rc.SetMeasureInterval(*req.MeasureInterval); err != nil {
			return err
		}
	}
	if req.RecursionLimit != nil {
		if err := rc.SetRecursionLimit(*req.RecursionLimit); err != nil {
			return err
		}
	}
	if req.Profiling != nil {
		if err := rc.SetProfiling(*req.Profiling); err != nil {
			return err
		}
	}
	if req.AutoGCPause != nil {
		if err := rc.SetAutoGCPause(*req.AutoGCPause); err != nil {
			return err
		}
	}
	if req.AutoGCStepMultiplier != nil {
		if err := rc.SetAutoGCStepMultiplier(*req.AutoGCStepMultiplier); err != nil {
			return err
		}
	}
	return nil
}
