package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/tileverse/internal/auth"
)

const claimsKey = "claims"

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Message   string `json:"message"`
	UserID    uint64 `json:"user_id,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Неверный формат запроса"})
		return
	}

	user, err := auth.ValidateCredentials(s.config.Users, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Неверное имя пользователя или пароль"})
		return
	}
	if err != nil {
		s.logger.Error("❌ Ошибка проверки учётных данных %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Внутренняя ошибка сервера"})
		return
	}

	token, expiresAt, err := s.config.Tokens.Generate(user)
	if err != nil {
		s.logger.Error("❌ Ошибка генерации токена: %v", err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Ошибка генерации токена"})
		return
	}

	s.logger.Info("✅ Вход в админ-API: %s", user.Username)
	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Message:   "Успешная авторизация",
		UserID:    user.ID,
		IsAdmin:   user.IsAdmin,
	})
}

// handleAdminRegister регистрация нового пользователя (только для админов)
func (s *Server) handleAdminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 30 {
		respondError(c, http.StatusBadRequest, "Имя пользователя должно быть от 3 до 30 символов")
		return
	}
	if len(req.Password) < 6 {
		respondError(c, http.StatusBadRequest, "Пароль должен быть минимум 6 символов")
		return
	}

	user, err := auth.Register(s.config.Users, req.Username, req.Password, req.IsAdmin)
	if errors.Is(err, auth.ErrUserExists) {
		respondError(c, http.StatusConflict, "Пользователь уже существует")
		return
	}
	if err != nil {
		s.logger.Error("❌ Ошибка создания пользователя %s: %v", req.Username, err)
		respondError(c, http.StatusInternalServerError, "Ошибка создания пользователя")
		return
	}

	respondData(c, http.StatusCreated, "Пользователь успешно создан", gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"is_admin": user.IsAdmin,
	})
}

// jwtMiddleware проверяет JWT токен в заголовке Authorization
func (s *Server) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(c, http.StatusUnauthorized, "Неверный формат токена")
			c.Abort()
			return
		}

		claims, err := s.config.Tokens.Validate(parts[1])
		if err != nil {
			respondError(c, http.StatusUnauthorized, "Недействительный токен")
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// adminMiddleware проверяет, что пользователь является администратором
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(claimsKey)
		claims, ok := value.(*auth.Claims)
		if !exists || !ok {
			respondError(c, http.StatusInternalServerError, "Отсутствует информация о пользователе")
			c.Abort()
			return
		}
		if !claims.IsAdmin() {
			respondError(c, http.StatusForbidden, "Недостаточно прав доступа")
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminName имя администратора из токена
func adminName(c *gin.Context) string {
	if value, ok := c.Get(claimsKey); ok {
		if claims, ok := value.(*auth.Claims); ok {
			return claims.Username
		}
	}
	return ""
}
