package middleware

import (
	"net/http"
	"strings"

	httpdto "github.com/vibast-solutions/ms-go-greeting/app/dto"
	"github.com/vibast-solutions/ms-go-greeting/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type sessionTokenValidator interface {
	ValidateSessionToken(tokenString string) (*service.SessionClaims, error)
}

type AuthMiddleware struct {
	authService sessionTokenValidator
	logger      logrus.FieldLogger
}

func NewAuthMiddleware(authService sessionTokenValidator, logger logrus.FieldLogger) *AuthMiddleware {
	return &AuthMiddleware{authService: authService, logger: logger}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			m.logger.Debug("Missing authorization header")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "missing authorization header"})
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			m.logger.Debug("Invalid authorization header format")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid authorization header format"})
		}

		claims, err := m.authService.ValidateSessionToken(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Invalid or expired session token")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid or expired token"})
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)

		return next(c)
	}
}
