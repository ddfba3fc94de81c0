package mockserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Logging create a logging middleware with zap logger
func Logging(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			logger := base.With(
				zap.String("trace.id", rid),
				zap.String("url.path", c.Request().RequestURI),
				zap.String("client.address", c.Request().RemoteAddr),
				zap.String("http.request.method", c.Request().Method),
			)
			err := next(c)
			code := c.Response().Status
			logger.Debug(http.StatusText(code), zap.Int("http.response.status_code", code))
			return err
		}
	}
}

// verifyToken reject calls without a live security token. An expired token is
// answered with the dedicated token_expired code so clients can run their
// refresh-and-retry protocol.
func (s *Server) verifyToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenStr := c.Request().Header.Get(s.tokenHeader)
		if tokenStr == "" {
			return c.JSON(http.StatusForbidden, map[string]string{
				"code":    "token_invalid",
				"message": "security token missing",
			})
		}
		claims, err := s.issuer.Validate(tokenStr)
		if err == ErrTokenExpired {
			return c.JSON(http.StatusForbidden, map[string]string{
				"code":    "token_expired",
				"message": "security token expired",
			})
		}
		if err != nil {
			return c.JSON(http.StatusForbidden, map[string]string{
				"code":    "token_invalid",
				"message": "security token invalid",
			})
		}
		c.Set(contextUserKey, claims.UID)
		return next(c)
	}
}
