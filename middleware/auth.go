// middleware/auth.go
package middleware

import (
	"strings"

	"match-sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	UserIDHeader = "X-User-ID"
	localUserID  = "user_id"
)

// UserContextMiddleware resolves the caller identity and stores it under
// "user_id". Gateway-forwarded requests carry it in X-User-ID; everyone else
// must send "Authorization: Bearer <jwt>".
func UserContextMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if gatewayTrusted(c) {
			if userID := strings.TrimSpace(c.Get(UserIDHeader)); userID != "" {
				c.Locals(localUserID, userID)
				return c.Next()
			}
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}

		userID, err := utils.ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			utils.Log.Debug("[USER_CTX] token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}

// UserID returns the identity resolved by UserContextMiddleware or SSEAuthMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
