package middleware

import (
	"strings"

	"github.com/davood-kh/ExpertConnectBack/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// AuthRequired validates the bearer token minted by the identity
// provider and stashes the participant identity + role for handlers.
// Connections without a valid identity never reach the chat core.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := utils.ValidateToken(parts[1], secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		if claims.Role != "user" && claims.Role != "expert" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Unknown role",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}
