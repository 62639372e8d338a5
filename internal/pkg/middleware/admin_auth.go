package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth protects platform routes with HTTP basic auth against a bcrypt
// password hash. A platform API key (X-API-Key or Bearer) hashed with bcrypt
// is accepted as well. An empty hash rejects everyone.
func AdminAuth(user, passwordHash, apiKeyHash string) fiber.Handler {
	basic := basicauth.New(basicauth.Config{
		Realm: "Tenantly Platform",
		Authorizer: func(u, p string) bool {
			return u == user && checkHash(passwordHash, p)
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Tenantly Platform"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "platform credentials required",
			})
		},
	})

	return func(c *fiber.Ctx) error {
		if key := extractAPIKeyFromHeader(c); key != "" {
			if checkHash(apiKeyHash, key) {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid API key",
			})
		}
		return basic(c)
	}
}

func checkHash(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
