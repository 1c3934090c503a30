package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"permission-service/internal/identity"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

const userIDLocal = "userId"

// Auth resolves the authenticated caller. Requests arriving through the
// gateway carry X-User-ID; direct calls may present an HS256 bearer token
// minted by the auth service, whose subject is the user id.
type Auth struct {
	jwtSecret string
	identity  identity.Provider
}

func NewAuth(jwtSecret string, identityProvider identity.Provider) *Auth {
	return &Auth{
		jwtSecret: jwtSecret,
		identity:  identityProvider,
	}
}

func (m *Auth) RequireUser(c fiber.Ctx) error {
	if userID := c.Get("X-User-ID"); userID != "" {
		c.Locals(userIDLocal, userID)
		return c.Next()
	}

	authHeader := c.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") && m.jwtSecret != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			return []byte(m.jwtSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err == nil && token.Valid && claims.Subject != "" {
			c.Locals(userIDLocal, claims.Subject)
			return c.Next()
		}
		log.Printf("Rejected bearer token: %v", err)
	}

	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Authentication required",
	})
}

// RequireAdmin gates the administrative surface (audit, cache invalidation,
// matrix). Must run after RequireUser.
func (m *Auth) RequireAdmin(c fiber.Ctx) error {
	userID := UserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	admin, err := m.identity.IsAdministrator(ctx, userID)
	if err != nil {
		log.Printf("Failed to check administrator status for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify permissions",
		})
	}
	if !admin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Administrator access required",
		})
	}
	return c.Next()
}

// UserID returns the authenticated caller id set by RequireUser.
func UserID(c fiber.Ctx) string {
	if userID, ok := c.Locals(userIDLocal).(string); ok {
		return userID
	}
	return ""
}
