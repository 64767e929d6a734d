package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/recapbook/api/internal/auth"
	"github.com/recapbook/api/pkg/response"
)

// Principal resolves the optional owner of a request. Requests without
// credentials continue anonymously; a credential that fails verification
// is rejected.
func Principal(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Next()
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}
		if verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		p, err := verifier.Verify(parts[1])
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setPrincipal(c, p)
		return c.Next()
	}
}

// GatewayPrincipal reads the identity forwarded by the gateway in X-User-*
// headers. Missing headers mean an anonymous request.
func GatewayPrincipal() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID := c.Get("X-User-Id"); userID != "" {
			setPrincipal(c, &auth.Principal{
				ID:    userID,
				Email: c.Get("X-User-Email"),
				Name:  c.Get("X-User-Name"),
			})
		}
		return c.Next()
	}
}

func setPrincipal(c *fiber.Ctx, p *auth.Principal) {
	c.Locals("userId", p.ID)
	c.Locals("email", p.Email)
	c.Locals("name", p.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
