package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const clientIDLocal = "clientID"

// UnknownClient is the shared bucket for requests with no usable address.
const UnknownClient = "unknown"

// ResolveClientID derives the caller identity used for quota accounting:
// first hop of X-Forwarded-For, then X-Real-IP, then the transport peer.
func ResolveClientID(forwardedFor, realIP, peer string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	if peer = strings.TrimSpace(peer); peer != "" {
		return peer
	}
	return UnknownClient
}

// ClientIdentity stores the resolved client ID in locals and in the user context.
func ClientIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ResolveClientID(
			c.Get(fiber.HeaderXForwardedFor),
			c.Get("X-Real-IP"),
			c.IP(),
		)
		c.Locals(clientIDLocal, id)
		c.SetUserContext(context.WithValue(c.UserContext(), ClientIDKey, id))
		return c.Next()
	}
}

// ClientID returns the identity resolved by ClientIdentity, resolving it on
// the fly when the middleware did not run.
func ClientID(c *fiber.Ctx) string {
	if id, ok := c.Locals(clientIDLocal).(string); ok && id != "" {
		return id
	}
	return ResolveClientID(c.Get(fiber.HeaderXForwardedFor), c.Get("X-Real-IP"), c.IP())
}
