// Package usercontext carries the authenticated caller through a fiber
// request. The API-key middleware builds the value once per request and
// stashes it in Locals; controllers read it back instead of re-resolving
// the key.
package usercontext

import "github.com/gofiber/fiber/v2"

// ContextKey is the Locals slot the middleware writes and controllers read.
const ContextKey = "USER_CONTEXT"

// UserContext is the per-request identity snapshot. Plan mirrors the
// user's settings row at authentication time; entitlement checks that
// must be current go through the calculator, not this field.
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	Plan       string `json:"plan"`
}

// GetUserContext returns the caller stored by the auth middleware. On
// routes without the middleware the zero value comes back, with
// IsLoggedIn false.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(ContextKey).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}
