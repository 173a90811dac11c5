package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP determines the actual client IP address considering proxies.
// Prefers the Cloudflare header, then the first X-Forwarded-For hop, then
// the transport address.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return c.IP()
}
