package router

import (
	"fmt"
	"time"

	"github.com/FormLoom/FormLoom/app/controllers"
	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

type HttpRouter struct {
}

// InstallRouter registers the unauthenticated surface: provider webhooks
// and the public submission endpoint. Webhooks authenticate by signature,
// submissions are anonymous by design and rate limited per client IP.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/billing/:provider", controllers.HandleBillingWebhook)

	app.Post("/register", controllers.HandleRegister)
	app.Get("/activate/:token", controllers.HandleActivate)

	app.Post("/s/:uuid", submissionLimiter(), controllers.HandleSubmitForm)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

// submissionLimiter caps anonymous submissions per IP. The counter lives in
// redis so the limit holds across instances.
func submissionLimiter() fiber.Handler {
	store := redis.New(redis.Config{
		Host: env.GetEnv("CACHE_HOST", "localhost"),
		Port: envInt("CACHE_PORT", 6379),
	})
	return limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprintf("submit:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many submissions, slow down",
			})
		},
	})
}

func envInt(key string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(env.GetEnv(key, ""), "%d", &v); err != nil || v <= 0 {
		return fallback
	}
	return v
}
