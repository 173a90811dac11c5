package router

import (
	"github.com/FormLoom/FormLoom/app/controllers"
	"github.com/FormLoom/FormLoom/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	v1.Get("/account", controllers.HandleGetAccount)
	v1.Post("/account/api-key", controllers.HandleRotateAPIKey)

	v1.Get("/billing/usage", controllers.HandleGetUsage)
	v1.Get("/billing/plan-change/impact", controllers.HandlePlanChangeImpact)
	v1.Post("/billing/plan-change/selection", controllers.HandlePlanChangeSelection)

	v1.Post("/forms", controllers.HandleCreateForm)
	v1.Get("/forms", controllers.HandleListForms)
	v1.Get("/forms/:uuid", controllers.HandleGetForm)
	v1.Post("/forms/:uuid/activate", controllers.HandleActivateForm)
	v1.Post("/forms/:uuid/deactivate", controllers.HandleDeactivateForm)
	v1.Get("/forms/:uuid/submissions", controllers.HandleListSubmissions)

	v1.Post("/admin/subscriptions", controllers.HandleAdminAssignPlan)
	v1.Delete("/admin/subscriptions/:user_id", controllers.HandleAdminRevokePlan)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
