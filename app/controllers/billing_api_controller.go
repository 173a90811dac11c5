package controllers

import (
	"errors"

	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/cache"
	"github.com/FormLoom/FormLoom/internal/pkg/database"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/FormLoom/FormLoom/internal/pkg/metering"
	"github.com/FormLoom/FormLoom/internal/pkg/planchange"
	"github.com/FormLoom/FormLoom/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

func buildReconciler() *metering.Reconciler {
	db := database.GetDB()
	factory := repository.GetGlobalFactory()
	calc := entitlements.NewCachedCalculator(factory.GetSubscriptionRepository(), cache.Entitlements())
	return metering.NewReconciler(
		metering.NewClientFromEnv(),
		metering.NewStore(db),
		calc,
		factory.GetFormRepository(),
		factory.GetSubmissionRepository(),
	)
}

func buildPlanChangeEngine() *planchange.Engine {
	return planchange.NewEngine(repository.GetGlobalFactory().GetFormRepository())
}

func currentPlanFor(c *fiber.Ctx, userID uint) (string, error) {
	calc := entitlements.NewCachedCalculator(repository.GetGlobalFactory().GetSubscriptionRepository(), cache.Entitlements())
	ent, err := calc.Limits(c.Context(), userID)
	if err != nil {
		return "", err
	}
	return ent.PlanName, nil
}

// HandleGetUsage is GET /api/v1/billing/usage. Numbers come from the
// external meter when reachable and local counts otherwise; the source tag
// in the response says which.
func HandleGetUsage(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	usage, err := buildReconciler().Usage(c.Context(), userCtx.UserID)
	if err != nil {
		log.Errorf("billing api: usage for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}

	return c.JSON(fiber.Map{
		"plan": usage.PlanName,
		"forms": fiber.Map{
			"current":   usage.Forms.Current,
			"included":  usage.Forms.Included,
			"overage":   usage.Forms.Overage,
			"remaining": remaining(usage.Forms),
		},
		"submissions": fiber.Map{
			"current":   usage.Submissions.Current,
			"included":  usage.Submissions.Included,
			"overage":   usage.Submissions.Overage,
			"remaining": remaining(usage.Submissions),
		},
		"source":     usage.Source,
		"reset_date": usage.ResetDate,
	})
}

func remaining(m metering.Meter) int64 {
	r := m.Included - m.Current
	if r < 0 {
		return 0
	}
	return r
}

// HandlePlanChangeImpact is GET /api/v1/billing/plan-change/impact?plan=.
// A dry run of the protection engine: reports what a switch to the target
// plan would lock or unlock, without touching anything.
func HandlePlanChangeImpact(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	targetPlan := entitlements.NormalizePlan(c.Query("plan"))
	if targetPlan == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown target plan"})
	}

	currentPlan, err := currentPlanFor(c, userCtx.UserID)
	if err != nil {
		log.Errorf("billing api: current plan for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load current plan"})
	}

	result, err := buildPlanChangeEngine().Apply(c.Context(), userCtx.UserID, currentPlan, targetPlan, false)
	if err != nil {
		log.Errorf("billing api: plan change impact for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to evaluate plan change"})
	}
	return c.JSON(result)
}

type planChangeSelectionRequest struct {
	Plan    string `json:"plan"`
	FormIDs []uint `json:"form_ids"`
}

// HandlePlanChangeSelection is POST /api/v1/billing/plan-change/selection.
// Commits the user's choice of which forms stay active under the new limit.
// Reapplying the same selection is a no-op.
func HandlePlanChangeSelection(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req planChangeSelectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	plan := entitlements.NormalizePlan(req.Plan)
	if plan == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown plan"})
	}

	result, err := buildPlanChangeEngine().ApplySelection(c.Context(), userCtx.UserID, req.FormIDs, plan)
	if err != nil {
		switch {
		case errors.Is(err, planchange.ErrSelectionExceedsLimit):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		case errors.Is(err, planchange.ErrFormNotOwned):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": err.Error()})
		default:
			log.Errorf("billing api: selection for user %d: %v", userCtx.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to apply selection"})
		}
	}
	return c.JSON(result)
}
