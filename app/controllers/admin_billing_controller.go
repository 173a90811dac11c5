package controllers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/internal/pkg/billing"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/FormLoom/FormLoom/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

type manualPlanRequest struct {
	UserID uint       `json:"user_id"`
	Plan   string     `json:"plan"`
	Period string     `json:"period"`
	Reason string     `json:"reason"`
	EndsAt *time.Time `json:"ends_at"`
}

// HandleAdminAssignPlan is POST /api/v1/admin/subscriptions. Manual grants
// run through the same pipeline as provider webhooks, as the third member
// of the event union, so every transition rule applies identically.
func HandleAdminAssignPlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn || !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}

	var req manualPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if req.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "user_id is required"})
	}
	if entitlements.NormalizePlan(req.Plan) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown plan"})
	}

	return runManualEvent(c, "manual.plan_assigned", req)
}

// HandleAdminRevokePlan is DELETE /api/v1/admin/subscriptions/:user_id.
func HandleAdminRevokePlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn || !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}

	userID, err := c.ParamsInt("user_id")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	return runManualEvent(c, "manual.plan_revoked", manualPlanRequest{
		UserID: uint(userID),
		Reason: c.Query("reason", "revoked by admin"),
	})
}

func runManualEvent(c *fiber.Ctx, eventType string, req manualPlanRequest) error {
	now := time.Now()
	data, err := json.Marshal(fiber.Map{
		"user_id":   req.UserID,
		"plan":      req.Plan,
		"period":    req.Period,
		"reason":    req.Reason,
		"starts_at": now,
		"ends_at":   req.EndsAt,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to encode event"})
	}
	body, err := json.Marshal(billing.Envelope{Type: eventType, Data: data})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to encode event"})
	}

	// Each admin action is a distinct delivery; the pipeline's ledger still
	// protects against accidental double-submits of the same generated id.
	webhookID := fmt.Sprintf("manual-%s", uuid.NewString())
	result, err := BuildBillingService().ProcessWebhook(c.Context(), models.SubscriptionProviderManual, webhookID, body)
	if err != nil {
		log.Errorf("admin billing: %s for user %d: %v", eventType, req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan change failed"})
	}
	return c.JSON(fiber.Map{"status": "applied", "kind": result.Kind})
}
