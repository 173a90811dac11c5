package controllers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/metering"
	"github.com/FormLoom/FormLoom/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// HandleSubmitForm is POST /s/:uuid, the public submission endpoint.
// Submitters are anonymous; every quota decision runs against the form
// owner's plan. Locked and inactive forms refuse submissions outright.
func HandleSubmitForm(c *fiber.Ctx) error {
	form, err := repository.GetGlobalFactory().GetFormRepository().GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Form not found"})
		}
		log.Errorf("submissions: form lookup %s: %v", c.Params("uuid"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load form"})
	}
	if !form.IsActive || form.IsLocked() {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "form_closed", "message": "This form is not accepting submissions"})
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(c.Body(), &payload); err != nil || len(payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Submission body must be a non-empty JSON object"})
	}

	decision, err := buildQuotaGate().CanAcceptSubmission(c.Context(), form.UserID)
	if err != nil {
		log.Errorf("submissions: quota check for owner %d: %v", form.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Quota check failed"})
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":   "quota_exceeded",
			"message": "This form has reached its monthly submission limit",
		})
	}

	raw, _ := json.Marshal(payload)
	submission := &models.Submission{
		FormID:      form.ID,
		PayloadJSON: string(raw),
		SubmitterIP: GetClientIP(c),
	}
	if err := repository.GetGlobalFactory().GetSubmissionRepository().Create(submission); err != nil {
		log.Errorf("submissions: create for form %d: %v", form.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store submission"})
	}

	ingestor := BuildIngestor()
	go func(ownerID uint) {
		if err := ingestor.Record(context.Background(), ownerID, metering.EventSubmissionReceived, models.MeterTypeSubmissions, 1); err != nil {
			log.Warnf("submissions: meter record for owner %d failed: %v", ownerID, err)
		}
	}(form.UserID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "received", "id": submission.ID})
}

// HandleListSubmissions is GET /api/v1/forms/:uuid/submissions, owner-only.
func HandleListSubmissions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	form, err := repository.GetGlobalFactory().GetFormRepository().GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Form not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load form"})
	}
	if form.UserID != userCtx.UserID && !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not your form"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	submissions, err := repository.GetGlobalFactory().GetSubmissionRepository().ListByForm(form.ID, offset, limit)
	if err != nil {
		log.Errorf("submissions: list for form %d: %v", form.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load submissions"})
	}
	return c.JSON(fiber.Map{"submissions": submissions, "offset": offset, "limit": limit})
}
